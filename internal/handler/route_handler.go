package handler

import (
	"net/http"

	"snapclaim/internal/middleware"
	"snapclaim/internal/service"
	"snapclaim/pkg/pagination"
	"snapclaim/pkg/response"

	"github.com/gin-gonic/gin"
)

type RouteHandler struct {
	routeService service.RouteService
	auth         *middleware.Authenticator
}

func NewRouteHandler(routeService service.RouteService, auth *middleware.Authenticator) *RouteHandler {
	return &RouteHandler{routeService: routeService, auth: auth}
}

func (h *RouteHandler) RegisterRoutes(router *gin.RouterGroup) {
	routes := router.Group("/api/routes")
	{
		routes.GET("", h.auth.RequirePermission(service.PermRoutesRead), h.ListRoutes)
		routes.GET("/eligible-invoices", h.auth.RequirePermission(service.PermRoutesWrite), h.EligibleInvoices)
		routes.GET("/:id", h.auth.RequirePermission(service.PermRoutesRead), h.GetRoute)
		routes.POST("", h.auth.RequirePermission(service.PermRoutesWrite), h.CreateRoute)
		routes.PUT("/:id", h.auth.RequirePermission(service.PermRoutesWrite), h.UpdateRoute)
		routes.DELETE("/:id", h.auth.RequirePermission(service.PermRoutesWrite), h.DeleteRoute)
		routes.PUT("/:id/status", h.auth.RequirePermission(service.PermRoutesStatus), h.ChangeStatus)
	}
}

// EligibleInvoices lists the invoices a route for the date may carry
// @Summary      Eligible invoices
// @Description  Invoices dated on the given day that are not terminal and not claimed by another route. Pass route_id when editing.
// @Tags         routes
// @Security     BearerAuth
// @Produce      json
// @Param        date      query     string  true   "Calendar date YYYY-MM-DD"
// @Param        route_id  query     string  false  "Route being edited"
// @Success      200       {object}  response.Response{data=[]service.InvoiceResponse}
// @Failure      400       {object}  response.Response
// @Router       /api/routes/eligible-invoices [get]
func (h *RouteHandler) EligibleInvoices(c *gin.Context) {
	invoices, err := h.routeService.EligibleInvoices(c.Request.Context(), c.Query("date"), c.Query("route_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, invoices))
}

// ListRoutes lists routes. Delivery agents only receive routes they drive.
// @Summary      List routes
// @Tags         routes
// @Security     BearerAuth
// @Produce      json
// @Param        date       query     string  false  "Calendar date YYYY-MM-DD"
// @Param        driver_id  query     string  false  "Driver"
// @Param        status     query     string  false  "Route status"
// @Param        page       query     int     false  "Page number (default 1)"
// @Param        limit      query     int     false  "Items per page (default 20)"
// @Success      200        {object}  response.Response{data=[]service.RouteResponse}
// @Router       /api/routes [get]
func (h *RouteHandler) ListRoutes(c *gin.Context) {
	me, ok := actor(c)
	if !ok {
		return
	}
	p, err := pagination.Parse(c)
	if err != nil {
		respondError(c, err)
		return
	}
	routes, total, err := h.routeService.ListRoutes(c.Request.Context(), me, service.RouteFilter{
		Date:     c.Query("date"),
		DriverID: c.Query("driver_id"),
		Status:   c.Query("status"),
		Page:     p.Page,
		Limit:    p.Limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, routes, p.Page, p.Limit, total))
}

// GetRoute returns a route with its invoices
// @Summary      Get route
// @Tags         routes
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Route ID"
// @Success      200  {object}  response.Response{data=service.RouteResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/routes/{id} [get]
func (h *RouteHandler) GetRoute(c *gin.Context) {
	me, ok := actor(c)
	if !ok {
		return
	}
	route, err := h.routeService.GetRoute(c.Request.Context(), me, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, route))
}

// CreateRoute plans a route from a selection of invoices
// @Summary      Create route
// @Description  Ineligible invoices are left out and listed in rejections. When none is accepted nothing is saved and the answer is 400.
// @Tags         routes
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.SaveRouteRequest  true  "Route draft"
// @Success      201      {object}  response.Response{data=service.SaveRouteResult}
// @Failure      400      {object}  response.Response
// @Router       /api/routes [post]
func (h *RouteHandler) CreateRoute(c *gin.Context) {
	h.save(c, "", http.StatusCreated)
}

// UpdateRoute replaces a planned route's invoice selection
// @Summary      Update route
// @Tags         routes
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                    true  "Route ID"
// @Param        payload  body      service.SaveRouteRequest  true  "Route draft"
// @Success      200      {object}  response.Response{data=service.SaveRouteResult}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/routes/{id} [put]
func (h *RouteHandler) UpdateRoute(c *gin.Context) {
	h.save(c, c.Param("id"), http.StatusOK)
}

func (h *RouteHandler) save(c *gin.Context, routeID string, status int) {
	me, ok := actor(c)
	if !ok {
		return
	}
	var req service.SaveRouteRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.routeService.SaveRoute(c.Request.Context(), me, routeID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, response.Success(status, result))
}

// ChangeStatus starts or completes a route
// @Summary      Change route status
// @Tags         routes
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                            true  "Route ID"
// @Param        payload  body      service.ChangeRouteStatusRequest  true  "Target status"
// @Success      200      {object}  response.Response{data=service.RouteResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Router       /api/routes/{id}/status [put]
func (h *RouteHandler) ChangeStatus(c *gin.Context) {
	me, ok := actor(c)
	if !ok {
		return
	}
	var req service.ChangeRouteStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	route, err := h.routeService.ChangeStatus(c.Request.Context(), me, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, route))
}

// DeleteRoute removes a planned route and releases its invoices
// @Summary      Delete route
// @Tags         routes
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Route ID"
// @Success      200  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/routes/{id} [delete]
func (h *RouteHandler) DeleteRoute(c *gin.Context) {
	me, ok := actor(c)
	if !ok {
		return
	}
	if err := h.routeService.DeleteRoute(c.Request.Context(), me, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Route deleted successfully"}))
}
