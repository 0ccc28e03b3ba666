package handler

import (
	"net/http"

	"snapclaim/internal/middleware"
	"snapclaim/internal/service"
	"snapclaim/pkg/pagination"
	"snapclaim/pkg/response"

	"github.com/gin-gonic/gin"
)

type ClientHandler struct {
	clientService service.ClientService
	auth          *middleware.Authenticator
}

func NewClientHandler(clientService service.ClientService, auth *middleware.Authenticator) *ClientHandler {
	return &ClientHandler{clientService: clientService, auth: auth}
}

func (h *ClientHandler) RegisterRoutes(router *gin.RouterGroup) {
	clients := router.Group("/api/clients")
	{
		clients.GET("", h.auth.RequirePermission(service.PermClientsRead), h.ListClients)
		clients.GET("/:id", h.auth.RequirePermission(service.PermClientsRead), h.GetClient)
		clients.POST("", h.auth.RequirePermission(service.PermClientsWrite), h.CreateClient)
		clients.PUT("/:id", h.auth.RequirePermission(service.PermClientsWrite), h.UpdateClient)
		clients.DELETE("/:id", h.auth.RequirePermission(service.PermClientsWrite), h.DeleteClient)
	}
}

// ListClients godoc
// @Summary      List clients
// @Tags         clients
// @Produce      json
// @Security     BearerAuth
// @Param        search  query     string  false  "Name contains"
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Items per page (default 20)"
// @Success      200     {object}  response.Response{data=[]service.ClientResponse}
// @Router       /api/clients [get]
func (h *ClientHandler) ListClients(c *gin.Context) {
	p, err := pagination.Parse(c)
	if err != nil {
		respondError(c, err)
		return
	}
	clients, total, err := h.clientService.ListClients(c.Request.Context(), c.Query("search"), p.Page, p.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, clients, p.Page, p.Limit, total))
}

// GetClient godoc
// @Summary      Get client with branches
// @Tags         clients
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Client ID"
// @Success      200  {object}  response.Response{data=service.ClientResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/clients/{id} [get]
func (h *ClientHandler) GetClient(c *gin.Context) {
	client, err := h.clientService.GetClient(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, client))
}

// CreateClient godoc
// @Summary      Create client
// @Tags         clients
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateClientRequest  true  "Client"
// @Success      201      {object}  response.Response{data=service.ClientResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/clients [post]
func (h *ClientHandler) CreateClient(c *gin.Context) {
	me, ok := actor(c)
	if !ok {
		return
	}
	var req service.CreateClientRequest
	if !bindJSON(c, &req) {
		return
	}
	client, err := h.clientService.CreateClient(c.Request.Context(), me, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, client))
}

// UpdateClient godoc
// @Summary      Update client
// @Description  Omitted fields are kept. A branches array replaces every branch; an empty array removes them all.
// @Tags         clients
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                       true  "Client ID"
// @Param        payload  body      service.UpdateClientRequest  true  "Changes"
// @Success      200      {object}  response.Response{data=service.ClientResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/clients/{id} [put]
func (h *ClientHandler) UpdateClient(c *gin.Context) {
	me, ok := actor(c)
	if !ok {
		return
	}
	var req service.UpdateClientRequest
	if !bindJSON(c, &req) {
		return
	}
	client, err := h.clientService.UpdateClient(c.Request.Context(), me, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, client))
}

// DeleteClient godoc
// @Summary      Delete client
// @Tags         clients
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Client ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/clients/{id} [delete]
func (h *ClientHandler) DeleteClient(c *gin.Context) {
	me, ok := actor(c)
	if !ok {
		return
	}
	if err := h.clientService.DeleteClient(c.Request.Context(), me, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Client deleted successfully"}))
}
