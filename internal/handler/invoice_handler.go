package handler

import (
	"fmt"
	"io"
	"net/http"

	"snapclaim/internal/apperror"
	"snapclaim/internal/middleware"
	"snapclaim/internal/service"
	"snapclaim/pkg/pagination"
	"snapclaim/pkg/response"

	"github.com/gin-gonic/gin"
)

// maxPhotoBytes caps uploaded invoice photos.
const maxPhotoBytes = 10 << 20

type InvoiceHandler struct {
	invoiceService      service.InvoiceService
	verificationService service.VerificationService
	auth                *middleware.Authenticator
}

func NewInvoiceHandler(invoiceService service.InvoiceService, verificationService service.VerificationService, auth *middleware.Authenticator) *InvoiceHandler {
	return &InvoiceHandler{
		invoiceService:      invoiceService,
		verificationService: verificationService,
		auth:                auth,
	}
}

func (h *InvoiceHandler) RegisterRoutes(router *gin.RouterGroup) {
	invoices := router.Group("/api/invoices")
	{
		invoices.GET("", h.auth.RequirePermission(service.PermInvoicesRead), h.ListInvoices)
		invoices.GET("/:id", h.auth.RequirePermission(service.PermInvoicesRead), h.GetInvoice)
		invoices.POST("", h.auth.RequirePermission(service.PermInvoicesWrite), h.CreateInvoice)
		invoices.PUT("/:id", h.auth.RequirePermission(service.PermInvoicesWrite), h.UpdateInvoice)
		invoices.DELETE("/:id", h.auth.RequirePermission(service.PermInvoicesWrite), h.DeleteInvoice)
		invoices.PUT("/:id/assignee", h.auth.RequirePermission(service.PermInvoicesWrite), h.AssignInvoice)
		invoices.PUT("/:id/status", h.auth.RequirePermission(service.PermInvoicesStatus), h.ChangeStatus)
		invoices.POST("/:id/verify", h.auth.RequirePermission(service.PermVerificationRun), h.VerifyPhoto)
		invoices.POST("/:id/reconcile", h.auth.RequirePermission(service.PermVerificationRun), h.Reconcile)
	}
}

// ListInvoices lists invoices. Delivery agents only receive invoices assigned to them.
// @Summary      List invoices
// @Tags         invoices
// @Security     BearerAuth
// @Produce      json
// @Param        status       query     string  false  "Invoice status"
// @Param        assignee_id  query     string  false  "Delivery agent"
// @Param        client_id    query     string  false  "Client"
// @Param        route_id     query     string  false  "Route"
// @Param        date         query     string  false  "Calendar date YYYY-MM-DD"
// @Param        unrouted     query     bool    false  "Only invoices on no route"
// @Param        search       query     string  false  "Code, number or supplier contains"
// @Param        page         query     int     false  "Page number (default 1)"
// @Param        limit        query     int     false  "Items per page (default 20)"
// @Success      200          {object}  response.Response{data=[]service.InvoiceResponse}
// @Failure      400          {object}  response.Response
// @Router       /api/invoices [get]
func (h *InvoiceHandler) ListInvoices(c *gin.Context) {
	me, ok := actor(c)
	if !ok {
		return
	}
	p, err := pagination.Parse(c)
	if err != nil {
		respondError(c, err)
		return
	}

	invoices, total, err := h.invoiceService.ListInvoices(c.Request.Context(), me, service.InvoiceFilter{
		Status:     c.Query("status"),
		AssigneeID: c.Query("assignee_id"),
		ClientID:   c.Query("client_id"),
		RouteID:    c.Query("route_id"),
		Date:       c.Query("date"),
		Unrouted:   c.Query("unrouted") == "true",
		Search:     c.Query("search"),
		Page:       p.Page,
		Limit:      p.Limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, invoices, p.Page, p.Limit, total))
}

// GetInvoice returns one invoice
// @Summary      Get invoice
// @Tags         invoices
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Invoice ID"
// @Success      200  {object}  response.Response{data=service.InvoiceResponse}
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/invoices/{id} [get]
func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	me, ok := actor(c)
	if !ok {
		return
	}
	invoice, err := h.invoiceService.GetInvoice(c.Request.Context(), me, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, invoice))
}

// CreateInvoice records a supplier invoice as pending
// @Summary      Create invoice
// @Tags         invoices
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateInvoiceRequest  true  "Create Invoice Payload"
// @Success      201      {object}  response.Response{data=service.InvoiceResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/invoices [post]
func (h *InvoiceHandler) CreateInvoice(c *gin.Context) {
	me, ok := actor(c)
	if !ok {
		return
	}
	var req service.CreateInvoiceRequest
	if !bindJSON(c, &req) {
		return
	}
	invoice, err := h.invoiceService.CreateInvoice(c.Request.Context(), me, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, invoice))
}

// UpdateInvoice edits an invoice's document fields
// @Summary      Update invoice
// @Tags         invoices
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                        true  "Invoice ID"
// @Param        payload  body      service.UpdateInvoiceRequest  true  "Changes"
// @Success      200      {object}  response.Response{data=service.InvoiceResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/invoices/{id} [put]
func (h *InvoiceHandler) UpdateInvoice(c *gin.Context) {
	me, ok := actor(c)
	if !ok {
		return
	}
	var req service.UpdateInvoiceRequest
	if !bindJSON(c, &req) {
		return
	}
	invoice, err := h.invoiceService.UpdateInvoice(c.Request.Context(), me, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, invoice))
}

// DeleteInvoice removes a pending or cancelled invoice
// @Summary      Delete invoice
// @Tags         invoices
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Invoice ID"
// @Success      200  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/invoices/{id} [delete]
func (h *InvoiceHandler) DeleteInvoice(c *gin.Context) {
	me, ok := actor(c)
	if !ok {
		return
	}
	if err := h.invoiceService.DeleteInvoice(c.Request.Context(), me, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Invoice deleted successfully"}))
}

// AssignInvoice sets or clears the responsible delivery agent
// @Summary      Assign invoice
// @Tags         invoices
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                        true  "Invoice ID"
// @Param        payload  body      service.AssignInvoiceRequest  true  "Assignee (null unassigns)"
// @Success      200      {object}  response.Response{data=service.InvoiceResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/invoices/{id}/assignee [put]
func (h *InvoiceHandler) AssignInvoice(c *gin.Context) {
	me, ok := actor(c)
	if !ok {
		return
	}
	var req service.AssignInvoiceRequest
	if !bindJSON(c, &req) {
		return
	}
	invoice, err := h.invoiceService.AssignInvoice(c.Request.Context(), me, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, invoice))
}

// ChangeStatus moves an invoice through its lifecycle
// @Summary      Change invoice status
// @Description  Cancelling requires a reason; a warehouse incidence requires a type and details.
// @Tags         invoices
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                              true  "Invoice ID"
// @Param        payload  body      service.ChangeInvoiceStatusRequest  true  "Target status"
// @Success      200      {object}  response.Response{data=service.InvoiceResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Router       /api/invoices/{id}/status [put]
func (h *InvoiceHandler) ChangeStatus(c *gin.Context) {
	me, ok := actor(c)
	if !ok {
		return
	}
	var req service.ChangeInvoiceStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	invoice, err := h.invoiceService.ChangeStatus(c.Request.Context(), me, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, invoice))
}

// VerifyPhoto reads a photographed invoice and reconciles it against the record
// @Summary      Verify invoice photo
// @Description  Upload a photo as multipart field "photo". Answers 503 when the photo cannot be read.
// @Tags         verification
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        id     path      string  true  "Invoice ID"
// @Param        photo  formData  file    true  "Invoice photo (jpeg, png, gif, webp)"
// @Success      200    {object}  response.Response{data=service.VerificationResult}
// @Failure      400    {object}  response.Response
// @Failure      503    {object}  response.Response
// @Router       /api/invoices/{id}/verify [post]
func (h *InvoiceHandler) VerifyPhoto(c *gin.Context) {
	me, ok := actor(c)
	if !ok {
		return
	}

	image, mediaType, err := readPhoto(c)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.verificationService.VerifyPhoto(c.Request.Context(), me, c.Param("id"), image, mediaType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// Reconcile compares values read by other means against the record
// @Summary      Reconcile extracted values
// @Tags         verification
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                    true  "Invoice ID"
// @Param        payload  body      service.ReconcileRequest  true  "Values read from the invoice"
// @Success      200      {object}  response.Response{data=service.VerificationResult}
// @Failure      400      {object}  response.Response
// @Router       /api/invoices/{id}/reconcile [post]
func (h *InvoiceHandler) Reconcile(c *gin.Context) {
	me, ok := actor(c)
	if !ok {
		return
	}
	var req service.ReconcileRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.verificationService.ReconcileExtracted(c.Request.Context(), me, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// readPhoto returns the uploaded photo and its media type, sniffed when the part has none.
func readPhoto(c *gin.Context) ([]byte, string, error) {
	header, err := c.FormFile("photo")
	if err != nil {
		return nil, "", apperror.NewValidation("photo", "is required")
	}
	if header.Size > maxPhotoBytes {
		return nil, "", apperror.NewValidation("photo", fmt.Sprintf("must be at most %d MB", maxPhotoBytes>>20))
	}

	f, err := header.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open photo: %w", err)
	}
	defer f.Close()

	image, err := io.ReadAll(io.LimitReader(f, maxPhotoBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read photo: %w", err)
	}
	if len(image) > maxPhotoBytes {
		return nil, "", apperror.NewValidation("photo", fmt.Sprintf("must be at most %d MB", maxPhotoBytes>>20))
	}

	mediaType := header.Header.Get("Content-Type")
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = http.DetectContentType(image)
	}
	return image, mediaType, nil
}
