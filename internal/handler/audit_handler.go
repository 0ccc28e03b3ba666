package handler

import (
	"net/http"

	"snapclaim/internal/middleware"
	"snapclaim/internal/service"
	"snapclaim/pkg/pagination"
	"snapclaim/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
	auth         *middleware.Authenticator
}

func NewAuditHandler(auditService service.AuditService, auth *middleware.Authenticator) *AuditHandler {
	return &AuditHandler{auditService: auditService, auth: auth}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/audit-logs")
	group.Use(h.auth.RequirePermission(service.PermAuditRead))
	{
		group.GET("", h.GetAuditLogs)
	}
}

// GetAuditLogs retrieves paginated records with the acting user resolved
// @Summary      Get audit logs
// @Description  Newest first. Filter by action (e.g. UPDATE_ROUTE), affected entity, acting user or day range.
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        action     query     string  false  "Action"
// @Param        entity_id  query     string  false  "Entity ID"
// @Param        user_id    query     string  false  "Acting user ID"
// @Param        from       query     string  false  "First day YYYY-MM-DD (inclusive)"
// @Param        to         query     string  false  "Last day YYYY-MM-DD (inclusive)"
// @Param        page       query     int     false  "Page number (default 1)"
// @Param        limit      query     int     false  "Items per page (default 20)"
// @Success      200        {object}  response.Response{data=[]service.AuditLogResponse}
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	p, err := pagination.Parse(c)
	if err != nil {
		respondError(c, err)
		return
	}

	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), service.AuditLogFilter{
		Action:   c.Query("action"),
		EntityID: c.Query("entity_id"),
		UserID:   c.Query("user_id"),
		From:     c.Query("from"),
		To:       c.Query("to"),
		Page:     p.Page,
		Limit:    p.Limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, logs, p.Page, p.Limit, total))
}
