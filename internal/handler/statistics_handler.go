package handler

import (
	"net/http"
	"time"

	"snapclaim/internal/apperror"
	"snapclaim/internal/middleware"
	"snapclaim/internal/model"
	"snapclaim/internal/service"
	"snapclaim/pkg/response"

	"github.com/gin-gonic/gin"
)

type StatisticsHandler struct {
	statisticsService service.StatisticsService
	auth              *middleware.Authenticator
	now               func() time.Time
}

func NewStatisticsHandler(statisticsService service.StatisticsService, auth *middleware.Authenticator) *StatisticsHandler {
	return &StatisticsHandler{statisticsService: statisticsService, auth: auth, now: time.Now}
}

func (h *StatisticsHandler) RegisterRoutes(router *gin.RouterGroup) {
	statsGroup := router.Group("/api/statistics")
	{
		statsGroup.GET("", h.auth.RequirePermission(service.PermDashboardRead), h.GetStatistics)
	}
}

// @Summary      Get Dashboard Statistics
// @Description  Invoice and route counts by status, delivered amount, backlog and busiest delivery agents. Defaults to the current month.
// @Tags         statistics
// @Produce      json
// @Param        start_date query string false "Start date YYYY-MM-DD (inclusive)"
// @Param        end_date   query string false "End date YYYY-MM-DD (inclusive)"
// @Success      200 {object} response.Response{data=model.StatisticsResponse}
// @Failure      400 {object} response.Response "Invalid date format"
// @Failure      401 {object} response.Response "Unauthorized"
// @Security     BearerAuth
// @Router       /api/statistics [get]
func (h *StatisticsHandler) GetStatistics(c *gin.Context) {
	now := h.now().UTC()
	startDate := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	endDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	verr := &apperror.ValidationError{}
	if raw := c.Query("start_date"); raw != "" {
		d, err := time.Parse(model.DateLayout, raw)
		if err != nil {
			verr.Add("start_date", "must be a date formatted "+model.DateLayout)
		}
		startDate = d
	}
	if raw := c.Query("end_date"); raw != "" {
		d, err := time.Parse(model.DateLayout, raw)
		if err != nil {
			verr.Add("end_date", "must be a date formatted "+model.DateLayout)
		}
		endDate = d
	}
	if verr.HasErrors() {
		respondError(c, verr)
		return
	}

	stats, err := h.statisticsService.GetStatistics(c.Request.Context(), startDate, endDate)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
}
