package handler

import (
	"errors"
	"net/http"

	"snapclaim/internal/apperror"
	"snapclaim/internal/middleware"
	"snapclaim/internal/service"
	"snapclaim/pkg/response"

	"github.com/gin-gonic/gin"
)

// respondError maps service errors onto HTTP statuses and the response envelope.
// Unexpected errors are attached to the context for the request logger and hidden from the caller.
func respondError(c *gin.Context, err error) {
	var verr *apperror.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, response.ErrorWithDetails(http.StatusBadRequest, "Validation failed", verr))
	case errors.Is(err, apperror.ErrValidation):
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
	case errors.Is(err, apperror.ErrNotFound):
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, err.Error()))
	case errors.Is(err, apperror.ErrConflict):
		c.JSON(http.StatusConflict, response.Error(http.StatusConflict, err.Error()))
	case errors.Is(err, apperror.ErrForbidden):
		c.JSON(http.StatusForbidden, response.Error(http.StatusForbidden, err.Error()))
	case errors.Is(err, apperror.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, err.Error()))
	case errors.Is(err, apperror.ErrExtractionUnavailable):
		c.JSON(http.StatusServiceUnavailable, response.Error(http.StatusServiceUnavailable,
			"Invoice reading is unavailable right now, verify the invoice manually"))
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Internal server error"))
	}
}

// bindJSON decodes the body into dst, answering 400 when it cannot.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return false
	}
	return true
}

// actor returns the authenticated caller, answering 401 when there is none.
func actor(c *gin.Context) (service.Actor, bool) {
	a, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "User ID not found in context"))
	}
	return a, ok
}
