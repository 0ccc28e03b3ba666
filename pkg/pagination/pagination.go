package pagination

import (
	"strconv"

	"snapclaim/internal/apperror"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds validated pagination parameters
type Params struct {
	Page  int
	Limit int
}

// Parse reads page and limit from the query string. Missing values take the defaults,
// limit is capped at MaxLimit, and anything that is not a positive integer is a validation error.
func Parse(c *gin.Context) (Params, error) {
	p := Params{Page: DefaultPage, Limit: DefaultLimit}
	verr := &apperror.ValidationError{}

	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			verr.Add("page", "must be a positive integer")
		} else {
			p.Page = page
		}
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			verr.Add("limit", "must be a positive integer")
		} else {
			p.Limit = min(limit, MaxLimit)
		}
	}

	if verr.HasErrors() {
		return Params{}, verr
	}
	return p, nil
}
