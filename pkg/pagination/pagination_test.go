package pagination

import (
	"errors"
	"net/http/httptest"
	"testing"

	"snapclaim/internal/apperror"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contextWithQuery(query string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/items?"+query, nil)
	return c
}

func TestParse(t *testing.T) {
	tests := []struct {
		query     string
		want      Params
		wantError bool
	}{
		{"", Params{Page: 1, Limit: 20}, false},
		{"page=3&limit=5", Params{Page: 3, Limit: 5}, false},
		{"limit=1000", Params{Page: 1, Limit: MaxLimit}, false},
		{"page=0", Params{}, true},
		{"limit=abc", Params{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := Parse(contextWithQuery(tt.query))
			if tt.wantError {
				require.Error(t, err)
				assert.True(t, errors.Is(err, apperror.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
