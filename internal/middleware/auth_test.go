package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"snapclaim/internal/authz"
	"snapclaim/internal/model"
	"snapclaim/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("middleware-test-secret")

func signed(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func tokenFor(t *testing.T, id uuid.UUID, role string, exp time.Time) string {
	return signed(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": id.String(), "role": role, "exp": exp.Unix()})
}

func newAuthenticator(perms map[string][]string) *Authenticator {
	source := func(_ context.Context, role string) ([]string, error) {
		return perms[role], nil
	}
	return NewAuthenticator(secret, source, CookieConfig{AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour}, logger.Nop())
}

// serve runs h in front of a handler that records the caller it sees.
func serve(h gin.HandlerFunc, req *http.Request) (*httptest.ResponseRecorder, authz.Subject) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	var seen authz.Subject
	r := gin.New()
	r.GET("/p", h, func(c *gin.Context) {
		seen, _ = ActorFrom(c)
		c.Status(http.StatusNoContent)
	})
	r.ServeHTTP(w, req)
	return w, seen
}

func TestVerify(t *testing.T) {
	a := newAuthenticator(nil)
	id := uuid.New()

	sub, role, err := a.Verify(tokenFor(t, id, model.RoleSupervisor, time.Now().Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, id.String(), sub)
	assert.Equal(t, model.RoleSupervisor, role)

	_, _, err = a.Verify(tokenFor(t, id, model.RoleSupervisor, time.Now().Add(-time.Minute)))
	assert.Error(t, err, "expired")

	_, _, err = a.Verify(tokenFor(t, id, "manager", time.Now().Add(time.Minute)))
	assert.Error(t, err, "unknown role")

	wrongKey := signed(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": id.String(), "role": model.RoleAdmin, "exp": time.Now().Add(time.Minute).Unix()})
	_, _, err = a.Verify(wrongKey)
	assert.Error(t, err, "bad signature")

	noExp := signed(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": id.String(), "role": model.RoleAdmin})
	_, _, err = a.Verify(noExp)
	assert.Error(t, err, "missing exp")
}

func TestRequirePermission(t *testing.T) {
	a := newAuthenticator(map[string][]string{
		model.RoleSupervisor:    {"routes.write", "routes.read"},
		model.RoleDeliveryAgent: {"routes.read"},
	})
	h := a.RequirePermission("routes.write")
	id := uuid.New()

	t.Run("missing token", func(t *testing.T) {
		w, _ := serve(h, httptest.NewRequest(http.MethodGet, "/p", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/p", nil)
		req.Header.Set("Authorization", "Token abc")
		w, _ := serve(h, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("granted via bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/p", nil)
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, id, model.RoleSupervisor, time.Now().Add(time.Minute)))
		w, actor := serve(h, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, id, actor.ID)
		assert.Equal(t, model.RoleSupervisor, actor.Role)
	})

	t.Run("granted via cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/p", nil)
		req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: tokenFor(t, id, model.RoleSupervisor, time.Now().Add(time.Minute))})
		w, _ := serve(h, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("missing permission", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/p", nil)
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, id, model.RoleDeliveryAgent, time.Now().Add(time.Minute)))
		w, _ := serve(h, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestRequirePermission_SourceFailure(t *testing.T) {
	a := NewAuthenticator(secret, func(context.Context, string) ([]string, error) {
		return nil, errors.New("db down")
	}, CookieConfig{}, logger.Nop())

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, uuid.New(), model.RoleAdmin, time.Now().Add(time.Minute)))
	w, _ := serve(a.RequirePermission("users.read"), req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequireRole(t *testing.T) {
	a := newAuthenticator(nil)
	h := a.RequireRole(model.RoleAdmin)

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, uuid.New(), model.RoleWarehouse, time.Now().Add(time.Minute)))
	w, _ := serve(h, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, uuid.New(), model.RoleAdmin, time.Now().Add(time.Minute)))
	w, _ = serve(h, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestTokenCookies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewAuthenticator(secret, nil, CookieConfig{Secure: true, AccessTTL: time.Hour, RefreshTTL: 48 * time.Hour}, logger.Nop())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	a.SetTokenCookies(c, "access", "refresh")

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 2)
	assert.Equal(t, AccessTokenCookie, cookies[0].Name)
	assert.Equal(t, 3600, cookies[0].MaxAge)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteNoneMode, cookies[0].SameSite)
	assert.Equal(t, 48*3600, cookies[1].MaxAge)
}
