package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"snapclaim/internal/authz"
	"snapclaim/internal/model"
	"snapclaim/pkg/logger"
	"snapclaim/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	ctxUserID   = "userID"
	ctxUserRole = "userRole"

	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// PermissionSource returns the permission codes granted to a role.
type PermissionSource func(ctx context.Context, role string) ([]string, error)

// CookieConfig controls the auth cookies. Secure cookies are sent cross-site (SameSite=None).
type CookieConfig struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Authenticator validates access tokens and enforces roles and permissions on routes.
type Authenticator struct {
	secret      []byte
	permissions PermissionSource
	cookies     CookieConfig
	log         *logger.Logger
}

func NewAuthenticator(secret []byte, permissions PermissionSource, cookies CookieConfig, log *logger.Logger) *Authenticator {
	return &Authenticator{secret: secret, permissions: permissions, cookies: cookies, log: log.Named("auth")}
}

// Verify parses an HS256 access token and returns its subject and role.
func (a *Authenticator) Verify(tokenString string) (string, string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errors.New("invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	if _, err := uuid.Parse(sub); err != nil {
		return "", "", fmt.Errorf("invalid subject: %w", err)
	}
	role, _ := claims["role"].(string)
	if !model.IsValidRole(role) {
		return "", "", fmt.Errorf("unknown role %q", role)
	}
	return sub, role, nil
}

// RequireAuth accepts any valid access token, from the access_token cookie or a Bearer header.
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.authenticate(c) {
			return
		}
		c.Next()
	}
}

// RequireRole accepts a valid token whose role is one of allowedRoles.
func (a *Authenticator) RequireRole(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.authenticate(c) {
			return
		}
		role := c.GetString(ctxUserRole)
		for _, allowed := range allowedRoles {
			if role == allowed {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: insufficient permissions"))
	}
}

// RequirePermission accepts a valid token whose role holds every required permission code.
func (a *Authenticator) RequirePermission(requiredPerms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.authenticate(c) {
			return
		}

		role := c.GetString(ctxUserRole)
		userPerms, err := a.permissions(c.Request.Context(), role)
		if err != nil {
			a.log.Error().Err(err).Str("role", role).Msg("failed to load permissions")
			c.AbortWithStatusJSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to verify permissions"))
			return
		}

		permSet := make(map[string]bool, len(userPerms))
		for _, p := range userPerms {
			permSet[p] = true
		}
		for _, required := range requiredPerms {
			if !permSet[required] {
				c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: missing permission '"+required+"'"))
				return
			}
		}

		c.Next()
	}
}

// Permissions exposes the permission lookup to handlers such as /me.
func (a *Authenticator) Permissions(ctx context.Context, role string) ([]string, error) {
	return a.permissions(ctx, role)
}

func (a *Authenticator) authenticate(c *gin.Context) bool {
	tokenString, err := tokenFromRequest(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, err.Error()))
		return false
	}

	userID, role, err := a.Verify(tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token"))
		return false
	}

	c.Set(ctxUserID, userID)
	c.Set(ctxUserRole, role)
	return true
}

// tokenFromRequest prefers the cookie, then the Authorization header.
func tokenFromRequest(c *gin.Context) (string, error) {
	if token, err := c.Cookie(AccessTokenCookie); err == nil && token != "" {
		return token, nil
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", errors.New("Authorization is missing")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", errors.New("Invalid authorization format. Expected 'Bearer <token>'")
	}
	return parts[1], nil
}

// ActorFrom returns the authenticated caller. ok is false on routes without auth middleware.
func ActorFrom(c *gin.Context) (authz.Subject, bool) {
	id, err := uuid.Parse(c.GetString(ctxUserID))
	if err != nil {
		return authz.Subject{}, false
	}
	return authz.Subject{ID: id, Role: c.GetString(ctxUserRole)}, true
}

// SetTokenCookies sets access_token and refresh_token as HttpOnly cookies
func (a *Authenticator) SetTokenCookies(c *gin.Context, accessToken, refreshToken string) {
	a.setSameSite(c)
	c.SetCookie(AccessTokenCookie, accessToken, int(a.cookies.AccessTTL.Seconds()), "/", "", a.cookies.Secure, true)
	c.SetCookie(RefreshTokenCookie, refreshToken, int(a.cookies.RefreshTTL.Seconds()), "/", "", a.cookies.Secure, true)
}

// ClearTokenCookies removes access_token and refresh_token cookies
func (a *Authenticator) ClearTokenCookies(c *gin.Context) {
	a.setSameSite(c)
	c.SetCookie(AccessTokenCookie, "", -1, "/", "", a.cookies.Secure, true)
	c.SetCookie(RefreshTokenCookie, "", -1, "/", "", a.cookies.Secure, true)
}

func (a *Authenticator) setSameSite(c *gin.Context) {
	if a.cookies.Secure {
		c.SetSameSite(http.SameSiteNoneMode)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
}
