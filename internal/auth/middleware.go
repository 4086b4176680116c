package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/JackTn/azure-sdk-usage-agent/internal/errors"
	"github.com/JackTn/azure-sdk-usage-agent/internal/observability"
)

const (
	contextKeyClient = "client"
	contextKeyRoles  = "roles"
)

var logger = observability.NewLogger("auth")

// Middleware authenticates the request and applies the caller's rate limit
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if shouldSkipAuth(c.Request.URL.Path) {
			c.Next()
			return
		}

		client, limit, err := m.authenticateRequest(c)
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, apperrors.NewNotAuthenticatedError())
			return
		}

		ctx := c.Request.Context()
		allowed, err := m.limiter.Allow(ctx, "client:"+client.ID, limit)
		if err != nil {
			// Counter store unavailable: admit the request
			logger.Warn(ctx, "Rate limiter unavailable", map[string]interface{}{"error": err.Error()})
			allowed = true
		}
		if !allowed {
			abortWithError(c, http.StatusTooManyRequests, apperrors.NewRateLimitedError(limit))
			return
		}

		c.Set(contextKeyClient, client)
		c.Set(contextKeyRoles, client.Roles)
		c.Request = c.Request.WithContext(observability.WithClientID(ctx, client.ID))

		c.Next()
	}
}

// RequireRole admits callers carrying any of roles
func (m *Manager) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, exists := GetCurrentClient(c)
		if !exists {
			abortWithError(c, http.StatusUnauthorized, apperrors.NewNotAuthenticatedError())
			return
		}

		if !client.HasRole(roles...) {
			abortWithError(c, http.StatusForbidden, apperrors.NewInsufficientPermissionsError(strings.Join(roles, "|")))
			return
		}

		c.Next()
	}
}

// authenticateRequest tries a bearer token, then an API key. Requests with
// no credentials at all become the anonymous reader when AllowAnonymous is set.
func (m *Manager) authenticateRequest(c *gin.Context) (*Client, int, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return nil, 0, http.ErrAbortHandler
		}
		client, _, err := m.ValidateToken(parts[1])
		if err != nil {
			return nil, 0, err
		}
		return client, m.config.RateLimit, nil
	}

	if key := c.GetHeader("X-API-Key"); key != "" {
		client, apiKey, err := m.ValidateAPIKey(key)
		if err != nil {
			return nil, 0, err
		}
		return client, apiKey.RateLimit, nil
	}

	if m.config.AllowAnonymous {
		return anonymousClient(), m.config.RateLimit, nil
	}
	return nil, 0, http.ErrAbortHandler
}

// shouldSkipAuth checks if a path should skip authentication
func shouldSkipAuth(path string) bool {
	skipPaths := []string{
		"/health",
		"/metrics",
		"/api/v1/health",
		"/api/v1/auth/token",
		"/api/v1/auth/status",
	}

	for _, skipPath := range skipPaths {
		if path == skipPath {
			return true
		}
	}
	return false
}

func abortWithError(c *gin.Context, status int, err *apperrors.EnhancedError) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": err})
}

// GetCurrentClient returns the authenticated client from context
func GetCurrentClient(c *gin.Context) (*Client, bool) {
	value, exists := c.Get(contextKeyClient)
	if !exists {
		return nil, false
	}

	client, ok := value.(*Client)
	return client, ok
}
