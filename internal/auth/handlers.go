package auth

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/JackTn/azure-sdk-usage-agent/internal/errors"
)

// Handlers provides HTTP handlers for authentication endpoints
type Handlers struct {
	manager *Manager
}

// NewHandlers creates auth handlers
func NewHandlers(manager *Manager) *Handlers {
	return &Handlers{manager: manager}
}

// SetupRoutes mounts the auth endpoints on r
func (h *Handlers) SetupRoutes(r *gin.RouterGroup) {
	r.POST("/auth/token", h.IssueToken)
	r.GET("/auth/status", h.GetAuthStatus)
	r.GET("/auth/me", h.manager.Middleware(), h.GetCurrentClient)

	keys := r.Group("/api-keys", h.manager.Middleware(), h.manager.RequireRole(RoleReader, RoleAdmin))
	{
		keys.GET("", h.ListAPIKeys)
		keys.POST("", h.CreateAPIKey)
		keys.DELETE("/:id", h.manager.RequireRole(RoleAdmin), h.RevokeAPIKey)
	}

	admin := r.Group("/admin", h.manager.Middleware(), h.manager.RequireRole(RoleAdmin))
	{
		admin.GET("/clients", h.ListClients)
		admin.POST("/clients", h.RegisterClient)
		admin.GET("/rate-limit-stats", h.GetRateLimitStats)
	}
}

// TokenRequest carries client credentials
type TokenRequest struct {
	ClientID     string `json:"client_id" binding:"required"`
	ClientSecret string `json:"client_secret" binding:"required"`
}

// TokenResponse is a signed bearer token
type TokenResponse struct {
	Token     string  `json:"token"`
	TokenType string  `json:"token_type"`
	ExpiresAt string  `json:"expires_at"`
	Client    *Client `json:"client"`
}

// IssueToken exchanges client credentials for a bearer token
func (h *Handlers) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, apperrors.NewInvalidInputError("request body", err.Error()))
		return
	}

	client, err := h.manager.Authenticate(req.ClientID, req.ClientSecret)
	if err != nil {
		logger.Warn(c.Request.Context(), "Rejected client credentials", map[string]interface{}{
			"client_id": req.ClientID,
		})
		abortWithError(c, http.StatusUnauthorized, apperrors.AsEnhanced(err))
		return
	}

	token, expiresAt, err := h.manager.IssueToken(client)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, apperrors.AsEnhanced(err))
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt.Format(time.RFC3339),
		Client:    client,
	})
}

// GetCurrentClient returns the authenticated client
func (h *Handlers) GetCurrentClient(c *gin.Context) {
	client, exists := GetCurrentClient(c)
	if !exists {
		abortWithError(c, http.StatusUnauthorized, apperrors.NewNotAuthenticatedError())
		return
	}
	c.JSON(http.StatusOK, client)
}

// GetAuthStatus describes the authentication configuration
func (h *Handlers) GetAuthStatus(c *gin.Context) {
	cfg := h.manager.Config()
	c.JSON(http.StatusOK, gin.H{
		"authentication_enabled": true,
		"allow_anonymous":        cfg.AllowAnonymous,
		"rate_limit":             cfg.RateLimit,
		"jwt_expiry":             cfg.JWTExpiry.String(),
	})
}

// CreateAPIKeyRequest represents a request to create an API key
type CreateAPIKeyRequest struct {
	Name      string `json:"name" binding:"required"`
	RateLimit int    `json:"rate_limit"`
	ExpiresIn string `json:"expires_in"` // e.g., "30d", "1y", "720h"
}

// CreateAPIKey creates a key for the current client
func (h *Handlers) CreateAPIKey(c *gin.Context) {
	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, apperrors.NewInvalidInputError("request body", err.Error()))
		return
	}

	client, exists := GetCurrentClient(c)
	if !exists || client.ID == AnonymousClientID {
		abortWithError(c, http.StatusUnauthorized, apperrors.NewNotAuthenticatedError())
		return
	}

	expiresIn, err := parseDuration(req.ExpiresIn)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, apperrors.NewInvalidInputError("expires_in", err.Error()))
		return
	}

	apiKey, err := h.manager.CreateAPIKey(client.ID, req.Name, req.RateLimit, expiresIn)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, apperrors.AsEnhanced(err))
		return
	}

	c.JSON(http.StatusCreated, apiKey)
}

// ListAPIKeys returns the current client's keys
func (h *Handlers) ListAPIKeys(c *gin.Context) {
	client, exists := GetCurrentClient(c)
	if !exists {
		abortWithError(c, http.StatusUnauthorized, apperrors.NewNotAuthenticatedError())
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": h.manager.ListAPIKeys(client.ID)})
}

// RevokeAPIKey revokes a key by ID
func (h *Handlers) RevokeAPIKey(c *gin.Context) {
	if err := h.manager.RevokeAPIKey(c.Param("id")); err != nil {
		abortWithError(c, http.StatusNotFound, apperrors.NewInvalidInputError("id", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "API key revoked"})
}

// RegisterClientRequest represents a request to register a client
type RegisterClientRequest struct {
	ClientID     string   `json:"client_id" binding:"required"`
	Name         string   `json:"name"`
	ClientSecret string   `json:"client_secret" binding:"required"`
	Roles        []string `json:"roles"`
}

// RegisterClient adds a service client
func (h *Handlers) RegisterClient(c *gin.Context) {
	var req RegisterClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, apperrors.NewInvalidInputError("request body", err.Error()))
		return
	}

	client, err := h.manager.RegisterClient(req.ClientID, req.Name, req.ClientSecret, req.Roles)
	if err != nil {
		abortWithError(c, http.StatusConflict, apperrors.AsEnhanced(err))
		return
	}
	c.JSON(http.StatusCreated, client)
}

// ListClients returns every client
func (h *Handlers) ListClients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"clients": h.manager.ListClients()})
}

// GetRateLimitStats returns limiter statistics
func (h *Handlers) GetRateLimitStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.limiter.Stats(c.Request.Context()))
}

// parseDuration parses duration strings like "30d", "2w", "1y", "720h"
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 30 * 24 * time.Hour, nil
	}

	units := map[string]time.Duration{
		"d": 24 * time.Hour,
		"w": 7 * 24 * time.Hour,
		"y": 365 * 24 * time.Hour,
	}
	for suffix, unit := range units {
		if strings.HasSuffix(s, suffix) {
			n, err := strconv.Atoi(strings.TrimSuffix(s, suffix))
			if err != nil {
				return 0, err
			}
			return time.Duration(n) * unit, nil
		}
	}

	return time.ParseDuration(s)
}
