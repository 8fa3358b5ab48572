package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for API key management.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new auth handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterProtectedRoutes sets up auth-required key management routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/auth/keys", h.ListKeys)
	r.POST("/auth/keys", h.CreateKey)
	r.DELETE("/auth/keys/:keyId", h.RevokeKey)
	r.GET("/auth/me", h.Me)
}

// ListKeys handles GET /v1/auth/keys
func (h *Handler) ListKeys(c *gin.Context) {
	accountID := GetAuthenticatedAccount(c)

	keys, err := h.manager.ListKeys(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list API keys",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"keys":  keys,
		"count": len(keys),
	})
}

type createKeyRequest struct {
	Name string `json:"name"`
}

// CreateKey handles POST /v1/auth/keys
func (h *Handler) CreateKey(c *gin.Context) {
	var req createKeyRequest
	_ = c.ShouldBindJSON(&req)
	if req.Name == "" {
		req.Name = "API key"
	}

	apiKey, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	rawKey, key, err := h.manager.GenerateKey(c.Request.Context(), apiKey.AccountID, apiKey.Role, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to generate API key",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"apiKey":  rawKey,
		"keyId":   key.ID,
		"warning": "Store this API key securely. It will not be shown again.",
	})
}

// RevokeKey handles DELETE /v1/auth/keys/:keyId
func (h *Handler) RevokeKey(c *gin.Context) {
	accountID := GetAuthenticatedAccount(c)

	err := h.manager.RevokeKey(c.Request.Context(), c.Param("keyId"), accountID)
	if errors.Is(err, ErrKeyNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "API key not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to revoke API key",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// Me handles GET /v1/auth/me
func (h *Handler) Me(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accountId": key.AccountID,
		"role":      key.Role,
		"keyId":     key.ID,
	})
}
