package notify

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/auditoryx/booking-core/internal/auth"
	"github.com/auditoryx/booking-core/internal/validation"
)

// Handler provides HTTP endpoints for the notification feed and
// webhook subscriptions.
type Handler struct {
	service    *Service
	dispatcher *Dispatcher
}

// NewHandler creates a new notification handler.
func NewHandler(service *Service, dispatcher *Dispatcher) *Handler {
	return &Handler{service: service, dispatcher: dispatcher}
}

// RegisterProtectedRoutes sets up auth-required notification routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/notifications", h.ListNotifications)
	r.POST("/notifications/:id/read", h.MarkRead)
	r.GET("/webhooks", h.ListSubscriptions)
	r.POST("/webhooks", h.Subscribe)
	r.DELETE("/webhooks/:id", h.Unsubscribe)
}

// ListNotifications handles GET /v1/notifications
func (h *Handler) ListNotifications(c *gin.Context) {
	userID := auth.GetAuthenticatedAccount(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	notifications, err := h.service.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list notifications",
		})
		return
	}

	unread, _ := h.service.UnreadCount(c.Request.Context(), userID)
	c.JSON(http.StatusOK, gin.H{
		"notifications": notifications,
		"count":         len(notifications),
		"unread":        unread,
	})
}

// MarkRead handles POST /v1/notifications/:id/read
func (h *Handler) MarkRead(c *gin.Context) {
	userID := auth.GetAuthenticatedAccount(c)

	err := h.service.MarkRead(c.Request.Context(), c.Param("id"), userID)
	if errors.Is(err, ErrNotificationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Notification not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to mark notification read",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

type subscribeRequest struct {
	URL    string   `json:"url" binding:"required"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

// Subscribe handles POST /v1/webhooks
func (h *Handler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("url", req.URL),
		validation.MaxLength("url", req.URL, 2048),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	userID := auth.GetAuthenticatedAccount(c)
	sub, err := h.dispatcher.Subscribe(c.Request.Context(), userID, req.URL, req.Secret, req.Events)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_endpoint",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"subscription": sub})
}

// ListSubscriptions handles GET /v1/webhooks
func (h *Handler) ListSubscriptions(c *gin.Context) {
	userID := auth.GetAuthenticatedAccount(c)

	subs, err := h.dispatcher.ListByUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list subscriptions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// Unsubscribe handles DELETE /v1/webhooks/:id
func (h *Handler) Unsubscribe(c *gin.Context) {
	userID := auth.GetAuthenticatedAccount(c)

	err := h.dispatcher.Unsubscribe(c.Request.Context(), c.Param("id"), userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Subscription not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to delete subscription",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
