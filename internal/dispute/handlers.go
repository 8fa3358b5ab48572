package dispute

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/auditoryx/booking-core/internal/auth"
	"github.com/auditoryx/booking-core/internal/booking"
	"github.com/auditoryx/booking-core/internal/validation"
)

// Handler provides HTTP endpoints for the dispute workflow.
type Handler struct {
	service *Service
}

// NewHandler creates a new dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up auth-required dispute routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/disputes", h.OpenDispute)
	r.GET("/disputes/:id", h.GetDispute)
	r.GET("/bookings/:id/disputes", h.ListBookingDisputes)
}

// RegisterAdminRoutes sets up admin-only dispute routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/disputes", h.ListOpenDisputes)
	r.POST("/disputes/:id/resolve", h.ResolveDispute)
}

func caller(c *gin.Context) (booking.Caller, bool) {
	key, ok := auth.GetAPIKey(c)
	if !ok {
		return booking.Caller{}, false
	}
	return booking.Caller{ID: key.AccountID, Role: key.Role}, true
}

// OpenDispute handles POST /v1/disputes
func (h *Handler) OpenDispute(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidID("booking_id", req.BookingID),
		validation.Required("reason", req.Reason),
		validation.MaxLength("reason", req.Reason, 2000),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	call, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	d, err := h.service.Open(c.Request.Context(), req, call)
	if err != nil {
		writeDisputeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"dispute": d})
}

// GetDispute handles GET /v1/disputes/:id
func (h *Handler) GetDispute(c *gin.Context) {
	d, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeDisputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ListBookingDisputes handles GET /v1/bookings/:id/disputes
func (h *Handler) ListBookingDisputes(c *gin.Context) {
	disputes, err := h.service.ListByBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeDisputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"disputes": disputes,
		"count":    len(disputes),
	})
}

// ListOpenDisputes handles GET /v1/admin/disputes
func (h *Handler) ListOpenDisputes(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	disputes, err := h.service.ListOpen(c.Request.Context(), limit)
	if err != nil {
		writeDisputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"disputes": disputes,
		"count":    len(disputes),
	})
}

// ResolveDispute handles POST /v1/admin/disputes/:id/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	call, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	d, err := h.service.Resolve(c.Request.Context(), c.Param("id"), req, call)
	if err != nil {
		writeDisputeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

func writeDisputeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrDisputeNotFound), errors.Is(err, booking.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Dispute or booking not found",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You are not allowed to perform this action",
		})
	case errors.Is(err, ErrInvalidOutcome):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_outcome",
			"message": "Outcome must be resolved or rejected",
		})
	case errors.Is(err, ErrDisputeExists):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "dispute_exists",
			"message": "The booking already has an open dispute",
		})
	case errors.Is(err, ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_resolved",
			"message": "The dispute has already been resolved",
		})
	case errors.Is(err, ErrNotDisputable):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "not_disputable",
			"message": "The booking is not in a state that can be disputed",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to process dispute",
		})
	}
}
