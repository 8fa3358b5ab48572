package booking

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/auditoryx/booking-core/internal/auth"
	"github.com/auditoryx/booking-core/internal/payments"
	"github.com/auditoryx/booking-core/internal/validation"
)

// Handler provides HTTP endpoints for booking lifecycle operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new booking handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) booking routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/bookings/:id", h.GetBooking)
}

// RegisterProtectedRoutes sets up protected (auth-required) booking routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/bookings", h.CreateBooking)
	r.GET("/accounts/:id/bookings", h.ListBookings)
	r.POST("/bookings/:id/accept", h.AcceptBooking)
	r.POST("/bookings/:id/release", h.ReleaseFunds)
	r.POST("/bookings/:id/revision", h.RequestRevision)
	r.POST("/bookings/:id/complete", h.CompleteBooking)
	r.POST("/bookings/:id/refund", h.RefundBooking)
	r.POST("/bookings/:id/cancel", h.CancelBooking)
}

// caller builds the service-level caller identity from the authenticated key.
func caller(c *gin.Context) (Caller, bool) {
	key, ok := auth.GetAPIKey(c)
	if !ok {
		return Caller{}, false
	}
	return Caller{ID: key.AccountID, Role: key.Role}, true
}

// CreateBooking handles POST /v1/bookings
func (h *Handler) CreateBooking(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidID("client_id", req.ClientID),
		validation.ValidID("provider_id", req.ProviderID),
		validation.ValidAmount("total_amount", req.TotalAmount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}
	if req.ClientID == req.ProviderID {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "client_id and provider_id must differ",
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
	// Clients book for themselves; admins may book on behalf of anyone.
	if call.ID != req.ClientID && !call.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Bookings can only be created for your own account",
		})
		return
	}

	b, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err, "create_failed", "Failed to create booking")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"booking": b})
}

// GetBooking handles GET /v1/bookings/:id
func (h *Handler) GetBooking(c *gin.Context) {
	b, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err, "internal_error", "Failed to load booking")
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

// ListBookings handles GET /v1/accounts/:id/bookings
func (h *Handler) ListBookings(c *gin.Context) {
	accountID := c.Param("id")

	call, ok := caller(c)
	if !ok || (call.ID != accountID && !call.IsAdmin()) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You can only list your own bookings",
		})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	bookings, err := h.service.ListByAccount(c.Request.Context(), accountID, limit)
	if err != nil {
		writeServiceError(c, err, "internal_error", "Failed to list bookings")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bookings": bookings,
		"count":    len(bookings),
	})
}

// AcceptBooking handles POST /v1/bookings/:id/accept
func (h *Handler) AcceptBooking(c *gin.Context) {
	h.transition(c, h.service.Accept)
}

// ReleaseFunds handles POST /v1/bookings/:id/release
func (h *Handler) ReleaseFunds(c *gin.Context) {
	h.transition(c, h.service.ReleaseFunds)
}

// RequestRevision handles POST /v1/bookings/:id/revision
func (h *Handler) RequestRevision(c *gin.Context) {
	h.transition(c, h.service.RequestRevision)
}

// CompleteBooking handles POST /v1/bookings/:id/complete
func (h *Handler) CompleteBooking(c *gin.Context) {
	h.transition(c, h.service.Complete)
}

// RefundBooking handles POST /v1/bookings/:id/refund
func (h *Handler) RefundBooking(c *gin.Context) {
	h.transition(c, h.service.Refund)
}

// CancelBooking handles POST /v1/bookings/:id/cancel
func (h *Handler) CancelBooking(c *gin.Context) {
	h.transition(c, h.service.Cancel)
}

// transition runs a caller-scoped state transition and writes the result.
func (h *Handler) transition(c *gin.Context, fn func(ctx context.Context, id string, caller Caller) (*Booking, error)) {
	call, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	b, err := fn(c.Request.Context(), c.Param("id"), call)
	if err != nil {
		writeServiceError(c, err, "transition_failed", "Failed to update booking")
		return
	}

	c.JSON(http.StatusOK, gin.H{"booking": b})
}

// writeServiceError maps service errors onto HTTP responses. Raw gateway
// errors are never echoed back to the client.
func writeServiceError(c *gin.Context, err error, fallbackCode, fallbackMsg string) {
	switch {
	case errors.Is(err, ErrBookingNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Booking not found",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You are not allowed to perform this action",
		})
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "Amount must be a positive decimal with at most two fraction digits",
		})
	case errors.Is(err, ErrDisputeOpen):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "dispute_open",
			"message": "Funds cannot be released while a dispute is open",
		})
	case errors.Is(err, ErrNoRevisionsRemaining):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "no_revisions_remaining",
			"message": "No revision requests remaining for this booking",
		})
	case errors.Is(err, ErrNoPayoutDestination):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "no_payout_destination",
			"message": "The provider has no payout account configured",
		})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_status",
			"message": "The booking is not in a state that allows this action",
		})
	case errors.Is(err, ErrStaleTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "The booking changed concurrently, retry the request",
		})
	case errors.Is(err, ErrIntentMismatch):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "intent_mismatch",
			"message": "Payment intent does not match this booking",
		})
	default:
		if _, ok := payments.IsGatewayError(err); ok {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "gateway_error",
				"message": "The payment processor could not complete the request",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   fallbackCode,
			"message": fallbackMsg,
		})
	}
}
