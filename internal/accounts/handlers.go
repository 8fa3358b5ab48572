package accounts

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/auditoryx/booking-core/internal/validation"
)

// Handler provides HTTP endpoints for account management.
type Handler struct {
	service *Service
}

// NewHandler creates a new account handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) account routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:id", h.GetAccount)
}

// RegisterProtectedRoutes sets up protected account routes. The caller
// guard is applied by the auth middleware on the group.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/accounts/:id/payout-account", h.SetPayoutAccount)
}

// GetAccount handles GET /v1/accounts/:id
func (h *Handler) GetAccount(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Account not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load account",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": a})
}

type setPayoutRequest struct {
	PayoutAccountID string `json:"payout_account_id" binding:"required"`
}

// SetPayoutAccount handles POST /v1/accounts/:id/payout-account
func (h *Handler) SetPayoutAccount(c *gin.Context) {
	var req setPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("payout_account_id", req.PayoutAccountID),
		validation.MaxLength("payout_account_id", req.PayoutAccountID, 128),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	a, err := h.service.SetPayoutAccount(c.Request.Context(), c.Param("id"), req.PayoutAccountID)
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Account not found",
			})
		case errors.Is(err, ErrInvalidRole):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "not_provider",
				"message": "Only provider accounts can receive payouts",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to update payout account",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": a})
}
