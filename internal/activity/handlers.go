package activity

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/auditoryx/booking-core/internal/pagination"
)

// Handler exposes the activity log over HTTP.
type Handler struct {
	logger *Logger
}

// NewHandler creates a new activity handler.
func NewHandler(logger *Logger) *Handler {
	return &Handler{logger: logger}
}

// RegisterProtectedRoutes sets up auth-required activity routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:id/activity", h.AccountHistory)
	r.GET("/accounts/:id/points", h.AccountPoints)
	r.GET("/bookings/:id/activity", h.BookingTrail)
}

// AccountHistory handles GET /v1/accounts/:id/activity
func (h *Handler) AccountHistory(c *gin.Context) {
	before, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "The cursor parameter is not valid",
		})
		return
	}

	entries, next, hasMore, err := h.logger.HistoryPage(
		c.Request.Context(), c.Param("id"), before, queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load activity history",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"activity":   entries,
		"count":      len(entries),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// AccountPoints handles GET /v1/accounts/:id/points
func (h *Handler) AccountPoints(c *gin.Context) {
	points, err := h.logger.Points(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute points",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
}

// BookingTrail handles GET /v1/bookings/:id/activity
func (h *Handler) BookingTrail(c *gin.Context) {
	entries, err := h.logger.BookingTrail(c.Request.Context(), c.Param("id"), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load booking activity",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"activity": entries,
		"count":    len(entries),
	})
}

func queryLimit(c *gin.Context) int {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	return limit
}
