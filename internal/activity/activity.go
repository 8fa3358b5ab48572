// Package activity provides an append-only audit trail for booking events.
//
// Entries are immutable once written. Certain event types also accrue
// engagement points for the acting account via a fixed lookup table.
// Logging is best-effort: failures are reported to the logger, never
// returned to the caller, so a failed audit write cannot fail the
// operation being audited.
package activity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/auditoryx/booking-core/internal/idgen"
	"github.com/auditoryx/booking-core/internal/logging"
	"github.com/auditoryx/booking-core/internal/pagination"
)

var ErrEntryNotFound = errors.New("activity entry not found")

// Event types recorded by the lifecycle operations.
const (
	EventBookingCreated    = "booking_created"
	EventPaymentConfirmed  = "payment_confirmed"
	EventPaymentFailed     = "payment_failed"
	EventPaymentReleased   = "payment_released"
	EventPaymentRefunded   = "payment_refunded"
	EventRevisionRequested = "revision_requested"
	EventDisputeOpened     = "dispute_opened"
	EventDisputeResolved   = "dispute_resolved"
	EventBookingCancelled  = "booking_cancelled"
	EventBookingCompleted  = "booking_completed"
)

// pointsTable maps event types to engagement point deltas.
// Events not listed award no points.
var pointsTable = map[string]int{
	EventBookingCreated:   10,
	EventPaymentConfirmed: 20,
	EventPaymentReleased:  50,
	EventBookingCompleted: 30,
}

// PointsFor returns the engagement points awarded for an event type.
func PointsFor(eventType string) int {
	return pointsTable[eventType]
}

// Entry is a single immutable audit record.
type Entry struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	BookingID string            `json:"bookingId,omitempty"`
	EventType string            `json:"eventType"`
	Detail    string            `json:"detail,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Points    int               `json:"points"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Store persists activity entries. Append and read only.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	ListByUser(ctx context.Context, userID string, before *pagination.Cursor, limit int) ([]*Entry, error)
	ListByBooking(ctx context.Context, bookingID string, limit int) ([]*Entry, error)
	PointsTotal(ctx context.Context, userID string) (int, error)
}

// Logger appends audit entries.
type Logger struct {
	store Store
}

// NewLogger creates a new activity logger.
func NewLogger(store Store) *Logger {
	return &Logger{store: store}
}

// Record appends an audit entry. Never returns an error: persistence
// failures are logged and swallowed so the primary operation proceeds.
func (l *Logger) Record(ctx context.Context, userID, bookingID, eventType, detail string) {
	l.RecordWithMetadata(ctx, userID, bookingID, eventType, detail, nil)
}

// RecordWithMetadata appends an audit entry with structured metadata.
func (l *Logger) RecordWithMetadata(ctx context.Context, userID, bookingID, eventType, detail string, metadata map[string]string) {
	e := &Entry{
		ID:        idgen.WithPrefix("act_"),
		UserID:    userID,
		BookingID: bookingID,
		EventType: eventType,
		Detail:    detail,
		Metadata:  metadata,
		Points:    PointsFor(eventType),
		CreatedAt: time.Now(),
	}

	if err := l.store.Append(ctx, e); err != nil {
		logging.L(ctx).Error("activity log append failed",
			slog.String("event_type", eventType),
			slog.String("booking_id", bookingID),
			slog.String("error", err.Error()),
		)
	}
}

// History returns recent entries for a user, newest first.
func (l *Logger) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return l.store.ListByUser(ctx, userID, nil, limit)
}

// HistoryPage returns one page of a user's history plus an opaque cursor
// for the next page. A nil cursor starts from the newest entry.
func (l *Logger) HistoryPage(ctx context.Context, userID string, before *pagination.Cursor, limit int) ([]*Entry, string, bool, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	// Fetch one extra entry to distinguish a full last page from a
	// partial one.
	entries, err := l.store.ListByUser(ctx, userID, before, limit+1)
	if err != nil {
		return nil, "", false, err
	}
	page, next, hasMore := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	return page, next, hasMore, nil
}

// BookingTrail returns all entries for a booking, newest first.
func (l *Logger) BookingTrail(ctx context.Context, bookingID string, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return l.store.ListByBooking(ctx, bookingID, limit)
}

// Points returns a user's accumulated engagement points.
func (l *Logger) Points(ctx context.Context, userID string) (int, error) {
	return l.store.PointsTotal(ctx, userID)
}
