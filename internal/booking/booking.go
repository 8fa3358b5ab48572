// Package booking implements the booking lifecycle state machine for the
// creator marketplace.
//
// Flow:
//  1. Client checks out a service → booking created, funds authorized
//     with manual capture (escrow hold at the processor)
//  2. Processor webhook confirms the hold → booking held
//  3. Provider delivers → booking completed
//  4. Client (or admin, or the auto-release timer) releases → funds
//     transferred to the provider's payout account
//  5. A dispute blocks release until resolved or rejected
package booking

import (
	"context"
	"errors"
	"time"
)

var (
	ErrBookingNotFound      = errors.New("booking not found")
	ErrInvalidStatus        = errors.New("invalid booking status for this operation")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrDisputeOpen          = errors.New("booking has an open dispute")
	ErrNoPayoutDestination  = errors.New("provider has no payout destination on file")
	ErrNoRevisionsRemaining = errors.New("no revisions remaining")
	ErrUnauthorized         = errors.New("not authorized for this booking operation")
	ErrIntentMismatch       = errors.New("payment intent does not match booking")
	// ErrStaleTransition is returned by conditional updates when the
	// booking changed underneath the caller. Safe to retry by re-reading.
	ErrStaleTransition = errors.New("booking state changed concurrently")
)

// Status represents the booking lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"   // Created, awaiting payment confirmation
	StatusConfirmed Status = "confirmed" // Provider accepted the booking
	StatusHeld      Status = "held"      // Funds held at the processor
	StatusCompleted Status = "completed" // Provider delivered the work
	StatusReleased  Status = "released"  // Funds transferred to provider
	StatusRefunded  Status = "refunded"  // Funds returned to client
	StatusDisputed  Status = "disputed"  // Under dispute, release blocked
	StatusCancelled Status = "cancelled" // Cancelled before completion
)

// PayoutStatus tracks the provider-payout side of the lifecycle.
type PayoutStatus string

const (
	PayoutPending  PayoutStatus = "pending"  // No funds held yet
	PayoutHeld     PayoutStatus = "held"     // Funds held, payable
	PayoutReleased PayoutStatus = "released" // Transfer completed
	PayoutFailed   PayoutStatus = "failed"   // Payment failed or refunded
)

// Booking represents a service booking with escrowed payment.
type Booking struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"clientId"`
	ProviderID  string    `json:"providerId"`
	ServiceID   string    `json:"serviceId,omitempty"`
	TotalAmount string    `json:"totalAmount"` // decimal currency units, e.g. "100"
	Currency    string    `json:"currency"`
	ScheduledAt time.Time `json:"scheduledAt"`

	Status             Status       `json:"status"`
	PayoutStatus       PayoutStatus `json:"payoutStatus"`
	RevisionsRemaining int          `json:"revisionsRemaining"`

	// PaymentIntentID is set once when the processor hold is placed and
	// immutable thereafter.
	PaymentIntentID   string `json:"paymentIntentId,omitempty"`
	CheckoutSessionID string `json:"checkoutSessionId,omitempty"`

	AutoReleaseAt time.Time  `json:"autoReleaseAt"`
	ReleasedAt    *time.Time `json:"releasedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the booking is in a final state.
func (b *Booking) IsTerminal() bool {
	switch b.Status {
	case StatusReleased, StatusRefunded, StatusCancelled:
		return true
	}
	return false
}

// Releasable returns true if the booking's status allows a fund release.
func (b *Booking) Releasable() bool {
	return b.Status == StatusHeld || b.Status == StatusCompleted
}

// Store persists bookings.
//
// UpdateIf is a conditional update: it applies b only when the persisted
// row still has the given status and a payout status other than
// released. It returns ErrStaleTransition when the condition fails.
// Money-moving transitions go through UpdateIf so two racing callers
// cannot both land their write.
type Store interface {
	Create(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id string) (*Booking, error)
	Update(ctx context.Context, b *Booking) error
	UpdateIf(ctx context.Context, b *Booking, fromStatus Status) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Booking, error)
	ListAutoReleasable(ctx context.Context, before time.Time, limit int) ([]*Booking, error)
}

// AccountDirectory resolves the provider's payout destination.
type AccountDirectory interface {
	PayoutDestination(ctx context.Context, accountID string) (string, error)
}

// DisputeChecker reports whether a booking has an open dispute.
type DisputeChecker interface {
	HasOpenDispute(ctx context.Context, bookingID string) (bool, error)
}

// ActivityRecorder appends audit entries. Implementations never fail
// the calling operation.
type ActivityRecorder interface {
	Record(ctx context.Context, userID, bookingID, eventType, detail string)
}

// Notifier sends fire-and-forget notifications to a user.
type Notifier interface {
	Notify(ctx context.Context, userID, eventType, message string)
}
