// Package dispute manages disputes raised against bookings.
//
// A dispute freezes the booking's escrow: while one is open, funds can
// be neither released nor auto-released. An admin resolves the dispute
// with an outcome of resolved (client wins) or rejected (provider wins),
// both of which are terminal.
package dispute

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDisputeNotFound is returned when a dispute does not exist.
	ErrDisputeNotFound = errors.New("dispute not found")
	// ErrDisputeExists is returned when the booking already has an open dispute.
	ErrDisputeExists = errors.New("booking already has an open dispute")
	// ErrAlreadyResolved is returned when resolving a dispute that is
	// no longer open. Resolution is terminal.
	ErrAlreadyResolved = errors.New("dispute already resolved")
	// ErrInvalidOutcome is returned for an unrecognized resolution outcome.
	ErrInvalidOutcome = errors.New("invalid resolution outcome")
	// ErrNotDisputable is returned when the booking is not in a state
	// that admits a dispute.
	ErrNotDisputable = errors.New("booking cannot be disputed in its current state")
	// ErrUnauthorized is returned when the caller may not act on the dispute.
	ErrUnauthorized = errors.New("caller not authorized for this dispute")
)

// Status tracks a dispute through its lifecycle.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved" // found in the client's favor
	StatusRejected Status = "rejected" // found in the provider's favor
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusRejected
}

// Dispute is a claim raised by a booking party against the other.
type Dispute struct {
	ID         string     `json:"id"`
	BookingID  string     `json:"bookingId"`
	OpenedBy   string     `json:"openedBy"`
	Reason     string     `json:"reason"`
	Status     Status     `json:"status"`
	Resolution string     `json:"resolution,omitempty"` // admin's note on the outcome
	ResolvedBy string     `json:"resolvedBy,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Store persists disputes.
type Store interface {
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	// GetOpenByBooking returns the open dispute for a booking, or
	// ErrDisputeNotFound when none is open.
	GetOpenByBooking(ctx context.Context, bookingID string) (*Dispute, error)
	Update(ctx context.Context, d *Dispute) error
	ListByBooking(ctx context.Context, bookingID string) ([]*Dispute, error)
	ListOpen(ctx context.Context, limit int) ([]*Dispute, error)
}
