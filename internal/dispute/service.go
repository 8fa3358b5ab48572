package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/auditoryx/booking-core/internal/activity"
	"github.com/auditoryx/booking-core/internal/booking"
	"github.com/auditoryx/booking-core/internal/idgen"
	"github.com/auditoryx/booking-core/internal/logging"
	"github.com/auditoryx/booking-core/internal/metrics"
	"github.com/auditoryx/booking-core/internal/traces"
)

// ResolvePolicy configures what happens to the escrow when a dispute is
// resolved in the client's favor.
type ResolvePolicy string

const (
	// PolicyManual only unfreezes the booking. An admin issues the
	// refund as a separate step. This is the default.
	PolicyManual ResolvePolicy = "manual"
	// PolicyAutoRefund additionally refunds the client when the
	// outcome is resolved.
	PolicyAutoRefund ResolvePolicy = "auto_refund"
)

// Valid reports whether the policy is a known value.
func (p ResolvePolicy) Valid() bool {
	return p == PolicyManual || p == PolicyAutoRefund
}

// BookingResolver is the slice of the booking service the dispute
// workflow drives.
type BookingResolver interface {
	Get(ctx context.Context, id string) (*booking.Booking, error)
	MarkDisputed(ctx context.Context, id string) error
	ClearDispute(ctx context.Context, id string) error
	Refund(ctx context.Context, id string, caller booking.Caller) (*booking.Booking, error)
}

// ActivityRecorder records dispute events in the activity log.
type ActivityRecorder interface {
	Record(ctx context.Context, userID, bookingID, eventType, detail string)
}

// Notifier delivers dispute notifications to the affected parties.
type Notifier interface {
	Notify(ctx context.Context, userID, eventType, message string)
}

// Service coordinates the dispute lifecycle against the booking escrow.
type Service struct {
	store    Store
	bookings BookingResolver
	policy   ResolvePolicy
	activity ActivityRecorder
	notifier Notifier
}

// NewService creates a dispute service with the manual resolve policy.
func NewService(store Store, bookings BookingResolver) *Service {
	return &Service{
		store:    store,
		bookings: bookings,
		policy:   PolicyManual,
	}
}

// WithPolicy sets the resolve policy.
func (s *Service) WithPolicy(p ResolvePolicy) *Service {
	if p.Valid() {
		s.policy = p
	}
	return s
}

// WithActivity attaches an activity recorder.
func (s *Service) WithActivity(r ActivityRecorder) *Service {
	s.activity = r
	return s
}

// WithNotifier attaches a notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// OpenRequest carries the fields needed to open a dispute.
type OpenRequest struct {
	BookingID string `json:"booking_id" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
}

// Open raises a dispute on a booking and freezes its escrow.
func (s *Service) Open(ctx context.Context, req OpenRequest, caller booking.Caller) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Open", traces.BookingID(req.BookingID))
	defer span.End()

	b, err := s.bookings.Get(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}

	if caller.ID != b.ClientID && caller.ID != b.ProviderID && !caller.IsAdmin() {
		return nil, ErrUnauthorized
	}
	// An already-disputed booking fails the status check too, so the
	// existing-dispute lookup has to come first for the caller to get
	// the accurate error.
	if _, err := s.store.GetOpenByBooking(ctx, req.BookingID); err == nil {
		return nil, ErrDisputeExists
	} else if !errors.Is(err, ErrDisputeNotFound) {
		return nil, err
	}

	if b.Status != booking.StatusHeld && b.Status != booking.StatusCompleted {
		return nil, ErrNotDisputable
	}

	d := &Dispute{
		ID:        idgen.WithPrefix("dsp_"),
		BookingID: req.BookingID,
		OpenedBy:  caller.ID,
		Reason:    req.Reason,
		Status:    StatusOpen,
		CreatedAt: time.Now(),
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create dispute: %w", err)
	}

	if err := s.bookings.MarkDisputed(ctx, req.BookingID); err != nil {
		logging.L(ctx).Error("failed to mark booking disputed",
			"booking_id", req.BookingID, "dispute_id", d.ID, "error", err)
	}

	metrics.DisputesOpenedTotal.Inc()
	s.record(ctx, caller.ID, d.BookingID, activity.EventDisputeOpened, d.Reason)
	s.notify(ctx, counterparty(b, caller.ID), "dispute_opened",
		"A dispute has been opened on one of your bookings.")

	return d, nil
}

// Get returns a dispute by ID.
func (s *Service) Get(ctx context.Context, id string) (*Dispute, error) {
	return s.store.Get(ctx, id)
}

// ListByBooking returns all disputes for a booking, newest first.
func (s *Service) ListByBooking(ctx context.Context, bookingID string) ([]*Dispute, error) {
	return s.store.ListByBooking(ctx, bookingID)
}

// ListOpen returns open disputes for the admin queue.
func (s *Service) ListOpen(ctx context.Context, limit int) ([]*Dispute, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListOpen(ctx, limit)
}

// ResolveRequest carries the admin's ruling.
type ResolveRequest struct {
	Outcome    Status `json:"outcome" binding:"required"`
	Resolution string `json:"resolution"`
}

// Resolve closes a dispute with a terminal outcome. Only admins may
// resolve; resolving an already-closed dispute fails with
// ErrAlreadyResolved rather than silently succeeding.
func (s *Service) Resolve(ctx context.Context, id string, req ResolveRequest, caller booking.Caller) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Resolve", traces.DisputeID(id))
	defer span.End()

	if !caller.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if req.Outcome != StatusResolved && req.Outcome != StatusRejected {
		return nil, ErrInvalidOutcome
	}

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status.Terminal() {
		return nil, ErrAlreadyResolved
	}

	now := time.Now()
	d.Status = req.Outcome
	d.Resolution = req.Resolution
	d.ResolvedBy = caller.ID
	d.ResolvedAt = &now
	if err := s.store.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to update dispute: %w", err)
	}

	// Unfreeze the booking so release (or refund) can proceed.
	if err := s.bookings.ClearDispute(ctx, d.BookingID); err != nil {
		logging.L(ctx).Error("failed to clear dispute flag on booking",
			"booking_id", d.BookingID, "dispute_id", d.ID, "error", err)
	}

	if d.Status == StatusResolved && s.policy == PolicyAutoRefund {
		if _, err := s.bookings.Refund(ctx, d.BookingID, caller); err != nil {
			// The dispute stays resolved; the refund is retried manually.
			logging.L(ctx).Error("auto-refund after dispute resolution failed",
				"booking_id", d.BookingID, "dispute_id", d.ID, "error", err)
		}
	}

	metrics.DisputesResolvedTotal.WithLabelValues(string(d.Status)).Inc()
	s.record(ctx, caller.ID, d.BookingID, activity.EventDisputeResolved,
		fmt.Sprintf("dispute %s: %s", d.Status, d.Resolution))
	s.notify(ctx, d.OpenedBy, "dispute_resolved",
		fmt.Sprintf("Your dispute has been %s.", d.Status))

	return d, nil
}

// HasOpenDispute reports whether the booking has an unresolved dispute.
// The booking service consults this before releasing funds.
func (s *Service) HasOpenDispute(ctx context.Context, bookingID string) (bool, error) {
	_, err := s.store.GetOpenByBooking(ctx, bookingID)
	if errors.Is(err, ErrDisputeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func counterparty(b *booking.Booking, actorID string) string {
	if actorID == b.ClientID {
		return b.ProviderID
	}
	return b.ClientID
}

func (s *Service) record(ctx context.Context, userID, bookingID, eventType, detail string) {
	if s.activity != nil {
		s.activity.Record(ctx, userID, bookingID, eventType, detail)
	}
}

func (s *Service) notify(ctx context.Context, userID, eventType, message string) {
	if s.notifier != nil && userID != "" {
		s.notifier.Notify(ctx, userID, eventType, message)
	}
}
