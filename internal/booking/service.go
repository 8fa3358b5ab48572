package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/auditoryx/booking-core/internal/accounts"
	"github.com/auditoryx/booking-core/internal/activity"
	"github.com/auditoryx/booking-core/internal/currency"
	"github.com/auditoryx/booking-core/internal/idgen"
	"github.com/auditoryx/booking-core/internal/logging"
	"github.com/auditoryx/booking-core/internal/metrics"
	"github.com/auditoryx/booking-core/internal/payments"
	"github.com/auditoryx/booking-core/internal/syncutil"
	"github.com/auditoryx/booking-core/internal/traces"
)

// DefaultAutoRelease is the default hold window before funds are
// released to the provider without client action.
const DefaultAutoRelease = 72 * time.Hour

// DefaultRevisions is the number of revision requests a new booking carries.
const DefaultRevisions = 2

// Caller identifies the authenticated account driving an operation.
// Role verification happened at the boundary; the service performs only
// coarse checks (owner-or-admin).
type Caller struct {
	ID   string
	Role accounts.Role
}

// IsAdmin reports whether the caller holds the admin role.
func (c Caller) IsAdmin() bool { return c.Role == accounts.RoleAdmin }

// System is the caller used by internal triggers like the auto-release timer.
var System = Caller{ID: "system", Role: accounts.RoleAdmin}

// CreateRequest contains the parameters for creating a booking.
type CreateRequest struct {
	ClientID    string    `json:"clientId" binding:"required"`
	ProviderID  string    `json:"providerId" binding:"required"`
	ServiceID   string    `json:"serviceId"`
	TotalAmount string    `json:"totalAmount" binding:"required"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Revisions   int       `json:"revisions"`
}

// Service implements the booking lifecycle state machine.
type Service struct {
	store    Store
	gateway  payments.Gateway
	dir      AccountDirectory
	disputes DisputeChecker
	recorder ActivityRecorder
	notifier Notifier

	currency   string
	revisions  int
	holdWindow time.Duration
	locks      *syncutil.ContextShardedMutex
}

// NewService creates a new booking service.
func NewService(store Store, gateway payments.Gateway) *Service {
	return &Service{
		store:      store,
		gateway:    gateway,
		currency:   "usd",
		revisions:  DefaultRevisions,
		holdWindow: DefaultAutoRelease,
		locks:      syncutil.NewContextShardedMutex(),
	}
}

// WithAccounts adds the account directory used to resolve payout destinations.
func (s *Service) WithAccounts(dir AccountDirectory) *Service {
	s.dir = dir
	return s
}

// WithDisputes adds the dispute checker gating fund release.
func (s *Service) WithDisputes(d DisputeChecker) *Service {
	s.disputes = d
	return s
}

// WithActivity adds the audit logger.
func (s *Service) WithActivity(r ActivityRecorder) *Service {
	s.recorder = r
	return s
}

// WithNotifier adds the notification dispatcher.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithPolicy overrides the currency, default revisions, and hold window.
func (s *Service) WithPolicy(cur string, revisions int, holdWindow time.Duration) *Service {
	if cur != "" {
		s.currency = strings.ToLower(cur)
	}
	if revisions >= 0 {
		s.revisions = revisions
	}
	if holdWindow > 0 {
		s.holdWindow = holdWindow
	}
	return s
}

// Create creates a booking and places the escrow hold at the processor.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Booking, error) {
	ctx, span := traces.StartSpan(ctx, "booking.Create")
	defer span.End()

	if req.ClientID == req.ProviderID {
		return nil, errors.New("client and provider cannot be the same account")
	}
	amountMinor, ok := currency.ToMinorUnits(req.TotalAmount)
	if !ok || amountMinor <= 0 {
		return nil, ErrInvalidAmount
	}

	revisions := req.Revisions
	if revisions <= 0 {
		revisions = s.revisions
	}

	now := time.Now()
	b := &Booking{
		ID:                 idgen.WithPrefix("bk_"),
		ClientID:           req.ClientID,
		ProviderID:         req.ProviderID,
		ServiceID:          req.ServiceID,
		TotalAmount:        req.TotalAmount,
		Currency:           s.currency,
		ScheduledAt:        req.ScheduledAt,
		Status:             StatusPending,
		PayoutStatus:       PayoutPending,
		RevisionsRemaining: revisions,
		AutoReleaseAt:      now.Add(s.holdWindow),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	span.SetAttributes(traces.BookingID(b.ID), traces.Amount(amountMinor))

	hold, err := s.gateway.AuthorizeHold(ctx, payments.HoldRequest{
		AmountMinor: amountMinor,
		Currency:    s.currency,
		BookingID:   b.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place escrow hold: %w", err)
	}
	b.PaymentIntentID = hold.IntentID

	if err := s.store.Create(ctx, b); err != nil {
		// Best-effort release of the hold if the record cannot be stored.
		_, _ = s.gateway.RefundHold(ctx, payments.RefundRequest{IntentID: hold.IntentID, BookingID: b.ID})
		return nil, fmt.Errorf("failed to create booking record: %w", err)
	}

	metrics.BookingsCreatedTotal.Inc()
	metrics.BookingsTotal.WithLabelValues(string(StatusPending)).Inc()
	s.record(ctx, b.ClientID, b.ID, activity.EventBookingCreated, "booking created, awaiting payment")
	s.notify(ctx, b.ProviderID, "booking_created", "You have a new booking request.")

	return b, nil
}

// Get returns a booking by ID.
func (s *Service) Get(ctx context.Context, id string) (*Booking, error) {
	return s.store.Get(ctx, id)
}

// ListByAccount returns bookings where the account is client or provider.
func (s *Service) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Booking, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListByAccount(ctx, accountID, limit)
}

// Accept marks a pending booking as accepted by its provider.
func (s *Service) Accept(ctx context.Context, id string, caller Caller) (*Booking, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller.ID != b.ProviderID && !caller.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if b.Status != StatusPending {
		return nil, ErrInvalidStatus
	}

	b.Status = StatusConfirmed
	b.UpdatedAt = time.Now()
	if err := s.store.UpdateIf(ctx, b, StatusPending); err != nil {
		return nil, err
	}

	metrics.BookingsTotal.WithLabelValues(string(StatusConfirmed)).Inc()
	s.notify(ctx, b.ClientID, "booking_accepted", "Your booking was accepted.")
	return b, nil
}

// ConfirmPayment moves a booking to held after the processor confirms
// the escrow hold. Called by the webhook handler. Idempotent: confirming
// an already-held booking with the same intent is a no-op success.
func (s *Service) ConfirmPayment(ctx context.Context, bookingID, intentID string) error {
	ctx, span := traces.StartSpan(ctx, "booking.ConfirmPayment", traces.BookingID(bookingID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, bookingID)
	if err != nil {
		return err
	}
	defer unlock()

	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return err
	}

	// paymentIntentId is set once at checkout; a webhook carrying a
	// different intent for this booking is rejected.
	if b.PaymentIntentID != "" && b.PaymentIntentID != intentID {
		return ErrIntentMismatch
	}

	if b.Status == StatusHeld || b.Status == StatusCompleted || b.Status == StatusReleased {
		return nil // already confirmed, redelivered webhook
	}
	if b.Status != StatusPending && b.Status != StatusConfirmed {
		return ErrInvalidStatus
	}

	from := b.Status
	if b.PaymentIntentID == "" {
		b.PaymentIntentID = intentID
	}
	b.Status = StatusHeld
	b.PayoutStatus = PayoutHeld
	b.UpdatedAt = time.Now()

	if err := s.store.UpdateIf(ctx, b, from); err != nil {
		return err
	}

	metrics.BookingsTotal.WithLabelValues(string(StatusHeld)).Inc()
	s.record(ctx, b.ClientID, b.ID, activity.EventPaymentConfirmed, "escrow hold confirmed")
	s.notify(ctx, b.ProviderID, "payment_confirmed", "Payment confirmed. You can start the work.")
	return nil
}

// ReleaseFunds transfers the held amount to the provider's payout account.
//
// Preconditions: booking exists, no open dispute, provider has a payout
// destination, and payoutStatus is not already released. A second release
// call on a released booking is a no-op success so retries are safe.
// Exactly one transfer is issued per booking: the per-ID lock serializes
// racing callers and the conditional store update rejects a stale write.
func (s *Service) ReleaseFunds(ctx context.Context, id string, caller Caller) (*Booking, error) {
	ctx, span := traces.StartSpan(ctx, "booking.ReleaseFunds", traces.BookingID(id))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if caller.ID != b.ClientID && !caller.IsAdmin() {
		return nil, ErrUnauthorized
	}

	// Idempotency guard: already released means success, not error.
	if b.PayoutStatus == PayoutReleased {
		return b, nil
	}

	if !b.Releasable() {
		return nil, ErrInvalidStatus
	}

	if s.disputes != nil {
		open, err := s.disputes.HasOpenDispute(ctx, b.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check disputes: %w", err)
		}
		if open {
			return nil, ErrDisputeOpen
		}
	}

	destination, err := s.payoutDestination(ctx, b.ProviderID)
	if err != nil {
		return nil, err
	}

	amountMinor, ok := currency.ToMinorUnits(b.TotalAmount)
	if !ok {
		return nil, ErrInvalidAmount
	}

	from := b.Status
	transfer, err := s.gateway.TransferFunds(ctx, payments.TransferRequest{
		AmountMinor: amountMinor,
		Currency:    b.Currency,
		Destination: destination,
		BookingID:   b.ID,
	})
	if err != nil {
		// Booking left untouched; the caller decides whether to retry.
		return nil, err
	}

	now := time.Now()
	heldFor := now.Sub(b.UpdatedAt)
	b.Status = StatusReleased
	b.PayoutStatus = PayoutReleased
	b.ReleasedAt = &now
	b.UpdatedAt = now

	if err := s.store.UpdateIf(ctx, b, from); err != nil {
		// Funds moved but the record is stale. Retry once, then flag
		// for manual reconciliation; there is no inverse transfer.
		if retryErr := s.store.UpdateIf(ctx, b, from); retryErr != nil {
			logging.L(ctx).Error("CRITICAL: funds transferred but booking update failed",
				slog.String("booking_id", b.ID),
				slog.String("transfer_id", transfer.TransferID),
				slog.String("error", retryErr.Error()),
			)
			return nil, fmt.Errorf("failed to update booking after transfer (requires manual reconciliation): %w", err)
		}
	}

	metrics.FundsReleasedTotal.Inc()
	metrics.BookingsTotal.WithLabelValues(string(StatusReleased)).Inc()
	metrics.HoldDuration.Observe(heldFor.Seconds())
	s.record(ctx, caller.ID, b.ID, activity.EventPaymentReleased,
		fmt.Sprintf("released %s to %s", b.TotalAmount, destination))
	s.notify(ctx, b.ProviderID, "payment_released", "Funds have been released to your account.")

	return b, nil
}

// RequestRevision decrements the booking's revision counter.
// A request with zero revisions remaining is rejected, never clamped.
func (s *Service) RequestRevision(ctx context.Context, id string, caller Caller) (*Booking, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if caller.ID != b.ClientID && !caller.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if b.Status != StatusHeld && b.Status != StatusConfirmed && b.Status != StatusCompleted {
		return nil, ErrInvalidStatus
	}
	if b.RevisionsRemaining <= 0 {
		return nil, ErrNoRevisionsRemaining
	}

	b.RevisionsRemaining--
	b.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, b); err != nil {
		return nil, err
	}

	metrics.RevisionsRequestedTotal.Inc()
	s.record(ctx, caller.ID, b.ID, activity.EventRevisionRequested,
		fmt.Sprintf("%d revisions remaining", b.RevisionsRemaining))
	s.notify(ctx, b.ProviderID, "revision_requested", "The client requested a revision.")

	return b, nil
}

// Complete marks a held booking as delivered by the provider.
func (s *Service) Complete(ctx context.Context, id string, caller Caller) (*Booking, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if caller.ID != b.ProviderID && !caller.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if b.Status != StatusHeld {
		return nil, ErrInvalidStatus
	}

	b.Status = StatusCompleted
	b.UpdatedAt = time.Now()
	if err := s.store.UpdateIf(ctx, b, StatusHeld); err != nil {
		return nil, err
	}

	metrics.BookingsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	s.record(ctx, caller.ID, b.ID, activity.EventBookingCompleted, "work delivered")
	s.notify(ctx, b.ClientID, "booking_completed", "Your booking has been delivered.")

	return b, nil
}

// Refund returns the held funds to the client and terminates the booking.
// Admin-only outside of dispute resolution.
func (s *Service) Refund(ctx context.Context, id string, caller Caller) (*Booking, error) {
	ctx, span := traces.StartSpan(ctx, "booking.Refund", traces.BookingID(id))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !caller.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if b.IsTerminal() {
		return nil, ErrInvalidStatus
	}
	if b.PayoutStatus == PayoutReleased {
		return nil, ErrInvalidStatus
	}

	from := b.Status
	if _, err := s.gateway.RefundHold(ctx, payments.RefundRequest{
		IntentID:  b.PaymentIntentID,
		BookingID: b.ID,
	}); err != nil {
		return nil, err
	}

	b.Status = StatusRefunded
	b.PayoutStatus = PayoutFailed
	b.UpdatedAt = time.Now()
	if err := s.store.UpdateIf(ctx, b, from); err != nil {
		return nil, err
	}

	metrics.RefundsTotal.Inc()
	metrics.BookingsTotal.WithLabelValues(string(StatusRefunded)).Inc()
	s.record(ctx, caller.ID, b.ID, activity.EventPaymentRefunded, "refunded to client")
	s.notify(ctx, b.ClientID, "payment_refunded", "Your payment has been refunded.")

	return b, nil
}

// Cancel cancels a booking before funds are held. Bookings past the
// pending/confirmed stage must go through refund instead.
func (s *Service) Cancel(ctx context.Context, id string, caller Caller) (*Booking, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if caller.ID != b.ClientID && caller.ID != b.ProviderID && !caller.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if b.Status != StatusPending && b.Status != StatusConfirmed {
		return nil, ErrInvalidStatus
	}

	from := b.Status
	if b.PaymentIntentID != "" {
		// Release the uncaptured authorization back to the client.
		if _, err := s.gateway.RefundHold(ctx, payments.RefundRequest{
			IntentID:  b.PaymentIntentID,
			BookingID: b.ID,
		}); err != nil {
			return nil, err
		}
	}

	b.Status = StatusCancelled
	b.UpdatedAt = time.Now()
	if err := s.store.UpdateIf(ctx, b, from); err != nil {
		return nil, err
	}

	metrics.BookingsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	s.record(ctx, caller.ID, b.ID, activity.EventBookingCancelled, "booking cancelled")
	return b, nil
}

// MarkDisputed flags the booking as disputed. Called by the dispute
// resolver when a dispute opens; release is blocked until it closes.
func (s *Service) MarkDisputed(ctx context.Context, id string) error {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.Status != StatusHeld && b.Status != StatusCompleted {
		return ErrInvalidStatus
	}

	from := b.Status
	b.Status = StatusDisputed
	b.UpdatedAt = time.Now()
	return s.store.UpdateIf(ctx, b, from)
}

// ClearDispute returns a disputed booking to held after its dispute
// closes, restoring release eligibility.
func (s *Service) ClearDispute(ctx context.Context, id string) error {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.Status != StatusDisputed {
		return nil // nothing to clear
	}

	b.Status = StatusHeld
	b.UpdatedAt = time.Now()
	return s.store.UpdateIf(ctx, b, StatusDisputed)
}

// MarkPayoutFailed records a processor-side payment failure.
func (s *Service) MarkPayoutFailed(ctx context.Context, id, detail string) error {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.PayoutStatus == PayoutReleased {
		return ErrInvalidStatus
	}

	b.PayoutStatus = PayoutFailed
	b.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, b); err != nil {
		return err
	}

	s.record(ctx, b.ClientID, b.ID, activity.EventPaymentFailed, "payment failed: "+detail)
	s.notify(ctx, b.ClientID, "payment_failed", "Your payment could not be processed.")
	return nil
}

func (s *Service) payoutDestination(ctx context.Context, providerID string) (string, error) {
	if s.dir == nil {
		return "", ErrNoPayoutDestination
	}
	dest, err := s.dir.PayoutDestination(ctx, providerID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve payout destination: %w", err)
	}
	if dest == "" {
		return "", ErrNoPayoutDestination
	}
	return dest, nil
}

func (s *Service) record(ctx context.Context, userID, bookingID, eventType, detail string) {
	if s.recorder != nil {
		s.recorder.Record(ctx, userID, bookingID, eventType, detail)
	}
}

func (s *Service) notify(ctx context.Context, userID, eventType, message string) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, userID, eventType, message)
	}
}
