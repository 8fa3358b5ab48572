package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/auditoryx/booking-core/internal/accounts"
	"github.com/auditoryx/booking-core/internal/payments"
)

// stubDirectory resolves payout destinations from a fixed map.
type stubDirectory struct {
	dests map[string]string
}

func (d *stubDirectory) PayoutDestination(ctx context.Context, accountID string) (string, error) {
	return d.dests[accountID], nil
}

// stubDisputes reports a fixed open-dispute set.
type stubDisputes struct {
	mu   sync.Mutex
	open map[string]bool
}

func (d *stubDisputes) HasOpenDispute(ctx context.Context, bookingID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open[bookingID], nil
}

func (d *stubDisputes) set(bookingID string, open bool) {
	d.mu.Lock()
	if d.open == nil {
		d.open = make(map[string]bool)
	}
	d.open[bookingID] = open
	d.mu.Unlock()
}

type testEnv struct {
	svc      *Service
	store    *MemoryStore
	gateway  *payments.FakeGateway
	disputes *stubDisputes
}

func newTestEnv() *testEnv {
	store := NewMemoryStore()
	gateway := payments.NewFakeGateway()
	disputes := &stubDisputes{}
	dir := &stubDirectory{dests: map[string]string{"usr_provider": "acct_1"}}

	svc := NewService(store, gateway).
		WithAccounts(dir).
		WithDisputes(disputes)

	return &testEnv{svc: svc, store: store, gateway: gateway, disputes: disputes}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	clientCaller   = Caller{ID: "usr_client", Role: accounts.RoleClient}
	providerCaller = Caller{ID: "usr_provider", Role: accounts.RoleProvider}
	adminCaller    = Caller{ID: "usr_admin", Role: accounts.RoleAdmin}
)

// heldBooking creates a booking and walks it to held.
func (env *testEnv) heldBooking(t *testing.T, amount string) *Booking {
	t.Helper()
	ctx := context.Background()

	b, err := env.svc.Create(ctx, CreateRequest{
		ClientID:    "usr_client",
		ProviderID:  "usr_provider",
		TotalAmount: amount,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := env.svc.ConfirmPayment(ctx, b.ID, b.PaymentIntentID); err != nil {
		t.Fatalf("ConfirmPayment failed: %v", err)
	}
	b, err = env.svc.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	return b
}

func TestCreate(t *testing.T) {
	env := newTestEnv()

	b, err := env.svc.Create(context.Background(), CreateRequest{
		ClientID:    "usr_client",
		ProviderID:  "usr_provider",
		TotalAmount: "100",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if b.Status != StatusPending {
		t.Errorf("expected pending, got %s", b.Status)
	}
	if b.PayoutStatus != PayoutPending {
		t.Errorf("expected payout pending, got %s", b.PayoutStatus)
	}
	if b.PaymentIntentID == "" {
		t.Error("expected payment intent to be set at checkout")
	}
	if b.RevisionsRemaining != DefaultRevisions {
		t.Errorf("expected %d revisions, got %d", DefaultRevisions, b.RevisionsRemaining)
	}
	if len(env.gateway.Holds) != 1 || env.gateway.Holds[0].AmountMinor != 10000 {
		t.Errorf("expected one hold of 10000 minor units, got %+v", env.gateway.Holds)
	}
}

func TestCreate_InvalidAmount(t *testing.T) {
	env := newTestEnv()

	for _, amount := range []string{"", "0", "-5", "1.999", "abc"} {
		_, err := env.svc.Create(context.Background(), CreateRequest{
			ClientID:    "usr_client",
			ProviderID:  "usr_provider",
			TotalAmount: amount,
		})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %q: expected ErrInvalidAmount, got %v", amount, err)
		}
	}

	if len(env.gateway.Holds) != 0 {
		t.Error("no holds should be placed for invalid amounts")
	}
}

func TestConfirmPayment(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	b := env.heldBooking(t, "100")

	if b.Status != StatusHeld {
		t.Errorf("expected held, got %s", b.Status)
	}
	if b.PayoutStatus != PayoutHeld {
		t.Errorf("expected payout held, got %s", b.PayoutStatus)
	}

	// Redelivered webhook is a no-op success
	if err := env.svc.ConfirmPayment(ctx, b.ID, b.PaymentIntentID); err != nil {
		t.Errorf("redelivered confirm should succeed, got %v", err)
	}

	// A different intent for the same booking is rejected
	err := env.svc.ConfirmPayment(ctx, b.ID, "pi_other")
	if !errors.Is(err, ErrIntentMismatch) {
		t.Errorf("expected ErrIntentMismatch, got %v", err)
	}
}

func TestReleaseFunds(t *testing.T) {
	env := newTestEnv()
	b := env.heldBooking(t, "100")

	released, err := env.svc.ReleaseFunds(context.Background(), b.ID, clientCaller)
	if err != nil {
		t.Fatalf("ReleaseFunds failed: %v", err)
	}

	if released.Status != StatusReleased {
		t.Errorf("expected released, got %s", released.Status)
	}
	if released.PayoutStatus != PayoutReleased {
		t.Errorf("expected payout released, got %s", released.PayoutStatus)
	}
	if released.ReleasedAt == nil {
		t.Error("expected releasedAt to be set")
	}

	// "100" decimal units becomes 10000 minor units to acct_1
	if env.gateway.TransferCount() != 1 {
		t.Fatalf("expected 1 transfer, got %d", env.gateway.TransferCount())
	}
	tr := env.gateway.Transfers[0]
	if tr.AmountMinor != 10000 {
		t.Errorf("expected transfer of 10000 minor units, got %d", tr.AmountMinor)
	}
	if tr.Destination != "acct_1" {
		t.Errorf("expected destination acct_1, got %s", tr.Destination)
	}
}

func TestReleaseFunds_Idempotent(t *testing.T) {
	env := newTestEnv()
	b := env.heldBooking(t, "100")
	ctx := context.Background()

	if _, err := env.svc.ReleaseFunds(ctx, b.ID, clientCaller); err != nil {
		t.Fatalf("first release failed: %v", err)
	}

	// Second call is a no-op success, not an error
	second, err := env.svc.ReleaseFunds(ctx, b.ID, clientCaller)
	if err != nil {
		t.Fatalf("second release should succeed, got %v", err)
	}
	if second.PayoutStatus != PayoutReleased {
		t.Errorf("expected payout released, got %s", second.PayoutStatus)
	}

	// Exactly one transfer across both calls
	if env.gateway.TransferCount() != 1 {
		t.Errorf("expected exactly 1 transfer, got %d", env.gateway.TransferCount())
	}
}

func TestReleaseFunds_ConcurrentCallers_SingleTransfer(t *testing.T) {
	env := newTestEnv()
	b := env.heldBooking(t, "250.50")
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.ReleaseFunds(ctx, b.ID, clientCaller)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent release returned error: %v", err)
		}
	}
	if env.gateway.TransferCount() != 1 {
		t.Errorf("expected exactly 1 transfer under concurrency, got %d", env.gateway.TransferCount())
	}
}

func TestReleaseFunds_BlockedByOpenDispute(t *testing.T) {
	env := newTestEnv()
	b := env.heldBooking(t, "100")
	env.disputes.set(b.ID, true)

	// Blocked regardless of caller role
	for _, caller := range []Caller{clientCaller, adminCaller} {
		_, err := env.svc.ReleaseFunds(context.Background(), b.ID, caller)
		if !errors.Is(err, ErrDisputeOpen) {
			t.Errorf("caller %s: expected ErrDisputeOpen, got %v", caller.ID, err)
		}
	}
	if env.gateway.TransferCount() != 0 {
		t.Error("no transfer should occur while disputed")
	}

	// Clearing the dispute unblocks release
	env.disputes.set(b.ID, false)
	if _, err := env.svc.ReleaseFunds(context.Background(), b.ID, clientCaller); err != nil {
		t.Errorf("release after dispute cleared should succeed, got %v", err)
	}
}

func TestReleaseFunds_NoPayoutDestination(t *testing.T) {
	env := newTestEnv()
	env.svc.WithAccounts(&stubDirectory{dests: map[string]string{}})
	b := env.heldBooking(t, "100")

	_, err := env.svc.ReleaseFunds(context.Background(), b.ID, clientCaller)
	if !errors.Is(err, ErrNoPayoutDestination) {
		t.Errorf("expected ErrNoPayoutDestination, got %v", err)
	}
	if env.gateway.TransferCount() != 0 {
		t.Error("no transfer without a payout destination")
	}
}

func TestReleaseFunds_Unauthorized(t *testing.T) {
	env := newTestEnv()
	b := env.heldBooking(t, "100")

	_, err := env.svc.ReleaseFunds(context.Background(), b.ID, providerCaller)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("provider releasing own payout: expected ErrUnauthorized, got %v", err)
	}
}

func TestReleaseFunds_GatewayFailure_LeavesBookingUnchanged(t *testing.T) {
	env := newTestEnv()
	b := env.heldBooking(t, "100")
	env.gateway.FailNext("transfer", payments.ReasonUnavailable)

	_, err := env.svc.ReleaseFunds(context.Background(), b.ID, clientCaller)
	ge, ok := payments.IsGatewayError(err)
	if !ok {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if ge.Reason != payments.ReasonUnavailable {
		t.Errorf("expected unavailable reason, got %s", ge.Reason)
	}

	// Booking untouched: still held, still releasable after recovery
	fresh, _ := env.svc.Get(context.Background(), b.ID)
	if fresh.Status != StatusHeld || fresh.PayoutStatus != PayoutHeld {
		t.Errorf("booking mutated on gateway failure: %s/%s", fresh.Status, fresh.PayoutStatus)
	}

	env.gateway.Succeed("transfer")
	if _, err := env.svc.ReleaseFunds(context.Background(), b.ID, clientCaller); err != nil {
		t.Errorf("retry after recovery should succeed, got %v", err)
	}
}

func TestReleaseFunds_NotFound(t *testing.T) {
	env := newTestEnv()

	_, err := env.svc.ReleaseFunds(context.Background(), "bk_missing", clientCaller)
	if !errors.Is(err, ErrBookingNotFound) {
		t.Errorf("expected ErrBookingNotFound, got %v", err)
	}
}

func TestRequestRevision(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	b, err := env.svc.Create(ctx, CreateRequest{
		ClientID:    "usr_client",
		ProviderID:  "usr_provider",
		TotalAmount: "100",
		Revisions:   1,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := env.svc.ConfirmPayment(ctx, b.ID, b.PaymentIntentID); err != nil {
		t.Fatalf("ConfirmPayment failed: %v", err)
	}

	// First request: 1 -> 0
	updated, err := env.svc.RequestRevision(ctx, b.ID, clientCaller)
	if err != nil {
		t.Fatalf("RequestRevision failed: %v", err)
	}
	if updated.RevisionsRemaining != 0 {
		t.Errorf("expected 0 revisions remaining, got %d", updated.RevisionsRemaining)
	}

	// Second request: rejected, counter never goes negative
	_, err = env.svc.RequestRevision(ctx, b.ID, clientCaller)
	if !errors.Is(err, ErrNoRevisionsRemaining) {
		t.Errorf("expected ErrNoRevisionsRemaining, got %v", err)
	}

	fresh, _ := env.svc.Get(ctx, b.ID)
	if fresh.RevisionsRemaining != 0 {
		t.Errorf("rejected request mutated the booking: %d", fresh.RevisionsRemaining)
	}
}

func TestComplete(t *testing.T) {
	env := newTestEnv()
	b := env.heldBooking(t, "100")
	ctx := context.Background()

	// Only the provider (or admin) may complete
	if _, err := env.svc.Complete(ctx, b.ID, clientCaller); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for client, got %v", err)
	}

	done, err := env.svc.Complete(ctx, b.ID, providerCaller)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", done.Status)
	}

	// Completed bookings remain releasable
	if _, err := env.svc.ReleaseFunds(ctx, b.ID, clientCaller); err != nil {
		t.Errorf("release after completion should succeed, got %v", err)
	}
}

func TestRefund(t *testing.T) {
	env := newTestEnv()
	b := env.heldBooking(t, "100")
	ctx := context.Background()

	// Admin only
	if _, err := env.svc.Refund(ctx, b.ID, clientCaller); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for client refund, got %v", err)
	}

	refunded, err := env.svc.Refund(ctx, b.ID, adminCaller)
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if refunded.Status != StatusRefunded {
		t.Errorf("expected refunded, got %s", refunded.Status)
	}
	if refunded.PayoutStatus != PayoutFailed {
		t.Errorf("expected payout failed, got %s", refunded.PayoutStatus)
	}
	if len(env.gateway.Refunds) != 1 {
		t.Errorf("expected 1 refund call, got %d", len(env.gateway.Refunds))
	}

	// Refunded is terminal: release is rejected
	if _, err := env.svc.ReleaseFunds(ctx, b.ID, adminCaller); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus after refund, got %v", err)
	}
}

func TestRefund_AfterRelease_Rejected(t *testing.T) {
	env := newTestEnv()
	b := env.heldBooking(t, "100")
	ctx := context.Background()

	if _, err := env.svc.ReleaseFunds(ctx, b.ID, clientCaller); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := env.svc.Refund(ctx, b.ID, adminCaller); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus refunding a released booking, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	b, err := env.svc.Create(ctx, CreateRequest{
		ClientID:    "usr_client",
		ProviderID:  "usr_provider",
		TotalAmount: "100",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	cancelled, err := env.svc.Cancel(ctx, b.ID, clientCaller)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	// The uncaptured hold is returned
	if len(env.gateway.Refunds) != 1 {
		t.Errorf("expected hold to be refunded on cancel, got %d refunds", len(env.gateway.Refunds))
	}

	// Held bookings cannot be cancelled
	held := env.heldBooking(t, "50")
	if _, err := env.svc.Cancel(ctx, held.ID, clientCaller); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus cancelling held booking, got %v", err)
	}
}

func TestAccept(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	b, err := env.svc.Create(ctx, CreateRequest{
		ClientID:    "usr_client",
		ProviderID:  "usr_provider",
		TotalAmount: "100",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := env.svc.Accept(ctx, b.ID, clientCaller); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for client accept, got %v", err)
	}

	accepted, err := env.svc.Accept(ctx, b.ID, providerCaller)
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if accepted.Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", accepted.Status)
	}

	// Payment confirmation still lands from confirmed
	if err := env.svc.ConfirmPayment(ctx, b.ID, b.PaymentIntentID); err != nil {
		t.Errorf("ConfirmPayment from confirmed failed: %v", err)
	}
}

func TestMarkDisputedAndClear(t *testing.T) {
	env := newTestEnv()
	b := env.heldBooking(t, "100")
	ctx := context.Background()

	if err := env.svc.MarkDisputed(ctx, b.ID); err != nil {
		t.Fatalf("MarkDisputed failed: %v", err)
	}
	fresh, _ := env.svc.Get(ctx, b.ID)
	if fresh.Status != StatusDisputed {
		t.Errorf("expected disputed, got %s", fresh.Status)
	}

	if err := env.svc.ClearDispute(ctx, b.ID); err != nil {
		t.Fatalf("ClearDispute failed: %v", err)
	}
	fresh, _ = env.svc.Get(ctx, b.ID)
	if fresh.Status != StatusHeld {
		t.Errorf("expected held after clear, got %s", fresh.Status)
	}

	// Clearing a non-disputed booking is a no-op
	if err := env.svc.ClearDispute(ctx, b.ID); err != nil {
		t.Errorf("ClearDispute on held booking should be a no-op, got %v", err)
	}
}

func TestTimer_AutoRelease(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	b := env.heldBooking(t, "100")

	// Force the hold window into the past
	stored, _ := env.store.Get(ctx, b.ID)
	stored.AutoReleaseAt = time.Now().Add(-time.Minute)
	if err := env.store.Update(ctx, stored); err != nil {
		t.Fatalf("store update failed: %v", err)
	}

	timer := NewTimer(env.svc, env.store, testLogger())
	timer.releaseDue(ctx)

	fresh, _ := env.svc.Get(ctx, b.ID)
	if fresh.Status != StatusReleased {
		t.Errorf("expected auto-released, got %s", fresh.Status)
	}
	if env.gateway.TransferCount() != 1 {
		t.Errorf("expected 1 transfer from auto-release, got %d", env.gateway.TransferCount())
	}
}

func TestTimer_SkipsDisputed(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	b := env.heldBooking(t, "100")
	env.disputes.set(b.ID, true)

	stored, _ := env.store.Get(ctx, b.ID)
	stored.AutoReleaseAt = time.Now().Add(-time.Minute)
	if err := env.store.Update(ctx, stored); err != nil {
		t.Fatalf("store update failed: %v", err)
	}

	timer := NewTimer(env.svc, env.store, testLogger())
	timer.releaseDue(ctx)

	fresh, _ := env.svc.Get(ctx, b.ID)
	if fresh.Status != StatusHeld {
		t.Errorf("disputed booking must not auto-release, got %s", fresh.Status)
	}
	if env.gateway.TransferCount() != 0 {
		t.Error("no transfer for disputed booking")
	}
}
