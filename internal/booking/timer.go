package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/auditoryx/booking-core/internal/metrics"
)

// Timer periodically releases bookings whose hold window has passed
// without client action.
type Timer struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new auto-release timer.
func NewTimer(service *Service, store Store, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		store:    store,
		interval: time.Minute,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the auto-release loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeReleaseDue(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeReleaseDue(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in auto-release timer", "panic", fmt.Sprint(r))
		}
	}()
	t.releaseDue(ctx)
}

func (t *Timer) releaseDue(ctx context.Context) {
	due, err := t.store.ListAutoReleasable(ctx, time.Now(), 100)
	if err != nil {
		t.logger.Warn("failed to list auto-releasable bookings", "error", err)
		return
	}

	for _, b := range due {
		_, err := t.service.ReleaseFunds(ctx, b.ID, System)
		if err != nil {
			// A dispute opened since listing, or the client released
			// first. Both resolve themselves; skip quietly.
			if errors.Is(err, ErrDisputeOpen) || errors.Is(err, ErrStaleTransition) {
				continue
			}
			t.logger.Warn("failed to auto-release booking",
				"bookingId", b.ID,
				"error", err,
			)
			continue
		}
		metrics.AutoReleasedTotal.Inc()
		t.logger.Info("auto-released booking",
			"bookingId", b.ID,
			"provider", b.ProviderID,
			"amount", b.TotalAmount,
		)
	}
}
