package payments

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/auditoryx/booking-core/internal/logging"
	"github.com/auditoryx/booking-core/internal/metrics"
)

// maxWebhookBody caps inbound webhook payloads at 64KB.
const maxWebhookBody = 64 << 10

// BookingConfirmer is implemented by the booking lifecycle controller.
// The webhook handler does not import the booking package directly.
type BookingConfirmer interface {
	ConfirmPayment(ctx context.Context, bookingID, intentID string) error
	MarkPayoutFailed(ctx context.Context, bookingID, detail string) error
}

// ProcessedEventStore records webhook event IDs already handled, so
// redelivered events do not re-trigger state transitions.
type ProcessedEventStore interface {
	// Seen reports whether the event ID was already recorded.
	Seen(ctx context.Context, eventID string) (bool, error)
	// MarkProcessed records the event ID. Returns false if it was
	// already recorded.
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
}

// MemoryEventStore is an in-memory ProcessedEventStore for demo mode.
type MemoryEventStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryEventStore creates a new in-memory processed-event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{seen: make(map[string]time.Time)}
}

func (m *MemoryEventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.seen[eventID]
	return ok, nil
}

func (m *MemoryEventStore) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[eventID]; ok {
		return false, nil
	}
	m.seen[eventID] = time.Now()
	return true, nil
}

// WebhookHandler receives Stripe webhook events, verifies their
// signature, and drives booking state transitions. An event with an
// invalid signature is rejected before any state is touched.
type WebhookHandler struct {
	secret    string
	confirmer BookingConfirmer
	processed ProcessedEventStore
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(secret string, confirmer BookingConfirmer, processed ProcessedEventStore) *WebhookHandler {
	return &WebhookHandler{
		secret:    secret,
		confirmer: confirmer,
		processed: processed,
	}
}

// RegisterRoutes registers the webhook endpoint.
func (h *WebhookHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/webhooks/stripe", h.handleEvent)
}

func (h *WebhookHandler) handleEvent(c *gin.Context) {
	ctx := c.Request.Context()
	log := logging.L(ctx)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("read_error").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload", "message": "Could not read request body."})
		return
	}

	// Events keep the API version of the account that produced them,
	// which routinely trails the SDK's pinned version. Signature
	// verification is what matters here.
	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("bad_signature").Inc()
		log.Warn("webhook signature verification failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature", "message": "Webhook signature verification failed."})
		return
	}

	seen, err := h.processed.Seen(ctx, event.ID)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("store_error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Could not check event."})
		return
	}
	if seen {
		// Redelivery of an event we already handled.
		metrics.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
		return
	}

	if err := h.dispatch(ctx, event); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("handler_error").Inc()
		log.Error("webhook event handling failed",
			slog.String("event_id", event.ID),
			slog.String("event_type", string(event.Type)),
			slog.String("error", err.Error()),
		)
		// Nothing recorded yet: 500 so Stripe redelivers, and the
		// retry runs dispatch again.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Event handling failed."})
		return
	}

	// Recorded only after a successful dispatch. If two deliveries of
	// the same event race past the Seen check, both dispatch;
	// ConfirmPayment is a no-op on an already-held booking, so the
	// second pass changes nothing.
	if _, err := h.processed.MarkProcessed(ctx, event.ID); err != nil {
		log.Warn("failed to record processed event",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
	}

	metrics.WebhookEventsTotal.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *WebhookHandler) dispatch(ctx context.Context, event stripe.Event) error {
	log := logging.L(ctx)

	switch event.Type {
	case "payment_intent.amount_capturable_updated":
		// Funds authorized and holdable: the booking moves to held.
		bookingID := eventMetadata(event, "booking_id")
		intentID := eventObjectID(event)
		if bookingID == "" || intentID == "" {
			log.Warn("webhook event missing booking correlation", slog.String("event_id", event.ID))
			return nil
		}
		return h.confirmer.ConfirmPayment(ctx, bookingID, intentID)

	case "payment_intent.payment_failed":
		bookingID := eventMetadata(event, "booking_id")
		if bookingID == "" {
			return nil
		}
		return h.confirmer.MarkPayoutFailed(ctx, bookingID, "payment failed at processor")

	default:
		// Events we don't act on are acknowledged and dropped.
		log.Debug("ignoring webhook event", slog.String("event_type", string(event.Type)))
		return nil
	}
}

// eventMetadata extracts a metadata value from the event's object.
func eventMetadata(event stripe.Event, key string) string {
	meta, ok := event.Data.Object["metadata"].(map[string]interface{})
	if !ok {
		return ""
	}
	v, _ := meta[key].(string)
	return v
}

// eventObjectID extracts the object's ID from the event payload.
func eventObjectID(event stripe.Event) string {
	id, _ := event.Data.Object["id"].(string)
	return id
}
