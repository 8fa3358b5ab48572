package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/auditoryx/booking-core/internal/idgen"
	"github.com/auditoryx/booking-core/internal/metrics"
	"github.com/auditoryx/booking-core/internal/security"
)

// Subscription registers an external endpoint for an account's events.
type Subscription struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	URL         string     `json:"url"`
	Secret      string     `json:"-"` // Used for HMAC signing
	Events      []string   `json:"events"` // empty means all events
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// wantsEvent reports whether the subscription covers the event type.
func (s *Subscription) wantsEvent(eventType string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, et := range s.Events {
		if et == eventType {
			return true
		}
	}
	return false
}

// SubscriptionStore persists webhook subscriptions.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// webhookEvent is the payload delivered to subscribed endpoints.
type webhookEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Dispatcher sends signed webhook events to registered endpoints.
type Dispatcher struct {
	store  SubscriptionStore
	client *http.Client
}

// NewDispatcher creates a new webhook dispatcher.
func NewDispatcher(store SubscriptionStore) *Dispatcher {
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Subscribe registers a new endpoint after validating the URL against
// SSRF targets. The secret signs every delivery.
func (d *Dispatcher) Subscribe(ctx context.Context, userID, url, secret string, events []string) (*Subscription, error) {
	if err := security.ValidateEndpointURL(url); err != nil {
		return nil, err
	}

	sub := &Subscription{
		ID:        idgen.WithPrefix("whs_"),
		UserID:    userID,
		URL:       url,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := d.store.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes a subscription owned by the account.
func (d *Dispatcher) Unsubscribe(ctx context.Context, id, userID string) error {
	sub, err := d.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sub.UserID != userID {
		return ErrSubscriptionNotFound
	}
	return d.store.Delete(ctx, id)
}

// ListByUser returns the account's subscriptions.
func (d *Dispatcher) ListByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	return d.store.ListByUser(ctx, userID)
}

// DispatchToUser delivers an event to all active endpoints of the
// account that subscribe to its type. Delivery is asynchronous.
func (d *Dispatcher) DispatchToUser(ctx context.Context, userID, eventType string, data any) {
	subs, err := d.store.ListByUser(ctx, userID)
	if err != nil {
		metrics.NotificationDeliveriesTotal.WithLabelValues("webhook_error").Inc()
		return
	}

	event := &webhookEvent{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	for _, sub := range subs {
		if !sub.Active || !sub.wantsEvent(eventType) {
			continue
		}
		// Send async to avoid blocking the caller
		go d.send(context.WithoutCancel(ctx), sub, event)
	}
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *webhookEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		d.updateError(ctx, sub, "failed to marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", sub.URL, bytes.NewReader(payload))
	if err != nil {
		d.updateError(ctx, sub, "failed to create request")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BookingCore-Event", event.Type)
	req.Header.Set("X-BookingCore-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))
	if sub.Secret != "" {
		req.Header.Set("X-BookingCore-Signature", sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.updateError(ctx, sub, fmt.Sprintf("request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		metrics.NotificationDeliveriesTotal.WithLabelValues("webhook_delivered").Inc()
		d.updateSuccess(ctx, sub)
	} else {
		d.updateError(ctx, sub, fmt.Sprintf("status %d", resp.StatusCode))
	}
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	_ = d.store.Update(ctx, sub)
}

func (d *Dispatcher) updateError(ctx context.Context, sub *Subscription, errMsg string) {
	metrics.NotificationDeliveriesTotal.WithLabelValues("webhook_error").Inc()
	sub.LastError = errMsg
	_ = d.store.Update(ctx, sub)
}
