// Package notify fans booking lifecycle events out to the affected
// accounts: an in-app notification feed, live WebSocket pushes, and
// HMAC-signed webhooks to registered endpoints.
//
// Delivery is fire-and-forget. A failed notification never fails the
// operation that triggered it.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/auditoryx/booking-core/internal/idgen"
	"github.com/auditoryx/booking-core/internal/logging"
	"github.com/auditoryx/booking-core/internal/metrics"
)

var (
	// ErrNotificationNotFound is returned when a notification does not exist.
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrSubscriptionNotFound is returned when a webhook subscription does not exist.
	ErrSubscriptionNotFound = errors.New("webhook subscription not found")
)

// Notification is a single entry in an account's in-app feed.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	EventType string    `json:"eventType"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists in-app notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, id, userID string) error
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// Publisher pushes events to live WebSocket connections.
type Publisher interface {
	Publish(userID string, eventType string, bookingID string, data any)
}

// Service stores and fans out notifications.
type Service struct {
	store      Store
	publisher  Publisher
	dispatcher *Dispatcher
}

// NewService creates a notification service. The publisher and
// dispatcher are optional.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// WithPublisher attaches a live push channel.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

// WithDispatcher attaches an outbound webhook dispatcher.
func (s *Service) WithDispatcher(d *Dispatcher) *Service {
	s.dispatcher = d
	return s
}

// Notify records a notification for the account and pushes it to all
// delivery channels. Failures are logged, never returned.
func (s *Service) Notify(ctx context.Context, userID, eventType, message string) {
	n := &Notification{
		ID:        idgen.WithPrefix("ntf_"),
		UserID:    userID,
		EventType: eventType,
		Message:   message,
		CreatedAt: time.Now(),
	}

	if err := s.store.Create(ctx, n); err != nil {
		metrics.NotificationDeliveriesTotal.WithLabelValues("store_error").Inc()
		logging.L(ctx).Error("failed to store notification",
			"user_id", userID, "event_type", eventType, "error", err)
	} else {
		metrics.NotificationDeliveriesTotal.WithLabelValues("stored").Inc()
	}

	if s.publisher != nil {
		s.publisher.Publish(userID, "notification", "", n)
	}

	if s.dispatcher != nil {
		s.dispatcher.DispatchToUser(ctx, userID, eventType, n)
	}
}

// ListByUser returns an account's notifications, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// MarkRead marks a notification as read. The userID guard stops one
// account marking another's notifications.
func (s *Service) MarkRead(ctx context.Context, id, userID string) error {
	return s.store.MarkRead(ctx, id, userID)
}

// UnreadCount returns the number of unread notifications.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}
