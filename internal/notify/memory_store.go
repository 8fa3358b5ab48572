package notify

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory notification store for development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	notifications map[string]*Notification
}

// NewMemoryStore creates a new in-memory notification store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{notifications: make(map[string]*Notification)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.notifications[n.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Notification
	for _, n := range m.notifications {
		if n.UserID == userID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkRead(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return ErrNotificationNotFound
	}
	n.Read = true
	return nil
}

func (m *MemoryStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, n := range m.notifications {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

// MemorySubscriptionStore is an in-memory webhook subscription store.
type MemorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewMemorySubscriptionStore creates a new in-memory subscription store.
func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{subs: make(map[string]*Subscription)}
}

var _ SubscriptionStore = (*MemorySubscriptionStore)(nil)

func (m *MemorySubscriptionStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemorySubscriptionStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *MemorySubscriptionStore) ListByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, sub := range m.subs {
		if sub.UserID == userID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemorySubscriptionStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemorySubscriptionStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}
