package booking

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory booking store for demo/development mode.
// It implements the same conditional-update semantics as the Postgres
// store so the concurrency guarantees hold in demo mode too.
type MemoryStore struct {
	bookings map[string]*Booking
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory booking store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]*Booking),
	}
}

func (m *MemoryStore) Create(ctx context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bookings[b.ID]; !ok {
		return ErrBookingNotFound
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateIf(ctx context.Context, b *Booking, fromStatus Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.bookings[b.ID]
	if !ok {
		return ErrBookingNotFound
	}
	// Same condition the Postgres store enforces in its WHERE clause.
	if current.Status != fromStatus || current.PayoutStatus == PayoutReleased {
		return ErrStaleTransition
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Booking
	for _, b := range m.bookings {
		if b.ClientID == accountID || b.ProviderID == accountID {
			cp := *b
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) ListAutoReleasable(ctx context.Context, before time.Time, limit int) ([]*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Booking
	for _, b := range m.bookings {
		if b.Releasable() && b.PayoutStatus == PayoutHeld && b.AutoReleaseAt.Before(before) {
			cp := *b
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
