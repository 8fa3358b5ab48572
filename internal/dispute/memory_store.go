package dispute

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory dispute store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	disputes map[string]*Dispute
}

// NewMemoryStore creates a new in-memory dispute store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{disputes: make(map[string]*Dispute)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Same constraint the partial unique index enforces in Postgres:
	// at most one open dispute per booking.
	if d.Status == StatusOpen {
		for _, existing := range m.disputes {
			if existing.BookingID == d.BookingID && existing.Status == StatusOpen {
				return ErrDisputeExists
			}
		}
	}
	cp := *d
	m.disputes[d.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) GetOpenByBooking(ctx context.Context, bookingID string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.disputes {
		if d.BookingID == bookingID && d.Status == StatusOpen {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrDisputeNotFound
}

func (m *MemoryStore) Update(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.disputes[d.ID]; !ok {
		return ErrDisputeNotFound
	}
	cp := *d
	m.disputes[d.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByBooking(ctx context.Context, bookingID string) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Dispute
	for _, d := range m.disputes {
		if d.BookingID == bookingID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListOpen(ctx context.Context, limit int) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Dispute
	for _, d := range m.disputes {
		if d.Status == StatusOpen {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
