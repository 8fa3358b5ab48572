package activity

import (
	"context"
	"sync"

	"github.com/auditoryx/booking-core/internal/pagination"
)

// MemoryStore is an in-memory activity store for demo/development mode.
type MemoryStore struct {
	entries []*Entry
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory activity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, before *pagination.Cursor, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	// Newest first
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.entries[i]
		if e.UserID != userID {
			continue
		}
		if before != nil && !olderThan(e, before) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

// olderThan reports whether the entry sorts strictly after the cursor
// position in newest-first order.
func olderThan(e *Entry, c *pagination.Cursor) bool {
	if e.CreatedAt.Equal(c.CreatedAt) {
		return e.ID < c.ID
	}
	return e.CreatedAt.Before(c.CreatedAt)
}

func (m *MemoryStore) ListByBooking(ctx context.Context, bookingID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].BookingID == bookingID {
			cp := *m.entries[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) PointsTotal(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, e := range m.entries {
		if e.UserID == userID {
			total += e.Points
		}
	}
	return total, nil
}

var _ Store = (*MemoryStore)(nil)
