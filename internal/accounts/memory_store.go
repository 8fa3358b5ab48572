package accounts

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory account store for demo/development mode.
type MemoryStore struct {
	accounts map[string]*Account
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
	}
}

func (m *MemoryStore) Create(ctx context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts[a.ID] = a
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) GetByEmail(ctx context.Context, email string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.accounts {
		if strings.EqualFold(a.Email, email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *MemoryStore) Update(ctx context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[a.ID]; !ok {
		return ErrAccountNotFound
	}
	m.accounts[a.ID] = a
	return nil
}

func (m *MemoryStore) List(ctx context.Context, role Role, limit int) ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Account
	for _, a := range m.accounts {
		if role != "" && a.Role != role {
			continue
		}
		cp := *a
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
