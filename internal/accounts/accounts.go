// Package accounts manages client and provider accounts for the booking platform.
package accounts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/auditoryx/booking-core/internal/idgen"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrEmailTaken      = errors.New("email already registered")
	ErrInvalidRole     = errors.New("invalid account role")
)

// Role distinguishes the two sides of a booking plus platform admins.
type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

// Account represents a platform account.
type Account struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	// PayoutAccountID is the provider's connected account at the payment
	// gateway, e.g. acct_1... for Stripe Connect. Empty for clients.
	PayoutAccountID string    `json:"payoutAccountId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Store persists accounts.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, id string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	Update(ctx context.Context, a *Account) error
	List(ctx context.Context, role Role, limit int) ([]*Account, error)
}

// RegisterRequest contains the parameters for creating an account.
type RegisterRequest struct {
	Email           string `json:"email" binding:"required"`
	DisplayName     string `json:"displayName" binding:"required"`
	Role            Role   `json:"role" binding:"required"`
	PayoutAccountID string `json:"payoutAccountId"`
}

// Service implements account business logic.
type Service struct {
	store Store
}

// NewService creates a new accounts service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Register creates a new account. Emails are unique case-insensitively.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Account, error) {
	if !req.Role.Valid() {
		return nil, ErrInvalidRole
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := s.store.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	}

	now := time.Now()
	a := &Account{
		ID:              idgen.WithPrefix("usr_"),
		Email:           email,
		DisplayName:     strings.TrimSpace(req.DisplayName),
		Role:            req.Role,
		PayoutAccountID: req.PayoutAccountID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Get returns an account by ID.
func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	return s.store.Get(ctx, id)
}

// SetPayoutAccount attaches a gateway payout account to a provider.
func (s *Service) SetPayoutAccount(ctx context.Context, id, payoutAccountID string) (*Account, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Role != RoleProvider {
		return nil, ErrInvalidRole
	}

	a.PayoutAccountID = payoutAccountID
	a.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// PayoutDestination returns the gateway payout account for a provider.
// Empty when none is registered.
func (s *Service) PayoutDestination(ctx context.Context, id string) (string, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return a.PayoutAccountID, nil
}

// List returns accounts with the given role, or all roles when role is empty.
func (s *Service) List(ctx context.Context, role Role, limit int) ([]*Account, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.List(ctx, role, limit)
}
