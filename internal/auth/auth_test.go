package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/auditoryx/booking-core/internal/accounts"
)

func TestGenerateKey(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	rawKey, key, err := mgr.GenerateKey(ctx, "usr_client1", accounts.RoleClient, "Test key")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	// Check raw key format
	if !strings.HasPrefix(rawKey, "sk_") {
		t.Errorf("Expected raw key to start with sk_, got %s", rawKey[:10])
	}
	if len(rawKey) != 67 { // "sk_" + 64 hex chars
		t.Errorf("Expected raw key length 67, got %d", len(rawKey))
	}

	// Check key metadata
	if !strings.HasPrefix(key.ID, "ak_") {
		t.Errorf("Expected key ID to start with ak_, got %s", key.ID)
	}
	if key.AccountID != "usr_client1" {
		t.Errorf("Expected account ID to match")
	}
	if key.Role != accounts.RoleClient {
		t.Errorf("Expected client role, got %s", key.Role)
	}
	if key.Name != "Test key" {
		t.Errorf("Expected name 'Test key', got %s", key.Name)
	}
}

func TestValidateKey(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	rawKey, _, err := mgr.GenerateKey(ctx, "usr_client1", accounts.RoleClient, "Primary")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	// Validate with correct key
	key, err := mgr.ValidateKey(ctx, rawKey)
	if err != nil {
		t.Errorf("ValidateKey failed for valid key: %v", err)
	}
	if key.AccountID != "usr_client1" {
		t.Errorf("Expected account usr_client1, got %s", key.AccountID)
	}

	// Validate with Bearer prefix
	if _, err = mgr.ValidateKey(ctx, "Bearer "+rawKey); err != nil {
		t.Errorf("ValidateKey failed with Bearer prefix: %v", err)
	}

	// Validate with wrong key
	_, err = mgr.ValidateKey(ctx, "sk_wrongkey12345678901234567890123456789012345678901234567890")
	if err != ErrInvalidAPIKey {
		t.Errorf("Expected ErrInvalidAPIKey for wrong key, got: %v", err)
	}

	// Validate with empty key
	_, err = mgr.ValidateKey(ctx, "")
	if err != ErrNoAPIKey {
		t.Errorf("Expected ErrNoAPIKey for empty key, got: %v", err)
	}

	// Validate with malformed key
	_, err = mgr.ValidateKey(ctx, "not_a_valid_key")
	if err != ErrInvalidAPIKey {
		t.Errorf("Expected ErrInvalidAPIKey for malformed key, got: %v", err)
	}
}

func TestListKeys(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	mgr.GenerateKey(ctx, "usr_a", accounts.RoleClient, "Key 1")
	mgr.GenerateKey(ctx, "usr_a", accounts.RoleClient, "Key 2")
	mgr.GenerateKey(ctx, "usr_b", accounts.RoleProvider, "Key 3")

	keys, err := mgr.ListKeys(ctx, "usr_a")
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Expected 2 keys for usr_a, got %d", len(keys))
	}

	keys, err = mgr.ListKeys(ctx, "usr_b")
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("Expected 1 key for usr_b, got %d", len(keys))
	}
}

func TestRevokeKey(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	rawKey, key, _ := mgr.GenerateKey(ctx, "usr_a", accounts.RoleClient, "To revoke")

	// Validate before revoke
	if _, err := mgr.ValidateKey(ctx, rawKey); err != nil {
		t.Fatalf("ValidateKey failed before revoke: %v", err)
	}

	if err := mgr.RevokeKey(ctx, key.ID, "usr_a"); err != nil {
		t.Fatalf("RevokeKey failed: %v", err)
	}

	// Validate after revoke
	if _, err := mgr.ValidateKey(ctx, rawKey); err != ErrInvalidAPIKey {
		t.Errorf("Expected ErrInvalidAPIKey after revoke, got: %v", err)
	}

	// Revoke unknown key
	if err := mgr.RevokeKey(ctx, "ak_missing", "usr_a"); err != ErrKeyNotFound {
		t.Errorf("Expected ErrKeyNotFound, got: %v", err)
	}
}
