package auth

import (
	"context"
	"testing"
	"time"

	"github.com/coverbridge/auth-service/internal/audit"
	"github.com/coverbridge/auth-service/internal/identity"
	"github.com/coverbridge/auth-service/internal/memstore"
	"github.com/coverbridge/auth-service/internal/password"
	"github.com/coverbridge/auth-service/internal/token"
)

// Temporary diagnostic: reproduce the httpapi env wiring (no TOTP dep) and
// surface the raw EnableMFA error that the HTTP layer masks as 500.
func TestZZDiagEnableMFADefaultTOTP(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	store := memstore.New()
	seedTestRoles(t, store)

	hasher, err := password.NewHasher(testHashParams())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	tokens, err := token.NewManager(token.Config{
		Secret:     []byte("0123456789abcdef0123456789abcdef"),
		AccessTTL:  time.Hour,
		RefreshTTL: time.Hour,
		Now:        clock.Now,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	svc, err := New(Deps{
		Store:    store,
		Hasher:   hasher,
		Tokens:   tokens,
		Notifier: newCaptureNotifier(),
		Now:      clock.Now,
	}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	verified := clock.Now()
	seed := &identity.Identity{
		ID:              "idn-diag",
		Username:        "diag.user",
		Email:           "diag@coverbridge.test",
		PasswordHash:    hash,
		Status:          identity.StatusActive,
		EmailVerifiedAt: &verified,
		Role:            "member",
		CreatedAt:       clock.Now(),
		UpdatedAt:       clock.Now(),
	}
	if err := store.Create(context.Background(), seed, audit.Record{}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = svc.EnableMFA(context.Background(), "idn-diag", "")
	t.Logf("EnableMFA raw error: %v", err)
}
