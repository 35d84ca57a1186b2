package identity

import (
	"context"
	"errors"

	"github.com/coverbridge/auth-service/internal/audit"
)

// Store errors. Uniqueness violations are split by field so handlers can
// report which attribute collided without inspecting driver errors.
var (
	ErrNotFound        = errors.New("identity not found")
	ErrUsernameTaken   = errors.New("username already taken")
	ErrEmailTaken      = errors.New("email already registered")
	ErrVersionConflict = errors.New("identity version conflict")
	ErrRoleNotFound    = errors.New("role not found")
)

// Store persists identities with optimistic concurrency. Update succeeds
// only when the stored row still carries expectedVersion; on success the
// stored version advances by one. Every write carries the audit record born
// from the same state change, and implementations persist both atomically.
//
// Username lookups are case-sensitive, email lookups case-insensitive.
type Store interface {
	Create(ctx context.Context, id *Identity, rec audit.Record) error
	Update(ctx context.Context, id *Identity, expectedVersion int64, rec audit.Record) error

	ByID(ctx context.Context, id string) (*Identity, error)
	ByLogin(ctx context.Context, username string) (*Identity, error)
	ByEmail(ctx context.Context, email string) (*Identity, error)
	ByResetHash(ctx context.Context, hash string) (*Identity, error)
	ByVerificationHash(ctx context.Context, hash string) (*Identity, error)

	Role(ctx context.Context, name string) (*Role, error)
	SeedRole(ctx context.Context, role Role) error
}
