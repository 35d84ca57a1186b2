// Package memstore is an in-memory identity.Store with the same optimistic
// concurrency contract as the Postgres store. It backs unit tests and the
// single-process dev mode; nothing persists across restarts.
package memstore

import (
	"context"
	"strings"
	"sync"

	"github.com/coverbridge/auth-service/internal/audit"
	"github.com/coverbridge/auth-service/internal/identity"
)

// Store keeps identities, roles and the audit trail behind one mutex, so
// every write and its audit record commit together.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*identity.Identity
	roles   map[string]identity.Role
	records []audit.Record
}

// New returns an empty store.
func New() *Store {
	return &Store{
		byID:  make(map[string]*identity.Identity),
		roles: make(map[string]identity.Role),
	}
}

// Create inserts a new identity at version 1. Username collisions are
// case-sensitive, email collisions case-insensitive.
func (s *Store) Create(ctx context.Context, id *identity.Identity, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(id.Email)
	for _, existing := range s.byID {
		if existing.Username == id.Username {
			return identity.ErrUsernameTaken
		}
		if strings.ToLower(existing.Email) == email {
			return identity.ErrEmailTaken
		}
	}

	id.Version = 1
	s.byID[id.ID] = id.Clone()
	s.records = append(s.records, rec)
	return nil
}

// Update persists id only if the stored row still carries expectedVersion.
// On success both the stored copy and id advance to expectedVersion+1 and
// the audit record joins the trail in the same critical section.
func (s *Store) Update(ctx context.Context, id *identity.Identity, expectedVersion int64, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[id.ID]
	if !ok {
		return identity.ErrNotFound
	}
	if current.Version != expectedVersion {
		return identity.ErrVersionConflict
	}

	id.Version = expectedVersion + 1
	s.byID[id.ID] = id.Clone()
	s.records = append(s.records, rec)
	return nil
}

// ByID fetches one identity. The returned value is a private copy.
func (s *Store) ByID(ctx context.Context, id string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found, ok := s.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return found.Clone(), nil
}

// ByLogin resolves a username, matching exactly.
func (s *Store) ByLogin(ctx context.Context, username string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.byID {
		if id.Username == username {
			return id.Clone(), nil
		}
	}
	return nil, identity.ErrNotFound
}

// ByEmail resolves an email address, ignoring case.
func (s *Store) ByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := strings.ToLower(email)
	for _, id := range s.byID {
		if strings.ToLower(id.Email) == want {
			return id.Clone(), nil
		}
	}
	return nil, identity.ErrNotFound
}

// ByResetHash resolves the identity holding a reset-token hash.
func (s *Store) ByResetHash(ctx context.Context, hash string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.byID {
		if id.ResetTokenHash != "" && id.ResetTokenHash == hash {
			return id.Clone(), nil
		}
	}
	return nil, identity.ErrNotFound
}

// ByVerificationHash resolves the identity holding a verification-token hash.
func (s *Store) ByVerificationHash(ctx context.Context, hash string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.byID {
		if id.VerifyTokenHash != "" && id.VerifyTokenHash == hash {
			return id.Clone(), nil
		}
	}
	return nil, identity.ErrNotFound
}

// Role looks up a role by name.
func (s *Store) Role(ctx context.Context, name string) (*identity.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[name]
	if !ok {
		return nil, identity.ErrRoleNotFound
	}
	out := r
	out.Permissions = append([]string(nil), r.Permissions...)
	return &out, nil
}

// SeedRole inserts or replaces a role definition.
func (s *Store) SeedRole(ctx context.Context, role identity.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	role.Permissions = append([]string(nil), role.Permissions...)
	s.roles[role.Name] = role
	return nil
}

// Audits returns a copy of the recorded trail, oldest first.
func (s *Store) Audits() []audit.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Record(nil), s.records...)
}

var _ identity.Store = (*Store)(nil)
