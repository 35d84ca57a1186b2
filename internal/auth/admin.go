package auth

import (
	"context"

	"github.com/coverbridge/auth-service/internal/audit"
	"github.com/coverbridge/auth-service/internal/identity"
	"github.com/coverbridge/auth-service/internal/metrics"
)

// Permissions the administrative operations demand. The HTTP layer gates on
// the same strings; the service re-checks so the guard holds for any caller.
const (
	PermUnlock    = "identities:unlock"
	PermSetStatus = "identities:status"
)

// Actor is the authenticated principal behind an administrative call, as
// carried by its access token.
type Actor struct {
	ID          string
	Role        string
	Permissions []string
}

// Can reports whether the actor carries a permission string.
func (a Actor) Can(permission string) bool {
	for _, p := range a.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// Unlock clears an active lockout and the failure counter ahead of the
// lock's own expiry. The audit record names the admin as actor and the
// unlocked identity as resource.
func (s *Service) Unlock(ctx context.Context, actor Actor, identifier string) error {
	if !actor.Can(PermUnlock) {
		return ErrPermissionDenied
	}

	id, err := s.resolve(ctx, identifier)
	if err != nil {
		return err
	}

	if _, err := s.writeThrough(ctx, id,
		recordSpec{actor: actor.ID, action: audit.ActionUpdate, event: audit.EventAccountUnlocked},
		func(cur identity.Identity) (identity.Identity, error) {
			return cur.Unlock(), nil
		}); err != nil {
		return err
	}

	s.metrics.Inc(metrics.MetricAdminUnlock)
	return nil
}

// SetStatus applies an explicit lifecycle change. Activating an identity
// whose email was never verified is refused; verification stays the only
// path out of Pending.
func (s *Service) SetStatus(ctx context.Context, actor Actor, identifier string, status identity.Status) error {
	if !actor.Can(PermSetStatus) {
		return ErrPermissionDenied
	}

	id, err := s.resolve(ctx, identifier)
	if err != nil {
		return err
	}

	if _, err := s.writeThrough(ctx, id,
		recordSpec{actor: actor.ID, action: audit.ActionUpdate, event: audit.EventAccountStatusChange},
		func(cur identity.Identity) (identity.Identity, error) {
			return cur.ChangeStatus(status)
		}); err != nil {
		return err
	}

	s.metrics.Inc(metrics.MetricAdminStatusChange)
	return nil
}
