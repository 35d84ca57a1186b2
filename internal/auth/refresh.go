package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coverbridge/auth-service/internal/audit"
	"github.com/coverbridge/auth-service/internal/identity"
	"github.com/coverbridge/auth-service/internal/metrics"
	"github.com/coverbridge/auth-service/internal/token"
)

// RefreshResult carries the re-issued access token.
type RefreshResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
	Identity        *identity.Identity
}

// Refresh redeems a refresh token for a fresh access token. The identity is
// re-read so role and permission changes take effect, and Suspended or
// Inactive accounts are refused even with a valid token. The refresh token
// itself is reused unchanged until expiry; package token documents that
// exposure. A locked account may still refresh: lockout guards password
// guessing, not an already-proven session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		s.metrics.Inc(metrics.MetricRefreshFailure)
		s.audit(ctx, recordSpec{action: audit.ActionLogin, event: audit.EventRefreshInvalid}, nil)
		return nil, err
	}

	id, err := s.store.ByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			s.metrics.Inc(metrics.MetricRefreshFailure)
			s.audit(ctx, recordSpec{action: audit.ActionLogin, event: audit.EventRefreshInvalid}, nil)
			return nil, fmt.Errorf("%w: subject no longer exists", token.ErrMalformed)
		}
		return nil, err
	}

	if id.Status == identity.StatusSuspended || id.Status == identity.StatusInactive {
		s.metrics.Inc(metrics.MetricRefreshFailure)
		s.audit(ctx, recordSpec{actor: id.ID, action: audit.ActionLogin, event: audit.EventRefreshInvalid}, id)
		return nil, ErrAccountDisabled
	}

	access, expiresAt, err := s.tokens.IssueAccess(id.ID, id.Username, id.Role, s.permissions(ctx, id.Role))
	if err != nil {
		return nil, err
	}

	s.metrics.Inc(metrics.MetricRefreshSuccess)
	s.audit(ctx, recordSpec{actor: id.ID, action: audit.ActionLogin, event: audit.EventRefreshSuccess}, id)

	return &RefreshResult{
		AccessToken:     access,
		AccessExpiresAt: expiresAt,
		Identity:        id,
	}, nil
}
