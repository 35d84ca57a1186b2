package auth

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coverbridge/auth-service/internal/audit"
	"github.com/coverbridge/auth-service/internal/identity"
	"github.com/coverbridge/auth-service/internal/metrics"
	"github.com/coverbridge/auth-service/internal/password"
)

// RequestPasswordReset starts the reset workflow. The caller always sees
// success whether or not the email exists; a new token overwrites any prior
// outstanding one.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	origin := OriginFrom(ctx)

	if err := s.throttle("password_reset", s.limiter.AllowReset(ctx, email, origin.IP)); err != nil {
		s.audit(ctx, recordSpec{action: audit.ActionUpdate, event: audit.EventRateLimitTriggered}, nil)
		return err
	}

	if !validEmail(email) {
		enumerationDelay()
		return nil
	}

	id, err := s.store.ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			// Unknown addresses take roughly as long as known ones so the
			// response does not confirm account existence.
			enumerationDelay()
			return nil
		}
		return err
	}

	resetToken, resetDigest, err := newOpaqueToken()
	if err != nil {
		return err
	}
	expiry := s.now().Add(s.cfg.ResetTokenTTL)

	if _, err := s.writeThrough(ctx, id,
		recordSpec{actor: id.ID, action: audit.ActionUpdate, event: audit.EventPasswordResetRequest},
		func(cur identity.Identity) (identity.Identity, error) {
			return cur.IssueResetToken(resetDigest, expiry), nil
		}); err != nil {
		return err
	}
	s.metrics.Inc(metrics.MetricPasswordResetRequest)

	if err := s.notifier.PasswordResetEmail(ctx, id.Email, resetToken); err != nil {
		s.logger.Warn("reset mail dispatch failed",
			zap.String("identity_id", id.ID), zap.Error(err))
	}
	return nil
}

// CompletePasswordReset redeems a reset token for a new password. Unknown,
// malformed, expired and already-consumed tokens all answer ErrResetInvalid;
// a policy-failing password leaves the token outstanding for another try.
// Success clears the token and any lockout.
func (s *Service) CompletePasswordReset(ctx context.Context, rawToken, newPassword string) error {
	now := s.now()

	digest, err := hashOpaqueToken(rawToken)
	if err != nil {
		s.failReset(ctx, nil)
		return ErrResetInvalid
	}

	id, err := s.store.ByResetHash(ctx, digest)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			s.failReset(ctx, nil)
			return ErrResetInvalid
		}
		return err
	}
	if !id.ResetOutstanding(now) {
		s.failReset(ctx, id)
		return ErrResetInvalid
	}

	if err := password.ValidatePolicy(newPassword); err != nil {
		var policyErr *password.PolicyError
		if errors.As(err, &policyErr) {
			return &ValidationError{Fields: map[string]string{
				"newPassword": strings.Join(policyErr.Failures, "; "),
			}}
		}
		return err
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	_, err = s.writeThrough(ctx, id,
		recordSpec{actor: id.ID, action: audit.ActionUpdate, event: audit.EventPasswordResetComplete},
		func(cur identity.Identity) (identity.Identity, error) {
			// A concurrent complete or a newer token wins the race; this
			// token is then spent or replaced.
			if cur.ResetTokenHash != digest || !cur.ResetOutstanding(now) {
				return identity.Identity{}, ErrResetInvalid
			}
			return cur.CompleteReset(newHash), nil
		})
	if err != nil {
		if errors.Is(err, ErrResetInvalid) {
			s.failReset(ctx, id)
		}
		return err
	}

	s.metrics.Inc(metrics.MetricPasswordResetSuccess)
	return nil
}

func (s *Service) failReset(ctx context.Context, id *identity.Identity) {
	s.metrics.Inc(metrics.MetricPasswordResetFailure)
	spec := recordSpec{action: audit.ActionUpdate, event: audit.EventPasswordResetFailed}
	if id != nil {
		spec.actor = id.ID
	}
	s.audit(ctx, spec, id)
}

// enumerationDelay pads the not-found path with jitter comparable to a
// token issuance and store write.
func enumerationDelay() {
	time.Sleep(time.Duration(20+rand.Intn(60)) * time.Millisecond)
}
