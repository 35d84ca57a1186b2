package auth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/coverbridge/auth-service/internal/audit"
	"github.com/coverbridge/auth-service/internal/identity"
	"github.com/coverbridge/auth-service/internal/metrics"
)

// VerifyEmail redeems a verification token. Verification is the only
// Pending to Active path; unknown and malformed tokens both answer
// ErrVerificationInvalid.
func (s *Service) VerifyEmail(ctx context.Context, rawToken string) error {
	now := s.now()

	digest, err := hashOpaqueToken(rawToken)
	if err != nil {
		s.failVerify(ctx, nil)
		return ErrVerificationInvalid
	}

	id, err := s.store.ByVerificationHash(ctx, digest)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			s.failVerify(ctx, nil)
			return ErrVerificationInvalid
		}
		return err
	}

	_, err = s.writeThrough(ctx, id,
		recordSpec{actor: id.ID, action: audit.ActionUpdate, event: audit.EventEmailVerifyConfirm},
		func(cur identity.Identity) (identity.Identity, error) {
			if cur.VerifyTokenHash != digest {
				return identity.Identity{}, ErrVerificationInvalid
			}
			return cur.MarkVerified(now), nil
		})
	if err != nil {
		if errors.Is(err, ErrVerificationInvalid) {
			s.failVerify(ctx, id)
		}
		return err
	}

	s.metrics.Inc(metrics.MetricEmailVerifySuccess)
	return nil
}

// ResendVerification issues a fresh verification token when the email
// belongs to a still-Pending identity. The caller always sees success;
// only the throttle refuses visibly.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	if !validEmail(email) {
		enumerationDelay()
		return nil
	}

	id, err := s.store.ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			enumerationDelay()
			return nil
		}
		return err
	}
	if id.Status != identity.StatusPending || id.Verified() {
		return nil
	}

	if err := s.throttle("verification_resend", s.limiter.AllowResend(ctx, id.ID)); err != nil {
		s.audit(ctx, recordSpec{actor: id.ID, action: audit.ActionUpdate, event: audit.EventRateLimitTriggered}, id)
		return err
	}

	verifyToken, verifyDigest, err := newOpaqueToken()
	if err != nil {
		return err
	}

	if _, err := s.writeThrough(ctx, id,
		recordSpec{actor: id.ID, action: audit.ActionUpdate, event: audit.EventEmailVerifyRequest},
		func(cur identity.Identity) (identity.Identity, error) {
			return cur.IssueVerificationToken(verifyDigest), nil
		}); err != nil {
		return err
	}

	if err := s.notifier.VerificationEmail(ctx, id.Email, verifyToken); err != nil {
		s.logger.Warn("verification mail dispatch failed",
			zap.String("identity_id", id.ID), zap.Error(err))
	}
	return nil
}

func (s *Service) failVerify(ctx context.Context, id *identity.Identity) {
	s.metrics.Inc(metrics.MetricEmailVerifyFailure)
	spec := recordSpec{action: audit.ActionUpdate, event: audit.EventEmailVerifyFailed}
	if id != nil {
		spec.actor = id.ID
	}
	s.audit(ctx, spec, id)
}
