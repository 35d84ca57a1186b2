package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coverbridge/auth-service/internal/audit"
	"github.com/coverbridge/auth-service/internal/identity"
	"github.com/coverbridge/auth-service/internal/metrics"
	"github.com/coverbridge/auth-service/internal/mfa"
	"github.com/coverbridge/auth-service/internal/rate"
	"github.com/coverbridge/auth-service/internal/token"
)

// LoginInput is one authentication attempt. MFACode and BackupCode are
// optional; when both are present the TOTP code wins.
type LoginInput struct {
	Identifier string
	Password   string
	MFACode    string
	BackupCode string
}

// LoginResult carries the issued token pair and the post-login identity.
type LoginResult struct {
	Tokens   token.Pair
	Identity *identity.Identity
}

// errBackupCodeRaced reports a backup code that was present at the gate
// check but consumed by a concurrent request before our write landed.
var errBackupCodeRaced = errors.New("backup code consumed concurrently")

// errLockRaced reports a lockout that landed between our read and our
// conditional write; the failure must not count against the fresh lock.
var errLockRaced = errors.New("lockout landed concurrently")

// Login authenticates an identifier+password pair, enforcing the lockout
// threshold, the account-status gate and the MFA gate, in that order. Every
// refusal emits an audit record; failed attempts mutate the counter through
// a conditional write.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	in.Identifier = strings.TrimSpace(in.Identifier)
	origin := OriginFrom(ctx)
	now := s.now()

	if err := s.throttle("login", s.limiter.CheckLogin(ctx, in.Identifier, origin.IP)); err != nil {
		s.metrics.Inc(metrics.MetricLoginRateLimited)
		s.audit(ctx, recordSpec{action: audit.ActionFailedLogin, event: audit.EventLoginRateLimited}, nil)
		return nil, err
	}

	if in.Identifier == "" || in.Password == "" {
		s.hasher.VerifyDummy(in.Password)
		s.spendLoginBudget(ctx, in.Identifier, origin.IP)
		s.metrics.Inc(metrics.MetricLoginFailure)
		s.audit(ctx, recordSpec{action: audit.ActionFailedLogin, event: audit.EventLoginFailure}, nil)
		return nil, ErrInvalidCredentials
	}

	id, err := s.resolve(ctx, in.Identifier)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			// Unknown identifiers burn the same hash cost as a mismatch so
			// response timing does not confirm account existence.
			s.hasher.VerifyDummy(in.Password)
			s.spendLoginBudget(ctx, in.Identifier, origin.IP)
			s.metrics.Inc(metrics.MetricLoginFailure)
			s.audit(ctx, recordSpec{action: audit.ActionFailedLogin, event: audit.EventLoginFailure}, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if id.Locked(now) {
		s.metrics.Inc(metrics.MetricLoginLocked)
		s.audit(ctx, recordSpec{actor: id.ID, action: audit.ActionFailedLogin, event: audit.EventLoginLocked}, id)
		return nil, s.lockedErr(id, now)
	}

	match, err := s.hasher.Verify(in.Password, id.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password for identity %s: %w", id.ID, err)
	}
	if !match {
		return nil, s.failLogin(ctx, id, in.Identifier, audit.EventLoginFailure, metrics.MetricLoginFailure, ErrInvalidCredentials)
	}

	if id.Status != identity.StatusActive {
		s.metrics.Inc(metrics.MetricLoginDisabled)
		s.audit(ctx, recordSpec{actor: id.ID, action: audit.ActionFailedLogin, event: audit.EventLoginDisabled}, id)
		return nil, ErrAccountDisabled
	}

	var (
		usedBackupCode bool
		backupDigest   string
	)
	if id.MFAEnabled {
		switch {
		case in.MFACode != "":
			if !s.totp.Validate(in.MFACode, id.MFASecret) {
				return nil, s.failLogin(ctx, id, in.Identifier, audit.EventMFAInvalid, metrics.MetricMFAFailure, ErrMFAInvalid)
			}
			s.metrics.Inc(metrics.MetricMFASuccess)
		case in.BackupCode != "":
			backupDigest = mfa.HashCode(id.ID, mfa.Canonicalize(in.BackupCode))
			if _, spent := id.SpendBackupCode(backupDigest); !spent {
				return nil, s.failLogin(ctx, id, in.Identifier, audit.EventBackupCodeFailed, metrics.MetricBackupCodeFailed, ErrMFAInvalid)
			}
			usedBackupCode = true
		default:
			s.metrics.Inc(metrics.MetricMFARequired)
			s.audit(ctx, recordSpec{actor: id.ID, action: audit.ActionFailedLogin, event: audit.EventMFARequired}, id)
			return nil, ErrMFARequired
		}
	}

	// Recompute the expensive hash once, outside the write-retry loop.
	var upgradedHash string
	if needs, upErr := s.hasher.NeedsUpgrade(id.PasswordHash); upErr == nil && needs {
		if upgradedHash, upErr = s.hasher.Hash(in.Password); upErr != nil {
			s.logger.Warn("password rehash on login failed",
				zap.String("identity_id", id.ID), zap.Error(upErr))
			upgradedHash = ""
		}
	}
	in.Password = ""

	event := audit.EventLoginSuccess
	if usedBackupCode {
		event = audit.EventBackupCodeUsed
	}
	updated, err := s.writeThrough(ctx, id, recordSpec{actor: id.ID, action: audit.ActionLogin, event: event},
		func(cur identity.Identity) (identity.Identity, error) {
			next := cur
			if usedBackupCode {
				var spent bool
				if next, spent = next.SpendBackupCode(backupDigest); !spent {
					return identity.Identity{}, errBackupCodeRaced
				}
			}
			next = next.RecordSuccess(now)
			if upgradedHash != "" {
				next = next.RehashPassword(upgradedHash)
			}
			return next, nil
		})
	if err != nil {
		if errors.Is(err, errBackupCodeRaced) {
			return nil, s.failLogin(ctx, id, in.Identifier, audit.EventBackupCodeFailed, metrics.MetricBackupCodeFailed, ErrMFAInvalid)
		}
		return nil, err
	}

	if usedBackupCode {
		s.metrics.Inc(metrics.MetricBackupCodeUsed)
	}
	if upgradedHash != "" {
		s.metrics.Inc(metrics.MetricPasswordRehash)
		s.audit(ctx, recordSpec{actor: updated.ID, action: audit.ActionUpdate, event: audit.EventPasswordRehash}, updated)
	}
	if err := s.limiter.ResetLogin(ctx, in.Identifier, origin.IP); err != nil {
		s.logger.Warn("login throttle reset failed", zap.Error(err))
	}

	pair, err := s.tokens.IssuePair(updated.ID, updated.Username, updated.Role, s.permissions(ctx, updated.Role))
	if err != nil {
		return nil, err
	}

	s.metrics.Inc(metrics.MetricLoginSuccess)
	return &LoginResult{Tokens: pair, Identity: updated}, nil
}

// Logout is a client-side token discard; the refresh token stays valid until
// it expires. The call exists so the intent lands in the audit trail.
func (s *Service) Logout(ctx context.Context, identityID string) {
	rec := s.newRecord(ctx, recordSpec{actor: identityID, action: audit.ActionLogout, event: audit.EventLogout}, nil, nil)
	rec.ResourceID = identityID
	s.relay(ctx, rec)
	s.metrics.Inc(metrics.MetricLogout)
}

// failLogin counts one failed attempt against the identity through a
// conditional write, locking the account when the attempt crosses the
// threshold. The caller-visible error is cause, or the lockout when this
// attempt triggered it.
func (s *Service) failLogin(
	ctx context.Context,
	id *identity.Identity,
	identifier, event string,
	metric metrics.MetricID,
	cause error,
) error {
	now := s.now()

	var locked bool
	updated, err := s.writeThrough(ctx, id, recordSpec{actor: id.ID, action: audit.ActionFailedLogin, event: event},
		func(cur identity.Identity) (identity.Identity, error) {
			if cur.Locked(now) {
				return identity.Identity{}, errLockRaced
			}
			next, justLocked := cur.RecordFailure(now, s.cfg.LockoutThreshold, s.cfg.LockoutDuration)
			locked = justLocked
			return next, nil
		})
	if errors.Is(err, errLockRaced) {
		// A concurrent attempt tripped the lock first. Report the lock
		// without counting this attempt against the fresh window.
		if fresh, ferr := s.store.ByID(ctx, id.ID); ferr == nil {
			id = fresh
		}
		s.metrics.Inc(metrics.MetricLoginLocked)
		s.audit(ctx, recordSpec{actor: id.ID, action: audit.ActionFailedLogin, event: audit.EventLoginLocked}, id)
		return s.lockedErr(id, now)
	}
	if err != nil {
		return err
	}

	s.spendLoginBudget(ctx, identifier, OriginFrom(ctx).IP)
	s.metrics.Inc(metric)
	if locked {
		s.metrics.Inc(metrics.MetricLockoutTriggered)
		return s.lockedErr(updated, now)
	}
	return cause
}

// spendLoginBudget burns one unit of throttle budget. The outcome never
// changes the response; the attempt already failed.
func (s *Service) spendLoginBudget(ctx context.Context, identifier, ip string) {
	if err := s.limiter.IncrementLogin(ctx, identifier, ip); err != nil && !errors.Is(err, rate.ErrRateLimited) {
		s.logger.Warn("login throttle increment failed", zap.Error(err))
	}
}

func (s *Service) lockedErr(id *identity.Identity, now time.Time) error {
	until := now.Add(s.cfg.LockoutDuration)
	if id.LockedUntil != nil {
		until = *id.LockedUntil
	}
	return &LockedError{Until: until, RetryAfter: until.Sub(now)}
}
