package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coverbridge/auth-service/internal/audit"
	"github.com/coverbridge/auth-service/internal/identity"
	"github.com/coverbridge/auth-service/internal/metrics"
	"github.com/coverbridge/auth-service/internal/mfa"
	"github.com/coverbridge/auth-service/internal/notify"
	"github.com/coverbridge/auth-service/internal/password"
	"github.com/coverbridge/auth-service/internal/rate"
	"github.com/coverbridge/auth-service/internal/token"
)

// Conditional writes retry from a fresh read this many times before the
// conflict surfaces to the caller.
const maxWriteRetries = 4

// Config carries the security tunables the flows apply.
type Config struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
	ResetTokenTTL    time.Duration
}

// Deps wires the Service to its collaborators. Store, Hasher and Tokens are
// required; everything else degrades to a safe no-op when absent.
type Deps struct {
	Store    identity.Store
	Hasher   *password.Hasher
	Tokens   *token.Manager
	TOTP     *mfa.TOTP
	Limiter  *rate.Limiter
	Emitter  *audit.Emitter
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Now      func() time.Time
}

// Service implements every account-security operation.
type Service struct {
	store    identity.Store
	hasher   *password.Hasher
	tokens   *token.Manager
	totp     *mfa.TOTP
	limiter  *rate.Limiter
	emitter  *audit.Emitter
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
}

func New(deps Deps, cfg Config) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("auth: identity store is required")
	}
	if deps.Hasher == nil {
		return nil, errors.New("auth: password hasher is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("auth: token manager is required")
	}

	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = &notify.LogNotifier{Logger: deps.Logger}
	}
	if deps.TOTP == nil {
		deps.TOTP = mfa.NewTOTP("", deps.Now)
	}

	if cfg.LockoutThreshold <= 0 {
		cfg.LockoutThreshold = 5
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 30 * time.Minute
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = 24 * time.Hour
	}

	return &Service{
		store:    deps.Store,
		hasher:   deps.Hasher,
		tokens:   deps.Tokens,
		totp:     deps.TOTP,
		limiter:  deps.Limiter,
		emitter:  deps.Emitter,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		cfg:      cfg,
		now:      deps.Now,
	}, nil
}

// recordSpec names the audit shape of one mutation or refusal.
type recordSpec struct {
	actor  string
	action audit.Action
	event  string
}

// newRecord builds an audit record from redacted snapshots. Creates carry
// only After; refusals with no resolved identity carry neither.
func (s *Service) newRecord(ctx context.Context, spec recordSpec, before, after *identity.Identity) audit.Record {
	rec := audit.Record{
		ID:           uuid.NewString(),
		At:           s.now(),
		ActorID:      spec.actor,
		Action:       spec.action,
		Event:        spec.event,
		ResourceType: audit.ResourceIdentity,
		Origin:       OriginFrom(ctx),
	}
	if before != nil {
		rec.ResourceID = before.ID
		rec.Before = before.SnapshotJSON()
	}
	if after != nil {
		rec.ResourceID = after.ID
		rec.After = after.SnapshotJSON()
	}
	return rec
}

// relay hands a committed or refusal record to the async emitter.
func (s *Service) relay(ctx context.Context, rec audit.Record) {
	s.emitter.Emit(ctx, rec)
}

// audit emits a refusal record that changed no state. The durable trail only
// holds records committed alongside mutations; refusals flow through the
// relay alone.
func (s *Service) audit(ctx context.Context, spec recordSpec, subject *identity.Identity) {
	s.relay(ctx, s.newRecord(ctx, spec, subject, nil))
}

// writeThrough applies a pure transition to the given snapshot and persists
// it with a version-conditional write. On version conflict it re-reads and
// reapplies, up to maxWriteRetries attempts. The audit record commits with
// the mutation and is relayed after.
func (s *Service) writeThrough(
	ctx context.Context,
	cur *identity.Identity,
	spec recordSpec,
	apply func(identity.Identity) (identity.Identity, error),
) (*identity.Identity, error) {
	for attempt := 0; ; attempt++ {
		next, err := apply(*cur)
		if err != nil {
			return nil, err
		}
		next.UpdatedAt = s.now()

		rec := s.newRecord(ctx, spec, cur, &next)
		err = s.store.Update(ctx, &next, cur.Version, rec)
		if err == nil {
			s.relay(ctx, rec)
			return &next, nil
		}
		if !errors.Is(err, identity.ErrVersionConflict) {
			return nil, err
		}
		if attempt+1 >= maxWriteRetries {
			return nil, fmt.Errorf("conditional write on identity %s: %w", cur.ID, err)
		}

		cur, err = s.store.ByID(ctx, cur.ID)
		if err != nil {
			return nil, err
		}
	}
}

// throttle interprets a limiter result. Budget exhaustion refuses the
// request; backend trouble fails open with a warning, since the store-backed
// lockout still protects credentials without Redis.
func (s *Service) throttle(kind string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, rate.ErrRateLimited) {
		return err
	}
	s.logger.Warn("throttle backend unavailable, failing open",
		zap.String("kind", kind), zap.Error(err))
	return nil
}

// resolve finds an identity by exact username first, then by
// case-insensitive email.
func (s *Service) resolve(ctx context.Context, identifier string) (*identity.Identity, error) {
	id, err := s.store.ByLogin(ctx, identifier)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return nil, err
	}
	return s.store.ByEmail(ctx, identifier)
}

// permissions resolves the role's permission set; a missing role yields an
// empty set rather than an error so login never breaks on role drift.
func (s *Service) permissions(ctx context.Context, roleName string) []string {
	role, err := s.store.Role(ctx, roleName)
	if err != nil {
		s.logger.Warn("role lookup failed, issuing empty permission set",
			zap.String("role", roleName), zap.Error(err))
		return nil
	}
	return role.Permissions
}
