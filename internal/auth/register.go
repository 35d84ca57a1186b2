package auth

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coverbridge/auth-service/internal/audit"
	"github.com/coverbridge/auth-service/internal/identity"
	"github.com/coverbridge/auth-service/internal/metrics"
	"github.com/coverbridge/auth-service/internal/password"
)

// Self-serve registration maps userType onto one of these roles. Admin is
// seeded but never self-assignable.
var selfServeRoles = map[string]bool{
	"company":  true,
	"broker":   true,
	"provider": true,
	"member":   true,
}

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{2,49}$`)

// RegisterInput is the self-serve signup request.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	UserType  string
}

// RegisterResult reports the created identity.
type RegisterResult struct {
	UserID string
	Status identity.Status
}

// Register creates a Pending identity with a fresh verification token and
// hands the token to the notifier. Duplicate username or email surface as
// identity.ErrUsernameTaken / identity.ErrEmailTaken.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.UserType = strings.ToLower(strings.TrimSpace(in.UserType))

	if err := s.validateRegister(ctx, in); err != nil {
		return nil, err
	}

	origin := OriginFrom(ctx)
	if err := s.throttle("register", s.limiter.AllowRegister(ctx, origin.IP)); err != nil {
		s.metrics.Inc(metrics.MetricRegisterRateLimited)
		s.audit(ctx, recordSpec{action: audit.ActionCreate, event: audit.EventRateLimitTriggered}, nil)
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	verifyToken, verifyDigest, err := newOpaqueToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	id := identity.Identity{
		ID:              uuid.NewString(),
		Username:        in.Username,
		Email:           in.Email,
		FirstName:       in.FirstName,
		LastName:        in.LastName,
		PasswordHash:    hash,
		Status:          identity.StatusPending,
		VerifyTokenHash: verifyDigest,
		Role:            in.UserType,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	rec := s.newRecord(ctx, recordSpec{actor: id.ID, action: audit.ActionCreate, event: audit.EventAccountCreated}, nil, &id)
	if err := s.store.Create(ctx, &id, rec); err != nil {
		if errors.Is(err, identity.ErrUsernameTaken) || errors.Is(err, identity.ErrEmailTaken) {
			s.metrics.Inc(metrics.MetricRegisterDuplicate)
			s.audit(ctx, recordSpec{action: audit.ActionCreate, event: audit.EventAccountDuplicate}, nil)
		}
		return nil, err
	}
	s.relay(ctx, rec)
	s.metrics.Inc(metrics.MetricRegisterSuccess)

	if err := s.notifier.VerificationEmail(ctx, id.Email, verifyToken); err != nil {
		s.logger.Warn("verification mail dispatch failed",
			zap.String("identity_id", id.ID), zap.Error(err))
	}

	return &RegisterResult{UserID: id.ID, Status: id.Status}, nil
}

func (s *Service) validateRegister(ctx context.Context, in RegisterInput) error {
	var v validation

	if !usernameRe.MatchString(in.Username) {
		v.add("username", "must be 3-50 characters: letters, digits, '.', '_' or '-', starting with a letter or digit")
	}
	if !validEmail(in.Email) {
		v.add("email", "must be a valid email address")
	}
	if err := password.ValidatePolicy(in.Password); err != nil {
		var policyErr *password.PolicyError
		if errors.As(err, &policyErr) {
			v.add("password", strings.Join(policyErr.Failures, "; "))
		} else {
			v.add("password", err.Error())
		}
	}
	if in.FirstName == "" || utf8.RuneCountInString(in.FirstName) > 100 {
		v.add("firstName", "required, at most 100 characters")
	}
	if in.LastName == "" || utf8.RuneCountInString(in.LastName) > 100 {
		v.add("lastName", "required, at most 100 characters")
	}

	if !selfServeRoles[in.UserType] {
		v.add("userType", "must be one of: company, broker, provider, member")
	} else if role, err := s.store.Role(ctx, in.UserType); err != nil {
		if errors.Is(err, identity.ErrRoleNotFound) {
			v.add("userType", "unknown user type")
		} else {
			return err
		}
	} else if role.System {
		v.add("userType", "not self-assignable")
	}

	return v.err()
}

func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
