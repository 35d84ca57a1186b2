package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Sentinel errors returned by Service operations. The HTTP layer maps each
// to a status code and a stable error code; callers match with errors.Is.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountLocked       = errors.New("account locked")
	ErrAccountDisabled     = errors.New("account disabled")
	ErrMFARequired         = errors.New("mfa required")
	ErrMFAInvalid          = errors.New("invalid one-time code")
	ErrMFANotEnabled       = errors.New("mfa not enabled")
	ErrResetInvalid        = errors.New("invalid or expired reset token")
	ErrVerificationInvalid = errors.New("invalid verification token")
	ErrPermissionDenied    = errors.New("permission denied")
)

// LockedError reports an active lockout together with its remaining
// duration. errors.Is(err, ErrAccountLocked) matches it.
type LockedError struct {
	Until      time.Time
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked for %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// ValidationError collects per-field input problems so the caller can fix
// everything in one round trip.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, f)
	}
	sort.Strings(names)
	return "validation failed: " + strings.Join(names, ", ")
}

type validation struct {
	fields map[string]string
}

func (v *validation) add(field, problem string) {
	if v.fields == nil {
		v.fields = make(map[string]string)
	}
	if _, exists := v.fields[field]; !exists {
		v.fields[field] = problem
	}
}

func (v *validation) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: v.fields}
}
