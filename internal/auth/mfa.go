package auth

import (
	"context"
	"encoding/base32"
	"strings"

	"github.com/coverbridge/auth-service/internal/audit"
	"github.com/coverbridge/auth-service/internal/identity"
	"github.com/coverbridge/auth-service/internal/metrics"
	"github.com/coverbridge/auth-service/internal/mfa"
)

// MFAEnrollment is handed to the caller exactly once. Secret and OTPAuthURL
// are set only when the service provisioned the secret; the backup codes are
// never retrievable again after this response.
type MFAEnrollment struct {
	Secret      string
	OTPAuthURL  string
	BackupCodes []string
}

// EnableMFA enrolls the identity in multi-factor login. A caller-supplied
// TOTP secret is used as-is after shape validation; otherwise the service
// provisions one and returns it with its otpauth:// URL. Enrollment always
// mints a full fresh backup-code set; re-enrolling replaces the secret and
// codes, and any previously issued codes are dead.
func (s *Service) EnableMFA(ctx context.Context, identityID, totpSecret string) (*MFAEnrollment, error) {
	id, err := s.store.ByID(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if id.Status != identity.StatusActive {
		return nil, ErrAccountDisabled
	}

	out := &MFAEnrollment{}
	secret := canonicalTOTPSecret(totpSecret)
	switch {
	case totpSecret == "":
		url := ""
		if secret, url, err = s.totp.Enroll(id.Username); err != nil {
			return nil, err
		}
		out.Secret = secret
		out.OTPAuthURL = url
	case secret == "":
		return nil, &ValidationError{Fields: map[string]string{
			"totpSecret": "must be base32",
		}}
	}

	display, hashes, err := mfa.GenerateCodes(id.ID, mfa.CodeCount)
	if err != nil {
		return nil, err
	}
	out.BackupCodes = display

	if _, err := s.writeThrough(ctx, id,
		recordSpec{actor: id.ID, action: audit.ActionUpdate, event: audit.EventMFAEnabled},
		func(cur identity.Identity) (identity.Identity, error) {
			return cur.EnrollMFA(secret, hashes), nil
		}); err != nil {
		return nil, err
	}

	s.metrics.Inc(metrics.MetricMFAEnrolled)
	return out, nil
}

// DisableMFA clears the secret and every backup code.
func (s *Service) DisableMFA(ctx context.Context, identityID string) error {
	id, err := s.store.ByID(ctx, identityID)
	if err != nil {
		return err
	}
	if !id.MFAEnabled {
		return ErrMFANotEnabled
	}

	if _, err := s.writeThrough(ctx, id,
		recordSpec{actor: id.ID, action: audit.ActionUpdate, event: audit.EventMFADisabled},
		func(cur identity.Identity) (identity.Identity, error) {
			if !cur.MFAEnabled {
				return identity.Identity{}, ErrMFANotEnabled
			}
			return cur.DisableMFA(), nil
		}); err != nil {
		return err
	}

	s.metrics.Inc(metrics.MetricMFADisabled)
	return nil
}

// canonicalTOTPSecret normalizes a caller-supplied secret the way
// authenticator apps render them: case-folded, spacing and padding
// stripped. Returns "" when the result is not plausible base32.
func canonicalTOTPSecret(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.TrimRight(s, "=")
	if len(s) < 16 {
		return ""
	}
	if _, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s); err != nil {
		return ""
	}
	return s
}

// Identity fetches the caller's own record for profile responses.
func (s *Service) Identity(ctx context.Context, identityID string) (*identity.Identity, error) {
	return s.store.ByID(ctx, identityID)
}
