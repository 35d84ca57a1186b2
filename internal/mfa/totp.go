// Package mfa provides the time-based one-time-password and backup-code
// primitives behind multi-factor login. Enrollment state itself lives on
// the identity; this package only generates, hashes and checks codes.
package mfa

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod     = 30
	totpSecretSize = 32

	// totpSkew accepts one step either side of the current window, so a
	// code from the previous or next 30s period still validates. Wider
	// skew widens the brute-force surface; one step covers normal clock
	// drift.
	totpSkew = 1
)

// TOTP validates RFC 6238 one-time codes against enrolled secrets.
type TOTP struct {
	issuer string
	now    func() time.Time
}

// NewTOTP builds a validator. issuer appears in authenticator apps next to
// the account name. now overrides the clock; nil means time.Now.
func NewTOTP(issuer string, now func() time.Time) *TOTP {
	if now == nil {
		now = time.Now
	}
	return &TOTP{issuer: issuer, now: now}
}

// Enroll generates a fresh secret and the otpauth:// URL an authenticator
// app consumes. The secret is returned exactly once; callers store it on
// the identity and never render it again.
func (t *TOTP) Enroll(accountName string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// Validate reports whether code is correct for secret in the current or an
// adjacent 30-second window.
func (t *TOTP) Validate(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, t.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
