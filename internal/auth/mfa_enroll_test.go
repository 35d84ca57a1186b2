package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pquerna/otp/totp"

	"github.com/coverbridge/auth-service/internal/audit"
	"github.com/coverbridge/auth-service/internal/mfa"
)

func TestEnableMFAProvisionsSecret(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newActiveUser(t, "dee", "dee@coverbridge.test")

	enroll, err := env.svc.EnableMFA(ctx, user.ID, "")
	if err != nil {
		t.Fatalf("EnableMFA failed: %v", err)
	}
	if enroll.Secret == "" {
		t.Fatal("expected a provisioned secret")
	}
	if !strings.HasPrefix(enroll.OTPAuthURL, "otpauth://totp/") {
		t.Fatalf("otpauth URL = %q", enroll.OTPAuthURL)
	}
	if !strings.Contains(enroll.OTPAuthURL, "CoverBridge") {
		t.Fatalf("expected the issuer in %q", enroll.OTPAuthURL)
	}
	if len(enroll.BackupCodes) != mfa.CodeCount {
		t.Fatalf("backup codes = %d, want %d", len(enroll.BackupCodes), mfa.CodeCount)
	}

	fresh, _ := env.store.ByID(ctx, user.ID)
	if !fresh.MFAEnabled || fresh.MFASecret != enroll.Secret {
		t.Fatal("expected the secret persisted on the identity")
	}
	if len(fresh.BackupCodes) != mfa.CodeCount {
		t.Fatalf("persisted code hashes = %d, want %d", len(fresh.BackupCodes), mfa.CodeCount)
	}
	for i, hash := range fresh.BackupCodes {
		for _, display := range enroll.BackupCodes {
			if hash == display || hash == mfa.Canonicalize(display) {
				t.Fatalf("code %d stored in a recoverable form", i)
			}
		}
	}
	if got := countEvent(env.store.Audits(), audit.EventMFAEnabled); got != 1 {
		t.Fatalf("durable mfa_enabled records = %d, want 1", got)
	}
}

func TestEnableMFAWithCallerSecret(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newActiveUser(t, "eva", "eva@coverbridge.test")

	// Authenticator apps render secrets spaced and lower-cased; the stored
	// form is canonical base32.
	enroll, err := env.svc.EnableMFA(ctx, user.ID, "jbsw y3dp ehpk 3pxp jbsw y3dp")
	if err != nil {
		t.Fatalf("EnableMFA failed: %v", err)
	}
	if enroll.Secret != "" || enroll.OTPAuthURL != "" {
		t.Fatal("caller-supplied secrets must not be echoed back")
	}

	fresh, _ := env.store.ByID(ctx, user.ID)
	if fresh.MFASecret != "JBSWY3DPEHPK3PXPJBSWY3DP" {
		t.Fatalf("stored secret = %q, want canonical form", fresh.MFASecret)
	}

	code, err := totp.GenerateCode(fresh.MFASecret, env.clock.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	if _, err := env.svc.Login(ctx, LoginInput{Identifier: "eva", Password: testPassword, MFACode: code}); err != nil {
		t.Fatalf("login against caller secret failed: %v", err)
	}
}

func TestEnableMFARejectsBadSecret(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newActiveUser(t, "fox", "fox@coverbridge.test")

	for _, secret := range []string{"short", "not base32 at all!!!!!!", "01010101INVALID0"} {
		_, err := env.svc.EnableMFA(ctx, user.ID, secret)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("secret %q: expected ValidationError, got %v", secret, err)
		}
	}

	fresh, _ := env.store.ByID(ctx, user.ID)
	if fresh.MFAEnabled {
		t.Fatal("rejected enrollment must not enable MFA")
	}
}

func TestEnableMFARequiresActiveAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "gil", "gil@coverbridge.test")

	if _, err := env.svc.EnableMFA(ctx, user.ID, ""); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled for a pending account, got %v", err)
	}
}

func TestReenrollKillsOldBackupCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newActiveUser(t, "hal", "hal@coverbridge.test")

	first, err := env.svc.EnableMFA(ctx, user.ID, "")
	if err != nil {
		t.Fatalf("first enrollment failed: %v", err)
	}
	second, err := env.svc.EnableMFA(ctx, user.ID, "")
	if err != nil {
		t.Fatalf("re-enrollment failed: %v", err)
	}
	if first.Secret == second.Secret {
		t.Fatal("expected a fresh secret on re-enrollment")
	}

	_, err = env.svc.Login(ctx, LoginInput{Identifier: "hal", Password: testPassword, BackupCode: first.BackupCodes[0]})
	if !errors.Is(err, ErrMFAInvalid) {
		t.Fatalf("expected the superseded code rejected, got %v", err)
	}
	if _, err := env.svc.Login(ctx, LoginInput{Identifier: "hal", Password: testPassword, BackupCode: second.BackupCodes[0]}); err != nil {
		t.Fatalf("login with the current code set failed: %v", err)
	}
}

func TestDisableMFA(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newActiveUser(t, "ivy", "ivy@coverbridge.test")

	if err := env.svc.DisableMFA(ctx, user.ID); !errors.Is(err, ErrMFANotEnabled) {
		t.Fatalf("expected ErrMFANotEnabled before enrollment, got %v", err)
	}

	if _, err := env.svc.EnableMFA(ctx, user.ID, ""); err != nil {
		t.Fatalf("EnableMFA failed: %v", err)
	}
	if err := env.svc.DisableMFA(ctx, user.ID); err != nil {
		t.Fatalf("DisableMFA failed: %v", err)
	}

	fresh, _ := env.store.ByID(ctx, user.ID)
	if fresh.MFAEnabled || fresh.MFASecret != "" || len(fresh.BackupCodes) != 0 {
		t.Fatal("expected secret and codes cleared")
	}

	// Password alone is sufficient again.
	if _, err := env.svc.Login(ctx, LoginInput{Identifier: "ivy", Password: testPassword}); err != nil {
		t.Fatalf("login after disable failed: %v", err)
	}
	if got := countEvent(env.store.Audits(), audit.EventMFADisabled); got != 1 {
		t.Fatalf("durable mfa_disabled records = %d, want 1", got)
	}
}
