package identity

import (
	"errors"
	"time"
)

// Transitions take an identity snapshot by value and return the successor
// state. Nothing here touches storage: callers persist the result with a
// version-conditional write and retry from a fresh read on conflict, which
// keeps per-identity lockout state linearizable without row locks held in
// application code.

// ErrNotVerified guards the Pending→Active edge: verification is the only
// way in.
var ErrNotVerified = errors.New("identity email not verified")

// RecordFailure counts one failed login attempt. When the counter reaches
// threshold the lock is set to now+lockFor and the counter returns to zero
// in the same transition. The second return reports whether this attempt
// tripped the lock.
func (id Identity) RecordFailure(now time.Time, threshold int, lockFor time.Duration) (Identity, bool) {
	id.FailedLogins++
	if threshold > 0 && id.FailedLogins >= threshold {
		until := now.Add(lockFor)
		id.LockedUntil = &until
		id.FailedLogins = 0
		return id, true
	}
	return id, false
}

// RecordSuccess clears failure tracking and stamps the login time.
func (id Identity) RecordSuccess(now time.Time) Identity {
	id.FailedLogins = 0
	id.LockedUntil = nil
	login := now
	id.LastLogin = &login
	return id
}

// Unlock clears the lock and the counter without a successful login.
// Used by admin unlock and by password-reset completion.
func (id Identity) Unlock() Identity {
	id.FailedLogins = 0
	id.LockedUntil = nil
	return id
}

// RehashPassword swaps in a stronger hash of the same password.
func (id Identity) RehashPassword(hash string) Identity {
	id.PasswordHash = hash
	return id
}

// IssueResetToken stores a new reset token hash and expiry, overwriting any
// outstanding token: only one live reset token per identity.
func (id Identity) IssueResetToken(hash string, expiry time.Time) Identity {
	id.ResetTokenHash = hash
	e := expiry
	id.ResetExpiry = &e
	return id
}

// CompleteReset installs the new password hash, consumes the reset token and
// lifts any lockout, so a reset always restores the ability to log in.
func (id Identity) CompleteReset(newHash string) Identity {
	id.PasswordHash = newHash
	id.ResetTokenHash = ""
	id.ResetExpiry = nil
	id.FailedLogins = 0
	id.LockedUntil = nil
	return id
}

// ResetOutstanding reports whether a live, unexpired reset token exists.
// Expiry is evaluated lazily against now; expired tokens are simply dead.
func (id *Identity) ResetOutstanding(now time.Time) bool {
	return id.ResetTokenHash != "" && id.ResetExpiry != nil && id.ResetExpiry.After(now)
}

// EnrollMFA stores the secret and replaces the full backup-code set.
// Re-enrollment regenerates: previous codes are gone.
func (id Identity) EnrollMFA(secret string, codeHashes []string) Identity {
	id.MFAEnabled = true
	id.MFASecret = secret
	id.BackupCodes = append([]string(nil), codeHashes...)
	return id
}

// DisableMFA clears the secret and every backup code.
func (id Identity) DisableMFA() Identity {
	id.MFAEnabled = false
	id.MFASecret = ""
	id.BackupCodes = nil
	return id
}

// SpendBackupCode removes the matching code hash from the set. A miss
// returns the identity unchanged and false: consuming an unknown or used
// code never mutates state.
func (id Identity) SpendBackupCode(codeHash string) (Identity, bool) {
	for i, h := range id.BackupCodes {
		if h == codeHash {
			remaining := make([]string, 0, len(id.BackupCodes)-1)
			remaining = append(remaining, id.BackupCodes[:i]...)
			remaining = append(remaining, id.BackupCodes[i+1:]...)
			id.BackupCodes = remaining
			return id, true
		}
	}
	return id, false
}

// IssueVerificationToken replaces the outstanding email-verification token.
func (id Identity) IssueVerificationToken(hash string) Identity {
	id.VerifyTokenHash = hash
	return id
}

// MarkVerified is the only Pending→Active edge. Identities already past
// Pending keep their status; only the verification timestamp is stamped.
func (id Identity) MarkVerified(now time.Time) Identity {
	verified := now
	id.EmailVerifiedAt = &verified
	id.VerifyTokenHash = ""
	if id.Status == StatusPending {
		id.Status = StatusActive
	}
	return id
}

// ChangeStatus applies an explicit status change. Activating an identity
// whose email was never verified is refused: verification is the only path
// out of Pending.
func (id Identity) ChangeStatus(next Status) (Identity, error) {
	if next == StatusActive && !id.Verified() {
		return id, ErrNotVerified
	}
	id.Status = next
	return id, nil
}
