// Package identity holds the account data model, the pure state-transition
// functions that drive the lockout and lifecycle machinery, and the Store
// contract every persistence backend implements.
package identity

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the persisted lifecycle state of an identity. "Locked" is not a
// status: it is derived from LockedUntil being set and in the future.
type Status uint8

const (
	StatusPending Status = iota
	StatusActive
	StatusInactive
	StatusSuspended
)

var statusNames = map[Status]string{
	StatusPending:   "pending",
	StatusActive:    "active",
	StatusInactive:  "inactive",
	StatusSuspended: "suspended",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStatus maps the wire representation back to a Status.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return StatusPending, errors.New("unknown status: " + name)
}

// Identity is one account record. Instances are treated as immutable
// snapshots: transitions return a new value and persistence is a
// version-conditional write, never an in-place mutation.
type Identity struct {
	ID           string
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string

	Status          Status
	EmailVerifiedAt *time.Time

	FailedLogins int
	LockedUntil  *time.Time

	MFAEnabled      bool
	MFASecret       string
	BackupCodes     []string // salted SHA-256 digests, hex encoded
	ResetTokenHash  string
	ResetExpiry     *time.Time
	VerifyTokenHash string

	Role      string
	LastLogin *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// Locked reports whether the identity is under an active lockout.
func (id *Identity) Locked(now time.Time) bool {
	return id.LockedUntil != nil && id.LockedUntil.After(now)
}

// LockRemaining is the time left on an active lockout, zero otherwise.
func (id *Identity) LockRemaining(now time.Time) time.Duration {
	if !id.Locked(now) {
		return 0
	}
	return id.LockedUntil.Sub(now)
}

// Verified reports whether the email has ever been verified. Status alone
// cannot answer this once admins suspend and reinstate accounts.
func (id *Identity) Verified() bool {
	return id.EmailVerifiedAt != nil
}

// Clone deep-copies the identity so stores and callers never alias state.
func (id *Identity) Clone() *Identity {
	c := *id
	c.LockedUntil = cloneTime(id.LockedUntil)
	c.EmailVerifiedAt = cloneTime(id.EmailVerifiedAt)
	c.ResetExpiry = cloneTime(id.ResetExpiry)
	c.LastLogin = cloneTime(id.LastLogin)
	if id.BackupCodes != nil {
		c.BackupCodes = append([]string(nil), id.BackupCodes...)
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Snapshot is the redacted audit view of an identity. Password hashes, MFA
// secrets and token hashes never appear; only their presence does.
type Snapshot struct {
	Username         string     `json:"username"`
	Email            string     `json:"email"`
	Status           string     `json:"status"`
	EmailVerified    bool       `json:"email_verified"`
	FailedLogins     int        `json:"failed_logins"`
	LockedUntil      *time.Time `json:"locked_until,omitempty"`
	MFAEnabled       bool       `json:"mfa_enabled"`
	BackupCodesLeft  int        `json:"backup_codes_left"`
	ResetOutstanding bool       `json:"reset_outstanding"`
	Role             string     `json:"role"`
	LastLogin        *time.Time `json:"last_login,omitempty"`
	Version          int64      `json:"version"`
}

// Snapshot builds the redacted view for audit records.
func (id *Identity) Snapshot() Snapshot {
	return Snapshot{
		Username:         id.Username,
		Email:            id.Email,
		Status:           id.Status.String(),
		EmailVerified:    id.Verified(),
		FailedLogins:     id.FailedLogins,
		LockedUntil:      cloneTime(id.LockedUntil),
		MFAEnabled:       id.MFAEnabled,
		BackupCodesLeft:  len(id.BackupCodes),
		ResetOutstanding: id.ResetTokenHash != "",
		Role:             id.Role,
		LastLogin:        cloneTime(id.LastLogin),
		Version:          id.Version,
	}
}

// SnapshotJSON marshals the redacted view; audit storage wants raw JSON.
func (id *Identity) SnapshotJSON() json.RawMessage {
	data, err := json.Marshal(id.Snapshot())
	if err != nil {
		return nil
	}
	return data
}

// Role is reference data: a named set of opaque permission strings. System
// roles are seeded at startup and protected from deletion.
type Role struct {
	Name        string
	Permissions []string
	System      bool
}

// Has reports whether the role carries the given permission string.
func (r *Role) Has(permission string) bool {
	if r == nil {
		return false
	}
	for _, p := range r.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
