package metrics

import "sync/atomic"

// MetricID indexes one counter slot.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricLoginDisabled
	MetricLoginRateLimited
	MetricLockoutTriggered
	MetricMFARequired
	MetricMFASuccess
	MetricMFAFailure
	MetricBackupCodeUsed
	MetricBackupCodeFailed
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricLogout
	MetricRegisterSuccess
	MetricRegisterDuplicate
	MetricRegisterRateLimited
	MetricPasswordResetRequest
	MetricPasswordResetSuccess
	MetricPasswordResetFailure
	MetricPasswordRehash
	MetricEmailVerifySuccess
	MetricEmailVerifyFailure
	MetricMFAEnrolled
	MetricMFADisabled
	MetricAdminUnlock
	MetricAdminStatusChange
	metricIDCount
)

// Def describes one counter for exporters.
type Def struct {
	ID   MetricID
	Name string
	Help string
}

// Defs returns the export table, ordered by MetricID.
func Defs() []Def {
	return []Def{
		{MetricLoginSuccess, "auth_login_success_total", "Successful logins."},
		{MetricLoginFailure, "auth_login_failure_total", "Failed login attempts."},
		{MetricLoginLocked, "auth_login_locked_total", "Logins refused because the account is locked."},
		{MetricLoginDisabled, "auth_login_disabled_total", "Logins refused because the account is not active."},
		{MetricLoginRateLimited, "auth_login_rate_limited_total", "Logins refused by the request throttle."},
		{MetricLockoutTriggered, "auth_lockout_triggered_total", "Accounts locked by the failed-login threshold."},
		{MetricMFARequired, "auth_mfa_required_total", "Logins that advanced to the MFA step."},
		{MetricMFASuccess, "auth_mfa_success_total", "Accepted one-time codes."},
		{MetricMFAFailure, "auth_mfa_failure_total", "Rejected one-time codes."},
		{MetricBackupCodeUsed, "auth_backup_code_used_total", "Backup codes consumed."},
		{MetricBackupCodeFailed, "auth_backup_code_failed_total", "Backup code attempts that failed."},
		{MetricRefreshSuccess, "auth_refresh_success_total", "Successful token refreshes."},
		{MetricRefreshFailure, "auth_refresh_failure_total", "Rejected token refreshes."},
		{MetricLogout, "auth_logout_total", "Logout requests."},
		{MetricRegisterSuccess, "auth_register_success_total", "Accounts created."},
		{MetricRegisterDuplicate, "auth_register_duplicate_total", "Registrations refused for an existing username or email."},
		{MetricRegisterRateLimited, "auth_register_rate_limited_total", "Registrations refused by the request throttle."},
		{MetricPasswordResetRequest, "auth_password_reset_request_total", "Password reset requests accepted."},
		{MetricPasswordResetSuccess, "auth_password_reset_success_total", "Password resets completed."},
		{MetricPasswordResetFailure, "auth_password_reset_failure_total", "Password reset completions rejected."},
		{MetricPasswordRehash, "auth_password_rehash_total", "Hashes upgraded on login."},
		{MetricEmailVerifySuccess, "auth_email_verify_success_total", "Email addresses verified."},
		{MetricEmailVerifyFailure, "auth_email_verify_failure_total", "Email verification attempts rejected."},
		{MetricMFAEnrolled, "auth_mfa_enrolled_total", "MFA enrollments."},
		{MetricMFADisabled, "auth_mfa_disabled_total", "MFA disablements."},
		{MetricAdminUnlock, "auth_admin_unlock_total", "Administrative lock clears."},
		{MetricAdminStatusChange, "auth_admin_status_change_total", "Administrative status changes."},
	}
}

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed array of padded atomic counters. The zero receiver
// and a disabled instance are both safe no-ops.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Counters map[MetricID]uint64
}

// New returns a counter set; disabled instances ignore writes.
func New(enabled bool) *Metrics {
	return &Metrics{enabled: enabled}
}

// Enabled reports whether writes are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// TakeSnapshot copies every counter atomically slot by slot.
func (m *Metrics) TakeSnapshot() Snapshot {
	s := Snapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	if m == nil || !m.enabled {
		return s
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
