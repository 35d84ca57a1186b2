// Package audit defines the immutable audit record model and an async
// emitter that relays committed records to pluggable sinks.
//
// # Components
//
//   - [Record] - one security-relevant state change: actor, action, resource,
//     before/after snapshots, origin metadata.
//   - [Sink] - interface for record consumers (log, Kafka, channel, no-op).
//   - [Emitter] - buffered async relay with a drop counter and drain-on-close.
//
// # Architecture boundaries
//
// Durability is not this package's job: stores persist records inside the
// same transaction as the mutation they describe. The Emitter is a
// best-effort observability relay over already-committed records; a dropped
// relay never loses the durable trail.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Action is the coarse kind of state change a record describes.
type Action string

const (
	ActionCreate      Action = "create"
	ActionUpdate      Action = "update"
	ActionLogin       Action = "login"
	ActionLogout      Action = "logout"
	ActionFailedLogin Action = "failed_login"
)

// Resource types referenced by audit records.
const (
	ResourceIdentity = "identity"
	ResourceRole     = "role"
)

// Fine-grained event names. One Action can cover several of these.
const (
	EventLoginSuccess          = "login_success"
	EventLoginFailure          = "login_failure"
	EventLoginLocked           = "login_locked"
	EventLoginDisabled         = "login_disabled"
	EventLoginRateLimited      = "login_rate_limited"
	EventMFARequired           = "mfa_required"
	EventMFAInvalid            = "mfa_invalid"
	EventBackupCodeUsed        = "backup_code_used"
	EventBackupCodeFailed      = "backup_code_failed"
	EventRefreshSuccess        = "refresh_success"
	EventRefreshInvalid        = "refresh_invalid"
	EventLogout                = "logout"
	EventAccountCreated        = "account_created"
	EventAccountDuplicate      = "account_creation_duplicate"
	EventAccountStatusChange   = "account_status_change"
	EventAccountUnlocked       = "account_unlocked"
	EventEmailVerifyRequest    = "email_verification_request"
	EventEmailVerifyConfirm    = "email_verification_confirm"
	EventEmailVerifyFailed     = "email_verification_failed"
	EventPasswordResetRequest  = "password_reset_request"
	EventPasswordResetComplete = "password_reset_complete"
	EventPasswordResetFailed   = "password_reset_failed"
	EventPasswordRehash        = "password_rehash"
	EventMFAEnabled            = "mfa_enabled"
	EventMFADisabled           = "mfa_disabled"
	EventRateLimitTriggered    = "rate_limit_triggered"
)

// Origin carries request metadata captured at the boundary.
type Origin struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Record is one immutable audit entry. ActorID is empty when the acting
// identity never resolved (e.g. a failed login for an unknown identifier).
// Before and After hold redacted JSON snapshots for updates; creates carry
// only After.
type Record struct {
	ID           string          `json:"id"`
	At           time.Time       `json:"at"`
	ActorID      string          `json:"actor_id,omitempty"`
	Action       Action          `json:"action"`
	Event        string          `json:"event"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	Origin       Origin          `json:"origin"`
}

// Sink receives relayed audit records.
type Sink interface {
	Emit(ctx context.Context, rec Record)
}

// NoOpSink drops records.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Record) {}

// ChannelSink writes records into a buffered channel. Used by tests and by
// consumers that want to pull rather than be called.
type ChannelSink struct {
	records chan Record
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		records: make(chan Record, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, rec Record) {
	select {
	case s.records <- rec:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Records() <-chan Record {
	return s.records
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, rec Record) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// MultiSink fans one record out to every child sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, rec Record) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, rec)
		}
	}
}
