// Package pgstore persists identities, roles and the audit trail in
// PostgreSQL.
//
// Every write is optimistic: Update touches the row only where the stored
// version still equals the version the caller read, so concurrent
// read-modify-write cycles (failed-login counting above all) serialize
// without advisory locks. The audit record for a state change commits in
// the same transaction as the change itself.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coverbridge/auth-service/internal/audit"
	"github.com/coverbridge/auth-service/internal/identity"
)

//go:embed schema.sql
var schemaSQL string

// Store implements identity.Store over a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The pool's lifecycle stays with the caller.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates tables and indexes when absent. Statements are
// idempotent, so repeated boots are safe.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const identityColumns = `
	id, username, email, first_name, last_name, password_hash,
	status, email_verified_at, failed_logins, locked_until,
	mfa_enabled, mfa_secret, backup_codes,
	reset_token_hash, reset_expiry, verify_token_hash,
	role_name, last_login, created_at, updated_at, version`

func scanIdentity(row pgx.Row) (*identity.Identity, error) {
	var (
		id     identity.Identity
		status int16
	)
	err := row.Scan(
		&id.ID, &id.Username, &id.Email, &id.FirstName, &id.LastName, &id.PasswordHash,
		&status, &id.EmailVerifiedAt, &id.FailedLogins, &id.LockedUntil,
		&id.MFAEnabled, &id.MFASecret, &id.BackupCodes,
		&id.ResetTokenHash, &id.ResetExpiry, &id.VerifyTokenHash,
		&id.Role, &id.LastLogin, &id.CreatedAt, &id.UpdatedAt, &id.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	id.Status = identity.Status(status)
	return &id, nil
}

// Create inserts the identity at version 1 and its audit record in one
// transaction. Unique violations map onto the field-specific sentinels.
func (s *Store) Create(ctx context.Context, id *identity.Identity, rec audit.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	id.Version = 1
	_, err = tx.Exec(ctx, `
		INSERT INTO identities (
			id, username, email, first_name, last_name, password_hash,
			status, email_verified_at, failed_logins, locked_until,
			mfa_enabled, mfa_secret, backup_codes,
			reset_token_hash, reset_expiry, verify_token_hash,
			role_name, last_login, created_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16,
			$17, $18, $19, $20, $21
		)`,
		id.ID, id.Username, id.Email, id.FirstName, id.LastName, id.PasswordHash,
		int16(id.Status), id.EmailVerifiedAt, id.FailedLogins, id.LockedUntil,
		id.MFAEnabled, id.MFASecret, id.BackupCodes,
		id.ResetTokenHash, id.ResetExpiry, id.VerifyTokenHash,
		id.Role, id.LastLogin, id.CreatedAt, id.UpdatedAt, id.Version,
	)
	if err != nil {
		return mapUniqueViolation(err)
	}

	if err := insertAudit(ctx, tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Update writes the mutable identity fields where the stored version still
// matches expectedVersion, advancing the version by one. Zero rows means
// either a missing identity or a concurrent writer; the two are told apart
// with a follow-up existence check inside the same transaction.
func (s *Store) Update(ctx context.Context, id *identity.Identity, expectedVersion int64, rec audit.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE identities SET
			username = $3, email = $4, first_name = $5, last_name = $6,
			password_hash = $7, status = $8, email_verified_at = $9,
			failed_logins = $10, locked_until = $11,
			mfa_enabled = $12, mfa_secret = $13, backup_codes = $14,
			reset_token_hash = $15, reset_expiry = $16, verify_token_hash = $17,
			role_name = $18, last_login = $19, updated_at = $20,
			version = $2 + 1
		WHERE id = $1 AND version = $2`,
		id.ID, expectedVersion,
		id.Username, id.Email, id.FirstName, id.LastName,
		id.PasswordHash, int16(id.Status), id.EmailVerifiedAt,
		id.FailedLogins, id.LockedUntil,
		id.MFAEnabled, id.MFASecret, id.BackupCodes,
		id.ResetTokenHash, id.ResetExpiry, id.VerifyTokenHash,
		id.Role, id.LastLogin, id.UpdatedAt,
	)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM identities WHERE id = $1)`, id.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return identity.ErrNotFound
		}
		return identity.ErrVersionConflict
	}

	if err := insertAudit(ctx, tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	id.Version = expectedVersion + 1
	return nil
}

// ByID fetches one identity.
func (s *Store) ByID(ctx context.Context, id string) (*identity.Identity, error) {
	return scanIdentity(s.pool.QueryRow(ctx,
		`SELECT`+identityColumns+` FROM identities WHERE id = $1`, id))
}

// ByLogin resolves a username with an exact, case-sensitive match.
func (s *Store) ByLogin(ctx context.Context, username string) (*identity.Identity, error) {
	return scanIdentity(s.pool.QueryRow(ctx,
		`SELECT`+identityColumns+` FROM identities WHERE username = $1`, username))
}

// ByEmail resolves an email address ignoring case.
func (s *Store) ByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	return scanIdentity(s.pool.QueryRow(ctx,
		`SELECT`+identityColumns+` FROM identities WHERE lower(email) = lower($1)`, email))
}

// ByResetHash resolves the identity holding a reset-token hash.
func (s *Store) ByResetHash(ctx context.Context, hash string) (*identity.Identity, error) {
	if hash == "" {
		return nil, identity.ErrNotFound
	}
	return scanIdentity(s.pool.QueryRow(ctx,
		`SELECT`+identityColumns+` FROM identities WHERE reset_token_hash = $1`, hash))
}

// ByVerificationHash resolves the identity holding a verification-token hash.
func (s *Store) ByVerificationHash(ctx context.Context, hash string) (*identity.Identity, error) {
	if hash == "" {
		return nil, identity.ErrNotFound
	}
	return scanIdentity(s.pool.QueryRow(ctx,
		`SELECT`+identityColumns+` FROM identities WHERE verify_token_hash = $1`, hash))
}

// Role looks up a role definition by name.
func (s *Store) Role(ctx context.Context, name string) (*identity.Role, error) {
	var r identity.Role
	err := s.pool.QueryRow(ctx,
		`SELECT name, permissions, system_role FROM roles WHERE name = $1`, name,
	).Scan(&r.Name, &r.Permissions, &r.System)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, identity.ErrRoleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SeedRole upserts a role definition. Used at boot for the built-in roles.
func (s *Store) SeedRole(ctx context.Context, role identity.Role) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO roles (name, permissions, system_role)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET permissions = EXCLUDED.permissions, system_role = EXCLUDED.system_role`,
		role.Name, role.Permissions, role.System,
	)
	return err
}

// AuditByResource lists the trail for one resource, oldest first.
func (s *Store) AuditByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, at, actor_id, action, event, resource_type, resource_id,
		       before_state, after_state, ip, user_agent, request_id
		FROM audit_records
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY at
		LIMIT $3`, resourceType, resourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var (
			rec   audit.Record
			actor *string
		)
		if err := rows.Scan(
			&rec.ID, &rec.At, &actor, &rec.Action, &rec.Event,
			&rec.ResourceType, &rec.ResourceID, &rec.Before, &rec.After,
			&rec.Origin.IP, &rec.Origin.UserAgent, &rec.Origin.RequestID,
		); err != nil {
			return nil, err
		}
		if actor != nil {
			rec.ActorID = *actor
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func insertAudit(ctx context.Context, tx pgx.Tx, rec audit.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	// An unresolved actor is stored as NULL, not as an empty string.
	var actor *string
	if rec.ActorID != "" {
		actor = &rec.ActorID
	}
	var before, after []byte
	if len(rec.Before) > 0 {
		before = rec.Before
	}
	if len(rec.After) > 0 {
		after = rec.After
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO audit_records (
			id, at, actor_id, action, event, resource_type, resource_id,
			before_state, after_state, ip, user_agent, request_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.At, actor, rec.Action, rec.Event,
		rec.ResourceType, rec.ResourceID, before, after,
		rec.Origin.IP, rec.Origin.UserAgent, rec.Origin.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "identities_username_key":
			return identity.ErrUsernameTaken
		case "identities_email_lower_key":
			return identity.ErrEmailTaken
		}
	}
	return err
}

var _ identity.Store = (*Store)(nil)
