// Package token issues and verifies the signed access and refresh tokens
// that carry an authenticated identity between requests.
//
// Tokens are HS256 JWTs. Claims carry the identity id (subject), username,
// role and the role's permission strings, so authorization decisions need
// no store round-trip. Verification failures collapse to three sentinel
// errors (ErrExpired, ErrSignature, ErrMalformed) that callers branch on
// with errors.Is.
//
// Refresh tokens are not rotated and cannot be revoked before expiry. A
// stolen refresh token therefore stays usable until it times out; keep the
// refresh TTL short enough to bound that exposure.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification errors. Parse methods return exactly one of these,
// wrapped with detail.
var (
	ErrExpired   = errors.New("token expired")
	ErrSignature = errors.New("token signature invalid")
	ErrMalformed = errors.New("token malformed")
	ErrWrongType = errors.New("wrong token type")
)

const (
	// TypeAccess and TypeRefresh distinguish the two token kinds in the
	// typ claim; each parse path accepts only its own kind.
	TypeAccess  = "access"
	TypeRefresh = "refresh"

	minSecretBytes = 32
	maxLeeway      = 2 * time.Minute
)

// Claims is the JWT payload. Subject holds the identity id.
type Claims struct {
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
	TokenType   string   `json:"typ"`
	jwt.RegisteredClaims
}

// Config for a Manager.
type Config struct {
	Secret     []byte
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Pair is one issuance: an access token and its refresh companion.
type Pair struct {
	Access          string
	Refresh         string
	AccessExpiresAt time.Time
}

// Manager signs and verifies tokens with a single symmetric key.
// Safe for concurrent use.
type Manager struct {
	cfg Config
	now func() time.Time
}

// NewManager validates the config. The signing secret must be at least
// 256 bits; shorter HMAC keys are brute-forceable offline.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < minSecretBytes {
		return nil, fmt.Errorf("token secret must be at least %d bytes", minSecretBytes)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, errors.New("token leeway out of range")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{cfg: cfg, now: now}, nil
}

// IssuePair signs an access/refresh pair for one identity. The refresh
// token repeats the subject and username but carries no permissions; those
// are re-resolved from the store when it is redeemed.
func (m *Manager) IssuePair(subject, username, role string, permissions []string) (Pair, error) {
	issued := m.now()

	access, err := m.sign(Claims{
		Username:    username,
		Role:        role,
		Permissions: permissions,
		TokenType:   TypeAccess,
	}, subject, issued, m.cfg.AccessTTL)
	if err != nil {
		return Pair{}, err
	}

	refresh, err := m.sign(Claims{
		Username:  username,
		Role:      role,
		TokenType: TypeRefresh,
	}, subject, issued, m.cfg.RefreshTTL)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		Access:          access,
		Refresh:         refresh,
		AccessExpiresAt: issued.Add(m.cfg.AccessTTL),
	}, nil
}

// IssueAccess signs a fresh access token alone. Used by the refresh flow,
// which reuses the presented refresh token instead of rotating it.
func (m *Manager) IssueAccess(subject, username, role string, permissions []string) (string, time.Time, error) {
	issued := m.now()
	access, err := m.sign(Claims{
		Username:    username,
		Role:        role,
		Permissions: permissions,
		TokenType:   TypeAccess,
	}, subject, issued, m.cfg.AccessTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	return access, issued.Add(m.cfg.AccessTTL), nil
}

// ParseAccess verifies an access token and returns its claims.
func (m *Manager) ParseAccess(raw string) (*Claims, error) {
	return m.parse(raw, TypeAccess)
}

// ParseRefresh verifies a refresh token and returns its claims.
func (m *Manager) ParseRefresh(raw string) (*Claims, error) {
	return m.parse(raw, TypeRefresh)
}

// AccessTTL reports the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.cfg.AccessTTL }

func (m *Manager) sign(claims Claims, subject string, issued time.Time, ttl time.Duration) (string, error) {
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    m.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
	}
	if m.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.Secret)
}

func (m *Manager) parse(raw, wantType string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.cfg.Leeway))
	}
	if m.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.cfg.Issuer))
	}
	if m.cfg.Audience != "" {
		options = append(options, jwt.WithAudience(m.cfg.Audience))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.cfg.Secret, nil
	})
	if err != nil {
		return nil, translate(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	if claims.TokenType != wantType {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongType, claims.TokenType, wantType)
	}
	return claims, nil
}

// translate collapses golang-jwt's error chain onto the package sentinels.
// Claim-validation misses (issuer, audience, nbf) count as malformed: the
// token was never one of ours or was tampered with.
func translate(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
