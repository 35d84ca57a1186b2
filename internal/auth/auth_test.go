package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coverbridge/auth-service/internal/audit"
	"github.com/coverbridge/auth-service/internal/identity"
	"github.com/coverbridge/auth-service/internal/memstore"
	"github.com/coverbridge/auth-service/internal/metrics"
	"github.com/coverbridge/auth-service/internal/mfa"
	"github.com/coverbridge/auth-service/internal/password"
	"github.com/coverbridge/auth-service/internal/token"
)

// testPassword satisfies the policy: length, upper, lower, digit, symbol.
const testPassword = "Correct#Horse7Battery"

// fakeClock is a hand-advanced clock shared by the service, the token
// manager and the TOTP validator, so time-bounded state (lockouts, token
// expiry, reset TTLs) can be driven deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureNotifier records the most recent token per address instead of
// sending mail, standing in for the delivery boundary.
type captureNotifier struct {
	mu           sync.Mutex
	verification map[string]string
	reset        map[string]string
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{
		verification: make(map[string]string),
		reset:        make(map[string]string),
	}
}

func (n *captureNotifier) VerificationEmail(_ context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verification[email] = token
	return nil
}

func (n *captureNotifier) PasswordResetEmail(_ context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reset[email] = token
	return nil
}

func (n *captureNotifier) lastVerification(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.verification[email]
}

func (n *captureNotifier) lastReset(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reset[email]
}

type testEnv struct {
	svc      *Service
	store    *memstore.Store
	clock    *fakeClock
	notifier *captureNotifier
	metrics  *metrics.Metrics
	totp     *mfa.TOTP
	hasher   *password.Hasher
	tokens   *token.Manager
}

// testHashParams keeps argon2 at the parameter floor so tests stay fast
// while still exercising real hashing.
func testHashParams() password.Params {
	return password.Params{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := newFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	store := memstore.New()
	seedTestRoles(t, store)

	hasher, err := password.NewHasher(testHashParams())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	tokens, err := token.NewManager(token.Config{
		Secret:     []byte("0123456789abcdef0123456789abcdef"),
		Issuer:     "coverbridge-auth",
		Audience:   "coverbridge",
		AccessTTL:  24 * time.Hour,
		RefreshTTL: 720 * time.Hour,
		Now:        clock.Now,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	totp := mfa.NewTOTP("CoverBridge", clock.Now)
	notifier := newCaptureNotifier()
	m := metrics.New(true)

	svc, err := New(Deps{
		Store:    store,
		Hasher:   hasher,
		Tokens:   tokens,
		TOTP:     totp,
		Notifier: notifier,
		Metrics:  m,
		Now:      clock.Now,
	}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &testEnv{
		svc:      svc,
		store:    store,
		clock:    clock,
		notifier: notifier,
		metrics:  m,
		totp:     totp,
		hasher:   hasher,
		tokens:   tokens,
	}
}

func seedTestRoles(t *testing.T, store *memstore.Store) {
	t.Helper()
	roles := []identity.Role{
		{Name: "admin", Permissions: []string{PermUnlock, PermSetStatus}, System: true},
		{Name: "member", Permissions: []string{"profile:read", "plans:read"}},
		{Name: "broker", Permissions: []string{"companies:read", "plans:quote"}},
	}
	for _, r := range roles {
		if err := store.SeedRole(context.Background(), r); err != nil {
			t.Fatalf("SeedRole(%s): %v", r.Name, err)
		}
	}
}

// register creates a Pending member account through the real flow.
func (e *testEnv) register(t *testing.T, username, email string) *identity.Identity {
	t.Helper()
	res, err := e.svc.Register(context.Background(), RegisterInput{
		Username:  username,
		Email:     email,
		Password:  testPassword,
		FirstName: "Ada",
		LastName:  "Mercer",
		UserType:  "member",
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", username, err)
	}
	id, err := e.store.ByID(context.Background(), res.UserID)
	if err != nil {
		t.Fatalf("ByID after register: %v", err)
	}
	return id
}

// activate verifies the email with the token the notifier captured.
func (e *testEnv) activate(t *testing.T, email string) {
	t.Helper()
	tok := e.notifier.lastVerification(email)
	if tok == "" {
		t.Fatalf("no verification token captured for %s", email)
	}
	if err := e.svc.VerifyEmail(context.Background(), tok); err != nil {
		t.Fatalf("VerifyEmail(%s): %v", email, err)
	}
}

// newActiveUser registers and verifies an account ready to log in.
func (e *testEnv) newActiveUser(t *testing.T, username, email string) *identity.Identity {
	t.Helper()
	id := e.register(t, username, email)
	e.activate(t, email)
	fresh, err := e.store.ByID(context.Background(), id.ID)
	if err != nil {
		t.Fatalf("ByID after activate: %v", err)
	}
	if fresh.Status != identity.StatusActive {
		t.Fatalf("status after verification = %v, want Active", fresh.Status)
	}
	return fresh
}

// seedIdentity writes a doctored identity straight into the store, for
// states the service would never produce on its own.
func seedIdentity(t *testing.T, e *testEnv, next *identity.Identity, expectedVersion int64) {
	t.Helper()
	rec := audit.Record{
		ID:           "seed-" + next.ID,
		At:           e.clock.Now(),
		Action:       audit.ActionUpdate,
		Event:        "test_seed",
		ResourceType: audit.ResourceIdentity,
		ResourceID:   next.ID,
	}
	if err := e.store.Update(context.Background(), next, expectedVersion, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

// seedPasswordHash plants a stored hash directly, bypassing the service, to
// simulate an account hashed under an older parameter policy.
func seedPasswordHash(t *testing.T, e *testEnv, identityID, hash string) {
	t.Helper()
	cur, err := e.store.ByID(context.Background(), identityID)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	next := cur.Clone()
	next.PasswordHash = hash
	seedIdentity(t, e, next, cur.Version)
}

// auditEvents lists the durable trail's event names for one identity,
// oldest first.
func (e *testEnv) auditEvents(identityID string) []string {
	var out []string
	for _, rec := range e.store.Audits() {
		if rec.ResourceID == identityID {
			out = append(out, rec.Event)
		}
	}
	return out
}

func countEvent(records []audit.Record, event string) int {
	n := 0
	for _, rec := range records {
		if rec.Event == event {
			n++
		}
	}
	return n
}
