package courierAuth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/courierAuth/account"
	"github.com/MrEthical07/courierAuth/storage/boltdb"
)

const (
	testPassword  = "correct-horse-battery"
	chromeWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	safariIPhone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MasterKey = []byte("courier-test-master-key-0123456789abcdef")
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("courier-test-hs256-signing-key-0123456789")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Durable.MaxRetries = 2
	cfg.Durable.InitialInterval = time.Millisecond
	cfg.Durable.MaxInterval = 2 * time.Millisecond
	cfg.Passkey.RPID = "courier.example"
	cfg.Passkey.RPOrigins = []string{"https://courier.example"}
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 256
	cfg.Metrics.Enabled = true
	return cfg
}

type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *recordingSink) Emit(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) ofType(eventType string) []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEvent
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// failingUpdates passes reads through and fails every durable write.
type failingUpdates struct {
	PrincipalStore
	mu    sync.Mutex
	calls int
}

func (f *failingUpdates) UpdateByID(context.Context, string, func(*Principal) error) (*Principal, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil, errors.New("disk detached")
}

type fixture struct {
	engine *Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	store  *boltdb.Store
	sink   *recordingSink
}

type fixtureOptions struct {
	mutate  func(*Config)
	wrap    func(Role, PrincipalStore) PrincipalStore
	builder func(*Builder, *boltdb.Store)
}

func newFixture(t testing.TB, opts fixtureOptions) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store, err := boltdb.OpenFile(filepath.Join(t.TempDir(), "principals.db"), nil)
	if err != nil {
		t.Fatalf("open bolt store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := testConfig()
	if opts.mutate != nil {
		opts.mutate(&cfg)
	}
	sink := &recordingSink{}
	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithAuditSink(sink)
	for _, role := range []Role{RoleUser, RoleAgent, RoleAdmin} {
		var ps PrincipalStore = store.Principals(role)
		if opts.wrap != nil {
			ps = opts.wrap(role, ps)
		}
		b.WithPrincipalStore(role, ps)
	}
	if opts.builder != nil {
		opts.builder(b, store)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &fixture{engine: engine, mr: mr, rdb: rdb, store: store, sink: sink}
}

// addPrincipal creates a verified principal with testPassword.
func (f *fixture) addPrincipal(t testing.TB, role Role, id, email string) *Principal {
	t.Helper()
	hash, err := f.engine.passwords.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	p := &account.Principal{ID: id, Email: email, PasswordHash: hash, Verified: true}
	if err := f.store.Principals(role).Create(context.Background(), p); err != nil {
		t.Fatalf("create principal: %v", err)
	}
	return p
}

func (f *fixture) load(t *testing.T, role Role, id string) *Principal {
	t.Helper()
	p, err := f.store.Principals(role).FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load principal: %v", err)
	}
	return p
}

// enableTOTP runs a full enrollment and returns the plain secret and the
// backup codes. The enrollment code consumes the current time step.
func (f *fixture) enableTOTP(t *testing.T, ctx context.Context, role Role, id string) (string, []string) {
	t.Helper()
	enrollment, err := f.engine.BeginTOTPEnrollment(ctx, role, id)
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}
	codes, err := f.engine.ConfirmTOTPEnrollment(ctx, role, id, codeAt(t, enrollment.Secret, 0))
	if err != nil {
		t.Fatalf("ConfirmTOTPEnrollment failed: %v", err)
	}
	return enrollment.Secret, codes
}

// codeAt returns the TOTP code offset periods away from the current step.
func codeAt(t *testing.T, secret string, offset int) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now().Add(time.Duration(offset)*30*time.Second))
	if err != nil {
		t.Fatalf("generate totp code: %v", err)
	}
	return code
}

func clientContext(userAgent string) context.Context {
	ctx := WithClientIP(context.Background(), "203.0.113.7")
	ctx = WithUserAgent(ctx, userAgent)
	return WithLocation(ctx, "Lagos, NG")
}

func (f *fixture) signIn(t *testing.T, ctx context.Context, role Role, email string) *SignInResult {
	t.Helper()
	res, err := f.engine.SignIn(ctx, role, email, testPassword, false)
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	return res
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if got := KindOf(err); got != want {
		t.Fatalf("expected kind %s, got %s (err=%v)", want, got, err)
	}
}
