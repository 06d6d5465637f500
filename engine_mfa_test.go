package courierAuth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/courierAuth/internal/audit"
)

// wrongCode returns a well-formed code that matches no step near now.
func wrongCode(t *testing.T, secret string) string {
	t.Helper()
	near := map[string]bool{}
	for off := -2; off <= 2; off++ {
		near[codeAt(t, secret, off)] = true
	}
	for i := 0; i < 10; i++ {
		c := strings.Repeat(fmt.Sprint(i), 6)
		if !near[c] {
			return c
		}
	}
	t.Fatal("no wrong code available")
	return ""
}

func pendingSignIn(t *testing.T, f *fixture, ctx context.Context, role Role, email string) string {
	t.Helper()
	res := f.signIn(t, ctx, role, email)
	if !res.SecondFactorRequired || res.Ticket == "" {
		t.Fatalf("expected pending second factor, got %+v", res)
	}
	if res.Tokens != (TokenTriple{}) {
		t.Fatal("expected no tokens while the second factor is pending")
	}
	return res.Ticket
}

func TestSecondFactorSignInWithTOTP(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.addPrincipal(t, RoleAgent, "a1", "agent@courier.example")
	ctx := clientContext(chromeWindows)
	secret, _ := f.enableTOTP(t, ctx, RoleAgent, "a1")

	ticket := pendingSignIn(t, f, ctx, RoleAgent, "agent@courier.example")
	res, err := f.engine.VerifyTOTP(ctx, RoleAgent, ticket, codeAt(t, secret, 1))
	if err != nil {
		t.Fatalf("VerifyTOTP failed: %v", err)
	}
	if res.Role != RoleAgent || res.Tokens.Access == "" {
		t.Fatalf("expected established agent session, got %+v", res)
	}

	_, err = f.engine.VerifyTOTP(ctx, RoleAgent, ticket, codeAt(t, secret, -1))
	if !errors.Is(err, ErrMFATicketInvalid) {
		t.Fatalf("expected consumed ticket to be rejected, got %v", err)
	}
	assertKind(t, err, KindUnauthorized)

	if got := f.engine.metrics.Value(MetricMFARequired); got != 1 {
		t.Fatalf("expected mfa required metric 1, got %d", got)
	}
	if got := f.engine.metrics.Value(MetricMFASuccess); got != 1 {
		t.Fatalf("expected mfa success metric 1, got %d", got)
	}
}

func TestTOTPCodeCannotBeReplayed(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.addPrincipal(t, RoleUser, "u1", "rider@courier.example")
	ctx := clientContext(chromeWindows)

	enrollment, err := f.engine.BeginTOTPEnrollment(ctx, RoleUser, "u1")
	if err != nil {
		t.Fatal(err)
	}
	code := codeAt(t, enrollment.Secret, 0)
	if _, err := f.engine.ConfirmTOTPEnrollment(ctx, RoleUser, "u1", code); err != nil {
		t.Fatal(err)
	}

	ticket := pendingSignIn(t, f, ctx, RoleUser, "rider@courier.example")
	if _, err := f.engine.VerifyTOTP(ctx, RoleUser, ticket, code); !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("expected replayed code to be rejected, got %v", err)
	}
}

func TestSecondFactorAttemptsExhaustTicket(t *testing.T) {
	f := newFixture(t, fixtureOptions{mutate: func(c *Config) {
		c.Ticket.MaxAttempts = 3
	}})
	f.addPrincipal(t, RoleUser, "u1", "rider@courier.example")
	ctx := clientContext(chromeWindows)
	secret, _ := f.enableTOTP(t, ctx, RoleUser, "u1")
	ticket := pendingSignIn(t, f, ctx, RoleUser, "rider@courier.example")
	bad := wrongCode(t, secret)

	for i := 0; i < 2; i++ {
		if _, err := f.engine.VerifyTOTP(ctx, RoleUser, ticket, bad); !errors.Is(err, ErrTOTPInvalid) {
			t.Fatalf("attempt %d: expected ErrTOTPInvalid, got %v", i, err)
		}
	}
	if _, err := f.engine.VerifyTOTP(ctx, RoleUser, ticket, bad); !errors.Is(err, ErrMFAAttemptsExceeded) {
		t.Fatalf("expected ErrMFAAttemptsExceeded, got %v", err)
	}
	if _, err := f.engine.VerifyTOTP(ctx, RoleUser, ticket, codeAt(t, secret, 1)); !errors.Is(err, ErrMFATicketInvalid) {
		t.Fatalf("expected exhausted ticket to be gone, got %v", err)
	}

	f.engine.Close()
	if n := len(f.sink.ofType(audit.MFAAttemptsExceeded)); n != 1 {
		t.Fatalf("expected one attempts exceeded event, got %d", n)
	}
}

func TestMalformedCodeDoesNotCountAgainstTicket(t *testing.T) {
	f := newFixture(t, fixtureOptions{mutate: func(c *Config) {
		c.Ticket.MaxAttempts = 1
	}})
	f.addPrincipal(t, RoleUser, "u1", "rider@courier.example")
	ctx := clientContext(chromeWindows)
	secret, _ := f.enableTOTP(t, ctx, RoleUser, "u1")
	ticket := pendingSignIn(t, f, ctx, RoleUser, "rider@courier.example")

	for _, code := range []string{"", "12ab56", "1234567"} {
		_, err := f.engine.VerifyTOTP(ctx, RoleUser, ticket, code)
		if !errors.Is(err, ErrTOTPMalformed) {
			t.Fatalf("code %q: expected ErrTOTPMalformed, got %v", code, err)
		}
		assertKind(t, err, KindBadRequest)
	}
	if _, err := f.engine.VerifyTOTP(ctx, RoleUser, ticket, codeAt(t, secret, 1)); err != nil {
		t.Fatalf("expected ticket to survive malformed input, got %v", err)
	}
}

func TestExpiredTicketRejected(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.addPrincipal(t, RoleUser, "u1", "rider@courier.example")
	ctx := clientContext(chromeWindows)
	secret, _ := f.enableTOTP(t, ctx, RoleUser, "u1")
	ticket := pendingSignIn(t, f, ctx, RoleUser, "rider@courier.example")

	f.engine.now = func() time.Time { return time.Now().Add(PendingTicketTTL + time.Second) }
	_, err := f.engine.VerifyTOTP(ctx, RoleUser, ticket, codeAt(t, secret, 1))
	if !errors.Is(err, ErrMFATicketExpired) {
		t.Fatalf("expected ErrMFATicketExpired, got %v", err)
	}
}

func TestTicketRecordLivesForFixedWindow(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.addPrincipal(t, RoleUser, "u1", "rider@courier.example")
	ctx := clientContext(chromeWindows)
	f.enableTOTP(t, ctx, RoleUser, "u1")
	pendingSignIn(t, f, ctx, RoleUser, "rider@courier.example")

	prefix := f.engine.config.Ticket.RedisPrefix + ":"
	var found int
	for _, key := range f.mr.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		found++
		if got := f.mr.TTL(key); got != 300*time.Second {
			t.Fatalf("expected ticket record ttl 300s, got %v", got)
		}
	}
	if found != 1 {
		t.Fatalf("expected one ticket record, got %d", found)
	}
}

func TestTamperedTicketRejected(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.addPrincipal(t, RoleUser, "u1", "rider@courier.example")
	ctx := clientContext(chromeWindows)
	secret, _ := f.enableTOTP(t, ctx, RoleUser, "u1")
	ticket := pendingSignIn(t, f, ctx, RoleUser, "rider@courier.example")

	mid := len(ticket) / 2
	swap := byte('A')
	if ticket[mid] == swap {
		swap = 'B'
	}
	tampered := ticket[:mid] + string(swap) + ticket[mid+1:]
	if _, err := f.engine.VerifyTOTP(ctx, RoleUser, tampered, codeAt(t, secret, 1)); !errors.Is(err, ErrMFATicketInvalid) {
		t.Fatalf("expected ErrMFATicketInvalid, got %v", err)
	}
}

func TestBackupCodeCompletesSignInOnce(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.addPrincipal(t, RoleUser, "u1", "rider@courier.example")
	ctx := clientContext(chromeWindows)
	_, codes := f.enableTOTP(t, ctx, RoleUser, "u1")
	if len(codes) != f.engine.config.BackupCodes.Count {
		t.Fatalf("expected %d backup codes, got %d", f.engine.config.BackupCodes.Count, len(codes))
	}

	ticket := pendingSignIn(t, f, ctx, RoleUser, "rider@courier.example")
	res, err := f.engine.VerifyBackupCode(ctx, RoleUser, ticket, codes[0])
	if err != nil {
		t.Fatalf("VerifyBackupCode failed: %v", err)
	}
	if res.Tokens.Access == "" {
		t.Fatal("expected tokens after backup code")
	}
	stored := f.load(t, RoleUser, "u1")
	if len(stored.SecondFactor.BackupCodes) != len(codes)-1 {
		t.Fatalf("expected one code consumed, %d left", len(stored.SecondFactor.BackupCodes))
	}

	again := pendingSignIn(t, f, ctx, RoleUser, "rider@courier.example")
	if _, err := f.engine.VerifyBackupCode(ctx, RoleUser, again, codes[0]); !errors.Is(err, ErrBackupCodeInvalid) {
		t.Fatalf("expected spent code to be rejected, got %v", err)
	}
	if _, err := f.engine.VerifyBackupCode(ctx, RoleUser, again, "not a code!"); !errors.Is(err, ErrBackupCodeMalformed) {
		t.Fatalf("expected ErrBackupCodeMalformed, got %v", err)
	}
	if got := f.engine.metrics.Value(MetricBackupCodeUsed); got != 1 {
		t.Fatalf("expected backup code used metric 1, got %d", got)
	}
}

func TestBackupCodeConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.addPrincipal(t, RoleUser, "u1", "rider@courier.example")
	ctx := clientContext(chromeWindows)
	_, codes := f.enableTOTP(t, ctx, RoleUser, "u1")

	const workers = 6
	tickets := make([]string, workers)
	for i := range tickets {
		tickets[i] = pendingSignIn(t, f, ctx, RoleUser, "rider@courier.example")
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		rejected int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(ticket string) {
			defer wg.Done()
			<-start
			_, err := f.engine.VerifyBackupCode(ctx, RoleUser, ticket, codes[3])
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrBackupCodeInvalid):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(tickets[i])
	}
	close(start)
	wg.Wait()

	if winners != 1 || rejected != workers-1 {
		t.Fatalf("expected one winner, got winners=%d rejected=%d", winners, rejected)
	}
	stored := f.load(t, RoleUser, "u1")
	if len(stored.SecondFactor.BackupCodes) != len(codes)-1 {
		t.Fatalf("expected exactly one code consumed, %d left", len(stored.SecondFactor.BackupCodes))
	}
}

func TestDisableSecondFactorInvalidatesPendingTickets(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.addPrincipal(t, RoleUser, "u1", "rider@courier.example")
	ctx := clientContext(chromeWindows)
	secret, _ := f.enableTOTP(t, ctx, RoleUser, "u1")
	ticket := pendingSignIn(t, f, ctx, RoleUser, "rider@courier.example")

	if err := f.engine.DisableSecondFactor(ctx, RoleUser, "u1", wrongCode(t, secret)); !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("expected ErrTOTPInvalid, got %v", err)
	}
	if err := f.engine.DisableSecondFactor(ctx, RoleUser, "u1", codeAt(t, secret, 1)); err != nil {
		t.Fatalf("DisableSecondFactor failed: %v", err)
	}
	stored := f.load(t, RoleUser, "u1")
	if stored.SecondFactor.Enabled || stored.SecondFactor.Secret != "" || len(stored.SecondFactor.BackupCodes) != 0 {
		t.Fatalf("expected second factor wiped, got %+v", stored.SecondFactor)
	}

	if _, err := f.engine.VerifyTOTP(ctx, RoleUser, ticket, codeAt(t, secret, -1)); !errors.Is(err, ErrMFATicketInvalid) {
		t.Fatalf("expected ticket issued before disable to be rejected, got %v", err)
	}

	res := f.signIn(t, ctx, RoleUser, "rider@courier.example")
	if res.SecondFactorRequired {
		t.Fatal("expected direct sign-in after disabling the second factor")
	}
}

func TestRegenerateBackupCodesReplacesSet(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.addPrincipal(t, RoleUser, "u1", "rider@courier.example")
	ctx := clientContext(chromeWindows)
	secret, old := f.enableTOTP(t, ctx, RoleUser, "u1")

	fresh, err := f.engine.RegenerateBackupCodes(ctx, RoleUser, "u1", codeAt(t, secret, 1))
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if len(fresh) != len(old) {
		t.Fatalf("expected %d codes, got %d", len(old), len(fresh))
	}

	ticket := pendingSignIn(t, f, ctx, RoleUser, "rider@courier.example")
	if _, err := f.engine.VerifyBackupCode(ctx, RoleUser, ticket, old[0]); !errors.Is(err, ErrBackupCodeInvalid) {
		t.Fatalf("expected old code to be rejected, got %v", err)
	}
	if _, err := f.engine.VerifyBackupCode(ctx, RoleUser, ticket, fresh[0]); err != nil {
		t.Fatalf("expected new code to work, got %v", err)
	}
}

func TestEnrollmentStateErrors(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.addPrincipal(t, RoleAdmin, "ad1", "ops@courier.example")
	ctx := clientContext(chromeWindows)

	if _, err := f.engine.ConfirmTOTPEnrollment(ctx, RoleAdmin, "ad1", "123456"); !errors.Is(err, ErrTOTPEnrollmentAbsent) {
		t.Fatalf("expected ErrTOTPEnrollmentAbsent, got %v", err)
	}
	if _, err := f.engine.RegenerateBackupCodes(ctx, RoleAdmin, "ad1", "123456"); !errors.Is(err, ErrTOTPNotConfigured) {
		t.Fatalf("expected ErrTOTPNotConfigured, got %v", err)
	}

	f.enableTOTP(t, ctx, RoleAdmin, "ad1")
	_, err := f.engine.BeginTOTPEnrollment(ctx, RoleAdmin, "ad1")
	if !errors.Is(err, ErrTOTPAlreadyEnabled) {
		t.Fatalf("expected ErrTOTPAlreadyEnabled, got %v", err)
	}
	assertKind(t, err, KindConflict)

	stored := f.load(t, RoleAdmin, "ad1")
	if stored.SecondFactor.PendingSecret != "" {
		t.Fatal("expected pending secret to be cleared on confirmation")
	}
	if strings.Contains(stored.SecondFactor.Secret, "otpauth") || stored.SecondFactor.Secret == "" {
		t.Fatal("expected the stored secret to be sealed")
	}
}
