package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/courierAuth/account"
	"github.com/MrEthical07/courierAuth/jwt"
)

var (
	errStale     = errors.New("stale")
	errMalformed = errors.New("malformed")
	errWrongCode = errors.New("wrong code")
)

func refreshDeps(rotate func(string, string) error) RefreshDeps {
	return RefreshDeps{
		ParseRefresh: func(tok string) (*jwt.LinkedClaims, error) {
			if tok != "good" {
				return nil, errors.New("bad token")
			}
			return &jwt.LinkedClaims{PrincipalID: "p1", Role: "agent", Remember: true, Linkage: "old"}, nil
		},
		Issue: func(_ context.Context, id, role string, remember bool) (IssuedTriple, error) {
			return IssuedTriple{Access: "a2", Refresh: "r2", Protect: "x2", AccessHash: "new"}, nil
		},
		RotateEphemeral: func(_ context.Context, _, _, oldHash, newHash string) error {
			return rotate(oldHash, newHash)
		},
		IsStale: func(err error) bool { return errors.Is(err, errStale) },
	}
}

func TestRunRefreshRotatesLinkage(t *testing.T) {
	var gotOld, gotNew string
	res := RunRefresh(context.Background(), "good", refreshDeps(func(o, n string) error {
		gotOld, gotNew = o, n
		return nil
	}))
	if res.Failure != RefreshFailureNone {
		t.Fatalf("unexpected failure %d: %v", res.Failure, res.Err)
	}
	if gotOld != "old" || gotNew != "new" {
		t.Fatalf("rotate called with %q -> %q", gotOld, gotNew)
	}
	if !res.Remember || res.Tokens.Refresh != "r2" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunRefreshFailureKinds(t *testing.T) {
	res := RunRefresh(context.Background(), "bad", refreshDeps(func(string, string) error { return nil }))
	if res.Failure != RefreshFailureDecode {
		t.Fatalf("expected decode failure, got %d", res.Failure)
	}

	deps := refreshDeps(func(string, string) error { return nil })
	deps.BindingMismatch = func(context.Context, jwt.Binding) bool { return true }
	if res := RunRefresh(context.Background(), "good", deps); res.Failure != RefreshFailureBinding {
		t.Fatalf("expected binding failure, got %d", res.Failure)
	}

	res = RunRefresh(context.Background(), "good", refreshDeps(func(string, string) error { return errStale }))
	if res.Failure != RefreshFailureStale {
		t.Fatalf("expected stale failure, got %d", res.Failure)
	}

	res = RunRefresh(context.Background(), "good", refreshDeps(func(string, string) error { return errors.New("redis down") }))
	if res.Failure != RefreshFailureBackend {
		t.Fatalf("expected backend failure, got %d", res.Failure)
	}
}

type fakeRecords struct {
	live     bool
	failures int
	consumed int
	recErr   error
}

func (f *fakeRecords) Exists(context.Context, string) error {
	if !f.live {
		return errors.New("missing")
	}
	return nil
}

func (f *fakeRecords) Consume(context.Context, string) (bool, error) {
	f.consumed++
	won := f.live
	f.live = false
	return won, nil
}

func (f *fakeRecords) RecordFailure(_ context.Context, _ string, max int) (bool, error) {
	if f.recErr != nil {
		return false, f.recErr
	}
	f.failures++
	if f.failures >= max {
		f.live = false
		return true, nil
	}
	return false, nil
}

func secondFactorDeps(now time.Time, rec *fakeRecords) SecondFactorDeps {
	return SecondFactorDeps{
		Now: func() time.Time { return now },
		OpenTicket: func(s string) (*TicketClaims, error) {
			if s == "" {
				return nil, errors.New("open failed")
			}
			return &TicketClaims{TicketID: "t1", PrincipalID: "p1", Role: "agent", Proof: "proof", ExpiresAt: now.Add(5 * time.Minute).Unix()}, nil
		},
		Records:     rec,
		MaxAttempts: 3,
		LoadPrincipal: func(_ context.Context, role, id string) (*account.Principal, error) {
			return &account.Principal{ID: id, Role: account.Role(role)}, nil
		},
		ProofMatches: func(_ *account.Principal, proof string) bool { return proof == "proof" },
		Verify: func(_ context.Context, p *account.Principal, code string) (*account.Principal, error) {
			switch code {
			case "123456":
				return p, nil
			case "x":
				return nil, errMalformed
			}
			return nil, errWrongCode
		},
		IsMalformed: func(err error) bool { return errors.Is(err, errMalformed) },
	}
}

func TestRunSecondFactorSuccessConsumesTicket(t *testing.T) {
	rec := &fakeRecords{live: true}
	res := RunSecondFactor(context.Background(), "sealed", "123456", secondFactorDeps(time.Now(), rec))
	if res.Failure != SecondFactorFailureNone || res.Principal == nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if rec.live {
		t.Fatal("expected ticket record to be consumed")
	}

	res = RunSecondFactor(context.Background(), "sealed", "123456", secondFactorDeps(time.Now(), rec))
	if res.Failure != SecondFactorFailureTicketMissing {
		t.Fatalf("expected reused ticket to be missing, got %d", res.Failure)
	}
}

func TestRunSecondFactorExpiredTicketRejected(t *testing.T) {
	rec := &fakeRecords{live: true}
	deps := secondFactorDeps(time.Now(), rec)
	deps.Now = func() time.Time { return time.Now().Add(6 * time.Minute) }
	res := RunSecondFactor(context.Background(), "sealed", "123456", deps)
	if res.Failure != SecondFactorFailureTicketExpired {
		t.Fatalf("expected expired ticket, got %d", res.Failure)
	}
	if res.Principal != nil {
		t.Fatal("expired ticket must not yield a principal")
	}
}

func TestRunSecondFactorAttemptsAndMalformed(t *testing.T) {
	rec := &fakeRecords{live: true}
	deps := secondFactorDeps(time.Now(), rec)

	if res := RunSecondFactor(context.Background(), "sealed", "x", deps); res.Failure != SecondFactorFailureMalformed {
		t.Fatalf("expected malformed, got %d", res.Failure)
	}
	if rec.failures != 0 {
		t.Fatal("malformed input must not count as an attempt")
	}

	for i := 0; i < 2; i++ {
		if res := RunSecondFactor(context.Background(), "sealed", "000000", deps); res.Failure != SecondFactorFailureFactor {
			t.Fatalf("attempt %d: expected factor failure, got %d", i, res.Failure)
		}
	}
	if res := RunSecondFactor(context.Background(), "sealed", "000000", deps); res.Failure != SecondFactorFailureAttemptsExceeded {
		t.Fatalf("expected attempts exceeded, got %d", res.Failure)
	}
	if res := RunSecondFactor(context.Background(), "sealed", "123456", deps); res.Failure != SecondFactorFailureTicketMissing {
		t.Fatalf("expected exhausted ticket to be gone, got %d", res.Failure)
	}
}

func TestRunSecondFactorStaleProof(t *testing.T) {
	rec := &fakeRecords{live: true}
	deps := secondFactorDeps(time.Now(), rec)
	deps.ProofMatches = func(*account.Principal, string) bool { return false }
	if res := RunSecondFactor(context.Background(), "sealed", "123456", deps); res.Failure != SecondFactorFailureProofStale {
		t.Fatalf("expected stale proof, got %d", res.Failure)
	}
	if rec.live {
		t.Fatal("stale proof must discard the ticket")
	}
}

func TestRunSecondFactorReplayLoses(t *testing.T) {
	rec := &fakeRecords{live: true}
	deps := secondFactorDeps(time.Now(), rec)
	deps.Verify = func(_ context.Context, p *account.Principal, _ string) (*account.Principal, error) {
		rec.live = false
		return p, nil
	}
	if res := RunSecondFactor(context.Background(), "sealed", "123456", deps); res.Failure != SecondFactorFailureReplay {
		t.Fatalf("expected replay, got %d", res.Failure)
	}
}

func TestRunRefreshRejectsForeignRoleBeforeRotating(t *testing.T) {
	rotated := false
	deps := refreshDeps(func(string, string) error {
		rotated = true
		return nil
	})
	deps.Role = "user"
	deps.Issue = func(context.Context, string, string, bool) (IssuedTriple, error) {
		t.Fatal("no triple may be issued for a foreign role")
		return IssuedTriple{}, nil
	}

	res := RunRefresh(context.Background(), "good", deps)
	if res.Failure != RefreshFailureRole {
		t.Fatalf("expected role failure, got %d", res.Failure)
	}
	if rotated {
		t.Fatal("session lineage must not rotate for a foreign role")
	}

	deps = refreshDeps(func(string, string) error { return nil })
	deps.Role = "agent"
	if res := RunRefresh(context.Background(), "good", deps); res.Failure != RefreshFailureNone {
		t.Fatalf("expected matching role to succeed, got %d", res.Failure)
	}
}

func TestRunSecondFactorForeignRoleLeavesTicket(t *testing.T) {
	rec := &fakeRecords{live: true}
	deps := secondFactorDeps(time.Now(), rec)
	deps.Role = "user"

	if res := RunSecondFactor(context.Background(), "sealed", "123456", deps); res.Failure != SecondFactorFailureTicketInvalid {
		t.Fatalf("expected invalid ticket, got %d", res.Failure)
	}
	if !rec.live || rec.consumed != 0 || rec.failures != 0 {
		t.Fatalf("foreign role must not touch the ticket: %+v", rec)
	}

	deps.Role = "agent"
	if res := RunSecondFactor(context.Background(), "sealed", "123456", deps); res.Failure != SecondFactorFailureNone {
		t.Fatalf("expected the ticket to still work for its own role, got %d", res.Failure)
	}
}

func TestRunSecondFactorUncountedAttemptIsBackendFailure(t *testing.T) {
	errDown := errors.New("redis down")
	rec := &fakeRecords{live: true, recErr: errDown}
	deps := secondFactorDeps(time.Now(), rec)
	deps.IsBackend = func(err error) bool { return errors.Is(err, errDown) }

	res := RunSecondFactor(context.Background(), "sealed", "000000", deps)
	if res.Failure != SecondFactorFailureBackend || !errors.Is(res.Err, errDown) {
		t.Fatalf("expected backend failure, got %d: %v", res.Failure, res.Err)
	}
}
