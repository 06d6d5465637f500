package account

import (
	"testing"
	"time"
)

func TestAddSessionTrimsRevokedFirst(t *testing.T) {
	p := &Principal{}
	now := time.Now()
	p.AddSession(SessionRecord{TokenHash: "a", LoggedInAt: now}, 3)
	p.AddSession(SessionRecord{TokenHash: "b", LoggedInAt: now}, 3)
	p.RevokeSession("b", now)
	p.AddSession(SessionRecord{TokenHash: "c", LoggedInAt: now}, 3)
	p.AddSession(SessionRecord{TokenHash: "d", LoggedInAt: now}, 3)

	if len(p.Sessions) != 3 {
		t.Fatalf("expected 3 records, got %d", len(p.Sessions))
	}
	for _, r := range p.Sessions {
		if r.TokenHash == "b" {
			t.Fatal("expected revoked record to be trimmed first")
		}
	}

	p.AddSession(SessionRecord{TokenHash: "e", LoggedInAt: now}, 3)
	if p.Sessions[0].TokenHash != "c" {
		t.Fatalf("expected oldest active trimmed next, got %+v", p.Sessions)
	}
}

func TestRotateAndRevokeSession(t *testing.T) {
	p := &Principal{}
	now := time.Now()
	p.AddSession(SessionRecord{TokenHash: "a", LoggedInAt: now}, 0)

	if !p.RotateSession("a", "b", now) {
		t.Fatal("expected rotation to match")
	}
	if p.Sessions[0].TokenHash != "b" {
		t.Fatalf("expected hash replaced, got %s", p.Sessions[0].TokenHash)
	}
	if p.RotateSession("a", "c", now) {
		t.Fatal("expected stale rotation to miss")
	}
	if !p.RevokeSession("b", now) {
		t.Fatal("expected revoke to match")
	}
	if p.Sessions[0].Status != SessionRevoked || len(p.Sessions) != 1 {
		t.Fatalf("expected record kept as revoked, got %+v", p.Sessions)
	}
	if p.RevokeSession("b", now) {
		t.Fatal("expected second revoke to miss")
	}
	if len(p.ActiveSessions()) != 0 {
		t.Fatal("expected no active sessions")
	}
}

func TestKeepOnlySession(t *testing.T) {
	p := &Principal{}
	for _, h := range []string{"a", "b", "c"} {
		p.AddSession(SessionRecord{TokenHash: h}, 0)
	}
	if n := p.KeepOnlySession("b"); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if len(p.Sessions) != 1 || p.Sessions[0].TokenHash != "b" {
		t.Fatalf("unexpected sessions %+v", p.Sessions)
	}
}

func TestResetSecurityAndSnapshot(t *testing.T) {
	p := &Principal{
		ID:           "p1",
		PasswordHash: "hash",
		SecondFactor: SecondFactorState{Enabled: true, Secret: "s", BackupCodes: []string{"x"}},
		Passkeys:     PasskeySummary{HasPasskeys: true, Count: 2},
		Sessions:     []SessionRecord{{TokenHash: "a", Status: SessionActive}},
	}

	snap := p.Snapshot()
	if snap.PasswordHash != "" || snap.SecondFactor.Secret != "" || len(snap.SecondFactor.BackupCodes) != 0 || snap.Sessions != nil {
		t.Fatalf("expected secrets stripped from snapshot: %+v", snap)
	}
	if !snap.SecondFactor.Enabled {
		t.Fatal("expected snapshot to keep second-factor flag")
	}

	p.ResetSecurity()
	if p.SecondFactor.Enabled || p.SecondFactor.Secret != "" || len(p.SecondFactor.BackupCodes) != 0 {
		t.Fatalf("expected second factor cleared: %+v", p.SecondFactor)
	}
	if p.Passkeys.Count != 0 || p.Passkeys.HasPasskeys || len(p.Sessions) != 0 {
		t.Fatalf("expected passkeys and sessions cleared: %+v", p)
	}
	if p.PasswordHash != "hash" {
		t.Fatal("reset must not touch the password hash")
	}
}

func TestLinkIdentity(t *testing.T) {
	p := &Principal{}
	if !p.LinkIdentity("google", "sub-1", time.Now()) {
		t.Fatal("expected first link to apply")
	}
	if p.LinkIdentity("google", "sub-1", time.Now()) {
		t.Fatal("expected duplicate link to be a no-op")
	}
	if !p.HasLinkedIdentity("google", "sub-1") || p.HasLinkedIdentity("github", "sub-1") {
		t.Fatal("unexpected linked identity lookup")
	}
}
