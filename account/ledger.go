package account

import (
	"slices"
	"time"
)

// AddSession appends rec and trims the list to max entries, dropping the
// oldest revoked records first and then the oldest active ones.
func (p *Principal) AddSession(rec SessionRecord, max int) {
	if rec.Status == "" {
		rec.Status = SessionActive
	}
	p.Sessions = append(p.Sessions, rec)
	if max <= 0 || len(p.Sessions) <= max {
		return
	}
	excess := len(p.Sessions) - max
	p.Sessions = slices.DeleteFunc(p.Sessions, func(r SessionRecord) bool {
		if excess > 0 && r.Status == SessionRevoked {
			excess--
			return true
		}
		return false
	})
	if excess > 0 {
		p.Sessions = slices.Delete(p.Sessions, 0, excess)
	}
}

// RotateSession replaces oldHash with newHash on the matching active record.
func (p *Principal) RotateSession(oldHash, newHash string, at time.Time) bool {
	for i := range p.Sessions {
		if p.Sessions[i].TokenHash == oldHash && p.Sessions[i].Status == SessionActive {
			p.Sessions[i].TokenHash = newHash
			p.Sessions[i].RotatedAt = at
			return true
		}
	}
	return false
}

// RevokeSession flips the matching record to revoked. The record is kept.
func (p *Principal) RevokeSession(hash string, at time.Time) bool {
	for i := range p.Sessions {
		if p.Sessions[i].TokenHash == hash && p.Sessions[i].Status == SessionActive {
			p.Sessions[i].Status = SessionRevoked
			p.Sessions[i].RevokedAt = at
			return true
		}
	}
	return false
}

// KeepOnlySession prunes every record except the one holding hash and
// returns how many were removed.
func (p *Principal) KeepOnlySession(hash string) int {
	before := len(p.Sessions)
	p.Sessions = slices.DeleteFunc(p.Sessions, func(r SessionRecord) bool {
		return r.TokenHash != hash
	})
	return before - len(p.Sessions)
}

// ActiveSessions returns the records still marked active.
func (p *Principal) ActiveSessions() []SessionRecord {
	out := make([]SessionRecord, 0, len(p.Sessions))
	for _, r := range p.Sessions {
		if r.Status == SessionActive {
			out = append(out, r)
		}
	}
	return out
}

// ResetSecurity unsets the durable session list, the passkey summary and the
// whole second-factor state.
func (p *Principal) ResetSecurity() {
	p.Sessions = nil
	p.Passkeys = PasskeySummary{}
	p.SecondFactor = SecondFactorState{}
}

// HasLinkedIdentity reports whether provider/subject is linked.
func (p *Principal) HasLinkedIdentity(provider, subject string) bool {
	return slices.ContainsFunc(p.LinkedIdentities, func(l LinkedIdentity) bool {
		return l.Provider == provider && l.Subject == subject
	})
}

// LinkIdentity records provider/subject. It is a no-op when already linked.
func (p *Principal) LinkIdentity(provider, subject string, at time.Time) bool {
	if p.HasLinkedIdentity(provider, subject) {
		return false
	}
	p.LinkedIdentities = append(p.LinkedIdentities, LinkedIdentity{Provider: provider, Subject: subject, LinkedAt: at})
	return true
}

// Snapshot returns a copy safe to cache: credential material, second-factor
// secrets and the session ledger are stripped.
func (p *Principal) Snapshot() *Principal {
	cp := *p
	cp.PasswordHash = ""
	cp.SecondFactor = SecondFactorState{Enabled: p.SecondFactor.Enabled}
	cp.Sessions = nil
	cp.LinkedIdentities = slices.Clone(p.LinkedIdentities)
	return &cp
}
