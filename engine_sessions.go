package courierAuth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrEthical07/courierAuth/account"
	"github.com/MrEthical07/courierAuth/internal"
	"github.com/MrEthical07/courierAuth/internal/audit"
	"github.com/MrEthical07/courierAuth/session"
	"github.com/cenkalti/backoff/v5"
)

// mutationError marks an error returned by a durable mutate func. It is never
// retried and reaches the caller unwrapped.
type mutationError struct{ err error }

func (m *mutationError) Error() string { return m.err.Error() }
func (m *mutationError) Unwrap() error { return m.err }

// updateDurable applies mutate to the principal document, retrying transient
// store failures with exponential backoff.
func (e *Engine) updateDurable(ctx context.Context, role Role, id string, mutate func(*Principal) error) (*Principal, error) {
	store, err := e.principalStore(role)
	if err != nil {
		return nil, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.config.Durable.InitialInterval
	policy.MaxInterval = e.config.Durable.MaxInterval

	p, err := backoff.Retry(ctx, func() (*Principal, error) {
		p, err := store.UpdateByID(ctx, id, func(p *Principal) error {
			if err := mutate(p); err != nil {
				return &mutationError{err: err}
			}
			return nil
		})
		if err != nil {
			var me *mutationError
			if errors.As(err, &me) || errors.Is(err, account.ErrPrincipalNotFound) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return p, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(e.config.Durable.MaxRetries+1),
	)
	if err != nil {
		var me *mutationError
		if errors.As(err, &me) {
			return nil, me.err
		}
		return nil, durableError(err)
	}
	return p, nil
}

// syncDurable mirrors an already committed ephemeral change into the durable
// document. The ephemeral side is authoritative, so a final failure is
// recorded as drift instead of being returned.
func (e *Engine) syncDurable(ctx context.Context, op string, role Role, id string, mutate func(*Principal) error) {
	start := e.now()
	if _, err := e.updateDurable(ctx, role, id, mutate); err != nil {
		e.logger.Warn("durable session state drifted from the ephemeral index",
			"op", op,
			"role", string(role),
			"principal_id", id,
			"error", err,
		)
		e.metricInc(MetricDurableDrift)
		e.emitAudit(ctx, audit.DurableDrift, false, role, id, err, func() map[string]string {
			return map[string]string{
				"op":      op,
				"elapsed": auditDurationMS(e.now().Sub(start)),
			}
		})
	}
}

// StoreSession registers a freshly issued access token: the hash joins the
// ephemeral index (and the principal snapshot is cached alongside) before an
// active record is appended to the durable session list.
func (e *Engine) StoreSession(ctx context.Context, p *Principal, accessToken string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if p == nil || accessToken == "" {
		return ErrUnauthorized
	}
	hash := e.hashToken(accessToken)
	snapshot, err := json.Marshal(p.Snapshot())
	if err != nil {
		return fmt.Errorf("encoding principal snapshot: %w", err)
	}
	if _, err := e.sessions.Save(ctx, string(p.Role), p.ID, hash, snapshot, e.config.JWT.RefreshTTL); err != nil {
		return redisError(err)
	}

	rec := account.SessionRecord{
		TokenHash:  hash,
		DeviceInfo: internal.ParseClientFamily(userAgentFromContext(ctx)).Describe(),
		Location:   locationFromContext(ctx),
		IP:         clientIPFromContext(ctx),
		Status:     account.SessionActive,
		LoggedInAt: e.now().UTC(),
	}
	e.syncDurable(ctx, "store", p.Role, p.ID, func(p *Principal) error {
		p.AddSession(rec, e.config.Session.MaxDurableRecords)
		return nil
	})
	e.metricInc(MetricSessionCreated)
	return nil
}

// RotateSession swaps oldToken for newToken in the index. The swap is a
// compare-and-swap on the old hash: when it is absent or expired nothing is
// added and [ErrSessionStale] is returned.
func (e *Engine) RotateSession(ctx context.Context, role Role, id, oldToken, newToken string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if _, err := e.principalStore(role); err != nil {
		return err
	}
	return e.rotateHashes(ctx, role, id, e.hashToken(oldToken), e.hashToken(newToken))
}

func (e *Engine) rotateEphemeral(ctx context.Context, role, id, oldHash, newHash string) error {
	err := e.sessions.Rotate(ctx, role, id, oldHash, newHash, e.config.JWT.RefreshTTL)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrSessionStale):
		return ErrSessionStale
	default:
		return redisError(err)
	}
}

func (e *Engine) rotateHashes(ctx context.Context, role Role, id, oldHash, newHash string) error {
	if err := e.rotateEphemeral(ctx, string(role), id, oldHash, newHash); err != nil {
		if errors.Is(err, ErrSessionStale) {
			e.metricInc(MetricRefreshStale)
		}
		return err
	}
	e.syncRotation(ctx, role, id, oldHash, newHash)
	return nil
}

// syncRotation updates the durable record of a lineage. A record missing from
// the durable list (trimmed or lost to earlier drift) is re-added.
func (e *Engine) syncRotation(ctx context.Context, role Role, id, oldHash, newHash string) {
	now := e.now().UTC()
	e.syncDurable(ctx, "rotate", role, id, func(p *Principal) error {
		if p.RotateSession(oldHash, newHash, now) {
			return nil
		}
		p.AddSession(account.SessionRecord{
			TokenHash:  newHash,
			DeviceInfo: internal.ParseClientFamily(userAgentFromContext(ctx)).Describe(),
			Location:   locationFromContext(ctx),
			IP:         clientIPFromContext(ctx),
			Status:     account.SessionActive,
			LoggedInAt: now,
			RotatedAt:  now,
		}, e.config.Session.MaxDurableRecords)
		return nil
	})
}

// RemoveASession revokes exactly one session (sign-out). An unknown token
// yields [ErrSessionNotFound] and leaves the durable list untouched.
func (e *Engine) RemoveASession(ctx context.Context, role Role, id, token string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if _, err := e.principalStore(role); err != nil {
		return err
	}
	hash := e.hashToken(token)
	if err := e.sessions.Remove(ctx, string(role), id, hash); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return redisError(err)
	}

	now := e.now().UTC()
	e.syncDurable(ctx, "revoke", role, id, func(p *Principal) error {
		p.RevokeSession(hash, now)
		return nil
	})
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, audit.SessionRevoked, true, role, id, nil, nil)
	return nil
}

// RemoveOtherSessions revokes every session of the principal except the one
// holding currentToken and returns how many were dropped from the index.
func (e *Engine) RemoveOtherSessions(ctx context.Context, role Role, id, currentToken string) (int64, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	if _, err := e.principalStore(role); err != nil {
		return 0, err
	}
	hash := e.hashToken(currentToken)
	removed, err := e.sessions.RemoveOthers(ctx, string(role), id, hash)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return 0, ErrSessionNotFound
		}
		return 0, redisError(err)
	}

	e.syncDurable(ctx, "revoke_others", role, id, func(p *Principal) error {
		p.KeepOnlySession(hash)
		return nil
	})
	e.metricInc(MetricSessionsRevokedOthers)
	e.emitAudit(ctx, audit.SessionsRevokedOthers, true, role, id, nil, func() map[string]string {
		return map[string]string{"removed": fmt.Sprint(removed)}
	})
	return removed, nil
}

// ResetSecurity wipes every credential-derived artifact of the principal:
// the session index and snapshot, the durable session list, the second
// factor and all passkeys. The password is left as is.
//
// Only one reset per principal runs at a time; a concurrent duplicate gets
// [ErrResetInProgress]. Unlike the other session operations the durable part
// is not best effort and its failure is returned.
func (e *Engine) ResetSecurity(ctx context.Context, role Role, id string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if _, err := e.principalStore(role); err != nil {
		return err
	}
	release, err := e.sessions.AcquireResetLock(ctx, string(role), id, e.config.Session.ResetLockTTL)
	if err != nil {
		if errors.Is(err, session.ErrResetInProgress) {
			return ErrResetInProgress
		}
		return redisError(err)
	}
	defer release(context.WithoutCancel(ctx))

	if err := e.sessions.Reset(ctx, string(role), id); err != nil {
		return redisError(err)
	}
	if _, err := e.updateDurable(ctx, role, id, func(p *Principal) error {
		p.ResetSecurity()
		return nil
	}); err != nil {
		e.emitAudit(ctx, audit.SecurityReset, false, role, id, err, nil)
		return err
	}

	removed := 0
	if e.passkeys != nil {
		n, err := e.passkeys.RemoveAll(ctx, &Principal{ID: id, Role: role})
		if err != nil {
			e.emitAudit(ctx, audit.SecurityReset, false, role, id, err, nil)
			return durableError(err)
		}
		removed = n
	}

	e.metricInc(MetricSecurityReset)
	e.emitAudit(ctx, audit.SecurityReset, true, role, id, nil, func() map[string]string {
		return map[string]string{"passkeys_removed": fmt.Sprint(removed)}
	})
	return nil
}

// ListSessions returns the durable session records of the principal, newest
// first, annotated with whether each is still live in the index and whether
// it belongs to currentToken.
func (e *Engine) ListSessions(ctx context.Context, role Role, id, currentToken string) ([]SessionView, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	p, err := e.loadPrincipal(ctx, role, id)
	if err != nil {
		return nil, err
	}
	live, err := e.sessions.Active(ctx, string(role), id)
	if err != nil {
		return nil, redisError(err)
	}
	liveSet := make(map[string]struct{}, len(live))
	for _, h := range live {
		liveSet[h] = struct{}{}
	}
	current := ""
	if currentToken != "" {
		current = e.hashToken(currentToken)
	}

	out := make([]SessionView, 0, len(p.Sessions))
	for i := len(p.Sessions) - 1; i >= 0; i-- {
		rec := p.Sessions[i]
		_, ok := liveSet[rec.TokenHash]
		out = append(out, SessionView{
			SessionRecord: rec,
			Live:          ok && rec.Status == account.SessionActive,
			Current:       current != "" && rec.TokenHash == current,
		})
	}
	return out, nil
}

// PrincipalSnapshot returns the cached principal view used by request
// authorization. A cache miss reloads it from the durable store and caches
// it again for one refresh lifetime.
func (e *Engine) PrincipalSnapshot(ctx context.Context, role Role, id string) (*Principal, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	data, err := e.sessions.Snapshot(ctx, string(role), id)
	if err == nil {
		var p Principal
		if err := json.Unmarshal(data, &p); err == nil {
			return &p, nil
		}
	} else if !errors.Is(err, session.ErrSnapshotMiss) {
		return nil, redisError(err)
	}

	e.metricInc(MetricSnapshotMiss)
	full, err := e.loadPrincipal(ctx, role, id)
	if err != nil {
		return nil, err
	}
	snap := full.Snapshot()
	if data, err := json.Marshal(snap); err == nil {
		if err := e.sessions.CacheSnapshot(ctx, string(role), id, data, e.config.JWT.RefreshTTL); err != nil {
			e.logger.Warn("caching principal snapshot failed", "role", string(role), "principal_id", id, "error", err)
		}
	}
	return snap, nil
}

// invalidateSnapshot drops the cached snapshot after a principal mutation.
func (e *Engine) invalidateSnapshot(ctx context.Context, role Role, id string) {
	if err := e.sessions.InvalidateSnapshot(ctx, string(role), id); err != nil {
		e.logger.Warn("invalidating principal snapshot failed", "role", string(role), "principal_id", id, "error", err)
	}
}
