package courierAuth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MrEthical07/courierAuth/account"
	"github.com/MrEthical07/courierAuth/backupcode"
	"github.com/MrEthical07/courierAuth/cookie"
	"github.com/MrEthical07/courierAuth/internal/audit"
	"github.com/MrEthical07/courierAuth/internal/rate"
	"github.com/MrEthical07/courierAuth/internal/sealer"
	"github.com/MrEthical07/courierAuth/internal/stores"
	"github.com/MrEthical07/courierAuth/jwt"
	"github.com/MrEthical07/courierAuth/passkey"
	"github.com/MrEthical07/courierAuth/password"
	"github.com/MrEthical07/courierAuth/session"
	"github.com/redis/go-redis/v9"
)

// Engine issues, rotates, binds, revokes and recovers authentication state
// for every registered role.
//
// Engine is safe for concurrent use after [Builder.Build]. It holds no
// per-principal state in process; everything lives in Redis or the durable
// principal stores.
type Engine struct {
	config Config
	logger *slog.Logger
	redis  redis.UniversalClient

	principals   map[Role]PrincipalStore
	passkeyStore PasskeyStore

	tokens       *jwt.Manager
	tokenHasher  *sealer.Hasher
	deviceHasher *sealer.Hasher
	proofHasher  *sealer.Hasher
	ticketSealer *sealer.Sealer
	secretSealer *sealer.Sealer
	backupCodes  *backupcode.Vault
	passwords    *password.Hasher
	totp         *totpManager

	sessions *session.Store
	tickets  *stores.TicketStore
	limiter  *rate.Limiter
	passkeys *passkey.Ceremonies

	cookies cookie.Policy
	audit   *audit.Dispatcher
	metrics *Metrics
	now     func() time.Time
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// CookiePolicy returns the transport policy derived from the configuration.
func (e *Engine) CookiePolicy() cookie.Policy {
	return e.cookies
}

// DeviceBindingEnabled reports whether tokens must be presented from the
// device they were issued to.
func (e *Engine) DeviceBindingEnabled() bool {
	return e != nil && e.config.DeviceBinding.Enabled
}

// Roles lists the roles with a registered principal store.
func (e *Engine) Roles() []Role {
	out := make([]Role, 0, len(e.principals))
	for role := range e.principals {
		out = append(out, role)
	}
	slices.Sort(out)
	return out
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) principalStore(role Role) (PrincipalStore, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	store, ok := e.principals[role]
	if !ok {
		return nil, ErrRoleUnknown
	}
	return store, nil
}

// loadPrincipal reads the full durable document, secrets included.
func (e *Engine) loadPrincipal(ctx context.Context, role Role, id string) (*Principal, error) {
	store, err := e.principalStore(role)
	if err != nil {
		return nil, err
	}
	p, err := store.FindByID(ctx, id)
	if err != nil {
		return nil, durableError(err)
	}
	return p, nil
}

func durableError(err error) error {
	switch {
	case errors.Is(err, account.ErrPrincipalNotFound):
		return ErrPrincipalNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrDurableStore, err)
	}
}

func redisError(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}
