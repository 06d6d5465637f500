package account

import (
	"context"
	"time"
)

// PrincipalStore is the durable document store of one account kind.
//
// UpdateByID must apply mutate as one atomic read-modify-write: concurrent
// updates of the same principal are serialized, and an error from mutate
// aborts the update and is returned unchanged.
type PrincipalStore interface {
	FindByID(ctx context.Context, id string) (*Principal, error)
	FindByEmail(ctx context.Context, email string) (*Principal, error)
	UpdateByID(ctx context.Context, id string, mutate func(*Principal) error) (*Principal, error)
}

// PasskeyStore holds registered passkey credentials for every role.
//
// AdvanceCounter must reject, with ErrCounterNotAdvanced, any counter not
// strictly greater than the stored one, atomically with the write.
type PasskeyStore interface {
	ListByOwner(ctx context.Context, role Role, ownerID string) ([]PasskeyCredential, error)
	Get(ctx context.Context, credentialID string) (*PasskeyCredential, error)
	Put(ctx context.Context, cred PasskeyCredential) error
	AdvanceCounter(ctx context.Context, credentialID string, counter uint32, usedAt time.Time, allowZero bool) (*PasskeyCredential, error)
	Delete(ctx context.Context, credentialID string) error
	DeleteByOwner(ctx context.Context, role Role, ownerID string) (int, error)
}
