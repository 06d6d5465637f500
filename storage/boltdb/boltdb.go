// Package boltdb provides the durable principal and passkey stores on a
// BBolt database. Every mutation runs inside a single bbolt Update
// transaction, which serializes writers and makes read-modify-write atomic.
package boltdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/courierAuth/account"
	"go.etcd.io/bbolt"
)

var (
	passkeysBucket      = []byte("passkeys")
	passkeyOwnersBucket = []byte("passkey_owners")
)

// Store is a BBolt-backed durable store for every account kind.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ account.PasskeyStore = (*Store)(nil)

// NewStore returns a Store backed by the given BBolt database.
func NewStore(db *bbolt.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// OpenFile opens a BBolt database at path and returns a new Store.
func OpenFile(path string, options *bbolt.Options) (*Store, error) {
	if options == nil {
		options = &bbolt.Options{Timeout: time.Second}
	}
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Principals returns the collection of one account kind.
func (s *Store) Principals(role account.Role) *Principals {
	return &Principals{store: s, role: role}
}

// Principals is the per-role principal collection. It implements
// account.PrincipalStore.
type Principals struct {
	store *Store
	role  account.Role
}

var _ account.PrincipalStore = (*Principals)(nil)

func (c *Principals) bucket() []byte {
	return []byte("principals:" + string(c.role))
}

func (c *Principals) emailBucket() []byte {
	return []byte("emails:" + string(c.role))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts a new principal. The email must be unique within the role.
func (c *Principals) Create(ctx context.Context, p *account.Principal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.ID == "" {
		return fmt.Errorf("boltdb: principal id is required")
	}
	p.Role = c.role
	p.Email = normalizeEmail(p.Email)
	now := c.store.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	return c.store.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(c.bucket())
		if err != nil {
			return err
		}
		eb, err := tx.CreateBucketIfNotExists(c.emailBucket())
		if err != nil {
			return err
		}
		if b.Get([]byte(p.ID)) != nil {
			return fmt.Errorf("boltdb: principal %s already exists", p.ID)
		}
		if p.Email != "" {
			if eb.Get([]byte(p.Email)) != nil {
				return account.ErrDuplicateEmail
			}
			if err := eb.Put([]byte(p.Email), []byte(p.ID)); err != nil {
				return err
			}
		}
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put([]byte(p.ID), data)
	})
}

// FindByID loads a principal by id.
func (c *Principals) FindByID(ctx context.Context, id string) (*account.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p *account.Principal
	err := c.store.db.View(func(tx *bbolt.Tx) error {
		var err error
		p, err = c.load(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FindByEmail loads a principal by its normalized email.
func (c *Principals) FindByEmail(ctx context.Context, email string) (*account.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p *account.Principal
	err := c.store.db.View(func(tx *bbolt.Tx) error {
		eb := tx.Bucket(c.emailBucket())
		if eb == nil {
			return account.ErrPrincipalNotFound
		}
		id := eb.Get([]byte(normalizeEmail(email)))
		if id == nil {
			return account.ErrPrincipalNotFound
		}
		var err error
		p, err = c.load(tx, string(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateByID applies mutate inside one Update transaction. An error from
// mutate rolls the transaction back and is returned unchanged.
func (c *Principals) UpdateByID(ctx context.Context, id string, mutate func(*account.Principal) error) (*account.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *account.Principal
	err := c.store.db.Update(func(tx *bbolt.Tx) error {
		p, err := c.load(tx, id)
		if err != nil {
			return err
		}
		oldEmail := p.Email
		if err := mutate(p); err != nil {
			return err
		}
		p.ID, p.Role = id, c.role
		p.Email = normalizeEmail(p.Email)
		p.UpdatedAt = c.store.now().UTC()

		if p.Email != oldEmail {
			eb, err := tx.CreateBucketIfNotExists(c.emailBucket())
			if err != nil {
				return err
			}
			if owner := eb.Get([]byte(p.Email)); owner != nil && string(owner) != id {
				return account.ErrDuplicateEmail
			}
			if oldEmail != "" {
				if err := eb.Delete([]byte(oldEmail)); err != nil {
					return err
				}
			}
			if p.Email != "" {
				if err := eb.Put([]byte(p.Email), []byte(id)); err != nil {
					return err
				}
			}
		}

		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		out = p
		return tx.Bucket(c.bucket()).Put([]byte(id), data)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Principals) load(tx *bbolt.Tx, id string) (*account.Principal, error) {
	b := tx.Bucket(c.bucket())
	if b == nil {
		return nil, account.ErrPrincipalNotFound
	}
	data := b.Get([]byte(id))
	if data == nil {
		return nil, account.ErrPrincipalNotFound
	}
	var p account.Principal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding principal %s: %w", id, err)
	}
	return &p, nil
}

func ownerPrefix(role account.Role, ownerID string) []byte {
	return []byte(string(role) + "\x00" + ownerID + "\x00")
}

func ownerKey(role account.Role, ownerID, credentialID string) []byte {
	return append(ownerPrefix(role, ownerID), credentialID...)
}

// Put stores a new credential. Registering the same credential id twice fails
// with account.ErrPasskeyExists.
func (s *Store) Put(ctx context.Context, cred account.PasskeyCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cred.CredentialID == "" {
		return fmt.Errorf("boltdb: credential id is required")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(passkeysBucket)
		if err != nil {
			return err
		}
		ob, err := tx.CreateBucketIfNotExists(passkeyOwnersBucket)
		if err != nil {
			return err
		}
		if b.Get([]byte(cred.CredentialID)) != nil {
			return account.ErrPasskeyExists
		}
		data, err := json.Marshal(cred)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(cred.CredentialID), data); err != nil {
			return err
		}
		return ob.Put(ownerKey(cred.OwnerRole, cred.OwnerID, cred.CredentialID), nil)
	})
}

// Get loads one credential.
func (s *Store) Get(ctx context.Context, credentialID string) (*account.PasskeyCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var cred *account.PasskeyCredential
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		cred, err = loadPasskey(tx, credentialID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// ListByOwner returns every credential registered to role/ownerID.
func (s *Store) ListByOwner(ctx context.Context, role account.Role, ownerID string) ([]account.PasskeyCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []account.PasskeyCredential
	prefix := ownerPrefix(role, ownerID)
	err := s.db.View(func(tx *bbolt.Tx) error {
		ob := tx.Bucket(passkeyOwnersBucket)
		if ob == nil {
			return nil
		}
		c := ob.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			cred, err := loadPasskey(tx, string(k[len(prefix):]))
			if err != nil {
				return err
			}
			out = append(out, *cred)
		}
		return nil
	})
	return out, err
}

// AdvanceCounter moves the stored counter to counter and stamps usedAt. A
// counter not strictly greater than the stored one is rejected with
// account.ErrCounterNotAdvanced inside the same transaction. With allowZero,
// an authenticator that reports zero on both sides is accepted.
func (s *Store) AdvanceCounter(ctx context.Context, credentialID string, counter uint32, usedAt time.Time, allowZero bool) (*account.PasskeyCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *account.PasskeyCredential
	err := s.db.Update(func(tx *bbolt.Tx) error {
		cred, err := loadPasskey(tx, credentialID)
		if err != nil {
			return err
		}
		zeroPair := allowZero && counter == 0 && cred.Counter == 0
		if counter <= cred.Counter && !zeroPair {
			return account.ErrCounterNotAdvanced
		}
		cred.Counter = counter
		cred.LastUsedAt = usedAt
		data, err := json.Marshal(cred)
		if err != nil {
			return err
		}
		out = cred
		return tx.Bucket(passkeysBucket).Put([]byte(credentialID), data)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes one credential.
func (s *Store) Delete(ctx context.Context, credentialID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		cred, err := loadPasskey(tx, credentialID)
		if err != nil {
			return err
		}
		if err := tx.Bucket(passkeysBucket).Delete([]byte(credentialID)); err != nil {
			return err
		}
		if ob := tx.Bucket(passkeyOwnersBucket); ob != nil {
			return ob.Delete(ownerKey(cred.OwnerRole, cred.OwnerID, credentialID))
		}
		return nil
	})
}

// DeleteByOwner removes every credential of role/ownerID and returns the count.
func (s *Store) DeleteByOwner(ctx context.Context, role account.Role, ownerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	prefix := ownerPrefix(role, ownerID)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		ob := tx.Bucket(passkeyOwnersBucket)
		b := tx.Bucket(passkeysBucket)
		if ob == nil || b == nil {
			return nil
		}
		var keys [][]byte
		c := ob.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, bytes.Clone(k))
		}
		for _, k := range keys {
			if err := b.Delete(k[len(prefix):]); err != nil {
				return err
			}
			if err := ob.Delete(k); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func loadPasskey(tx *bbolt.Tx, credentialID string) (*account.PasskeyCredential, error) {
	b := tx.Bucket(passkeysBucket)
	if b == nil {
		return nil, account.ErrPasskeyNotFound
	}
	data := b.Get([]byte(credentialID))
	if data == nil {
		return nil, account.ErrPasskeyNotFound
	}
	var cred account.PasskeyCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("decoding passkey %s: %w", credentialID, err)
	}
	return &cred, nil
}
