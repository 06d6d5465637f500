package account

import (
	"errors"
	"time"
)

// Role tags a principal with its account kind.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

var (
	ErrPrincipalNotFound  = errors.New("principal not found")
	ErrDuplicateEmail     = errors.New("principal email already registered")
	ErrPasskeyNotFound    = errors.New("passkey credential not found")
	ErrPasskeyExists      = errors.New("passkey credential already registered")
	ErrCounterNotAdvanced = errors.New("passkey counter did not advance")
)

// SessionStatus is the lifecycle state of a durable session record.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionRevoked SessionStatus = "revoked"
)

// SessionRecord is the durable audit entry of one login lineage. TokenHash
// always holds the latest rotated access-token hash of that lineage.
type SessionRecord struct {
	TokenHash  string        `json:"tokenHash"`
	DeviceInfo string        `json:"deviceInfo"`
	Location   string        `json:"location,omitempty"`
	IP         string        `json:"ip,omitempty"`
	Status     SessionStatus `json:"status"`
	LoggedInAt time.Time     `json:"loggedInAt"`
	RotatedAt  time.Time     `json:"rotatedAt,omitzero"`
	RevokedAt  time.Time     `json:"revokedAt,omitzero"`
}

// SecondFactorState holds sealed TOTP material and sealed backup codes.
type SecondFactorState struct {
	Enabled       bool     `json:"enabled"`
	Secret        string   `json:"secret,omitempty"`
	PendingSecret string   `json:"pendingSecret,omitempty"`
	BackupCodes   []string `json:"backupCodes,omitempty"`
}

// PasskeySummary is the denormalized passkey count kept on the principal.
type PasskeySummary struct {
	HasPasskeys bool      `json:"hasPasskeys"`
	Count       int       `json:"count"`
	LastUsed    time.Time `json:"lastUsed,omitzero"`
}

// LinkedIdentity references an external (OAuth) identity.
type LinkedIdentity struct {
	Provider string    `json:"provider"`
	Subject  string    `json:"subject"`
	LinkedAt time.Time `json:"linkedAt"`
}

// Principal is an authenticated account of any role.
type Principal struct {
	ID               string            `json:"id"`
	Role             Role              `json:"role"`
	Email            string            `json:"email"`
	PasswordHash     string            `json:"passwordHash,omitempty"`
	Verified         bool              `json:"verified"`
	SecondFactor     SecondFactorState `json:"secondFactor"`
	Passkeys         PasskeySummary    `json:"passkeys"`
	LinkedIdentities []LinkedIdentity  `json:"linkedIdentities,omitempty"`
	Sessions         []SessionRecord   `json:"sessions,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// PasskeyCredential is a registered WebAuthn credential. Counter only ever
// increases.
type PasskeyCredential struct {
	OwnerRole       Role      `json:"ownerRole"`
	OwnerID         string    `json:"ownerId"`
	CredentialID    string    `json:"credentialId"`
	PublicKey       []byte    `json:"publicKey"`
	AttestationType string    `json:"attestationType,omitempty"`
	AAGUID          []byte    `json:"aaguid,omitempty"`
	Counter         uint32    `json:"counter"`
	Transports      []string  `json:"transports,omitempty"`
	DeviceType      string    `json:"deviceType"`
	BackupEligible  bool      `json:"backupEligible"`
	BackedUp        bool      `json:"backedUp"`
	UserVerified    bool      `json:"userVerified"`
	DeviceLabel     string    `json:"deviceLabel,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	LastUsedAt      time.Time `json:"lastUsedAt,omitzero"`
}

// Device types reported for passkeys.
const (
	DeviceSingle = "singleDevice"
	DeviceMulti  = "multiDevice"
)
