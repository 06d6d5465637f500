package passkey

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/MrEthical07/courierAuth/account"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

type passkeyUser struct {
	principal   *account.Principal
	credentials []webauthn.Credential
}

func newUser(p *account.Principal, stored []account.PasskeyCredential) (*passkeyUser, error) {
	creds := make([]webauthn.Credential, 0, len(stored))
	for _, s := range stored {
		c, err := toWebAuthn(s)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return &passkeyUser{principal: p, credentials: creds}, nil
}

// WebAuthnID is role-qualified: ids of different account kinds may overlap.
func (u *passkeyUser) WebAuthnID() []byte {
	return []byte(string(u.principal.Role) + ":" + u.principal.ID)
}

func (u *passkeyUser) WebAuthnName() string {
	return u.principal.Email
}

func (u *passkeyUser) WebAuthnDisplayName() string {
	return u.principal.Email
}

func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// EncodeCredentialID renders a raw credential id as stored.
func EncodeCredentialID(id []byte) string {
	return base64.RawURLEncoding.EncodeToString(id)
}

func toWebAuthn(s account.PasskeyCredential) (webauthn.Credential, error) {
	id, err := base64.RawURLEncoding.DecodeString(s.CredentialID)
	if err != nil {
		return webauthn.Credential{}, fmt.Errorf("decode credential %s: %w", s.CredentialID, err)
	}
	transports := make([]protocol.AuthenticatorTransport, 0, len(s.Transports))
	for _, t := range s.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:              id,
		PublicKey:       s.PublicKey,
		AttestationType: s.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    true,
			UserVerified:   s.UserVerified,
			BackupEligible: s.BackupEligible,
			BackupState:    s.BackedUp,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    s.AAGUID,
			SignCount: s.Counter,
		},
	}, nil
}

func fromWebAuthn(p *account.Principal, c *webauthn.Credential, label string, now time.Time) account.PasskeyCredential {
	transports := make([]string, 0, len(c.Transport))
	for _, t := range c.Transport {
		transports = append(transports, string(t))
	}
	deviceType := account.DeviceSingle
	if c.Flags.BackupEligible {
		deviceType = account.DeviceMulti
	}
	return account.PasskeyCredential{
		OwnerRole:       p.Role,
		OwnerID:         p.ID,
		CredentialID:    EncodeCredentialID(c.ID),
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		AAGUID:          c.Authenticator.AAGUID,
		Counter:         c.Authenticator.SignCount,
		Transports:      transports,
		DeviceType:      deviceType,
		BackupEligible:  c.Flags.BackupEligible,
		BackedUp:        c.Flags.BackupState,
		UserVerified:    c.Flags.UserVerified,
		DeviceLabel:     label,
		CreatedAt:       now,
	}
}
