package passkey

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrEthical07/courierAuth/account"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Ceremonies runs registration and authentication against one relying party.
// It owns challenges and credential records; principal summaries are left to
// the caller.
type Ceremonies struct {
	provider   Provider
	parser     Parser
	challenges *ChallengeStore
	creds      account.PasskeyStore
	cfg        Config
	now        func() time.Time
}

func NewCeremonies(cfg Config, provider Provider, parser Parser, challenges *ChallengeStore, creds account.PasskeyStore) *Ceremonies {
	if parser == nil {
		parser = DefaultParser{}
	}
	return &Ceremonies{
		provider:   provider,
		parser:     parser,
		challenges: challenges,
		creds:      creds,
		cfg:        cfg,
		now:        time.Now,
	}
}

// BeginRegistration excludes every credential the principal already owns.
func (c *Ceremonies) BeginRegistration(ctx context.Context, p *account.Principal) (*protocol.CredentialCreation, error) {
	user, err := c.loadUser(ctx, p)
	if err != nil {
		return nil, err
	}
	opts := []webauthn.RegistrationOption{
		webauthn.WithExclusions(webauthn.Credentials(user.credentials).CredentialDescriptors()),
	}
	creation, session, err := c.provider.BeginRegistration(user, opts...)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}
	if err := c.challenges.Save(ctx, string(p.Role), p.ID, SessionKindRegistration, session, ChallengeTTL); err != nil {
		return nil, err
	}
	return creation, nil
}

// FinishRegistration consumes the challenge before anything else, so a failed
// attempt cannot be retried with the same response.
func (c *Ceremonies) FinishRegistration(ctx context.Context, p *account.Principal, response []byte, origin, label string) (*account.PasskeyCredential, error) {
	session, err := c.challenges.Consume(ctx, string(p.Role), p.ID, SessionKindRegistration)
	if err != nil {
		return nil, err
	}
	if !c.originAllowed(origin) {
		return nil, ErrOriginMismatch
	}
	parsed, err := c.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if parsed.Response.CollectedClientData.Origin != origin {
		return nil, ErrOriginMismatch
	}
	user, err := c.loadUser(ctx, p)
	if err != nil {
		return nil, err
	}
	created, err := c.provider.CreateCredential(user, *session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	cred := fromWebAuthn(p, created, label, c.now())
	if err := c.creds.Put(ctx, cred); err != nil {
		if errors.Is(err, account.ErrPasskeyExists) {
			return nil, ErrAlreadyRegistered
		}
		return nil, err
	}
	return &cred, nil
}

// BeginLogin requires at least one registered passkey.
func (c *Ceremonies) BeginLogin(ctx context.Context, p *account.Principal) (*protocol.CredentialAssertion, error) {
	user, err := c.loadUser(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(user.credentials) == 0 {
		return nil, ErrNoneRegistered
	}
	assertion, session, err := c.provider.BeginLogin(user)
	if err != nil {
		return nil, fmt.Errorf("begin login: %w", err)
	}
	if err := c.challenges.Save(ctx, string(p.Role), p.ID, SessionKindLogin, session, ChallengeTTL); err != nil {
		return nil, err
	}
	return assertion, nil
}

// FinishLogin verifies an assertion and commits the new signature counter.
// A counter that does not strictly increase fails with ErrReplay, unless the
// authenticator reports zero on both sides and AllowZeroCounter is set.
func (c *Ceremonies) FinishLogin(ctx context.Context, p *account.Principal, response []byte) (*account.PasskeyCredential, error) {
	session, err := c.challenges.Consume(ctx, string(p.Role), p.ID, SessionKindLogin)
	if err != nil {
		return nil, err
	}
	parsed, err := c.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if !c.originAllowed(parsed.Response.CollectedClientData.Origin) {
		return nil, ErrOriginMismatch
	}

	stored, err := c.creds.ListByOwner(ctx, p.Role, p.ID)
	if err != nil {
		return nil, err
	}
	credID := EncodeCredentialID(parsed.RawID)
	idx := slices.IndexFunc(stored, func(s account.PasskeyCredential) bool { return s.CredentialID == credID })
	if idx < 0 {
		return nil, ErrUnknownCredential
	}
	match := stored[idx]

	user, err := newUser(p, stored)
	if err != nil {
		return nil, err
	}
	if _, err := c.provider.ValidateLogin(user, *session, parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}

	reported := parsed.Response.AuthenticatorData.Counter
	zeroPair := c.cfg.AllowZeroCounter && reported == 0 && match.Counter == 0
	if reported <= match.Counter && !zeroPair {
		return nil, ErrReplay
	}
	updated, err := c.creds.AdvanceCounter(ctx, credID, reported, c.now(), c.cfg.AllowZeroCounter)
	if err != nil {
		if errors.Is(err, account.ErrCounterNotAdvanced) {
			return nil, ErrReplay
		}
		return nil, err
	}
	return updated, nil
}

// List returns the principal's credentials.
func (c *Ceremonies) List(ctx context.Context, p *account.Principal) ([]account.PasskeyCredential, error) {
	return c.creds.ListByOwner(ctx, p.Role, p.ID)
}

// Remove deletes one credential owned by p and reports how many remain.
func (c *Ceremonies) Remove(ctx context.Context, p *account.Principal, credentialID string) (int, error) {
	cred, err := c.creds.Get(ctx, credentialID)
	if err != nil {
		return 0, err
	}
	if cred.OwnerRole != p.Role || cred.OwnerID != p.ID {
		return 0, account.ErrPasskeyNotFound
	}
	if err := c.creds.Delete(ctx, credentialID); err != nil {
		return 0, err
	}
	rest, err := c.creds.ListByOwner(ctx, p.Role, p.ID)
	if err != nil {
		return 0, err
	}
	return len(rest), nil
}

// RemoveAll deletes every credential owned by p.
func (c *Ceremonies) RemoveAll(ctx context.Context, p *account.Principal) (int, error) {
	return c.creds.DeleteByOwner(ctx, p.Role, p.ID)
}

func (c *Ceremonies) loadUser(ctx context.Context, p *account.Principal) (*passkeyUser, error) {
	stored, err := c.creds.ListByOwner(ctx, p.Role, p.ID)
	if err != nil {
		return nil, err
	}
	return newUser(p, stored)
}

func (c *Ceremonies) originAllowed(origin string) bool {
	return origin != "" && slices.Contains(c.cfg.RPOrigins, origin)
}
