package passkey

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// SessionKind is the ceremony a challenge belongs to.
type SessionKind string

const (
	SessionKindRegistration SessionKind = "registration"
	SessionKindLogin        SessionKind = "login"
)

// ChallengeTTL is how long a begun ceremony can be finished. It is not
// configurable.
const ChallengeTTL = 300 * time.Second

// Config holds relying-party settings.
type Config struct {
	RPDisplayName    string   `env:"RP_DISPLAY_NAME" envDefault:"Courier"`
	RPID             string   `env:"RP_ID" envDefault:"localhost"`
	RPOrigins        []string `env:"RP_ORIGINS" envSeparator:","`
	AllowZeroCounter bool     `env:"ALLOW_ZERO_COUNTER"`
}

// Provider is the subset of *webauthn.WebAuthn the ceremonies use.
type Provider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// Parser decodes raw client responses.
type Parser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

// DefaultParser delegates to the protocol package.
type DefaultParser struct{}

func (DefaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (DefaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// NewProvider builds the go-webauthn relying party from cfg.
func NewProvider(cfg Config) (*webauthn.WebAuthn, error) {
	if strings.TrimSpace(cfg.RPID) == "" {
		return nil, fmt.Errorf("passkey: relying party id is required")
	}
	if len(cfg.RPOrigins) == 0 {
		return nil, fmt.Errorf("passkey: at least one origin is required")
	}
	name := cfg.RPDisplayName
	if name == "" {
		name = cfg.RPID
	}
	return webauthn.New(&webauthn.Config{
		RPDisplayName: name,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
}
