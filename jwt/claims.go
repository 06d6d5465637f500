package jwt

import "github.com/golang-jwt/jwt/v5"

// TokenType is carried in the "typ" claim so one kind cannot stand in for another.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
	TypeProtect TokenType = "protect"
)

// Binding is the device-binding signature embedded in every token.
type Binding struct {
	IPHash      string `json:"ih"`
	DeviceHash  string `json:"dh"`
	BrowserHash string `json:"bh"`
}

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	Binding
	PrincipalID string    `json:"id"`
	Role        string    `json:"role"`
	Type        TokenType `json:"typ"`
	jwt.RegisteredClaims
}

func (c *AccessClaims) issuedAt() *jwt.NumericDate { return c.IssuedAt }

// LinkedClaims is the payload of refresh and protect tokens. Linkage is the
// keyed hash of the access token issued alongside.
type LinkedClaims struct {
	Binding
	PrincipalID string    `json:"id"`
	Role        string    `json:"role"`
	Type        TokenType `json:"typ"`
	Remember    bool      `json:"remember"`
	Linkage     string    `json:"lnk"`
	jwt.RegisteredClaims
}

func (c *LinkedClaims) issuedAt() *jwt.NumericDate { return c.IssuedAt }
