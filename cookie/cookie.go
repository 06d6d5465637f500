// Package cookie maps token kinds and roles to named, scoped cookies.
package cookie

import (
	"net/http"
	"strings"
	"time"
)

// Kind is the logical token carried by a cookie.
type Kind string

const (
	KindAccess     Kind = "access_token"
	KindRefresh    Kind = "refresh_token"
	KindProtect    Kind = "protect_token"
	KindPendingMFA Kind = "mfa_ticket"
)

// Kinds lists every cookie kind in emission order.
var Kinds = []Kind{KindAccess, KindRefresh, KindProtect, KindPendingMFA}

// Policy defines how cookies are issued for every role.
type Policy struct {
	Domain     string
	Path       string
	Prefix     string
	Secure     bool
	SameSite   http.SameSite
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ProtectTTL time.Duration
	PendingTTL time.Duration

	now func() time.Time
}

// DefaultPolicy returns the platform defaults: secure, SameSite=None,
// access 30m, refresh and protect 3 days, pending ticket 5m.
func DefaultPolicy(domain string) Policy {
	return Policy{
		Domain:     domain,
		Path:       "/",
		Secure:     true,
		SameSite:   http.SameSiteNoneMode,
		AccessTTL:  30 * time.Minute,
		RefreshTTL: 72 * time.Hour,
		ProtectTTL: 72 * time.Hour,
		PendingTTL: 5 * time.Minute,
	}
}

func (p Policy) normalize() Policy {
	if p.Path == "" {
		p.Path = "/"
	}
	if p.SameSite == 0 {
		p.SameSite = http.SameSiteNoneMode
	}
	// browsers drop SameSite=None cookies without Secure
	if p.SameSite == http.SameSiteNoneMode {
		p.Secure = true
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Name returns the stable cookie name for kind and role, e.g. "agent_access_token".
func (p Policy) Name(kind Kind, role string) string {
	name := strings.ToLower(role) + "_" + string(kind)
	if p.Prefix != "" {
		name = p.Prefix + name
	}
	return name
}

// TTL returns the nominal lifetime of kind.
func (p Policy) TTL(kind Kind) time.Duration {
	switch kind {
	case KindAccess:
		return p.AccessTTL
	case KindRefresh:
		return p.RefreshTTL
	case KindProtect:
		return p.ProtectTTL
	case KindPendingMFA:
		return p.PendingTTL
	}
	return 0
}

// Cookie builds the cookie for kind. Only the protect cookie is readable by
// client script. Without remember the cookie has no expiry, except the
// pending-MFA ticket which always expires after PendingTTL.
func (p Policy) Cookie(kind Kind, role, value string, remember bool) *http.Cookie {
	p = p.normalize()
	c := &http.Cookie{
		Name:     p.Name(kind, role),
		Value:    value,
		Path:     p.Path,
		Domain:   p.Domain,
		HttpOnly: kind != KindProtect,
		Secure:   p.Secure,
		SameSite: p.SameSite,
	}
	if remember || kind == KindPendingMFA {
		if ttl := p.TTL(kind); ttl > 0 {
			c.Expires = p.now().Add(ttl)
			c.MaxAge = int(ttl / time.Second)
		}
	}
	return c
}

// Set writes the cookie for kind to w.
func (p Policy) Set(w http.ResponseWriter, kind Kind, role, value string, remember bool) {
	http.SetCookie(w, p.Cookie(kind, role, value, remember))
}

// Clear expires the cookie of kind.
func (p Policy) Clear(w http.ResponseWriter, kind Kind, role string) {
	p = p.normalize()
	http.SetCookie(w, &http.Cookie{
		Name:     p.Name(kind, role),
		Value:    "",
		Path:     p.Path,
		Domain:   p.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: kind != KindProtect,
		Secure:   p.Secure,
		SameSite: p.SameSite,
	})
}

// ClearAll expires every cookie of role. It is safe to call repeatedly and
// whether or not the cookies were ever set.
func (p Policy) ClearAll(w http.ResponseWriter, role string) {
	for _, k := range Kinds {
		p.Clear(w, k, role)
	}
}

// Read returns the value of the kind cookie on r, or "".
func (p Policy) Read(r *http.Request, kind Kind, role string) string {
	c, err := r.Cookie(p.Name(kind, role))
	if err != nil {
		return ""
	}
	return c.Value
}
