package internal

import (
	"crypto/subtle"
	"strings"

	"github.com/mssola/useragent"
)

// DeviceSignature is the coarse client fingerprint embedded in tokens.
type DeviceSignature struct {
	IPHash      string
	DeviceHash  string
	BrowserHash string
}

// ClientFamily is the parsed OS and browser family of a user agent.
type ClientFamily struct {
	OS      string
	Browser string
	Mobile  bool
}

// ParseClientFamily reduces a user-agent string to its OS and browser
// families. Versions are dropped so browser upgrades keep the binding stable.
func ParseClientFamily(userAgent string) ClientFamily {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return ClientFamily{OS: "unknown", Browser: "unknown"}
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	os := ua.OSInfo().Name
	if os == "" {
		os = ua.Platform()
	}
	if os == "" {
		os = "unknown"
	}
	if browser == "" {
		browser = "unknown"
	}
	return ClientFamily{OS: os, Browser: browser, Mobile: ua.Mobile()}
}

// Describe renders a short human label such as "Firefox on Linux".
func (c ClientFamily) Describe() string {
	label := c.Browser + " on " + c.OS
	if c.Mobile {
		label += " (mobile)"
	}
	return label
}

// Keyed is satisfied by sealer.Hasher.
type Keyed interface {
	Sum(parts ...string) string
}

// SignDevice computes the keyed device signature of a request origin.
func SignDevice(h Keyed, ip, userAgent string) DeviceSignature {
	fam := ParseClientFamily(userAgent)
	mobile := "desktop"
	if fam.Mobile {
		mobile = "mobile"
	}
	return DeviceSignature{
		IPHash:      h.Sum("ip", strings.TrimSpace(ip)),
		DeviceHash:  h.Sum("device", fam.OS, mobile),
		BrowserHash: h.Sum("browser", fam.Browser),
	}
}

// SignatureMismatch reports whether current differs from stored. Device and
// browser are always compared; the IP only when enforceIP is set. An empty
// stored component is a mismatch.
func SignatureMismatch(stored, current DeviceSignature, enforceIP bool) bool {
	mismatch := !hashEqual(stored.DeviceHash, current.DeviceHash)
	mismatch = !hashEqual(stored.BrowserHash, current.BrowserHash) || mismatch
	if enforceIP {
		mismatch = !hashEqual(stored.IPHash, current.IPHash) || mismatch
	}
	return mismatch
}

func hashEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
