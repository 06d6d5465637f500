// Package sealer derives purpose-bound subkeys from the engine master secret
// and seals small payloads with XChaCha20-Poly1305.
package sealer

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeyLength is the size of every derived subkey.
const KeyLength = 32

// MinMasterLength is the shortest master secret accepted by DeriveKey.
const MinMasterLength = 32

var (
	// ErrOpen is returned for any ciphertext that fails authentication.
	ErrOpen = errors.New("sealer: message authentication failed")
	// ErrMasterTooShort is returned when the master secret is below MinMasterLength.
	ErrMasterTooShort = errors.New("sealer: master secret too short")
)

// DeriveKey expands master into a subkey bound to purpose.
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) < MinMasterLength {
		return nil, ErrMasterTooShort
	}
	h := hkdf.New(sha256.New, master, nil, []byte("courierauth/"+purpose))
	k := make([]byte, KeyLength)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}

// Sealer encrypts payloads for one purpose. A payload sealed for one purpose
// never opens under another.
type Sealer struct {
	aead    cipher.AEAD
	purpose []byte
}

// New derives the purpose subkey from master and returns a Sealer for it.
func New(master []byte, purpose string) (*Sealer, error) {
	key, err := DeriveKey(master, purpose)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating xchacha20poly1305: %w", err)
	}
	return &Sealer{aead: aead, purpose: []byte(purpose)}, nil
}

// Seal returns nonce||ciphertext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, s.purpose), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, ErrOpen
	}
	nonce, ct := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	pt, err := s.aead.Open(nil, nonce, ct, s.purpose)
	if err != nil {
		return nil, ErrOpen
	}
	return pt, nil
}

// SealString seals plaintext and encodes the result as unpadded base64url.
func (s *Sealer) SealString(plaintext string) (string, error) {
	out, err := s.Seal([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// OpenString reverses SealString.
func (s *Sealer) OpenString(sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrOpen
	}
	pt, err := s.Open(raw)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Hasher computes keyed digests for one purpose.
type Hasher struct {
	key []byte
}

// NewHasher derives the purpose subkey from master and returns a Hasher.
func NewHasher(master []byte, purpose string) (*Hasher, error) {
	key, err := DeriveKey(master, purpose)
	if err != nil {
		return nil, err
	}
	return &Hasher{key: key}, nil
}

// Sum returns the unpadded base64url HMAC-SHA256 of the parts, each length-prefixed.
func (h *Hasher) Sum(parts ...string) string {
	mac := hmac.New(sha256.New, h.key)
	var n [4]byte
	for _, p := range parts {
		n[0], n[1], n[2], n[3] = byte(len(p)>>24), byte(len(p)>>16), byte(len(p)>>8), byte(len(p))
		mac.Write(n[:])
		mac.Write([]byte(p))
	}
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Equal compares two digests in constant time.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
