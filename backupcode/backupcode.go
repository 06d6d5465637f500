// Package backupcode generates, seals and consumes single-use recovery codes.
//
// Codes are drawn from an alphabet without look-alike characters and shown
// in groups of four ("ABCD-EFGH-JKLM"). Each code is sealed individually, so
// the plaintext set never exists at rest.
package backupcode

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/courierAuth/internal"
)

const (
	// Alphabet excludes I, O, 0 and 1.
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	DefaultCount  = 16
	DefaultLength = 12

	groupSize = 4
)

var (
	// ErrMalformed is returned for input that cannot be a code.
	ErrMalformed = errors.New("backup code malformed")
	// ErrNoMatch is returned when the code is not in the stored set.
	ErrNoMatch = errors.New("backup code not recognized")
	// ErrSealed is returned when a stored code cannot be opened.
	ErrSealed = errors.New("backup code storage corrupt")
)

// Sealer is satisfied by sealer.Sealer.
type Sealer interface {
	SealString(plaintext string) (string, error)
	OpenString(sealed string) (string, error)
}

// Generate returns count formatted codes of length characters each.
// randomIndex defaults to crypto/rand.
func Generate(count, length int, randomIndex func(int) (int, error)) ([]string, error) {
	if count <= 0 || length < 8 {
		return nil, fmt.Errorf("backupcode: invalid count %d or length %d", count, length)
	}
	if randomIndex == nil {
		randomIndex = internal.RandomIndex
	}
	codes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for len(codes) < count {
		var b strings.Builder
		b.Grow(length)
		for i := 0; i < length; i++ {
			n, err := randomIndex(len(Alphabet))
			if err != nil {
				return nil, err
			}
			b.WriteByte(Alphabet[n])
		}
		raw := b.String()
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		codes = append(codes, Format(raw))
	}
	return codes, nil
}

// Format groups a canonical code in blocks of four separated by dashes.
func Format(code string) string {
	var b strings.Builder
	for i := 0; i < len(code); i += groupSize {
		if i > 0 {
			b.WriteByte('-')
		}
		end := min(i+groupSize, len(code))
		b.WriteString(code[i:end])
	}
	return b.String()
}

// Canonicalize upper-cases the input and strips dashes and whitespace.
func Canonicalize(code string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t', '\n', '\r':
			return -1
		}
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		return r
	}, code)
}

// Vault seals code sets and verifies submissions against them.
type Vault struct {
	sealer Sealer
	length int
}

// NewVault returns a Vault for codes of the given canonical length.
func NewVault(s Sealer, length int) *Vault {
	if length <= 0 {
		length = DefaultLength
	}
	return &Vault{sealer: s, length: length}
}

// Generate creates count fresh codes and returns both the formatted
// plaintext (shown once) and the sealed set to persist.
func (v *Vault) Generate(count int) (plain []string, sealed []string, err error) {
	plain, err = Generate(count, v.length, nil)
	if err != nil {
		return nil, nil, err
	}
	sealed, err = v.Seal(plain)
	if err != nil {
		return nil, nil, err
	}
	return plain, sealed, nil
}

// Seal encrypts each code separately in canonical form.
func (v *Vault) Seal(codes []string) ([]string, error) {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		s, err := v.sealer.SealString(Canonicalize(c))
		if err != nil {
			return nil, fmt.Errorf("sealing backup code: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Verify normalizes submitted and looks it up in stored. On a match it
// returns stored without the consumed entry; the caller must persist that
// set atomically before reporting success.
func (v *Vault) Verify(submitted string, stored []string) ([]string, error) {
	canonical := Canonicalize(submitted)
	if len(canonical) != v.length || strings.Trim(canonical, Alphabet) != "" {
		return nil, ErrMalformed
	}

	match := -1
	for i, s := range stored {
		plain, err := v.sealer.OpenString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSealed, err)
		}
		if subtle.ConstantTimeCompare([]byte(plain), []byte(canonical)) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return nil, ErrNoMatch
	}

	remaining := make([]string, 0, len(stored)-1)
	remaining = append(remaining, stored[:match]...)
	remaining = append(remaining, stored[match+1:]...)
	return remaining, nil
}
