package internal

import (
	"crypto/rand"
	"math/big"
)

// RandomIndex returns a uniform index in [0, max) from crypto/rand.
func RandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
