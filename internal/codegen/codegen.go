// Package codegen generates the codes used to name per-click invite links.
package codegen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	alphabet     = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffixLength = 4
	// Length is the total length of a generated code.
	Length = 8 + suffixLength
)

var (
	now        = time.Now
	randomRune = func() (byte, error) {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return 0, err
		}
		return alphabet[n.Int64()], nil
	}
)

// New returns the last eight digits of the current Unix time in milliseconds
// followed by four random characters from [a-z0-9]. Codes are unique with high
// probability only; storage enforces the guarantee.
func New() (string, error) {
	millis := now().UnixMilli() % 100_000_000

	suffix := make([]byte, suffixLength)
	for i := range suffix {
		c, err := randomRune()
		if err != nil {
			return "", fmt.Errorf("generate code suffix: %w", err)
		}
		suffix[i] = c
	}

	return fmt.Sprintf("%08d%s", millis, suffix), nil
}
