package internal

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomText returns n characters drawn uniformly from [A-Za-z0-9] using the
// system CSPRNG. Challenge secrets must not be guessable from prior secrets.
func RandomText(n int) (string, error) {
	buf := make([]byte, n)
	max := big.NewInt(int64(len(secretAlphabet)))

	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("can't read from CSPRNG: %w", err)
		}
		buf[i] = secretAlphabet[idx.Int64()]
	}

	return string(buf), nil
}


