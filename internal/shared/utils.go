// Package shared provides small helpers for random sizes and for copying
// and wiping secrets in memory.
package shared

import (
	"crypto/rand"
	"math/big"
)

// RandIntInclusive returns a uniformly distributed integer in [lo, hi].
func RandIntInclusive(lo, hi int) (int, error) {
	if hi <= lo {
		return lo, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(hi-lo+1)))
	if err != nil {
		return 0, err
	}
	return lo + int(n.Int64()), nil
}

// WipeByteArray overwrites the contents of b with zeros. Use it for
// passwords and derived keys once they are no longer needed.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// CloneBytes returns a copy of b, preserving nil.
func CloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
