// Package idgen generates random identifiers for users, views, and tokens.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return b
}

// WithPrefix returns prefix followed by 24 random hex chars (e.g. "usr_", "view_").
func WithPrefix(prefix string) string {
	return prefix + hex.EncodeToString(randomBytes(12))
}

// Hex returns numBytes random bytes hex-encoded.
func Hex(numBytes int) string {
	return hex.EncodeToString(randomBytes(numBytes))
}
