package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// RandomHex returns n random bytes encoded as a lowercase hex string.
func RandomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// RandomSecret returns a random secret suitable for session passwords.
func RandomSecret() string {
	return RandomHex(16)
}
