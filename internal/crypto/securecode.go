// Package crypto implements server-side hashing of owner secure codes.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashSecureCode returns the Argon2id hash of an owner secure code using
// the provided per-code salt.
func HashSecureCode(code, salt []byte) []byte {
	return argon2.IDKey(code, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifySecureCode verifies a presented code against the stored hash and salt.
func VerifySecureCode(code, salt, expected []byte) bool {
	if len(expected) == 0 {
		return false
	}
	got := HashSecureCode(code, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}
