package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/hex"
	"strings"
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

func randomBase32(n int) string {
	buf := make([]byte, n)
	// crypto/rand.Read never returns an error on supported platforms
	_, _ = rand.Read(buf)
	return b32.EncodeToString(buf)
}

// GenerateUserID returns a 24 character lowercase identifier
func GenerateUserID() string {
	return strings.ToLower(randomBase32(15))
}

// GenerateSessionToken returns a random lowercase base32 token. Only its
// hash is ever stored.
func GenerateSessionToken() string {
	return strings.ToLower(randomBase32(20))
}

// GenerateRequestID returns an identifier for an email verification request
func GenerateRequestID() string {
	return strings.ToLower(randomBase32(20))
}

// GenerateOTP returns an 8 character uppercase one-time code
func GenerateOTP() string {
	return randomBase32(5)
}

// HashToken derives the stored session id from a token
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEqual compares two codes without leaking timing
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
