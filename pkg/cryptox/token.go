package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// Random token sizes in bytes. Encoded lengths are 22, 43 and 86 chars.
const (
	TokenSize128 = 16 // session ids
	TokenSize256 = 32 // access, refresh and authorization code values
	TokenSize512 = 64
)

var b64 = base64.RawURLEncoding

// GenerateToken returns size random bytes, base64url encoded without
// padding.
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("cryptox: token size must be positive, got %d", size)
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("cryptox: read random: %w", err)
	}
	return b64.EncodeToString(buf), nil
}

// MustGenerateToken panics where GenerateToken fails.
func MustGenerateToken(size int) string {
	token, err := GenerateToken(size)
	if err != nil {
		panic(err)
	}
	return token
}

// FingerprintToken is the base64url SHA-256 of token. Stores key tokens
// and codes by fingerprint so the values themselves never rest on disk.
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return b64.EncodeToString(sum[:])
}

// S256Challenge is the RFC 7636 S256 code challenge for verifier.
func S256Challenge(verifier string) string {
	return FingerprintToken(verifier)
}

// EqualTokens compares a and b in constant time.
func EqualTokens(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
