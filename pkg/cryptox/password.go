package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrPasswordMismatch is returned by VerifyPassword when the password is wrong.
var ErrPasswordMismatch = errors.New("cryptox: password does not match")

// ErrInvalidHash is returned by VerifyPassword for hashes it cannot parse.
var ErrInvalidHash = errors.New("cryptox: invalid hash format")

// argonHash is a decoded PHC string: $argon2id$v=19$m=X,t=Y,p=Z$salt$key.
type argonHash struct {
	memory, iterations uint32
	parallelism        uint8
	salt, key          []byte
}

func (h argonHash) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.iterations, h.parallelism,
		base64.RawStdEncoding.EncodeToString(h.salt),
		base64.RawStdEncoding.EncodeToString(h.key),
	)
}

func parseArgonHash(encoded string) (argonHash, error) {
	var h argonHash
	parts := strings.Split(encoded, "$")
	switch {
	case len(parts) != 6:
		return h, fmt.Errorf("%w: expected 6 parts", ErrInvalidHash)
	case parts[1] != "argon2id":
		return h, fmt.Errorf("%w: not argon2id", ErrInvalidHash)
	case parts[2] != fmt.Sprintf("v=%d", argon2.Version):
		return h, fmt.Errorf("%w: wrong version", ErrInvalidHash)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.memory, &h.iterations, &h.parallelism); err != nil {
		return h, fmt.Errorf("%w: parameters: %w", ErrInvalidHash, err)
	}
	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return h, fmt.Errorf("%w: salt: %w", ErrInvalidHash, err)
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return h, fmt.Errorf("%w: hash: %w", ErrInvalidHash, err)
	}
	return h, nil
}

// derive runs Argon2id over the peppered password with h's parameters.
func (h argonHash) derive(password string, keyLen uint32) ([]byte, error) {
	p, err := GetPepper()
	if err != nil {
		return nil, fmt.Errorf("cryptox: load pepper: %w", err)
	}
	return argon2.IDKey([]byte(password+p), h.salt, h.iterations, h.memory, h.parallelism, keyLen), nil
}

// HashPassword returns a PHC encoded Argon2id hash of the peppered password.
func HashPassword(password string) (string, error) {
	h := argonHash{memory: memory, iterations: iterations, parallelism: parallelism}
	h.salt = make([]byte, saltLength)
	if _, err := rand.Read(h.salt); err != nil {
		return "", err
	}
	key, err := h.derive(password, keyLength)
	if err != nil {
		return "", err
	}
	h.key = key
	return h.String(), nil
}

// VerifyPassword checks password against a hash from HashPassword. The
// parameters come from the hash, so older hashes keep verifying.
func VerifyPassword(password, encodedHash string) error {
	h, err := parseArgonHash(encodedHash)
	if err != nil {
		return err
	}
	computed, err := h.derive(password, uint32(len(h.key))) // #nosec G115 - key length comes from our own encoder
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(computed, h.key) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}

// GeneratePassword returns a random alphanumeric secret of the given length,
// used for generated client secrets and bootstrap admin passwords.
func GeneratePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	if length <= 0 {
		length = 16
	}
	password := make([]byte, length)
	for i := range password {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("failed to generate random password: %w", err)
		}
		password[i] = charset[n.Int64()]
	}
	return string(password), nil
}
