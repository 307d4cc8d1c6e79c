package domain

import "time"

// SigningKey is an EdDSA key used for JWT access tokens. The private key is
// sealed at rest with the server pepper.
type SigningKey struct {
	Kid              string
	Algorithm        string
	PrivateKeySealed []byte
	CreatedAt        time.Time
	RetiredAt        *time.Time // nil while the key signs new tokens
}

// IsActive returns true if the key still signs new tokens.
func (k *SigningKey) IsActive() bool {
	return k.RetiredAt == nil
}
