package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrSealedData is returned when sealed data is truncated or was sealed
// under a different pepper.
var ErrSealedData = errors.New("cryptox: cannot open sealed data")

// sealKey derives a purpose bound key from the pepper.
func sealKey(purpose string) ([]byte, error) {
	p, err := GetPepper()
	if err != nil {
		return nil, fmt.Errorf("cryptox: load pepper: %w", err)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(p), nil, []byte(purpose)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext with XChaCha20-Poly1305 under a key derived from
// the pepper and purpose. The nonce is prepended to the output.
func Seal(purpose string, plaintext []byte) ([]byte, error) {
	key, err := sealKey(purpose)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, []byte(purpose)), nil
}

// Open reverses Seal.
func Open(purpose string, sealed []byte) ([]byte, error) {
	key, err := sealKey(purpose)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrSealedData
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(purpose))
	if err != nil {
		return nil, ErrSealedData
	}
	return plaintext, nil
}
