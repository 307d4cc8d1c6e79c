package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/pkg/cryptox"
	"github.com/aussiebroadwan/bastion/pkg/idx"
	"github.com/aussiebroadwan/bastion/pkg/jwtx"
)

// SigningKeyPurpose binds sealed key material to its use.
const SigningKeyPurpose = "signing-key"

// KeyStoreAdapter turns the sealed keys in SigningKeys into a jwtx.KeySet
// and the signer for new tokens. It keeps jwtx free of storage concerns.
type KeyStoreAdapter struct {
	keys SigningKeys
	now  func() time.Time
}

// NewKeyStoreAdapter creates an adapter over the store's signing keys.
func NewKeyStoreAdapter(s Store) *KeyStoreAdapter {
	return &KeyStoreAdapter{keys: s.SigningKeys(), now: time.Now}
}

// Load returns every stored key as a verification key and the newest active
// key as the signer. An empty store gets a fresh key first.
func (a *KeyStoreAdapter) Load(ctx context.Context) (*jwtx.KeySet, jwtx.Signer, error) {
	keys, err := a.keys.ListSigningKeys(ctx)
	if err != nil {
		return nil, nil, err
	}

	set := jwtx.NewKeySet()
	var active jwtx.Signer
	for _, key := range keys {
		signer, err := openSigner(key)
		if err != nil {
			return nil, nil, err
		}
		if err := set.AddSigner(signer); err != nil {
			return nil, nil, fmt.Errorf("store: signing key %s: %w", key.Kid, err)
		}
		if active == nil && key.IsActive() {
			active = signer
		}
	}

	if active == nil {
		active, err = a.create(ctx)
		if err != nil {
			return nil, nil, err
		}
		if err := set.AddSigner(active); err != nil {
			return nil, nil, err
		}
	}
	return set, active, nil
}

// Rotate creates a new signing key and retires every other active key. The
// retired keys stay in the set until DeleteRetiredSigningKeys removes them.
func (a *KeyStoreAdapter) Rotate(ctx context.Context) (jwtx.Signer, error) {
	keys, err := a.keys.ListSigningKeys(ctx)
	if err != nil {
		return nil, err
	}
	signer, err := a.create(ctx)
	if err != nil {
		return nil, err
	}
	now := a.now().UTC()
	for _, key := range keys {
		if !key.IsActive() {
			continue
		}
		if err := a.keys.RetireSigningKey(ctx, key.Kid, now); err != nil {
			return nil, err
		}
	}
	return signer, nil
}

func (a *KeyStoreAdapter) create(ctx context.Context) (jwtx.Signer, error) {
	pemKey, err := cryptox.GenerateEd25519Key()
	if err != nil {
		return nil, err
	}
	sealed, err := cryptox.Seal(SigningKeyPurpose, pemKey)
	if err != nil {
		return nil, err
	}

	kid := idx.New().String()
	signer, err := jwtx.NewSignerEdDSA(kid, pemKey)
	if err != nil {
		return nil, err
	}

	err = a.keys.CreateSigningKey(ctx, domain.SigningKey{
		Kid:              kid,
		Algorithm:        signer.Alg(),
		PrivateKeySealed: sealed,
		CreatedAt:        a.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return signer, nil
}

func openSigner(key domain.SigningKey) (jwtx.Signer, error) {
	pemKey, err := cryptox.Open(SigningKeyPurpose, key.PrivateKeySealed)
	if err != nil {
		return nil, fmt.Errorf("store: open signing key %s: %w", key.Kid, err)
	}
	return jwtx.NewSignerEdDSA(key.Kid, pemKey)
}
