package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/bastion/internal/auth/service"
	"github.com/aussiebroadwan/bastion/internal/auth/store"
	"github.com/aussiebroadwan/bastion/pkg/jwtx"
)

// InitAccessTokenConverter picks the access token format.
//
// Formats:
//   - "opaque": random values that only this server can resolve, through the
//     token store or /oauth/check_token. No keys are loaded and the returned
//     key set is nil.
//   - "jwt": EdDSA signed tokens. Signing keys are sealed with the pepper
//     and kept in the store, so tokens survive restarts as long as the
//     store and the pepper do. A memory store gets a fresh key per start.
func InitAccessTokenConverter(ctx context.Context, cfg Config, db store.Store, logger *slog.Logger) (service.AccessTokenConverter, *jwtx.KeySet, error) {
	if cfg.AccessTokenFormat != TokenFormatJWT {
		logger.Info("issuing opaque access tokens")
		return service.OpaqueTokenConverter{}, nil, nil
	}

	keys, signer, err := store.NewKeyStoreAdapter(db).Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load signing keys: %w", err)
	}

	logger.Info("issuing JWT access tokens",
		"algorithm", signer.Alg(),
		"kid", signer.KID(),
		"issuer", cfg.Issuer,
		"num_keys", len(keys.PublicJWKS().Keys),
	)
	if cfg.StoreDriver == StoreMemory {
		logger.Warn("signing keys are not persisted, tokens become invalid on restart")
	}

	return &service.JWTAccessTokenConverter{
		Issuer: cfg.Issuer,
		Signer: signer,
		// Audiences are resource ids and checked by the resource server.
		Verifier: jwtx.NewCommonEdDSA(keys, cfg.Issuer, nil),
	}, keys, nil
}
