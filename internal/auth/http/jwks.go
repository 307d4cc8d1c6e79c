package http

import (
	"net/http"

	"github.com/aussiebroadwan/bastion/pkg/authsdk"
	"github.com/aussiebroadwan/bastion/pkg/httpx"
	"github.com/aussiebroadwan/bastion/pkg/jwtx"
)

// JWKSHandler exposes the JSON Web Key Set for public key discovery.
//
//	@Summary		Get JWKS
//	@Description	Returns the JSON Web Key Set used to verify JWT access tokens. Only served when BASTION_ACCESS_TOKEN_FORMAT=jwt.
//	@Tags			well-known
//	@Produce		json
//	@Success		200	{object}	authsdk.JWKSResponse	"The JSON Web Key Set"
//	@Router			/.well-known/jwks.json [get].
func JWKSHandler(keys *jwtx.KeySet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, authsdk.JWKSResponse(keys.PublicJWKS()))
	}
}
