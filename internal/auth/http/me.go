package http

import (
	"net/http"

	"github.com/aussiebroadwan/bastion/internal/security"
	"github.com/aussiebroadwan/bastion/pkg/authsdk"
	"github.com/aussiebroadwan/bastion/pkg/httpx"
)

// MeHandler godoc
//
//	@Summary		Current principal
//	@Description	Returns the principal, client, authorities and scopes behind the bearer token.
//	@Tags			Resources
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	authsdk.MeResponse		"principal, client_id, authorities, scope"
//	@Failure		401	{object}	authsdk.ErrorResponse	"error, error_description"
//	@Failure		403	{object}	authsdk.ErrorResponse	"error, error_description"
//	@Router			/api/me [get].
func MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := security.CurrentAuthentication(r.Context())
		if !auth.IsAuthenticated() {
			authsdk.ErrUnauthorized.WriteError(w)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, authsdk.MeResponse{
			Principal:   auth.Principal,
			ClientID:    auth.ClientID,
			Authorities: auth.Authorities,
			Scope:       auth.Scopes,
		})
	}
}
