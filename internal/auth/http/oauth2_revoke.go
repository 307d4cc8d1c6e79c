package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/bastion/internal/auth/service"
	"github.com/aussiebroadwan/bastion/internal/security"
	"github.com/aussiebroadwan/bastion/pkg/authsdk"
	"github.com/aussiebroadwan/bastion/pkg/httpx"
	"github.com/aussiebroadwan/bastion/pkg/slogx"
)

// RevokeHandler serves POST /oauth/revoke following RFC 7009. Access and
// refresh tokens can be revoked, but only by the client they were issued
// to. Unknown tokens still return 200 OK to prevent token scanning.
type RevokeHandler struct {
	Tokens *service.TokenServices
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 Token Revocation Endpoint
//	@Description	Revokes an access or refresh token issued to the authenticated client (RFC 7009).
//	@Description	Revoking a refresh token also revokes the access token issued with it.
//	@Description	The endpoint returns 200 OK even for invalid or unknown tokens.
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Security		ClientBasic
//	@Param			token			formData	string	true	"The token to revoke"
//	@Param			token_type_hint	formData	string	false	"Hint about token type"	Enums(access_token, refresh_token)
//	@Success		200				"Token revoked (or was already invalid)"
//	@Failure		400				{object}	authsdk.ErrorResponse	"error, error_description"
//	@Failure		401				{object}	authsdk.ErrorResponse	"error, error_description"
//	@Header			200				{string}	Cache-Control			"no-store"
//	@Router			/oauth/revoke [post].
func (h *RevokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if !parseForm(w, r) {
		return
	}

	token := strings.TrimSpace(r.Form.Get("token"))
	if token == "" {
		authsdk.ErrInvalidRequest.WithDescription("missing token").WriteError(w)
		return
	}

	auth := security.CurrentAuthentication(ctx)
	if auth == nil || auth.ClientID == "" {
		authsdk.ErrInvalidClient.WriteError(w)
		return
	}

	revoked, err := h.Tokens.RevokeToken(ctx, token, auth.ClientID)
	if err != nil {
		// RFC 7009 still answers 200 OK.
		log.Warn("revoke failed", "err", err, "client_id", auth.ClientID)
	} else {
		log.Info("revoke processed", "client_id", auth.ClientID, "revoked", revoked)
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, struct{}{})
}
