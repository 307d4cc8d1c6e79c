package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/bastion/internal/auth/service"
	"github.com/aussiebroadwan/bastion/pkg/authsdk"
	"github.com/aussiebroadwan/bastion/pkg/httpx"
	"github.com/aussiebroadwan/bastion/pkg/slogx"
)

// CheckTokenHandler serves POST /oauth/check_token so resource servers can
// resolve opaque tokens. Inactive tokens only report active=false.
type CheckTokenHandler struct {
	Tokens *service.TokenServices
}

// ServeHTTP godoc
//
//	@Summary		Check Token Endpoint
//	@Description	Returns the authentication behind an access token for resource servers.
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Security		ClientBasic
//	@Param			token	formData	string						true	"The access token to check"
//	@Success		200		{object}	authsdk.CheckTokenResponse	"Token details, or active=false"
//	@Failure		400		{object}	authsdk.ErrorResponse		"error, error_description"
//	@Failure		401		{object}	authsdk.ErrorResponse		"error, error_description"
//	@Header			200		{string}	Cache-Control				"no-store"
//	@Router			/oauth/check_token [post].
func (h *CheckTokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if !parseForm(w, r) {
		return
	}

	value := strings.TrimSpace(r.Form.Get("token"))
	if value == "" {
		authsdk.ErrInvalidRequest.WithDescription("missing token").WriteError(w)
		return
	}

	httpx.NoCache(w)

	token, err := h.Tokens.ReadAccessToken(ctx, value)
	if err != nil {
		log.Debug("check_token: inactive token", "err", err)
		httpx.WriteJSON(w, http.StatusOK, authsdk.CheckTokenResponse{Active: false})
		return
	}
	auth, err := h.Tokens.LoadAuthentication(ctx, value)
	if err != nil {
		log.Debug("check_token: inactive token", "err", err)
		httpx.WriteJSON(w, http.StatusOK, authsdk.CheckTokenResponse{Active: false})
		return
	}

	resp := authsdk.CheckTokenResponse{
		Active:      true,
		ClientID:    auth.Request.ClientID,
		Scope:       strings.Join(token.Scopes, " "),
		Authorities: auth.Authorities(),
		Aud:         auth.Request.ResourceIDs,
		GrantType:   auth.Request.GrantType,
	}
	if auth.User != nil {
		resp.Username = auth.User.Username
	}
	if !token.ExpiresAt.IsZero() {
		resp.Exp = token.ExpiresAt.Unix()
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
