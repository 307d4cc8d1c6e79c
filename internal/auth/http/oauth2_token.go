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

// passwordGrantWarning is sent with every password grant response.
const passwordGrantWarning = `299 bastion "The password grant is deprecated"`

// TokenHandler serves POST /oauth/token. The client has already been
// authenticated by the security chain, either with HTTP Basic or with
// client_id and client_secret form parameters.
type TokenHandler struct {
	Clients *service.ClientDetailsService
	Granter *service.CompositeGranter
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 Token Endpoint
//	@Description	Issues access tokens for the authorization_code, refresh_token, client_credentials and password grants.
//	@Description	The implicit grant is only available through the authorize endpoint.
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Security		ClientBasic
//	@Param			grant_type		formData	string					true	"Grant type"	Enums(authorization_code, refresh_token, client_credentials, password)
//	@Param			code			formData	string					false	"Authorization code (authorization_code grant)"
//	@Param			redirect_uri	formData	string					false	"Redirect URI used at authorization time"
//	@Param			code_verifier	formData	string					false	"PKCE code_verifier"
//	@Param			refresh_token	formData	string					false	"Refresh token (refresh_token grant)"
//	@Param			username		formData	string					false	"Resource owner username (password grant)"
//	@Param			password		formData	string					false	"Resource owner password (password grant)"
//	@Param			otp				formData	string					false	"Resource owner one-time password (password grant)"
//	@Param			client_id		formData	string					false	"Client identifier when not using HTTP Basic"
//	@Param			client_secret	formData	string					false	"Client secret when not using HTTP Basic"
//	@Param			scope			formData	string					false	"Space-delimited list of scopes"
//	@Success		200				{object}	authsdk.TokenResponse	"access_token, token_type, expires_in, refresh_token, scope"
//	@Failure		400				{object}	authsdk.ErrorResponse	"error, error_description"
//	@Failure		401				{object}	authsdk.ErrorResponse	"error, error_description"
//	@Failure		500				{object}	authsdk.ErrorResponse	"error, error_description"
//	@Header			200				{string}	Cache-Control			"no-store"
//	@Header			200				{string}	Pragma					"no-cache"
//	@Router			/oauth/token [post].
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// 1. Ensure the right content-type and parse the body
	if !parseForm(w, r) {
		return
	}

	// 2. The chain guarantees an authenticated client
	auth := security.CurrentAuthentication(ctx)
	if auth == nil || auth.ClientID == "" {
		authsdk.ErrInvalidClient.WriteError(w)
		return
	}
	client, err := h.Clients.LoadClientByClientID(ctx, auth.ClientID)
	if err != nil {
		writeError(w, r, "token request for unknown client", err)
		return
	}

	// 3. Resolve the grant type
	grantType, err := service.ParseGrantType(strings.TrimSpace(r.Form.Get("grant_type")))
	if err != nil {
		writeError(w, r, "token request with unsupported grant type", err)
		return
	}
	if grantType == service.GrantImplicit {
		authsdk.ErrUnsupportedGrantType.
			WithDescription("implicit grant is only supported at the authorize endpoint").
			WriteError(w)
		return
	}

	// 4. Grant
	token, err := h.Granter.Grant(ctx, grantType, service.TokenRequest{
		ClientID:     strings.TrimSpace(r.Form.Get("client_id")),
		Scopes:       httpx.ParseSpaceDelimitedFields(r.Form.Get("scope")),
		Code:         strings.TrimSpace(r.Form.Get("code")),
		RedirectURI:  strings.TrimSpace(r.Form.Get("redirect_uri")),
		CodeVerifier: strings.TrimSpace(r.Form.Get("code_verifier")),
		RefreshToken: strings.TrimSpace(r.Form.Get("refresh_token")),
		Username:     strings.TrimSpace(r.Form.Get("username")),
		Password:     r.Form.Get("password"),
		OTP:          strings.TrimSpace(r.Form.Get("otp")),
	}, client)
	if err != nil {
		writeError(w, r, grantType.String()+" grant failed", err)
		return
	}

	slogx.FromContext(ctx).Info("token granted",
		"client_id", client.ID,
		"grant_type", grantType.String(),
	)

	if grantType == service.GrantPassword {
		w.Header().Set("Warning", passwordGrantWarning)
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, tokenResponse(token))
}
