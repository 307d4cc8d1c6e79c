package http

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/auth/service"
	"github.com/aussiebroadwan/bastion/internal/security"
	"github.com/aussiebroadwan/bastion/pkg/authsdk"
	"github.com/aussiebroadwan/bastion/pkg/httpx"
	"github.com/aussiebroadwan/bastion/pkg/slogx"
)

// AuthorizeHandler serves GET /oauth/authorize for a user signed in
// through the web chain. Anonymous users never reach it: the chain sends
// them to the sign-in page and back here afterwards.
type AuthorizeHandler struct {
	Authorize *service.AuthorizeService
	Now       func() time.Time
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 authorization endpoint
//	@Description	Issues an authorization code (response_type=code) or an implicit access token (response_type=token)
//	@Description	for the signed-in user. Requests for registered redirect URIs are approved automatically.
//	@Description
//	@Description	**PKCE Support:**
//	@Description	- Public clients MUST include code_challenge (defaults to S256 if method omitted)
//	@Description	- Confidential clients MAY include code_challenge
//	@Description
//	@Description	**Response:**
//	@Description	- Success: 302 redirect to redirect_uri with the code in the query or the token in the fragment
//	@Description	- Error after redirect_uri validation: 302 redirect carrying error and state
//	@Description	- Unknown client or redirect_uri: JSON error, never a redirect
//	@Tags			OAuth2
//	@Produce		json
//	@Param			response_type			query		string					true	"code or token"	Enums(code, token)
//	@Param			client_id				query		string					true	"OAuth2 client identifier"
//	@Param			redirect_uri			query		string					false	"Callback URI, optional when exactly one is registered"
//	@Param			scope					query		string					false	"Space-delimited list of scopes"	example("read write")
//	@Param			state					query		string					false	"Opaque value for CSRF protection"
//	@Param			code_challenge			query		string					false	"PKCE code challenge (required for public clients)"
//	@Param			code_challenge_method	query		string					false	"PKCE method"	default(S256)	Enums(S256, plain)
//	@Success		302						{string}	string					"Redirect to redirect_uri"
//	@Failure		400						{object}	authsdk.ErrorResponse	"error, error_description"
//	@Failure		401						{object}	authsdk.ErrorResponse	"error, error_description"
//	@Router			/oauth/authorize [get]
func (h *AuthorizeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	auth := security.CurrentAuthentication(ctx)
	if !auth.IsFullyAuthenticated() || auth.IsClientOnly() {
		authsdk.ErrAccessDenied.WithDescription("user authentication is required").WriteError(w)
		return
	}

	query := r.URL.Query()
	req := service.AuthorizeRequest{
		ResponseType:        strings.TrimSpace(query.Get("response_type")),
		ClientID:            strings.TrimSpace(query.Get("client_id")),
		RedirectURI:         strings.TrimSpace(query.Get("redirect_uri")),
		Scopes:              httpx.ParseSpaceDelimitedFields(query.Get("scope")),
		State:               query.Get("state"),
		CodeChallenge:       strings.TrimSpace(query.Get("code_challenge")),
		CodeChallengeMethod: strings.TrimSpace(query.Get("code_challenge_method")),
		User: &domain.UserAuthentication{
			Username:    auth.Principal,
			Authorities: slices.Clone(auth.Authorities),
		},
	}

	resp, err := h.Authorize.Authorize(ctx, req)
	if err != nil {
		// RFC 6749 section 4.1.2.1: no redirect until redirect_uri is trusted.
		if resp.RedirectURI == "" {
			writeError(w, r, "authorize request rejected", err)
			return
		}
		location, lerr := resp.ErrorLocation(err)
		if lerr != nil {
			writeError(w, r, "failed to build error redirect", lerr)
			return
		}
		log.Info("authorize request denied", "client_id", req.ClientID, "err", err)
		http.Redirect(w, r, location, http.StatusFound)
		return
	}

	location, err := resp.Location(h.now())
	if err != nil {
		writeError(w, r, "failed to build redirect", err)
		return
	}
	log.Info("authorize request approved",
		"client_id", req.ClientID,
		"response_type", resp.ResponseType,
		"principal", auth.Principal,
	)
	http.Redirect(w, r, location, http.StatusFound)
}

func (h *AuthorizeHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
