package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/auth/store"
	"github.com/aussiebroadwan/bastion/pkg/authsdk"
	"github.com/aussiebroadwan/bastion/pkg/slogx"
)

const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

// AuthorizeService handles the authorize endpoint for an already
// authenticated resource owner. Requests for registered redirect URIs are
// approved without asking.
type AuthorizeService struct {
	Clients store.Clients
	Codes   *AuthorizationCodeServices
	// Granter issues implicit tokens so the client's grant types are checked
	// the same way as at the token endpoint.
	Granter *CompositeGranter
}

// AuthorizeRequest captures the authorize endpoint parameters.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string

	User *domain.UserAuthentication
}

// AuthorizeResponse is where the user agent goes next.
type AuthorizeResponse struct {
	// RedirectURI is empty until the redirect URI has been validated. Errors
	// before that point must not redirect.
	RedirectURI  string
	ResponseType string
	State        string

	Code  string
	Token *domain.AccessToken
}

// Authorize validates the request and issues a code or an implicit token.
// Errors returned together with a non-empty RedirectURI are reported to the
// client through the redirect.
func (s *AuthorizeService) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResponse, error) {
	l := slogx.FromContext(ctx)
	resp := AuthorizeResponse{ResponseType: req.ResponseType, State: req.State}

	if req.ClientID == "" {
		return resp, grantError(ErrInvalidRequest, "missing client_id")
	}
	client, err := s.Clients.GetClientByID(ctx, req.ClientID)
	if errors.Is(err, store.ErrNotFound) {
		return resp, grantError(ErrInvalidClient, "unknown client")
	}
	if err != nil {
		return resp, err
	}

	redirectURI, err := resolveRedirectURI(client, req.RedirectURI)
	if err != nil {
		l.Info("authorize redirect URI rejected", slog.String("client_id", client.ID))
		return resp, err
	}
	resp.RedirectURI = redirectURI

	if req.User == nil || req.User.Username == "" {
		return resp, grantError(ErrInvalidRequest, "the resource owner must be authenticated")
	}
	if !client.AllowsScopes(req.Scopes) {
		return resp, grantError(ErrInvalidScope, "invalid scope: %s", strings.Join(req.Scopes, " "))
	}

	switch req.ResponseType {
	case ResponseTypeCode:
		if !client.AllowsGrantType(string(GrantAuthorizationCode)) {
			return resp, grantError(ErrUnauthorizedClient, "client is not allowed the authorization_code grant")
		}
		challenge, method, err := validatePKCE(req.CodeChallenge, req.CodeChallengeMethod, client)
		if err != nil {
			return resp, err
		}

		auth := domain.OAuth2Authentication{
			Request: newRequest(client, GrantAuthorizationCode, req.Scopes),
			User:    req.User,
		}
		// Only a redirect URI the client sent has to be repeated at the token endpoint.
		auth.Request.RedirectURI = strings.TrimSpace(req.RedirectURI)

		code, err := s.Codes.CreateCode(ctx, auth, CodeChallenge{Challenge: challenge, Method: method})
		if err != nil {
			return resp, err
		}
		resp.Code = code

	case ResponseTypeToken:
		token, err := s.Granter.Grant(ctx, GrantImplicit, TokenRequest{
			ClientID:    client.ID,
			Scopes:      req.Scopes,
			RedirectURI: redirectURI,
			User:        req.User,
		}, client)
		if err != nil {
			return resp, err
		}
		resp.Token = &token

	default:
		return resp, grantError(ErrUnsupportedResponseType, "unsupported response type %q", req.ResponseType)
	}

	l.Info("authorization approved",
		slog.String("client_id", client.ID),
		slog.String("principal", req.User.Username),
		slog.String("response_type", req.ResponseType),
	)
	return resp, nil
}

// resolveRedirectURI matches the requested URI exactly against the
// registered ones. An omitted URI is allowed when only one is registered.
func resolveRedirectURI(client domain.Client, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		if len(client.RedirectURIs) == 1 {
			return client.RedirectURIs[0], nil
		}
		return "", grantError(ErrInvalidRequest, "a redirect_uri is required")
	}
	if !client.HasRedirectURI(requested) {
		return "", grantError(ErrInvalidGrant, "redirect URI mismatch")
	}
	return requested, nil
}

// validatePKCE normalises the challenge of an authorize request. Public
// clients must send one.
func validatePKCE(challenge, method string, client domain.Client) (string, string, error) {
	challenge = strings.TrimSpace(challenge)
	method = strings.TrimSpace(method)

	if challenge == "" {
		if client.IsPublic() {
			return "", "", grantError(ErrInvalidRequest, "public clients must use PKCE")
		}
		return "", "", nil
	}

	switch {
	case strings.EqualFold(method, "S256"), method == "":
		return challenge, "S256", nil
	case strings.EqualFold(method, "plain"):
		return challenge, "plain", nil
	default:
		return "", "", grantError(ErrInvalidRequest, "unsupported code_challenge_method %q", method)
	}
}

// Location builds the redirect for a successful response. Codes travel in
// the query and implicit tokens in the fragment.
func (r AuthorizeResponse) Location(now time.Time) (string, error) {
	u, err := url.Parse(r.RedirectURI)
	if err != nil {
		return "", err
	}

	if r.Token != nil {
		v := url.Values{}
		v.Set("access_token", r.Token.Value)
		v.Set("token_type", authsdk.TokenType)
		v.Set("expires_in", strconv.FormatInt(r.Token.ExpiresIn(now), 10))
		v.Set("scope", strings.Join(r.Token.Scopes, " "))
		if r.State != "" {
			v.Set("state", r.State)
		}
		u.Fragment = ""
		u.RawFragment = ""
		return u.String() + "#" + v.Encode(), nil
	}

	q := u.Query()
	q.Set("code", r.Code)
	if r.State != "" {
		q.Set("state", r.State)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ErrorLocation reports err to the client through its redirect URI.
func (r AuthorizeResponse) ErrorLocation(err error) (string, error) {
	u, perr := url.Parse(r.RedirectURI)
	if perr != nil {
		return "", perr
	}

	wire := OAuth2Error(err)
	v := url.Values{}
	v.Set("error", wire.Code)
	v.Set("error_description", wire.Description)
	if r.State != "" {
		v.Set("state", r.State)
	}

	if r.ResponseType == ResponseTypeToken {
		u.Fragment = ""
		u.RawFragment = ""
		return u.String() + "#" + v.Encode(), nil
	}
	q := u.Query()
	for k, vals := range v {
		q[k] = vals
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
