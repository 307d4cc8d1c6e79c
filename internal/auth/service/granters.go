package service

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/security"
	"github.com/aussiebroadwan/bastion/pkg/cryptox"
	"github.com/aussiebroadwan/bastion/pkg/slogx"
)

// AuthorizationCodeGranter redeems codes issued by the authorize endpoint.
type AuthorizationCodeGranter struct {
	Codes  *AuthorizationCodeServices
	Tokens *TokenServices
}

func (g *AuthorizationCodeGranter) GrantType() GrantType { return GrantAuthorizationCode }

func (g *AuthorizationCodeGranter) Grant(ctx context.Context, req TokenRequest, client domain.Client) (domain.AccessToken, error) {
	if err := requireParam("code", req.Code); err != nil {
		return domain.AccessToken{}, err
	}

	code, err := g.Codes.ConsumeCode(ctx, strings.TrimSpace(req.Code))
	if err != nil {
		return domain.AccessToken{}, err
	}

	auth := code.Authentication
	if auth.Request.ClientID != client.ID {
		return domain.AccessToken{}, grantError(ErrInvalidClient, "authorization code was issued to another client")
	}
	// A redirect URI sent to the authorize endpoint must be repeated here.
	if stored := auth.Request.RedirectURI; stored != "" && stored != strings.TrimSpace(req.RedirectURI) {
		return domain.AccessToken{}, grantError(ErrInvalidGrant, "redirect URI mismatch")
	}
	if !verifyCodeVerifier(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier) {
		return domain.AccessToken{}, grantError(ErrInvalidGrant, "PKCE verification failed")
	}

	auth.Request.GrantType = string(GrantAuthorizationCode)
	return g.Tokens.CreateAccessToken(ctx, auth, client)
}

// RefreshTokenGranter trades a refresh token for a new access token.
type RefreshTokenGranter struct {
	Tokens *TokenServices
}

func (g *RefreshTokenGranter) GrantType() GrantType { return GrantRefreshToken }

func (g *RefreshTokenGranter) Grant(ctx context.Context, req TokenRequest, client domain.Client) (domain.AccessToken, error) {
	if err := requireParam("refresh_token", req.RefreshToken); err != nil {
		return domain.AccessToken{}, err
	}
	return g.Tokens.RefreshAccessToken(ctx, strings.TrimSpace(req.RefreshToken), req.Scopes, client)
}

// ImplicitGranter issues an access token straight from the authorize
// endpoint for a resource owner the caller has already authenticated.
type ImplicitGranter struct {
	Tokens *TokenServices
}

func (g *ImplicitGranter) GrantType() GrantType { return GrantImplicit }

func (g *ImplicitGranter) Grant(ctx context.Context, req TokenRequest, client domain.Client) (domain.AccessToken, error) {
	if req.User == nil || req.User.Username == "" {
		return domain.AccessToken{}, grantError(ErrInvalidGrant, "an authenticated resource owner is required")
	}
	auth := domain.OAuth2Authentication{
		Request: newRequest(client, GrantImplicit, req.Scopes),
		User:    req.User,
	}
	auth.Request.RedirectURI = req.RedirectURI
	return g.Tokens.CreateAccessToken(ctx, auth, client)
}

// ClientCredentialsGranter issues tokens to a client acting for itself.
type ClientCredentialsGranter struct {
	Tokens *TokenServices
}

func (g *ClientCredentialsGranter) GrantType() GrantType { return GrantClientCredentials }

func (g *ClientCredentialsGranter) Grant(ctx context.Context, req TokenRequest, client domain.Client) (domain.AccessToken, error) {
	if client.IsPublic() {
		return domain.AccessToken{}, grantError(ErrUnauthorizedClient, "public clients cannot use client_credentials")
	}
	auth := domain.OAuth2Authentication{Request: newRequest(client, GrantClientCredentials, req.Scopes)}
	return g.Tokens.CreateAccessToken(ctx, auth, client)
}

// ResourceOwnerPasswordGranter exchanges a username and password for a
// token. It exists for legacy clients only.
type ResourceOwnerPasswordGranter struct {
	Users  security.AuthenticationManager
	Tokens *TokenServices
}

func (g *ResourceOwnerPasswordGranter) GrantType() GrantType { return GrantPassword }

func (g *ResourceOwnerPasswordGranter) Grant(ctx context.Context, req TokenRequest, client domain.Client) (domain.AccessToken, error) {
	l := slogx.FromContext(ctx)
	l.Warn("deprecated password grant used", slog.String("client_id", client.ID))

	if err := requireParam("username", req.Username); err != nil {
		return domain.AccessToken{}, err
	}

	user, err := g.Users.Authenticate(ctx, security.UsernamePasswordCredentials{
		Username: req.Username,
		Password: req.Password,
		OTP:      req.OTP,
	})
	if err != nil {
		if security.IsAuthenticationError(err) {
			l.Info("password grant authentication failed",
				slog.String("client_id", client.ID),
				slog.String("reason", err.Error()),
			)
			return domain.AccessToken{}, grantError(ErrInvalidGrant, "%s", err.Error())
		}
		return domain.AccessToken{}, err
	}
	if !user.IsFullyAuthenticated() {
		return domain.AccessToken{}, grantError(ErrInvalidGrant, "%s", security.ErrOTPRequired.Error())
	}

	auth := domain.OAuth2Authentication{
		Request: newRequest(client, GrantPassword, req.Scopes),
		User: &domain.UserAuthentication{
			Username:    user.Principal,
			Authorities: slices.Clone(user.Authorities),
		},
	}
	return g.Tokens.CreateAccessToken(ctx, auth, client)
}

// verifyCodeVerifier checks a PKCE verifier against the stored challenge.
// Codes issued without a challenge accept any verifier.
func verifyCodeVerifier(challenge, method, verifier string) bool {
	challenge = strings.TrimSpace(challenge)
	if challenge == "" {
		return true
	}

	verifier = strings.TrimSpace(verifier)
	if verifier == "" {
		return false
	}

	method = strings.TrimSpace(method)
	switch {
	case method == "" || strings.EqualFold(method, "plain"):
		return cryptox.EqualTokens(challenge, verifier)
	case strings.EqualFold(method, "S256"):
		return cryptox.EqualTokens(challenge, cryptox.S256Challenge(verifier))
	default:
		return false
	}
}
