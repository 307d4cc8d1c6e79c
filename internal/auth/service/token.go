package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/auth/store"
	"github.com/aussiebroadwan/bastion/pkg/cryptox"
	"github.com/aussiebroadwan/bastion/pkg/jwtx"
	"github.com/aussiebroadwan/bastion/pkg/slogx"
)

// AccessTokenConverter produces the value handed to clients for a new
// access token.
type AccessTokenConverter interface {
	Encode(token domain.AccessToken, auth domain.OAuth2Authentication) (string, error)
	// Check rejects values the converter could not have produced before the
	// store is consulted.
	Check(value string) error
}

// OpaqueTokenConverter issues random 256 bit values.
type OpaqueTokenConverter struct{}

func (OpaqueTokenConverter) Encode(domain.AccessToken, domain.OAuth2Authentication) (string, error) {
	return cryptox.GenerateToken(cryptox.TokenSize256)
}

func (OpaqueTokenConverter) Check(value string) error {
	if value == "" {
		return ErrInvalidToken
	}
	return nil
}

// JWTAccessTokenConverter issues EdDSA signed JWTs that resource servers can
// verify against the published key set.
type JWTAccessTokenConverter struct {
	Issuer   string
	Signer   jwtx.Signer
	Verifier jwtx.Verifier
}

func (c *JWTAccessTokenConverter) Encode(token domain.AccessToken, auth domain.OAuth2Authentication) (string, error) {
	var username string
	if auth.User != nil {
		username = auth.User.Username
	}
	return c.Signer.Sign(jwtx.NewAccessClaims(jwtx.AccessClaimsParams{
		Issuer:      c.Issuer,
		Subject:     auth.Principal(),
		Audience:    auth.Request.ResourceIDs,
		ClientID:    auth.Request.ClientID,
		Username:    username,
		Scope:       token.Scopes,
		Authorities: auth.Authorities(),
		GrantType:   auth.Request.GrantType,
		TTL:         token.ExpiresAt.Sub(token.IssuedAt),
		Now:         token.IssuedAt,
	}))
}

func (c *JWTAccessTokenConverter) Check(value string) error {
	if _, err := c.Verifier.Verify(value); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return nil
}

// TokenServices creates, refreshes, reads and revokes tokens.
type TokenServices struct {
	Tokens    store.TokenStore
	Converter AccessTokenConverter // nil issues opaque tokens

	// Defaults for clients without their own lifetimes. A refresh TTL of
	// zero or less issues refresh tokens that never expire.
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	SupportRefreshToken bool
	// ReuseRefreshToken keeps the presented refresh token on refresh
	// instead of rotating it.
	ReuseRefreshToken bool

	Now func() time.Time
}

func (s *TokenServices) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *TokenServices) converter() AccessTokenConverter {
	if s.Converter == nil {
		return OpaqueTokenConverter{}
	}
	return s.Converter
}

func (s *TokenServices) accessTTL(client domain.Client) time.Duration {
	switch {
	case client.AccessTokenTTL > 0:
		return client.AccessTokenTTL
	case s.AccessTokenTTL > 0:
		return s.AccessTokenTTL
	default:
		return jwtx.DefaultAccessTokenTTL
	}
}

func (s *TokenServices) refreshTTL(client domain.Client) time.Duration {
	if client.RefreshTokenTTL > 0 {
		return client.RefreshTokenTTL
	}
	return s.RefreshTokenTTL
}

// issuesRefreshToken is false for grants without a resource owner session
// to extend and for clients not registered for refresh_token.
func (s *TokenServices) issuesRefreshToken(auth domain.OAuth2Authentication, client domain.Client) bool {
	if !s.SupportRefreshToken || !client.AllowsGrantType(string(GrantRefreshToken)) {
		return false
	}
	switch GrantType(auth.Request.GrantType) {
	case GrantImplicit, GrantClientCredentials:
		return false
	}
	return true
}

func (s *TokenServices) newRefreshToken(client domain.Client, now time.Time) (*domain.RefreshToken, error) {
	value, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}
	rt := &domain.RefreshToken{Value: value, IssuedAt: now}
	if ttl := s.refreshTTL(client); ttl > 0 {
		rt.ExpiresAt = now.Add(ttl)
	}
	return rt, nil
}

// CreateAccessToken issues an access token for auth, with a refresh token
// when the grant allows one.
func (s *TokenServices) CreateAccessToken(ctx context.Context, auth domain.OAuth2Authentication, client domain.Client) (domain.AccessToken, error) {
	now := s.now()

	var refresh *domain.RefreshToken
	if s.issuesRefreshToken(auth, client) {
		rt, err := s.newRefreshToken(client, now)
		if err != nil {
			return domain.AccessToken{}, err
		}
		if err := s.Tokens.StoreRefreshToken(ctx, *rt, auth); err != nil {
			return domain.AccessToken{}, fmt.Errorf("store refresh token: %w", err)
		}
		refresh = rt
	}

	return s.issue(ctx, auth, client, refresh, now)
}

func (s *TokenServices) issue(
	ctx context.Context,
	auth domain.OAuth2Authentication,
	client domain.Client,
	refresh *domain.RefreshToken,
	now time.Time,
) (domain.AccessToken, error) {
	token := domain.AccessToken{
		TokenType:    domain.TokenTypeBearer,
		Scopes:       auth.Request.Scopes,
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.accessTTL(client)),
		RefreshToken: refresh,
	}

	value, err := s.converter().Encode(token, auth)
	if err != nil {
		return domain.AccessToken{}, fmt.Errorf("encode access token: %w", err)
	}
	token.Value = value

	if err := s.Tokens.StoreAccessToken(ctx, token, auth); err != nil {
		return domain.AccessToken{}, fmt.Errorf("store access token: %w", err)
	}

	slogx.FromContext(ctx).Debug("access token issued",
		slog.String("client_id", auth.Request.ClientID),
		slog.String("principal", auth.Principal()),
		slog.String("grant_type", auth.Request.GrantType),
		slog.Bool("refresh_token", refresh != nil),
	)
	return token, nil
}

// RefreshAccessToken exchanges a refresh token for a new access token.
// Non-empty scopes must narrow the scopes originally granted.
func (s *TokenServices) RefreshAccessToken(ctx context.Context, value string, scopes []string, client domain.Client) (domain.AccessToken, error) {
	if !s.SupportRefreshToken {
		return domain.AccessToken{}, grantError(ErrInvalidGrant, "refresh tokens are not supported")
	}
	now := s.now()

	rt, err := s.Tokens.ReadRefreshToken(ctx, value)
	if errors.Is(err, store.ErrNotFound) {
		return domain.AccessToken{}, grantError(ErrInvalidGrant, "invalid refresh token")
	}
	if err != nil {
		return domain.AccessToken{}, err
	}
	auth, err := s.Tokens.ReadAuthenticationForRefreshToken(ctx, value)
	if errors.Is(err, store.ErrNotFound) {
		return domain.AccessToken{}, grantError(ErrInvalidGrant, "invalid refresh token")
	}
	if err != nil {
		return domain.AccessToken{}, err
	}

	if auth.Request.ClientID != client.ID {
		return domain.AccessToken{}, grantError(ErrInvalidGrant, "refresh token was issued to another client")
	}

	if rt.IsExpired(now) {
		if err := s.Tokens.RemoveAccessTokenUsingRefreshToken(ctx, value); err != nil {
			return domain.AccessToken{}, err
		}
		if err := s.Tokens.RemoveRefreshToken(ctx, value); err != nil {
			return domain.AccessToken{}, err
		}
		return domain.AccessToken{}, grantError(ErrInvalidGrant, "refresh token expired")
	}

	// Rejected requests leave the token family untouched.
	if len(scopes) > 0 {
		if !domain.IsSubset(scopes, auth.Request.Scopes) {
			return domain.AccessToken{}, grantError(ErrInvalidScope, "refresh cannot widen the original scope")
		}
		auth = auth.WithScopes(scopes)
	}

	refresh := &rt
	if !s.ReuseRefreshToken {
		// Of two concurrent rotations only one consumes the token.
		err := s.Tokens.ConsumeRefreshToken(ctx, value)
		if errors.Is(err, store.ErrNotFound) {
			return domain.AccessToken{}, grantError(ErrInvalidGrant, "invalid refresh token")
		}
		if err != nil {
			return domain.AccessToken{}, err
		}
	}

	// The access token issued alongside must not outlive its refresh token.
	if err := s.Tokens.RemoveAccessTokenUsingRefreshToken(ctx, value); err != nil {
		return domain.AccessToken{}, err
	}

	if !s.ReuseRefreshToken {
		if refresh, err = s.newRefreshToken(client, now); err != nil {
			return domain.AccessToken{}, err
		}
		if err := s.Tokens.StoreRefreshToken(ctx, *refresh, auth); err != nil {
			return domain.AccessToken{}, fmt.Errorf("store refresh token: %w", err)
		}
	}

	return s.issue(ctx, auth, client, refresh, now)
}

// ReadAccessToken returns a live access token. Unknown, malformed and
// expired tokens are all ErrInvalidToken.
func (s *TokenServices) ReadAccessToken(ctx context.Context, value string) (domain.AccessToken, error) {
	if err := s.converter().Check(value); err != nil {
		return domain.AccessToken{}, err
	}
	token, err := s.Tokens.ReadAccessToken(ctx, value)
	if errors.Is(err, store.ErrNotFound) {
		return domain.AccessToken{}, grantError(ErrInvalidToken, "invalid access token")
	}
	if err != nil {
		return domain.AccessToken{}, err
	}
	if token.IsExpired(s.now()) {
		if err := s.Tokens.RemoveAccessToken(ctx, value); err != nil {
			return domain.AccessToken{}, err
		}
		return domain.AccessToken{}, grantError(ErrInvalidToken, "access token expired")
	}
	return token, nil
}

// LoadAuthentication resolves a live access token to what it stands for.
func (s *TokenServices) LoadAuthentication(ctx context.Context, value string) (domain.OAuth2Authentication, error) {
	if _, err := s.ReadAccessToken(ctx, value); err != nil {
		return domain.OAuth2Authentication{}, err
	}
	auth, err := s.Tokens.ReadAuthentication(ctx, value)
	if errors.Is(err, store.ErrNotFound) {
		return domain.OAuth2Authentication{}, grantError(ErrInvalidToken, "invalid access token")
	}
	return auth, err
}

// RevokeToken removes an access or refresh token owned by clientID. It
// reports whether anything was removed; tokens of other clients are left
// alone.
func (s *TokenServices) RevokeToken(ctx context.Context, value, clientID string) (bool, error) {
	l := slogx.FromContext(ctx)

	auth, err := s.Tokens.ReadAuthentication(ctx, value)
	switch {
	case err == nil:
		if auth.Request.ClientID != clientID {
			l.Warn("revocation of another client's access token ignored", slog.String("client_id", clientID))
			return false, nil
		}
		return true, s.Tokens.RemoveAccessToken(ctx, value)
	case !errors.Is(err, store.ErrNotFound):
		return false, err
	}

	auth, err = s.Tokens.ReadAuthenticationForRefreshToken(ctx, value)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if auth.Request.ClientID != clientID {
		l.Warn("revocation of another client's refresh token ignored", slog.String("client_id", clientID))
		return false, nil
	}
	if err := s.Tokens.RemoveAccessTokenUsingRefreshToken(ctx, value); err != nil {
		return false, err
	}
	return true, s.Tokens.RemoveRefreshToken(ctx, value)
}
