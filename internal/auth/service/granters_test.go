package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/pkg/cryptox"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func TestParseGrantType(t *testing.T) {
	t.Parallel()

	gt, err := ParseGrantType("client_credentials")
	require.NoError(t, err)
	require.Equal(t, GrantClientCredentials, gt)

	_, err = ParseGrantType("urn:ietf:params:oauth:grant-type:device_code")
	require.ErrorIs(t, err, ErrUnsupportedGrantType)
}

func TestCompositeGranter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	batch := f.batch(t)

	t.Run("unknown grant type", func(t *testing.T) {
		_, err := NewCompositeGranter().Grant(ctx, GrantPassword, TokenRequest{}, batch)
		require.ErrorIs(t, err, ErrUnsupportedGrantType)
	})

	t.Run("grant type not registered for client", func(t *testing.T) {
		_, err := f.granter.Grant(ctx, GrantPassword, TokenRequest{Username: "alice"}, batch)
		require.ErrorIs(t, err, ErrInvalidGrant)
		require.Equal(t, "invalid_grant", OAuth2Error(err).Code)
	})

	t.Run("scope outside the client's scope", func(t *testing.T) {
		_, err := f.granter.Grant(ctx, GrantClientCredentials, TokenRequest{Scopes: []string{"read", "admin"}}, batch)
		require.ErrorIs(t, err, ErrInvalidScope)
	})

	t.Run("client id must match the authenticated client", func(t *testing.T) {
		_, err := f.granter.Grant(ctx, GrantClientCredentials, TokenRequest{ClientID: "webapp"}, batch)
		require.ErrorIs(t, err, ErrInvalidClient)
	})

	require.True(t, f.granter.Supports(GrantImplicit))
}

func TestAuthorizationCodeGrant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	webapp := f.webapp(t)

	newCode := func(t *testing.T, value string, mutate func(*domain.AuthorizationCode)) {
		t.Helper()
		auth := aliceAuth("webapp", "read")
		auth.Request.RedirectURI = "https://app/cb"
		code := domain.AuthorizationCode{
			Code:                value,
			Authentication:      auth,
			CodeChallenge:       cryptox.S256Challenge("verifier-123"),
			CodeChallengeMethod: "S256",
			ExpiresAt:           baseTime.Add(time.Minute),
			CreatedAt:           baseTime,
		}
		if mutate != nil {
			mutate(&code)
		}
		require.NoError(t, f.db.AuthorizationCodes().CreateCode(ctx, code))
	}

	t.Run("code is single use", func(t *testing.T) {
		newCode(t, "ABC123", nil)
		req := TokenRequest{Code: "ABC123", RedirectURI: "https://app/cb", CodeVerifier: "verifier-123"}

		token, err := f.granter.Grant(ctx, GrantAuthorizationCode, req, webapp)
		require.NoError(t, err)
		require.NotEmpty(t, token.Value)
		require.NotNil(t, token.RefreshToken)
		require.Equal(t, []string{"read"}, token.Scopes)
		require.Equal(t, baseTime.Add(time.Hour), token.ExpiresAt)

		auth, err := f.tokens.LoadAuthentication(ctx, token.Value)
		require.NoError(t, err)
		require.Equal(t, "alice", auth.Principal())
		require.Equal(t, "authorization_code", auth.Request.GrantType)

		_, err = f.granter.Grant(ctx, GrantAuthorizationCode, req, webapp)
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("redirect URI must match", func(t *testing.T) {
		newCode(t, "redirect-mismatch", nil)
		_, err := f.granter.Grant(ctx, GrantAuthorizationCode, TokenRequest{
			Code:         "redirect-mismatch",
			RedirectURI:  "https://evil/cb",
			CodeVerifier: "verifier-123",
		}, webapp)
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("PKCE verifier must match", func(t *testing.T) {
		newCode(t, "wrong-verifier", nil)
		_, err := f.granter.Grant(ctx, GrantAuthorizationCode, TokenRequest{
			Code:         "wrong-verifier",
			RedirectURI:  "https://app/cb",
			CodeVerifier: "guess",
		}, webapp)
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("expired code", func(t *testing.T) {
		newCode(t, "expired", func(c *domain.AuthorizationCode) { c.ExpiresAt = baseTime })
		_, err := f.granter.Grant(ctx, GrantAuthorizationCode, TokenRequest{
			Code:         "expired",
			RedirectURI:  "https://app/cb",
			CodeVerifier: "verifier-123",
		}, webapp)
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("code issued to another client", func(t *testing.T) {
		other := f.addClient(t, domain.Client{
			ID:           "other",
			Scopes:       []string{"read"},
			GrantTypes:   []string{"authorization_code"},
			RedirectURIs: []string{"https://app/cb"},
		})
		newCode(t, "stolen", nil)
		_, err := f.granter.Grant(ctx, GrantAuthorizationCode, TokenRequest{
			Code:         "stolen",
			RedirectURI:  "https://app/cb",
			CodeVerifier: "verifier-123",
		}, other)
		require.ErrorIs(t, err, ErrInvalidClient)
	})

	t.Run("missing code", func(t *testing.T) {
		_, err := f.granter.Grant(ctx, GrantAuthorizationCode, TokenRequest{}, webapp)
		require.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestRefreshTokenGrant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("valid refresh gives a later expiry and rotates", func(t *testing.T) {
		f := newFixture(t)
		webapp := f.webapp(t)

		first, err := f.tokens.CreateAccessToken(ctx, aliceAuth("webapp", "read", "write"), webapp)
		require.NoError(t, err)
		require.NotNil(t, first.RefreshToken)

		f.clock.Advance(10 * time.Minute)
		second, err := f.granter.Grant(ctx, GrantRefreshToken, TokenRequest{RefreshToken: first.RefreshToken.Value}, webapp)
		require.NoError(t, err)
		require.True(t, second.ExpiresAt.After(first.ExpiresAt))
		require.NotNil(t, second.RefreshToken)
		require.NotEqual(t, first.RefreshToken.Value, second.RefreshToken.Value)
		require.Equal(t, []string{"read", "write"}, second.Scopes)

		_, err = f.tokens.LoadAuthentication(ctx, first.Value)
		require.ErrorIs(t, err, ErrInvalidToken, "old access token is gone")

		_, err = f.granter.Grant(ctx, GrantRefreshToken, TokenRequest{RefreshToken: first.RefreshToken.Value}, webapp)
		require.ErrorIs(t, err, ErrInvalidGrant, "rotated refresh token is spent")
	})

	t.Run("expired refresh is an invalid grant", func(t *testing.T) {
		f := newFixture(t)
		webapp := f.webapp(t)

		token, err := f.tokens.CreateAccessToken(ctx, aliceAuth("webapp", "read"), webapp)
		require.NoError(t, err)

		f.clock.Advance(25 * time.Hour)
		_, err = f.granter.Grant(ctx, GrantRefreshToken, TokenRequest{RefreshToken: token.RefreshToken.Value}, webapp)
		require.ErrorIs(t, err, ErrInvalidGrant)

		_, err = f.db.Tokens().ReadRefreshToken(ctx, token.RefreshToken.Value)
		require.Error(t, err, "expired refresh token is removed")
	})

	t.Run("scope may narrow but not widen", func(t *testing.T) {
		f := newFixture(t)
		webapp := f.webapp(t)

		wide, err := f.tokens.CreateAccessToken(ctx, aliceAuth("webapp", "read", "write"), webapp)
		require.NoError(t, err)
		narrowed, err := f.granter.Grant(ctx, GrantRefreshToken, TokenRequest{
			RefreshToken: wide.RefreshToken.Value,
			Scopes:       []string{"read"},
		}, webapp)
		require.NoError(t, err)
		require.Equal(t, []string{"read"}, narrowed.Scopes)

		_, err = f.granter.Grant(ctx, GrantRefreshToken, TokenRequest{
			RefreshToken: narrowed.RefreshToken.Value,
			Scopes:       []string{"read", "write"},
		}, webapp)
		require.ErrorIs(t, err, ErrInvalidScope)

		_, err = f.tokens.LoadAuthentication(ctx, narrowed.Value)
		require.NoError(t, err, "a rejected refresh leaves the live access token alone")
		_, err = f.granter.Grant(ctx, GrantRefreshToken, TokenRequest{RefreshToken: narrowed.RefreshToken.Value}, webapp)
		require.NoError(t, err, "and the refresh token stays usable")
	})

	t.Run("concurrent rotations of one refresh token", func(t *testing.T) {
		f := newFixture(t)
		webapp := f.webapp(t)

		token, err := f.tokens.CreateAccessToken(ctx, aliceAuth("webapp", "read"), webapp)
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			succeeded atomic.Int32
			rejected  atomic.Int32
		)
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.granter.Grant(ctx, GrantRefreshToken, TokenRequest{RefreshToken: token.RefreshToken.Value}, webapp)
				switch {
				case err == nil:
					succeeded.Add(1)
				case errors.Is(err, ErrInvalidGrant):
					rejected.Add(1)
				}
			}()
		}
		wg.Wait()
		require.EqualValues(t, 1, succeeded.Load())
		require.EqualValues(t, 15, rejected.Load())
	})

	t.Run("refresh token of another client", func(t *testing.T) {
		f := newFixture(t)
		webapp := f.webapp(t)
		batch := f.batch(t)

		token, err := f.tokens.CreateAccessToken(ctx, aliceAuth("webapp", "read"), webapp)
		require.NoError(t, err)
		_, err = f.granter.Grant(ctx, GrantRefreshToken, TokenRequest{RefreshToken: token.RefreshToken.Value}, batch)
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("reuse keeps the refresh token", func(t *testing.T) {
		f := newFixture(t)
		f.tokens.ReuseRefreshToken = true
		webapp := f.webapp(t)

		first, err := f.tokens.CreateAccessToken(ctx, aliceAuth("webapp", "read"), webapp)
		require.NoError(t, err)
		second, err := f.granter.Grant(ctx, GrantRefreshToken, TokenRequest{RefreshToken: first.RefreshToken.Value}, webapp)
		require.NoError(t, err)
		require.Equal(t, first.RefreshToken.Value, second.RefreshToken.Value)
		require.NotEqual(t, first.Value, second.Value)
	})

	t.Run("unsupported refresh tokens", func(t *testing.T) {
		f := newFixture(t)
		f.tokens.SupportRefreshToken = false
		webapp := f.webapp(t)

		token, err := f.tokens.CreateAccessToken(ctx, aliceAuth("webapp", "read"), webapp)
		require.NoError(t, err)
		require.Nil(t, token.RefreshToken)

		_, err = f.granter.Grant(ctx, GrantRefreshToken, TokenRequest{RefreshToken: "anything"}, webapp)
		require.ErrorIs(t, err, ErrInvalidGrant)
	})
}

func TestClientCredentialsGrant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	batch := f.batch(t)

	token, err := f.granter.Grant(ctx, GrantClientCredentials, TokenRequest{}, batch)
	require.NoError(t, err)
	require.Nil(t, token.RefreshToken, "client_credentials never returns a refresh token")
	require.Equal(t, []string{"read"}, token.Scopes)

	auth, err := f.tokens.LoadAuthentication(ctx, token.Value)
	require.NoError(t, err)
	require.True(t, auth.IsClientOnly())
	require.Equal(t, []string{"ROLE_BATCH"}, auth.Authorities())

	t.Run("public clients are refused", func(t *testing.T) {
		spa := f.addClient(t, domain.Client{ID: "spa", Scopes: []string{"read"}, GrantTypes: []string{"client_credentials"}})
		_, err := f.granter.Grant(ctx, GrantClientCredentials, TokenRequest{}, spa)
		require.ErrorIs(t, err, ErrUnauthorizedClient)
	})
}

func TestResourceOwnerPasswordGrant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	legacy := f.addClient(t, domain.Client{
		ID:         "legacy",
		SecretHash: "not-checked-by-granters",
		Scopes:     []string{"read"},
		GrantTypes: []string{"password", "refresh_token"},
	})

	users := &UserService{Users: f.db.Users()}
	alice, err := users.CreateUser(ctx, "alice", "correct-horse")
	require.NoError(t, err)

	t.Run("valid credentials", func(t *testing.T) {
		token, err := f.granter.Grant(ctx, GrantPassword, TokenRequest{Username: "alice", Password: "correct-horse"}, legacy)
		require.NoError(t, err)
		require.NotNil(t, token.RefreshToken)

		auth, err := f.tokens.LoadAuthentication(ctx, token.Value)
		require.NoError(t, err)
		require.Equal(t, "alice", auth.Principal())
		require.Equal(t, []string{RoleUser}, auth.Authorities())
	})

	t.Run("bad credentials are an invalid grant", func(t *testing.T) {
		_, err := f.granter.Grant(ctx, GrantPassword, TokenRequest{Username: "alice", Password: "wrong-horse"}, legacy)
		require.ErrorIs(t, err, ErrInvalidGrant)
		require.Equal(t, "invalid_grant", OAuth2Error(err).Code)

		_, err = f.granter.Grant(ctx, GrantPassword, TokenRequest{Username: "nobody", Password: "wrong-horse"}, legacy)
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("second factor", func(t *testing.T) {
		secret := "JBSWY3DPEHPK3PXP"
		require.NoError(t, f.db.Users().UpdateMFASecret(ctx, alice.ID, &secret))

		_, err := f.granter.Grant(ctx, GrantPassword, TokenRequest{Username: "alice", Password: "correct-horse"}, legacy)
		require.ErrorIs(t, err, ErrInvalidGrant)

		code, err := totp.GenerateCode(secret, time.Now())
		require.NoError(t, err)
		_, err = f.granter.Grant(ctx, GrantPassword, TokenRequest{Username: "alice", Password: "correct-horse", OTP: code}, legacy)
		require.NoError(t, err)
	})
}

func TestVerifyCodeVerifier(t *testing.T) {
	t.Parallel()

	t.Run("plain verifier must match challenge", func(t *testing.T) {
		require.True(t, verifyCodeVerifier("verifier", "plain", "verifier"))
		require.False(t, verifyCodeVerifier("verifier", "plain", "other"))
	})

	t.Run("S256 verifier computes hash", func(t *testing.T) {
		challenge := cryptox.S256Challenge("example-verifier")
		require.True(t, verifyCodeVerifier(challenge, "S256", "example-verifier"))
		require.False(t, verifyCodeVerifier(challenge, "S256", "wrong"))
	})

	t.Run("empty challenge accepts any verifier", func(t *testing.T) {
		require.True(t, verifyCodeVerifier("", "S256", ""))
		require.True(t, verifyCodeVerifier("", "", "anything"))
	})

	t.Run("missing verifier rejected when challenge present", func(t *testing.T) {
		require.False(t, verifyCodeVerifier(cryptox.S256Challenge("data"), "S256", ""))
	})

	t.Run("unknown method", func(t *testing.T) {
		require.False(t, verifyCodeVerifier("abc", "S512", "abc"))
	})
}
