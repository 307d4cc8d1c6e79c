// Package storetest holds the behaviour every store driver must share. Driver
// packages call Run (or the narrower RunTokenStore / RunAuthorizationCodes)
// from their own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/auth/store"
	"github.com/stretchr/testify/require"
)

// base sits far in the future so drivers that also expire keys by wall
// clock never drop records during a test.
var base = time.Date(2099, 1, 2, 3, 4, 5, 0, time.UTC)

// Run exercises every repository of a full store. newStore must return an
// empty, migrated store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t).Users()) })
	t.Run("Clients", func(t *testing.T) { testClients(t, newStore(t).Clients()) })
	t.Run("SigningKeys", func(t *testing.T) { testSigningKeys(t, newStore(t).SigningKeys()) })
	RunAuthorizationCodes(t, func(t *testing.T) store.AuthorizationCodes { return newStore(t).AuthorizationCodes() })
	RunTokenStore(t, func(t *testing.T) store.TokenStore { return newStore(t).Tokens() })
}

func testUsers(t *testing.T, users store.Users) {
	ctx := context.Background()

	empty, err := users.IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, empty)

	secret := "JBSWY3DPEHPK3PXP"
	alice := domain.User{
		ID:           "01J0000000000000000000ALIC",
		Username:     "alice",
		PasswordHash: "hash-1",
		Authorities:  []string{"ROLE_USER", "ROLE_ADMIN"},
		Enabled:      true,
		MFASecret:    &secret,
	}
	require.NoError(t, users.CreateUser(ctx, alice))

	dup := alice
	dup.ID = "01J0000000000000000000OTHR"
	require.ErrorIs(t, users.CreateUser(ctx, dup), store.ErrAlreadyExists)

	got, err := users.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, alice.ID, got.ID)
	require.Equal(t, alice.Authorities, got.Authorities)
	require.True(t, got.Enabled)
	require.False(t, got.Locked)
	require.NotNil(t, got.MFASecret)
	require.Equal(t, secret, *got.MFASecret)
	require.False(t, got.CreatedAt.IsZero())

	_, err = users.GetUserByUsername(ctx, "nobody")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, users.UpdatePasswordHash(ctx, alice.ID, "hash-2"))
	require.NoError(t, users.UpdateUserStatus(ctx, alice.ID, false, true))
	require.NoError(t, users.UpdateMFASecret(ctx, alice.ID, nil))

	got, err = users.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, "hash-2", got.PasswordHash)
	require.False(t, got.Enabled)
	require.True(t, got.Locked)
	require.Nil(t, got.MFASecret)

	require.ErrorIs(t, users.UpdatePasswordHash(ctx, "missing", "x"), store.ErrNotFound)

	empty, err = users.IsEmpty(ctx)
	require.NoError(t, err)
	require.False(t, empty)

	require.NoError(t, users.DeleteUser(ctx, alice.ID))
	_, err = users.GetUserByID(ctx, alice.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testClients(t *testing.T, clients store.Clients) {
	ctx := context.Background()

	empty, err := clients.IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, empty)

	webapp := domain.Client{
		ID:              "webapp",
		Name:            "Web App",
		Scopes:          []string{"read", "write"},
		GrantTypes:      []string{"authorization_code", "refresh_token"},
		RedirectURIs:    []string{"https://app/cb"},
		Authorities:     []string{"ROLE_CLIENT"},
		ResourceIDs:     []string{"api"},
		AccessTokenTTL:  10 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
		AutoApprove:     true,
		Protected:       true,
	}
	batch := domain.Client{
		ID:         "batch",
		Name:       "Batch",
		SecretHash: "secret-hash",
		Scopes:     []string{"read"},
		GrantTypes: []string{"client_credentials"},
	}
	require.NoError(t, clients.CreateClient(ctx, webapp))
	require.NoError(t, clients.CreateClient(ctx, batch))
	require.ErrorIs(t, clients.CreateClient(ctx, batch), store.ErrAlreadyExists)

	got, err := clients.GetClientByID(ctx, "webapp")
	require.NoError(t, err)
	require.Equal(t, webapp.Name, got.Name)
	require.True(t, got.IsPublic())
	require.Equal(t, webapp.Scopes, got.Scopes)
	require.Equal(t, webapp.GrantTypes, got.GrantTypes)
	require.Equal(t, webapp.RedirectURIs, got.RedirectURIs)
	require.Equal(t, webapp.Authorities, got.Authorities)
	require.Equal(t, webapp.ResourceIDs, got.ResourceIDs)
	require.Equal(t, webapp.AccessTokenTTL, got.AccessTokenTTL)
	require.Equal(t, webapp.RefreshTokenTTL, got.RefreshTokenTTL)
	require.True(t, got.AutoApprove)
	require.True(t, got.Protected)

	got, err = clients.GetClientByID(ctx, "batch")
	require.NoError(t, err)
	require.Empty(t, got.RedirectURIs)
	require.Zero(t, got.AccessTokenTTL)

	list, err := clients.ListClients(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	require.ElementsMatch(t, []string{"webapp", "batch"}, ids)

	require.NoError(t, clients.UpdateClientSecretHash(ctx, "batch", "rotated"))
	require.NoError(t, clients.UpdateClientScopes(ctx, "batch", []string{"read", "write"}))
	got, err = clients.GetClientByID(ctx, "batch")
	require.NoError(t, err)
	require.Equal(t, "rotated", got.SecretHash)
	require.Equal(t, []string{"read", "write"}, got.Scopes)

	require.ErrorIs(t, clients.UpdateClientScopes(ctx, "missing", nil), store.ErrNotFound)

	require.NoError(t, clients.DeleteClient(ctx, "batch"))
	_, err = clients.GetClientByID(ctx, "batch")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testSigningKeys(t *testing.T, keys store.SigningKeys) {
	ctx := context.Background()

	older := domain.SigningKey{Kid: "k1", Algorithm: "EdDSA", PrivateKeySealed: []byte{1, 2, 3}, CreatedAt: base}
	newer := domain.SigningKey{Kid: "k2", Algorithm: "EdDSA", PrivateKeySealed: []byte{4, 5, 6}, CreatedAt: base.Add(time.Hour)}
	require.NoError(t, keys.CreateSigningKey(ctx, older))
	require.NoError(t, keys.CreateSigningKey(ctx, newer))
	require.ErrorIs(t, keys.CreateSigningKey(ctx, older), store.ErrAlreadyExists)

	list, err := keys.ListSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "k2", list[0].Kid, "newest first")
	require.Equal(t, []byte{4, 5, 6}, list[0].PrivateKeySealed)
	require.True(t, list[0].IsActive())

	require.NoError(t, keys.RetireSigningKey(ctx, "k1", base.Add(2*time.Hour)))
	require.ErrorIs(t, keys.RetireSigningKey(ctx, "nope", base), store.ErrNotFound)

	list, err = keys.ListSigningKeys(ctx)
	require.NoError(t, err)
	require.False(t, list[1].IsActive())
	require.True(t, list[1].RetiredAt.Equal(base.Add(2*time.Hour)))

	n, err := keys.DeleteRetiredSigningKeys(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, n, "retired after the cutoff")

	n, err = keys.DeleteRetiredSigningKeys(ctx, base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	list, err = keys.ListSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "k2", list[0].Kid)
}

func userAuth(clientID string, scopes ...string) domain.OAuth2Authentication {
	return domain.OAuth2Authentication{
		Request: domain.OAuth2Request{
			ClientID:    clientID,
			Scopes:      scopes,
			GrantType:   "authorization_code",
			RedirectURI: "https://app/cb",
			ResourceIDs: []string{"api"},
		},
		User: &domain.UserAuthentication{Username: "alice", Authorities: []string{"ROLE_USER"}},
	}
}

// RunAuthorizationCodes exercises an AuthorizationCodes implementation.
func RunAuthorizationCodes(t *testing.T, newCodes func(t *testing.T) store.AuthorizationCodes) {
	t.Run("AuthorizationCodes", func(t *testing.T) {
		ctx := context.Background()
		codes := newCodes(t)

		code := domain.AuthorizationCode{
			Code:                "ABC123",
			Authentication:      userAuth("webapp", "read"),
			CodeChallenge:       "challenge",
			CodeChallengeMethod: "S256",
			ExpiresAt:           base.Add(5 * time.Minute),
			CreatedAt:           base,
		}
		require.NoError(t, codes.CreateCode(ctx, code))
		require.ErrorIs(t, codes.CreateCode(ctx, code), store.ErrAlreadyExists)

		got, err := codes.ConsumeCode(ctx, "ABC123")
		require.NoError(t, err)
		require.Equal(t, "ABC123", got.Code)
		require.Equal(t, code.Authentication, got.Authentication)
		require.Equal(t, "challenge", got.CodeChallenge)
		require.Equal(t, "S256", got.CodeChallengeMethod)
		require.True(t, got.ExpiresAt.Equal(code.ExpiresAt))

		_, err = codes.ConsumeCode(ctx, "ABC123")
		require.ErrorIs(t, err, store.ErrNotFound, "codes are single use")

		stale := code
		stale.Code = "STALE"
		stale.ExpiresAt = base.Add(time.Minute)
		fresh := code
		fresh.Code = "FRESH"
		fresh.ExpiresAt = base.Add(time.Hour)
		require.NoError(t, codes.CreateCode(ctx, stale))
		require.NoError(t, codes.CreateCode(ctx, fresh))

		n, err := codes.DeleteExpiredCodes(ctx, base.Add(10*time.Minute))
		require.NoError(t, err)
		require.Equal(t, 1, n)

		_, err = codes.ConsumeCode(ctx, "STALE")
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = codes.ConsumeCode(ctx, "FRESH")
		require.NoError(t, err)
	})
}

// RunTokenStore exercises a TokenStore implementation.
func RunTokenStore(t *testing.T, newTokens func(t *testing.T) store.TokenStore) {
	t.Run("TokenStore", func(t *testing.T) {
		t.Run("access and refresh round trip", func(t *testing.T) {
			ctx := context.Background()
			tokens := newTokens(t)
			auth := userAuth("webapp", "read", "write")

			refresh := domain.RefreshToken{Value: "refresh-1", IssuedAt: base, ExpiresAt: base.Add(24 * time.Hour)}
			access := domain.AccessToken{
				Value:        "access-1",
				TokenType:    domain.TokenTypeBearer,
				Scopes:       []string{"read", "write"},
				IssuedAt:     base,
				ExpiresAt:    base.Add(time.Hour),
				RefreshToken: &refresh,
			}
			require.NoError(t, tokens.StoreRefreshToken(ctx, refresh, auth))
			require.NoError(t, tokens.StoreAccessToken(ctx, access, auth))

			got, err := tokens.ReadAccessToken(ctx, "access-1")
			require.NoError(t, err)
			require.Equal(t, "access-1", got.Value)
			require.Equal(t, domain.TokenTypeBearer, got.TokenType)
			require.Equal(t, access.Scopes, got.Scopes)
			require.True(t, got.ExpiresAt.Equal(access.ExpiresAt))

			gotAuth, err := tokens.ReadAuthentication(ctx, "access-1")
			require.NoError(t, err)
			require.Equal(t, auth, gotAuth)

			gotRefresh, err := tokens.ReadRefreshToken(ctx, "refresh-1")
			require.NoError(t, err)
			require.Equal(t, "refresh-1", gotRefresh.Value)
			require.True(t, gotRefresh.ExpiresAt.Equal(refresh.ExpiresAt))

			gotAuth, err = tokens.ReadAuthenticationForRefreshToken(ctx, "refresh-1")
			require.NoError(t, err)
			require.Equal(t, auth, gotAuth)

			_, err = tokens.ReadAccessToken(ctx, "unknown")
			require.ErrorIs(t, err, store.ErrNotFound)
			_, err = tokens.ReadAuthentication(ctx, "unknown")
			require.ErrorIs(t, err, store.ErrNotFound)
			_, err = tokens.ReadRefreshToken(ctx, "unknown")
			require.ErrorIs(t, err, store.ErrNotFound)

			require.NoError(t, tokens.RemoveAccessTokenUsingRefreshToken(ctx, "refresh-1"))
			_, err = tokens.ReadAccessToken(ctx, "access-1")
			require.ErrorIs(t, err, store.ErrNotFound)

			require.NoError(t, tokens.RemoveRefreshToken(ctx, "refresh-1"))
			_, err = tokens.ReadRefreshToken(ctx, "refresh-1")
			require.ErrorIs(t, err, store.ErrNotFound)

			require.NoError(t, tokens.RemoveAccessToken(ctx, "never-stored"), "removing unknown tokens is not an error")
		})

		t.Run("refresh tokens are consumed once", func(t *testing.T) {
			ctx := context.Background()
			tokens := newTokens(t)
			auth := domain.OAuth2Authentication{Request: domain.OAuth2Request{ClientID: "webapp", Scopes: []string{"read"}}}
			refresh := domain.RefreshToken{Value: "refresh-once", IssuedAt: base, ExpiresAt: base.Add(24 * time.Hour)}
			require.NoError(t, tokens.StoreRefreshToken(ctx, refresh, auth))

			require.NoError(t, tokens.ConsumeRefreshToken(ctx, "refresh-once"))
			require.ErrorIs(t, tokens.ConsumeRefreshToken(ctx, "refresh-once"), store.ErrNotFound)
			_, err := tokens.ReadRefreshToken(ctx, "refresh-once")
			require.ErrorIs(t, err, store.ErrNotFound)
			require.ErrorIs(t, tokens.ConsumeRefreshToken(ctx, "never-stored"), store.ErrNotFound)
		})

		t.Run("client only authentication", func(t *testing.T) {
			ctx := context.Background()
			tokens := newTokens(t)
			auth := domain.OAuth2Authentication{Request: domain.OAuth2Request{
				ClientID:    "batch",
				Scopes:      []string{"read"},
				GrantType:   "client_credentials",
				Authorities: []string{"ROLE_CLIENT"},
			}}
			access := domain.AccessToken{Value: "cc-1", TokenType: domain.TokenTypeBearer, Scopes: []string{"read"}, IssuedAt: base, ExpiresAt: base.Add(time.Hour)}
			require.NoError(t, tokens.StoreAccessToken(ctx, access, auth))

			got, err := tokens.ReadAuthentication(ctx, "cc-1")
			require.NoError(t, err)
			require.True(t, got.IsClientOnly())
			require.Equal(t, auth, got)

			require.NoError(t, tokens.RemoveAccessToken(ctx, "cc-1"))
			_, err = tokens.ReadAuthentication(ctx, "cc-1")
			require.ErrorIs(t, err, store.ErrNotFound)
		})

		t.Run("remove by client", func(t *testing.T) {
			ctx := context.Background()
			tokens := newTokens(t)

			for _, c := range []struct{ client, value string }{{"webapp", "w-1"}, {"webapp", "w-2"}, {"other", "o-1"}} {
				access := domain.AccessToken{Value: c.value, TokenType: domain.TokenTypeBearer, IssuedAt: base, ExpiresAt: base.Add(time.Hour)}
				require.NoError(t, tokens.StoreAccessToken(ctx, access, userAuth(c.client)))
			}
			require.NoError(t, tokens.StoreRefreshToken(ctx, domain.RefreshToken{Value: "w-r", IssuedAt: base}, userAuth("webapp")))

			n, err := tokens.RemoveTokensByClientID(ctx, "webapp")
			require.NoError(t, err)
			require.Equal(t, 3, n)

			_, err = tokens.ReadAccessToken(ctx, "w-1")
			require.ErrorIs(t, err, store.ErrNotFound)
			_, err = tokens.ReadRefreshToken(ctx, "w-r")
			require.ErrorIs(t, err, store.ErrNotFound)
			_, err = tokens.ReadAccessToken(ctx, "o-1")
			require.NoError(t, err)
		})

		t.Run("expiry housekeeping", func(t *testing.T) {
			ctx := context.Background()
			tokens := newTokens(t)
			auth := userAuth("webapp", "read")

			short := domain.AccessToken{Value: "short", TokenType: domain.TokenTypeBearer, IssuedAt: base, ExpiresAt: base.Add(time.Minute)}
			long := domain.AccessToken{Value: "long", TokenType: domain.TokenTypeBearer, IssuedAt: base, ExpiresAt: base.Add(time.Hour)}
			forever := domain.RefreshToken{Value: "forever", IssuedAt: base}
			stale := domain.RefreshToken{Value: "stale", IssuedAt: base, ExpiresAt: base.Add(2 * time.Minute)}
			require.NoError(t, tokens.StoreAccessToken(ctx, short, auth))
			require.NoError(t, tokens.StoreAccessToken(ctx, long, auth))
			require.NoError(t, tokens.StoreRefreshToken(ctx, forever, auth))
			require.NoError(t, tokens.StoreRefreshToken(ctx, stale, auth))

			n, err := tokens.DeleteExpiredTokens(ctx, base.Add(10*time.Minute))
			require.NoError(t, err)
			require.Equal(t, 2, n)

			_, err = tokens.ReadAccessToken(ctx, "short")
			require.ErrorIs(t, err, store.ErrNotFound)
			_, err = tokens.ReadRefreshToken(ctx, "stale")
			require.ErrorIs(t, err, store.ErrNotFound)
			_, err = tokens.ReadAccessToken(ctx, "long")
			require.NoError(t, err)

			got, err := tokens.ReadRefreshToken(ctx, "forever")
			require.NoError(t, err)
			require.True(t, got.ExpiresAt.IsZero(), "refresh tokens without expiry never expire")
		})
	})
}
