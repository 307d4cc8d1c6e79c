package service

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/auth/store/drivers/memory"
	"github.com/aussiebroadwan/bastion/internal/security"
	"github.com/aussiebroadwan/bastion/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestClientService(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := memory.NewStore()
	svc := &ClientService{Clients: db.Clients(), Tokens: db.Tokens()}

	confidential, batchSecret, err := svc.CreateClient(ctx, ClientRegistration{
		ID:          "batch",
		Name:        "Batch jobs",
		Scopes:      []string{"read"},
		GrantTypes:  []string{"client_credentials"},
		Authorities: []string{"ROLE_BATCH"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, batchSecret)
	require.NotEqual(t, batchSecret, confidential.SecretHash)
	require.True(t, ClientSecretEncoder{}.Matches(batchSecret, confidential.SecretHash))

	public, secret, err := svc.CreateClient(ctx, ClientRegistration{
		Name:         "SPA",
		Public:       true,
		Scopes:       []string{"read"},
		GrantTypes:   []string{"authorization_code"},
		RedirectURIs: []string{"https://spa/cb"},
	})
	require.NoError(t, err)
	require.Empty(t, secret)
	require.NotEmpty(t, public.ID, "ids are generated")
	require.True(t, public.IsPublic())

	t.Run("invalid registrations", func(t *testing.T) {
		_, _, err := svc.CreateClient(ctx, ClientRegistration{Scopes: []string{"read"}, GrantTypes: []string{"magic"}})
		require.ErrorIs(t, err, ErrInvalidRequest)

		_, _, err = svc.CreateClient(ctx, ClientRegistration{Scopes: []string{"read"}, GrantTypes: []string{"authorization_code"}})
		require.ErrorIs(t, err, ErrInvalidRequest, "redirect URIs required")

		_, _, err = svc.CreateClient(ctx, ClientRegistration{Public: true, Scopes: []string{"read"}, GrantTypes: []string{"client_credentials"}})
		require.ErrorIs(t, err, ErrInvalidRequest)

		_, _, err = svc.CreateClient(ctx, ClientRegistration{ID: "batch", Scopes: []string{"read"}, GrantTypes: []string{"client_credentials"}})
		require.ErrorIs(t, err, ErrClientExists)
	})

	t.Run("client authentication", func(t *testing.T) {
		p := NewClientAuthenticationProvider(db.Clients())

		auth, err := p.Authenticate(ctx, security.UsernamePasswordCredentials{Username: "batch", Password: batchSecret})
		require.NoError(t, err)
		require.Equal(t, "batch", auth.ClientID)
		require.Equal(t, []string{RoleClient, "ROLE_BATCH"}, auth.Authorities)

		_, err = p.Authenticate(ctx, security.UsernamePasswordCredentials{Username: "batch"})
		require.ErrorIs(t, err, security.ErrBadCredentials, "confidential clients need their secret")

		auth, err = p.Authenticate(ctx, security.UsernamePasswordCredentials{Username: public.ID})
		require.NoError(t, err)
		require.True(t, auth.IsClientOnly())
		require.True(t, auth.HasAuthority(RoleClient))

		_, err = p.Authenticate(ctx, security.UsernamePasswordCredentials{Username: "ghost", Password: "x"})
		require.ErrorIs(t, err, security.ErrBadCredentials)
	})

	t.Run("delete removes tokens", func(t *testing.T) {
		tokens := &TokenServices{Tokens: db.Tokens()}
		_, err := tokens.CreateAccessToken(ctx, domain.OAuth2Authentication{
			Request: domain.OAuth2Request{ClientID: public.ID, GrantType: "authorization_code"},
			User:    &domain.UserAuthentication{Username: "alice"},
		}, public)
		require.NoError(t, err)

		require.NoError(t, svc.DeleteClient(ctx, public.ID))
		require.ErrorIs(t, svc.DeleteClient(ctx, public.ID), ErrClientNotFound)

		clients, err := svc.ListClients(ctx)
		require.NoError(t, err)
		require.Len(t, clients, 1)
	})
}

func TestClientSecretEncoder(t *testing.T) {
	t.Parallel()

	enc := ClientSecretEncoder{}
	hash, err := enc.Encode("s3cret")
	require.NoError(t, err)
	require.True(t, enc.Matches("s3cret", hash))
	require.False(t, enc.Matches("", hash))
	require.True(t, enc.Matches("", ""))
	require.False(t, enc.Matches("s3cret", ""))
}

func TestBootstrap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := memory.NewStore()
	svc := &BootstrapService{Store: db, Token: "boot-token"}
	data := domain.BootstrapData{
		AdminUsername: "admin",
		AdminPassword: "correct-horse",
		ClientID:      "webapp",
		ClientScopes:  []string{"read", "write"},
		RedirectURIs:  []string{"https://app/cb"},
	}

	_, err := svc.Bootstrap(ctx, "wrong", data)
	require.ErrorIs(t, err, ErrBootstrapUnauthorized)

	res, err := svc.Bootstrap(ctx, "boot-token", data)
	require.NoError(t, err)
	require.Equal(t, "webapp", res.ClientID)
	require.NotEmpty(t, res.ClientSecret)

	admin, err := db.Users().GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, res.AdminUserID, admin.ID)
	require.Contains(t, admin.Authorities, RoleAdmin)

	client, err := db.Clients().GetClientByID(ctx, "webapp")
	require.NoError(t, err)
	require.True(t, client.Protected)
	require.True(t, client.AllowsGrantType("authorization_code"))

	require.ErrorIs(t, (&ClientService{Clients: db.Clients()}).DeleteClient(ctx, "webapp"), ErrClientProtected)

	_, err = svc.Bootstrap(ctx, "boot-token", data)
	require.ErrorIs(t, err, ErrBootstrapAlready)

	t.Run("disabled without a token", func(t *testing.T) {
		_, err := (&BootstrapService{Store: memory.NewStore()}).Bootstrap(ctx, "", data)
		require.ErrorIs(t, err, ErrBootstrapUnauthorized)
	})
}

func TestUserService(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := &UserService{Users: memory.NewStore().Users()}

	_, err := svc.CreateUser(ctx, "a", "correct-horse")
	require.ErrorIs(t, err, ErrInvalidUsername)
	_, err = svc.CreateUser(ctx, "alice", "short")
	require.ErrorIs(t, err, ErrInvalidPassword)

	u, err := svc.CreateUser(ctx, "alice", "correct-horse")
	require.NoError(t, err)
	require.True(t, u.Enabled)
	require.Equal(t, []string{RoleUser}, u.Authorities)

	_, err = svc.CreateUser(ctx, "alice", "another-horse")
	require.ErrorIs(t, err, ErrUsernameTaken)

	got, err := svc.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
}

func TestHousekeeping(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	webapp := f.webapp(t)

	_, err := f.tokens.CreateAccessToken(ctx, aliceAuth("webapp", "read"), webapp)
	require.NoError(t, err)
	_, err = f.codes.CreateCode(ctx, aliceAuth("webapp", "read"), CodeChallenge{})
	require.NoError(t, err)

	sessions := security.NewMemorySessionStore(time.Minute).WithClock(f.clock.Now)
	_, err = sessions.Create(ctx, &security.Authentication{Principal: "alice", State: security.StateFull})
	require.NoError(t, err)

	hk := NewHousekeepingService(f.db, sessions, slogx.Discard(), time.Minute)
	hk.Now = f.clock.Now

	removed := hk.Cleanup(ctx)
	require.Zero(t, removed["tokens"])
	require.Zero(t, removed["codes"])

	f.clock.Advance(48 * time.Hour)
	removed = hk.Cleanup(ctx)
	require.Equal(t, 2, removed["tokens"], "access and refresh token")
	require.Equal(t, 1, removed["codes"])
	require.Equal(t, 1, removed["sessions"])
	require.Zero(t, removed["signing_keys"])
}
