package service

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/auth/store/drivers/memory"
	"github.com/aussiebroadwan/bastion/internal/security"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2099, 1, 2, 3, 4, 5, 0, time.UTC)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	db        *memory.Store
	clock     *testClock
	tokens    *TokenServices
	codes     *AuthorizationCodeServices
	granter   *CompositeGranter
	authorize *AuthorizeService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := memory.NewStore()
	clock := &testClock{t: baseTime}

	tokens := &TokenServices{
		Tokens:              db.Tokens(),
		AccessTokenTTL:      time.Hour,
		RefreshTokenTTL:     24 * time.Hour,
		SupportRefreshToken: true,
		Now:                 clock.Now,
	}
	codes := &AuthorizationCodeServices{Codes: db.AuthorizationCodes(), Now: clock.Now}
	users := security.NewProviderManager(&security.DaoAuthenticationProvider{
		Users: &UserDetailsService{Users: db.Users()},
	})

	granter := NewCompositeGranter(
		&AuthorizationCodeGranter{Codes: codes, Tokens: tokens},
		&RefreshTokenGranter{Tokens: tokens},
		&ImplicitGranter{Tokens: tokens},
		&ClientCredentialsGranter{Tokens: tokens},
		&ResourceOwnerPasswordGranter{Users: users, Tokens: tokens},
	)

	return &fixture{
		db:        db,
		clock:     clock,
		tokens:    tokens,
		codes:     codes,
		granter:   granter,
		authorize: &AuthorizeService{Clients: db.Clients(), Codes: codes, Granter: granter},
	}
}

func (f *fixture) addClient(t *testing.T, c domain.Client) domain.Client {
	t.Helper()
	require.NoError(t, f.db.Clients().CreateClient(context.Background(), c))
	got, err := f.db.Clients().GetClientByID(context.Background(), c.ID)
	require.NoError(t, err)
	return got
}

// webapp is a public browser client.
func (f *fixture) webapp(t *testing.T) domain.Client {
	return f.addClient(t, domain.Client{
		ID:           "webapp",
		Name:         "Web App",
		Scopes:       []string{"read", "write"},
		GrantTypes:   []string{"authorization_code", "refresh_token", "implicit"},
		RedirectURIs: []string{"https://app/cb"},
	})
}

// batch is a confidential machine client.
func (f *fixture) batch(t *testing.T) domain.Client {
	return f.addClient(t, domain.Client{
		ID:          "batch",
		SecretHash:  "not-checked-by-granters",
		Scopes:      []string{"read"},
		GrantTypes:  []string{"client_credentials", "refresh_token"},
		Authorities: []string{"ROLE_BATCH"},
		ResourceIDs: []string{"reports"},
	})
}

func aliceAuth(clientID string, scopes ...string) domain.OAuth2Authentication {
	return domain.OAuth2Authentication{
		Request: domain.OAuth2Request{
			ClientID:  clientID,
			Scopes:    scopes,
			GrantType: string(GrantAuthorizationCode),
		},
		User: &domain.UserAuthentication{Username: "alice", Authorities: []string{"ROLE_USER"}},
	}
}
