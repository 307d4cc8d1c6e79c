package bastion_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRedisTokenStore keeps tokens and codes in redis while users and
// clients stay in sqlite.
func TestRedisTokenStore(t *testing.T) {
	networkName, redisAddr := setupRedis(t)
	client := setupBastionWith(t, startOptions{
		env: map[string]string{
			"BASTION_TOKEN_STORE":  "redis",
			"BASTION_REDIS_ADDR":   redisAddr,
			"BASTION_REDIS_PREFIX": "e2e:",
		},
		networks: []string{networkName},
	})
	boot := bootstrapService(t, client)
	ctx := t.Context()

	ready, err := client.GetReadiness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", ready.Checks.TokenStore)

	tok, err := client.PasswordGrant(ctx, boot.ClientID, boot.ClientSecret, adminUsername, adminPassword, "", []string{"read"})
	require.NoError(t, err)
	assertTokenResponse(t, tok)

	info, err := client.CheckToken(ctx, boot.ClientID, boot.ClientSecret, tok.AccessToken)
	require.NoError(t, err)
	require.True(t, info.Active)

	refreshed, err := client.RefreshGrant(ctx, boot.ClientID, boot.ClientSecret, tok.RefreshToken, nil)
	require.NoError(t, err)
	assertTokenResponse(t, refreshed)

	// Refreshing drops the access token issued with the old refresh token.
	_, err = client.Me(ctx, tok.AccessToken)
	assertStatus(t, err, http.StatusUnauthorized)

	me, err := client.Me(ctx, refreshed.AccessToken)
	require.NoError(t, err)
	require.Equal(t, adminUsername, me.Principal)
}
