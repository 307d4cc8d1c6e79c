package bastion_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/aussiebroadwan/bastion/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

// TestJWTAccessTokens runs bastion with signed access tokens and verifies
// them the way a resource server would, from the published key set.
func TestJWTAccessTokens(t *testing.T) {
	client := setupBastionWith(t, startOptions{env: map[string]string{
		"BASTION_ACCESS_TOKEN_FORMAT": "jwt",
		"BASTION_ISSUER":              "bastion-e2e",
	}})
	boot := bootstrapService(t, client)
	ctx := t.Context()

	jwks, err := client.GetJWKS(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, jwks.Keys)

	keys := jwtx.NewKeySet()
	for _, k := range jwks.Keys {
		require.NoError(t, keys.AddJWK(k))
	}

	tok, err := client.PasswordGrant(ctx, boot.ClientID, boot.ClientSecret, adminUsername, adminPassword, "", []string{"read"})
	require.NoError(t, err)
	assertTokenResponse(t, tok)
	require.Len(t, strings.Split(tok.AccessToken, "."), 3, "access token should be a JWT")

	claims, err := jwtx.NewCommonEdDSA(keys, "bastion-e2e", nil).Verify(tok.AccessToken)
	require.NoError(t, err)
	require.Equal(t, boot.ClientID, claims.ClientID)
	require.Equal(t, adminUsername, claims.Username)
	require.Equal(t, []string{"read"}, claims.Scope)
	require.Contains(t, claims.Authorities, "ROLE_ADMIN")

	me, err := client.Me(ctx, tok.AccessToken)
	require.NoError(t, err)
	require.Equal(t, adminUsername, me.Principal)

	health, err := client.GetReadiness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", health.Checks.Signer)

	t.Run("revoked JWT is rejected", func(t *testing.T) {
		require.NoError(t, client.RevokeToken(ctx, boot.ClientID, boot.ClientSecret, tok.AccessToken, ""))
		_, err := client.Me(ctx, tok.AccessToken)
		assertStatus(t, err, http.StatusUnauthorized)
	})
}

func TestJWKSNotPublishedForOpaqueTokens(t *testing.T) {
	client := setupBastion(t)

	_, err := client.GetJWKS(t.Context())
	assertStatus(t, err, http.StatusNotFound)
}
