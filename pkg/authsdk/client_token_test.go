package authsdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/bastion/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func TestRequestTokenUsesBasicAuthForConfidentialClients(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, PathToken, r.URL.Path)
		require.NoError(t, r.ParseForm())

		id, secret, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "service", id)
		require.Equal(t, "s3cret", secret)
		require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		require.Equal(t, "read write", r.PostForm.Get("scope"))
		require.Empty(t, r.PostForm.Get("client_id"))

		httpx.WriteJSON(w, http.StatusOK, TokenResponse{
			AccessToken: "abc",
			TokenType:   TokenType,
			ExpiresIn:   60,
			Scope:       "read write",
		})
	}))
	defer srv.Close()

	tok, err := NewSDKClient(srv.URL).ClientCredentialsGrant(context.Background(), "service", "s3cret", []string{"read", "write"})
	require.NoError(t, err)
	require.Equal(t, "abc", tok.AccessToken)
	require.Empty(t, tok.RefreshToken)
}

func TestRequestTokenPublicClientAndErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		_, _, ok := r.BasicAuth()
		require.False(t, ok)
		require.Equal(t, "webapp", r.PostForm.Get("client_id"))

		ErrInvalidGrant.WithDescription("authorization code already used").WriteError(w)
	}))
	defer srv.Close()

	_, err := NewSDKClient(srv.URL).AuthorizationCodeGrant(context.Background(), "webapp", "", "ABC123", "https://app/cb", "")
	require.ErrorIs(t, err, ErrInvalidGrant)
	require.ErrorContains(t, err, "already used")
}
