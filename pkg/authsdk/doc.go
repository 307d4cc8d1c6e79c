/*
Package authsdk is a Go client for the bastion authorization server.

It covers the OAuth2 token endpoint for every supported grant, the form
login used by the authorization_code and implicit flows, token revocation
and inspection, and the small admin API for registering clients.

# Token Endpoint

Confidential clients authenticate with HTTP Basic; public clients (no
secret) send only client_id:

	client := authsdk.NewSDKClient("https://auth.example.com")

	tok, err := client.ClientCredentialsGrant(ctx, "service", secret, []string{"read"})
	// tok.RefreshToken is always empty for client_credentials

	tok, err = client.RefreshGrant(ctx, "webapp", secret, refreshToken, nil)

# Authorization Code Flow

The flow needs a browser-like session, so the client keeps cookies:

	browser := client.WithCookieJar()
	_, _ = browser.Signin(ctx, "alice", "password", "")

	pkce, _ := authsdk.GeneratePKCEChallenge()
	loc, err := browser.Authorize(ctx, authsdk.AuthorizeRequest{
		ClientID:    "webapp",
		RedirectURI: "https://app/cb",
		State:       "xyz",
		PKCE:        pkce,
	})
	code, state, err := authsdk.ParseAuthorizationCallback(loc)

	tok, err := client.AuthorizationCodeGrant(ctx, "webapp", secret, code, "https://app/cb", pkce.Verifier)

A code can be exchanged exactly once; a second exchange fails with
invalid_grant.

# Errors

Failed calls return *OAuth2Error carrying the wire error code, so callers can
match with errors.Is:

	if errors.Is(err, authsdk.ErrInvalidGrant) {
		// code reused, expired, or redirect_uri mismatch
	}
*/
package authsdk
