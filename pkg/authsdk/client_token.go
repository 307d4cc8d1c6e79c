package authsdk

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// AuthorizationCodeGrant exchanges an authorization code for tokens. The
// redirect URI must equal the one used at the authorize endpoint.
func (c *SDKClient) AuthorizationCodeGrant(
	ctx context.Context,
	clientID, clientSecret, code, redirectURI, codeVerifier string,
) (*TokenResponse, error) {
	data := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}
	if redirectURI != "" {
		data.Set("redirect_uri", redirectURI)
	}
	if codeVerifier != "" {
		data.Set("code_verifier", codeVerifier)
	}

	return c.requestToken(ctx, clientID, clientSecret, data)
}

// RefreshGrant requests a new access token using a refresh token. An empty
// scope keeps the scope of the original grant.
func (c *SDKClient) RefreshGrant(
	ctx context.Context,
	clientID, clientSecret, refreshToken string,
	scopes []string,
) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	if len(scopes) > 0 {
		data.Set("scope", strings.Join(scopes, " "))
	}

	return c.requestToken(ctx, clientID, clientSecret, data)
}

// ClientCredentialsGrant requests an access token for the client itself.
// The response never carries a refresh token.
func (c *SDKClient) ClientCredentialsGrant(
	ctx context.Context,
	clientID, clientSecret string,
	scopes []string,
) (*TokenResponse, error) {
	data := url.Values{
		"grant_type": {"client_credentials"},
	}
	if len(scopes) > 0 {
		data.Set("scope", strings.Join(scopes, " "))
	}

	return c.requestToken(ctx, clientID, clientSecret, data)
}

// PasswordGrant uses the resource owner password credentials grant. The
// server answers with a Warning header since the grant skips the
// redirect-based consent step; prefer AuthorizationCodeGrant.
func (c *SDKClient) PasswordGrant(
	ctx context.Context,
	clientID, clientSecret, username, password, otp string,
	scopes []string,
) (*TokenResponse, error) {
	data := url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
	}
	if otp != "" {
		data.Set("otp", otp)
	}
	if len(scopes) > 0 {
		data.Set("scope", strings.Join(scopes, " "))
	}

	return c.requestToken(ctx, clientID, clientSecret, data)
}

// RevokeToken revokes an access or refresh token (RFC 7009). Unknown tokens
// are not an error.
func (c *SDKClient) RevokeToken(ctx context.Context, clientID, clientSecret, token, hint string) error {
	data := url.Values{"token": {token}}
	if hint != "" {
		data.Set("token_type_hint", hint)
	}

	resp, err := c.postClientForm(ctx, PathRevoke, clientID, clientSecret, data)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusOK)
}

// CheckToken asks the server to decode an access token.
func (c *SDKClient) CheckToken(ctx context.Context, clientID, clientSecret, token string) (*CheckTokenResponse, error) {
	resp, err := c.postClientForm(ctx, PathCheckToken, clientID, clientSecret, url.Values{"token": {token}})
	if err != nil {
		return nil, err
	}

	var out CheckTokenResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SDKClient) requestToken(
	ctx context.Context,
	clientID, clientSecret string,
	data url.Values,
) (*TokenResponse, error) {
	resp, err := c.postClientForm(ctx, PathToken, clientID, clientSecret, data)
	if err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, http.StatusOK); err != nil {
		return nil, err
	}

	return &tokenResp, nil
}
