package authsdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aussiebroadwan/bastion/pkg/cryptox"
)

// PKCEChallenge holds the PKCE verifier and challenge pair.
// The verifier is kept secret by the client, and the challenge is sent to the authorization endpoint.
type PKCEChallenge struct {
	// Verifier is the high-entropy cryptographic random string (kept secret)
	Verifier string

	// Challenge is the base64url-encoded SHA256 hash of the verifier (sent to server)
	Challenge string

	// Method is always "S256" for SHA256
	Method string
}

// GeneratePKCEChallenge creates a new PKCE code verifier and challenge pair.
func GeneratePKCEChallenge() (*PKCEChallenge, error) {
	verifier, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}

	return &PKCEChallenge{
		Verifier:  verifier,
		Challenge: cryptox.S256Challenge(verifier),
		Method:    "S256",
	}, nil
}

// AuthorizeRequest describes a request to the authorization endpoint.
type AuthorizeRequest struct {
	// ResponseType is "code" (default) or "token" for the implicit grant.
	ResponseType string
	ClientID     string
	RedirectURI  string
	State        string
	Scopes       []string
	PKCE         *PKCEChallenge
}

// BuildAuthorizeURL constructs the authorization URL a browser is sent to.
//
// Example:
//
//	pkce, _ := authsdk.GeneratePKCEChallenge()
//	u := client.BuildAuthorizeURL(authsdk.AuthorizeRequest{
//		ClientID:    "webapp",
//		RedirectURI: "https://app/cb",
//		State:       "xyz",
//		PKCE:        pkce,
//	})
func (c *SDKClient) BuildAuthorizeURL(req AuthorizeRequest) string {
	responseType := req.ResponseType
	if responseType == "" {
		responseType = "code"
	}

	params := url.Values{}
	params.Set("response_type", responseType)
	params.Set("client_id", req.ClientID)

	if req.RedirectURI != "" {
		params.Set("redirect_uri", req.RedirectURI)
	}
	if req.State != "" {
		params.Set("state", req.State)
	}
	if len(req.Scopes) > 0 {
		params.Set("scope", strings.Join(req.Scopes, " "))
	}
	if req.PKCE != nil {
		params.Set("code_challenge", req.PKCE.Challenge)
		params.Set("code_challenge_method", req.PKCE.Method)
	}

	return fmt.Sprintf("%s%s?%s", c.BaseURL, PathAuthorize, params.Encode())
}

// Signin posts the login form. The client should carry a cookie jar (see
// WithCookieJar) so the session cookie is kept. It returns the redirect
// location chosen by the server: the success URL or the failure URL.
func (c *SDKClient) Signin(ctx context.Context, username, password, otp string) (string, error) {
	form := url.Values{
		"username": {username},
		"password": {password},
	}
	if otp != "" {
		form.Set("otp", otp)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, PathSigninAuth, strings.NewReader(form.Encode()), map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		return "", fmt.Errorf("signin: unexpected status %d", resp.StatusCode)
	}
	return resp.Header.Get("Location"), nil
}

// Signout calls the logout endpoint and returns the redirect location.
func (c *SDKClient) Signout(ctx context.Context) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, PathSignout, nil, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		return "", fmt.Errorf("signout: unexpected status %d", resp.StatusCode)
	}
	return resp.Header.Get("Location"), nil
}

// Authorize calls the authorization endpoint with the current session and
// returns the Location the server redirected to. For an anonymous session
// that is the sign-in page; otherwise it is the client's redirect URI
// carrying the code (query) or token (fragment).
func (c *SDKClient) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	path := strings.TrimPrefix(c.BuildAuthorizeURL(req), c.BaseURL)

	resp, err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		return "", checkStatus(resp, http.StatusFound)
	}
	return resp.Header.Get("Location"), nil
}

// ParseAuthorizationCallback extracts the code and state from an
// authorization_code redirect, or returns the OAuth2 error it carries.
func ParseAuthorizationCallback(callbackURL string) (code, state string, err error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse callback URL: %w", err)
	}

	query := u.Query()
	if errorCode := query.Get("error"); errorCode != "" {
		return "", "", NewOAuth2Error(http.StatusBadRequest, errorCode, query.Get("error_description"))
	}

	code = query.Get("code")
	if code == "" {
		return "", "", fmt.Errorf("callback missing authorization code")
	}

	return code, query.Get("state"), nil
}

// ParseImplicitCallback extracts the token response from the fragment of
// an implicit grant redirect.
func ParseImplicitCallback(callbackURL string) (*TokenResponse, string, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse callback URL: %w", err)
	}

	frag, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse callback fragment: %w", err)
	}
	if errorCode := frag.Get("error"); errorCode != "" {
		return nil, "", NewOAuth2Error(http.StatusBadRequest, errorCode, frag.Get("error_description"))
	}

	expiresIn, _ := strconv.Atoi(frag.Get("expires_in"))
	tok := &TokenResponse{
		AccessToken: frag.Get("access_token"),
		TokenType:   frag.Get("token_type"),
		ExpiresIn:   expiresIn,
		Scope:       frag.Get("scope"),
	}
	if tok.AccessToken == "" {
		return nil, "", fmt.Errorf("callback missing access token")
	}
	return tok, frag.Get("state"), nil
}
