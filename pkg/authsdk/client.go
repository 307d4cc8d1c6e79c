package authsdk

import (
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// Server paths used by the SDK.
const (
	PathToken      = "/oauth/token"
	PathAuthorize  = "/oauth/authorize"
	PathCheckToken = "/oauth/check_token"
	PathRevoke     = "/oauth/revoke"
	PathSignin     = "/signin"
	PathSigninAuth = "/signin/authenticate"
	PathSignout    = "/signout"
	PathMe         = "/api/me"
	PathClients    = "/api/clients"
	PathBootstrap  = "/v1/bootstrap"
	PathJWKS       = "/.well-known/jwks.json"
)

// SDKClient is a client for the bastion authorization server.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSDKClient creates a new client. Redirects are not followed so callers
// can inspect Location headers from the authorize and sign-in endpoints.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout:       10 * time.Second,
			CheckRedirect: noRedirect,
		},
	}
}

// WithCookieJar returns a copy of the client that keeps cookies between
// requests, as a browser would for the form login session.
func (c *SDKClient) WithCookieJar() *SDKClient {
	jar, _ := cookiejar.New(nil)
	hc := *c.HTTPClient
	hc.Jar = jar
	return &SDKClient{BaseURL: c.BaseURL, HTTPClient: &hc}
}

func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}
