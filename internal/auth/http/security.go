package http

import (
	"github.com/aussiebroadwan/bastion/internal/security"
	"github.com/aussiebroadwan/bastion/pkg/authsdk"
	"github.com/aussiebroadwan/bastion/pkg/httpx"
)

// Names of the chains in DefaultWebConfig. Custom layouts that reuse these
// names get the same rate limits.
const (
	ChainToken = "token"
	ChainAPI   = "api"
	ChainWeb   = "web"
)

// DefaultWebConfig is the layout used when no security config file is
// given: client authentication on the OAuth2 endpoints, bearer tokens on
// /api and a form login for everything else.
func DefaultWebConfig(resourceID string) security.WebConfig {
	return security.WebConfig{
		Ignoring: []string{
			"/resources/**",
			"/livez",
			"/readyz",
			"/.well-known/**",
			"/swagger/**",
			authsdk.PathBootstrap,
		},
		StrictFirewall: true,
		Chains: []security.HTTPConfig{
			{
				Name:      ChainToken,
				Pattern:   "/oauth/**",
				Methods:   []string{"POST"},
				Stateless: true,
				ClientCredentials: &security.ClientCredentialsConfig{
					Endpoints: []string{authsdk.PathToken, authsdk.PathCheckToken, authsdk.PathRevoke},
				},
				HTTPBasic: &security.HTTPBasicConfig{Manager: security.ManagerClients, Realm: "oauth2/client"},
				Authorize: []security.AuthorizeRule{
					{Attributes: []string{security.AttrFullyAuthenticated}},
				},
			},
			{
				Name:         ChainAPI,
				Pattern:      "/api/**",
				Stateless:    true,
				Bearer:       &security.BearerConfig{ResourceID: resourceID},
				AccessDenied: security.AccessDeniedOAuth2,
				Authorize: []security.AuthorizeRule{
					{Patterns: []string{authsdk.PathClients, authsdk.PathClients + "/**"}, Access: "hasRole('ADMIN')"},
					{Access: "hasScope('read')"},
				},
			},
			{
				Name: ChainWeb,
				FormLogin: &security.FormLoginConfig{
					LoginPage:     PathSignin,
					ProcessingURL: PathSigninAuthenticate,
					FailureURL:    PathSignin + "?param.error=bad_credentials",
					PermitAll:     true,
				},
				Logout: &security.LogoutConfig{
					URL:           PathSignout,
					SuccessURL:    PathSignin + "?logout",
					DeleteCookies: []string{security.DefaultSessionCookie},
					PermitAll:     true,
				},
				Authorize: []security.AuthorizeRule{
					{Patterns: []string{"/favicon.ico", "/resources/**", "/auth/**", PathSignup, PathSignup + "/**"}, Access: "permitAll"},
					{Patterns: []string{authsdk.PathAuthorize}, Access: "isFullyAuthenticated()"},
					{Access: "authenticated"},
				},
			},
		},
	}
}

// RateLimits returns the rate limiting filters per chain name, for
// security.Assembler.BuildProxy.
func RateLimits() map[string][]security.Configurer {
	return map[string][]security.Configurer{
		ChainToken: {limitFilter(security.OrderClientCredentials-1, "client-rate-limit",
			httpx.RateLimitByClient(httpx.ModerateLimit))},
		ChainWeb: {limitFilter(security.OrderFormLogin-1, "login-rate-limit",
			httpx.ForPathPrefix(PathSigninAuthenticate, httpx.RateLimitByIPAndFormField(httpx.StrictLimit, "username")))},
		// After bearer authentication so the token's principal is known.
		// Requests without a token carry no key and fail authorization.
		ChainAPI: {limitFilter(security.OrderBearer+1, "api-rate-limit",
			httpx.RateLimitMiddleware(httpx.LenientLimit, security.PrincipalKeyExtractor))},
	}
}

func limitFilter(order int, name string, mw httpx.Middleware) security.Configurer {
	return security.ConfigurerFunc(func(b *security.ChainBuilder) error {
		b.AddFilter(order, security.MiddlewareFilter{FilterName: name, Middleware: mw})
		return nil
	})
}
