package security_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/bastion/internal/security"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	proxy    *security.FilterChainProxy
	sessions *security.MemorySessionStore
}

func tokenManager(resourceID string) security.AuthenticationManager {
	return security.ManagerFunc(func(_ context.Context, creds security.Credentials) (*security.Authentication, error) {
		bearer, ok := creds.(security.BearerTokenCredentials)
		if !ok {
			return nil, security.ErrProviderNotFound
		}
		switch bearer.Token {
		case "user-token":
			return &security.Authentication{Principal: "alice", Authorities: []string{"ROLE_USER"}, Scopes: []string{"read"}, ClientID: "webapp", State: security.StateFull}, nil
		case "admin-token":
			return &security.Authentication{Principal: "admin", Authorities: []string{"ROLE_ADMIN"}, Scopes: []string{"read"}, ClientID: "webapp", State: security.StateFull}, nil
		case "client-token":
			return &security.Authentication{Principal: "webapp", ClientID: "webapp", Scopes: []string{"write"}, State: security.StateFull}, nil
		}
		return nil, fmt.Errorf("%w: unknown token for %s", security.ErrInvalidToken, resourceID)
	})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	users := security.NewProviderManager(&security.DaoAuthenticationProvider{Users: testUsers(), Encoder: plainEncoder{}})
	clients := security.NewProviderManager(&security.DaoAuthenticationProvider{
		Users:   mapUsers{"webapp": {Username: "webapp", PasswordHash: "plain:ABC123", Authorities: []string{"ROLE_CLIENT"}, Enabled: true}},
		Encoder: plainEncoder{},
	})
	sessions := security.NewMemorySessionStore(time.Hour)

	assembler := &security.Assembler{
		Managers: map[string]security.AuthenticationManager{
			security.ManagerUsers:   users,
			security.ManagerClients: clients,
		},
		Tokens:   tokenManager,
		Sessions: sessions,
	}

	cfg := security.WebConfig{
		Ignoring:       []string{"/resources/**"},
		StrictFirewall: true,
		Chains: []security.HTTPConfig{
			{
				Name:              "token",
				Pattern:           "/oauth/token",
				Stateless:         true,
				ClientCredentials: &security.ClientCredentialsConfig{},
				HTTPBasic:         &security.HTTPBasicConfig{Manager: security.ManagerClients, Realm: "oauth2/client"},
				Authorize:         []security.AuthorizeRule{{Attributes: []string{security.AttrFullyAuthenticated}}},
			},
			{
				Name:      "api",
				Pattern:   "/api/**",
				Stateless: true,
				Bearer:    &security.BearerConfig{ResourceID: "bastion", AllowQueryParameter: true},
				Authorize: []security.AuthorizeRule{
					{Patterns: []string{"/api/clients/**"}, Access: "hasRole('ADMIN')"},
					{Patterns: []string{"/api/write/**"}, Access: "clientOnly and hasScope('write')"},
					{Access: "hasScope('read')"},
				},
			},
			{
				Name: "web",
				FormLogin: &security.FormLoginConfig{
					LoginPage:     "/signin",
					ProcessingURL: "/signin/authenticate",
					FailureURL:    "/signin?param.error=bad_credentials",
					PermitAll:     true,
				},
				Logout: &security.LogoutConfig{URL: "/signout", DeleteCookies: []string{"JSESSIONID"}},
				Authorize: []security.AuthorizeRule{
					{Patterns: []string{"/favicon.ico", "/resources/**", "/auth/**", "/signup/**", "/disconnect/facebook"}, Access: "permitAll"},
					{Patterns: []string{"/user/**"}, Attributes: []string{"ROLE_USER"}},
					{Patterns: []string{"/panic"}, Access: "permitAll"},
				},
			},
		},
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/panic" {
			panic("boom")
		}
		principal := ""
		if auth := security.CurrentAuthentication(r.Context()); auth != nil {
			principal = auth.Principal
		}
		fmt.Fprintf(w, "ok:%s", principal)
	})

	proxy, err := assembler.BuildProxy(cfg, next, nil)
	require.NoError(t, err)
	return &fixture{proxy: proxy, sessions: sessions}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.proxy.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return f.do(req)
}

func (f *fixture) login(t *testing.T, username, password string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/signin/authenticate", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return f.do(req)
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestProxyWebChain(t *testing.T) {
	t.Parallel()

	t.Run("ignored paths bypass security", func(t *testing.T) {
		rec := newFixture(t).get("/resources/css/app.css")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "ok:", rec.Body.String())
	})

	t.Run("permitAll paths see the anonymous user", func(t *testing.T) {
		rec := newFixture(t).get("/signup/new")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "ok:anonymousUser", rec.Body.String())
	})

	t.Run("login page is reachable", func(t *testing.T) {
		require.Equal(t, http.StatusOK, newFixture(t).get("/signin").Code)
	})

	t.Run("anonymous users are sent to the login page", func(t *testing.T) {
		rec := newFixture(t).get("/user/profile")
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "/signin", rec.Header().Get("Location"))
		require.NotNil(t, cookieNamed(rec, security.SavedRequestCookie))
	})

	t.Run("unmatched paths require authentication", func(t *testing.T) {
		rec := newFixture(t).get("/dashboard")
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "/signin", rec.Header().Get("Location"))
	})

	t.Run("bad credentials redirect to the failure url", func(t *testing.T) {
		rec := newFixture(t).login(t, "alice", "wrong")
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "/signin?param.error=bad_credentials", rec.Header().Get("Location"))
		require.Nil(t, cookieNamed(rec, security.DefaultSessionCookie))
	})

	t.Run("login creates a session", func(t *testing.T) {
		f := newFixture(t)
		rec := f.login(t, "alice", "secret")
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "/", rec.Header().Get("Location"))

		session := cookieNamed(rec, security.DefaultSessionCookie)
		require.NotNil(t, session)
		require.True(t, session.HttpOnly)
		require.Equal(t, http.SameSiteLaxMode, session.SameSite)

		rec = f.get("/user/profile", session)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "ok:alice", rec.Body.String())
	})

	t.Run("login returns to the saved request", func(t *testing.T) {
		f := newFixture(t)
		saved := cookieNamed(f.get("/user/settings?tab=2"), security.SavedRequestCookie)
		require.NotNil(t, saved)

		rec := f.login(t, "alice", "secret", saved)
		require.Equal(t, "/user/settings?tab=2", rec.Header().Get("Location"))
	})

	t.Run("login rotates the session id", func(t *testing.T) {
		f := newFixture(t)
		first := cookieNamed(f.login(t, "alice", "secret"), security.DefaultSessionCookie)
		second := cookieNamed(f.login(t, "alice", "secret", first), security.DefaultSessionCookie)
		require.NotEqual(t, first.Value, second.Value)

		_, err := f.sessions.Get(context.Background(), first.Value)
		require.ErrorIs(t, err, security.ErrSessionNotFound)
	})

	t.Run("authenticated users without the role get 403", func(t *testing.T) {
		f := newFixture(t)
		session := cookieNamed(f.login(t, "bob", "secret"), security.DefaultSessionCookie)

		rec := f.get("/user/profile", session)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("logout clears the session", func(t *testing.T) {
		f := newFixture(t)
		session := cookieNamed(f.login(t, "alice", "secret"), security.DefaultSessionCookie)

		rec := f.get("/signout", session)
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "/login?logout", rec.Header().Get("Location"))

		cleared := cookieNamed(rec, security.DefaultSessionCookie)
		require.NotNil(t, cleared)
		require.Negative(t, cleared.MaxAge)

		rec = f.get("/user/profile", session)
		require.Equal(t, http.StatusFound, rec.Code, "old session no longer authenticates")
	})

	t.Run("panics become server errors", func(t *testing.T) {
		rec := newFixture(t).get("/panic")
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.Contains(t, rec.Body.String(), "server_error")
	})

	t.Run("firewall rejects traversal", func(t *testing.T) {
		f := newFixture(t)
		for _, target := range []string{"/user/..;/signup", "/resources/%2e%2e/user", "/user//profile"} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RequestURI = target
			req.URL.RawPath = ""
			req.URL.Path = strings.ReplaceAll(target, "%2e", ".")
			require.Equal(t, http.StatusBadRequest, f.do(req).Code, target)
		}
	})
}

func TestProxyBearerChain(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	bearer := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return f.do(req)
	}
	decode := func(rec *httptest.ResponseRecorder) map[string]string {
		var body map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		return body
	}

	t.Run("missing token is challenged", func(t *testing.T) {
		rec := bearer("/api/me", "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, `Bearer realm="bastion"`, rec.Header().Get("WWW-Authenticate"))
		require.Equal(t, "unauthorized", decode(rec)["error"])
	})

	t.Run("invalid token", func(t *testing.T) {
		rec := bearer("/api/me", "forged")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="invalid_token"`)
		require.Equal(t, "invalid_token", decode(rec)["error"])
	})

	t.Run("valid token", func(t *testing.T) {
		rec := bearer("/api/me", "user-token")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "ok:alice", rec.Body.String())
	})

	t.Run("access_token parameter", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/api/me?access_token=user-token", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("role rule", func(t *testing.T) {
		rec := bearer("/api/clients", "user-token")
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Equal(t, "access_denied", decode(rec)["error"])

		require.Equal(t, http.StatusOK, bearer("/api/clients", "admin-token").Code)
	})

	t.Run("client only rule", func(t *testing.T) {
		require.Equal(t, http.StatusOK, bearer("/api/write/x", "client-token").Code)
		require.Equal(t, http.StatusForbidden, bearer("/api/write/x", "user-token").Code)
		require.Equal(t, http.StatusForbidden, bearer("/api/me", "client-token").Code, "client token lacks read")
	})
}

func TestProxyTokenChain(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	post := func(form url.Values, basicUser, basicPass string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if basicUser != "" {
			req.SetBasicAuth(url.QueryEscape(basicUser), url.QueryEscape(basicPass))
		}
		return f.do(req)
	}

	rec := post(url.Values{"grant_type": {"client_credentials"}}, "webapp", "ABC123")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok:webapp", rec.Body.String())

	rec = post(url.Values{"client_id": {"webapp"}, "client_secret": {"ABC123"}}, "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = post(url.Values{"client_id": {"webapp"}, "client_secret": {"nope"}}, "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid_client")

	rec = post(url.Values{}, "webapp", "nope")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
	require.Contains(t, rec.Body.String(), "invalid_client")

	rec = post(url.Values{}, "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code, "anonymous clients meet the entry point")
}

func TestProxyPreAuthenticated(t *testing.T) {
	t.Parallel()

	users := testUsers()
	a := &security.Assembler{Managers: map[string]security.AuthenticationManager{
		security.ManagerUsers: security.NewProviderManager(
			&security.DaoAuthenticationProvider{Users: users, Encoder: plainEncoder{}},
			&security.PreAuthenticatedProvider{Users: users},
		),
		"gateway": security.NewProviderManager(&security.PreAuthenticatedProvider{}),
	}}
	cfg := security.WebConfig{Chains: []security.HTTPConfig{
		{
			Name:      "reports",
			Pattern:   "/reports/**",
			Stateless: true,
			PreAuthenticated: &security.PreAuthenticatedConfig{
				PrincipalHeader:   "X-Forwarded-User",
				AuthoritiesHeader: "X-Forwarded-Groups",
				Manager:           "gateway",
			},
			Authorize: []security.AuthorizeRule{{Attributes: []string{"SCOPE_reports"}}},
		},
		{
			Name:             "internal",
			Stateless:        true,
			PreAuthenticated: &security.PreAuthenticatedConfig{PrincipalHeader: "X-Remote-User"},
			Authorize: []security.AuthorizeRule{
				{Patterns: []string{"/admin/**"}, Attributes: []string{"ROLE_ADMIN"}},
				{Access: "authenticated"},
			},
		},
	}}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok:%s", security.CurrentAuthentication(r.Context()).Principal)
	})
	proxy, err := a.BuildProxy(cfg, next, nil)
	require.NoError(t, err)

	do := func(path string, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		proxy.ServeHTTP(rec, req)
		return rec
	}

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		status  int
		body    string
	}{
		{"no header", "/home", nil, http.StatusForbidden, ""},
		{"known user", "/home", map[string]string{"X-Remote-User": "alice"}, http.StatusOK, "ok:alice"},
		{"stored authorities apply", "/admin/users", map[string]string{"X-Remote-User": "alice"}, http.StatusForbidden, ""},
		{"admin", "/admin/users", map[string]string{"X-Remote-User": "admin"}, http.StatusOK, "ok:admin"},
		{"unknown user stays anonymous", "/home", map[string]string{"X-Remote-User": "zed"}, http.StatusForbidden, ""},
		{"locked user", "/home", map[string]string{"X-Remote-User": "mallory"}, http.StatusForbidden, ""},
		{"header authority granted", "/reports/daily", map[string]string{"X-Forwarded-User": "svc", "X-Forwarded-Groups": "ROLE_SVC, SCOPE_reports"}, http.StatusOK, "ok:svc"},
		{"header authority missing", "/reports/daily", map[string]string{"X-Forwarded-User": "svc", "X-Forwarded-Groups": "ROLE_SVC"}, http.StatusForbidden, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := do(tc.path, tc.headers)
			require.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				require.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestProxyStartupValidation(t *testing.T) {
	t.Parallel()
	next := http.NotFoundHandler()

	chain := func(name string, m security.RequestMatcher) *security.SecurityFilterChain {
		return &security.SecurityFilterChain{Name: name, Matcher: m}
	}

	_, err := security.NewFilterChainProxy(next, nil, nil)
	require.ErrorIs(t, err, security.ErrNoChains)

	_, err = security.NewFilterChainProxy(next, nil, []*security.SecurityFilterChain{chain("api", security.MustAntMatcher("/api/**"))})
	require.ErrorIs(t, err, security.ErrNoCatchAllChain)

	_, err = security.NewFilterChainProxy(next, nil, []*security.SecurityFilterChain{
		chain("all", security.AnyRequest()),
		chain("api", security.MustAntMatcher("/api/**")),
	})
	require.ErrorIs(t, err, security.ErrUnreachableChain)
	require.ErrorIs(t, err, security.ErrConfiguration)

	p, err := security.NewFilterChainProxy(next, nil, []*security.SecurityFilterChain{
		chain("api", security.MustAntMatcher("/api/**")),
		chain("all", security.MustAntMatcher("/**")),
	})
	require.NoError(t, err)
	require.Equal(t, "api", p.ChainFor(httptest.NewRequest(http.MethodGet, "/api/x", nil)).Name)
	require.Equal(t, "all", p.ChainFor(httptest.NewRequest(http.MethodGet, "/x", nil)).Name)
}

func TestAssemblerOrdersFilters(t *testing.T) {
	t.Parallel()

	mgr := security.NewProviderManager()
	a := &security.Assembler{
		Managers: map[string]security.AuthenticationManager{security.ManagerUsers: mgr, security.ManagerClients: mgr},
		Tokens:   func(string) security.AuthenticationManager { return mgr },
		Sessions: security.NewMemorySessionStore(time.Minute),
	}

	marker := security.ConfigurerFunc(func(b *security.ChainBuilder) error {
		b.AddFilter(security.OrderFormLogin-1, security.FilterFunc{FilterName: "rate_limit", Fn: func(w http.ResponseWriter, r *http.Request, next http.Handler) {
			next.ServeHTTP(w, r)
		}})
		return nil
	})

	chain, err := a.Build(security.HTTPConfig{
		Name:              "everything",
		Authorize:         []security.AuthorizeRule{{Access: "authenticated"}},
		Bearer:            &security.BearerConfig{},
		HTTPBasic:         &security.HTTPBasicConfig{},
		FormLogin:         &security.FormLoginConfig{},
		ClientCredentials: &security.ClientCredentialsConfig{},
		Logout:            &security.LogoutConfig{},
		PreAuthenticated:  &security.PreAuthenticatedConfig{PrincipalHeader: "X-Remote-User"},
	}, marker)
	require.NoError(t, err)
	require.Equal(t, []string{
		"session", "logout", "client_credentials", "pre_authenticated", "rate_limit", "form_login",
		"http_basic", "bearer_token", "anonymous", "authorization",
	}, chain.FilterNames())
}

func TestAssemblerRejectsBadConfig(t *testing.T) {
	t.Parallel()

	a := &security.Assembler{Managers: map[string]security.AuthenticationManager{}}
	tests := map[string]security.HTTPConfig{
		"missing manager":     {HTTPBasic: &security.HTTPBasicConfig{}},
		"no principal header": {PreAuthenticated: &security.PreAuthenticatedConfig{}},
		"bad expression":      {Authorize: []security.AuthorizeRule{{Access: "hasRole("}}},
		"unknown identifier":  {Authorize: []security.AuthorizeRule{{Access: "isWizard"}}},
		"non boolean":         {Authorize: []security.AuthorizeRule{{Access: "principal"}}},
		"empty rule":          {Authorize: []security.AuthorizeRule{{Patterns: []string{"/x"}}}},
		"unknown entry point": {EntryPoint: "carrier-pigeon"},
		"login without form":  {EntryPoint: security.EntryPointLogin},
		"stateless form":      {Stateless: true, FormLogin: &security.FormLoginConfig{}},
		"bearer without svc":  {Bearer: &security.BearerConfig{}},
		"unknown denied":      {AccessDenied: "teapot"},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := a.Build(cfg)
			require.ErrorIs(t, err, security.ErrConfiguration)
		})
	}
}
