package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/service"
	"github.com/aussiebroadwan/bastion/internal/auth/store/drivers/memory"
	"github.com/aussiebroadwan/bastion/internal/security"
	"github.com/aussiebroadwan/bastion/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

const bootstrapToken = "let-me-in"

type testServer struct {
	router  *Router
	db      *memory.Store
	secrets map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	db := memory.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tokens := &service.TokenServices{
		Tokens:              db.Tokens(),
		AccessTokenTTL:      time.Hour,
		RefreshTokenTTL:     24 * time.Hour,
		SupportRefreshToken: true,
	}
	codes := &service.AuthorizationCodeServices{Codes: db.AuthorizationCodes()}
	users := security.NewProviderManager(&security.DaoAuthenticationProvider{
		Users: &service.UserDetailsService{Users: db.Users()},
	})
	granter := service.NewCompositeGranter(
		&service.AuthorizationCodeGranter{Codes: codes, Tokens: tokens},
		&service.RefreshTokenGranter{Tokens: tokens},
		&service.ImplicitGranter{Tokens: tokens},
		&service.ClientCredentialsGranter{Tokens: tokens},
		&service.ResourceOwnerPasswordGranter{Users: users, Tokens: tokens},
	)

	r := NewRouter(nil, "test", db, logger)
	r.ClientDetails = &service.ClientDetailsService{Clients: db.Clients()}
	r.Granter = granter
	r.TokenServices = tokens
	r.AuthorizeService = &service.AuthorizeService{Clients: db.Clients(), Codes: codes, Granter: granter}
	r.UserService = &service.UserService{Users: db.Users()}
	r.ClientService = &service.ClientService{Clients: db.Clients(), Tokens: db.Tokens()}
	r.BootstrapService = &service.BootstrapService{Store: db, Token: bootstrapToken}
	r.ApplyRoutes()

	assembler := &security.Assembler{
		Managers: map[string]security.AuthenticationManager{
			security.ManagerUsers:   users,
			security.ManagerClients: security.NewProviderManager(service.NewClientAuthenticationProvider(db.Clients())),
		},
		Tokens: func(resourceID string) security.AuthenticationManager {
			return security.NewProviderManager(&service.OAuth2AuthenticationProvider{Tokens: tokens, ResourceID: resourceID})
		},
		Sessions: security.NewMemorySessionStore(time.Hour),
	}
	require.NoError(t, r.Secure(assembler, DefaultWebConfig(service.DefaultResourceID)))

	_, err := r.UserService.CreateUser(ctx, "alice", "alice-password")
	require.NoError(t, err)
	_, err = r.UserService.CreateUser(ctx, "root", "root-password", service.RoleAdmin, service.RoleUser)
	require.NoError(t, err)

	ts := &testServer{router: r, db: db, secrets: map[string]string{}}
	ts.addClient(t, service.ClientRegistration{
		ID:         "batch",
		Scopes:     []string{"read"},
		GrantTypes: []string{"client_credentials", "password", "refresh_token"},
	})
	ts.addClient(t, service.ClientRegistration{
		ID:           "webapp",
		Scopes:       []string{"read", "write"},
		GrantTypes:   []string{"authorization_code", "refresh_token", "implicit"},
		RedirectURIs: []string{"https://app.example/cb"},
	})
	return ts
}

func (ts *testServer) addClient(t *testing.T, reg service.ClientRegistration) {
	t.Helper()
	_, secret, err := ts.router.ClientService.CreateClient(context.Background(), reg)
	require.NoError(t, err)
	ts.secrets[reg.ID] = secret
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) get(target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return ts.do(req)
}

func (ts *testServer) postForm(target string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return ts.do(req)
}

// clientPost calls a token chain endpoint with HTTP Basic client credentials.
func (ts *testServer) clientPost(target, clientID string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(clientID, ts.secrets[clientID])
	return ts.do(req)
}

func (ts *testServer) bearer(method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return ts.do(req)
}

func (ts *testServer) passwordToken(t *testing.T, username, password string) authsdk.TokenResponse {
	t.Helper()
	rec := ts.clientPost(authsdk.PathToken, "batch", url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[authsdk.TokenResponse](t, rec)
}

func (ts *testServer) signin(t *testing.T, username, password string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	return ts.postForm(PathSigninAuthenticate, url.Values{"username": {username}, "password": {password}}, cookies...)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRouterRequiresSecurity(t *testing.T) {
	t.Parallel()

	r := NewRouter(nil, "test", memory.NewStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.ApplyRoutes()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Nil(t, r.Proxy())
}

func TestDefaultWebConfigChains(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	var names []string
	for _, c := range ts.router.Proxy().Chains() {
		names = append(names, c.Name)
	}
	require.Equal(t, []string{ChainToken, ChainAPI, ChainWeb}, names)

	chain := ts.router.Proxy().ChainFor(httptest.NewRequest(http.MethodPost, authsdk.PathToken, nil))
	require.NotNil(t, chain)
	require.Equal(t, ChainToken, chain.Name)
	require.Contains(t, chain.FilterNames(), "client-rate-limit")

	chain = ts.router.Proxy().ChainFor(httptest.NewRequest(http.MethodGet, authsdk.PathMe, nil))
	require.NotNil(t, chain)
	require.Equal(t, ChainAPI, chain.Name)
	names = chain.FilterNames()
	require.Less(t, slices.Index(names, "bearer_token"), slices.Index(names, "api-rate-limit"),
		"api limits are keyed by principal, so they run after bearer authentication")
	require.NotEqual(t, -1, slices.Index(names, "bearer_token"))

	chain = ts.router.Proxy().ChainFor(httptest.NewRequest(http.MethodGet, authsdk.PathAuthorize, nil))
	require.NotNil(t, chain)
	require.Equal(t, ChainWeb, chain.Name, "browser requests to the OAuth2 paths use the web chain")
}

func TestTokenEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	t.Run("client credentials", func(t *testing.T) {
		rec := ts.clientPost(authsdk.PathToken, "batch", url.Values{"grant_type": {"client_credentials"}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

		tok := decode[authsdk.TokenResponse](t, rec)
		require.NotEmpty(t, tok.AccessToken)
		require.Equal(t, authsdk.TokenType, tok.TokenType)
		require.Equal(t, "read", tok.Scope)
		require.Empty(t, tok.RefreshToken)
		require.Equal(t, 3600, tok.ExpiresIn)
	})

	t.Run("client credentials in the form", func(t *testing.T) {
		rec := ts.postForm(authsdk.PathToken, url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {"batch"},
			"client_secret": {ts.secrets["batch"]},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("wrong secret", func(t *testing.T) {
		rec := ts.postForm(authsdk.PathToken, url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {"batch"},
			"client_secret": {"wrong"},
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, authsdk.ErrorCodeInvalidClient, decode[authsdk.ErrorResponse](t, rec).Error)
	})

	t.Run("no client", func(t *testing.T) {
		rec := ts.postForm(authsdk.PathToken, url.Values{"grant_type": {"client_credentials"}})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("implicit is refused", func(t *testing.T) {
		rec := ts.clientPost(authsdk.PathToken, "batch", url.Values{"grant_type": {"implicit"}})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, authsdk.ErrorCodeUnsupportedGrantType, decode[authsdk.ErrorResponse](t, rec).Error)
	})

	t.Run("grant not registered for the client", func(t *testing.T) {
		rec := ts.clientPost(authsdk.PathToken, "webapp", url.Values{"grant_type": {"client_credentials"}})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, authsdk.ErrorCodeInvalidGrant, decode[authsdk.ErrorResponse](t, rec).Error)
	})

	t.Run("password grant warns", func(t *testing.T) {
		rec := ts.clientPost(authsdk.PathToken, "batch", url.Values{
			"grant_type": {"password"},
			"username":   {"alice"},
			"password":   {"alice-password"},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Equal(t, passwordGrantWarning, rec.Header().Get("Warning"))
		require.NotEmpty(t, decode[authsdk.TokenResponse](t, rec).RefreshToken)
	})

	t.Run("password grant with a bad password", func(t *testing.T) {
		rec := ts.clientPost(authsdk.PathToken, "batch", url.Values{
			"grant_type": {"password"},
			"username":   {"alice"},
			"password":   {"nope-nope"},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, authsdk.ErrorCodeInvalidGrant, decode[authsdk.ErrorResponse](t, rec).Error)
	})

	t.Run("refresh", func(t *testing.T) {
		first := ts.passwordToken(t, "alice", "alice-password")
		rec := ts.clientPost(authsdk.PathToken, "batch", url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {first.RefreshToken},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.NotEqual(t, first.AccessToken, decode[authsdk.TokenResponse](t, rec).AccessToken)
	})

	t.Run("json body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, authsdk.PathToken, strings.NewReader(`{"grant_type":"client_credentials"}`))
		req.Header.Set("Content-Type", "application/json")
		req.SetBasicAuth("batch", ts.secrets["batch"])
		rec := ts.do(req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCheckTokenAndRevoke(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	tok := ts.passwordToken(t, "alice", "alice-password")

	rec := ts.clientPost(authsdk.PathCheckToken, "batch", url.Values{"token": {tok.AccessToken}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	info := decode[authsdk.CheckTokenResponse](t, rec)
	require.True(t, info.Active)
	require.Equal(t, "batch", info.ClientID)
	require.Equal(t, "alice", info.Username)
	require.Equal(t, "password", info.GrantType)
	require.Contains(t, info.Authorities, service.RoleUser)

	rec = ts.clientPost(authsdk.PathCheckToken, "batch", url.Values{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Another client cannot revoke it.
	rec = ts.clientPost(authsdk.PathRevoke, "webapp", url.Values{"token": {tok.AccessToken}})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.clientPost(authsdk.PathCheckToken, "batch", url.Values{"token": {tok.AccessToken}})
	require.True(t, decode[authsdk.CheckTokenResponse](t, rec).Active)

	rec = ts.clientPost(authsdk.PathRevoke, "batch", url.Values{"token": {tok.AccessToken}})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.clientPost(authsdk.PathCheckToken, "batch", url.Values{"token": {tok.AccessToken}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decode[authsdk.CheckTokenResponse](t, rec).Active)

	rec = ts.clientPost(authsdk.PathRevoke, "batch", url.Values{"token": {"unknown"}})
	require.Equal(t, http.StatusOK, rec.Code, "unknown tokens are not reported")
}

func TestAuthorizeFlow(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	authorize := authsdk.PathAuthorize + "?" + url.Values{
		"response_type": {"code"},
		"client_id":     {"webapp"},
		"redirect_uri":  {"https://app.example/cb"},
		"scope":         {"read"},
		"state":         {"xyz"},
	}.Encode()

	// Anonymous users are sent to sign in first.
	rec := ts.get(authorize)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, PathSignin, rec.Header().Get("Location"))
	saved := cookieNamed(rec, security.SavedRequestCookie)
	require.NotNil(t, saved)

	rec = ts.signin(t, "alice", "alice-password", saved)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, authorize, rec.Header().Get("Location"))
	session := cookieNamed(rec, security.DefaultSessionCookie)
	require.NotNil(t, session)

	rec = ts.get(authorize, session)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "app.example", location.Host)
	require.Equal(t, "xyz", location.Query().Get("state"))
	code := location.Query().Get("code")
	require.NotEmpty(t, code)

	rec = ts.clientPost(authsdk.PathToken, "webapp", url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://app.example/cb"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tok := decode[authsdk.TokenResponse](t, rec)
	require.Equal(t, "read", tok.Scope)
	require.NotEmpty(t, tok.RefreshToken)

	me := ts.bearer(http.MethodGet, authsdk.PathMe, tok.AccessToken)
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())
	require.Equal(t, "alice", decode[authsdk.MeResponse](t, me).Principal)

	t.Run("codes are single use", func(t *testing.T) {
		rec := ts.clientPost(authsdk.PathToken, "webapp", url.Values{
			"grant_type":   {"authorization_code"},
			"code":         {code},
			"redirect_uri": {"https://app.example/cb"},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, authsdk.ErrorCodeInvalidGrant, decode[authsdk.ErrorResponse](t, rec).Error)
	})

	t.Run("implicit tokens travel in the fragment", func(t *testing.T) {
		rec := ts.get(authsdk.PathAuthorize+"?response_type=token&client_id=webapp&state=s1", session)
		require.Equal(t, http.StatusFound, rec.Code)
		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		fragment, err := url.ParseQuery(location.Fragment)
		require.NoError(t, err)
		require.NotEmpty(t, fragment.Get("access_token"))
		require.Equal(t, "s1", fragment.Get("state"))
	})

	t.Run("errors after redirect validation are redirected", func(t *testing.T) {
		rec := ts.get(authsdk.PathAuthorize+"?response_type=code&client_id=webapp&scope=admin&state=s2", session)
		require.Equal(t, http.StatusFound, rec.Code)
		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		require.Equal(t, authsdk.ErrorCodeInvalidScope, location.Query().Get("error"))
		require.Equal(t, "s2", location.Query().Get("state"))
	})

	t.Run("unknown redirect uri is never redirected to", func(t *testing.T) {
		rec := ts.get(authsdk.PathAuthorize+"?response_type=code&client_id=webapp&redirect_uri=https://evil.example/", session)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Empty(t, rec.Header().Get("Location"))
	})
}

func TestWebPages(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	t.Run("sign in page", func(t *testing.T) {
		rec := ts.get(PathSignin + "?param.error=bad_credentials")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		require.Contains(t, rec.Body.String(), pageMessages["bad_credentials"])
		require.Contains(t, rec.Body.String(), `action="`+PathSigninAuthenticate+`"`)
	})

	t.Run("unknown messages are not echoed", func(t *testing.T) {
		rec := ts.get(PathSignin + "?param.error=%3Cscript%3E")
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotContains(t, rec.Body.String(), "<script>")
	})

	t.Run("bad credentials", func(t *testing.T) {
		rec := ts.signin(t, "alice", "wrong-password")
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, PathSignin+"?param.error=bad_credentials", rec.Header().Get("Location"))
	})

	t.Run("home page and sign out", func(t *testing.T) {
		rec := ts.get("/")
		require.Equal(t, http.StatusFound, rec.Code)

		rec = ts.signin(t, "alice", "alice-password")
		require.Equal(t, "/", rec.Header().Get("Location"))
		session := cookieNamed(rec, security.DefaultSessionCookie)
		require.NotNil(t, session)

		rec = ts.get("/", session)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "Signed in as alice.")

		rec = ts.postForm(PathSignout, url.Values{}, session)
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, PathSignin+"?logout", rec.Header().Get("Location"))
		cleared := cookieNamed(rec, security.DefaultSessionCookie)
		require.NotNil(t, cleared)
		require.Negative(t, cleared.MaxAge)

		require.Equal(t, http.StatusFound, ts.get("/", session).Code)
	})

	t.Run("sign up", func(t *testing.T) {
		rec := ts.get(PathSignup)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = ts.postForm(PathSignup, url.Values{"username": {"carol"}, "password": {"carol-password"}})
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, PathSignin+"?param.info=signup", rec.Header().Get("Location"))

		rec = ts.postForm(PathSignup, url.Values{"username": {"carol"}, "password": {"carol-password"}})
		require.Equal(t, PathSignup+"?param.error=username_taken", rec.Header().Get("Location"))

		rec = ts.postForm(PathSignup, url.Values{"username": {"x"}, "password": {"carol-password"}})
		require.Equal(t, PathSignup+"?param.error=invalid_username", rec.Header().Get("Location"))

		rec = ts.signin(t, "carol", "carol-password")
		require.Equal(t, "/", rec.Header().Get("Location"))
	})
}

func TestAPI(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	user := ts.passwordToken(t, "alice", "alice-password").AccessToken
	admin := ts.passwordToken(t, "root", "root-password").AccessToken

	t.Run("missing token", func(t *testing.T) {
		rec := ts.get(authsdk.PathMe)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	})

	t.Run("invalid token", func(t *testing.T) {
		rec := ts.bearer(http.MethodGet, authsdk.PathMe, "forged")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, authsdk.ErrorCodeInvalidToken, decode[authsdk.ErrorResponse](t, rec).Error)
	})

	t.Run("me", func(t *testing.T) {
		rec := ts.bearer(http.MethodGet, authsdk.PathMe, user)
		require.Equal(t, http.StatusOK, rec.Code)
		me := decode[authsdk.MeResponse](t, rec)
		require.Equal(t, "alice", me.Principal)
		require.Equal(t, "batch", me.ClientID)
		require.Equal(t, []string{"read"}, me.Scope)
	})

	t.Run("clients need the admin role", func(t *testing.T) {
		rec := ts.bearer(http.MethodGet, authsdk.PathClients, user)
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Equal(t, authsdk.ErrorCodeAccessDenied, decode[authsdk.ErrorResponse](t, rec).Error)

		rec = ts.bearer(http.MethodGet, authsdk.PathClients, admin)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, decode[authsdk.ListClientsResponse](t, rec).Clients, 2)
	})

	t.Run("create and delete a client", func(t *testing.T) {
		body := `{"client_id":"reports","name":"Reports","scopes":["read"],"grant_types":["client_credentials"]}`
		req := httptest.NewRequest(http.MethodPost, authsdk.PathClients, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+admin)
		req.Header.Set("Content-Type", "application/json")
		rec := ts.do(req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		created := decode[authsdk.CreateClientResponse](t, rec)
		require.Equal(t, "reports", created.ClientID)
		require.NotEmpty(t, created.ClientSecret)

		req = httptest.NewRequest(http.MethodPost, authsdk.PathClients, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+admin)
		require.Equal(t, http.StatusConflict, ts.do(req).Code)

		rec = ts.bearer(http.MethodDelete, authsdk.PathClients+"/reports", admin)
		require.Equal(t, http.StatusNoContent, rec.Code)
		rec = ts.bearer(http.MethodDelete, authsdk.PathClients+"/reports", admin)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestBootstrapEndpoint(t *testing.T) {
	t.Parallel()

	newServer := func(t *testing.T) *testServer {
		// A fresh store so the server is not bootstrapped yet.
		ts := newTestServer(t)
		fresh := memory.NewStore()
		ts.router.BootstrapService.Store = fresh
		return ts
	}
	post := func(ts *testServer, token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, authsdk.PathBootstrap, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("X-Bootstrap-Token", token)
		}
		return ts.do(req)
	}
	body := `{"admin_username":"admin","admin_password":"admin-password","client_id":"ops","client_scopes":["read"]}`

	t.Run("requires the token", func(t *testing.T) {
		ts := newServer(t)
		require.Equal(t, http.StatusUnauthorized, post(ts, "", body).Code)
		require.Equal(t, http.StatusUnauthorized, post(ts, "wrong", body).Code)
	})

	t.Run("only once", func(t *testing.T) {
		ts := newServer(t)
		rec := post(ts, bootstrapToken, body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		res := decode[authsdk.BootstrapResponse](t, rec)
		require.Equal(t, "ops", res.ClientID)
		require.NotEmpty(t, res.ClientSecret)

		require.Equal(t, http.StatusUnauthorized, post(ts, bootstrapToken, body).Code)
	})

	t.Run("disabled without a token", func(t *testing.T) {
		ts := newServer(t)
		ts.router.BootstrapService.Token = ""
		require.Equal(t, http.StatusNotFound, post(ts, bootstrapToken, body).Code)
	})
}

func TestHealth(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.get("/livez")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decode[authsdk.HealthResponse](t, rec).Status)

	rec = ts.get("/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[authsdk.HealthResponse](t, rec)
	require.NotNil(t, health.Checks)
	require.Equal(t, "ok", health.Checks.Store)
	require.Equal(t, "inherit", health.Checks.TokenStore)
	require.Empty(t, health.Checks.Signer)

	require.Equal(t, http.StatusNotFound, ts.get(authsdk.PathJWKS).Code, "opaque tokens publish no keys")
}
