package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/aussiebroadwan/bastion/pkg/httpx"
	"github.com/aussiebroadwan/bastion/pkg/slogx"
)

// SessionFilter restores the authentication bound to the session cookie.
type SessionFilter struct {
	Store      SessionStore
	CookieName string
}

func (f *SessionFilter) Name() string { return "session" }

func (f *SessionFilter) ServeFilter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	c, err := r.Cookie(f.CookieName)
	if err != nil || c.Value == "" {
		next.ServeHTTP(w, r)
		return
	}

	ctx := r.Context()
	sess, err := f.Store.Get(ctx, c.Value)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		slogx.FromContext(ctx).Debug("session cookie does not resolve")
	case err != nil:
		slogx.FromContext(ctx).Warn("session lookup failed", "err", err)
	default:
		SetAuthentication(ctx, sess.Authentication)
		setSessionID(ctx, sess.ID)
	}
	next.ServeHTTP(w, r)
}

// LogoutFilter ends the session on the logout URL and redirects.
type LogoutFilter struct {
	URL               string
	SuccessURL        string
	Store             SessionStore
	InvalidateSession bool
	DeleteCookies     []string
	SecureCookies     bool
}

func (f *LogoutFilter) Name() string { return "logout" }

func (f *LogoutFilter) ServeFilter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if r.URL.Path != f.URL || (r.Method != http.MethodGet && r.Method != http.MethodPost) {
		next.ServeHTTP(w, r)
		return
	}

	ctx := r.Context()
	if id := currentSessionID(ctx); id != "" && f.InvalidateSession && f.Store != nil {
		if err := f.Store.Delete(ctx, id); err != nil {
			slogx.FromContext(ctx).Warn("failed to delete session on logout", "err", err)
		}
	}
	if auth := CurrentAuthentication(ctx); auth.IsAuthenticated() {
		slogx.FromContext(ctx).Info("logout", "principal", auth.Principal)
	}
	ClearAuthentication(ctx)
	for _, name := range f.DeleteCookies {
		expireCookie(w, name, f.SecureCookies)
	}
	http.Redirect(w, r, f.SuccessURL, http.StatusFound)
}

// ClientCredentialsFilter authenticates OAuth2 clients that send client_id
// and client_secret as request parameters.
type ClientCredentialsFilter struct {
	Paths      []string
	Manager    AuthenticationManager
	EntryPoint EntryPoint
}

func (f *ClientCredentialsFilter) Name() string { return "client_credentials" }

func (f *ClientCredentialsFilter) ServeFilter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if !slices.Contains(f.Paths, r.URL.Path) {
		next.ServeHTTP(w, r)
		return
	}
	ctx := r.Context()
	if CurrentAuthentication(ctx).IsFullyAuthenticated() {
		next.ServeHTTP(w, r)
		return
	}
	if r.Method == http.MethodPost && !httpx.IsFormRequest(r) {
		next.ServeHTTP(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		next.ServeHTTP(w, r)
		return
	}
	clientID := r.Form.Get("client_id")
	if clientID == "" {
		next.ServeHTTP(w, r)
		return
	}

	auth, err := f.Manager.Authenticate(ctx, UsernamePasswordCredentials{
		Username: clientID,
		Password: r.Form.Get("client_secret"),
	})
	if err != nil {
		logAuthenticationFailure(r, "client authentication failed", err, "client_id", clientID)
		ClearAuthentication(ctx)
		f.EntryPoint.Commence(w, r, err)
		return
	}
	SetAuthentication(ctx, auth)
	next.ServeHTTP(w, r)
}

// PreAuthenticatedFilter authenticates the principal an upstream proxy names
// in PrincipalHeader. A failed lookup leaves the request unauthenticated and
// lets the chain continue.
type PreAuthenticatedFilter struct {
	PrincipalHeader   string
	AuthoritiesHeader string
	Manager           AuthenticationManager
}

func (f *PreAuthenticatedFilter) Name() string { return "pre_authenticated" }

func (f *PreAuthenticatedFilter) ServeFilter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	principal := strings.TrimSpace(r.Header.Get(f.PrincipalHeader))
	if principal == "" {
		next.ServeHTTP(w, r)
		return
	}
	ctx := r.Context()
	if current := CurrentAuthentication(ctx); current.IsFullyAuthenticated() && current.Principal == principal {
		next.ServeHTTP(w, r)
		return
	}

	creds := PreAuthenticatedCredentials{Principal: principal}
	if f.AuthoritiesHeader != "" {
		for _, a := range strings.Split(r.Header.Get(f.AuthoritiesHeader), ",") {
			if a = strings.TrimSpace(a); a != "" {
				creds.Authorities = append(creds.Authorities, a)
			}
		}
	}
	auth, err := f.Manager.Authenticate(ctx, creds)
	if err != nil {
		logAuthenticationFailure(r, "pre-authentication failed", err, "principal", principal)
		ClearAuthentication(ctx)
		next.ServeHTTP(w, r)
		return
	}
	SetAuthentication(ctx, auth)
	next.ServeHTTP(w, r)
}

// FormLoginFilter processes the login form. Success binds the
// authentication to a fresh session.
type FormLoginFilter struct {
	ProcessingURL              string
	DefaultSuccessURL          string
	AlwaysUseDefaultSuccessURL bool
	FailureURL                 string
	UsernameParameter          string
	PasswordParameter          string
	OTPParameter               string

	Manager       AuthenticationManager
	Store         SessionStore
	CookieName    string
	SecureCookies bool
}

func (f *FormLoginFilter) Name() string { return "form_login" }

func (f *FormLoginFilter) ServeFilter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if r.Method != http.MethodPost || r.URL.Path != f.ProcessingURL {
		next.ServeHTTP(w, r)
		return
	}

	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, f.FailureURL, http.StatusFound)
		return
	}
	username := strings.TrimSpace(r.PostForm.Get(f.UsernameParameter))
	auth, err := f.Manager.Authenticate(ctx, UsernamePasswordCredentials{
		Username: username,
		Password: r.PostForm.Get(f.PasswordParameter),
		OTP:      strings.TrimSpace(r.PostForm.Get(f.OTPParameter)),
	})
	if err != nil {
		logAuthenticationFailure(r, "form login failed", err, "username", username)
		ClearAuthentication(ctx)
		http.Redirect(w, r, f.FailureURL, http.StatusFound)
		return
	}

	// A new session id on every login defeats session fixation.
	if old := currentSessionID(ctx); old != "" {
		_ = f.Store.Delete(ctx, old)
	}
	sess, err := f.Store.Create(ctx, auth)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to create session", "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	SetAuthentication(ctx, auth)
	setSessionID(ctx, sess.ID)
	http.SetCookie(w, sessionCookie(f.CookieName, sess.ID, f.SecureCookies, 0))

	target := f.DefaultSuccessURL
	if saved := savedRequest(r); saved != "" {
		if !f.AlwaysUseDefaultSuccessURL {
			target = saved
		}
		expireCookie(w, SavedRequestCookie, f.SecureCookies)
	}
	slogx.FromContext(ctx).Info("form login succeeded", "principal", auth.Principal, "state", auth.State.String())
	http.Redirect(w, r, target, http.StatusFound)
}

// BasicAuthenticationFilter authenticates the Authorization: Basic header.
type BasicAuthenticationFilter struct {
	Manager    AuthenticationManager
	EntryPoint EntryPoint
	// FormEncoded decodes the id and secret as application/x-www-form-urlencoded,
	// as OAuth2 client authentication requires.
	FormEncoded bool
}

func (f *BasicAuthenticationFilter) Name() string { return "http_basic" }

func (f *BasicAuthenticationFilter) ServeFilter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	header := r.Header.Get("Authorization")
	if len(header) < 6 || !strings.EqualFold(header[:6], "basic ") {
		next.ServeHTTP(w, r)
		return
	}

	ctx := r.Context()
	username, password, ok := r.BasicAuth()
	if !ok {
		ClearAuthentication(ctx)
		f.EntryPoint.Commence(w, r, fmt.Errorf("%w: malformed basic authentication header", ErrBadCredentials))
		return
	}
	if f.FormEncoded {
		username = formDecode(username)
		password = formDecode(password)
	}

	if current := CurrentAuthentication(ctx); current.IsFullyAuthenticated() && current.Principal == username {
		next.ServeHTTP(w, r)
		return
	}

	auth, err := f.Manager.Authenticate(ctx, UsernamePasswordCredentials{Username: username, Password: password})
	if err != nil {
		logAuthenticationFailure(r, "basic authentication failed", err, "username", username)
		ClearAuthentication(ctx)
		f.EntryPoint.Commence(w, r, err)
		return
	}
	SetAuthentication(ctx, auth)
	next.ServeHTTP(w, r)
}

func formDecode(s string) string {
	if decoded, err := url.QueryUnescape(s); err == nil {
		return decoded
	}
	return s
}

// BearerTokenFilter authenticates OAuth2 access tokens.
type BearerTokenFilter struct {
	Manager    AuthenticationManager
	EntryPoint EntryPoint
	// AllowQueryParameter accepts the access_token request parameter.
	AllowQueryParameter bool
}

func (f *BearerTokenFilter) Name() string { return "bearer_token" }

func (f *BearerTokenFilter) ServeFilter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	token := f.extract(r)
	if token == "" {
		next.ServeHTTP(w, r)
		return
	}

	ctx := r.Context()
	auth, err := f.Manager.Authenticate(ctx, BearerTokenCredentials{Token: token})
	if err != nil {
		logAuthenticationFailure(r, "bearer authentication failed", err)
		ClearAuthentication(ctx)
		f.EntryPoint.Commence(w, r, err)
		return
	}
	SetAuthentication(ctx, auth)
	next.ServeHTTP(w, r)
}

func (f *BearerTokenFilter) extract(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	if !f.AllowQueryParameter {
		return ""
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token
	}
	if r.Method == http.MethodPost && httpx.IsFormRequest(r) {
		return r.PostFormValue("access_token")
	}
	return ""
}

// AnonymousFilter gives unauthenticated requests an anonymous identity so
// access rules can address them.
type AnonymousFilter struct {
	Principal   string
	Authorities []string
}

func (f *AnonymousFilter) Name() string { return "anonymous" }

func (f *AnonymousFilter) ServeFilter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if CurrentAuthentication(r.Context()) == nil {
		SetAuthentication(r.Context(), NewAnonymous(f.Principal, f.Authorities...))
	}
	next.ServeHTTP(w, r)
}

// AuthorizationFilter enforces the chain's URL mappings.
type AuthorizationFilter struct {
	Registry      *Registry
	Decision      AccessDecisionManager
	EntryPoint    EntryPoint
	DeniedHandler AccessDeniedHandler
}

func (f *AuthorizationFilter) Name() string { return "authorization" }

func (f *AuthorizationFilter) ServeFilter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	auth := CurrentAuthentication(ctx)
	attrs := f.Registry.Resolve(r)

	err := f.Decision.Decide(auth, r, attrs)
	if err == nil {
		next.ServeHTTP(w, r)
		return
	}

	log := slogx.FromContext(ctx)
	if auth.IsAnonymous() || auth.State == StatePartial {
		log.Debug("authentication required", "attributes", fmt.Sprint(attrs))
		f.EntryPoint.Commence(w, r, fmt.Errorf("%w: %w", ErrInsufficientAuthentication, err))
		return
	}
	log.Info("access denied", "principal", auth.Principal, "attributes", fmt.Sprint(attrs))
	f.DeniedHandler.Handle(w, r, err)
}

func logAuthenticationFailure(r *http.Request, msg string, err error, args ...any) {
	log := slogx.FromContext(r.Context())
	if !IsAuthenticationError(err) {
		log.Error(msg, append(args, "err", err)...)
		return
	}
	log.Info(msg, append(args, "reason", failureMessage(err))...)
}
