package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/bastion/pkg/authsdk"
)

// SavedRequestCookie remembers where an unauthenticated browser was headed.
const SavedRequestCookie = "BASTION_SAVED_REQUEST"

// EntryPoint starts authentication for a request that needs it.
type EntryPoint interface {
	Commence(w http.ResponseWriter, r *http.Request, cause error)
}

// EntryPointFunc adapts a function to EntryPoint.
type EntryPointFunc func(w http.ResponseWriter, r *http.Request, cause error)

func (f EntryPointFunc) Commence(w http.ResponseWriter, r *http.Request, cause error) {
	f(w, r, cause)
}

// LoginURLEntryPoint redirects browsers to the login page. GET requests are
// remembered so a successful login can return to them.
type LoginURLEntryPoint struct {
	LoginPage     string
	SecureCookies bool
}

func (e LoginURLEntryPoint) Commence(w http.ResponseWriter, r *http.Request, _ error) {
	if r.Method == http.MethodGet && r.URL.Path != e.LoginPage {
		http.SetCookie(w, &http.Cookie{
			Name:     SavedRequestCookie,
			Value:    url.QueryEscape(r.URL.RequestURI()),
			Path:     "/",
			HttpOnly: true,
			Secure:   e.SecureCookies,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   300,
		})
	}
	http.Redirect(w, r, e.LoginPage, http.StatusFound)
}

// savedRequest returns the remembered local URI, if any.
func savedRequest(r *http.Request) string {
	c, err := r.Cookie(SavedRequestCookie)
	if err != nil {
		return ""
	}
	uri, err := url.QueryUnescape(c.Value)
	if err != nil || !isLocalURI(uri) {
		return ""
	}
	return uri
}

func isLocalURI(uri string) bool {
	return strings.HasPrefix(uri, "/") && !strings.HasPrefix(uri, "//") && !strings.HasPrefix(uri, "/\\")
}

// BasicEntryPoint challenges for HTTP Basic credentials.
type BasicEntryPoint struct {
	Realm string
	// Error is the JSON body; nil means unauthorized.
	Error *authsdk.OAuth2Error
}

func (e BasicEntryPoint) Commence(w http.ResponseWriter, _ *http.Request, cause error) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", e.Realm))
	body := *authsdk.ErrUnauthorized
	if e.Error != nil {
		body = *e.Error
	}
	body.Description = describe(cause)
	body.StatusCode = http.StatusUnauthorized
	body.WriteError(w)
}

// BearerEntryPoint challenges for an OAuth2 access token.
type BearerEntryPoint struct {
	Realm string
}

func (e BearerEntryPoint) Commence(w http.ResponseWriter, _ *http.Request, cause error) {
	challenge := fmt.Sprintf("Bearer realm=%q", e.Realm)
	body := authsdk.ErrUnauthorized.WithDescription(describe(cause))
	if errors.Is(cause, ErrInvalidToken) || errors.Is(cause, ErrBadCredentials) {
		body = authsdk.ErrInvalidToken.WithDescription(describe(cause))
		challenge += fmt.Sprintf(", error=%q, error_description=%q", body.Code, body.Description)
	}
	w.Header().Set("WWW-Authenticate", challenge)
	body.WriteError(w)
}

// ForbiddenEntryPoint rejects without a challenge.
type ForbiddenEntryPoint struct{}

func (ForbiddenEntryPoint) Commence(w http.ResponseWriter, _ *http.Request, _ error) {
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

// AccessDeniedHandler answers an authenticated principal that lacks access.
type AccessDeniedHandler interface {
	Handle(w http.ResponseWriter, r *http.Request, cause error)
}

// StatusAccessDeniedHandler writes a bare 403.
type StatusAccessDeniedHandler struct{}

func (StatusAccessDeniedHandler) Handle(w http.ResponseWriter, _ *http.Request, _ error) {
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

// OAuth2AccessDeniedHandler writes an access_denied JSON body.
type OAuth2AccessDeniedHandler struct{}

func (OAuth2AccessDeniedHandler) Handle(w http.ResponseWriter, _ *http.Request, _ error) {
	authsdk.ErrAccessDenied.WithDescription("Access is denied").WriteError(w)
}

// describe renders an error for clients without leaking internals.
func describe(cause error) string {
	switch {
	case cause == nil:
		return "Full authentication is required to access this resource"
	case errors.Is(cause, ErrInvalidToken):
		return "Invalid access token"
	case errors.Is(cause, ErrInsufficientAuthentication):
		return "Full authentication is required to access this resource"
	case errors.Is(cause, ErrAccountStatus):
		return "Account is not usable"
	case IsAuthenticationError(cause):
		return "Bad credentials"
	default:
		return "Authentication failed"
	}
}
