package security

import (
	"context"
	"net/http"
	"sync"
)

type holderKey struct{}

// holder is the per-request security context. Filters replace the
// authentication as the request moves down the chain.
type holder struct {
	mu        sync.RWMutex
	auth      *Authentication
	sessionID string
}

// WithAuthentication returns a context carrying a fresh holder that starts
// with auth. The proxy installs one per request.
func WithAuthentication(ctx context.Context, auth *Authentication) context.Context {
	return context.WithValue(ctx, holderKey{}, &holder{auth: auth})
}

func holderFrom(ctx context.Context) *holder {
	h, _ := ctx.Value(holderKey{}).(*holder)
	return h
}

// CurrentAuthentication returns the authentication of the request or nil.
func CurrentAuthentication(ctx context.Context) *Authentication {
	h := holderFrom(ctx)
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.auth
}

// SetAuthentication replaces the authentication of the request. It reports
// false when the context has no holder.
func SetAuthentication(ctx context.Context, auth *Authentication) bool {
	h := holderFrom(ctx)
	if h == nil {
		return false
	}
	h.mu.Lock()
	h.auth = auth
	h.mu.Unlock()
	return true
}

// ClearAuthentication drops the authentication and the session binding.
func ClearAuthentication(ctx context.Context) {
	h := holderFrom(ctx)
	if h == nil {
		return
	}
	h.mu.Lock()
	h.auth = nil
	h.sessionID = ""
	h.mu.Unlock()
}

func currentSessionID(ctx context.Context) string {
	h := holderFrom(ctx)
	if h == nil {
		return ""
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessionID
}

func setSessionID(ctx context.Context, id string) {
	if h := holderFrom(ctx); h != nil {
		h.mu.Lock()
		h.sessionID = id
		h.mu.Unlock()
	}
}

// PrincipalKeyExtractor keys rate limits by the authenticated principal.
// Anonymous requests yield "".
func PrincipalKeyExtractor(r *http.Request) string {
	auth := CurrentAuthentication(r.Context())
	if auth.IsAnonymous() {
		return ""
	}
	return "principal:" + auth.Principal
}
