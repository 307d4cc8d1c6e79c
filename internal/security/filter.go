package security

import (
	"net/http"

	"github.com/aussiebroadwan/bastion/pkg/httpx"
)

// Filter is one step of a security filter chain. A filter either calls next
// or writes a response and stops the chain.
type Filter interface {
	Name() string
	ServeFilter(w http.ResponseWriter, r *http.Request, next http.Handler)
}

// FilterFunc adapts a function to Filter.
type FilterFunc struct {
	FilterName string
	Fn         func(w http.ResponseWriter, r *http.Request, next http.Handler)
}

func (f FilterFunc) Name() string { return f.FilterName }

func (f FilterFunc) ServeFilter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	f.Fn(w, r, next)
}

// SecurityFilterChain is an ordered list of filters guarding the requests
// its matcher accepts.
type SecurityFilterChain struct {
	Name    string
	Matcher RequestMatcher
	Filters []Filter
	// Registry is the authorization registry of the chain, if any.
	Registry *Registry
}

// Matches reports whether the chain applies to r.
func (c *SecurityFilterChain) Matches(r *http.Request) bool {
	return c.Matcher.Matches(r)
}

// FilterNames lists the filters in execution order.
func (c *SecurityFilterChain) FilterNames() []string {
	names := make([]string, 0, len(c.Filters))
	for _, f := range c.Filters {
		names = append(names, f.Name())
	}
	return names
}

// Then wraps final with the chain's filters, first filter outermost.
func (c *SecurityFilterChain) Then(final http.Handler) http.Handler {
	mws := make([]httpx.Middleware, 0, len(c.Filters))
	for _, f := range c.Filters {
		mws = append(mws, filterMiddleware(f))
	}
	return httpx.Chain(final, mws...)
}

func filterMiddleware(f Filter) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			f.ServeFilter(w, r, next)
		})
	}
}
