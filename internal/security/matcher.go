package security

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// RequestMatcher decides whether a rule or chain applies to a request.
// Implementations must be deterministic and free of side effects.
type RequestMatcher interface {
	Matches(r *http.Request) bool
}

// RequestMatcherFunc adapts a function to RequestMatcher.
type RequestMatcherFunc func(r *http.Request) bool

func (f RequestMatcherFunc) Matches(r *http.Request) bool { return f(r) }

type anyRequest struct{}

func (anyRequest) Matches(*http.Request) bool { return true }
func (anyRequest) String() string             { return "any request" }

// AnyRequest matches every request.
func AnyRequest() RequestMatcher { return anyRequest{} }

// antMatcher matches the request path against an Ant style pattern:
// "?" is one character, "*" is anything inside a segment and "**" spans
// segments.
type antMatcher struct {
	pattern string
	g       glob.Glob
	// base is the pattern without a trailing "/**", which matches too.
	base    string
	methods []string
}

// AntMatcher compiles an Ant style path pattern restricted to methods.
// No methods means any method.
func AntMatcher(pattern string, methods ...string) (RequestMatcher, error) {
	if pattern == "" || pattern[0] != '/' {
		return nil, fmt.Errorf("%w: pattern %q must start with /", ErrConfiguration, pattern)
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %w", ErrConfiguration, pattern, err)
	}
	m := &antMatcher{pattern: pattern, g: g}
	if base, ok := strings.CutSuffix(pattern, "/**"); ok {
		m.base = base
		if m.base == "" {
			m.base = "/"
		}
	}
	for _, method := range methods {
		m.methods = append(m.methods, strings.ToUpper(method))
	}
	return m, nil
}

// MustAntMatcher is AntMatcher for static patterns.
func MustAntMatcher(pattern string, methods ...string) RequestMatcher {
	m, err := AntMatcher(pattern, methods...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *antMatcher) Matches(r *http.Request) bool {
	if len(m.methods) > 0 && !slices.Contains(m.methods, r.Method) {
		return false
	}
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if m.base != "" && path == m.base {
		return true
	}
	return m.g.Match(path)
}

func (m *antMatcher) String() string {
	if len(m.methods) == 0 {
		return m.pattern
	}
	return strings.Join(m.methods, ",") + " " + m.pattern
}

// MethodMatcher matches on the request method only.
func MethodMatcher(methods ...string) RequestMatcher {
	upper := make([]string, 0, len(methods))
	for _, method := range methods {
		upper = append(upper, strings.ToUpper(method))
	}
	return RequestMatcherFunc(func(r *http.Request) bool {
		return slices.Contains(upper, r.Method)
	})
}

type orMatcher []RequestMatcher

func (o orMatcher) Matches(r *http.Request) bool {
	for _, m := range o {
		if m.Matches(r) {
			return true
		}
	}
	return false
}

// OrMatcher matches when any of ms does.
func OrMatcher(ms ...RequestMatcher) RequestMatcher {
	if len(ms) == 1 {
		return ms[0]
	}
	return orMatcher(ms)
}

// IsAnyRequest reports whether m matches every request by construction.
func IsAnyRequest(m RequestMatcher) bool {
	switch v := m.(type) {
	case anyRequest:
		return true
	case *antMatcher:
		return v.pattern == "/**" && len(v.methods) == 0
	case orMatcher:
		return slices.ContainsFunc(v, IsAnyRequest)
	default:
		return false
	}
}

// AntMatchers compiles several patterns sharing the same methods.
func AntMatchers(patterns []string, methods ...string) ([]RequestMatcher, error) {
	out := make([]RequestMatcher, 0, len(patterns))
	for _, p := range patterns {
		m, err := AntMatcher(p, methods...)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
