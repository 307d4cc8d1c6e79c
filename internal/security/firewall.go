package security

import (
	"fmt"
	"net/http"
	"strings"
)

// Firewall rejects requests before any chain sees them.
type Firewall interface {
	Check(r *http.Request) error
}

// StrictFirewall rejects paths that could match a rule differently from how
// the handler interprets them.
type StrictFirewall struct{}

var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodOptions: true,
}

var forbiddenEncoded = []string{";", "%3b", "%2f", "%5c", "%2e", "%25", "\\"}

func (StrictFirewall) Check(r *http.Request) error {
	if !allowedMethods[r.Method] {
		return fmt.Errorf("%w: method %q", ErrRequestRejected, r.Method)
	}

	raw := strings.ToLower(r.URL.EscapedPath())
	if r.RequestURI != "" {
		raw = strings.ToLower(r.RequestURI)
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			raw = raw[:i]
		}
	}
	for _, s := range forbiddenEncoded {
		if strings.Contains(raw, s) {
			return fmt.Errorf("%w: path contains %q", ErrRequestRejected, s)
		}
	}

	path := r.URL.Path
	if strings.Contains(path, "//") {
		return fmt.Errorf("%w: empty path segment", ErrRequestRejected)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "." || seg == ".." {
			return fmt.Errorf("%w: path is not normalized", ErrRequestRejected)
		}
	}
	for _, c := range path {
		if c < 0x20 || c == 0x7f {
			return fmt.Errorf("%w: control character in path", ErrRequestRejected)
		}
	}
	return nil
}
