package security

import (
	"fmt"
	"net/http"
	"strings"
)

// Attribute names understood by AuthenticatedVoter.
const (
	AttrFullyAuthenticated     = "IS_AUTHENTICATED_FULLY"
	AttrAuthenticated          = "IS_AUTHENTICATED"
	AttrAuthenticatedAnonymous = "IS_AUTHENTICATED_ANONYMOUSLY"
)

// ConfigAttribute is one access requirement of a URL mapping. Exactly one of
// Attribute and Expression is set.
type ConfigAttribute struct {
	Attribute  string
	Expression *Expression
}

func (c ConfigAttribute) String() string {
	if c.Expression != nil {
		return c.Expression.String()
	}
	return c.Attribute
}

// Attribute builds a plain config attribute.
func Attribute(name string) ConfigAttribute { return ConfigAttribute{Attribute: name} }

// Access builds an expression attribute.
func Access(e *Expression) ConfigAttribute { return ConfigAttribute{Expression: e} }

// HasRole requires the role, adding the ROLE_ prefix when it is missing.
func HasRole(role string) ConfigAttribute {
	if strings.HasPrefix(role, RolePrefix) {
		return Attribute(role)
	}
	return Attribute(RolePrefix + role)
}

// HasAnyRole is granted when the principal holds one of the roles.
func HasAnyRole(roles ...string) []ConfigAttribute {
	out := make([]ConfigAttribute, 0, len(roles))
	for _, r := range roles {
		out = append(out, HasRole(r))
	}
	return out
}

// HasAuthority requires an exact authority, such as SCOPE_read.
func HasAuthority(authority string) ConfigAttribute { return Attribute(authority) }

// HasAnyAuthority is granted when the principal holds one of the authorities.
func HasAnyAuthority(authorities ...string) []ConfigAttribute {
	out := make([]ConfigAttribute, 0, len(authorities))
	for _, a := range authorities {
		out = append(out, Attribute(a))
	}
	return out
}

// Anonymous requires the anonymous role, which only anonymous requests hold.
func Anonymous() ConfigAttribute { return Attribute(RoleAnonymous) }

// PermitAll is granted to every principal, anonymous ones included.
func PermitAll() ConfigAttribute { return Attribute(AttrAuthenticatedAnonymous) }

// Authenticated rejects anonymous principals. Partial logins pass.
func Authenticated() ConfigAttribute { return Attribute(AttrAuthenticated) }

// FullyAuthenticated rejects anonymous and partial principals.
func FullyAuthenticated() ConfigAttribute { return Attribute(AttrFullyAuthenticated) }

// URLMapping binds request matchers to the attributes they require.
type URLMapping struct {
	Matchers   []RequestMatcher
	Attributes []ConfigAttribute
}

func (m URLMapping) matches(r *http.Request) bool {
	for _, matcher := range m.Matchers {
		if matcher.Matches(r) {
			return true
		}
	}
	return false
}

// Registry holds URL mappings in insertion order. The first mapping whose
// matcher accepts a request decides its attributes.
type Registry struct {
	mappings []URLMapping
	fallback []ConfigAttribute
}

// NewRegistry returns a registry whose unmatched requests require an
// authenticated principal.
func NewRegistry() *Registry {
	return &Registry{fallback: []ConfigAttribute{Authenticated()}}
}

// AddMapping appends a mapping. Earlier mappings take precedence.
func (r *Registry) AddMapping(matchers []RequestMatcher, attrs ...ConfigAttribute) error {
	if len(matchers) == 0 {
		return fmt.Errorf("%w: mapping without matchers", ErrConfiguration)
	}
	if len(attrs) == 0 {
		return fmt.Errorf("%w: mapping without attributes", ErrConfiguration)
	}
	r.mappings = append(r.mappings, URLMapping{Matchers: matchers, Attributes: attrs})
	return nil
}

// SetDefault replaces the attributes used for unmatched requests.
func (r *Registry) SetDefault(attrs ...ConfigAttribute) {
	r.fallback = attrs
}

// Resolve returns the attributes of the first matching mapping or the
// default.
func (r *Registry) Resolve(req *http.Request) []ConfigAttribute {
	for _, m := range r.mappings {
		if m.matches(req) {
			return m.Attributes
		}
	}
	return r.fallback
}

// Mappings returns the mappings in precedence order.
func (r *Registry) Mappings() []URLMapping { return r.mappings }

// BuildDecisionVoters returns the voters that understand every attribute
// the registry builders produce.
func (r *Registry) BuildDecisionVoters() []Voter {
	return []Voter{RoleVoter{}, AuthorityVoter{}, AuthenticatedVoter{}, ExpressionVoter{}}
}
