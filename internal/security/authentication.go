package security

import (
	"slices"
	"strings"
)

const (
	// RolePrefix marks authorities that represent roles.
	RolePrefix = "ROLE_"

	RoleAnonymous = RolePrefix + "ANONYMOUS"

	AnonymousPrincipal = "anonymousUser"
)

// State describes how strongly a principal has been authenticated.
type State int

const (
	StateAnonymous State = iota
	// StatePartial is a principal that passed the first factor only.
	StatePartial
	StateFull
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StatePartial:
		return "partial"
	case StateFull:
		return "full"
	default:
		return "unknown"
	}
}

// Authentication is an established identity.
type Authentication struct {
	Principal   string
	Authorities []string
	State       State

	// ClientID and Scopes are set for identities carried by an OAuth2 token
	// or established by client authentication.
	ClientID string
	Scopes   []string

	Details map[string]string
}

// NewAnonymous returns the identity installed for requests that carry no credentials.
func NewAnonymous(principal string, authorities ...string) *Authentication {
	if principal == "" {
		principal = AnonymousPrincipal
	}
	if len(authorities) == 0 {
		authorities = []string{RoleAnonymous}
	}
	return &Authentication{Principal: principal, Authorities: authorities, State: StateAnonymous}
}

// IsAnonymous is true for nil and anonymous authentications.
func (a *Authentication) IsAnonymous() bool {
	return a == nil || a.State == StateAnonymous
}

// IsAuthenticated is true for any non-anonymous identity.
func (a *Authentication) IsAuthenticated() bool {
	return !a.IsAnonymous()
}

func (a *Authentication) IsFullyAuthenticated() bool {
	return a != nil && a.State == StateFull
}

func (a *Authentication) HasAuthority(authority string) bool {
	return a != nil && slices.Contains(a.Authorities, authority)
}

// HasRole accepts the role with or without the ROLE_ prefix.
func (a *Authentication) HasRole(role string) bool {
	if !strings.HasPrefix(role, RolePrefix) {
		role = RolePrefix + role
	}
	return a.HasAuthority(role)
}

func (a *Authentication) HasScope(scope string) bool {
	return a != nil && slices.Contains(a.Scopes, scope)
}

// IsClientOnly is true when the identity is an OAuth2 client acting for itself.
func (a *Authentication) IsClientOnly() bool {
	return a != nil && a.ClientID != "" && a.Principal == a.ClientID
}

// Detail returns a detail value or "".
func (a *Authentication) Detail(key string) string {
	if a == nil || a.Details == nil {
		return ""
	}
	return a.Details[key]
}

// Clone returns a deep copy.
func (a *Authentication) Clone() *Authentication {
	if a == nil {
		return nil
	}
	c := *a
	c.Authorities = slices.Clone(a.Authorities)
	c.Scopes = slices.Clone(a.Scopes)
	if a.Details != nil {
		c.Details = make(map[string]string, len(a.Details))
		for k, v := range a.Details {
			c.Details[k] = v
		}
	}
	return &c
}

// Credentials are the inputs an AuthenticationProvider can verify.
type Credentials interface {
	credentials()
}

// UsernamePasswordCredentials are used for users and for client authentication.
type UsernamePasswordCredentials struct {
	Username string
	Password string
	OTP      string
}

// BearerTokenCredentials carry a raw OAuth2 access token.
type BearerTokenCredentials struct {
	Token string
}

// PreAuthenticatedCredentials carry an identity asserted by a trusted upstream.
type PreAuthenticatedCredentials struct {
	Principal   string
	Authorities []string
}

func (UsernamePasswordCredentials) credentials() {}
func (BearerTokenCredentials) credentials()      {}
func (PreAuthenticatedCredentials) credentials() {}
