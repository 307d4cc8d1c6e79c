package domain

import "slices"

// OAuth2Request is the client half of a stored authentication: who asked,
// for what, and through which grant.
type OAuth2Request struct {
	ClientID    string   `json:"client_id"`
	Scopes      []string `json:"scope"`
	GrantType   string   `json:"grant_type"`
	RedirectURI string   `json:"redirect_uri,omitempty"`
	ResourceIDs []string `json:"resource_ids,omitempty"`
	Authorities []string `json:"authorities,omitempty"`
}

// UserAuthentication is the resource owner half.
type UserAuthentication struct {
	Username    string   `json:"username"`
	Authorities []string `json:"authorities,omitempty"`
}

// OAuth2Authentication is what a token or code stands for.
type OAuth2Authentication struct {
	Request OAuth2Request       `json:"request"`
	User    *UserAuthentication `json:"user,omitempty"`
}

// IsClientOnly is true when no resource owner took part.
func (a OAuth2Authentication) IsClientOnly() bool {
	return a.User == nil
}

// Principal is the user name or, for client-only grants, the client id.
func (a OAuth2Authentication) Principal() string {
	if a.User != nil {
		return a.User.Username
	}
	return a.Request.ClientID
}

// Authorities are the user's authorities, or the client's when client-only.
func (a OAuth2Authentication) Authorities() []string {
	if a.User != nil {
		return a.User.Authorities
	}
	return a.Request.Authorities
}

// WithScopes returns a copy narrowed to scopes.
func (a OAuth2Authentication) WithScopes(scopes []string) OAuth2Authentication {
	out := a
	out.Request.Scopes = slices.Clone(scopes)
	return out
}
