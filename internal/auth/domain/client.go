package domain

import (
	"slices"
	"time"
)

// Client is a registered OAuth2 client.
type Client struct {
	ID         string // client_id, chosen at registration
	Name       string
	SecretHash string // argon2 encoded, empty for public clients
	Scopes     []string
	GrantTypes []string
	// RedirectURIs are matched exactly.
	RedirectURIs []string
	Authorities  []string
	ResourceIDs  []string

	// Zero TTLs fall back to the server defaults.
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	AutoApprove bool
	Protected   bool // If true, client cannot be deleted (e.g., bootstrap client)
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsPublic reports whether the client authenticates without a secret.
func (c *Client) IsPublic() bool {
	return c.SecretHash == ""
}

func (c *Client) AllowsGrantType(grantType string) bool {
	return slices.Contains(c.GrantTypes, grantType)
}

// AllowsScopes reports whether every requested scope is registered.
func (c *Client) AllowsScopes(requested []string) bool {
	return IsSubset(requested, c.Scopes)
}

func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// IsSubset reports whether every element of sub appears in set.
func IsSubset(sub, set []string) bool {
	for _, s := range sub {
		if !slices.Contains(set, s) {
			return false
		}
	}
	return true
}
