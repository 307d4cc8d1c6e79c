package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token lifetimes for the OAuth2 flows. Clients may override both.
const (
	DefaultAccessTokenTTL  = 12 * time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Claims are the access token claims written by the authorization server
// and read back by resource servers. Field names follow the claims used by
// common OAuth2 resource servers so tokens stay readable by them.
type Claims struct {
	jwt.RegisteredClaims

	// ClientID is the OAuth2 client the token was issued to.
	ClientID string `json:"client_id"`

	// Username of the resource owner. Empty for client_credentials tokens.
	Username string `json:"user_name,omitempty"`

	// Scope granted to the token, e.g. ["read", "write"].
	Scope []string `json:"scope,omitempty"`

	// Authorities granted to the principal ("ROLE_USER").
	Authorities []string `json:"authorities,omitempty"`

	// GrantType records how the token was obtained.
	GrantType string `json:"grant_type,omitempty"`
}

// AccessClaimsParams holds the inputs for NewAccessClaims.
type AccessClaimsParams struct {
	Issuer      string
	Subject     string
	Audience    []string
	ClientID    string
	Username    string
	Scope       []string
	Authorities []string
	GrantType   string
	TTL         time.Duration
	Now         time.Time
}

// NewAccessClaims builds minimally-correct access token claims.
func NewAccessClaims(p AccessClaimsParams) Claims {
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.Issuer,
			Subject:   p.Subject,
			Audience:  jwt.ClaimStrings(p.Audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		ClientID:    p.ClientID,
		Username:    p.Username,
		Scope:       p.Scope,
		Authorities: p.Authorities,
		GrantType:   p.GrantType,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't before nbf.
func (c *Claims) ValidateExpiry() error {
	return c.ValidateExpiryWithLeeway(0)
}

// ValidateExpiryWithLeeway adds a small grace period for clock skew.
func (c *Claims) ValidateExpiryWithLeeway(leeway time.Duration) error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}
	return nil
}
