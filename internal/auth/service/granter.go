package service

import (
	"context"
	"slices"
	"strings"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
)

// GrantType is an OAuth2 grant_type value.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantImplicit          GrantType = "implicit"
	GrantClientCredentials GrantType = "client_credentials"
	GrantPassword          GrantType = "password"
)

var grantTypes = []GrantType{
	GrantAuthorizationCode,
	GrantRefreshToken,
	GrantImplicit,
	GrantClientCredentials,
	GrantPassword,
}

func ParseGrantType(s string) (GrantType, error) {
	gt := GrantType(strings.TrimSpace(s))
	if !slices.Contains(grantTypes, gt) {
		return "", grantError(ErrUnsupportedGrantType, "unsupported grant type %q", s)
	}
	return gt, nil
}

func (g GrantType) String() string { return string(g) }

// TokenRequest holds the token endpoint parameters. Only the fields of the
// requested grant are read.
type TokenRequest struct {
	GrantType GrantType
	ClientID  string
	// Scopes empty means the client's registered scopes, or the original
	// scopes when refreshing.
	Scopes []string

	// authorization_code
	Code         string
	RedirectURI  string
	CodeVerifier string

	// refresh_token
	RefreshToken string

	// password
	Username string
	Password string
	OTP      string

	// User is the resource owner already authenticated by the caller. The
	// implicit grant requires it.
	User *domain.UserAuthentication
}

// TokenGranter issues tokens for one grant type.
type TokenGranter interface {
	GrantType() GrantType
	Grant(ctx context.Context, req TokenRequest, client domain.Client) (domain.AccessToken, error)
}

// CompositeGranter dispatches to the first registered granter for a grant type.
type CompositeGranter struct {
	granters []TokenGranter
}

func NewCompositeGranter(granters ...TokenGranter) *CompositeGranter {
	return &CompositeGranter{granters: granters}
}

// Add registers g after the existing granters.
func (c *CompositeGranter) Add(g TokenGranter) {
	c.granters = append(c.granters, g)
}

// Supports reports whether a granter is registered for grantType.
func (c *CompositeGranter) Supports(grantType GrantType) bool {
	return slices.ContainsFunc(c.granters, func(g TokenGranter) bool {
		return g.GrantType() == grantType
	})
}

func (c *CompositeGranter) Grant(ctx context.Context, grantType GrantType, req TokenRequest, client domain.Client) (domain.AccessToken, error) {
	for _, g := range c.granters {
		if g.GrantType() != grantType {
			continue
		}
		if req.ClientID != "" && req.ClientID != client.ID {
			return domain.AccessToken{}, grantError(ErrInvalidClient, "client id does not match the authenticated client")
		}
		if !client.AllowsGrantType(string(grantType)) {
			return domain.AccessToken{}, grantError(ErrInvalidGrant, "client is not allowed the %s grant", grantType)
		}
		if !client.AllowsScopes(req.Scopes) {
			return domain.AccessToken{}, grantError(ErrInvalidScope, "invalid scope: %s", strings.Join(req.Scopes, " "))
		}
		req.GrantType = grantType
		return g.Grant(ctx, req, client)
	}
	return domain.AccessToken{}, grantError(ErrUnsupportedGrantType, "unsupported grant type: %s", grantType)
}

// newRequest describes the client side of a grant.
func newRequest(client domain.Client, grantType GrantType, scopes []string) domain.OAuth2Request {
	if len(scopes) == 0 {
		scopes = client.Scopes
	}
	return domain.OAuth2Request{
		ClientID:    client.ID,
		Scopes:      slices.Clone(scopes),
		GrantType:   string(grantType),
		ResourceIDs: slices.Clone(client.ResourceIDs),
		Authorities: slices.Clone(client.Authorities),
	}
}

func requireParam(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return grantError(ErrInvalidRequest, "missing %s", name)
	}
	return nil
}
