package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/auth/store"
	"github.com/aussiebroadwan/bastion/internal/security"
	"github.com/aussiebroadwan/bastion/pkg/cryptox"
)

// RoleClient is given to every authenticated OAuth2 client.
const RoleClient = security.RolePrefix + "CLIENT"

// DefaultResourceID is the resource id of the server's own API.
const DefaultResourceID = "oauth2-resource"

// UserDetailsService loads users from the store for the users manager.
type UserDetailsService struct {
	Users store.Users
}

func (s *UserDetailsService) LoadUserByUsername(ctx context.Context, username string) (*security.UserDetails, error) {
	u, err := s.Users.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, security.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	details := &security.UserDetails{
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Authorities:  u.Authorities,
		Enabled:      u.Enabled,
		Locked:       u.Locked,
	}
	if u.MFASecret != nil {
		details.OTPSecret = *u.MFASecret
	}
	return details, nil
}

// ClientDetailsService loads registered clients.
type ClientDetailsService struct {
	Clients store.Clients
}

// LoadClientByClientID maps unknown clients to ErrInvalidClient.
func (s *ClientDetailsService) LoadClientByClientID(ctx context.Context, clientID string) (domain.Client, error) {
	c, err := s.Clients.GetClientByID(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Client{}, grantError(ErrInvalidClient, "unknown client")
	}
	return c, err
}

// ClientUserDetailsService presents clients as principals so the standard
// username/password provider can authenticate them.
type ClientUserDetailsService struct {
	Clients store.Clients
}

func (s *ClientUserDetailsService) LoadUserByUsername(ctx context.Context, clientID string) (*security.UserDetails, error) {
	c, err := s.Clients.GetClientByID(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, security.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	authorities := []string{RoleClient}
	for _, a := range c.Authorities {
		if !slices.Contains(authorities, a) {
			authorities = append(authorities, a)
		}
	}
	return &security.UserDetails{
		Username:     c.ID,
		PasswordHash: c.SecretHash,
		Authorities:  authorities,
		Enabled:      true,
	}, nil
}

// ClientSecretEncoder verifies client secrets. Public clients have no
// secret hash and authenticate with an empty secret.
type ClientSecretEncoder struct{}

func (ClientSecretEncoder) Encode(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	return cryptox.HashPassword(raw)
}

func (ClientSecretEncoder) Matches(raw, encoded string) bool {
	if encoded == "" {
		return raw == ""
	}
	return raw != "" && cryptox.VerifyPassword(raw, encoded) == nil
}

// ClientAuthenticationProvider authenticates clients by id and secret.
type ClientAuthenticationProvider struct {
	dao *security.DaoAuthenticationProvider
}

func NewClientAuthenticationProvider(clients store.Clients) *ClientAuthenticationProvider {
	return &ClientAuthenticationProvider{dao: &security.DaoAuthenticationProvider{
		Users:   &ClientUserDetailsService{Clients: clients},
		Encoder: ClientSecretEncoder{},
	}}
}

func (p *ClientAuthenticationProvider) Supports(creds security.Credentials) bool {
	return p.dao.Supports(creds)
}

func (p *ClientAuthenticationProvider) Authenticate(ctx context.Context, creds security.Credentials) (*security.Authentication, error) {
	auth, err := p.dao.Authenticate(ctx, creds)
	if err != nil || auth == nil {
		return auth, err
	}
	auth.ClientID = auth.Principal
	return auth, nil
}

// OAuth2AuthenticationProvider authenticates bearer access tokens for one
// resource server.
type OAuth2AuthenticationProvider struct {
	Tokens *TokenServices
	// ResourceID rejects tokens whose client is restricted to other
	// resources. Empty accepts every token.
	ResourceID string
}

func (p *OAuth2AuthenticationProvider) Supports(creds security.Credentials) bool {
	_, ok := creds.(security.BearerTokenCredentials)
	return ok
}

func (p *OAuth2AuthenticationProvider) Authenticate(ctx context.Context, creds security.Credentials) (*security.Authentication, error) {
	bearer, ok := creds.(security.BearerTokenCredentials)
	if !ok {
		return nil, nil
	}

	auth, err := p.Tokens.LoadAuthentication(ctx, bearer.Token)
	if errors.Is(err, ErrInvalidToken) {
		return nil, fmt.Errorf("%w: %w", security.ErrInvalidToken, err)
	}
	if err != nil {
		return nil, err
	}

	resources := auth.Request.ResourceIDs
	if p.ResourceID != "" && len(resources) > 0 && !slices.Contains(resources, p.ResourceID) {
		return nil, fmt.Errorf("%w: token is not valid for resource %q", security.ErrInvalidToken, p.ResourceID)
	}

	return &security.Authentication{
		Principal:   auth.Principal(),
		Authorities: slices.Clone(auth.Authorities()),
		State:       security.StateFull,
		ClientID:    auth.Request.ClientID,
		Scopes:      slices.Clone(auth.Request.Scopes),
		Details: map[string]string{
			"grant_type": auth.Request.GrantType,
			"token_type": domain.TokenTypeBearer,
		},
	}, nil
}
