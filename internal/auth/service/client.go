package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/auth/store"
	"github.com/aussiebroadwan/bastion/pkg/cryptox"
	"github.com/aussiebroadwan/bastion/pkg/idx"
	"github.com/aussiebroadwan/bastion/pkg/slogx"
)

var (
	ErrClientNotFound  = errors.New("client not found")
	ErrClientExists    = errors.New("client already exists")
	ErrClientProtected = errors.New("client is protected and cannot be deleted")
)

// ClientRegistration describes a client to create.
type ClientRegistration struct {
	// ID is generated when empty.
	ID           string
	Name         string
	Public       bool
	Scopes       []string
	GrantTypes   []string
	RedirectURIs []string
	Authorities  []string
	ResourceIDs  []string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Protected       bool
}

type ClientService struct {
	Clients store.Clients
	// Tokens, when set, loses the tokens of deleted clients.
	Tokens store.TokenStore
}

func (r ClientRegistration) validate() error {
	if len(r.Scopes) == 0 {
		return grantError(ErrInvalidRequest, "at least one scope is required")
	}
	if len(r.GrantTypes) == 0 {
		return grantError(ErrInvalidRequest, "at least one grant type is required")
	}
	for _, gt := range r.GrantTypes {
		if _, err := ParseGrantType(gt); err != nil {
			return grantError(ErrInvalidRequest, "unknown grant type %q", gt)
		}
	}
	redirecting := slices.Contains(r.GrantTypes, string(GrantAuthorizationCode)) ||
		slices.Contains(r.GrantTypes, string(GrantImplicit))
	if redirecting && len(r.RedirectURIs) == 0 {
		return grantError(ErrInvalidRequest, "redirect URIs are required for browser based grants")
	}
	if r.Public && slices.Contains(r.GrantTypes, string(GrantClientCredentials)) {
		return grantError(ErrInvalidRequest, "public clients cannot use client_credentials")
	}
	return nil
}

// CreateClient registers a client. Confidential clients get a generated
// secret which is returned once and only stored hashed.
func (s *ClientService) CreateClient(ctx context.Context, reg ClientRegistration) (domain.Client, string, error) {
	l := slogx.FromContext(ctx)

	if err := reg.validate(); err != nil {
		return domain.Client{}, "", err
	}

	var secret, secretHash string
	if !reg.Public {
		var err error
		secret, err = cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			l.Error("failed to generate client secret", "error", err)
			return domain.Client{}, "", err
		}
		secretHash, err = cryptox.HashPassword(secret)
		if err != nil {
			l.Error("failed to hash client secret", "error", err)
			return domain.Client{}, "", err
		}
	}

	id := reg.ID
	if id == "" {
		id = idx.New().String()
	}

	c := domain.Client{
		ID:              id,
		Name:            reg.Name,
		SecretHash:      secretHash,
		Scopes:          reg.Scopes,
		GrantTypes:      reg.GrantTypes,
		RedirectURIs:    reg.RedirectURIs,
		Authorities:     reg.Authorities,
		ResourceIDs:     reg.ResourceIDs,
		AccessTokenTTL:  reg.AccessTokenTTL,
		RefreshTokenTTL: reg.RefreshTokenTTL,
		AutoApprove:     true,
		Protected:       reg.Protected,
	}
	if err := s.Clients.CreateClient(ctx, c); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.Client{}, "", ErrClientExists
		}
		l.Error("failed to create client", "error", err)
		return domain.Client{}, "", err
	}

	l.Info("client created", "client_id", c.ID, "name", c.Name, "public", reg.Public)
	return c, secret, nil
}

// ListClients returns all clients, newest first.
func (s *ClientService) ListClients(ctx context.Context) ([]domain.Client, error) {
	return s.Clients.ListClients(ctx)
}

// DeleteClient removes a client and every token issued to it.
func (s *ClientService) DeleteClient(ctx context.Context, clientID string) error {
	l := slogx.FromContext(ctx)

	c, err := s.Clients.GetClientByID(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrClientNotFound
	}
	if err != nil {
		return err
	}
	if c.Protected {
		l.Warn("attempted to delete protected client", "client_id", clientID)
		return ErrClientProtected
	}

	if err := s.Clients.DeleteClient(ctx, clientID); err != nil {
		return fmt.Errorf("delete client: %w", err)
	}

	revoked := 0
	if s.Tokens != nil {
		if revoked, err = s.Tokens.RemoveTokensByClientID(ctx, clientID); err != nil {
			return fmt.Errorf("revoke client tokens: %w", err)
		}
	}

	l.Info("client deleted", "client_id", clientID, "tokens_revoked", revoked)
	return nil
}
