package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/auth/store"
	"github.com/aussiebroadwan/bastion/pkg/cryptox"
	"github.com/aussiebroadwan/bastion/pkg/slogx"
)

var (
	ErrBootstrapAlready              = errors.New("system already bootstrapped")
	ErrBootstrapUnauthorized         = errors.New("unauthorized bootstrap attempt")
	ErrBootstrapFailedToCreateAdmin  = errors.New("failed to create admin user")
	ErrBootstrapFailedToCreateClient = errors.New("failed to create client")
)

// BootstrapResult holds the created identities. ClientSecret is only ever
// returned here.
type BootstrapResult struct {
	AdminUserID  string
	ClientID     string
	ClientSecret string
}

type BootstrapService struct {
	Store store.Store
	Token string // Pre-configured bootstrap token
}

func (s *BootstrapService) IsBootstrapped(ctx context.Context) (bool, error) {
	userEmpty, err := s.Store.Users().IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	clientEmpty, err := s.Store.Clients().IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	return !userEmpty && !clientEmpty, nil
}

// Bootstrap creates the administrator and the first, protected client. The
// admin is removed again when the client cannot be created.
func (s *BootstrapService) Bootstrap(ctx context.Context, token string, req domain.BootstrapData) (BootstrapResult, error) {
	l := slogx.FromContext(ctx)

	if s.Token == "" || !cryptox.EqualTokens(token, s.Token) {
		l.Warn("unauthorized bootstrap attempt")
		return BootstrapResult{}, ErrBootstrapUnauthorized
	}

	bootstrapped, err := s.IsBootstrapped(ctx)
	if err != nil {
		return BootstrapResult{}, err
	}
	if bootstrapped {
		l.Warn("attempted bootstrap on already-bootstrapped system")
		return BootstrapResult{}, ErrBootstrapAlready
	}

	users := &UserService{Users: s.Store.Users()}
	admin, err := users.CreateUser(ctx, req.AdminUsername, req.AdminPassword, RoleAdmin, RoleUser)
	if err != nil {
		if errors.Is(err, ErrInvalidUsername) || errors.Is(err, ErrInvalidPassword) {
			return BootstrapResult{}, err
		}
		l.Error("failed to create admin user", slog.Any("error", err))
		return BootstrapResult{}, ErrBootstrapFailedToCreateAdmin
	}

	grantTypes := []string{string(GrantClientCredentials), string(GrantRefreshToken), string(GrantPassword)}
	if len(req.RedirectURIs) > 0 {
		grantTypes = append(grantTypes, string(GrantAuthorizationCode))
	}

	clients := &ClientService{Clients: s.Store.Clients()}
	client, secret, err := clients.CreateClient(ctx, ClientRegistration{
		ID:           req.ClientID,
		Name:         req.ClientID,
		Scopes:       req.ClientScopes,
		GrantTypes:   grantTypes,
		RedirectURIs: req.RedirectURIs,
		Authorities:  []string{RoleAdmin},
		Protected:    true,
	})
	if err != nil {
		l.Error("failed to create client", slog.String("client_id", req.ClientID), slog.Any("error", err))
		if derr := s.Store.Users().DeleteUser(ctx, admin.ID); derr != nil {
			l.Error("failed to roll back admin user", slog.Any("error", derr))
		}
		return BootstrapResult{}, errors.Join(ErrBootstrapFailedToCreateClient, err)
	}

	l.Info("successfully bootstrapped system",
		slog.String("admin_user_id", admin.ID),
		slog.String("client_id", client.ID),
	)
	return BootstrapResult{AdminUserID: admin.ID, ClientID: client.ID, ClientSecret: secret}, nil
}
