package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (memory, sqlite)
// implement this and expose sub-repositories to keep concerns tidy and
// testable. Token and code storage can be moved to a shared backend with
// WithTokenBackend.
type Store interface {
	Users() Users
	Clients() Clients
	AuthorizationCodes() AuthorizationCodes
	Tokens() TokenStore
	SigningKeys() SigningKeys

	ApplyMigrations() error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByUsername is used by form login, basic auth and the password grant.
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	// CreateUser inserts a new user. Usernames are unique.
	CreateUser(ctx context.Context, u domain.User) error

	// UpdatePasswordHash sets the password_hash (argon2) and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, userID string, newHash string) error

	// UpdateUserStatus sets the enabled and locked flags.
	UpdateUserStatus(ctx context.Context, userID string, enabled, locked bool) error

	// UpdateMFASecret sets or, with nil, clears the TOTP secret.
	UpdateMFASecret(ctx context.Context, userID string, secret *string) error

	DeleteUser(ctx context.Context, userID string) error

	// IsEmpty returns true if there are no users.
	IsEmpty(ctx context.Context) (bool, error)
}

type Clients interface {
	GetClientByID(ctx context.Context, id string) (domain.Client, error)

	// ListClients returns all clients ordered by creation date (newest first).
	ListClients(ctx context.Context) ([]domain.Client, error)

	// CreateClient inserts a new client; secret_hash may be empty for public clients.
	CreateClient(ctx context.Context, c domain.Client) error

	UpdateClientSecretHash(ctx context.Context, clientID, secretHash string) error
	UpdateClientScopes(ctx context.Context, clientID string, scopes []string) error

	DeleteClient(ctx context.Context, clientID string) error

	// IsEmpty returns true if there are no clients.
	IsEmpty(ctx context.Context) (bool, error)
}

// AuthorizationCodes keeps one-time codes keyed by their fingerprint.
type AuthorizationCodes interface {
	// CreateCode stores code under the fingerprint of code.Code.
	CreateCode(ctx context.Context, code domain.AuthorizationCode) error

	// ConsumeCode removes and returns the code in one step, so a code can
	// be redeemed at most once.
	ConsumeCode(ctx context.Context, code string) (domain.AuthorizationCode, error)

	// DeleteExpiredCodes is housekeeping.
	DeleteExpiredCodes(ctx context.Context, now time.Time) (int, error)
}

// TokenStore persists issued tokens and the authentication they stand for.
// Token values are fingerprinted by the drivers; only the caller presenting a
// value can look it up.
type TokenStore interface {
	// StoreAccessToken records token and, when token.RefreshToken is set,
	// links the refresh token to it.
	StoreAccessToken(ctx context.Context, token domain.AccessToken, auth domain.OAuth2Authentication) error
	ReadAccessToken(ctx context.Context, value string) (domain.AccessToken, error)
	ReadAuthentication(ctx context.Context, value string) (domain.OAuth2Authentication, error)
	RemoveAccessToken(ctx context.Context, value string) error

	StoreRefreshToken(ctx context.Context, token domain.RefreshToken, auth domain.OAuth2Authentication) error
	ReadRefreshToken(ctx context.Context, value string) (domain.RefreshToken, error)
	ReadAuthenticationForRefreshToken(ctx context.Context, value string) (domain.OAuth2Authentication, error)
	RemoveRefreshToken(ctx context.Context, value string) error
	// ConsumeRefreshToken removes the refresh token and fails with
	// ErrNotFound when it was already gone, so one refresh token rotates at
	// most once.
	ConsumeRefreshToken(ctx context.Context, value string) error

	// RemoveAccessTokenUsingRefreshToken drops every access token issued
	// alongside the refresh token.
	RemoveAccessTokenUsingRefreshToken(ctx context.Context, refreshValue string) error

	// RemoveTokensByClientID drops all tokens of a client and returns how many.
	RemoveTokensByClientID(ctx context.Context, clientID string) (int, error)

	// DeleteExpiredTokens is housekeeping.
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error)
}

type SigningKeys interface {
	// CreateSigningKey stores a new signing key with sealed private key material.
	CreateSigningKey(ctx context.Context, key domain.SigningKey) error

	// ListSigningKeys returns all keys, newest first.
	ListSigningKeys(ctx context.Context) ([]domain.SigningKey, error)

	// RetireSigningKey stops a key from signing. It still verifies.
	RetireSigningKey(ctx context.Context, kid string, at time.Time) error

	// DeleteRetiredSigningKeys removes keys retired before cutoff.
	DeleteRetiredSigningKeys(ctx context.Context, cutoff time.Time) (int, error)
}
