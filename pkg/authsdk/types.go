package authsdk

import (
	"github.com/aussiebroadwan/bastion/pkg/jwtx"
)

// ============================================================================
// Error Types
// ============================================================================

// ErrorResponse represents a standard OAuth2 error response per RFC 6749.
// Client code should use the OAuth2Error type from errors.go instead.
type ErrorResponse struct {
	// Error is the OAuth2 error code (e.g., "invalid_request", "invalid_grant")
	Error string `json:"error"`

	// ErrorDescription is a human-readable description of the error
	ErrorDescription string `json:"error_description"`
}

// ValidationErrorResponse is returned when a JSON request body fails
// validation, typically from the bootstrap and client admin endpoints.
type ValidationErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// ============================================================================
// Token Types
// ============================================================================

// TokenType is the only token type issued by the server.
const TokenType = "bearer"

// TokenResponse represents the OAuth2 token endpoint response per RFC 6749.
type TokenResponse struct {
	// AccessToken authenticates requests to protected resources
	AccessToken string `json:"access_token"`

	// TokenType is always "bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int `json:"expires_in"`

	// RefreshToken is absent for client_credentials and implicit grants
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the space-delimited list of scopes granted to this token
	Scope string `json:"scope"`
}

// CheckTokenResponse is returned by the check_token endpoint. Inactive
// tokens only carry Active=false.
type CheckTokenResponse struct {
	Active      bool     `json:"active"`
	ClientID    string   `json:"client_id,omitempty"`
	Username    string   `json:"user_name,omitempty"`
	Scope       string   `json:"scope,omitempty"`
	Authorities []string `json:"authorities,omitempty"`
	Aud         []string `json:"aud,omitempty"`
	GrantType   string   `json:"grant_type,omitempty"`
	Exp         int64    `json:"exp,omitempty"`
}

// ============================================================================
// Bootstrap Types
// ============================================================================

// BootstrapRequest creates the initial administrator and a first OAuth2
// client on an empty server.
type BootstrapRequest struct {
	// AdminUsername is the username for the initial admin user (3-32 chars, alphanumeric with _ or -)
	AdminUsername string `json:"admin_username"`

	// AdminPassword is the password for the admin user (8-128 chars)
	AdminPassword string `json:"admin_password"`

	// ClientID is the id of the first OAuth2 client
	ClientID string `json:"client_id"`

	// ClientScopes is the list of scopes for the client (e.g., ["read", "write"])
	ClientScopes []string `json:"client_scopes"`

	// RedirectURIs registered for the client's authorization_code flow
	RedirectURIs []string `json:"redirect_uris,omitempty"`
}

// BootstrapResponse contains the created admin user and client credentials.
type BootstrapResponse struct {
	AdminUserID string `json:"admin_user_id"`
	ClientID    string `json:"client_id"`

	// ClientSecret is only returned once
	ClientSecret string `json:"client_secret"`
}

// ============================================================================
// Resource Types
// ============================================================================

// MeResponse describes the principal behind an access token.
type MeResponse struct {
	Principal   string   `json:"principal"`
	ClientID    string   `json:"client_id"`
	Authorities []string `json:"authorities"`
	Scope       []string `json:"scope"`
}

// ============================================================================
// Client Types
// ============================================================================

// CreateClientRequest registers a new OAuth2 client.
type CreateClientRequest struct {
	ClientID           string   `json:"client_id"`
	Name               string   `json:"name"`
	Public             bool     `json:"public,omitempty"`
	Scopes             []string `json:"scopes"`
	GrantTypes         []string `json:"grant_types"`
	RedirectURIs       []string `json:"redirect_uris,omitempty"`
	Authorities        []string `json:"authorities,omitempty"`
	ResourceIDs        []string `json:"resource_ids,omitempty"`
	AccessTokenTTLSec  int      `json:"access_token_ttl_sec,omitempty"`
	RefreshTokenTTLSec int      `json:"refresh_token_ttl_sec,omitempty"`
}

// CreateClientResponse contains the created client's ID and generated secret.
type CreateClientResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// ClientInfo represents information about an OAuth2 client.
type ClientInfo struct {
	ClientID     string   `json:"client_id"`
	Name         string   `json:"name"`
	Public       bool     `json:"public"`
	Scopes       []string `json:"scopes"`
	GrantTypes   []string `json:"grant_types"`
	RedirectURIs []string `json:"redirect_uris,omitempty"`
	Authorities  []string `json:"authorities,omitempty"`
	ResourceIDs  []string `json:"resource_ids,omitempty"`
	Protected    bool     `json:"protected,omitempty"`
	CreatedAt    int64    `json:"created_at"`
}

// ListClientsResponse contains a list of OAuth2 clients.
type ListClientsResponse struct {
	Clients []ClientInfo `json:"clients"`
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse represents the response structure for health check endpoints.
// Used by both /livez and /readyz endpoints (readyz includes additional Checks field).
type HealthResponse struct {
	// Status indicates the overall health status ("ok" or "degraded")
	Status string `json:"status"`

	// Uptime is the service uptime duration as a string (e.g., "1h23m45s")
	Uptime string `json:"uptime,omitempty"`

	// Version is the service version string
	Version string `json:"version,omitempty"`

	// Checks contains readiness check results (only for /readyz)
	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks represents the status of critical service dependencies.
type HealthChecks struct {
	Store      string `json:"store"`
	TokenStore string `json:"token_store"`
	Signer     string `json:"signer,omitempty"`
}

// ============================================================================
// JWKS Types
// ============================================================================

// JWKSResponse contains the JSON Web Key Set published at
// /.well-known/jwks.json when JWT access tokens are enabled.
type JWKSResponse jwtx.JWKS
