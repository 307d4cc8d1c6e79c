package domain

// BootstrapData seeds an empty server with an administrator and a first client.
type BootstrapData struct {
	AdminUsername string
	AdminPassword string
	ClientID      string
	ClientScopes  []string
	RedirectURIs  []string
}
