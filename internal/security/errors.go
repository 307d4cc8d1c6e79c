package security

import (
	"errors"
	"fmt"
)

var (
	// ErrBadCredentials covers unknown principals and wrong secrets alike.
	ErrBadCredentials = errors.New("bad credentials")

	// ErrAccountStatus is the parent of every account state failure.
	ErrAccountStatus   = errors.New("account status")
	ErrAccountDisabled = fmt.Errorf("%w: account disabled", ErrAccountStatus)
	ErrAccountLocked   = fmt.Errorf("%w: account locked", ErrAccountStatus)

	ErrProviderNotFound = errors.New("no authentication provider for credentials")
	ErrInvalidToken     = errors.New("invalid token")
	ErrOTPRequired      = errors.New("one-time password required")

	// ErrInsufficientAuthentication is raised when an anonymous or partially
	// authenticated principal reaches a resource it cannot access.
	ErrInsufficientAuthentication = errors.New("full authentication is required")
	ErrAccessDenied               = errors.New("access denied")

	ErrSessionNotFound = errors.New("session not found")
	ErrRequestRejected = errors.New("request rejected")

	// ErrConfiguration wraps every startup failure of the security layer.
	ErrConfiguration    = errors.New("security configuration")
	ErrNoChains         = fmt.Errorf("%w: no filter chains configured", ErrConfiguration)
	ErrNoCatchAllChain  = fmt.Errorf("%w: last filter chain must match any request", ErrConfiguration)
	ErrUnreachableChain = fmt.Errorf("%w: filter chain is shadowed by a catch-all chain", ErrConfiguration)
)

// IsAuthenticationError reports whether err is a failure to establish an
// identity, as opposed to an internal error from a provider.
func IsAuthenticationError(err error) bool {
	return errors.Is(err, ErrBadCredentials) ||
		errors.Is(err, ErrAccountStatus) ||
		errors.Is(err, ErrProviderNotFound) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrOTPRequired) ||
		errors.Is(err, ErrInsufficientAuthentication)
}
