package service

import (
	"errors"
	"fmt"

	"github.com/aussiebroadwan/bastion/pkg/authsdk"
)

var (
	ErrInvalidGrant            = errors.New("invalid_grant")
	ErrInvalidClient           = errors.New("invalid_client")
	ErrUnauthorizedClient      = errors.New("unauthorized_client")
	ErrUnsupportedGrantType    = errors.New("unsupported_grant_type")
	ErrUnsupportedResponseType = errors.New("unsupported_response_type")
	ErrInvalidScope            = errors.New("invalid_scope")
	ErrInvalidRequest          = errors.New("invalid_request")
	ErrInvalidToken            = errors.New("invalid_token")
)

// GrantError carries a description for one of the OAuth2 errors above.
type GrantError struct {
	Err         error
	Description string
}

func (e *GrantError) Error() string {
	return e.Err.Error() + ": " + e.Description
}

func (e *GrantError) Unwrap() error { return e.Err }

func grantError(err error, format string, args ...any) error {
	return &GrantError{Err: err, Description: fmt.Sprintf(format, args...)}
}

// OAuth2Error maps a service error to its wire form. Anything that is not
// an OAuth2 error becomes server_error.
func OAuth2Error(err error) *authsdk.OAuth2Error {
	var wire *authsdk.OAuth2Error
	switch {
	case errors.Is(err, ErrInvalidGrant):
		wire = authsdk.ErrInvalidGrant
	case errors.Is(err, ErrInvalidClient):
		wire = authsdk.ErrInvalidClient
	case errors.Is(err, ErrUnauthorizedClient):
		wire = authsdk.ErrUnauthorizedClient
	case errors.Is(err, ErrUnsupportedGrantType):
		wire = authsdk.ErrUnsupportedGrantType
	case errors.Is(err, ErrUnsupportedResponseType):
		wire = authsdk.ErrUnsupportedResponseType
	case errors.Is(err, ErrInvalidScope):
		wire = authsdk.ErrInvalidScope
	case errors.Is(err, ErrInvalidRequest):
		wire = authsdk.ErrInvalidRequest
	case errors.Is(err, ErrInvalidToken):
		wire = authsdk.ErrInvalidToken
	default:
		return authsdk.ErrServerError
	}

	var ge *GrantError
	if errors.As(err, &ge) {
		return wire.WithDescription(ge.Description)
	}
	return wire
}
