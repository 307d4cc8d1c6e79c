package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/bastion/pkg/httpx"
)

// Error codes from RFC 6749 and RFC 6750. "unauthorized" is the code used
// when a resource is requested without credentials.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeServerError             = "server_error"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeInsufficientScope       = "insufficient_scope"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeUnauthorized            = "unauthorized"
)

// OAuth2Error is the {error, error_description} body of RFC 6749. The
// server writes it with WriteError and the SDK returns it for any non 2xx
// response, with StatusCode set from the response.
type OAuth2Error struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *OAuth2Error) Error() string {
	return e.Code + ": " + e.Description
}

func (e *OAuth2Error) WriteError(w http.ResponseWriter) {
	httpx.WriteJSON(w, e.StatusCode, ErrorResponse{Error: e.Code, ErrorDescription: e.Description})
}

// WithDescription returns a copy of the error carrying a different description.
func (e *OAuth2Error) WithDescription(description string) *OAuth2Error {
	if description == "" {
		return e
	}
	cp := *e
	cp.Description = description
	return &cp
}

// Is matches OAuth2 errors by their error code, so errors.Is(err, ErrInvalidGrant)
// holds for any invalid_grant response regardless of description.
func (e *OAuth2Error) Is(target error) bool {
	t, ok := target.(*OAuth2Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Errors written by the server. Handlers copy them with WithDescription
// when a more specific message helps the client.
var (
	ErrInvalidRequest          = NewOAuth2Error(http.StatusBadRequest, ErrorCodeInvalidRequest, "the request is malformed or missing required parameters")
	ErrInvalidContentType      = NewOAuth2Error(http.StatusBadRequest, ErrorCodeInvalidRequest, "content-type must be application/x-www-form-urlencoded")
	ErrInvalidFormBody         = NewOAuth2Error(http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid form body")
	ErrInvalidClient           = NewOAuth2Error(http.StatusUnauthorized, ErrorCodeInvalidClient, "invalid client")
	ErrInvalidGrant            = NewOAuth2Error(http.StatusBadRequest, ErrorCodeInvalidGrant, "invalid grant")
	ErrUnauthorizedClient      = NewOAuth2Error(http.StatusBadRequest, ErrorCodeUnauthorizedClient, "the client is not authorized to use this grant type")
	ErrUnsupportedGrantType    = NewOAuth2Error(http.StatusBadRequest, ErrorCodeUnsupportedGrantType, "grant type not supported")
	ErrUnsupportedResponseType = NewOAuth2Error(http.StatusBadRequest, ErrorCodeUnsupportedResponseType, "response type not supported")
	ErrInvalidScope            = NewOAuth2Error(http.StatusBadRequest, ErrorCodeInvalidScope, "requested scope is invalid")
	ErrServerError             = NewOAuth2Error(http.StatusInternalServerError, ErrorCodeServerError, "internal server error")

	// Resource server errors.
	ErrInvalidToken = NewOAuth2Error(http.StatusUnauthorized, ErrorCodeInvalidToken, "the access token is missing, invalid, expired or revoked")
	ErrUnauthorized = NewOAuth2Error(http.StatusUnauthorized, ErrorCodeUnauthorized, "full authentication is required to access this resource")
	ErrAccessDenied = NewOAuth2Error(http.StatusForbidden, ErrorCodeAccessDenied, "access denied")
)

// NewOAuth2Error builds an error for the given status and OAuth2 code.
func NewOAuth2Error(statusCode int, code, description string) *OAuth2Error {
	return &OAuth2Error{
		StatusCode:  statusCode,
		Code:        code,
		Description: description,
	}
}

// parseErrorResponse turns a failed response into an *OAuth2Error. Bodies
// that are neither OAuth2 nor validation errors keep only the status.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var oauth ErrorResponse
	if json.Unmarshal(body, &oauth) == nil && oauth.Error != "" {
		return NewOAuth2Error(resp.StatusCode, oauth.Error, oauth.ErrorDescription)
	}
	var invalid ValidationErrorResponse
	if json.Unmarshal(body, &invalid) == nil && invalid.Code != "" {
		return NewOAuth2Error(resp.StatusCode, invalid.Code, invalid.Message)
	}
	return NewOAuth2Error(resp.StatusCode, ErrorCodeServerError,
		fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
}
