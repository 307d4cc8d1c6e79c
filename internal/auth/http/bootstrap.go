package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/auth/service"
	"github.com/aussiebroadwan/bastion/pkg/authsdk"
	"github.com/aussiebroadwan/bastion/pkg/httpx"
	"github.com/aussiebroadwan/bastion/pkg/slogx"
)

type BootstrapHandler struct {
	BootstrapService *service.BootstrapService
}

// ServeHTTP handles the bootstrap endpoint for initial system setup.
//
//	@Summary		Bootstrap the authorization server
//	@Description	Creates the first administrator (ROLE_ADMIN) and a protected OAuth2 client. Only available when a bootstrap token is configured, and only once.
//	@Tags			Bootstrap
//	@Accept			json
//	@Produce		json
//	@Param			X-Bootstrap-Token	header		string							true	"Bootstrap token for authorization"
//	@Param			request				body		authsdk.BootstrapRequest		true	"Bootstrap configuration"
//	@Success		201					{object}	authsdk.BootstrapResponse		"Created admin user and client"
//	@Failure		400					{object}	authsdk.ValidationErrorResponse	"Invalid request body or validation failed"
//	@Failure		401					{object}	authsdk.ErrorResponse			"Missing or invalid bootstrap token, or system already bootstrapped"
//	@Failure		404					{object}	authsdk.ErrorResponse			"Bootstrap not enabled (no token configured)"
//	@Failure		500					{object}	authsdk.ErrorResponse			"Failed to create admin user or client"
//	@Router			/v1/bootstrap [post].
func (h *BootstrapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l := slogx.FromContext(r.Context())

	if h.BootstrapService.Token == "" {
		authsdk.NewOAuth2Error(http.StatusNotFound, "not_found", "bootstrap is not enabled").WriteError(w)
		return
	}
	token := r.Header.Get("X-Bootstrap-Token")
	if token == "" {
		authsdk.ErrUnauthorized.WithDescription("bootstrap token is required in the X-Bootstrap-Token header").WriteError(w)
		return
	}

	var req authsdk.BootstrapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		authsdk.ErrInvalidRequest.WithDescription("request body must be valid JSON").WriteError(w)
		return
	}
	if errs := req.Validate(); errs != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, authsdk.ValidationErrorResponse{
			Code:    "validation_error",
			Message: "validation failed for some fields",
			Details: errs,
		})
		return
	}

	res, err := h.BootstrapService.Bootstrap(r.Context(), token, domain.BootstrapData{
		AdminUsername: strings.TrimSpace(req.AdminUsername),
		AdminPassword: req.AdminPassword,
		ClientID:      strings.TrimSpace(req.ClientID),
		ClientScopes:  req.ClientScopes,
		RedirectURIs:  req.RedirectURIs,
	})
	if err != nil {
		bootstrapError(err).WriteError(w)
		return
	}

	l.Info("bootstrap complete", "admin_user_id", res.AdminUserID, "client_id", res.ClientID)
	// The secret is only ever shown here.
	httpx.WriteJSON(w, http.StatusCreated, authsdk.BootstrapResponse{
		AdminUserID:  res.AdminUserID,
		ClientID:     res.ClientID,
		ClientSecret: res.ClientSecret,
	})
}

func bootstrapError(err error) *authsdk.OAuth2Error {
	switch {
	case errors.Is(err, service.ErrBootstrapAlready):
		return authsdk.ErrUnauthorized.WithDescription("system has already been bootstrapped")
	case errors.Is(err, service.ErrBootstrapUnauthorized):
		return authsdk.ErrUnauthorized.WithDescription("invalid bootstrap token")
	case errors.Is(err, service.ErrInvalidUsername), errors.Is(err, service.ErrInvalidPassword):
		return authsdk.ErrInvalidRequest.WithDescription(err.Error())
	case errors.Is(err, service.ErrBootstrapFailedToCreateAdmin):
		return authsdk.ErrServerError.WithDescription("failed to create admin user")
	case errors.Is(err, service.ErrBootstrapFailedToCreateClient):
		return authsdk.ErrServerError.WithDescription("failed to create OAuth2 client")
	default:
		return authsdk.ErrServerError
	}
}
