package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/auth/service"
	"github.com/aussiebroadwan/bastion/pkg/authsdk"
	"github.com/aussiebroadwan/bastion/pkg/httpx"
	"github.com/aussiebroadwan/bastion/pkg/slogx"
)

// ClientsHandler handles the client administration endpoints. Access is
// decided by the api chain (hasRole('ADMIN') by default).
type ClientsHandler struct {
	ClientService *service.ClientService
}

// HandleCreate handles POST /api/clients
//
//	@Summary		Create OAuth2 Client
//	@Description	Registers a client. Confidential clients get a generated secret which is only returned here.
//	@Tags			Clients
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		authsdk.CreateClientRequest		true	"Client registration"
//	@Success		201		{object}	authsdk.CreateClientResponse	"client_id and client_secret (if confidential)"
//	@Failure		400		{object}	authsdk.ErrorResponse			"error, error_description"
//	@Failure		401		{object}	authsdk.ErrorResponse			"error, error_description"
//	@Failure		403		{object}	authsdk.ErrorResponse			"error, error_description"
//	@Failure		409		{object}	authsdk.ErrorResponse			"error, error_description"
//	@Failure		500		{object}	authsdk.ErrorResponse			"error, error_description"
//	@Router			/api/clients [post].
func (h *ClientsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req authsdk.CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, authsdk.ErrorResponse{
			Error:            "invalid_request",
			ErrorDescription: "Invalid JSON in request body",
		})
		return
	}

	client, secret, err := h.ClientService.CreateClient(ctx, service.ClientRegistration{
		ID:              strings.TrimSpace(req.ClientID),
		Name:            strings.TrimSpace(req.Name),
		Public:          req.Public,
		Scopes:          req.Scopes,
		GrantTypes:      req.GrantTypes,
		RedirectURIs:    req.RedirectURIs,
		Authorities:     req.Authorities,
		ResourceIDs:     req.ResourceIDs,
		AccessTokenTTL:  time.Duration(req.AccessTokenTTLSec) * time.Second,
		RefreshTokenTTL: time.Duration(req.RefreshTokenTTLSec) * time.Second,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrClientExists):
			httpx.WriteJSON(w, http.StatusConflict, authsdk.ErrorResponse{
				Error:            "client_exists",
				ErrorDescription: "A client with this id already exists",
			})
		case errors.Is(err, service.ErrInvalidRequest):
			service.OAuth2Error(err).WriteError(w)
		default:
			log.Error("failed to create client", "error", err)
			httpx.WriteJSON(w, http.StatusInternalServerError, authsdk.ErrorResponse{
				Error:            "server_error",
				ErrorDescription: "Failed to create client",
			})
		}
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusCreated, authsdk.CreateClientResponse{
		ClientID:     client.ID,
		ClientSecret: secret,
	})
}

// HandleList handles GET /api/clients
//
//	@Summary		List OAuth2 Clients
//	@Description	Returns all registered clients. Secrets are never returned.
//	@Tags			Clients
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	authsdk.ListClientsResponse	"List of clients"
//	@Failure		401	{object}	authsdk.ErrorResponse		"error, error_description"
//	@Failure		403	{object}	authsdk.ErrorResponse		"error, error_description"
//	@Failure		500	{object}	authsdk.ErrorResponse		"error, error_description"
//	@Router			/api/clients [get].
func (h *ClientsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	clients, err := h.ClientService.ListClients(ctx)
	if err != nil {
		log.Error("failed to list clients", "error", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, authsdk.ErrorResponse{
			Error:            "server_error",
			ErrorDescription: "Failed to list clients",
		})
		return
	}

	resp := authsdk.ListClientsResponse{Clients: make([]authsdk.ClientInfo, len(clients))}
	for i, c := range clients {
		resp.Clients[i] = clientInfo(c)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func clientInfo(c domain.Client) authsdk.ClientInfo {
	return authsdk.ClientInfo{
		ClientID:     c.ID,
		Name:         c.Name,
		Public:       c.IsPublic(),
		Scopes:       c.Scopes,
		GrantTypes:   c.GrantTypes,
		RedirectURIs: c.RedirectURIs,
		Authorities:  c.Authorities,
		ResourceIDs:  c.ResourceIDs,
		Protected:    c.Protected,
		CreatedAt:    c.CreatedAt.Unix(),
	}
}

// HandleDelete handles DELETE /api/clients/{id}
//
//	@Summary		Delete OAuth2 Client
//	@Description	Deletes a client and every token issued to it. Protected clients cannot be deleted.
//	@Tags			Clients
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Client ID"
//	@Success		204	"Client deleted"
//	@Failure		401	{object}	authsdk.ErrorResponse	"error, error_description"
//	@Failure		403	{object}	authsdk.ErrorResponse	"error, error_description"
//	@Failure		404	{object}	authsdk.ErrorResponse	"error, error_description"
//	@Failure		500	{object}	authsdk.ErrorResponse	"error, error_description"
//	@Router			/api/clients/{id} [delete].
func (h *ClientsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	clientID := r.PathValue("id")

	if err := h.ClientService.DeleteClient(ctx, clientID); err != nil {
		switch {
		case errors.Is(err, service.ErrClientNotFound):
			httpx.WriteJSON(w, http.StatusNotFound, authsdk.ErrorResponse{
				Error:            "client_not_found",
				ErrorDescription: "Client not found",
			})
		case errors.Is(err, service.ErrClientProtected):
			httpx.WriteJSON(w, http.StatusForbidden, authsdk.ErrorResponse{
				Error:            "client_protected",
				ErrorDescription: "Cannot delete protected client",
			})
		default:
			log.Error("failed to delete client", "error", err, "client_id", clientID)
			httpx.WriteJSON(w, http.StatusInternalServerError, authsdk.ErrorResponse{
				Error:            "server_error",
				ErrorDescription: "Failed to delete client",
			})
		}
		return
	}

	log.Info("client deleted", "client_id", clientID)
	w.WriteHeader(http.StatusNoContent)
}
