package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Me returns the principal behind accessToken.
func (c *SDKClient) Me(ctx context.Context, accessToken string) (*MeResponse, error) {
	resp, err := c.doBearerRequest(ctx, accessToken, http.MethodGet, PathMe, nil, nil)
	if err != nil {
		return nil, err
	}

	var me MeResponse
	if err := decodeJSON(resp, &me, http.StatusOK); err != nil {
		return nil, err
	}
	return &me, nil
}

// ListClients lists registered OAuth2 clients. Requires an admin token.
func (c *SDKClient) ListClients(ctx context.Context, accessToken string) (*ListClientsResponse, error) {
	resp, err := c.doBearerRequest(ctx, accessToken, http.MethodGet, PathClients, nil, nil)
	if err != nil {
		return nil, err
	}

	var out ListClientsResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateClient registers a new OAuth2 client. Requires an admin token.
func (c *SDKClient) CreateClient(
	ctx context.Context,
	accessToken string,
	req CreateClientRequest,
) (*CreateClientResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.doBearerRequest(ctx, accessToken, http.MethodPost, PathClients, bytes.NewReader(body), map[string]string{
		"Content-Type": "application/json",
	})
	if err != nil {
		return nil, err
	}

	var out CreateClientResponse
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteClient removes a client and revokes its tokens. Requires an admin token.
func (c *SDKClient) DeleteClient(ctx context.Context, accessToken, clientID string) error {
	resp, err := c.doBearerRequest(ctx, accessToken, http.MethodDelete, PathClients+"/"+clientID, nil, nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}
