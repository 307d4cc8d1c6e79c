package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

var (
	reBootstrapName  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	reBootstrapScope = regexp.MustCompile(`^[a-z][a-z0-9._:-]*$`)
)

// Validate checks the bootstrap request fields. It returns a map of field
// names to error messages, or nil if all fields are valid.
func (b BootstrapRequest) Validate() map[string]string {
	errs := make(map[string]string)

	username := strings.TrimSpace(b.AdminUsername)
	switch {
	case username == "":
		errs["admin_username"] = "required"
	case len(username) < 3 || len(username) > 32:
		errs["admin_username"] = "must be 3-32 characters"
	case !reBootstrapName.MatchString(username):
		errs["admin_username"] = "must only contain a-z, A-Z, 0-9, _ or -"
	}

	switch pw := b.AdminPassword; {
	case pw == "":
		errs["admin_password"] = "required"
	case len(pw) < 8:
		errs["admin_password"] = "too short (min 8)"
	case len(pw) > 128:
		errs["admin_password"] = "too long (max 128)"
	}

	switch cid := strings.TrimSpace(b.ClientID); {
	case cid == "":
		errs["client_id"] = "required"
	case len(cid) > 100:
		errs["client_id"] = "too long (max 100)"
	case !reBootstrapName.MatchString(cid):
		errs["client_id"] = "must only contain a-z, A-Z, 0-9, _ or -"
	}

	seen := make(map[string]struct{}, len(b.ClientScopes))
	for _, s := range b.ClientScopes {
		if !reBootstrapScope.MatchString(s) {
			errs["client_scopes"] = fmt.Sprintf("invalid scope: %q", s)
			break
		}
		if _, dup := seen[s]; dup {
			errs["client_scopes"] = "duplicate scopes"
			break
		}
		seen[s] = struct{}{}
	}
	if len(b.ClientScopes) == 0 {
		errs["client_scopes"] = "at least one scope required"
	}

	for _, uri := range b.RedirectURIs {
		if u, err := url.Parse(uri); err != nil || !u.IsAbs() || u.Fragment != "" {
			errs["redirect_uris"] = fmt.Sprintf("invalid redirect uri: %q", uri)
			break
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Bootstrap initializes an empty server with an admin user and client.
func (c *SDKClient) Bootstrap(
	ctx context.Context,
	token string,
	req BootstrapRequest,
) (*BootstrapResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, PathBootstrap, bytes.NewReader(body), map[string]string{
		"Content-Type":      "application/json",
		"X-Bootstrap-Token": token,
	})
	if err != nil {
		return nil, err
	}

	var bootstrapResp BootstrapResponse
	if err := decodeJSON(resp, &bootstrapResp, http.StatusCreated); err != nil {
		return nil, err
	}

	return &bootstrapResp, nil
}
