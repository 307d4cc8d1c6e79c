package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/bastion/internal/auth/domain"
	"github.com/aussiebroadwan/bastion/internal/auth/service"
	"github.com/aussiebroadwan/bastion/pkg/authsdk"
	"github.com/aussiebroadwan/bastion/pkg/httpx"
	"github.com/aussiebroadwan/bastion/pkg/slogx"
)

// parseForm enforces a form encoded body and parses it. It writes the error
// response itself and reports whether the handler may continue.
func parseForm(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodPost && r.Header.Get("Content-Type") != "" && !httpx.IsFormRequest(r) {
		authsdk.ErrInvalidContentType.WriteError(w)
		return false
	}
	if err := r.ParseForm(); err != nil {
		authsdk.ErrInvalidFormBody.WriteError(w)
		return false
	}
	return true
}

// writeError writes err in its OAuth2 form. Only server errors are logged
// at error level; the rest are the client's problem.
func writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	wire := service.OAuth2Error(err)
	log := slogx.FromContext(r.Context())
	if wire.StatusCode >= http.StatusInternalServerError {
		log.Error(msg, "err", err)
	} else {
		log.Info(msg, "err", err)
	}
	wire.WriteError(w)
}

func tokenResponse(token domain.AccessToken) authsdk.TokenResponse {
	resp := authsdk.TokenResponse{
		AccessToken: token.Value,
		TokenType:   authsdk.TokenType,
		ExpiresIn:   int(token.ExpiresIn(token.IssuedAt)),
		Scope:       strings.Join(token.Scopes, " "),
	}
	if token.RefreshToken != nil {
		resp.RefreshToken = token.RefreshToken.Value
	}
	return resp
}
