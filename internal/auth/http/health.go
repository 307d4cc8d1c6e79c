package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/bastion/pkg/authsdk"
	"github.com/aussiebroadwan/bastion/pkg/httpx"
	"github.com/aussiebroadwan/bastion/pkg/jwtx"
)

// Pinger is a dependency that can report its health.
type Pinger interface {
	Ping(ctx context.Context) error
}

func health(status string, startTime time.Time, version string, checks *authsdk.HealthChecks) authsdk.HealthResponse {
	return authsdk.HealthResponse{
		Status:  status,
		Uptime:  time.Since(startTime).Round(time.Second).String(),
		Version: version,
		Checks:  checks,
	}
}

// LivezHandler godoc
//
//	@Summary		Liveness probe
//	@Description	Answers 200 while the process serves requests. Dependencies are not checked.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, uptime, version"
//	@Router			/livez [get].
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, health("ok", startTime, version, nil))
	}
}

// ReadyzHandler godoc
//
//	@Summary		Readiness Check Endpoint
//	@Description	Readiness probe endpoint returning service health status and checks for critical dependencies
//	@Description	Includes uptime, version, and the status of the store, the token store and the JWT signer
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, uptime, version, checks"
//	@Failure		503	{object}	authsdk.HealthResponse	"status, uptime, version, checks - service not ready"
//	@Router			/readyz [get].
func ReadyzHandler(
	startTime time.Time,
	version string,
	st Pinger,
	tokens Pinger,
	keys *jwtx.KeySet,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &authsdk.HealthChecks{
			Store:      "ok",
			TokenStore: "inherit",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK
		degrade := func() {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		if err := st.Ping(r.Context()); err != nil {
			checks.Store = "error: " + err.Error()
			degrade()
		}

		// A separate token backend, e.g. redis
		if tokens != nil {
			checks.TokenStore = "ok"
			if err := tokens.Ping(r.Context()); err != nil {
				checks.TokenStore = "error: " + err.Error()
				degrade()
			}
		}

		// Only JWT access tokens need signing keys
		if keys != nil {
			checks.Signer = "ok"
			if !keys.IsReady() {
				checks.Signer = "error: no keys loaded"
				degrade()
			}
		}

		httpx.WriteJSON(w, statusCode, health(overallStatus, startTime, version, checks))
	}
}
