package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/bastion/internal/auth/service"
	"github.com/aussiebroadwan/bastion/internal/auth/store"
	"github.com/aussiebroadwan/bastion/internal/security"
	"github.com/aussiebroadwan/bastion/pkg/authsdk"
	"github.com/aussiebroadwan/bastion/pkg/httpx"
	"github.com/aussiebroadwan/bastion/pkg/jwtx"
	"github.com/aussiebroadwan/bastion/pkg/slogx"

	_ "github.com/aussiebroadwan/bastion/api/bastion" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers. Every request passes
// the security filter chain proxy before it reaches Mux.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware
	proxy       *security.FilterChainProxy

	keys         *jwtx.KeySet // nil unless access tokens are JWTs
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store store.Store
	// TokenBackend is reported separately by /readyz when tokens live
	// outside the main store.
	TokenBackend store.TokenBackend

	ClientDetails    *service.ClientDetailsService
	Granter          *service.CompositeGranter
	TokenServices    *service.TokenServices
	AuthorizeService *service.AuthorizeService
	UserService      *service.UserService
	ClientService    *service.ClientService
	BootstrapService *service.BootstrapService
}

func NewRouter(
	keys *jwtx.KeySet,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerOAuth2()
	r.registerWeb()
	r.registerAPI()
	r.registerSystem()
	r.registerBootstrap()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// Secure builds the filter chain proxy for cfg in front of the routes.
// Rate limiting filters are added to the chains named like the default
// layout.
func (r *Router) Secure(assembler *security.Assembler, cfg security.WebConfig) error {
	proxy, err := assembler.BuildProxy(cfg, r.Mux, RateLimits())
	if err != nil {
		return err
	}
	r.proxy = proxy
	for _, c := range proxy.Chains() {
		r.logger.Info("security chain configured", "chain", c.Name, "filters", c.FilterNames())
	}
	return nil
}

// Proxy returns the filter chain proxy, nil before Secure.
func (r *Router) Proxy() *security.FilterChainProxy { return r.proxy }

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Bastion Authorization Server API
//	@version		0.1.0
//	@description	OAuth2 authorization server protected by a configurable security filter chain.
//	@description
//	@description				Access tokens are opaque by default and resolvable through /oauth/check_token.
//	@description				With BASTION_ACCESS_TOKEN_FORMAT=jwt they are EdDSA signed and verifiable against the JWKS endpoint.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/bastion
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Access token. Format: "Bearer {token}".
//
//	@securityDefinitions.basic	ClientBasic
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var h http.Handler = r.proxy
	if r.proxy == nil {
		// Never serve the routes unprotected.
		h = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			slogx.FromContext(req.Context()).Error("request before security was configured", "err", errNotSecured)
			authsdk.ErrServerError.WriteError(w)
		})
	}
	httpx.Chain(h, r.middlewares...).ServeHTTP(w, req)
}

var errNotSecured = errors.New("router: Secure has not been called")

func (r *Router) registerOAuth2() {
	// Client authentication, and the client rate limit, happen in the
	// token chain before these handlers run.
	r.Mux.Handle("POST "+authsdk.PathToken, &TokenHandler{
		Clients: r.ClientDetails,
		Granter: r.Granter,
	})
	r.Mux.Handle("POST "+authsdk.PathCheckToken, &CheckTokenHandler{Tokens: r.TokenServices})
	r.Mux.Handle("POST "+authsdk.PathRevoke, &RevokeHandler{Tokens: r.TokenServices})

	r.Mux.Handle("GET "+authsdk.PathAuthorize, &AuthorizeHandler{Authorize: r.AuthorizeService})

	if r.keys != nil {
		// GET /jwks.json - public endpoint with high limit
		r.Mux.Handle("GET "+authsdk.PathJWKS,
			httpx.Chain(JWKSHandler(r.keys),
				httpx.RateLimitByIP(httpx.PublicLimit),
			),
		)
	}
}

func (r *Router) registerWeb() {
	r.Mux.Handle("GET "+PathSignin, SigninPageHandler())

	signup := &SignupHandler{Users: r.UserService}
	r.Mux.HandleFunc("GET "+PathSignup, signup.HandlePage)
	r.Mux.HandleFunc("POST "+PathSignup, signup.HandleSubmit)

	r.Mux.Handle("GET /{$}", HomeHandler())
}

func (r *Router) registerAPI() {
	clients := &ClientsHandler{ClientService: r.ClientService}

	r.Mux.Handle("GET "+authsdk.PathMe, MeHandler())
	r.Mux.HandleFunc("POST "+authsdk.PathClients, clients.HandleCreate)
	r.Mux.HandleFunc("GET "+authsdk.PathClients, clients.HandleList)
	r.Mux.HandleFunc("DELETE "+authsdk.PathClients+"/{id}", clients.HandleDelete)
}

func (r *Router) registerBootstrap() {
	// POST /bootstrap - very strict rate limit by IP (one-time setup endpoint)
	bootstrapHandler := &BootstrapHandler{BootstrapService: r.BootstrapService}
	r.Mux.Handle("POST "+authsdk.PathBootstrap,
		httpx.Chain(bootstrapHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerSystem() {
	var tokens Pinger
	if r.TokenBackend != nil {
		tokens = r.TokenBackend
	}

	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, tokens, r.keys),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}
