package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/bastion/internal/auth/http"
	"github.com/aussiebroadwan/bastion/internal/auth/service"
	"github.com/aussiebroadwan/bastion/internal/auth/store"
	"github.com/aussiebroadwan/bastion/internal/auth/store/drivers/memory"
	"github.com/aussiebroadwan/bastion/internal/auth/store/drivers/redis"
	"github.com/aussiebroadwan/bastion/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/bastion/internal/security"
	"github.com/aussiebroadwan/bastion/pkg/cryptox"
	"github.com/aussiebroadwan/bastion/pkg/jwtx"
	"github.com/aussiebroadwan/bastion/pkg/slogx"
)

// BuildVersion is overridden at build time via -ldflags.
var BuildVersion = "v0.1.0"

// Application encapsulates the server with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db           store.Store
	tokenBackend store.TokenBackend // nil unless tokens live in redis
	keys         *jwtx.KeySet       // nil for opaque tokens
	converter    service.AccessTokenConverter
	sessions     *security.MemorySessionStore

	// Services
	tokenServices       *service.TokenServices
	codeServices        *service.AuthorizationCodeServices
	granter             *service.CompositeGranter
	userService         *service.UserService
	clientService       *service.ClientService
	bootstrapService    *service.BootstrapService
	authorizeService    *service.AuthorizeService
	housekeepingService *service.HousekeepingService

	// Authentication
	users     *security.LazyManager
	clients   *security.LazyManager
	assembler *security.Assembler

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "bastion",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Set pepper path for password hashing and key sealing
	cryptox.SetPepperPath(app.cfg.PepperFile)

	if err := app.initStore(); err != nil {
		return nil, err
	}

	ctx := context.Background()
	converter, keys, err := InitAccessTokenConverter(ctx, app.cfg, app.db, app.logger)
	if err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.converter = converter
	app.keys = keys

	app.initServices()
	if err := app.initHTTP(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	return app, nil
}

// Handler is the root HTTP handler, security included.
func (app *Application) Handler() http.Handler { return app.router }

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("bastion starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"store", app.cfg.StoreDriver,
		"token_store", app.cfg.TokenStore,
		"token_format", app.cfg.AccessTokenFormat,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down bastion...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	// Closes the token backend too when it is overlaid.
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing store", "error", err)
		return err
	}

	app.logger.Info("bastion stopped")
	return nil
}

// initStore opens the configured store and, for redis, overlays the token
// backend on it.
func (app *Application) initStore() error {
	var base store.Store
	switch app.cfg.StoreDriver {
	case StoreSQLite:
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
		db, err := sqlite.NewStore(dsn)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := db.ApplyMigrations(); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply database migrations: %w", err)
		}
		app.logger.Info("database migrations applied successfully", "file", app.cfg.DatabaseFile)
		base = db
	default:
		app.logger.Warn("using the in-memory store, all data is lost on restart")
		base = memory.NewStore()
	}

	if app.cfg.TokenStore != TokenStoreRedis {
		app.db = base
		return nil
	}

	backend := redis.New(redis.Options{
		Addr:     app.cfg.RedisAddr,
		Password: app.cfg.RedisPassword,
		DB:       app.cfg.RedisDB,
		Prefix:   app.cfg.RedisPrefix,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := backend.Ping(ctx); err != nil {
		_ = backend.Close()
		_ = base.Close()
		return fmt.Errorf("failed to connect to redis at %s: %w", app.cfg.RedisAddr, err)
	}
	app.logger.Info("tokens and codes are stored in redis", "addr", app.cfg.RedisAddr)

	app.tokenBackend = backend
	app.db = store.WithTokenBackend(base, backend)
	return nil
}

// initServices initializes all business logic services.
func (app *Application) initServices() {
	app.tokenServices = &service.TokenServices{
		Tokens:              app.db.Tokens(),
		Converter:           app.converter,
		AccessTokenTTL:      app.cfg.AccessTokenTTL,
		RefreshTokenTTL:     app.cfg.RefreshTokenTTL,
		SupportRefreshToken: app.cfg.SupportRefreshTokens,
		ReuseRefreshToken:   app.cfg.ReuseRefreshTokens,
	}
	app.codeServices = &service.AuthorizationCodeServices{
		Codes: app.db.AuthorizationCodes(),
		TTL:   app.cfg.CodeTTL,
	}

	// Managers are built on first use, or by initHTTP once the chains exist.
	app.users = security.NewLazyManager(func() (security.AuthenticationManager, error) {
		details := &service.UserDetailsService{Users: app.db.Users()}
		return security.NewProviderManager(
			&security.DaoAuthenticationProvider{Users: details},
			&security.PreAuthenticatedProvider{Users: details},
		), nil
	})
	app.clients = security.NewLazyManager(func() (security.AuthenticationManager, error) {
		return security.NewProviderManager(service.NewClientAuthenticationProvider(app.db.Clients())), nil
	})

	app.granter = service.NewCompositeGranter(
		&service.AuthorizationCodeGranter{Codes: app.codeServices, Tokens: app.tokenServices},
		&service.RefreshTokenGranter{Tokens: app.tokenServices},
		&service.ImplicitGranter{Tokens: app.tokenServices},
		&service.ClientCredentialsGranter{Tokens: app.tokenServices},
		&service.ResourceOwnerPasswordGranter{Users: app.users, Tokens: app.tokenServices},
	)

	app.userService = &service.UserService{Users: app.db.Users()}
	app.clientService = &service.ClientService{Clients: app.db.Clients(), Tokens: app.db.Tokens()}
	app.bootstrapService = &service.BootstrapService{
		Store: app.db,
		Token: app.cfg.BootstrapToken,
	}
	app.authorizeService = &service.AuthorizeService{
		Clients: app.db.Clients(),
		Codes:   app.codeServices,
		Granter: app.granter,
	}

	app.sessions = security.NewMemorySessionStore(app.cfg.SessionTTL)
	app.assembler = &security.Assembler{
		Managers: map[string]security.AuthenticationManager{
			security.ManagerUsers:   app.users,
			security.ManagerClients: app.clients,
		},
		Tokens: func(resourceID string) security.AuthenticationManager {
			return security.NewProviderManager(&service.OAuth2AuthenticationProvider{
				Tokens:     app.tokenServices,
				ResourceID: resourceID,
			})
		},
		Sessions:      app.sessions,
		SecureCookies: app.cfg.SecureCookies,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.sessions,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

// initHTTP initializes the router, its security chains and the server.
func (app *Application) initHTTP() error {
	router := httpapi.NewRouter(app.keys, BuildVersion, app.db, app.logger)

	router.TokenBackend = app.tokenBackend
	router.ClientDetails = &service.ClientDetailsService{Clients: app.db.Clients()}
	router.Granter = app.granter
	router.TokenServices = app.tokenServices
	router.AuthorizeService = app.authorizeService
	router.UserService = app.userService
	router.ClientService = app.clientService
	router.BootstrapService = app.bootstrapService
	router.ApplyRoutes()

	webConfig, err := app.cfg.LoadSecurityConfig()
	if err != nil {
		return err
	}
	if err := router.Secure(app.assembler, webConfig); err != nil {
		return fmt.Errorf("failed to build security chains: %w", err)
	}
	for name, m := range map[string]*security.LazyManager{security.ManagerUsers: app.users, security.ManagerClients: app.clients} {
		if err := m.Init(); err != nil {
			return fmt.Errorf("failed to build %s authentication manager: %w", name, err)
		}
	}

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return nil
}
