package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	httpapi "github.com/aussiebroadwan/bastion/internal/auth/http"
	"github.com/aussiebroadwan/bastion/internal/auth/service"
	"github.com/aussiebroadwan/bastion/internal/security"
)

// Store drivers, token stores and access token formats.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"

	TokenStoreInherit = "inherit"
	TokenStoreRedis   = "redis"

	TokenFormatOpaque = "opaque"
	TokenFormatJWT    = "jwt"
)

type Config struct {
	Issuer         string // Issuer claim of JWT access tokens (default: bastion)
	BootstrapToken string // Optional: token required to perform bootstrap

	StoreDriver  string // memory or sqlite (default: memory)
	DatabaseFile string // SQLite database file (default: bastion.db)
	PepperFile   string // File containing the password hashing pepper (default: ./pepper)

	TokenStore    string // inherit or redis (default: inherit)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration // zero or less never expires
	CodeTTL              time.Duration
	SupportRefreshTokens bool
	ReuseRefreshTokens   bool
	AccessTokenFormat    string // opaque or jwt (default: opaque)
	ResourceID           string

	SecurityConfigFile string // Optional YAML security layout
	SessionTTL         time.Duration
	SecureCookies      bool
	PreAuthHeader      string // Optional: trusted header naming the user on the web chain

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	env := getEnvOrDefault("ENV", "dev")
	return Config{
		Issuer:         getEnvOrDefault("BASTION_ISSUER", "bastion"),
		BootstrapToken: os.Getenv("BOOTSTRAP_TOKEN"),

		StoreDriver:  strings.ToLower(getEnvOrDefault("BASTION_STORE_DRIVER", StoreMemory)),
		DatabaseFile: getEnvOrDefault("BASTION_DATABASE_FILE", "bastion.db"),
		PepperFile:   getEnvOrDefault("BASTION_PEPPER_FILE", "pepper"),

		TokenStore:    strings.ToLower(getEnvOrDefault("BASTION_TOKEN_STORE", TokenStoreInherit)),
		RedisAddr:     getEnvOrDefault("BASTION_REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("BASTION_REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("BASTION_REDIS_DB", 0),
		RedisPrefix:   os.Getenv("BASTION_REDIS_PREFIX"),

		AccessTokenTTL:       getEnvDurationOrDefault("BASTION_ACCESS_TOKEN_TTL", 12*time.Hour),
		RefreshTokenTTL:      getEnvDurationOrDefault("BASTION_REFRESH_TOKEN_TTL", 30*24*time.Hour),
		CodeTTL:              getEnvDurationOrDefault("BASTION_CODE_TTL", service.DefaultCodeTTL),
		SupportRefreshTokens: getEnvBoolOrDefault("BASTION_SUPPORT_REFRESH_TOKENS", true),
		ReuseRefreshTokens:   getEnvBoolOrDefault("BASTION_REUSE_REFRESH_TOKENS", false),
		AccessTokenFormat:    strings.ToLower(getEnvOrDefault("BASTION_ACCESS_TOKEN_FORMAT", TokenFormatOpaque)),
		ResourceID:           getEnvOrDefault("BASTION_RESOURCE_ID", service.DefaultResourceID),

		SecurityConfigFile: os.Getenv("BASTION_SECURITY_CONFIG"),
		SessionTTL:         getEnvDurationOrDefault("BASTION_SESSION_TTL", security.DefaultSessionTTL),
		SecureCookies:      getEnvBoolOrDefault("BASTION_SECURE_COOKIES", env == "prod"),
		PreAuthHeader:      os.Getenv("BASTION_PREAUTH_HEADER"),

		Env:                  env,
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}
}

// Validate rejects unknown driver and format names.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory, StoreSQLite:
	default:
		return fmt.Errorf("unknown BASTION_STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.TokenStore {
	case TokenStoreInherit, TokenStoreRedis:
	default:
		return fmt.Errorf("unknown BASTION_TOKEN_STORE %q", c.TokenStore)
	}
	switch c.AccessTokenFormat {
	case TokenFormatOpaque, TokenFormatJWT:
	default:
		return fmt.Errorf("unknown BASTION_ACCESS_TOKEN_FORMAT %q", c.AccessTokenFormat)
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("BASTION_ACCESS_TOKEN_TTL must be positive")
	}
	return nil
}

// LoadSecurityConfig reads the YAML layout named by SecurityConfigFile, or
// returns the built-in one. PreAuthHeader only applies to the built-in
// layout's web chain.
func (c Config) LoadSecurityConfig() (security.WebConfig, error) {
	if c.SecurityConfigFile == "" {
		cfg := httpapi.DefaultWebConfig(c.ResourceID)
		if c.PreAuthHeader != "" {
			for i := range cfg.Chains {
				if cfg.Chains[i].Name == httpapi.ChainWeb {
					cfg.Chains[i].PreAuthenticated = &security.PreAuthenticatedConfig{PrincipalHeader: c.PreAuthHeader}
				}
			}
		}
		return cfg, nil
	}
	f, err := os.Open(c.SecurityConfigFile)
	if err != nil {
		return security.WebConfig{}, fmt.Errorf("open security config: %w", err)
	}
	defer f.Close()
	return security.DecodeWebConfig(f)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
