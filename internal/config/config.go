package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/rs/zerolog/log"
)

// Config holds application configuration
type Config struct {
	Port           int            `yaml:"port" env:"PORT" env-default:"8080"`
	Environment    string         `yaml:"environment" env:"ENVIRONMENT" env-default:"production"`
	AppURL         string         `yaml:"app_url" env:"APP_URL"`
	LogLevel       string         `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	AdminAPIKey    string         `yaml:"admin_api_key" env:"ADMIN_API_KEY"`
	DemoMode       bool           `yaml:"demo_mode" env:"DEMO_MODE" env-default:"false"`
	Database       DatabaseConfig `yaml:"database"`
	Cache          CacheConfig    `yaml:"cache"`
	Session        SessionConfig  `yaml:"session"`
	OAuth          OAuthConfig    `yaml:"oauth"`
	Dynamics       DynamicsConfig `yaml:"dynamics"`
	Webhook        WebhookConfig  `yaml:"webhook"`
	ActivityLog    ActivityConfig `yaml:"activity_log"`
	RequestTimeout time.Duration  `yaml:"request_timeout" env:"REQUEST_TIMEOUT" env-default:"30s"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type         string `yaml:"type" env:"DATABASE_TYPE" env-default:"postgres"`
	DSN          string `yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns int    `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"5"`
}

// CacheConfig selects the backend for OAuth states, cached tokens and sessions.
type CacheConfig struct {
	Backend       string `yaml:"backend" env:"CACHE_BACKEND" env-default:"memory"`
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB" env-default:"0"`
}

// SessionConfig holds visitor session cookie configuration
type SessionConfig struct {
	Secret     string        `yaml:"secret" env:"SESSION_SECRET"`
	CookieName string        `yaml:"cookie_name" env:"SESSION_COOKIE_NAME" env-default:"dsl_session"`
	DefaultTTL time.Duration `yaml:"default_ttl" env:"SESSION_DEFAULT_TTL" env-default:"1h"`
}

// OAuthConfig holds the Microsoft identity platform settings used to seed the settings record
type OAuthConfig struct {
	ClientID     string `yaml:"client_id" env:"OAUTH_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"OAUTH_CLIENT_SECRET"`
	TenantID     string `yaml:"tenant_id" env:"OAUTH_TENANT_ID"`
	AuthorityURL string `yaml:"authority_url" env:"OAUTH_AUTHORITY_URL"`
	GraphURL     string `yaml:"graph_url" env:"OAUTH_GRAPH_URL" env-default:"https://graph.microsoft.com/v1.0"`
	PostLoginURL string `yaml:"post_login_url" env:"OAUTH_POST_LOGIN_URL"`
	FailureURL   string `yaml:"failure_url" env:"OAUTH_FAILURE_URL"`
}

// DynamicsConfig holds the Dynamics 365 Web API settings used to seed the settings record
type DynamicsConfig struct {
	ResourceURL string        `yaml:"resource_url" env:"DYNAMICS_RESOURCE_URL"`
	APIVersion  string        `yaml:"api_version" env:"DYNAMICS_API_VERSION" env-default:"9.2"`
	DemoDelay   time.Duration `yaml:"demo_delay" env:"DYNAMICS_DEMO_DELAY" env-default:"500ms"`
	// AllowPrivateHosts permits a resource URL on loopback or private addresses.
	AllowPrivateHosts bool `yaml:"allow_private_hosts" env:"DYNAMICS_ALLOW_PRIVATE_HOSTS" env-default:"false"`
}

// WebhookConfig holds inbound webhook settings
type WebhookConfig struct {
	Secret string `yaml:"secret" env:"WEBHOOK_SECRET"`
	// RateLimit is requests per second per source IP; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" env:"WEBHOOK_RATE_LIMIT" env-default:"0"`
	Burst     int     `yaml:"burst" env:"WEBHOOK_RATE_BURST" env-default:"10"`
}

// ActivityConfig holds activity log table settings
type ActivityConfig struct {
	Enabled       bool `yaml:"enabled" env:"LOGGING_ENABLED" env-default:"true"`
	RetentionDays int  `yaml:"retention_days" env:"LOG_RETENTION_DAYS" env-default:"30"`
}

// Load loads configuration from an optional YAML file followed by environment variables.
// An empty path reads the environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = buildPostgresDSN()
	}
	if cfg.Session.Secret == "" {
		if cfg.Environment == "production" {
			return nil, fmt.Errorf("SESSION_SECRET environment variable is required in production")
		}
		log.Warn().Msg("SESSION_SECRET not set, generating a random secret for development; sessions will not survive a restart")
		cfg.Session.Secret = generateRandomSecret()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if !cfg.DemoMode && (cfg.OAuth.ClientID == "" || cfg.OAuth.TenantID == "") {
		log.Warn().Msg("OAUTH_CLIENT_ID or OAUTH_TENANT_ID not set; sign-in stays unavailable until configured through the admin API")
	}

	return &cfg, nil
}

func buildPostgresDSN() string {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "dynsync")
	password := getEnv("POSTGRES_PASSWORD", "secret")
	dbName := getEnv("POSTGRES_DB", "dynsync")
	sslMode := getEnv("POSTGRES_SSLMODE", "disable")

	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%s", host, port),
		Path:   dbName,
	}

	query := u.Query()
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()

	return u.String()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Environment == "production" {
		if len(c.Session.Secret) < 32 {
			return fmt.Errorf("SESSION_SECRET must be at least 32 characters in production")
		}
		if c.AdminAPIKey == "" {
			return fmt.Errorf("ADMIN_API_KEY is required in production")
		}
		if c.AppURL == "" {
			return fmt.Errorf("APP_URL is required in production")
		}
	}

	if c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend)
	}

	if c.ActivityLog.RetentionDays < 1 {
		return fmt.Errorf("LOG_RETENTION_DAYS must be at least 1")
	}

	if c.Webhook.RateLimit < 0 {
		return fmt.Errorf("WEBHOOK_RATE_LIMIT cannot be negative")
	}

	return nil
}

// CallbackURL is the fixed OAuth redirect_uri registered with the identity provider.
func (c *Config) CallbackURL() string {
	base := c.AppURL
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", c.Port)
	}
	return base + "/oauth/callback"
}

// CORSOrigins returns the browser origins allowed to call the JSON endpoints.
func (c *Config) CORSOrigins() []string {
	if c.AppURL != "" {
		return []string{c.AppURL}
	}
	return []string{"http://localhost:3000", fmt.Sprintf("http://localhost:%d", c.Port)}
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		log.Fatal().Err(err).Msg("Failed to generate random secret")
	}
	return base64.URLEncoding.EncodeToString(bytes)
}
