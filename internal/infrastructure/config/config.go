// Package config loads server and client settings from the environment.
// A .env file in the working directory, when present, is applied first and
// never overrides variables already set.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config is the API server configuration.
type Config struct {
	Port     string `env:"PORT,      default=8080"`
	Env      string `env:"ENV,       default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	// AppURL is the public URL of the web application; checkout redirects
	// are built from it.
	AppURL     string `env:"APP_URL,             default=http://localhost:3000"`
	CORSOrigin string `env:"CORS_ALLOWED_ORIGIN, default=http://localhost:3000"`
	// JWTSecret verifies access tokens issued by the identity provider.
	JWTSecret string `env:"IDENTITY_JWT_SECRET, required"`

	Workers int `env:"DISPATCH_WORKERS, default=8"`

	Stripe StripeConfig
	Mongo  MongoConfig
	Redis  RedisConfig
}

type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY, required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET, required"`
	Currency      string `env:"STRIPE_CURRENCY, default=eur"`
	// APIURL overrides the provider endpoint, for local mocks.
	APIURL string `env:"STRIPE_API_URL"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=agency_platform"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR, default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,   default=0"`
}

// Token storage backends for the client.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// ClientConfig is the agencyctl configuration.
type ClientConfig struct {
	Env      string `env:"ENV,       default=development"`
	LogLevel string `env:"LOG_LEVEL, default=warn"`

	APIURL       string `env:"AGENCY_API_URL,        default=http://localhost:8080"`
	AppURL       string `env:"APP_URL,               default=http://localhost:3000"`
	IdentityURL  string `env:"IDENTITY_URL,          required"`
	IdentityAnon string `env:"IDENTITY_ANON_KEY,     required"`

	TokenBackend string `env:"AGENCY_TOKEN_BACKEND, default=file"`
	TokenPath    string `env:"AGENCY_TOKEN_PATH"`
	TokenRedis   RedisConfig

	SafetyTimeout   time.Duration `env:"AGENCY_AUTH_SAFETY_TIMEOUT, default=5s"`
	FreshnessMargin time.Duration `env:"AGENCY_FRESHNESS_MARGIN,    default=60s"`
	RefreshTimeout  time.Duration `env:"AGENCY_REFRESH_TIMEOUT,     default=10s"`
	GlobalCeiling   int           `env:"AGENCY_GLOBAL_RETRY_CEILING, default=10"`
	LocalCeiling    int           `env:"AGENCY_LOCAL_RETRY_CEILING,  default=5"`
	MinInterval     time.Duration `env:"AGENCY_FETCH_MIN_INTERVAL,  default=1s"`
	RequestTimeout  time.Duration `env:"AGENCY_REQUEST_TIMEOUT,     default=15s"`
}

// Load reads the server configuration.
func Load(ctx context.Context) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("config: DISPATCH_WORKERS must be positive, got %d", cfg.Workers)
	}
	return &cfg, nil
}

// LoadClient reads the agencyctl configuration.
func LoadClient(ctx context.Context) (*ClientConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	var cfg ClientConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	switch cfg.TokenBackend {
	case BackendFile:
		if cfg.TokenPath == "" {
			dir, err := os.UserConfigDir()
			if err != nil {
				return nil, fmt.Errorf("config: resolve token path: %w", err)
			}
			cfg.TokenPath = filepath.Join(dir, "agencyctl", "session.json")
		}
	case BackendRedis:
	default:
		return nil, fmt.Errorf("config: unknown token backend %q", cfg.TokenBackend)
	}
	return &cfg, nil
}

// ProjectRef is the identity project reference, the first host label of the
// identity URL. Older clients keyed their stored session by it.
func (c *ClientConfig) ProjectRef() string {
	u, err := url.Parse(c.IdentityURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	ref, _, _ := strings.Cut(u.Hostname(), ".")
	return ref
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: read .env: %w", err)
	}
	return nil
}
