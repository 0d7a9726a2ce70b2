// Package config loads runtime settings from the environment.
//
// A .env file in the working directory is read first when present; real
// environment variables always win over it.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// DefaultFrontendURL is used when FRONTEND_URL is unset outside production.
const DefaultFrontendURL = "http://localhost:3000"

// Store kinds selected by DATABASE_URL.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds every setting the server needs.
type Config struct {
	Port      int    `env:"PORT" envDefault:"8080"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite://data/incubator.db"`

	JWTSecret string        `env:"JWT_SECRET"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"incubator"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"1h"`

	Google      GoogleConfig
	FrontendURL string `env:"FRONTEND_URL"`

	SMS SMSConfig
	OTP OTPConfig

	RateLimitDisabled bool `env:"RATE_LIMIT_DISABLED" envDefault:"false"`
}

type GoogleConfig struct {
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	CallbackURL  string `env:"GOOGLE_CALLBACK_URL"`
}

// Enabled reports whether the Google routes should be mounted.
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != "" && g.CallbackURL != ""
}

func (g GoogleConfig) partial() bool {
	set := 0
	for _, v := range []string{g.ClientID, g.ClientSecret, g.CallbackURL} {
		if v != "" {
			set++
		}
	}
	return set > 0 && set < 3
}

type SMSConfig struct {
	APIKey   string        `env:"SMS_API_KEY"`
	APIURL   string        `env:"SMS_API_URL"`
	SenderID string        `env:"SMS_SENDER_ID" envDefault:"INCUBR"`
	Timeout  time.Duration `env:"SMS_TIMEOUT" envDefault:"10s"`
}

type OTPConfig struct {
	TTL          time.Duration `env:"OTP_TTL" envDefault:"5m"`
	MaxAttempts  int           `env:"OTP_MAX_ATTEMPTS" envDefault:"3"`
	PhonePattern string        `env:"OTP_PHONE_PATTERN" envDefault:"^\\+91[6-9]\\d{9}$"`
	// AllowMockFallback is nil when OTP_ALLOW_MOCK_FALLBACK is unset; the
	// default then depends on the environment, see MockFallback.
	AllowMockFallback *bool `env:"OTP_ALLOW_MOCK_FALLBACK"`
}

// Load reads .env (if any) and parses the environment into a Config.
// The result is validated before it is returned.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}

	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	cfg.FrontendURL = strings.TrimRight(strings.TrimSpace(cfg.FrontendURL), "/")
	if cfg.FrontendURL == "" && !cfg.IsProduction() {
		cfg.FrontendURL = DefaultFrontendURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.Env {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		errs = append(errs, fmt.Errorf("APP_ENV must be one of development, production, test (got %q)", c.Env))
	}

	minSecret := 16
	if c.IsProduction() {
		minSecret = 32
	}
	switch {
	case c.JWTSecret == "":
		errs = append(errs, errors.New("JWT_SECRET is required"))
	case len(c.JWTSecret) < minSecret:
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters", minSecret))
	}

	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}

	if c.Google.partial() {
		errs = append(errs, errors.New("GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_CALLBACK_URL must be set together"))
	}

	if c.IsProduction() && c.FrontendURL == "" {
		errs = append(errs, errors.New("FRONTEND_URL is required in production"))
	}

	if _, err := regexp.Compile(c.OTP.PhonePattern); err != nil {
		errs = append(errs, fmt.Errorf("OTP_PHONE_PATTERN: %w", err))
	}
	if c.OTP.TTL <= 0 {
		errs = append(errs, errors.New("OTP_TTL must be positive"))
	}
	if c.OTP.MaxAttempts < 1 {
		errs = append(errs, errors.New("OTP_MAX_ATTEMPTS must be at least 1"))
	}

	if _, _, err := c.Store(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// MockFallback reports whether a failed SMS delivery may fall back to
// returning the code in the response. Unset means allowed everywhere except
// production.
func (c *Config) MockFallback() bool {
	if c.OTP.AllowMockFallback != nil {
		return *c.OTP.AllowMockFallback
	}
	return !c.IsProduction()
}

// Store splits DATABASE_URL into a store kind and the value its driver
// expects: a file path for SQLite, the full DSN for Postgres.
//
//	sqlite://data/incubator.db          → ("sqlite", "data/incubator.db")
//	sqlite://:memory:                   → ("sqlite", ":memory:")
//	postgres://u:p@host:5432/db         → ("postgres", "postgres://u:p@host:5432/db")
func (c *Config) Store() (kind, dsn string, err error) {
	u := strings.TrimSpace(c.DatabaseURL)
	switch {
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return StorePostgres, u, nil
	case strings.HasPrefix(u, "sqlite://"):
		path := strings.TrimPrefix(u, "sqlite://")
		if path == "" {
			return "", "", errors.New("DATABASE_URL: sqlite path is empty")
		}
		return StoreSQLite, path, nil
	}
	return "", "", fmt.Errorf("DATABASE_URL: unsupported scheme in %q", redact(u))
}

// redact hides everything after the scheme so credentials never reach logs.
func redact(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		return u[:i+3] + "..."
	}
	return "..."
}
