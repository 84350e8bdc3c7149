package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	// Remote API
	APIBaseURL         string        `mapstructure:"API_BASE_URL"`
	APIToken           string        `mapstructure:"API_TOKEN"`
	APIUsername        string        `mapstructure:"API_USERNAME"`
	APIPassword        string        `mapstructure:"API_PASSWORD"`
	Envelope           string        `mapstructure:"ENVELOPE"`
	PageSize           int           `mapstructure:"PAGE_SIZE"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `mapstructure:"RATE_LIMIT_BURST"`
	SessionIdleTimeout time.Duration `mapstructure:"SESSION_IDLE_TIMEOUT"`
	HTTPTimeout        time.Duration `mapstructure:"HTTP_TIMEOUT"`
	OfflineDBPath      string        `mapstructure:"OFFLINE_DB_PATH"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	Env      string `mapstructure:"ENV"`

	// Development server
	Port             string        `mapstructure:"PORT"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	JWTSecret        string        `mapstructure:"JWT_SECRET"`
	JWTIssuer        string        `mapstructure:"JWT_ISSUER"`
	JWTTTL           time.Duration `mapstructure:"JWT_TTL"`
	DevRequireAuth   bool          `mapstructure:"DEV_REQUIRE_AUTH"`
	DevAdminUsername string        `mapstructure:"DEV_ADMIN_USERNAME"`
	DevAdminPassword string        `mapstructure:"DEV_ADMIN_PASSWORD"`
	DevRateLimitRPS  float64       `mapstructure:"DEV_RATE_LIMIT_RPS"`
}

var keys = []string{
	"API_BASE_URL",
	"API_TOKEN",
	"API_USERNAME",
	"API_PASSWORD",
	"ENVELOPE",
	"PAGE_SIZE",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"SESSION_IDLE_TIMEOUT",
	"HTTP_TIMEOUT",
	"OFFLINE_DB_PATH",
	"LOG_LEVEL",
	"ENV",
	"PORT",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"JWT_SECRET",
	"JWT_ISSUER",
	"JWT_TTL",
	"DEV_REQUIRE_AUTH",
	"DEV_ADMIN_USERNAME",
	"DEV_ADMIN_PASSWORD",
	"DEV_RATE_LIMIT_RPS",
}

// Load reads .env (if present) and the environment. Environment values win.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("API_BASE_URL", "http://localhost:8097/api")
	v.SetDefault("ENVELOPE", "spring")
	v.SetDefault("PAGE_SIZE", 20)
	v.SetDefault("RATE_LIMIT_RPS", 0)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("SESSION_IDLE_TIMEOUT", "15m")
	v.SetDefault("HTTP_TIMEOUT", "30s")
	v.SetDefault("OFFLINE_DB_PATH", "comvida.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ENV", "development")
	v.SetDefault("PORT", "8097")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("JWT_ISSUER", "comvida-devserver")
	v.SetDefault("JWT_TTL", "1h")
	v.SetDefault("DEV_REQUIRE_AUTH", false)
	v.SetDefault("DEV_ADMIN_USERNAME", "admin")
	v.SetDefault("DEV_RATE_LIMIT_RPS", 50)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the configuration is meant for production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Level parses LOG_LEVEL, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks the client settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Envelope)) {
	case "", "spring", "legacy":
	default:
		return fmt.Errorf("ENVELOPE must be \"spring\" or \"legacy\", got %q", c.Envelope)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE must be positive, got %d", c.PageSize)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative")
	}
	if c.SessionIdleTimeout < 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must not be negative")
	}
	if (c.APIUsername == "") != (c.APIPassword == "") {
		return fmt.Errorf("API_USERNAME and API_PASSWORD must be set together")
	}
	return nil
}

// ValidateServer checks the development server settings. Authentication
// needs a signing secret, and production refuses to run without it.
func (c *Config) ValidateServer() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Envelope)) {
	case "", "spring", "legacy":
	default:
		return fmt.Errorf("ENVELOPE must be \"spring\" or \"legacy\", got %q", c.Envelope)
	}
	if (c.DevRequireAuth || c.IsProduction()) && len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET of at least 16 characters is required when authentication is enabled")
	}
	if c.IsProduction() && !c.DevRequireAuth {
		return fmt.Errorf("DEV_REQUIRE_AUTH must be true in production")
	}
	if c.DevRequireAuth && c.DevAdminPassword == "" {
		return fmt.Errorf("DEV_ADMIN_PASSWORD is required when DEV_REQUIRE_AUTH is true")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

// Backend names the devserver storage: postgres when DATABASE_URL is set,
// memory otherwise.
func (c *Config) Backend() string {
	if c.DatabaseURL != "" {
		return "postgres"
	}
	return "memory"
}
