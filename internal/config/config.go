package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StorePostgres = "pg"
	StoreMemory   = "memory"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	Store              string        `mapstructure:"STORE"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	DBStatementTimeout time.Duration `mapstructure:"DB_STATEMENT_TIMEOUT"`
	// MigrationsDir overrides the migrations embedded in the binary.
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`
	RedisURL      string `mapstructure:"REDIS_URL"`

	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	OTelEndpoint string `mapstructure:"OTEL_ENDPOINT"`

	MinAdvanceHoursForChange int    `mapstructure:"MIN_ADVANCE_HOURS_FOR_CHANGE"`
	ReopenCancelledSlots     bool   `mapstructure:"REOPEN_CANCELLED_SLOTS"`
	NoShowSweepSpec          string `mapstructure:"NOSHOW_SWEEP_SPEC"`
}

var keys = []string{
	"PORT", "ENV", "STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DB_STATEMENT_TIMEOUT", "MIGRATIONS_DIR", "REDIS_URL",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "OTEL_ENDPOINT",
	"MIN_ADVANCE_HOURS_FOR_CHANGE", "REOPEN_CANCELLED_SLOTS", "NOSHOW_SWEEP_SPEC",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_STATEMENT_TIMEOUT", "10s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("MIN_ADVANCE_HOURS_FOR_CHANGE", 24)
	v.SetDefault("REOPEN_CANCELLED_SLOTS", true)
	v.SetDefault("NOSHOW_SWEEP_SPEC", "@every 30m")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.Store == StorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE=%s", StorePostgres)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate rejects configurations that are unsafe to serve with.
func (c *Config) Validate() error {
	if c.Store != StorePostgres && c.Store != StoreMemory {
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set outside development (ENV=%q)", c.Env)
	}
	if c.IsProduction() && c.Store == StoreMemory {
		return fmt.Errorf("STORE=%s is not allowed in production", StoreMemory)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.MinAdvanceHoursForChange < 0 {
		return fmt.Errorf("MIN_ADVANCE_HOURS_FOR_CHANGE must not be negative")
	}
	return nil
}
