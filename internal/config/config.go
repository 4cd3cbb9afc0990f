package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string   `mapstructure:"PORT"`
	Env             string   `mapstructure:"ENV"`
	DatabaseURL     string   `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32    `mapstructure:"DB_MIN_CONNS"`
	BackendAPIURL   string   `mapstructure:"BACKEND_API_URL"`
	BackendAPIToken string   `mapstructure:"BACKEND_API_TOKEN"`
	JWTSecret       string   `mapstructure:"JWT_SECRET"`
	CORSOrigins     []string `mapstructure:"CORS_ORIGINS"`
	MirrorDebounce  int      `mapstructure:"MIRROR_DEBOUNCE_MS"`
	SessionTTLHours int      `mapstructure:"SESSION_TTL_HOURS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("MIRROR_DEBOUNCE_MS", 400)
	v.SetDefault("SESSION_TTL_HOURS", 72)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("BACKEND_API_URL")
	v.BindEnv("BACKEND_API_TOKEN")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("MIRROR_DEBOUNCE_MS")
	v.BindEnv("SESSION_TTL_HOURS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// MirrorDebounceDuration returns the snapshot-mirror debounce window.
func (c *Config) MirrorDebounceDuration() time.Duration {
	return time.Duration(c.MirrorDebounce) * time.Millisecond
}

// SessionTTL returns how long an untouched session survives before the
// janitor purges it.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// Validate checks that the configuration is safe to run. Outside development
// the server refuses to start without a database, a records API endpoint and
// a JWT secret.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.BackendAPIURL == "" {
		return fmt.Errorf("BACKEND_API_URL is required")
	}
	if _, err := url.Parse(c.BackendAPIURL); err != nil {
		return fmt.Errorf("BACKEND_API_URL is not a valid url: %w", err)
	}
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required outside development")
	}
	if c.MirrorDebounce < 0 {
		return fmt.Errorf("MIRROR_DEBOUNCE_MS must not be negative")
	}
	return nil
}
