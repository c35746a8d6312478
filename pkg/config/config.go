package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/lmittmann/tint"
)

// Config holds the server settings read from the environment
type Config struct {
	DatabaseURL     string        `env:"QUERYDASH_DATABASE_URL" envDefault:"querydash.db"`
	ListenAddr      string        `env:"QUERYDASH_LISTEN_ADDR" envDefault:":5000"`
	Debug           bool          `env:"QUERYDASH_DEBUG"`
	JWTSecret       string        `env:"QUERYDASH_JWT_SECRET"`
	TokenTTL        time.Duration `env:"QUERYDASH_TOKEN_TTL" envDefault:"12h"`
	DefaultPageSize int           `env:"QUERYDASH_DEFAULT_PAGE_SIZE" envDefault:"25"`
	MaxPageSize     int           `env:"QUERYDASH_MAX_PAGE_SIZE" envDefault:"250"`
	JobWorkers      int           `env:"QUERYDASH_JOB_WORKERS" envDefault:"4"`
}

// Load parses the environment into a Config and validates it
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if os.Getenv("DEBUG") != "" {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that env tags cannot express
func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("QUERYDASH_DATABASE_URL is required")
	}
	if c.DefaultPageSize <= 0 {
		return fmt.Errorf("QUERYDASH_DEFAULT_PAGE_SIZE must be positive, got %d", c.DefaultPageSize)
	}
	if c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("QUERYDASH_MAX_PAGE_SIZE (%d) must be >= QUERYDASH_DEFAULT_PAGE_SIZE (%d)", c.MaxPageSize, c.DefaultPageSize)
	}
	if c.JobWorkers <= 0 {
		return fmt.Errorf("QUERYDASH_JOB_WORKERS must be positive, got %d", c.JobWorkers)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("QUERYDASH_TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	return nil
}

// Dialect reports which database the URL points at: "postgres" or "sqlite3"
func (c Config) Dialect() string {
	return DialectFor(c.DatabaseURL)
}

// DialectFor maps a database URL to a dialect name
func DialectFor(databaseURL string) string {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return "postgres"
	}
	return "sqlite3"
}

// SetupLogging installs a tint handler as the default slog logger
func SetupLogging(debug bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)
	return logger
}
