package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL    string
	RedisURL       string
	Port           string
	GRPCPort       string
	MigrationsPath string
	CORSOrigins    []string

	LedgerMaxAttempts    int
	LedgerRetryBaseDelay time.Duration
	SnapshotTTL          time.Duration
}

// Load reads a .env file if present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		DatabaseURL:    get("DATABASE_URL", ""),
		RedisURL:       get("REDIS_URL", ""),
		Port:           get("PORT", "8080"),
		GRPCPort:       get("GRPC_PORT", "9090"),
		MigrationsPath: get("MIGRATIONS_PATH", "migrations"),
		CORSOrigins:    splitList(get("CORS_ORIGINS", "http://localhost:5173")),
	}

	var errs []error
	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if cfg.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}

	attempts, err := strconv.Atoi(get("LEDGER_MAX_ATTEMPTS", "3"))
	if err != nil || attempts < 1 {
		errs = append(errs, errors.New("LEDGER_MAX_ATTEMPTS must be a positive integer"))
	}
	cfg.LedgerMaxAttempts = attempts

	if cfg.LedgerRetryBaseDelay, err = positiveDuration(get("LEDGER_RETRY_BASE_DELAY", "50ms")); err != nil {
		errs = append(errs, fmt.Errorf("LEDGER_RETRY_BASE_DELAY: %w", err))
	}
	if cfg.SnapshotTTL, err = positiveDuration(get("PORTFOLIO_SNAPSHOT_TTL", "10m")); err != nil {
		errs = append(errs, fmt.Errorf("PORTFOLIO_SNAPSHOT_TTL: %w", err))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func positiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
