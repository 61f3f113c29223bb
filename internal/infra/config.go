package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const insecureJWTSecret = "change-me-in-production"

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Storage
	StorageDriver string        `env:"STORAGE_DRIVER" envDefault:"postgres"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	PGHost        string        `env:"PGHOST" envDefault:"localhost"`
	PGPort        int           `env:"PGPORT" envDefault:"5435"`
	PGUser        string        `env:"PGUSER" envDefault:"casino"`
	PGPassword    string        `env:"PGPASSWORD" envDefault:"casino"`
	PGDatabase    string        `env:"PGDATABASE" envDefault:"casino_ledger"`
	PGMaxConns    int32         `env:"PG_MAX_CONNS" envDefault:"20"`
	PGLockTimeout time.Duration `env:"PG_LOCK_TIMEOUT" envDefault:"5s"`
	MigrationsDir string        `env:"MIGRATIONS_DIR" envDefault:"db/migrations"`

	// Redis balance projection
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6380"`
	RedisEnabled bool   `env:"REDIS_ENABLED" envDefault:"false"`

	// JWT
	JWTSecret       string        `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTPlayerExpiry time.Duration `env:"JWT_PLAYER_EXPIRY" envDefault:"24h"`
	JWTAdminExpiry  time.Duration `env:"JWT_ADMIN_EXPIRY" envDefault:"8h"`

	// Server
	APIPort         int           `env:"API_PORT" envDefault:"3100"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	// Kafka event stream
	KafkaBrokers     string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled     bool   `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaTopicPrefix string `env:"KAFKA_TOPIC_PREFIX" envDefault:"casino"`
	EventBufferSize  int    `env:"EVENT_BUFFER_SIZE" envDefault:"1024"`

	// Admin rate limiting
	AdminRateLimit  int           `env:"ADMIN_RATE_LIMIT" envDefault:"60"`
	AdminRateWindow time.Duration `env:"ADMIN_RATE_WINDOW" envDefault:"1m"`

	// Background reconciliation
	ReconcileInterval   time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	SessionIdleTimeout  time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	PendingRoundTimeout time.Duration `env:"PENDING_ROUND_TIMEOUT" envDefault:"5m"`
	CompensateAttempts  int           `env:"COMPENSATE_ATTEMPTS" envDefault:"3"`

	// CORS
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`
}

// LoadConfig loads an optional .env file and parses environment variables
// into a Config struct. Variables already set in the environment win.
func LoadConfig(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for insecure configuration that must not run in production.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass (local dev only).
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StoragePostgres, StorageMemory, c.StorageDriver)
	}
	if c.EventBufferSize <= 0 {
		return fmt.Errorf("EVENT_BUFFER_SIZE must be positive")
	}
	if c.AdminRateLimit <= 0 || c.AdminRateWindow <= 0 {
		return fmt.Errorf("ADMIN_RATE_LIMIT and ADMIN_RATE_WINDOW must be positive")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == insecureJWTSecret {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	if c.StorageDriver == StorageMemory {
		return fmt.Errorf("STORAGE_DRIVER=memory loses all balances on restart; set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	return nil
}

// SlogLevel parses LOG_LEVEL (debug, info, warn, error).
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
