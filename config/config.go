package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // Optional: when nil, execution recording is disabled
	Fallback      FallbackConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// FallbackConfig holds the fallback executor configuration
type FallbackConfig struct {
	// Backends lists backend model identifiers in priority order,
	// highest priority first.
	Backends []string

	// GeminiBinary is the CLI binary the invoker shells out to.
	GeminiBinary string

	// MaxRetriesPerBackend bounds attempts against one backend before rotating.
	MaxRetriesPerBackend int

	// MaxCycles bounds full passes through the backend list.
	MaxCycles int

	// AttemptTimeout bounds a single invocation, not the whole run.
	AttemptTimeout time.Duration

	// RetryBackoff is the pause before re-attempting the same backend.
	RetryBackoff time.Duration

	// CycleBackoff is the pause before restarting from the first backend.
	CycleBackoff time.Duration
}

// AuthConfig holds JWT authentication configuration
type AuthConfig struct {
	// Secret signs and verifies HS256 bearer tokens. Outside production an
	// empty secret disables auth on the API routes.
	Secret   string
	Issuer   string
	Audience string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// defaultBackends is the built-in backend priority order (Pro first, Lite last).
var defaultBackends = []string{
	"gemini-2.5-pro",
	"gemini-2.5-flash",
	"gemini-2.5-flash-preview-09-2025",
	"gemini-2.5-flash-lite",
	"gemini-1.5-pro",
	"gemini-1.5-flash",
}

// DefaultBackends returns a copy of the built-in backend priority list.
func DefaultBackends() []string {
	out := make([]string, len(defaultBackends))
	copy(out, defaultBackends)
	return out
}

// New creates a new Config instance by loading environment variables
func New() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout: getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			// A single execution may spend its full retry budget, so the
			// write timeout has to cover the worst case, not one attempt.
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		Fallback: FallbackConfig{
			Backends:             getEnvAsList("FALLBACK_BACKENDS", defaultBackends),
			GeminiBinary:         getEnv("GEMINI_BINARY", "gemini"),
			MaxRetriesPerBackend: getEnvAsInt("FALLBACK_MAX_RETRIES", 3),
			MaxCycles:            getEnvAsInt("FALLBACK_MAX_CYCLES", 3),
			AttemptTimeout:       getEnvAsDuration("FALLBACK_ATTEMPT_TIMEOUT", 60*time.Second),
			RetryBackoff:         getEnvAsDuration("FALLBACK_RETRY_BACKOFF", 5*time.Second),
			CycleBackoff:         getEnvAsDuration("FALLBACK_CYCLE_BACKOFF", 2*time.Second),
		},
		Auth: AuthConfig{
			Secret:   getEnv("AUTH_JWT_SECRET", ""),
			Issuer:   getEnv("AUTH_JWT_ISSUER", "fallback-gateway"),
			Audience: getEnv("AUTH_JWT_AUDIENCE", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if len(c.Fallback.Backends) == 0 {
		return fmt.Errorf("at least one fallback backend is required")
	}
	if c.Fallback.MaxRetriesPerBackend < 1 {
		return fmt.Errorf("fallback max retries must be at least 1")
	}
	if c.Fallback.MaxCycles < 1 {
		return fmt.Errorf("fallback max cycles must be at least 1")
	}
	if c.Fallback.AttemptTimeout <= 0 {
		return fmt.Errorf("fallback attempt timeout must be positive")
	}
	if c.Fallback.GeminiBinary == "" {
		return fmt.Errorf("gemini binary is required")
	}

	// Auth is mandatory in production
	if c.IsProduction() && c.Auth.Secret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required in production")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Returns nil when neither is set (execution recording disabled).
func loadDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return &DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	if getEnv("DB_HOST", "") == "" {
		return nil
	}
	return &DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "fallback"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList parses a comma-separated env var, trimming whitespace around entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		out := make([]string, len(defaultValue))
		copy(out, defaultValue)
		return out
	}
	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
