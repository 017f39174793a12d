// Package config loads and validates the orgstore configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the ORGSTORE_ prefix (e.g.,
// ORGSTORE_DATABASE_HOST overrides database.host in the YAML), so the same
// binary runs with a config.yaml locally and with pure environment variables in
// containers.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Namespaces NamespacesConfig `mapstructure:"namespaces"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Locking    LockingConfig    `mapstructure:"locking"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Security   SecurityConfig   `mapstructure:"security"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds connection settings for the master (registry) database
type DatabaseConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Name               string        `mapstructure:"name"`
	User               string        `mapstructure:"user"`
	Password           string        `mapstructure:"password"`
	SSLMode            string        `mapstructure:"ssl_mode"`
	MaxConnections     int           `mapstructure:"max_connections"`
	MinIdleConnections int           `mapstructure:"min_idle_connections"`
	StatementTimeout   time.Duration `mapstructure:"statement_timeout"`
}

// NamespacesConfig selects where per-organization data lives
type NamespacesConfig struct {
	// Backend is one of "postgres", "mongo" or "memory"
	Backend string      `mapstructure:"backend"`
	Mongo   MongoConfig `mapstructure:"mongo"`
}

// MongoConfig holds MongoDB connection settings for the mongo namespace backend
type MongoConfig struct {
	URI              string        `mapstructure:"uri"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// AuthConfig holds session token and password hashing settings
type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	Issuer     string        `mapstructure:"issuer"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

// LockingConfig selects the per-organization lock implementation
type LockingConfig struct {
	// Backend is one of "memory", "redis" or "postgres"
	Backend string `mapstructure:"backend"`
	// TTL is the redis lock lease. A held lock is renewed every TTL/3, so it
	// only lapses when the holder dies or loses redis for a full TTL.
	TTL time.Duration `mapstructure:"ttl"`
	// MaxConnections sizes the postgres locker's own pool. Each held lock pins
	// one connection, so this caps concurrent lifecycle operations.
	MaxConnections int `mapstructure:"max_connections"`
}

// RedisConfig holds Redis connection settings shared by the redis locker and rate limiter
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// RateLimitingConfig holds login rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Backend           string `mapstructure:"backend"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	Burst             int    `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuditConfig controls where audit records of mutating requests are shipped.
// Records always go to the application log; File adds a JSON-lines sink.
type AuditConfig struct {
	File AuditFileConfig `mapstructure:"file"`
}

// AuditFileConfig holds settings for the JSON-lines audit file. An empty Path
// disables the file sink.
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// JobsConfig holds background job settings
type JobsConfig struct {
	OrphanScan OrphanScanConfig `mapstructure:"orphan_scan"`
}

// OrphanScanConfig controls the periodic report-only orphan scan
type OrphanScanConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// AutomaticEnv() alone does not populate nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",
		"database.statement_timeout",

		// Namespaces
		"namespaces.backend",
		"namespaces.mongo.uri",
		"namespaces.mongo.connect_timeout",
		"namespaces.mongo.operation_timeout",

		// Auth
		"auth.jwt_secret",
		"auth.token_ttl",
		"auth.issuer",
		"auth.bcrypt_cost",

		// Locking
		"locking.backend",
		"locking.ttl",
		"locking.max_connections",

		// Redis
		"redis.addr",
		"redis.username",
		"redis.password",
		"redis.db",
		"redis.tls",

		// Security
		"security.rate_limiting.enabled",
		"security.rate_limiting.backend",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Audit
		"audit.file.path",
		"audit.file.max_size_mb",
		"audit.file.max_backups",

		// Jobs
		"jobs.orphan_scan.enabled",
		"jobs.orphan_scan.interval",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/orgstore")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("ORGSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Namespaces.Mongo.URI = expandEnv(cfg.Namespaces.Mongo.URI)
	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "orgstore_master")
	v.SetDefault("database.user", "orgstore")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)
	v.SetDefault("database.statement_timeout", "10s")

	// Namespace defaults
	v.SetDefault("namespaces.backend", "postgres")
	v.SetDefault("namespaces.mongo.connect_timeout", "5s")
	v.SetDefault("namespaces.mongo.operation_timeout", "10s")

	// Auth defaults
	v.SetDefault("auth.token_ttl", "30m")
	v.SetDefault("auth.issuer", "orgstore")
	v.SetDefault("auth.bcrypt_cost", 12)

	// Locking defaults
	v.SetDefault("locking.backend", "memory")
	v.SetDefault("locking.ttl", "2m")
	v.SetDefault("locking.max_connections", 5)

	// Redis defaults
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tls", false)

	// Security defaults
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.backend", "memory")
	v.SetDefault("security.rate_limiting.requests_per_minute", 10)
	v.SetDefault("security.rate_limiting.burst", 5)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Audit defaults
	v.SetDefault("audit.file.max_size_mb", 100)
	v.SetDefault("audit.file.max_backups", 5)

	// Jobs defaults
	v.SetDefault("jobs.orphan_scan.enabled", true)
	v.SetDefault("jobs.orphan_scan.interval", "1h")
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	validNamespaceBackends := map[string]bool{"postgres": true, "mongo": true, "memory": true}
	if !validNamespaceBackends[c.Namespaces.Backend] {
		return fmt.Errorf("invalid namespace backend: %s (must be postgres, mongo, or memory)", c.Namespaces.Backend)
	}
	if c.Namespaces.Backend == "mongo" && c.Namespaces.Mongo.URI == "" {
		return fmt.Errorf("namespaces.mongo.uri is required when using the mongo backend")
	}

	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("invalid auth.bcrypt_cost: %d (must be between 4 and 31)", c.Auth.BcryptCost)
	}

	validLockBackends := map[string]bool{"memory": true, "redis": true, "postgres": true}
	if !validLockBackends[c.Locking.Backend] {
		return fmt.Errorf("invalid locking backend: %s (must be memory, redis, or postgres)", c.Locking.Backend)
	}
	if c.Locking.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when using the redis locking backend")
	}
	if c.Locking.Backend == "redis" && c.Locking.TTL <= 0 {
		return fmt.Errorf("locking.ttl must be positive when using the redis locking backend")
	}
	if c.Locking.Backend == "postgres" && c.Locking.MaxConnections <= 0 {
		return fmt.Errorf("locking.max_connections must be positive when using the postgres locking backend")
	}

	if c.Security.RateLimiting.Enabled {
		switch c.Security.RateLimiting.Backend {
		case "memory":
		case "redis":
			if c.Redis.Addr == "" {
				return fmt.Errorf("redis.addr is required when using the redis rate limiting backend")
			}
		default:
			return fmt.Errorf("invalid rate limiting backend: %s (must be memory or redis)", c.Security.RateLimiting.Backend)
		}
		if c.Security.RateLimiting.RequestsPerMinute < 1 {
			return fmt.Errorf("security.rate_limiting.requests_per_minute must be positive")
		}
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Audit.File.MaxSizeMB < 0 || c.Audit.File.MaxBackups < 0 {
		return fmt.Errorf("audit.file.max_size_mb and audit.file.max_backups must not be negative")
	}

	if c.Jobs.OrphanScan.Enabled && c.Jobs.OrphanScan.Interval <= 0 {
		return fmt.Errorf("jobs.orphan_scan.interval must be positive when the orphan scan is enabled")
	}

	return nil
}

// RedisEnabled reports whether any component needs a Redis client
func (c *Config) RedisEnabled() bool {
	return c.Locking.Backend == "redis" ||
		(c.Security.RateLimiting.Enabled && c.Security.RateLimiting.Backend == "redis")
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
	if c.StatementTimeout > 0 {
		dsn += fmt.Sprintf(" statement_timeout=%d", c.StatementTimeout.Milliseconds())
	}
	return dsn
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
