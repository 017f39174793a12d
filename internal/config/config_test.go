package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "orgstore",
				Password: "secret",
				Name:     "orgstore_master",
				SSLMode:  "require",
			},
			want: "host=localhost port=5432 user=orgstore password=secret dbname=orgstore_master sslmode=require",
		},
		{
			name: "with statement timeout",
			cfg: DatabaseConfig{
				Host:             "db.example.com",
				Port:             5433,
				User:             "admin",
				Password:         "pass",
				Name:             "mydb",
				SSLMode:          "disable",
				StatementTimeout: 5 * time.Second,
			},
			want: "host=db.example.com port=5433 user=admin password=pass dbname=mydb sslmode=disable statement_timeout=5000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetDSN()
			if got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// ServerConfig.GetAddress
// ---------------------------------------------------------------------------

func TestGetAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"default", ServerConfig{Host: "0.0.0.0", Port: 8080}, "0.0.0.0:8080"},
		{"localhost", ServerConfig{Host: "localhost", Port: 3000}, "localhost:3000"},
		{"empty host", ServerConfig{Host: "", Port: 8080}, ":8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetAddress()
			if got != tt.want {
				t.Errorf("GetAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Config.Validate
// ---------------------------------------------------------------------------

func minimalValidConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host: "localhost",
			Name: "orgstore_master",
			User: "orgstore",
		},
		Namespaces: NamespacesConfig{Backend: "postgres"},
		Auth:       AuthConfig{TokenTTL: 30 * time.Minute, BcryptCost: 12},
		Locking:    LockingConfig{Backend: "memory"},
		Security: SecurityConfig{
			RateLimiting: RateLimitingConfig{Enabled: true, Backend: "memory", RequestsPerMinute: 10},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid minimal config passes", func(t *testing.T) {
		if err := minimalValidConfig().Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"missing db host", func(c *Config) { c.Database.Host = "" }, "database.host"},
		{"missing db name", func(c *Config) { c.Database.Name = "" }, "database.name"},
		{"missing db user", func(c *Config) { c.Database.User = "" }, "database.user"},
		{"unknown namespace backend", func(c *Config) { c.Namespaces.Backend = "cassandra" }, "invalid namespace backend"},
		{"mongo without uri", func(c *Config) { c.Namespaces.Backend = "mongo" }, "namespaces.mongo.uri"},
		{"zero token ttl", func(c *Config) { c.Auth.TokenTTL = 0 }, "auth.token_ttl"},
		{"bcrypt cost too low", func(c *Config) { c.Auth.BcryptCost = 2 }, "bcrypt_cost"},
		{"unknown lock backend", func(c *Config) { c.Locking.Backend = "etcd" }, "invalid locking backend"},
		{"redis lock without addr", func(c *Config) { c.Locking.Backend = "redis" }, "redis.addr"},
		{"redis lock without ttl", func(c *Config) { c.Locking.Backend = "redis"; c.Redis.Addr = "localhost:6379" }, "locking.ttl"},
		{"postgres lock without pool size", func(c *Config) { c.Locking.Backend = "postgres" }, "locking.max_connections"},
		{"redis rate limit without addr", func(c *Config) { c.Security.RateLimiting.Backend = "redis" }, "redis.addr"},
		{"unknown rate limit backend", func(c *Config) { c.Security.RateLimiting.Backend = "nginx" }, "invalid rate limiting backend"},
		{"zero requests per minute", func(c *Config) { c.Security.RateLimiting.RequestsPerMinute = 0 }, "requests_per_minute"},
		{"tls without cert", func(c *Config) { c.Security.TLS.Enabled = true }, "cert_file"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid logging level"},
		{"zero orphan scan interval", func(c *Config) { c.Jobs.OrphanScan = OrphanScanConfig{Enabled: true} }, "jobs.orphan_scan.interval"},
		{"negative audit backups", func(c *Config) { c.Audit.File.MaxBackups = -1 }, "audit.file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := minimalValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}

	t.Run("rate limit backend ignored when disabled", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Security.RateLimiting.Enabled = false
		cfg.Security.RateLimiting.Backend = "nginx"
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})
}

func TestRedisEnabled(t *testing.T) {
	cfg := minimalValidConfig()
	if cfg.RedisEnabled() {
		t.Error("RedisEnabled() = true for memory backends")
	}
	cfg.Locking.Backend = "redis"
	if !cfg.RedisEnabled() {
		t.Error("RedisEnabled() = false with redis locking")
	}
	cfg.Locking.Backend = "memory"
	cfg.Security.RateLimiting.Backend = "redis"
	if !cfg.RedisEnabled() {
		t.Error("RedisEnabled() = false with redis rate limiting")
	}
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// writeTempConfig creates a temp YAML file and registers a cleanup to remove it.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "config-test-*.yaml")
	if err != nil {
		t.Fatal("CreateTemp:", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	if _, err := f.WriteString(content); err != nil {
		t.Fatal("WriteString:", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_WithConfigFile(t *testing.T) {
	const content = `
server:
  host: "testhost"
  port: 9999
database:
  host: "dbhost"
  name: "testdb"
  user: "testuser"
namespaces:
  backend: "memory"
logging:
  level: "debug"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Host != "testhost" {
		t.Errorf("Server.Host = %q, want testhost", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Database.Name != "testdb" {
		t.Errorf("Database.Name = %q, want testdb", cfg.Database.Name)
	}
	if cfg.Namespaces.Backend != "memory" {
		t.Errorf("Namespaces.Backend = %q, want memory", cfg.Namespaces.Backend)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "logging:\n  format: text\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Auth.TokenTTL != 30*time.Minute {
		t.Errorf("Auth.TokenTTL = %v, want 30m", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.BcryptCost != 12 {
		t.Errorf("Auth.BcryptCost = %d, want 12", cfg.Auth.BcryptCost)
	}
	if cfg.Namespaces.Backend != "postgres" {
		t.Errorf("Namespaces.Backend = %q, want postgres", cfg.Namespaces.Backend)
	}
	if cfg.Locking.Backend != "memory" {
		t.Errorf("Locking.Backend = %q, want memory", cfg.Locking.Backend)
	}
	if cfg.Locking.MaxConnections != 5 || cfg.Locking.TTL != 2*time.Minute {
		t.Errorf("Locking = %+v, want 5 connections and a 2m ttl", cfg.Locking)
	}
	if !cfg.Jobs.OrphanScan.Enabled || cfg.Jobs.OrphanScan.Interval != time.Hour {
		t.Errorf("Jobs.OrphanScan = %+v, want enabled hourly", cfg.Jobs.OrphanScan)
	}
	if cfg.Audit.File.Path != "" || cfg.Audit.File.MaxSizeMB != 100 {
		t.Errorf("Audit.File = %+v, want disabled with 100MB rotation", cfg.Audit.File)
	}
	if cfg.Security.RateLimiting.RequestsPerMinute != 10 {
		t.Errorf("RequestsPerMinute = %d, want 10", cfg.Security.RateLimiting.RequestsPerMinute)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("ORGSTORE_SERVER_PORT", "7000")
	t.Setenv("ORGSTORE_AUTH_JWT_SECRET", "from-env")

	path := writeTempConfig(t, "server:\n  port: 9000\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("Auth.JWTSecret = %q, want from-env", cfg.Auth.JWTSecret)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PASS", "mysecret")

	path := writeTempConfig(t, "database:\n  password: \"${TEST_DB_PASS}\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Password != "mysecret" {
		t.Errorf("Database.Password = %q, want mysecret", cfg.Database.Password)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [unterminated")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	path := writeTempConfig(t, "locking:\n  backend: zookeeper\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("Load() error = %q, want invalid configuration", err.Error())
	}
}
