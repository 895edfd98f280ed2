package config

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultDashboardListen is the default dashboard listen address.
	DefaultDashboardListen = ":8080"

	// Default per-IP request budgets.
	DefaultPublicRequestsPerMinute = 120
	DefaultAdminRequestsPerMinute  = 10

	// DefaultIndexingInterval is the pause between indexing passes.
	DefaultIndexingInterval = 10 * time.Minute

	// DefaultIndexingConcurrency bounds parallel compare fetches.
	DefaultIndexingConcurrency = 4

	// DefaultIndexingDepth is how many recent commits are indexed per repo.
	DefaultIndexingDepth = 32

	// DefaultIndexDatabasePath is the default SQLite index file.
	DefaultIndexDatabasePath = "radar-index.db"
)

// Database drivers.
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// DashboardConfig contains the dashboard gateway settings.
type DashboardConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	Basic       BasicAuthConfig `yaml:"basic,omitempty" mapstructure:"basic"`

	// TrustProxy takes the client address from the True-Client-IP,
	// X-Real-IP or X-Forwarded-For header. Enable only behind a reverse
	// proxy.
	TrustProxy bool `yaml:"trust_proxy,omitempty" mapstructure:"trust_proxy"`

	// AdminToken is forwarded to the radar server for admin actions.
	AdminToken string `yaml:"admin_token,omitempty" mapstructure:"admin_token"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Public  RateLimitTier `yaml:"public,omitempty" mapstructure:"public"`
	Admin   RateLimitTier `yaml:"admin,omitempty" mapstructure:"admin"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`

	// Burst defaults to RequestsPerMinute when zero.
	Burst int `yaml:"burst,omitempty" mapstructure:"burst"`
}

// BurstSize returns the number of requests a client may make at once.
func (t RateLimitTier) BurstSize() int {
	if t.Burst > 0 {
		return t.Burst
	}

	return t.RequestsPerMinute
}

// BasicAuthConfig lists the users allowed to trigger admin actions
// through the dashboard.
type BasicAuthConfig struct {
	Users []BasicAuthUser `yaml:"users,omitempty" mapstructure:"users"`
}

// BasicAuthUser defines a dashboard user. PasswordHash is a bcrypt hash.
type BasicAuthUser struct {
	Username     string `yaml:"username" mapstructure:"username"`
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash"`
}

// IndexingConfig configures the background significance indexer.
type IndexingConfig struct {
	Enabled     bool           `yaml:"enabled" mapstructure:"enabled"`
	Interval    string         `yaml:"interval,omitempty" mapstructure:"interval"`
	Concurrency int            `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
	Depth       int            `yaml:"depth,omitempty" mapstructure:"depth"`
	Repos       []string       `yaml:"repos,omitempty" mapstructure:"repos"`
	Database    DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// IntervalDuration returns the parsed indexing interval.
func (c *IndexingConfig) IntervalDuration() time.Duration {
	return durationOr(c.Interval, DefaultIndexingInterval)
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// ValidateDashboard checks the settings needed by `radar serve`.
func (c *Config) ValidateDashboard() error {
	if err := c.Validate(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.Dashboard.Basic.Users))

	for i, user := range c.Dashboard.Basic.Users {
		if user.Username == "" {
			return fmt.Errorf("dashboard.basic.users[%d]: username is required", i)
		}

		if _, ok := seen[user.Username]; ok {
			return fmt.Errorf("dashboard.basic.users[%d]: duplicate username %q", i, user.Username)
		}

		seen[user.Username] = struct{}{}

		if _, err := bcrypt.Cost([]byte(user.PasswordHash)); err != nil {
			return fmt.Errorf("dashboard.basic.users[%d]: password_hash is not a bcrypt hash: %w", i, err)
		}
	}

	if len(c.Dashboard.Basic.Users) > 0 && c.Dashboard.AdminToken == "" {
		return fmt.Errorf("dashboard.admin_token is required when basic users are configured")
	}

	if c.Dashboard.RateLimit.Enabled {
		if c.Dashboard.RateLimit.Public.RequestsPerMinute <= 0 ||
			c.Dashboard.RateLimit.Admin.RequestsPerMinute <= 0 {
			return fmt.Errorf("dashboard.rate_limit: requests_per_minute must be positive")
		}

		if c.Dashboard.RateLimit.Public.Burst < 0 || c.Dashboard.RateLimit.Admin.Burst < 0 {
			return fmt.Errorf("dashboard.rate_limit: burst must not be negative")
		}
	}

	if c.Indexing.Enabled {
		if err := c.Indexing.Database.Validate(); err != nil {
			return fmt.Errorf("indexing.database: %w", err)
		}
	}

	return nil
}

// Validate checks the database settings.
func (c *DatabaseConfig) Validate() error {
	switch strings.ToLower(c.Driver) {
	case DatabaseDriverSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required")
		}
	case DatabaseDriverPostgres:
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			return fmt.Errorf("postgres.host and postgres.database are required")
		}
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	port := c.Port
	if port == 0 {
		port = 5432
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.Database, sslMode,
	)
}
