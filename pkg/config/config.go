package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultServerURL is the radar instance queried when none is configured.
	DefaultServerURL = "https://radar.lean-lang.org"

	// DefaultAPIRoot is prefixed to every endpoint path.
	DefaultAPIRoot = "/api"

	// DefaultAdminUser is the basic auth username for admin endpoints.
	DefaultAdminUser = "admin"

	// DefaultGCGrace is how long an unobserved cache entry survives.
	DefaultGCGrace = 5 * time.Second

	// Default refresh intervals for polled entities.
	DefaultRefetchQueue     = 5 * time.Second
	DefaultRefetchQueueRun  = 1 * time.Second
	DefaultRefetchGithubBot = 30 * time.Second

	// DefaultPrefsBackend is the default preferences backend.
	DefaultPrefsBackend = PrefsBackendBolt

	// DefaultPrefsPath is the default bolt preferences file.
	DefaultPrefsPath = "radar-prefs.db"

	// EnvPrefix prefixes environment variable overrides, e.g.
	// RADAR_SERVER_URL for server.url.
	EnvPrefix = "RADAR"
)

// Preferences backends.
const (
	PrefsBackendBolt  = "bolt"
	PrefsBackendRedis = "redis"
)

// Config is the root configuration for radar.
type Config struct {
	Global    GlobalConfig    `yaml:"global" mapstructure:"global"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Prefs     PrefsConfig     `yaml:"prefs" mapstructure:"prefs"`
	Dashboard DashboardConfig `yaml:"dashboard" mapstructure:"dashboard"`
	Indexing  IndexingConfig  `yaml:"indexing" mapstructure:"indexing"`
	Report    ReportConfig    `yaml:"report,omitempty" mapstructure:"report"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// ServerConfig describes the radar server being queried.
type ServerConfig struct {
	URL       string `yaml:"url" mapstructure:"url"`
	APIRoot   string `yaml:"api_root" mapstructure:"api_root"`
	Timeout   string `yaml:"timeout,omitempty" mapstructure:"timeout"`
	AdminUser string `yaml:"admin_user" mapstructure:"admin_user"`
}

// TimeoutDuration returns the HTTP client timeout. Zero means none.
func (c *ServerConfig) TimeoutDuration() time.Duration {
	return durationOr(c.Timeout, 0)
}

// CacheConfig controls the query cache.
type CacheConfig struct {
	GCGrace   string        `yaml:"gc_grace" mapstructure:"gc_grace"`
	StaleTime string        `yaml:"stale_time,omitempty" mapstructure:"stale_time"`
	Refetch   RefetchConfig `yaml:"refetch" mapstructure:"refetch"`
}

// RefetchConfig holds the background refresh interval per polled entity.
type RefetchConfig struct {
	Queue     string `yaml:"queue" mapstructure:"queue"`
	QueueRun  string `yaml:"queue_run" mapstructure:"queue_run"`
	GithubBot string `yaml:"github_bot" mapstructure:"github_bot"`
}

// GCGraceDuration returns the parsed grace delay.
func (c *CacheConfig) GCGraceDuration() time.Duration {
	return durationOr(c.GCGrace, DefaultGCGrace)
}

// StaleTimeDuration returns how long a fetched value counts as fresh.
func (c *CacheConfig) StaleTimeDuration() time.Duration {
	return durationOr(c.StaleTime, 0)
}

func (c *RefetchConfig) QueueDuration() time.Duration {
	return durationOr(c.Queue, DefaultRefetchQueue)
}

func (c *RefetchConfig) QueueRunDuration() time.Duration {
	return durationOr(c.QueueRun, DefaultRefetchQueueRun)
}

func (c *RefetchConfig) GithubBotDuration() time.Duration {
	return durationOr(c.GithubBot, DefaultRefetchGithubBot)
}

// PrefsConfig selects where the selected repo and admin token persist.
type PrefsConfig struct {
	Backend string           `yaml:"backend" mapstructure:"backend"`
	Bolt    BoltPrefsConfig  `yaml:"bolt,omitempty" mapstructure:"bolt"`
	Redis   RedisPrefsConfig `yaml:"redis,omitempty" mapstructure:"redis"`
}

// BoltPrefsConfig stores preferences in a local bbolt file.
type BoltPrefsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// RedisPrefsConfig stores preferences in Redis.
type RedisPrefsConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// ReportConfig selects where comparison reports are written. Only one
// backend may be enabled at a time.
type ReportConfig struct {
	Local *LocalReportConfig `yaml:"local,omitempty" mapstructure:"local"`
	S3    *S3ReportConfig    `yaml:"s3,omitempty" mapstructure:"s3"`
}

// LocalReportConfig writes reports into a directory.
type LocalReportConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
}

// S3ReportConfig uploads reports to an S3 compatible bucket.
type S3ReportConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// Load reads configuration from the given files, merged in order, and
// applies RADAR_* environment overrides. With no files only defaults and
// the environment apply.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if i == 0 {
			err = v.ReadConfig(bytes.NewReader(data))
		} else {
			err = v.MergeConfig(bytes.NewReader(data))
		}

		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers every scalar key so that environment overrides
// apply even when the key is absent from all files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("server.url", DefaultServerURL)
	v.SetDefault("server.api_root", DefaultAPIRoot)
	v.SetDefault("server.timeout", "")
	v.SetDefault("server.admin_user", DefaultAdminUser)

	v.SetDefault("cache.gc_grace", DefaultGCGrace.String())
	v.SetDefault("cache.stale_time", "")
	v.SetDefault("cache.refetch.queue", DefaultRefetchQueue.String())
	v.SetDefault("cache.refetch.queue_run", DefaultRefetchQueueRun.String())
	v.SetDefault("cache.refetch.github_bot", DefaultRefetchGithubBot.String())

	v.SetDefault("prefs.backend", DefaultPrefsBackend)
	v.SetDefault("prefs.bolt.path", DefaultPrefsPath)
	v.SetDefault("prefs.redis.addr", "")
	v.SetDefault("prefs.redis.password", "")
	v.SetDefault("prefs.redis.db", 0)

	v.SetDefault("dashboard.listen", DefaultDashboardListen)
	v.SetDefault("dashboard.admin_token", "")
	v.SetDefault("dashboard.rate_limit.enabled", false)
	v.SetDefault("dashboard.rate_limit.public.requests_per_minute", DefaultPublicRequestsPerMinute)
	v.SetDefault("dashboard.rate_limit.admin.requests_per_minute", DefaultAdminRequestsPerMinute)
	v.SetDefault("dashboard.rate_limit.public.burst", 0)
	v.SetDefault("dashboard.rate_limit.admin.burst", 0)
	v.SetDefault("dashboard.trust_proxy", false)

	v.SetDefault("indexing.enabled", false)
	v.SetDefault("indexing.interval", DefaultIndexingInterval.String())
	v.SetDefault("indexing.concurrency", DefaultIndexingConcurrency)
	v.SetDefault("indexing.depth", DefaultIndexingDepth)
	v.SetDefault("indexing.database.driver", DatabaseDriverSQLite)
	v.SetDefault("indexing.database.sqlite.path", DefaultIndexDatabasePath)
}

// applyDefaults fills values that viper defaults cannot express, such as
// explicitly emptied strings.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Server.URL == "" {
		c.Server.URL = DefaultServerURL
	}

	c.Server.URL = strings.TrimRight(c.Server.URL, "/")

	if c.Server.AdminUser == "" {
		c.Server.AdminUser = DefaultAdminUser
	}

	if c.Prefs.Backend == "" {
		c.Prefs.Backend = DefaultPrefsBackend
	}

	if c.Dashboard.Listen == "" {
		c.Dashboard.Listen = DefaultDashboardListen
	}

	if c.Indexing.Concurrency <= 0 {
		c.Indexing.Concurrency = DefaultIndexingConcurrency
	}

	if c.Indexing.Depth <= 0 {
		c.Indexing.Depth = DefaultIndexingDepth
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url must be an http or https URL, got %q", c.Server.URL)
	}

	if c.Server.APIRoot != "" && !strings.HasPrefix(c.Server.APIRoot, "/") {
		return fmt.Errorf("server.api_root must start with /, got %q", c.Server.APIRoot)
	}

	durations := map[string]string{
		"server.timeout":           c.Server.Timeout,
		"cache.gc_grace":           c.Cache.GCGrace,
		"cache.stale_time":         c.Cache.StaleTime,
		"cache.refetch.queue":      c.Cache.Refetch.Queue,
		"cache.refetch.queue_run":  c.Cache.Refetch.QueueRun,
		"cache.refetch.github_bot": c.Cache.Refetch.GithubBot,
		"indexing.interval":        c.Indexing.Interval,
	}

	for key, value := range durations {
		if err := validateDuration(key, value); err != nil {
			return err
		}
	}

	if err := c.Prefs.Validate(); err != nil {
		return fmt.Errorf("prefs: %w", err)
	}

	if err := c.Report.Validate(); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	return nil
}

// Validate checks the preferences backend settings.
func (c *PrefsConfig) Validate() error {
	switch c.Backend {
	case PrefsBackendBolt:
		if c.Bolt.Path == "" {
			return fmt.Errorf("bolt.path is required")
		}
	case PrefsBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	return nil
}

// Validate checks the report sink settings.
func (c *ReportConfig) Validate() error {
	localEnabled := c.Local != nil && c.Local.Enabled
	s3Enabled := c.S3 != nil && c.S3.Enabled

	if localEnabled && s3Enabled {
		return fmt.Errorf("cannot enable both local and s3")
	}

	if localEnabled && c.Local.Dir == "" {
		return fmt.Errorf("local.dir is required")
	}

	if s3Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required")
	}

	return nil
}

// IsConfigured reports whether a report sink is enabled.
func (c *ReportConfig) IsConfigured() bool {
	return (c.Local != nil && c.Local.Enabled) || (c.S3 != nil && c.S3.Enabled)
}

func validateDuration(key, value string) error {
	if value == "" {
		return nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	if d < 0 {
		return fmt.Errorf("%s must not be negative", key)
	}

	return nil
}

func durationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}

	return d
}
