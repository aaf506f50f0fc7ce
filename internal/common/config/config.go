package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/domainscout/engine/internal/common/yamlutil"
	"github.com/domainscout/engine/pkg/types"
)

// Log level constants
const (
	LogLevelDebug  = "debug"
	LogLevelInfo   = "info"
	LogLevelWarn   = "warn"
	LogLevelError  = "error"
	LogLevelDPanic = "dpanic"
	LogLevelPanic  = "panic"
	LogLevelFatal  = "fatal"
)

// Log format constants
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
	LogFormatText    = "text"
)

// Cache backend constants
const (
	CacheBackendSQLite = "sqlite"
	CacheBackendRedis  = "redis"
	CacheBackendMySQL  = "mysql"
)

// Compression algorithm constants
const (
	CompressionSnappy = "snappy"
	CompressionLZ4    = "lz4"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Config is the full service configuration. Values resolve in three layers:
// built-in defaults, then an optional strict YAML file, then environment
// variables. Environment always wins.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Scan     ScanConfig     `yaml:"scan"`
	Precheck PrecheckConfig `yaml:"precheck"`
	Cache    CacheConfig    `yaml:"cache"`
	Browser  BrowserConfig  `yaml:"browser"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Events   EventsConfig   `yaml:"events"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// ScanConfig tunes the browser scan engine.
type ScanConfig struct {
	Concurrency       string         `yaml:"concurrency"` // "auto" or integer string
	MaxRedirectSteps  int            `yaml:"max_redirect_steps"`
	MaxDomains        int            `yaml:"max_domains"`
	MaxRedirectLog    int            `yaml:"max_redirect_log"`
	NavTimeout        types.Duration `yaml:"nav_timeout"`
	QuietWindow       types.Duration `yaml:"quiet_window"`
	HardTimeout       types.Duration `yaml:"hard_timeout"`
	UserAgent         string         `yaml:"user_agent"`
	NoisePatterns     []string       `yaml:"noise_patterns,omitempty"`
	AllowPrivateHosts bool           `yaml:"allow_private_hosts"`
}

// PrecheckConfig tunes the plain-HTTP redirect walk that runs before a
// browser scan.
type PrecheckConfig struct {
	MaxRedirects int            `yaml:"max_redirects"`
	Timeout      types.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	Backend     string            `yaml:"backend"` // sqlite, redis or mysql
	TTL         types.Duration    `yaml:"ttl"`
	SQLitePath  string            `yaml:"sqlite_path"`
	Redis       RedisConfig       `yaml:"redis"`
	MySQL       MySQLConfig       `yaml:"mysql"`
	Compression CompressionConfig `yaml:"compression"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

type CompressionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Algorithm string `yaml:"algorithm"` // snappy or lz4
	MinSize   int    `yaml:"min_size"`  // bytes; smaller values stored raw
}

type BrowserConfig struct {
	ChromiumPath      string         `yaml:"chromium_path"`
	HeartbeatInterval types.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   types.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"`
	Level   string `yaml:"level,omitempty"`
}

type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Format   string         `yaml:"format"`
	Level    string         `yaml:"level,omitempty"`
	Rotation RotationConfig `yaml:"rotation"`
}

type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxAge     int  `yaml:"max_age"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// EventsConfig configures scan event emission
type EventsConfig struct {
	File       EventFileConfig  `yaml:"file"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

type EventFileConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Template string         `yaml:"template"`
	Rotation RotationConfig `yaml:"rotation"`
}

type ClickHouseConfig struct {
	Enabled       bool           `yaml:"enabled"`
	Addr          []string       `yaml:"addr"`
	Database      string         `yaml:"database"`
	Table         string         `yaml:"table"`
	Username      string         `yaml:"username"`
	Password      string         `yaml:"password"`
	BatchSize     int            `yaml:"batch_size"`
	FlushInterval types.Duration `yaml:"flush_interval"`
}

// Load builds the configuration. An empty path skips the YAML layer.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
		if err := yamlutil.LoadFileStrict(absPath, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills zero-valued fields so YAML keeps precedence over defaults.
func (cfg *Config) applyDefaults() {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = fmt.Sprintf(":%d", types.DefaultPort)
	}

	if cfg.Scan.Concurrency == "" {
		cfg.Scan.Concurrency = strconv.Itoa(types.DefaultConcurrency)
	}
	if cfg.Scan.MaxRedirectSteps == 0 {
		cfg.Scan.MaxRedirectSteps = types.DefaultMaxRedirectSteps
	}
	if cfg.Scan.MaxDomains == 0 {
		cfg.Scan.MaxDomains = types.DefaultMaxDomains
	}
	if cfg.Scan.MaxRedirectLog == 0 {
		cfg.Scan.MaxRedirectLog = types.DefaultMaxRedirectLog
	}
	if cfg.Scan.NavTimeout == 0 {
		cfg.Scan.NavTimeout = types.Duration(types.DefaultNavTimeout)
	}
	if cfg.Scan.QuietWindow == 0 {
		cfg.Scan.QuietWindow = types.Duration(types.DefaultQuietWindow)
	}
	if cfg.Scan.HardTimeout == 0 {
		cfg.Scan.HardTimeout = types.Duration(types.DefaultHardTimeout)
	}
	if cfg.Scan.UserAgent == "" {
		cfg.Scan.UserAgent = defaultUserAgent
	}

	if cfg.Precheck.MaxRedirects == 0 {
		cfg.Precheck.MaxRedirects = types.DefaultPrecheckMaxRedirects
	}
	if cfg.Precheck.Timeout == 0 {
		cfg.Precheck.Timeout = types.Duration(types.DefaultPrecheckTimeout)
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheBackendSQLite
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = types.Duration(types.DefaultCacheTTL)
	}
	if cfg.Cache.SQLitePath == "" {
		cfg.Cache.SQLitePath = types.DefaultSQLitePath
	}
	if cfg.Cache.Compression.Algorithm == "" {
		cfg.Cache.Compression.Algorithm = CompressionSnappy
	}
	if cfg.Cache.Compression.MinSize == 0 {
		cfg.Cache.Compression.MinSize = 256
	}

	if cfg.Browser.HeartbeatInterval == 0 {
		cfg.Browser.HeartbeatInterval = types.Duration(types.DefaultHeartbeatInterval)
	}
	if cfg.Browser.ShutdownTimeout == 0 {
		cfg.Browser.ShutdownTimeout = types.Duration(types.DefaultShutdownTimeout)
	}

	// If both log outputs are disabled (zero values), enable console by default
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = LogLevelInfo
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = LogFormatConsole
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = LogFormatText
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "domainscout"
	}

	if cfg.Events.ClickHouse.BatchSize == 0 {
		cfg.Events.ClickHouse.BatchSize = 500
	}
	if cfg.Events.ClickHouse.FlushInterval == 0 {
		cfg.Events.ClickHouse.FlushInterval = types.Duration(types.DefaultEventFlushInterval)
	}
}

// Validate checks configuration validity
func (cfg *Config) Validate() error {
	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	} else if err := ValidateListenAddress(cfg.Server.Listen); err != nil {
		return fmt.Errorf("invalid server.listen: %w", err)
	}

	if cfg.Scan.Concurrency != "auto" {
		n, err := strconv.Atoi(cfg.Scan.Concurrency)
		if err != nil || n <= 0 {
			return fmt.Errorf("scan.concurrency must be 'auto' or positive integer")
		}
	}
	if cfg.Scan.MaxRedirectSteps <= 0 {
		return fmt.Errorf("scan.max_redirect_steps must be positive")
	}
	if cfg.Scan.MaxDomains <= 0 {
		return fmt.Errorf("scan.max_domains must be positive")
	}
	if cfg.Scan.MaxRedirectLog <= 0 {
		return fmt.Errorf("scan.max_redirect_log must be positive")
	}
	if cfg.Scan.NavTimeout <= 0 {
		return fmt.Errorf("scan.nav_timeout must be positive")
	}
	if cfg.Scan.QuietWindow <= 0 {
		return fmt.Errorf("scan.quiet_window must be positive")
	}
	if cfg.Scan.HardTimeout <= 0 {
		return fmt.Errorf("scan.hard_timeout must be positive")
	}

	if cfg.Precheck.MaxRedirects <= 0 {
		return fmt.Errorf("precheck.max_redirects must be positive")
	}
	if cfg.Precheck.Timeout <= 0 {
		return fmt.Errorf("precheck.timeout must be positive")
	}

	switch cfg.Cache.Backend {
	case CacheBackendSQLite:
		if cfg.Cache.SQLitePath == "" {
			return fmt.Errorf("cache.sqlite_path is required for the sqlite backend")
		}
	case CacheBackendRedis:
		if cfg.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
	case CacheBackendMySQL:
		if cfg.Cache.MySQL.DSN == "" {
			return fmt.Errorf("cache.mysql.dsn is required for the mysql backend")
		}
	default:
		return fmt.Errorf("invalid cache.backend: %s (must be sqlite, redis or mysql)", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if alg := cfg.Cache.Compression.Algorithm; alg != CompressionSnappy && alg != CompressionLZ4 {
		return fmt.Errorf("invalid cache.compression.algorithm: %s (must be snappy or lz4)", alg)
	}
	if cfg.Cache.Compression.MinSize < 0 {
		return fmt.Errorf("cache.compression.min_size must be >= 0")
	}

	if cfg.Browser.HeartbeatInterval <= 0 {
		return fmt.Errorf("browser.heartbeat_interval must be positive")
	}
	if cfg.Browser.ShutdownTimeout <= 0 {
		return fmt.Errorf("browser.shutdown_timeout must be positive")
	}

	validLogLevels := map[string]bool{
		LogLevelDebug:  true,
		LogLevelInfo:   true,
		LogLevelWarn:   true,
		LogLevelError:  true,
		LogLevelDPanic: true,
		LogLevelPanic:  true,
		LogLevelFatal:  true,
	}
	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, error, dpanic, panic, or fatal)", cfg.Log.Level)
	}

	validConsoleFormats := map[string]bool{
		LogFormatJSON:    true,
		LogFormatConsole: true,
	}
	if cfg.Log.Console.Enabled && cfg.Log.Console.Format != "" && !validConsoleFormats[cfg.Log.Console.Format] {
		return fmt.Errorf("invalid log.console.format: %s (must be json or console)", cfg.Log.Console.Format)
	}

	if cfg.Log.File.Enabled {
		if cfg.Log.File.Path == "" {
			return fmt.Errorf("log.file.path must be specified when file logging is enabled")
		}

		validFileFormats := map[string]bool{
			LogFormatJSON: true,
			LogFormatText: true,
		}
		if cfg.Log.File.Format != "" && !validFileFormats[cfg.Log.File.Format] {
			return fmt.Errorf("invalid log.file.format: %s (must be json or text)", cfg.Log.File.Format)
		}

		if cfg.Log.File.Rotation.MaxSize < 0 {
			return fmt.Errorf("log.file.rotation.max_size must be >= 0, got %d", cfg.Log.File.Rotation.MaxSize)
		}
		if cfg.Log.File.Rotation.MaxAge < 0 {
			return fmt.Errorf("log.file.rotation.max_age must be >= 0, got %d", cfg.Log.File.Rotation.MaxAge)
		}
		if cfg.Log.File.Rotation.MaxBackups < 0 {
			return fmt.Errorf("log.file.rotation.max_backups must be >= 0, got %d", cfg.Log.File.Rotation.MaxBackups)
		}
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			return fmt.Errorf("metrics.listen is required when metrics enabled")
		} else if err := ValidateListenAddress(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}

		metricsPort, err1 := GetPortFromListen(cfg.Metrics.Listen)
		serverPort, err2 := GetPortFromListen(cfg.Server.Listen)
		if err1 == nil && err2 == nil && metricsPort == serverPort {
			return fmt.Errorf("metrics.listen port (%d) must differ from server.listen port (%d) when metrics enabled", metricsPort, serverPort)
		}
	}

	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics.path: %s (must start with /)", cfg.Metrics.Path)
	}

	if cfg.Metrics.Namespace != "" {
		// Prometheus namespace must match: [a-zA-Z_][a-zA-Z0-9_]*
		if matched, _ := regexp.MatchString(`^[a-zA-Z_][a-zA-Z0-9_]*$`, cfg.Metrics.Namespace); !matched {
			return fmt.Errorf("invalid metrics.namespace: %s (must match [a-zA-Z_][a-zA-Z0-9_]*)", cfg.Metrics.Namespace)
		}
	}

	if cfg.Events.File.Enabled && cfg.Events.File.Path == "" {
		return fmt.Errorf("events.file.path must be specified when file events are enabled")
	}

	if cfg.Events.ClickHouse.Enabled {
		if len(cfg.Events.ClickHouse.Addr) == 0 {
			return fmt.Errorf("events.clickhouse.addr is required when clickhouse events are enabled")
		}
		if cfg.Events.ClickHouse.Database == "" {
			return fmt.Errorf("events.clickhouse.database is required when clickhouse events are enabled")
		}
		if cfg.Events.ClickHouse.Table == "" {
			return fmt.Errorf("events.clickhouse.table is required when clickhouse events are enabled")
		}
		if cfg.Events.ClickHouse.BatchSize <= 0 {
			return fmt.Errorf("events.clickhouse.batch_size must be positive")
		}
		if cfg.Events.ClickHouse.FlushInterval <= 0 {
			return fmt.Errorf("events.clickhouse.flush_interval must be positive")
		}
	}

	return nil
}
