package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domainscout/engine/pkg/types"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":3000", cfg.Server.Listen)
	assert.Equal(t, "3", cfg.Scan.Concurrency)
	assert.Equal(t, types.DefaultMaxRedirectSteps, cfg.Scan.MaxRedirectSteps)
	assert.Equal(t, types.DefaultMaxDomains, cfg.Scan.MaxDomains)
	assert.Equal(t, types.DefaultMaxRedirectLog, cfg.Scan.MaxRedirectLog)
	assert.Equal(t, 30*time.Second, cfg.Scan.NavTimeout.ToDuration())
	assert.Equal(t, 650*time.Millisecond, cfg.Scan.QuietWindow.ToDuration())
	assert.Equal(t, 70*time.Second, cfg.Scan.HardTimeout.ToDuration())
	assert.Equal(t, types.DefaultPrecheckMaxRedirects, cfg.Precheck.MaxRedirects)
	assert.Equal(t, CacheBackendSQLite, cfg.Cache.Backend)
	assert.Equal(t, 6*time.Hour, cfg.Cache.TTL.ToDuration())
	assert.Equal(t, types.DefaultSQLitePath, cfg.Cache.SQLitePath)
	assert.Equal(t, CompressionSnappy, cfg.Cache.Compression.Algorithm)

	// Console logging comes on when nothing else is configured
	assert.True(t, cfg.Log.Console.Enabled)
	assert.Equal(t, LogLevelInfo, cfg.Log.Level)
	assert.Equal(t, LogFormatConsole, cfg.Log.Console.Format)
}

func TestLoadYAMLFile(t *testing.T) {
	tempDir := t.TempDir()

	configYAML := `
server:
  listen: ":8080"

scan:
  concurrency: "auto"
  nav_timeout: 10s
  quiet_window: 300ms
  hard_timeout: 25s
  noise_patterns:
    - "*doubleclick*"
    - "*google*"

precheck:
  max_redirects: 5
  timeout: 4s

cache:
  backend: "redis"
  ttl: 1h
  redis:
    addr: "localhost:6379"
    key_prefix: "scout:"
  compression:
    enabled: true
    algorithm: "lz4"
    min_size: 512

log:
  level: "debug"
  console:
    enabled: true
    format: "json"

metrics:
  enabled: true
  listen: ":9090"
  path: "/metrics"
  namespace: "domainscout"
`

	path := filepath.Join(tempDir, "scan-service.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, "auto", cfg.Scan.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Scan.NavTimeout.ToDuration())
	assert.Equal(t, 300*time.Millisecond, cfg.Scan.QuietWindow.ToDuration())
	assert.Equal(t, []string{"*doubleclick*", "*google*"}, cfg.Scan.NoisePatterns)
	assert.Equal(t, 5, cfg.Precheck.MaxRedirects)
	assert.Equal(t, CacheBackendRedis, cfg.Cache.Backend)
	assert.Equal(t, "localhost:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, "scout:", cfg.Cache.Redis.KeyPrefix)
	assert.Equal(t, CompressionLZ4, cfg.Cache.Compression.Algorithm)
	assert.Equal(t, 512, cfg.Cache.Compression.MinSize)
	assert.Equal(t, LogLevelDebug, cfg.Log.Level)

	// Unset fields still get defaults
	assert.Equal(t, types.DefaultMaxRedirectSteps, cfg.Scan.MaxRedirectSteps)
	assert.Equal(t, types.DefaultMaxDomains, cfg.Scan.MaxDomains)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	tempDir := t.TempDir()

	configYAML := `
server:
  listen: ":8080"
  lisen_typo: ":9090"
`
	path := filepath.Join(tempDir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field")
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	tempDir := t.TempDir()

	configYAML := `
server:
  listen: ":8080"

scan:
  nav_timeout: 10s
`
	path := filepath.Join(tempDir, "scan-service.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o644))

	t.Setenv(EnvPort, "4100")
	t.Setenv(EnvNavTimeoutMS, "15000")
	t.Setenv(EnvQuietWindowMS, "200")
	t.Setenv(EnvCacheTTLSeconds, "3600")
	t.Setenv(EnvConcurrency, "7")
	t.Setenv(EnvMaxDomains, "100")
	t.Setenv(EnvSQLitePath, "/tmp/other.db")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":4100", cfg.Server.Listen)
	assert.Equal(t, 15*time.Second, cfg.Scan.NavTimeout.ToDuration())
	assert.Equal(t, 200*time.Millisecond, cfg.Scan.QuietWindow.ToDuration())
	assert.Equal(t, time.Hour, cfg.Cache.TTL.ToDuration())
	assert.Equal(t, "7", cfg.Scan.Concurrency)
	assert.Equal(t, 100, cfg.Scan.MaxDomains)
	assert.Equal(t, "/tmp/other.db", cfg.Cache.SQLitePath)
}

func TestEnvEnablesOptionalSurfaces(t *testing.T) {
	t.Setenv(EnvMetricsListen, ":9091")
	t.Setenv(EnvLogFile, "/tmp/scan.log")
	t.Setenv(EnvCacheBackend, "redis")
	t.Setenv(EnvRedisAddr, "127.0.0.1:6379")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9091", cfg.Metrics.Listen)
	assert.True(t, cfg.Log.File.Enabled)
	assert.Equal(t, "/tmp/scan.log", cfg.Log.File.Path)
	assert.Equal(t, CacheBackendRedis, cfg.Cache.Backend)
	assert.Equal(t, "127.0.0.1:6379", cfg.Cache.Redis.Addr)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad concurrency",
			mutate:  func(c *Config) { c.Scan.Concurrency = "many" },
			wantErr: "scan.concurrency",
		},
		{
			name:    "negative concurrency",
			mutate:  func(c *Config) { c.Scan.Concurrency = "-2" },
			wantErr: "scan.concurrency",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantErr: "cache.backend",
		},
		{
			name: "redis backend without addr",
			mutate: func(c *Config) {
				c.Cache.Backend = CacheBackendRedis
				c.Cache.Redis.Addr = ""
			},
			wantErr: "cache.redis.addr",
		},
		{
			name: "mysql backend without dsn",
			mutate: func(c *Config) {
				c.Cache.Backend = CacheBackendMySQL
			},
			wantErr: "cache.mysql.dsn",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "log.level",
		},
		{
			name: "file logging without path",
			mutate: func(c *Config) {
				c.Log.File.Enabled = true
				c.Log.File.Path = ""
			},
			wantErr: "log.file.path",
		},
		{
			name: "metrics without listen",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Listen = ""
			},
			wantErr: "metrics.listen",
		},
		{
			name: "metrics port collides with server",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Listen = ":3000"
			},
			wantErr: "must differ",
		},
		{
			name:    "bad compression algorithm",
			mutate:  func(c *Config) { c.Cache.Compression.Algorithm = "zstd" },
			wantErr: "compression.algorithm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.applyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseListenAddress(t *testing.T) {
	tests := []struct {
		listen   string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{listen: ":3000", wantHost: "", wantPort: 3000},
		{listen: "0.0.0.0:3000", wantHost: "0.0.0.0", wantPort: 3000},
		{listen: "localhost:8080", wantHost: "localhost", wantPort: 8080},
		{listen: "3000", wantHost: "", wantPort: 3000},
		{listen: "", wantErr: true},
		{listen: "not-a-port", wantErr: true},
	}

	for _, tt := range tests {
		host, port, err := ParseListenAddress(tt.listen)
		if tt.wantErr {
			assert.Error(t, err, "listen=%q", tt.listen)
			continue
		}
		require.NoError(t, err, "listen=%q", tt.listen)
		assert.Equal(t, tt.wantHost, host)
		assert.Equal(t, tt.wantPort, port)
	}
}

func TestValidateListenAddressPortRange(t *testing.T) {
	assert.NoError(t, ValidateListenAddress(":1"))
	assert.NoError(t, ValidateListenAddress(":65535"))
	assert.Error(t, ValidateListenAddress(":0"))
	assert.Error(t, ValidateListenAddress(":65536"))
}
