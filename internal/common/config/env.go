package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/domainscout/engine/pkg/types"
)

// Environment variable names. Durations are plain integers in the unit the
// name carries (_MS, _SECONDS).
const (
	EnvPort                 = "PORT"
	EnvCacheTTLSeconds      = "CACHE_TTL_SECONDS"
	EnvMaxRedirectSteps     = "MAX_REDIRECT_STEPS"
	EnvPrecheckMaxRedirects = "PRECHECK_MAX_REDIRECTS"
	EnvNavTimeoutMS         = "NAV_TIMEOUT_MS"
	EnvQuietWindowMS        = "QUIET_WINDOW_MS"
	EnvHardTimeoutMS        = "HARD_TIMEOUT_MS"
	EnvConcurrency          = "CONCURRENCY"
	EnvMaxDomains           = "MAX_DOMAINS"
	EnvMaxRedirectLog       = "MAX_REDIRECT_LOG"
	EnvSQLitePath           = "SQLITE_PATH"
	EnvChromiumPath         = "CHROMIUM_PATH"

	EnvLogLevel       = "LOG_LEVEL"
	EnvLogFile        = "LOG_FILE"
	EnvCacheBackend   = "CACHE_BACKEND"
	EnvRedisAddr      = "REDIS_ADDR"
	EnvMySQLDSN       = "MYSQL_DSN"
	EnvMetricsListen  = "METRICS_LISTEN"
	EnvEventsFile     = "EVENTS_FILE"
	EnvClickHouseAddr = "EVENTS_CLICKHOUSE_ADDR"
)

// applyEnvOverrides lets the environment win over file and defaults.
func (cfg *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Server.Listen = fmt.Sprintf(":%d", port)
		}
	}

	envInt(EnvMaxRedirectSteps, &cfg.Scan.MaxRedirectSteps)
	envInt(EnvMaxDomains, &cfg.Scan.MaxDomains)
	envInt(EnvMaxRedirectLog, &cfg.Scan.MaxRedirectLog)
	envDuration(EnvNavTimeoutMS, time.Millisecond, &cfg.Scan.NavTimeout)
	envDuration(EnvQuietWindowMS, time.Millisecond, &cfg.Scan.QuietWindow)
	envDuration(EnvHardTimeoutMS, time.Millisecond, &cfg.Scan.HardTimeout)
	envString(EnvConcurrency, &cfg.Scan.Concurrency)

	envInt(EnvPrecheckMaxRedirects, &cfg.Precheck.MaxRedirects)

	envDuration(EnvCacheTTLSeconds, time.Second, &cfg.Cache.TTL)
	envString(EnvSQLitePath, &cfg.Cache.SQLitePath)
	envString(EnvCacheBackend, &cfg.Cache.Backend)
	envString(EnvRedisAddr, &cfg.Cache.Redis.Addr)
	envString(EnvMySQLDSN, &cfg.Cache.MySQL.DSN)

	envString(EnvChromiumPath, &cfg.Browser.ChromiumPath)

	envString(EnvLogLevel, &cfg.Log.Level)
	if v := os.Getenv(EnvLogFile); v != "" {
		cfg.Log.File.Enabled = true
		cfg.Log.File.Path = v
	}

	if v := os.Getenv(EnvMetricsListen); v != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = v
	}

	if v := os.Getenv(EnvEventsFile); v != "" {
		cfg.Events.File.Enabled = true
		cfg.Events.File.Path = v
	}
	if v := os.Getenv(EnvClickHouseAddr); v != "" {
		cfg.Events.ClickHouse.Enabled = true
		cfg.Events.ClickHouse.Addr = []string{v}
	}
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(name string, unit time.Duration, dst *types.Duration) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = types.Duration(time.Duration(n) * unit)
		}
	}
}
