package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/domainscout/engine/internal/common/config"
	scanredis "github.com/domainscout/engine/internal/common/redis"
	"github.com/domainscout/engine/internal/scan/metrics"
	"github.com/domainscout/engine/pkg/types"
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("cache store is closed")

// Entry is one cached scan result. A row is live while TTLAt is in the
// future; expired rows are ignored on read and overwritten by the next
// successful scan. Rows are never deleted.
type Entry struct {
	Domain         string
	RelatedDomains []string
	FinalURL       string
	RedirectChain  []types.RedirectHop
	UpdatedAt      int64 // unix seconds
	TTLAt          int64 // unix seconds, UpdatedAt + TTL
}

// Live reports whether the entry has not expired at the given instant.
func (e *Entry) Live(now time.Time) bool {
	return e != nil && e.TTLAt > now.Unix()
}

// Store is the domain-keyed result cache. Lookup returns (nil, nil) on a
// miss; an expired or unparseable row is also a miss. Upsert replaces any
// prior row for the domain and stamps UpdatedAt/TTLAt.
type Store interface {
	// Init prepares the backing schema. Safe to call more than once.
	Init(ctx context.Context) error

	Lookup(ctx context.Context, domain string) (*Entry, error)

	Upsert(ctx context.Context, domain string, result *types.ScanResult) error

	Close() error
}

// New selects and constructs the configured backend.
func New(cfg *config.CacheConfig, mc *metrics.MetricsCollector, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case config.CacheBackendSQLite:
		return NewSQLiteStore(cfg, logger)
	case config.CacheBackendRedis:
		client, err := scanredis.NewClient(&cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("redis cache backend: %w", err)
		}
		return NewRedisStore(cfg, client, mc, logger), nil
	case config.CacheBackendMySQL:
		return NewMySQLStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}
