package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/domainscout/engine/internal/common/config"
	scanredis "github.com/domainscout/engine/internal/common/redis"
	"github.com/domainscout/engine/internal/scan/metrics"
	"github.com/domainscout/engine/pkg/types"
)

const defaultKeyPrefix = "domain:v1:"

// redisEntry is the JSON shape stored per domain. The key carries the domain,
// the TTL is native to the store, but updated_at/ttl_at are persisted too so
// cached responses can report them.
type redisEntry struct {
	RelatedDomains []string            `json:"related_domains"`
	FinalURL       string              `json:"final_url"`
	RedirectChain  []types.RedirectHop `json:"redirect_chain"`
	UpdatedAt      int64               `json:"updated_at"`
	TTLAt          int64               `json:"ttl_at"`
}

// RedisStore keeps one value per domain with a native expiry. Values above
// the compression threshold are stored compressed with an in-band tag.
type RedisStore struct {
	client *scanredis.Client
	codec  *Codec
	prefix string
	ttl    time.Duration
	mc     *metrics.MetricsCollector
	logger *zap.Logger
	now    func() time.Time
}

func NewRedisStore(cfg *config.CacheConfig, client *scanredis.Client, mc *metrics.MetricsCollector, logger *zap.Logger) *RedisStore {
	prefix := cfg.Redis.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{
		client: client,
		codec:  NewCodec(&cfg.Compression),
		prefix: prefix,
		ttl:    time.Duration(cfg.TTL),
		mc:     mc,
		logger: logger,
		now:    time.Now,
	}
}

// Init is a no-op: redis needs no schema.
func (s *RedisStore) Init(ctx context.Context) error {
	return nil
}

func (s *RedisStore) key(domain string) string {
	return s.prefix + domain
}

func (s *RedisStore) Lookup(ctx context.Context, domain string) (*Entry, error) {
	raw, err := s.client.Get(ctx, s.key(domain))
	if err != nil {
		return nil, fmt.Errorf("cache lookup for %s failed: %w", domain, err)
	}
	if raw == "" {
		return nil, nil
	}

	payload, err := s.codec.Decode([]byte(raw))
	if err != nil {
		s.logger.Warn("Cache value failed to decompress, treating as miss",
			zap.String("domain", domain),
			zap.Error(err))
		if s.mc != nil {
			s.mc.RecordDecompressionError(s.codec.Algorithm())
		}
		return nil, nil
	}

	var stored redisEntry
	if err := json.Unmarshal(payload, &stored); err != nil {
		s.logger.Warn("Cache value has unparseable JSON, treating as miss",
			zap.String("domain", domain),
			zap.Error(err))
		return nil, nil
	}

	// The native expiry normally removes stale keys, but a value written with
	// a longer TTL by an older config is still checked here.
	if stored.TTLAt <= s.now().Unix() {
		return nil, nil
	}

	return &Entry{
		Domain:         domain,
		RelatedDomains: stored.RelatedDomains,
		FinalURL:       stored.FinalURL,
		RedirectChain:  stored.RedirectChain,
		UpdatedAt:      stored.UpdatedAt,
		TTLAt:          stored.TTLAt,
	}, nil
}

func (s *RedisStore) Upsert(ctx context.Context, domain string, result *types.ScanResult) error {
	now := s.now().Unix()
	stored := redisEntry{
		RelatedDomains: result.RelatedDomains,
		FinalURL:       result.FinalURL,
		RedirectChain:  result.RedirectChain,
		UpdatedAt:      now,
		TTLAt:          now + int64(s.ttl/time.Second),
	}

	payload, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value for %s: %w", domain, err)
	}

	blob, err := s.codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("failed to compress cache value for %s: %w", domain, err)
	}
	if s.mc != nil && len(blob) < len(payload) {
		s.mc.RecordCompression(s.codec.Algorithm(), len(payload), len(blob))
	}

	if err := s.client.Set(ctx, s.key(domain), string(blob), s.ttl); err != nil {
		return fmt.Errorf("cache upsert for %s failed: %w", domain, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
