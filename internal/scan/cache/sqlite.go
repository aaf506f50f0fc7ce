package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/domainscout/engine/internal/common/config"
	"github.com/domainscout/engine/pkg/types"
)

// sqliteSchema matches the persisted layout: one row per domain, JSON blobs
// for the domain set and the redirect chain, unix-second timestamps.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS domain_cache (
	domain TEXT PRIMARY KEY,
	result_json TEXT NOT NULL,
	final_url TEXT NOT NULL,
	redirect_chain_json TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	ttl_at INTEGER NOT NULL
)`

const sqliteUpsert = `
INSERT INTO domain_cache (domain, result_json, final_url, redirect_chain_json, updated_at, ttl_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(domain) DO UPDATE SET
	result_json = excluded.result_json,
	final_url = excluded.final_url,
	redirect_chain_json = excluded.redirect_chain_json,
	updated_at = excluded.updated_at,
	ttl_at = excluded.ttl_at`

const sqliteSelect = `
SELECT result_json, final_url, redirect_chain_json, updated_at, ttl_at
FROM domain_cache WHERE domain = ?`

// SQLiteStore is the default cache backend: a single local database file in
// WAL mode, shared between concurrent readers and writers.
type SQLiteStore struct {
	db     *sql.DB
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewSQLiteStore(cfg *config.CacheConfig, logger *zap.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		cfg.SQLitePath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite cache %s: %w", cfg.SQLitePath, err)
	}

	// A single writer connection avoids SQLITE_BUSY churn; reads still
	// proceed concurrently under WAL.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{
		db:     db,
		ttl:    time.Duration(cfg.TTL),
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to initialize domain_cache schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Lookup(ctx context.Context, domain string) (*Entry, error) {
	var (
		resultJSON string
		finalURL   string
		chainJSON  string
		updatedAt  int64
		ttlAt      int64
	)

	row := s.db.QueryRowContext(ctx, sqliteSelect, domain)
	if err := row.Scan(&resultJSON, &finalURL, &chainJSON, &updatedAt, &ttlAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache lookup for %s failed: %w", domain, err)
	}

	if ttlAt <= s.now().Unix() {
		s.logger.Debug("Cache row expired",
			zap.String("domain", domain),
			zap.Int64("ttl_at", ttlAt))
		return nil, nil
	}

	entry := &Entry{
		Domain:    domain,
		FinalURL:  finalURL,
		UpdatedAt: updatedAt,
		TTLAt:     ttlAt,
	}
	if err := json.Unmarshal([]byte(resultJSON), &entry.RelatedDomains); err != nil {
		s.logger.Warn("Cache row has unparseable result_json, treating as miss",
			zap.String("domain", domain),
			zap.Error(err))
		return nil, nil
	}
	if err := json.Unmarshal([]byte(chainJSON), &entry.RedirectChain); err != nil {
		s.logger.Warn("Cache row has unparseable redirect_chain_json, treating as miss",
			zap.String("domain", domain),
			zap.Error(err))
		return nil, nil
	}

	return entry, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, domain string, result *types.ScanResult) error {
	resultJSON, err := json.Marshal(result.RelatedDomains)
	if err != nil {
		return fmt.Errorf("failed to marshal related domains for %s: %w", domain, err)
	}
	chainJSON, err := json.Marshal(result.RedirectChain)
	if err != nil {
		return fmt.Errorf("failed to marshal redirect chain for %s: %w", domain, err)
	}

	now := s.now().Unix()
	ttlAt := now + int64(s.ttl/time.Second)

	if _, err := s.db.ExecContext(ctx, sqliteUpsert,
		domain, string(resultJSON), result.FinalURL, string(chainJSON), now, ttlAt); err != nil {
		return fmt.Errorf("cache upsert for %s failed: %w", domain, err)
	}

	s.logger.Debug("Cache row upserted",
		zap.String("domain", domain),
		zap.Int64("ttl_at", ttlAt))
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
