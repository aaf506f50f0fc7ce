package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/domainscout/engine/internal/common/config"
	"github.com/domainscout/engine/pkg/types"
)

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS domain_cache (
	domain VARCHAR(253) PRIMARY KEY,
	result_json TEXT NOT NULL,
	final_url TEXT NOT NULL,
	redirect_chain_json TEXT NOT NULL,
	updated_at BIGINT NOT NULL,
	ttl_at BIGINT NOT NULL
)`

const mysqlUpsert = `
INSERT INTO domain_cache (domain, result_json, final_url, redirect_chain_json, updated_at, ttl_at)
VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
	result_json = VALUES(result_json),
	final_url = VALUES(final_url),
	redirect_chain_json = VALUES(redirect_chain_json),
	updated_at = VALUES(updated_at),
	ttl_at = VALUES(ttl_at)`

const mysqlSelect = `
SELECT result_json, final_url, redirect_chain_json, updated_at, ttl_at
FROM domain_cache WHERE domain = ?`

// MySQLStore backs the cache with a shared MySQL-protocol server, for
// deployments where several scan instances share one cache.
type MySQLStore struct {
	db     *sql.DB
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewMySQLStore(cfg *config.CacheConfig, logger *zap.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql cache: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &MySQLStore{
		db:     db,
		ttl:    time.Duration(cfg.TTL),
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *MySQLStore) Init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("mysql cache unreachable: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, mysqlSchema); err != nil {
		return fmt.Errorf("failed to initialize domain_cache schema: %w", err)
	}
	return nil
}

func (s *MySQLStore) Lookup(ctx context.Context, domain string) (*Entry, error) {
	var (
		resultJSON string
		finalURL   string
		chainJSON  string
		updatedAt  int64
		ttlAt      int64
	)

	row := s.db.QueryRowContext(ctx, mysqlSelect, domain)
	if err := row.Scan(&resultJSON, &finalURL, &chainJSON, &updatedAt, &ttlAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache lookup for %s failed: %w", domain, err)
	}

	if ttlAt <= s.now().Unix() {
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

func (s *MySQLStore) Upsert(ctx context.Context, domain string, result *types.ScanResult) error {
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

	if _, err := s.db.ExecContext(ctx, mysqlUpsert,
		domain, string(resultJSON), result.FinalURL, string(chainJSON), now, ttlAt); err != nil {
		return fmt.Errorf("cache upsert for %s failed: %w", domain, err)
	}
	return nil
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}
