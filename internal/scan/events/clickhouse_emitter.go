package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/domainscout/engine/internal/common/config"
)

const chInsertTimeout = 10 * time.Second

// ClickHouseEmitter batches events and inserts them asynchronously. The queue
// is bounded; when insertion cannot keep up, new events are dropped rather
// than blocking the scan path.
type ClickHouseEmitter struct {
	conn          driver.Conn
	table         string
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger

	queue   chan *ScanEvent
	stop    chan struct{}
	wg      sync.WaitGroup
	dropped int64
	mu      sync.Mutex
}

// NewClickHouseEmitter connects, ensures the events table exists and starts
// the background flusher.
func NewClickHouseEmitter(cfg config.ClickHouseConfig, logger *zap.Logger) (*ClickHouseEmitter, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), chInsertTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	table := fmt.Sprintf("%s.%s", cfg.Database, cfg.Table)
	if err := ensureTable(ctx, conn, table); err != nil {
		conn.Close()
		return nil, err
	}

	e := &ClickHouseEmitter{
		conn:          conn,
		table:         table,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval.ToDuration(),
		logger:        logger,
		queue:         make(chan *ScanEvent, cfg.BatchSize*4),
		stop:          make(chan struct{}),
	}

	e.wg.Add(1)
	go e.run()

	return e, nil
}

func ensureTable(ctx context.Context, conn driver.Conn, table string) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			request_id      String,
			domain          String,
			outcome         LowCardinality(String),
			code            LowCardinality(String),
			reason          String,
			final_url       String,
			domain_count    UInt32,
			dropped_domains UInt32,
			redirect_hops   UInt32,
			cache_status    LowCardinality(String),
			precheck_class  LowCardinality(String),
			duration        Float64,
			created_at      DateTime64(3)
		) ENGINE = MergeTree
		ORDER BY (domain, created_at)`, table)

	if err := conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("clickhouse ensure table %s: %w", table, err)
	}
	return nil
}

// Emit queues the event. Never blocks; events are dropped when the queue is
// full.
func (e *ClickHouseEmitter) Emit(event *ScanEvent) {
	select {
	case e.queue <- event:
	default:
		e.mu.Lock()
		e.dropped++
		n := e.dropped
		e.mu.Unlock()
		if n%100 == 1 {
			e.logger.Warn("clickhouse event queue full, dropping events",
				zap.Int64("dropped_total", n))
		}
	}
}

func (e *ClickHouseEmitter) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	buf := make([]*ScanEvent, 0, e.batchSize)

	flush := func() {
		if len(buf) == 0 {
			return
		}
		if err := e.insert(buf); err != nil {
			e.logger.Warn("clickhouse batch insert failed",
				zap.Int("events", len(buf)),
				zap.Error(err))
		}
		buf = buf[:0]
	}

	for {
		select {
		case ev := <-e.queue:
			buf = append(buf, ev)
			if len(buf) >= e.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-e.stop:
			// Drain whatever is already queued, then flush once.
			for {
				select {
				case ev := <-e.queue:
					buf = append(buf, ev)
					if len(buf) >= e.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (e *ClickHouseEmitter) insert(events []*ScanEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), chInsertTimeout)
	defer cancel()

	batch, err := e.conn.PrepareBatch(ctx, "INSERT INTO "+e.table)
	if err != nil {
		return err
	}

	for _, ev := range events {
		err := batch.Append(
			ev.RequestID,
			ev.Domain,
			ev.Outcome,
			ev.Code,
			ev.Reason,
			ev.FinalURL,
			uint32(ev.DomainCount),
			uint32(ev.DroppedDomains),
			uint32(ev.RedirectHops),
			ev.CacheStatus,
			ev.PrecheckClass,
			ev.Duration,
			ev.CreatedAt,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

// Close stops the flusher, flushes pending events and closes the connection.
func (e *ClickHouseEmitter) Close() error {
	close(e.stop)
	e.wg.Wait()
	return e.conn.Close()
}
