package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/listing-scanner/internal/fetch"
	"github.com/listing-scanner/internal/logging"
)

const fetchLogFlushSize = 100

// FetchLogRepository buffers per-request fetch telemetry and batch-inserts it
// into ClickHouse. Loss of telemetry on crash is acceptable; listing data
// never goes through this path.
type FetchLogRepository struct {
	db     *ClickHouseDB
	logger *logging.Logger

	mu  sync.Mutex
	buf []fetch.RequestLog
}

// NewFetchLogRepository creates a new fetch log repository
func NewFetchLogRepository(db *ClickHouseDB, logger *logging.Logger) *FetchLogRepository {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &FetchLogRepository{
		db:     db,
		logger: logger.WithField("component", "fetch_log"),
	}
}

// Sink returns the callback the fetch executor emits telemetry through.
func (r *FetchLogRepository) Sink() fetch.LogSink {
	return func(rec fetch.RequestLog) {
		r.mu.Lock()
		r.buf = append(r.buf, rec)
		full := len(r.buf) >= fetchLogFlushSize
		r.mu.Unlock()

		if full {
			// Flush off the fetch path; the sink must not block.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := r.Flush(ctx); err != nil {
					r.logger.ErrorWithErr("Failed to flush fetch logs", err)
				}
			}()
		}
	}
}

// Flush batch-inserts all buffered records.
func (r *FetchLogRepository) Flush(ctx context.Context) error {
	r.mu.Lock()
	records := r.buf
	r.buf = nil
	r.mu.Unlock()

	if len(records) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO fetch_log (url, proxy, status_code, attempts, duration_ms, error, fetched_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare fetch log batch: %w", err)
	}

	for _, rec := range records {
		if err := batch.Append(
			rec.URL,
			rec.Proxy,
			int32(rec.StatusCode),
			int32(rec.Attempts),
			rec.Duration.Milliseconds(),
			rec.Error,
			rec.FetchedAt,
		); err != nil {
			return fmt.Errorf("failed to append fetch log record: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send fetch log batch: %w", err)
	}
	return nil
}
