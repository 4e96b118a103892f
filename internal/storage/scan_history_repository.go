package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/listing-scanner/internal/models"
)

// ScanHistoryRepository handles scan history persistence
type ScanHistoryRepository struct {
	db *PostgresDB
}

// NewScanHistoryRepository creates a new scan history repository
func NewScanHistoryRepository(db *PostgresDB) *ScanHistoryRepository {
	return &ScanHistoryRepository{db: db}
}

// Record writes the outcome of one scan attempt.
func (r *ScanHistoryRepository) Record(ctx context.Context, h *models.ScanHistory) error {
	query := `
		INSERT INTO scan_history (
			source, target, url, scan_time, new_listings_count,
			total_listings_count, scan_duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		h.Source, h.Target, h.URL, h.ScanTime, h.NewCount, h.TotalCount,
		h.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record scan history: %w", err)
	}
	return nil
}

// LastScanTime returns the most recent scan time for a (source, target) pair,
// or nil when the target has never been scanned.
func (r *ScanHistoryRepository) LastScanTime(ctx context.Context, source, target string) (*time.Time, error) {
	query := `
		SELECT scan_time FROM scan_history
		WHERE source = $1 AND target = $2
		ORDER BY scan_time DESC
		LIMIT 1
	`

	var t time.Time
	err := r.db.Pool().QueryRow(ctx, query, source, target).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last scan time: %w", err)
	}
	return &t, nil
}

// Recent returns the latest scan history rows, newest first.
func (r *ScanHistoryRepository) Recent(ctx context.Context, limit int) ([]models.ScanHistory, error) {
	query := `
		SELECT source, target, url, scan_time, new_listings_count,
			   total_listings_count, scan_duration_ms
		FROM scan_history
		ORDER BY scan_time DESC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan history: %w", err)
	}
	defer rows.Close()

	var history []models.ScanHistory
	for rows.Next() {
		var h models.ScanHistory
		var durationMs int64
		if err := rows.Scan(&h.Source, &h.Target, &h.URL, &h.ScanTime,
			&h.NewCount, &h.TotalCount, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		h.Duration = time.Duration(durationMs) * time.Millisecond
		history = append(history, h)
	}
	return history, rows.Err()
}
