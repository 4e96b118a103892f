package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/listing-scanner/internal/models"
)

// QueryURLRepository handles stored saved-search URLs
type QueryURLRepository struct {
	db *PostgresDB
}

// NewQueryURLRepository creates a new query URL repository
func NewQueryURLRepository(db *PostgresDB) *QueryURLRepository {
	return &QueryURLRepository{db: db}
}

// Create stores a new query URL and fills in its id.
func (r *QueryURLRepository) Create(ctx context.Context, q *models.QueryURL) error {
	if q.Method == "" {
		q.Method = "GET"
	}

	query := `
		INSERT INTO query_urls (source, url, method, enabled, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := r.db.Pool().QueryRow(ctx, query,
		q.Source, q.URL, q.Method, q.Enabled, q.Description,
	).Scan(&q.ID)
	if err != nil {
		return fmt.Errorf("failed to create query URL: %w", err)
	}
	return nil
}

// Get retrieves a query URL by id
func (r *QueryURLRepository) Get(ctx context.Context, id int64) (*models.QueryURL, error) {
	query := `
		SELECT id, source, url, method, enabled, description, last_scan
		FROM query_urls WHERE id = $1
	`

	var q models.QueryURL
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&q.ID, &q.Source, &q.URL, &q.Method, &q.Enabled, &q.Description, &q.LastScan,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get query URL: %w", err)
	}
	return &q, nil
}

// ListEnabled returns all enabled query URLs
func (r *QueryURLRepository) ListEnabled(ctx context.Context) ([]models.QueryURL, error) {
	return r.list(ctx, `SELECT id, source, url, method, enabled, description, last_scan
		FROM query_urls WHERE enabled ORDER BY id`)
}

// ListAll returns every stored query URL
func (r *QueryURLRepository) ListAll(ctx context.Context) ([]models.QueryURL, error) {
	return r.list(ctx, `SELECT id, source, url, method, enabled, description, last_scan
		FROM query_urls ORDER BY id`)
}

func (r *QueryURLRepository) list(ctx context.Context, query string) ([]models.QueryURL, error) {
	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list query URLs: %w", err)
	}
	defer rows.Close()

	var urls []models.QueryURL
	for rows.Next() {
		var q models.QueryURL
		if err := rows.Scan(&q.ID, &q.Source, &q.URL, &q.Method, &q.Enabled,
			&q.Description, &q.LastScan); err != nil {
			return nil, fmt.Errorf("failed to scan query URL: %w", err)
		}
		urls = append(urls, q)
	}
	return urls, rows.Err()
}

// SetEnabled toggles a query URL
func (r *QueryURLRepository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE query_urls SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("failed to update query URL: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("query URL %d not found", id)
	}
	return nil
}

// MarkScanned records the scan time of a query URL
func (r *QueryURLRepository) MarkScanned(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE query_urls SET last_scan = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark query URL scanned: %w", err)
	}
	return nil
}

// Delete removes a query URL
func (r *QueryURLRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM query_urls WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete query URL: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("query URL %d not found", id)
	}
	return nil
}
