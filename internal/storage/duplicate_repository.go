package storage

import (
	"context"
	"fmt"

	"github.com/listing-scanner/internal/models"
)

// DuplicateRepository handles cross-source duplicate pair persistence
type DuplicateRepository struct {
	db *PostgresDB
}

// NewDuplicateRepository creates a new duplicate repository
func NewDuplicateRepository(db *PostgresDB) *DuplicateRepository {
	return &DuplicateRepository{db: db}
}

// Save records a duplicate pair. The pair is normalized before writing so
// every unordered pair has exactly one row; re-detection refreshes the score.
func (r *DuplicateRepository) Save(ctx context.Context, pair *models.DuplicatePair) error {
	pair.Normalize()

	query := `
		INSERT INTO duplicate_pairs (
			property_hash, source_1, source_id_1, source_2, source_id_2,
			similarity, detected_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_1, source_id_1, source_2, source_id_2) DO UPDATE SET
			property_hash = EXCLUDED.property_hash,
			similarity = EXCLUDED.similarity,
			detected_at = EXCLUDED.detected_at
	`

	_, err := r.db.Pool().Exec(ctx, query,
		pair.PropertyHash, pair.Source1, pair.SourceID1, pair.Source2,
		pair.SourceID2, pair.Similarity, pair.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save duplicate pair: %w", err)
	}
	return nil
}

// ListForListing returns pairs involving a listing's source identity.
func (r *DuplicateRepository) ListForListing(ctx context.Context, source, sourceID string) ([]models.DuplicatePair, error) {
	query := `
		SELECT property_hash, source_1, source_id_1, source_2, source_id_2,
			   similarity, detected_at
		FROM duplicate_pairs
		WHERE (source_1 = $1 AND source_id_1 = $2)
		   OR (source_2 = $1 AND source_id_2 = $2)
		ORDER BY detected_at DESC
	`

	rows, err := r.db.Pool().Query(ctx, query, source, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate pairs: %w", err)
	}
	defer rows.Close()

	var pairs []models.DuplicatePair
	for rows.Next() {
		var p models.DuplicatePair
		if err := rows.Scan(&p.PropertyHash, &p.Source1, &p.SourceID1,
			&p.Source2, &p.SourceID2, &p.Similarity, &p.DetectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// CountPairs returns the total number of recorded duplicate pairs.
func (r *DuplicateRepository) CountPairs(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM duplicate_pairs`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count duplicate pairs: %w", err)
	}
	return count, nil
}
