package storage

import (
	"context"
	"fmt"

	"github.com/listing-scanner/internal/models"
)

// PreferenceRepository handles users and their saved search preferences
type PreferenceRepository struct {
	db *PostgresDB
}

// NewPreferenceRepository creates a new preference repository
func NewPreferenceRepository(db *PostgresDB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// MatchUsers returns the ids of active users with at least one enabled
// preference matching the listing. Zero-valued preference fields act as
// wildcards; the filtering happens entirely in SQL.
func (r *PreferenceRepository) MatchUsers(ctx context.Context, l *models.Listing) ([]int64, error) {
	query := `
		SELECT DISTINCT u.id
		FROM users u
		JOIN user_preferences p ON p.user_id = u.id
		WHERE u.active
		  AND p.enabled
		  AND (p.city = '' OR p.city = $1)
		  AND (p.min_price = 0 OR $2 >= p.min_price)
		  AND (p.max_price = 0 OR $2 <= p.max_price)
		  AND (p.min_area = 0 OR $3 >= p.min_area)
		  AND (p.min_rooms = 0 OR $4 >= p.min_rooms)
		  AND (p.property_type = '' OR p.property_type = $5)
	`

	rows, err := r.db.Pool().Query(ctx, query,
		l.City, l.PriceNumeric, l.LivingArea, l.Rooms, string(l.PropertyType))
	if err != nil {
		return nil, fmt.Errorf("failed to match users: %w", err)
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}

// GetUser retrieves a user by id
func (r *PreferenceRepository) GetUser(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT id, chat_id, username, active, created_at FROM users WHERE id = $1`

	var u models.User
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&u.ID, &u.ChatID, &u.Username, &u.Active, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// ListPreferences returns a user's preferences
func (r *PreferenceRepository) ListPreferences(ctx context.Context, userID int64) ([]models.UserPreference, error) {
	query := `
		SELECT id, user_id, city, min_price, max_price, min_area, min_rooms,
			   property_type, enabled
		FROM user_preferences
		WHERE user_id = $1
		ORDER BY id
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	defer rows.Close()

	var prefs []models.UserPreference
	for rows.Next() {
		var p models.UserPreference
		if err := rows.Scan(&p.ID, &p.UserID, &p.City, &p.MinPrice, &p.MaxPrice,
			&p.MinArea, &p.MinRooms, &p.PropertyType, &p.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}
