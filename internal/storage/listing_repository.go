package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/listing-scanner/internal/models"
)

// ListingRepository handles listing persistence
type ListingRepository struct {
	db *PostgresDB
}

// NewListingRepository creates a new listing repository
func NewListingRepository(db *PostgresDB) *ListingRepository {
	return &ListingRepository{db: db}
}

const listingColumns = `
	id, source, source_id, url, title, address, postal_code, city, neighborhood,
	price, price_numeric, price_period, service_costs, description,
	property_type, offering_type, living_area, plot_area, rooms, bedrooms,
	bathrooms, floors, balcony, garden, parking, construction_year,
	energy_label, interior, latitude, longitude, date_listed, date_available,
	date_scraped, images, property_hash`

// UpsertListing inserts a listing or refreshes the stored row when the same
// source already carries it, either under the same source id or under the
// same property hash. Returns whether a new row was created. The whole
// operation is a single round trip per path, safe under concurrent scanners.
func (r *ListingRepository) UpsertListing(ctx context.Context, l *models.Listing) (bool, error) {
	query := `
		INSERT INTO listings (
			source, source_id, url, title, address, postal_code, city, neighborhood,
			price, price_numeric, price_period, service_costs, description,
			property_type, offering_type, living_area, plot_area, rooms, bedrooms,
			bathrooms, floors, balcony, garden, parking, construction_year,
			energy_label, interior, latitude, longitude, date_listed, date_available,
			date_scraped, images, property_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29,
			$30, $31, $32, $33, $34)
		ON CONFLICT (source, source_id) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			address = EXCLUDED.address,
			postal_code = EXCLUDED.postal_code,
			city = EXCLUDED.city,
			neighborhood = EXCLUDED.neighborhood,
			price = EXCLUDED.price,
			price_numeric = EXCLUDED.price_numeric,
			price_period = EXCLUDED.price_period,
			service_costs = EXCLUDED.service_costs,
			description = EXCLUDED.description,
			property_type = EXCLUDED.property_type,
			offering_type = EXCLUDED.offering_type,
			living_area = EXCLUDED.living_area,
			plot_area = EXCLUDED.plot_area,
			rooms = EXCLUDED.rooms,
			bedrooms = EXCLUDED.bedrooms,
			bathrooms = EXCLUDED.bathrooms,
			floors = EXCLUDED.floors,
			balcony = EXCLUDED.balcony,
			garden = EXCLUDED.garden,
			parking = EXCLUDED.parking,
			construction_year = EXCLUDED.construction_year,
			energy_label = EXCLUDED.energy_label,
			interior = EXCLUDED.interior,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			date_listed = EXCLUDED.date_listed,
			date_available = EXCLUDED.date_available,
			date_scraped = EXCLUDED.date_scraped,
			images = EXCLUDED.images,
			property_hash = EXCLUDED.property_hash
		RETURNING id, (xmax = 0) AS inserted
	`

	var inserted bool
	err := r.db.Pool().QueryRow(ctx, query,
		l.Source, l.SourceID, l.URL, l.Title, l.Address, l.PostalCode, l.City,
		l.Neighborhood, l.Price, l.PriceNumeric, l.PricePeriod, l.ServiceCosts,
		l.Description, l.PropertyType, l.OfferingType, l.LivingArea, l.PlotArea,
		l.Rooms, l.Bedrooms, l.Bathrooms, l.Floors, l.Balcony, l.Garden,
		l.Parking, l.ConstructionYear, l.EnergyLabel, l.Interior, l.Latitude,
		l.Longitude, l.DateListed, l.DateAvailable, l.DateScraped, l.Images,
		l.PropertyHash,
	).Scan(&l.ID, &inserted)
	if err == nil {
		return inserted, nil
	}

	// A different source id colliding on (source, property_hash) means the
	// site republished the same property under a new listing id. Refresh the
	// stored row instead of inserting a second copy.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, r.refreshByHash(ctx, l)
	}
	return false, fmt.Errorf("failed to upsert listing: %w", err)
}

// refreshByHash updates the row holding (source, property_hash) with the
// latest scraped values, adopting the new source id and URL.
func (r *ListingRepository) refreshByHash(ctx context.Context, l *models.Listing) error {
	query := `
		UPDATE listings SET
			source_id = $3, url = $4, title = $5, address = $6, postal_code = $7,
			city = $8, price = $9, price_numeric = $10, living_area = $11,
			rooms = $12, date_scraped = $13
		WHERE source = $1 AND property_hash = $2
		RETURNING id
	`
	err := r.db.Pool().QueryRow(ctx, query,
		l.Source, l.PropertyHash, l.SourceID, l.URL, l.Title, l.Address,
		l.PostalCode, l.City, l.Price, l.PriceNumeric, l.LivingArea, l.Rooms,
		l.DateScraped,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("failed to refresh listing by hash: %w", err)
	}
	return nil
}

// GetBySourceID retrieves a listing by its source identity
func (r *ListingRepository) GetBySourceID(ctx context.Context, source, sourceID string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE source = $1 AND source_id = $2`

	l, err := scanListing(r.db.Pool().QueryRow(ctx, query, source, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return l, nil
}

// GetByID retrieves a listing by its row id
func (r *ListingRepository) GetByID(ctx context.Context, id int64) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	l, err := scanListing(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return l, nil
}

// FindByHash returns listings with the given property hash from sources other
// than excludeSource.
func (r *ListingRepository) FindByHash(ctx context.Context, hash, excludeSource string) ([]*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE property_hash = $1 AND source != $2`

	rows, err := r.db.Pool().Query(ctx, query, hash, excludeSource)
	if err != nil {
		return nil, fmt.Errorf("failed to find listings by hash: %w", err)
	}
	defer rows.Close()

	return collectListings(rows)
}

// FindCandidates returns listings from other sources in the same city within
// a price window, the pre-filter for similarity scoring.
func (r *ListingRepository) FindCandidates(ctx context.Context, city, excludeSource string, minPrice, maxPrice int) ([]*models.Listing, error) {
	query := `SELECT ` + listingColumns + `
		FROM listings
		WHERE city = $1 AND source != $2 AND price_numeric BETWEEN $3 AND $4
		LIMIT 200`

	rows, err := r.db.Pool().Query(ctx, query, city, excludeSource, minPrice, maxPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to find candidate listings: %w", err)
	}
	defer rows.Close()

	return collectListings(rows)
}

// ListRecent returns the most recently scraped listings
func (r *ListingRepository) ListRecent(ctx context.Context, limit int) ([]*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings ORDER BY date_scraped DESC LIMIT $1`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	return collectListings(rows)
}

// CountBySource returns per-source listing counts
func (r *ListingRepository) CountBySource(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT source, COUNT(*) FROM listings GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to count listings: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var source string
		var count int64
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("failed to scan listing count: %w", err)
		}
		counts[source] = count
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(
		&l.ID, &l.Source, &l.SourceID, &l.URL, &l.Title, &l.Address,
		&l.PostalCode, &l.City, &l.Neighborhood, &l.Price, &l.PriceNumeric,
		&l.PricePeriod, &l.ServiceCosts, &l.Description, &l.PropertyType,
		&l.OfferingType, &l.LivingArea, &l.PlotArea, &l.Rooms, &l.Bedrooms,
		&l.Bathrooms, &l.Floors, &l.Balcony, &l.Garden, &l.Parking,
		&l.ConstructionYear, &l.EnergyLabel, &l.Interior, &l.Latitude,
		&l.Longitude, &l.DateListed, &l.DateAvailable, &l.DateScraped,
		&l.Images, &l.PropertyHash,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func collectListings(rows pgx.Rows) ([]*models.Listing, error) {
	var listings []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}
