package storage

import (
	"context"

	"github.com/listing-scanner/internal/models"
)

// DedupStore bundles the listing and duplicate repositories into the store
// surface the dedup engine consumes.
type DedupStore struct {
	listings   *ListingRepository
	duplicates *DuplicateRepository
}

// NewDedupStore creates a dedup store over both repositories.
func NewDedupStore(listings *ListingRepository, duplicates *DuplicateRepository) *DedupStore {
	return &DedupStore{listings: listings, duplicates: duplicates}
}

func (s *DedupStore) UpsertListing(ctx context.Context, l *models.Listing) (bool, error) {
	return s.listings.UpsertListing(ctx, l)
}

func (s *DedupStore) FindByHash(ctx context.Context, hash, excludeSource string) ([]*models.Listing, error) {
	return s.listings.FindByHash(ctx, hash, excludeSource)
}

func (s *DedupStore) FindCandidates(ctx context.Context, city, excludeSource string, minPrice, maxPrice int) ([]*models.Listing, error) {
	return s.listings.FindCandidates(ctx, city, excludeSource, minPrice, maxPrice)
}

func (s *DedupStore) SaveDuplicatePair(ctx context.Context, pair *models.DuplicatePair) error {
	return s.duplicates.Save(ctx, pair)
}
