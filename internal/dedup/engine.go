package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/listing-scanner/internal/config"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/models"
)

// Verdict classifies one ingested listing.
type Verdict string

const (
	// VerdictNew means the listing was stored as a fresh row.
	VerdictNew Verdict = "new"
	// VerdictExactDuplicate means an existing row from the same source was
	// refreshed in place. No notification is generated.
	VerdictExactDuplicate Verdict = "exact_duplicate"
	// VerdictProbableDuplicate means the listing was stored as new but is
	// linked to one or more similar listings on other sources.
	VerdictProbableDuplicate Verdict = "probable_duplicate"
)

// Store is the persistence surface the engine requires.
type Store interface {
	// UpsertListing inserts the listing or, when the same source already
	// carries it (matching source id or property hash), refreshes the stored
	// row. Returns whether a new row was created.
	UpsertListing(ctx context.Context, l *models.Listing) (inserted bool, err error)

	// FindByHash returns stored listings with the given property hash from
	// sources other than excludeSource.
	FindByHash(ctx context.Context, hash, excludeSource string) ([]*models.Listing, error)

	// FindCandidates returns stored listings from other sources in the same
	// city with a price inside [minPrice, maxPrice], the pre-filter for
	// similarity scoring.
	FindCandidates(ctx context.Context, city, excludeSource string, minPrice, maxPrice int) ([]*models.Listing, error)

	// SaveDuplicatePair records a cross-source duplicate link. Saving the
	// same normalized pair twice must not error.
	SaveDuplicatePair(ctx context.Context, pair *models.DuplicatePair) error
}

// Result is the outcome of ingesting one listing.
type Result struct {
	Verdict Verdict
	Listing *models.Listing
	Pairs   []models.DuplicatePair
}

// Engine deduplicates listings on ingest. Listings from the same source never
// pair with each other; cross-source matches are linked, never merged.
type Engine struct {
	store     Store
	scorer    Scorer
	threshold float64
	logger    *logging.Logger
}

// NewEngine builds an engine with the configured tolerances and threshold.
func NewEngine(store Store, cfg config.DedupConfig, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Engine{
		store: store,
		scorer: Scorer{
			PriceTolerance: cfg.PriceTolerance,
			AreaTolerance:  cfg.AreaTolerance,
		},
		threshold: cfg.SimilarityThreshold,
		logger:    logger.WithField("component", "dedup_engine"),
	}
}

// Ingest fingerprints, stores, and classifies one listing.
func (e *Engine) Ingest(ctx context.Context, l *models.Listing) (*Result, error) {
	if l.Source == "" || l.SourceID == "" {
		return nil, fmt.Errorf("dedup: listing missing source identity")
	}
	l.PropertyHash = PropertyHash(l)

	inserted, err := e.store.UpsertListing(ctx, l)
	if err != nil {
		return nil, fmt.Errorf("dedup: upsert listing: %w", err)
	}
	if !inserted {
		e.logger.WithFields(map[string]interface{}{
			"source":   l.Source,
			"sourceId": l.SourceID,
		}).Debug("Listing refreshed in place")
		return &Result{Verdict: VerdictExactDuplicate, Listing: l}, nil
	}

	pairs, err := e.crossSourcePairs(ctx, l)
	if err != nil {
		return nil, err
	}
	for i := range pairs {
		if err := e.store.SaveDuplicatePair(ctx, &pairs[i]); err != nil {
			return nil, fmt.Errorf("dedup: save duplicate pair: %w", err)
		}
	}

	verdict := VerdictNew
	if len(pairs) > 0 {
		verdict = VerdictProbableDuplicate
		e.logger.WithFields(map[string]interface{}{
			"source":   l.Source,
			"sourceId": l.SourceID,
			"pairs":    len(pairs),
		}).Info("Cross-source duplicate detected")
	}
	return &Result{Verdict: verdict, Listing: l, Pairs: pairs}, nil
}

// crossSourcePairs finds listings on other sources describing the same
// property, first by exact hash, then by similarity over a price-banded
// candidate set.
func (e *Engine) crossSourcePairs(ctx context.Context, l *models.Listing) ([]models.DuplicatePair, error) {
	matches, err := e.store.FindByHash(ctx, l.PropertyHash, l.Source)
	if err != nil {
		return nil, fmt.Errorf("dedup: find by hash: %w", err)
	}

	var pairs []models.DuplicatePair
	seen := make(map[string]bool)
	for _, m := range matches {
		pairs = append(pairs, e.pairFor(l, m, e.scorer.Score(l, m)))
		seen[m.Source+"|"+m.SourceID] = true
	}

	minPrice, maxPrice := priceWindow(l.PriceNumeric, e.scorer.PriceTolerance)
	candidates, err := e.store.FindCandidates(ctx, l.City, l.Source, minPrice, maxPrice)
	if err != nil {
		return nil, fmt.Errorf("dedup: find candidates: %w", err)
	}
	for _, c := range candidates {
		if seen[c.Source+"|"+c.SourceID] {
			continue
		}
		if score := e.scorer.Score(l, c); score >= e.threshold {
			pairs = append(pairs, e.pairFor(l, c, score))
		}
	}
	return pairs, nil
}

func (e *Engine) pairFor(a, b *models.Listing, score float64) models.DuplicatePair {
	pair := models.DuplicatePair{
		PropertyHash: a.PropertyHash,
		Source1:      a.Source,
		SourceID1:    a.SourceID,
		Source2:      b.Source,
		SourceID2:    b.SourceID,
		Similarity:   score,
		DetectedAt:   time.Now().UTC(),
	}
	pair.Normalize()
	return pair
}

// priceWindow widens the listing price by the tolerance on both sides to
// bound the candidate query.
func priceWindow(price int, tolerance float64) (int, int) {
	if price <= 0 {
		return 0, 0
	}
	span := float64(price) * tolerance
	return price - int(span) - 1, price + int(span) + 1
}
