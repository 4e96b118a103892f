package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listing-scanner/internal/config"
	"github.com/listing-scanner/internal/models"
)

func testDedupConfig() config.DedupConfig {
	return config.DedupConfig{
		SimilarityThreshold: 0.8,
		PriceTolerance:      0.10,
		AreaTolerance:       0.10,
	}
}

// fakeStore is an in-memory Store keyed the way the Postgres repository is.
type fakeStore struct {
	bySourceID map[string]*models.Listing // source|source_id
	byHash     map[string]*models.Listing // source|property_hash
	pairs      []models.DuplicatePair
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bySourceID: make(map[string]*models.Listing),
		byHash:     make(map[string]*models.Listing),
	}
}

func (s *fakeStore) UpsertListing(_ context.Context, l *models.Listing) (bool, error) {
	idKey := l.Source + "|" + l.SourceID
	hashKey := l.Source + "|" + l.PropertyHash
	if _, ok := s.bySourceID[idKey]; ok {
		s.bySourceID[idKey] = l
		s.byHash[hashKey] = l
		return false, nil
	}
	if _, ok := s.byHash[hashKey]; ok {
		s.byHash[hashKey] = l
		return false, nil
	}
	s.bySourceID[idKey] = l
	s.byHash[hashKey] = l
	return true, nil
}

func (s *fakeStore) FindByHash(_ context.Context, hash, excludeSource string) ([]*models.Listing, error) {
	var out []*models.Listing
	for _, l := range s.bySourceID {
		if l.PropertyHash == hash && l.Source != excludeSource {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *fakeStore) FindCandidates(_ context.Context, city, excludeSource string, minPrice, maxPrice int) ([]*models.Listing, error) {
	var out []*models.Listing
	for _, l := range s.bySourceID {
		if l.City == city && l.Source != excludeSource &&
			l.PriceNumeric >= minPrice && l.PriceNumeric <= maxPrice {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveDuplicatePair(_ context.Context, pair *models.DuplicatePair) error {
	s.pairs = append(s.pairs, *pair)
	return nil
}

func newTestEngine(store *fakeStore) *Engine {
	return NewEngine(store, testDedupConfig(), nil)
}

func fundaListing() *models.Listing {
	return &models.Listing{
		Source:       "funda",
		SourceID:     "43001001",
		URL:          "https://www.funda.nl/detail/huur/amsterdam/appartement-keizersgracht-100/43001001/",
		Address:      "Keizersgracht 100",
		City:         "amsterdam",
		PriceNumeric: 1500,
		LivingArea:   60,
		PropertyType: models.PropertyApartment,
	}
}

func TestIngestNewListing(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store)

	res, err := engine.Ingest(context.Background(), fundaListing())
	require.NoError(t, err)

	assert.Equal(t, VerdictNew, res.Verdict)
	assert.NotEmpty(t, res.Listing.PropertyHash)
	assert.Empty(t, res.Pairs)
}

func TestIngestSameSourceIsExactDuplicate(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store)

	_, err := engine.Ingest(context.Background(), fundaListing())
	require.NoError(t, err)

	// Same source and source id, refreshed price.
	updated := fundaListing()
	updated.PriceNumeric = 1550
	res, err := engine.Ingest(context.Background(), updated)
	require.NoError(t, err)

	assert.Equal(t, VerdictExactDuplicate, res.Verdict)
	assert.Empty(t, store.pairs, "same-source duplicates never produce pairs")
}

func TestIngestCrossSourceSimilarListing(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store)

	_, err := engine.Ingest(context.Background(), fundaListing())
	require.NoError(t, err)

	// The same apartment on another site: price within 10%, area off by one,
	// same address.
	other := &models.Listing{
		Source:       "pararius",
		SourceID:     "a7e93cc2",
		Address:      "Keizersgracht 100",
		City:         "amsterdam",
		PriceNumeric: 1520,
		LivingArea:   61,
		PropertyType: models.PropertyApartment,
	}
	res, err := engine.Ingest(context.Background(), other)
	require.NoError(t, err)

	assert.Equal(t, VerdictProbableDuplicate, res.Verdict)
	require.Len(t, res.Pairs, 1)

	pair := res.Pairs[0]
	assert.Equal(t, "funda", pair.Source1, "pair sources are stored in sorted order")
	assert.Equal(t, "pararius", pair.Source2)
	assert.GreaterOrEqual(t, pair.Similarity, 0.8)

	// Both listings remain independently stored.
	assert.Len(t, store.bySourceID, 2)
}

func TestIngestCrossSourceDissimilarListing(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store)

	_, err := engine.Ingest(context.Background(), fundaListing())
	require.NoError(t, err)

	other := &models.Listing{
		Source:       "pararius",
		SourceID:     "b81f0d11",
		Address:      "Damrak 5",
		City:         "amsterdam",
		PriceNumeric: 2400,
		LivingArea:   95,
		PropertyType: models.PropertyApartment,
	}
	res, err := engine.Ingest(context.Background(), other)
	require.NoError(t, err)

	assert.Equal(t, VerdictNew, res.Verdict)
	assert.Empty(t, res.Pairs)
}

func TestIngestRejectsMissingIdentity(t *testing.T) {
	engine := newTestEngine(newFakeStore())

	_, err := engine.Ingest(context.Background(), &models.Listing{Source: "funda"})
	assert.Error(t, err)
}

func TestPropertyHashIgnoresSourceFields(t *testing.T) {
	a := fundaListing()

	b := fundaListing()
	b.Source = "pararius"
	b.SourceID = "other-id"
	b.URL = "https://www.pararius.com/apartment-for-rent/amsterdam/x/keizersgracht"

	assert.Equal(t, PropertyHash(a), PropertyHash(b))
}

func TestPropertyHashBandsSmallDifferences(t *testing.T) {
	a := fundaListing()
	a.PriceNumeric = 1500
	a.LivingArea = 60

	b := fundaListing()
	b.PriceNumeric = 1540 // same 50-euro band
	b.LivingArea = 62     // same 5-m² band

	assert.Equal(t, PropertyHash(a), PropertyHash(b))

	c := fundaListing()
	c.PriceNumeric = 2000
	assert.NotEqual(t, PropertyHash(a), PropertyHash(c))
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, NormalizeAddress("Keizersgracht 100"), NormalizeAddress("  keizersgracht  100 "))
	assert.Equal(t, NormalizeAddress("Hoofdstraat 1"), NormalizeAddress("Hoofdstr. 1"))
}

func TestScorerScenarios(t *testing.T) {
	s := Scorer{PriceTolerance: 0.10, AreaTolerance: 0.10}

	t.Run("near-identical cross-source listings score above threshold", func(t *testing.T) {
		a := &models.Listing{Address: "Keizersgracht 100", PriceNumeric: 1500, LivingArea: 60}
		b := &models.Listing{Address: "Keizersgracht 100", PriceNumeric: 1520, LivingArea: 61}
		assert.GreaterOrEqual(t, s.Score(a, b), 0.8)
	})

	t.Run("price outside tolerance zeroes the price component", func(t *testing.T) {
		a := &models.Listing{Address: "Keizersgracht 100", PriceNumeric: 1500, LivingArea: 60}
		b := &models.Listing{Address: "Keizersgracht 100", PriceNumeric: 2000, LivingArea: 60}
		assert.Less(t, s.Score(a, b), 0.8)
	})

	t.Run("identical listings score 1", func(t *testing.T) {
		a := &models.Listing{Address: "Keizersgracht 100", PriceNumeric: 1500, LivingArea: 60}
		assert.InDelta(t, 1.0, s.Score(a, a), 1e-9)
	})
}
