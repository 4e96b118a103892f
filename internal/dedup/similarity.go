package dedup

import (
	"strings"

	"github.com/listing-scanner/internal/models"
)

// Similarity weights. Price and area dominate; the address tokens break ties
// between properties in the same building or street.
const (
	priceWeight   = 0.4
	areaWeight    = 0.4
	addressWeight = 0.2
)

// Scorer computes a symmetric similarity score in [0, 1] between two listings.
// Pairs outside the configured price or area tolerance score zero on that
// component before weighting.
type Scorer struct {
	PriceTolerance float64
	AreaTolerance  float64
}

// Score returns the weighted similarity of two listings. Score(a, b) equals
// Score(b, a) for all inputs.
func (s Scorer) Score(a, b *models.Listing) float64 {
	price := toleratedRatio(float64(a.PriceNumeric), float64(b.PriceNumeric), s.PriceTolerance)
	area := toleratedRatio(float64(a.LivingArea), float64(b.LivingArea), s.AreaTolerance)
	addr := tokenJaccard(NormalizeAddress(a.Address), NormalizeAddress(b.Address))
	return priceWeight*price + areaWeight*area + addressWeight*addr
}

// toleratedRatio returns min/max for two positive values whose relative
// difference is within tolerance, and 0 otherwise. Two missing values count
// as a full match; one missing value counts as no match.
func toleratedRatio(a, b, tolerance float64) float64 {
	if a <= 0 && b <= 0 {
		return 1
	}
	if a <= 0 || b <= 0 {
		return 0
	}
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	if (hi-lo)/hi > tolerance {
		return 0
	}
	return lo / hi
}

// tokenJaccard computes the Jaccard index over the sets of
// whitespace-separated tokens.
func tokenJaccard(a, b string) float64 {
	sa := tokenSet(a)
	sb := tokenSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1
	}
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}

	inter := 0
	for tok := range sa {
		if sb[tok] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}
