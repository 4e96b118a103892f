// Package dedup computes property identity fingerprints and detects exact and
// probable duplicates across listing sources.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/listing-scanner/internal/models"
)

// Banding widths for the fuzzy components of the fingerprint. Listings whose
// price or area land in the same band hash identically even when the sources
// report slightly different numbers.
const (
	priceBandWidth = 50 // euro
	areaBandWidth  = 5  // m²
)

// addressReplacer folds the common Dutch street-type abbreviations so that
// "Keizersgracht str. 10" and "Keizersgracht straat 10" normalize identically.
var addressReplacer = strings.NewReplacer(
	"straat", "str",
	"laan", "ln",
	"plein", "pln",
	"gracht", "gr",
	"weg", "wg",
	".", "",
	",", " ",
	"-", " ",
)

// PropertyHash fingerprints a listing by its physical identity: normalized
// address, price band, area band, and property type. Source-specific fields
// (URL, source id, scrape time) deliberately stay out so the same property
// listed on two sites produces the same hash.
func PropertyHash(l *models.Listing) string {
	canonical := fmt.Sprintf("%s|%s|%d|%d|%s",
		NormalizeAddress(l.Address),
		strings.ToLower(strings.TrimSpace(l.City)),
		band(l.PriceNumeric, priceBandWidth),
		band(l.LivingArea, areaBandWidth),
		strings.ToLower(string(l.PropertyType)),
	)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// NormalizeAddress lowercases, folds abbreviations, and collapses whitespace.
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	addr = addressReplacer.Replace(addr)
	return strings.Join(strings.Fields(addr), " ")
}

func band(v, width int) int {
	if v <= 0 || width <= 0 {
		return 0
	}
	return v / width
}
