// Package scrape defines the per-source site strategy interface and the
// registry the orchestrator resolves strategies from. Each listing site
// contributes one strategy; the orchestrator treats all sources uniformly.
package scrape

import (
	"fmt"
	"sync"

	"github.com/listing-scanner/internal/models"
)

// SiteStrategy is the pluggable per-source scraping contract: build the
// search URL for a target, extract listing URLs from the search page, and
// extract a Listing from a detail page.
type SiteStrategy interface {
	Source() string
	BuildSearchURL(target models.ScanTarget, days int) (string, error)
	ParseSearchPage(html []byte) ([]string, error)
	ParseListingPage(html []byte, pageURL string) (*models.Listing, error)
}

// ParseError reports a site structure mismatch on one page. It never aborts a
// whole target by itself; the orchestrator counts consecutive occurrences.
type ParseError struct {
	Source string
	URL    string
	Reason string
	Cause  error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse %s page %s: %s: %v", e.Source, e.URL, e.Reason, e.Cause)
	}
	return fmt.Sprintf("parse %s page %s: %s", e.Source, e.URL, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Cause }

var (
	registry = make(map[string]SiteStrategy)
	mu       sync.RWMutex
)

// Register adds a strategy under its source name. New sources register here
// without any orchestrator changes.
func Register(s SiteStrategy) {
	mu.Lock()
	defer mu.Unlock()
	registry[s.Source()] = s
}

// Get resolves the strategy for a source.
func Get(source string) (SiteStrategy, error) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := registry[source]
	if !ok {
		return nil, fmt.Errorf("source %q not registered", source)
	}
	return s, nil
}

// Sources returns the names of all registered sources.
func Sources() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
