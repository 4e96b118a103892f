package models

import "time"

// TargetKind distinguishes the two ways a scan target is located.
type TargetKind string

const (
	// TargetCity scans a source's search page for a city slug.
	TargetCity TargetKind = "city"
	// TargetQueryURL scans a stored, user-supplied search URL.
	TargetQueryURL TargetKind = "query_url"
)

// ScanTarget is one (source, city-or-query) unit of scan work. Targets are
// built from configuration or stored query-URL rows and are immutable for the
// duration of a scan cycle.
type ScanTarget struct {
	Source      string
	Kind        TargetKind
	City        string
	QueryURL    string
	Method      string // HTTP method for query-URL targets, default GET
	QueryURLID  int64  // row id for query-URL targets, 0 for city targets
	Enabled     bool
	MinInterval time.Duration
}

// Key returns the locator used to key scan history rows for this target.
func (t ScanTarget) Key() string {
	if t.Kind == TargetQueryURL {
		return t.QueryURL
	}
	return t.City
}

// ScanHistory records the outcome of one scan attempt for a target. A row is
// written at the end of every attempt, including failed ones, so the
// min-interval gate always has a last-scan timestamp to check against.
type ScanHistory struct {
	Source     string        `json:"source"`
	Target     string        `json:"target"`
	URL        string        `json:"url,omitempty"`
	ScanTime   time.Time     `json:"scanTime"`
	NewCount   int           `json:"newListingsCount"`
	TotalCount int           `json:"totalListingsCount"`
	Duration   time.Duration `json:"scanDuration"`
}

// QueryURL is a stored saved-search URL that can be scanned like a city page.
type QueryURL struct {
	ID          int64      `json:"id"`
	Source      string     `json:"source"`
	URL         string     `json:"url"`
	Method      string     `json:"method"`
	Enabled     bool       `json:"enabled"`
	Description string     `json:"description,omitempty"`
	LastScan    *time.Time `json:"lastScan,omitempty"`
}
