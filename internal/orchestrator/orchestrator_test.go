package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listing-scanner/internal/config"
	"github.com/listing-scanner/internal/dedup"
	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/scrape"
)

// testStrategy parses plain-text bodies: the search page is a newline list of
// listing URLs, a listing page is "sourceID price".
type testStrategy struct{ source string }

func (s testStrategy) Source() string { return s.source }

func (s testStrategy) BuildSearchURL(target models.ScanTarget, _ int) (string, error) {
	if target.Kind == models.TargetQueryURL {
		return target.QueryURL, nil
	}
	return "https://example.test/" + s.source + "/" + target.City, nil
}

func (s testStrategy) ParseSearchPage(body []byte) ([]string, error) {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

func (s testStrategy) ParseListingPage(body []byte, pageURL string) (*models.Listing, error) {
	var sourceID string
	var price int
	if _, err := fmt.Sscanf(string(body), "%s %d", &sourceID, &price); err != nil {
		return nil, &scrape.ParseError{Source: s.source, URL: pageURL, Reason: "bad fixture"}
	}
	return &models.Listing{
		Source:       s.source,
		SourceID:     sourceID,
		URL:          pageURL,
		City:         "amsterdam",
		PriceNumeric: price,
	}, nil
}

type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	fetches []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, url)
	f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	body, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("no fixture for %s", url)
	}
	return []byte(body), nil
}

type fakeIngester struct {
	mu       sync.Mutex
	seen     map[string]bool
	ingested []string
}

func (f *fakeIngester) Ingest(_ context.Context, l *models.Listing) (*dedup.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	key := l.Source + "|" + l.SourceID
	f.ingested = append(f.ingested, key)
	if f.seen[key] {
		return &dedup.Result{Verdict: dedup.VerdictExactDuplicate, Listing: l}, nil
	}
	f.seen[key] = true
	return &dedup.Result{Verdict: dedup.VerdictNew, Listing: l}, nil
}

type fakeHistory struct {
	mu       sync.Mutex
	last     map[string]time.Time
	recorded []models.ScanHistory
}

func (f *fakeHistory) Record(_ context.Context, h *models.ScanHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, *h)
	return nil
}

func (f *fakeHistory) LastScanTime(_ context.Context, source, target string) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.last[source+"|"+target]; ok {
		return &t, nil
	}
	return nil, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	notified []string
}

func (f *fakeNotifier) NotifyNewListing(_ context.Context, l *models.Listing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, l.SourceID)
	return nil
}

func testConfig() config.ScanConfig {
	return config.ScanConfig{
		Sources:           []string{"testsource"},
		Cities:            []string{"amsterdam"},
		Interval:          time.Hour,
		MaxResultsPerScan: 100,
		FailureThreshold:  3,
		DaysBack:          1,
	}
}

func init() {
	scrape.Register(testStrategy{source: "testsource"})
}

const searchURL = "https://example.test/testsource/amsterdam"

func listingURL(n int) string {
	return fmt.Sprintf("https://example.test/testsource/listing/%d", n)
}

func fixtures(n int) *fakeFetcher {
	f := &fakeFetcher{
		pages: make(map[string]string),
		errs:  make(map[string]error),
	}
	var urls []string
	for i := 1; i <= n; i++ {
		urls = append(urls, listingURL(i))
		f.pages[listingURL(i)] = fmt.Sprintf("id-%d %d", i, 1000+i)
	}
	f.pages[searchURL] = strings.Join(urls, "\n")
	return f
}

func newTestOrchestrator(t *testing.T, cfg config.ScanConfig, fetcher *fakeFetcher,
	ingester *fakeIngester, notifier *fakeNotifier, history *fakeHistory) *Orchestrator {
	t.Helper()
	var n Notifier
	if notifier != nil {
		n = notifier
	}
	o, err := New(cfg, fetcher, ingester, n, history, nil, nil)
	require.NoError(t, err)
	return o
}

func TestRunOnceScansAndNotifies(t *testing.T) {
	fetcher := fixtures(3)
	ingester := &fakeIngester{}
	notifier := &fakeNotifier{}
	history := &fakeHistory{}

	o := newTestOrchestrator(t, testConfig(), fetcher, ingester, notifier, history)

	results, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.NoError(t, r.Err)
	assert.False(t, r.Skipped)
	assert.Equal(t, 3, r.Total)
	assert.Equal(t, 3, r.NewCount)
	assert.Len(t, notifier.notified, 3)

	require.Len(t, history.recorded, 1)
	assert.Equal(t, 3, history.recorded[0].NewCount)

	// In-target order is preserved: pages are fetched in search-result order.
	assert.Equal(t, []string{searchURL, listingURL(1), listingURL(2), listingURL(3)}, fetcher.fetches)
}

func TestRunOnceSkipsRecentlyScannedTarget(t *testing.T) {
	fetcher := fixtures(3)
	history := &fakeHistory{last: map[string]time.Time{
		"testsource|amsterdam": time.Now().Add(-5 * time.Minute),
	}}

	cfg := testConfig()
	cfg.SiteIntervals = map[string]time.Duration{"testsource": time.Hour}

	o := newTestOrchestrator(t, cfg, fetcher, &fakeIngester{}, nil, history)

	results, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, results[0].Skipped)
	assert.Empty(t, fetcher.fetches, "a skipped target fetches nothing")
	assert.Empty(t, history.recorded, "skips do not write history rows")
}

func TestRunOnceRescansAfterInterval(t *testing.T) {
	fetcher := fixtures(1)
	history := &fakeHistory{last: map[string]time.Time{
		"testsource|amsterdam": time.Now().Add(-2 * time.Hour),
	}}

	o := newTestOrchestrator(t, testConfig(), fetcher, &fakeIngester{}, nil, history)

	results, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, results[0].Skipped)
}

func TestRunOnceTruncatesResults(t *testing.T) {
	fetcher := fixtures(10)
	ingester := &fakeIngester{}

	cfg := testConfig()
	cfg.MaxResultsPerScan = 4

	o := newTestOrchestrator(t, cfg, fetcher, ingester, nil, &fakeHistory{})

	results, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, results[0].Total)
	assert.Len(t, ingester.ingested, 4)
}

func TestRunOnceAbortsAfterConsecutiveFailures(t *testing.T) {
	fetcher := fixtures(8)
	// Pages 3, 4, 5 fail in a row; threshold 3 aborts the target there.
	for i := 3; i <= 5; i++ {
		fetcher.errs[listingURL(i)] = fmt.Errorf("status 403")
	}
	ingester := &fakeIngester{}
	history := &fakeHistory{}

	o := newTestOrchestrator(t, testConfig(), fetcher, ingester, nil, history)

	results, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	r := results[0]
	assert.True(t, r.Aborted)
	assert.Error(t, r.Err)

	// The two listings before the failure run are already stored.
	assert.Equal(t, 2, r.NewCount)
	assert.Len(t, ingester.ingested, 2)

	// Pages after the abort are never fetched.
	assert.NotContains(t, fetcher.fetches, listingURL(6))

	// The aborted attempt still leaves a history row with partial counts.
	require.Len(t, history.recorded, 1)
	assert.Equal(t, 2, history.recorded[0].NewCount)
}

func TestRunOnceFailureStreakResetsOnSuccess(t *testing.T) {
	fetcher := fixtures(6)
	// Two failures, a success, then two more failures: never three in a row.
	fetcher.errs[listingURL(2)] = fmt.Errorf("status 500")
	fetcher.errs[listingURL(3)] = fmt.Errorf("status 500")
	fetcher.errs[listingURL(5)] = fmt.Errorf("status 500")
	fetcher.errs[listingURL(6)] = fmt.Errorf("status 500")

	o := newTestOrchestrator(t, testConfig(), fetcher, &fakeIngester{}, nil, &fakeHistory{})

	results, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	r := results[0]
	assert.False(t, r.Aborted)
	assert.Equal(t, 2, r.Total, "pages 1 and 4 parse and store")
}

func TestRunOnceExactDuplicatesAreNotNew(t *testing.T) {
	fetcher := fixtures(2)
	ingester := &fakeIngester{}
	notifier := &fakeNotifier{}

	o := newTestOrchestrator(t, testConfig(), fetcher, ingester, notifier, &fakeHistory{})

	_, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	// Second cycle sees the same listings; nothing is new, nobody notified.
	results, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	r := results[0]
	assert.Equal(t, 2, r.Total)
	assert.Equal(t, 0, r.NewCount)
	assert.Len(t, notifier.notified, 2, "only the first cycle notified")
}

func TestRunOnceRecordsHistoryOnSearchFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: map[string]string{},
		errs:  map[string]error{searchURL: fmt.Errorf("status 503")},
	}
	history := &fakeHistory{}

	o := newTestOrchestrator(t, testConfig(), fetcher, &fakeIngester{}, nil, history)

	results, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Error(t, results[0].Err)

	require.Len(t, history.recorded, 1, "failed attempts still get a history row")
	assert.Equal(t, 0, history.recorded[0].TotalCount)
}

func TestFailureTracker(t *testing.T) {
	ft := newFailureTracker(3)
	assert.Equal(t, stateActive, ft.state)

	ft.failure()
	assert.Equal(t, stateDegraded, ft.state)
	assert.False(t, ft.aborted())

	ft.success()
	assert.Equal(t, stateActive, ft.state)

	ft.failure()
	ft.failure()
	ft.failure()
	assert.True(t, ft.aborted())

	// Aborted is terminal for the cycle.
	ft.success()
	assert.True(t, ft.aborted())
}
