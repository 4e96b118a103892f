// Package orchestrator drives scan cycles: it expands configuration and
// stored query URLs into scan targets, gates each target on its minimum
// interval, and walks each target's search results through fetch, parse,
// and dedup.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/listing-scanner/internal/config"
	"github.com/listing-scanner/internal/dedup"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/scrape"
)

// Fetcher retrieves page bodies.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Ingester stores and classifies parsed listings.
type Ingester interface {
	Ingest(ctx context.Context, l *models.Listing) (*dedup.Result, error)
}

// Notifier fans a newly stored listing out to matching users. Optional.
type Notifier interface {
	NotifyNewListing(ctx context.Context, l *models.Listing) error
}

// HistoryStore persists scan outcomes and answers the interval gate.
type HistoryStore interface {
	Record(ctx context.Context, h *models.ScanHistory) error
	LastScanTime(ctx context.Context, source, target string) (*time.Time, error)
}

// QueryURLStore supplies stored saved-search targets. Optional.
type QueryURLStore interface {
	ListEnabled(ctx context.Context) ([]models.QueryURL, error)
	MarkScanned(ctx context.Context, id int64, at time.Time) error
}

// TargetResult is the outcome of one target in one cycle.
type TargetResult struct {
	Source   string
	Target   string
	Skipped  bool
	Aborted  bool
	NewCount int
	Total    int
	Err      error
}

// Orchestrator runs scan cycles over all configured targets.
type Orchestrator struct {
	cfg       config.ScanConfig
	fetcher   Fetcher
	ingester  Ingester
	notifier  Notifier
	history   HistoryStore
	queryURLs QueryURLStore
	logger    *logging.Logger

	running bool
	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates an orchestrator. notifier and queryURLs may be nil.
func New(cfg config.ScanConfig, fetcher Fetcher, ingester Ingester, notifier Notifier,
	history HistoryStore, queryURLs QueryURLStore, logger *logging.Logger) (*Orchestrator, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}
	if ingester == nil {
		return nil, fmt.Errorf("ingester cannot be nil")
	}
	if history == nil {
		return nil, fmt.Errorf("history store cannot be nil")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Orchestrator{
		cfg:       cfg,
		fetcher:   fetcher,
		ingester:  ingester,
		notifier:  notifier,
		history:   history,
		queryURLs: queryURLs,
		logger:    logger.WithField("component", "orchestrator"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Targets expands configuration and stored query URLs into the cycle's scan
// targets: one per (source, city), plus one per enabled query URL.
func (o *Orchestrator) Targets(ctx context.Context) ([]models.ScanTarget, error) {
	var targets []models.ScanTarget
	for _, source := range o.cfg.Sources {
		for _, city := range o.cfg.Cities {
			targets = append(targets, models.ScanTarget{
				Source:      source,
				Kind:        models.TargetCity,
				City:        city,
				Enabled:     true,
				MinInterval: o.cfg.MinIntervalFor(source),
			})
		}
	}

	if o.queryURLs != nil {
		stored, err := o.queryURLs.ListEnabled(ctx)
		if err != nil {
			return nil, fmt.Errorf("list query URLs: %w", err)
		}
		for _, q := range stored {
			targets = append(targets, models.ScanTarget{
				Source:      q.Source,
				Kind:        models.TargetQueryURL,
				QueryURL:    q.URL,
				Method:      q.Method,
				QueryURLID:  q.ID,
				Enabled:     q.Enabled,
				MinInterval: o.cfg.MinIntervalFor(q.Source),
			})
		}
	}
	return targets, nil
}

// RunOnce executes one scan cycle. Targets run concurrently; within a target,
// listing pages are processed one at a time in search-result order.
func (o *Orchestrator) RunOnce(ctx context.Context) ([]TargetResult, error) {
	targets, err := o.Targets(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]TargetResult, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target models.ScanTarget) {
			defer wg.Done()
			results[i] = o.scanTarget(ctx, target)
		}(i, target)
	}
	wg.Wait()

	var newTotal int
	for _, r := range results {
		newTotal += r.NewCount
	}
	o.logger.WithFields(map[string]interface{}{
		"targets":     len(targets),
		"newListings": newTotal,
	}).Info("Scan cycle finished")

	return results, nil
}

// scanTarget runs one target through the full pipeline. A scan history row is
// written for every attempt that passes the interval gate, failures included.
func (o *Orchestrator) scanTarget(ctx context.Context, target models.ScanTarget) TargetResult {
	res := TargetResult{Source: target.Source, Target: target.Key()}
	logger := o.logger.WithFields(map[string]interface{}{
		"source": target.Source,
		"target": target.Key(),
	})

	last, err := o.history.LastScanTime(ctx, target.Source, target.Key())
	if err != nil {
		res.Err = fmt.Errorf("last scan time: %w", err)
		return res
	}
	if last != nil && time.Since(*last) < target.MinInterval {
		logger.WithField("lastScan", last.Format(time.RFC3339)).Debug("Target scanned recently, skipping")
		res.Skipped = true
		return res
	}

	start := time.Now()
	res.NewCount, res.Total, res.Aborted, res.Err = o.processTarget(ctx, target, logger)

	history := &models.ScanHistory{
		Source:     target.Source,
		Target:     target.Key(),
		ScanTime:   start.UTC(),
		NewCount:   res.NewCount,
		TotalCount: res.Total,
		Duration:   time.Since(start),
	}
	if err := o.history.Record(ctx, history); err != nil {
		logger.ErrorWithErr("Failed to record scan history", err)
		if res.Err == nil {
			res.Err = err
		}
	}

	if target.Kind == models.TargetQueryURL && o.queryURLs != nil {
		if err := o.queryURLs.MarkScanned(ctx, target.QueryURLID, start.UTC()); err != nil {
			logger.ErrorWithErr("Failed to mark query URL scanned", err)
		}
	}
	return res
}

func (o *Orchestrator) processTarget(ctx context.Context, target models.ScanTarget, logger *logging.Logger) (newCount, total int, aborted bool, err error) {
	strategy, err := scrape.Get(target.Source)
	if err != nil {
		return 0, 0, false, err
	}

	searchURL, err := strategy.BuildSearchURL(target, o.cfg.DaysBack)
	if err != nil {
		return 0, 0, false, err
	}

	body, err := o.fetcher.Fetch(ctx, searchURL)
	if err != nil {
		return 0, 0, false, fmt.Errorf("fetch search page: %w", err)
	}

	urls, err := strategy.ParseSearchPage(body)
	if err != nil {
		return 0, 0, false, fmt.Errorf("parse search page: %w", err)
	}

	if o.cfg.MaxResultsPerScan > 0 && len(urls) > o.cfg.MaxResultsPerScan {
		logger.WithFields(map[string]interface{}{
			"found": len(urls),
			"limit": o.cfg.MaxResultsPerScan,
		}).Warn("Truncating search results to scan limit")
		urls = urls[:o.cfg.MaxResultsPerScan]
	}

	// Listings already stored stay stored even when a later page in the same
	// target fails: each listing is ingested as soon as it parses.
	tracker := newFailureTracker(o.cfg.FailureThreshold)
	var firstErr error
	for _, listingURL := range urls {
		if ctx.Err() != nil {
			return newCount, total, tracker.aborted(), ctx.Err()
		}

		listing, pageErr := o.processListingPage(ctx, strategy, listingURL)
		if pageErr != nil {
			logger.WithError(pageErr).WithField("url", listingURL).Warn("Listing page failed")
			if firstErr == nil {
				firstErr = pageErr
			}
			tracker.failure()
			if tracker.aborted() {
				logger.WithField("consecutiveFailures", tracker.consecutive).
					Error("Aborting target after consecutive page failures")
				return newCount, total, true, firstErr
			}
			continue
		}
		tracker.success()
		total++
		if listing != nil {
			newCount++
			if o.notifier != nil {
				if nerr := o.notifier.NotifyNewListing(ctx, listing); nerr != nil {
					logger.ErrorWithErr("Failed to enqueue notifications", nerr)
				}
			}
		}
	}
	return newCount, total, false, firstErr
}

// processListingPage fetches, parses, and ingests one listing page. Returns
// the listing when it was stored as new (or as a cross-source duplicate),
// nil when it refreshed an existing row.
func (o *Orchestrator) processListingPage(ctx context.Context, strategy scrape.SiteStrategy, listingURL string) (*models.Listing, error) {
	body, err := o.fetcher.Fetch(ctx, listingURL)
	if err != nil {
		return nil, err
	}

	listing, err := strategy.ParseListingPage(body, listingURL)
	if err != nil {
		return nil, err
	}

	result, err := o.ingester.Ingest(ctx, listing)
	if err != nil {
		return nil, err
	}
	if result.Verdict == dedup.VerdictExactDuplicate {
		return nil, nil
	}
	return result.Listing, nil
}

// Start begins continuous scanning with the configured cycle interval.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errors.New("orchestrator is already running")
	}
	o.running = true
	o.mu.Unlock()

	o.logger.WithField("interval", o.cfg.Interval.String()).Info("Starting continuous scanning")
	go o.scanLoop(ctx)
	return nil
}

// Stop gracefully stops continuous scanning, waiting for the current cycle.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return errors.New("orchestrator is not running")
	}
	o.mu.Unlock()

	close(o.stopCh)

	select {
	case <-o.doneCh:
		o.logger.Info("Orchestrator stopped gracefully")
	case <-ctx.Done():
		return ctx.Err()
	}

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) scanLoop(ctx context.Context) {
	defer close(o.doneCh)

	// First cycle runs immediately; the per-target interval gate keeps
	// restarts from rescanning fresh targets.
	if _, err := o.RunOnce(ctx); err != nil {
		o.logger.ErrorWithErr("Scan cycle failed", err)
	}

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.RunOnce(ctx); err != nil {
				o.logger.ErrorWithErr("Scan cycle failed", err)
			}
		}
	}
}
