// Package main provides the scan worker entry point for the listing scanner.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/listing-scanner/internal/config"
	"github.com/listing-scanner/internal/dedup"
	"github.com/listing-scanner/internal/fetch"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/notify"
	"github.com/listing-scanner/internal/orchestrator"
	"github.com/listing-scanner/internal/proxy"
	"github.com/listing-scanner/internal/scrape"
	"github.com/listing-scanner/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "Run a single scan cycle and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger().WithField("service", "scanner")
	logger.Info("Listing scanner starting")

	scrape.Register(scrape.Funda{})
	scrape.Register(scrape.Pararius{})

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	listingRepo := storage.NewListingRepository(postgres)
	duplicateRepo := storage.NewDuplicateRepository(postgres)
	historyRepo := storage.NewScanHistoryRepository(postgres)
	queryURLRepo := storage.NewQueryURLRepository(postgres)
	preferenceRepo := storage.NewPreferenceRepository(postgres)
	notificationRepo := storage.NewNotificationRepository(postgres)
	counter := storage.NewNotificationCounter(redis)

	var proxyManager *proxy.Manager
	if cfg.Proxy.Enabled {
		proxyManager, err = proxy.NewManager(cfg.Proxy.List, cfg.Proxy.RotationStrategy,
			cfg.Proxy.MaxFailures, logger)
		if err != nil {
			logger.Fatalf("Failed to build proxy manager: %v", err)
		}
		logger.WithField("proxies", proxyManager.HealthyCount()).Info("Proxy rotation enabled")
	}

	executor := fetch.NewExecutor(cfg.Scan, cfg.Proxy, proxyManager, logger)

	// Fetch telemetry goes to ClickHouse when it is reachable; the scanner
	// works without it.
	var fetchLogs *storage.FetchLogRepository
	if clickhouseDB, chErr := storage.NewClickHouseDB(&cfg.Database.ClickHouse); chErr != nil {
		logger.WithError(chErr).Warn("ClickHouse unavailable, fetch telemetry disabled")
	} else {
		defer clickhouseDB.Close()
		fetchLogs = storage.NewFetchLogRepository(clickhouseDB, logger)
		executor.SetLogSink(fetchLogs.Sink())
	}

	engine := dedup.NewEngine(storage.NewDedupStore(listingRepo, duplicateRepo), cfg.Dedup, logger)

	dispatcher, err := notify.NewDispatcher(cfg.Notification, preferenceRepo,
		notificationRepo, counter, listingRepo, nullTransport{}, logger)
	if err != nil {
		logger.Fatalf("Failed to build notification matcher: %v", err)
	}

	orch, err := orchestrator.New(cfg.Scan, executor, engine, dispatcher,
		historyRepo, queryURLRepo, logger)
	if err != nil {
		logger.Fatalf("Failed to build orchestrator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		results, err := orch.RunOnce(ctx)
		flushFetchLogs(fetchLogs, logger)
		if err != nil {
			logger.Fatalf("Scan cycle failed: %v", err)
		}
		for _, r := range results {
			logger.WithFields(map[string]interface{}{
				"source":  r.Source,
				"target":  r.Target,
				"new":     r.NewCount,
				"total":   r.Total,
				"skipped": r.Skipped,
				"aborted": r.Aborted,
			}).Info("Target result")
		}
		return
	}

	if err := orch.Start(ctx); err != nil {
		logger.Fatalf("Failed to start orchestrator: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.WithField("signal", sig.String()).Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := orch.Stop(shutdownCtx); err != nil {
		logger.ErrorWithErr("Orchestrator did not stop cleanly", err)
	}
	flushFetchLogs(fetchLogs, logger)
}

func flushFetchLogs(fetchLogs *storage.FetchLogRepository, logger *logging.Logger) {
	if fetchLogs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fetchLogs.Flush(ctx); err != nil {
		logger.ErrorWithErr("Failed to flush fetch telemetry", err)
	}
}

// nullTransport exists because the scanner only queues tasks; delivery is the
// dispatcher binary's job and it never runs through this transport.
type nullTransport struct{}

func (nullTransport) Send(_ context.Context, _ int64, _ string) error { return nil }
