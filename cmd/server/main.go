// Package main provides the admin API server entry point.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/listing-scanner/internal/api"
	"github.com/listing-scanner/internal/config"
	"github.com/listing-scanner/internal/dedup"
	"github.com/listing-scanner/internal/fetch"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/orchestrator"
	"github.com/listing-scanner/internal/proxy"
	"github.com/listing-scanner/internal/scrape"
	"github.com/listing-scanner/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger().WithField("service", "api")
	logger.Info("Admin API server starting")

	scrape.Register(scrape.Funda{})
	scrape.Register(scrape.Pararius{})

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	listingRepo := storage.NewListingRepository(postgres)
	duplicateRepo := storage.NewDuplicateRepository(postgres)
	historyRepo := storage.NewScanHistoryRepository(postgres)
	queryURLRepo := storage.NewQueryURLRepository(postgres)
	notificationRepo := storage.NewNotificationRepository(postgres)

	var proxyManager *proxy.Manager
	if cfg.Proxy.Enabled {
		proxyManager, err = proxy.NewManager(cfg.Proxy.List, cfg.Proxy.RotationStrategy,
			cfg.Proxy.MaxFailures, logger)
		if err != nil {
			logger.Fatalf("Failed to build proxy manager: %v", err)
		}
	}

	// The on-demand scan path shares the scanner's pipeline, minus
	// notifications: manually triggered scans only store listings.
	executor := fetch.NewExecutor(cfg.Scan, cfg.Proxy, proxyManager, logger)
	engine := dedup.NewEngine(storage.NewDedupStore(listingRepo, duplicateRepo), cfg.Dedup, logger)

	orch, err := orchestrator.New(cfg.Scan, executor, engine, nil, historyRepo, queryURLRepo, logger)
	if err != nil {
		logger.Fatalf("Failed to build orchestrator: %v", err)
	}

	var proxyHealth api.ProxyHealth
	if proxyManager != nil {
		proxyHealth = proxyManager
	}

	server := api.NewServer(cfg.Server, orch, listingRepo, historyRepo,
		queryURLRepo, notificationRepo, proxyHealth, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatalf("API server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.WithField("signal", sig.String()).Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server did not stop cleanly", err)
	}
}
