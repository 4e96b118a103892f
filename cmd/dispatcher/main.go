// Package main provides the notification dispatcher entry point.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/listing-scanner/internal/config"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/notify"
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
	logger := logging.GetGlobalLogger().WithField("service", "dispatcher")
	logger.Info("Notification dispatcher starting")

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

	transport, err := notify.NewTelegramTransport(cfg.Notification.TelegramToken)
	if err != nil {
		logger.Fatalf("Failed to build Telegram transport: %v", err)
	}

	dispatcher, err := notify.NewDispatcher(
		cfg.Notification,
		storage.NewPreferenceRepository(postgres),
		storage.NewNotificationRepository(postgres),
		storage.NewNotificationCounter(redis),
		storage.NewListingRepository(postgres),
		transport,
		logger,
	)
	if err != nil {
		logger.Fatalf("Failed to build dispatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dispatcher.Start(ctx); err != nil {
		logger.Fatalf("Failed to start dispatcher: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.WithField("signal", sig.String()).Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.ErrorWithErr("Dispatcher did not stop cleanly", err)
	}
}
