// Package api provides the admin HTTP API: scan history, query URL
// management, proxy health, and queue statistics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/listing-scanner/internal/config"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/orchestrator"
	"github.com/listing-scanner/internal/proxy"
)

// ScanRunner triggers scan cycles on demand.
type ScanRunner interface {
	RunOnce(ctx context.Context) ([]orchestrator.TargetResult, error)
}

// ListingReader exposes the read side of the listing store.
type ListingReader interface {
	ListRecent(ctx context.Context, limit int) ([]*models.Listing, error)
	CountBySource(ctx context.Context) (map[string]int64, error)
}

// HistoryReader exposes recent scan history.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]models.ScanHistory, error)
}

// QueryURLAdmin manages stored saved-search URLs.
type QueryURLAdmin interface {
	Create(ctx context.Context, q *models.QueryURL) error
	ListAll(ctx context.Context) ([]models.QueryURL, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	Delete(ctx context.Context, id int64) error
}

// QueueStats exposes notification queue depth.
type QueueStats interface {
	CountByStatus(ctx context.Context) (map[models.NotificationStatus]int64, error)
}

// ProxyHealth exposes proxy pool state.
type ProxyHealth interface {
	Stats() []proxy.ProxyStats
	HealthyCount() int
}

// Server is the admin API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	cfg        config.ServerConfig
	logger     *logging.Logger

	runner    ScanRunner
	listings  ListingReader
	history   HistoryReader
	queryURLs QueryURLAdmin
	queue     QueueStats
	proxies   ProxyHealth
}

// NewServer creates the admin API server. runner, queue, and proxies may be
// nil; their endpoints then return 503.
func NewServer(cfg config.ServerConfig, runner ScanRunner, listings ListingReader,
	history HistoryReader, queryURLs QueryURLAdmin, queue QueueStats,
	proxies ProxyHealth, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router:    mux.NewRouter(),
		cfg:       cfg,
		logger:    logger.WithField("component", "api_server"),
		runner:    runner,
		listings:  listings,
		history:   history,
		queryURLs: queryURLs,
		queue:     queue,
		proxies:   proxies,
	}
	s.routes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RateLimitMiddleware(NewRateLimiter(s.cfg.RequestsPerSec)))

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/listings", s.handleListListings).Methods(http.MethodGet)
	v1.HandleFunc("/listings/stats", s.handleListingStats).Methods(http.MethodGet)
	v1.HandleFunc("/scans", s.handleScanHistory).Methods(http.MethodGet)
	v1.HandleFunc("/scans/run", s.handleRunScan).Methods(http.MethodPost)
	v1.HandleFunc("/query-urls", s.handleListQueryURLs).Methods(http.MethodGet)
	v1.HandleFunc("/query-urls", s.handleCreateQueryURL).Methods(http.MethodPost)
	v1.HandleFunc("/query-urls/{id:[0-9]+}", s.handleUpdateQueryURL).Methods(http.MethodPatch)
	v1.HandleFunc("/query-urls/{id:[0-9]+}", s.handleDeleteQueryURL).Methods(http.MethodDelete)
	v1.HandleFunc("/proxies", s.handleProxyStats).Methods(http.MethodGet)
	v1.HandleFunc("/notifications/stats", s.handleNotificationStats).Methods(http.MethodGet)
}

// Router returns the configured router. Used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
