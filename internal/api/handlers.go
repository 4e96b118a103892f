package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/listing-scanner/internal/models"
)

const defaultListLimit = 50

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)

	listings, err := s.listings.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.ErrorWithErr("Failed to list listings", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list listings")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"listings": listings})
}

func (s *Server) handleListingStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.listings.CountBySource(r.Context())
	if err != nil {
		s.logger.ErrorWithErr("Failed to count listings", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to count listings")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"countsBySource": counts})
}

func (s *Server) handleScanHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)

	history, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.ErrorWithErr("Failed to list scan history", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list scan history")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"scans": history})
}

func (s *Server) handleRunScan(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_AVAILABLE", "scan runner not attached")
		return
	}

	// Scans take minutes; run detached and report acceptance.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := s.runner.RunOnce(ctx); err != nil {
			s.logger.ErrorWithErr("Triggered scan failed", err)
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "scan started"})
}

func (s *Server) handleListQueryURLs(w http.ResponseWriter, r *http.Request) {
	urls, err := s.queryURLs.ListAll(r.Context())
	if err != nil {
		s.logger.ErrorWithErr("Failed to list query URLs", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list query URLs")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"queryUrls": urls})
}

type createQueryURLRequest struct {
	Source      string `json:"source"`
	URL         string `json:"url"`
	Method      string `json:"method,omitempty"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleCreateQueryURL(w http.ResponseWriter, r *http.Request) {
	var req createQueryURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
		return
	}
	if req.Source == "" || req.URL == "" {
		respondError(w, http.StatusBadRequest, "MISSING_FIELD", "source and url are required")
		return
	}

	q := &models.QueryURL{
		Source:      req.Source,
		URL:         req.URL,
		Method:      req.Method,
		Description: req.Description,
		Enabled:     true,
	}
	if err := s.queryURLs.Create(r.Context(), q); err != nil {
		s.logger.ErrorWithErr("Failed to create query URL", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create query URL")
		return
	}
	respondJSON(w, http.StatusCreated, q)
}

type updateQueryURLRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleUpdateQueryURL(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "id must be numeric")
		return
	}

	var req updateQueryURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "body must set enabled")
		return
	}

	if err := s.queryURLs.SetEnabled(r.Context(), id, *req.Enabled); err != nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "enabled": *req.Enabled})
}

func (s *Server) handleDeleteQueryURL(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "id must be numeric")
		return
	}

	if err := s.queryURLs.Delete(r.Context(), id); err != nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProxyStats(w http.ResponseWriter, r *http.Request) {
	if s.proxies == nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_AVAILABLE", "proxying is disabled")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"healthy": s.proxies.HealthyCount(),
		"proxies": s.proxies.Stats(),
	})
}

func (s *Server) handleNotificationStats(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_AVAILABLE", "notification queue not attached")
		return
	}

	counts, err := s.queue.CountByStatus(r.Context())
	if err != nil {
		s.logger.ErrorWithErr("Failed to count notification tasks", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to count notification tasks")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"countsByStatus": counts})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}
