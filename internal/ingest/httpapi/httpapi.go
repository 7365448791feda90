// Package httpapi implements the ingestion server's write path
// (registration, snapshot upload) and the dashboard read API.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/ingest/storage"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/logging"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/metric"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/metrics"
)

// Config controls which routes enforce the API key.
type Config struct {
	APIKey            string
	RequireKeyOnReads bool
}

// Server bundles the dependencies the route handlers need.
type Server struct {
	store  storage.Store
	logger *slog.Logger
	cfg    Config
}

// NewRouter builds the ingestion server's mux.Router: /health is always
// open, the write routes always require the API key, and the read route
// requires it only when cfg.RequireKeyOnReads is set.
func NewRouter(store storage.Store, logger *slog.Logger, cfg Config) *mux.Router {
	s := &Server{store: store, logger: logger, cfg: cfg}

	router := mux.NewRouter()
	router.Use(logging.Middleware(logger))

	router.Handle("/health", metrics.Middleware("/health", http.HandlerFunc(s.handleHealth))).Methods(http.MethodGet)

	writes := router.PathPrefix("").Subrouter()
	writes.Use(s.requireAPIKey)
	writes.Handle("/aggregators", metrics.Middleware("/aggregators", http.HandlerFunc(s.handleRegisterAggregator))).Methods(http.MethodPost)
	writes.Handle("/devices", metrics.Middleware("/devices", http.HandlerFunc(s.handleRegisterDevice))).Methods(http.MethodPost)
	writes.Handle("/api/metrics", metrics.Middleware("/api/metrics [POST]", http.HandlerFunc(s.handleIngestMetrics))).Methods(http.MethodPost)

	reads := router.PathPrefix("").Subrouter()
	if cfg.RequireKeyOnReads {
		reads.Use(s.requireAPIKey)
	}
	reads.Handle("/api/metrics", metrics.Middleware("/api/metrics [GET]", http.HandlerFunc(s.handleQueryMetrics))).Methods(http.MethodGet)

	return router
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" || r.Header.Get("X-API-Key") == s.cfg.APIKey {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid or missing API key")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Health(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unhealthy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type aggregatorRequest struct {
	Name string `json:"name"`
}

type aggregatorResponse struct {
	AggregatorID uuid.UUID `json:"aggregator_id"`
}

func (s *Server) handleRegisterAggregator(w http.ResponseWriter, r *http.Request) {
	var req aggregatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	id, created, err := s.store.UpsertAggregator(r.Context(), req.Name)
	if err != nil {
		s.logger.Error("upsert aggregator failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register aggregator")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, aggregatorResponse{AggregatorID: id})
}

type deviceRequest struct {
	AggregatorID uuid.UUID `json:"aggregator_id"`
	Name         string    `json:"name"`
	Source       string    `json:"source"`
}

type deviceResponse struct {
	DeviceID uuid.UUID `json:"device_id"`
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Source == "" {
		writeError(w, http.StatusBadRequest, "aggregator_id, name and source are required")
		return
	}

	dev, err := s.store.CreateDevice(r.Context(), req.AggregatorID, req.Name, req.Source)
	if err != nil {
		if errors.Is(err, storage.ErrAggregatorNotFound) {
			writeError(w, http.StatusNotFound, "aggregator not found")
			return
		}
		s.logger.Error("create device failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register device")
		return
	}
	writeJSON(w, http.StatusCreated, deviceResponse{DeviceID: dev.DeviceID})
}

func (s *Server) handleIngestMetrics(w http.ResponseWriter, r *http.Request) {
	var snap metric.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid snapshot payload")
		return
	}

	if err := s.store.InsertSnapshot(r.Context(), snap); err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		s.logger.Error("insert snapshot failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to persist snapshot")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleQueryMetrics(w http.ResponseWriter, r *http.Request) {
	q := storage.MetricQuery{Source: r.URL.Query().Get("source")}

	if raw := r.URL.Query().Get("device_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid device_id")
			return
		}
		q.DeviceID = &id
	}

	if raw := r.URL.Query().Get("since"); raw != "" {
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		since := time.Unix(sec, 0).UTC()
		q.Since = &since
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = limit
	}

	results, err := s.store.QueryMetrics(r.Context(), q)
	if err != nil {
		s.logger.Error("query metrics failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query metrics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"metrics": results})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
