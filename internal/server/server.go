// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mintheist/steal-indexer/internal/config"
	"github.com/mintheist/steal-indexer/internal/metrics"
	"github.com/mintheist/steal-indexer/internal/models"
	"github.com/mintheist/steal-indexer/internal/queue"
	"github.com/mintheist/steal-indexer/internal/scanner"
	"github.com/mintheist/steal-indexer/internal/storage"
	"github.com/mintheist/steal-indexer/pkg/utils"
)

// HTTPServer exposes the read API, health checks and metrics
type HTTPServer struct {
	config         *config.ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	scanner        *scanner.Scanner
	queueClient    *queue.Client
	consumer       *queue.Consumer
	metricsManager *metrics.Manager
	logger         *logrus.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	cfg *config.ServerConfig,
	store storage.Storage,
	scan *scanner.Scanner,
	queueClient *queue.Client,
	consumer *queue.Consumer,
	metricsManager *metrics.Manager,
) *HTTPServer {

	s := &HTTPServer{
		config:         cfg,
		storage:        store,
		scanner:        scan,
		queueClient:    queueClient,
		consumer:       consumer,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
		done:           make(chan struct{}),
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Health check endpoints
	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	// Metrics endpoints
	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	// Entity endpoints
	api.HandleFunc("/entities", s.listEntitiesHandler).Methods("GET")
	api.HandleFunc("/entities/{id}", s.getEntityHandler).Methods("GET")
	api.HandleFunc("/entities/{id}/history", s.entityHistoryHandler).Methods("GET")

	// History endpoint
	api.HandleFunc("/history", s.listHistoryHandler).Methods("GET")

	// Scanner endpoint
	api.HandleFunc("/scanner/status", s.scannerStatusHandler).Methods("GET")

	// Reconciliation endpoint
	api.HandleFunc("/reconciliations", s.listReconciliationsHandler).Methods("GET")
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.updateComponentHealth()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithField("error", err.Error()).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Catch immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop stops the HTTP server and the background metrics updater
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	s.stopOnce.Do(func() {
		close(s.done)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// systemMetricsUpdater updates system metrics periodically until Stop
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.metricsManager.UpdateSystemMetrics()
			s.updateComponentHealth()
		}
	}
}

func (s *HTTPServer) updateComponentHealth() {
	prom := s.metricsManager.GetPrometheusMetrics()
	if s.storage != nil {
		prom.UpdateComponentHealth("storage", s.storage.Ping() == nil)
	}
	if s.scanner != nil {
		prom.UpdateComponentHealth("scanner", s.scanner.IsRunning())
	}
	if s.queueClient != nil {
		prom.UpdateComponentHealth("queue", s.queueClient.IsConnected())
	}
}

// Health handlers

func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	components := map[string]bool{
		"storage": s.storage.Ping() == nil,
		"scanner": s.scanner != nil && s.scanner.IsRunning(),
		"queue":   s.queueClient != nil && s.queueClient.IsConnected(),
	}

	status := "healthy"
	code := http.StatusOK
	for _, healthy := range components {
		if !healthy {
			status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"components": components,
	})
}

func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.storage.GetStorageStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to get storage stats", err)
		return
	}

	stats := map[string]interface{}{
		"storage": storageStats,
	}
	if s.scanner != nil {
		stats["scanner"] = s.scanner.GetStatus()
	}
	if s.consumer != nil {
		stats["consumer"] = s.consumer.GetStats()
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Entity handlers

func (s *HTTPServer) listEntitiesHandler(w http.ResponseWriter, r *http.Request) {
	holder := r.URL.Query().Get("holder")
	minter := r.URL.Query().Get("minter")

	var (
		entities []*models.Entity
		err      error
	)

	switch {
	case holder != "" && minter != "":
		s.writeError(w, http.StatusBadRequest, "Specify either holder or minter, not both", nil)
		return
	case holder != "":
		entities, err = s.storage.GetEntitiesByHolder(r.Context(), holder)
	case minter != "":
		entities, err = s.storage.GetEntitiesByMinter(r.Context(), minter)
	default:
		s.writeError(w, http.StatusBadRequest, "Missing holder or minter query parameter", nil)
		return
	}

	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list entities", err)
		return
	}

	if entities == nil {
		entities = []*models.Entity{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entities": entities,
		"count":    len(entities),
	})
}

func (s *HTTPServer) getEntityHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	entity, err := s.storage.GetEntity(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to get entity", err)
		return
	}
	if entity == nil {
		s.writeError(w, http.StatusNotFound, "Entity not found", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, entity)
}

func (s *HTTPServer) entityHistoryHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	filter, err := historyFilterFromQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid history filter", err)
		return
	}
	filter.EntityID = &id

	s.serveHistory(w, r, filter)
}

// History handlers

func (s *HTTPServer) listHistoryHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := historyFilterFromQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid history filter", err)
		return
	}

	if entityID := r.URL.Query().Get("entity_id"); entityID != "" {
		filter.EntityID = &entityID
	}

	s.serveHistory(w, r, filter)
}

func (s *HTTPServer) serveHistory(w http.ResponseWriter, r *http.Request, filter models.EventFilter) {
	history, err := s.storage.GetHistory(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to get history", err)
		return
	}

	if history == nil {
		history = []*models.HistoryRow{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": history,
		"count":   len(history),
	})
}

func historyFilterFromQuery(r *http.Request) (models.EventFilter, error) {
	filter := models.EventFilter{Limit: 100}
	query := r.URL.Query()

	if kind := query.Get("kind"); kind != "" {
		switch models.OperationKind(kind) {
		case models.KindCreate, models.KindSteal, models.KindTransfer:
			k := models.OperationKind(kind)
			filter.Kind = &k
		default:
			return filter, fmt.Errorf("unknown operation kind %q", kind)
		}
	}

	if from := query.Get("from"); from != "" {
		filter.From = &from
	}
	if to := query.Get("to"); to != "" {
		filter.To = &to
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 1000 {
			return filter, fmt.Errorf("limit must be between 1 and 1000")
		}
		filter.Limit = limit
	}

	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("offset must be non-negative")
		}
		filter.Offset = offset
	}

	return filter, nil
}

// Scanner handlers

func (s *HTTPServer) scannerStatusHandler(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Scanner not configured", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, s.scanner.GetStatus())
}

// Reconciliation handlers

func (s *HTTPServer) listReconciliationsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000", nil)
			return
		}
		limit = parsed
	}

	recs, err := s.storage.GetUploadReconciliations(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to get reconciliations", err)
		return
	}

	if recs == nil {
		recs = []*models.UploadReconciliation{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"reconciliations": recs,
		"count":           len(recs),
	})
}

// Response helpers

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err.Error(),
		}).Error("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
