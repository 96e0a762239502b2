package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/gorilla/mux"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/jobs"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/ledger"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/models"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/workspace"
	"github.com/sharma-sourabh3435/provenance-ledger/pkg/utils"
)

// maxRequestBody caps run request payloads
const maxRequestBody = 4 << 20

// Server represents the API server
type Server struct {
	ledger *ledger.Ledger
	logger *utils.Logger
	router *mux.Router
	server *http.Server

	// StatusPollInterval is how often a log stream checks whether its run settled
	StatusPollInterval time.Duration
}

// NewServer creates a new API server instance
func NewServer(l *ledger.Ledger, addr string) *Server {
	s := &Server{
		ledger:             l,
		logger:             utils.Component("api"),
		router:             mux.NewRouter(),
		StatusPollInterval: 250 * time.Millisecond,
	}

	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)

	// Job endpoints
	s.router.HandleFunc("/jobs", s.listJobs).Methods(http.MethodGet)
	s.router.HandleFunc("/jobs/{key}/runs", s.startRun).Methods(http.MethodPost)

	// Run endpoints
	s.router.HandleFunc("/runs", s.listRuns).Methods(http.MethodGet)
	s.router.HandleFunc("/runs/{id}", s.getRun).Methods(http.MethodGet)
	s.router.HandleFunc("/runs/{id}/cancel", s.cancelRun).Methods(http.MethodPost)
	s.router.HandleFunc("/runs/{id}/logs", s.listLogs).Methods(http.MethodGet)
	s.router.HandleFunc("/runs/{id}/logs/stream", s.streamLogs).Methods(http.MethodGet)
	s.router.HandleFunc("/runs/{id}/artifacts", s.listArtifacts).Methods(http.MethodGet)
	s.router.HandleFunc("/runs/{id}/artifacts/{path:.+}", s.getArtifact).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorResponse(w, http.StatusNotFound, "Not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler wrapped in CORS
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.router)
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info("Starting API server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.server.Shutdown(ctx)
}

// Middleware: CORS
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Middleware: Logging
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.logger.Debug("%s %s", r.Method, r.URL.Path)

		next.ServeHTTP(w, r)

		s.logger.Debug("Completed %s %s in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// Helper: JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response: %v", err)
	}
}

// Helper: Error response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// Handler: GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Ping(r.Context()); err != nil {
		s.logger.Error("Health check failed: %v", err)
		s.errorResponse(w, http.StatusServiceUnavailable, "Store unavailable")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Handler: GET /jobs
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"jobs": s.ledger.Jobs.Keys(),
	})
}

// Handler: POST /jobs/{key}/runs
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var req models.StartRunRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	runID, err := s.ledger.Jobs.Run(r.Context(), key, req.Input, jobs.RunOptions{TraceID: req.TraceID})
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		s.errorResponse(w, http.StatusNotFound, "Unknown job "+key)
		return
	case errors.Is(err, jobs.ErrInvalidInput):
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, jobs.ErrClosed):
		s.errorResponse(w, http.StatusServiceUnavailable, "Ledger is shutting down")
		return
	case err != nil:
		s.logger.Error("Failed to start run of %s: %v", key, err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to start run")
		return
	}

	s.jsonResponse(w, http.StatusAccepted, models.StartRunResponse{RunID: runID})
}

// Handler: GET /runs
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.ledger.Runs.ListRuns(r.Context())
	if err != nil {
		s.logger.Error("Failed to list runs: %v", err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	s.jsonResponse(w, http.StatusOK, runs)
}

// lookupRun writes a 404 and returns nil when the run does not exist
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) *models.Run {
	runID := mux.Vars(r)["id"]
	run, err := s.ledger.Runs.GetRun(r.Context(), runID)
	if err != nil {
		s.logger.Error("Failed to get run %s: %v", runID, err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to get run")
		return nil
	}
	if run == nil {
		s.errorResponse(w, http.StatusNotFound, "Run not found")
		return nil
	}
	return run
}

// Handler: GET /runs/{id}
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}

	logs, err := s.ledger.Logs.ListLogs(r.Context(), run.ID)
	if err != nil {
		s.logger.Error("Failed to list logs for %s: %v", run.ID, err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to get run")
		return
	}
	artifacts, err := s.ledger.Artifacts.ListArtifacts(r.Context(), run.ID)
	if err != nil {
		s.logger.Error("Failed to list artifacts for %s: %v", run.ID, err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	s.jsonResponse(w, http.StatusOK, models.RunWithLedger{Run: *run, Logs: logs, Artifacts: artifacts})
}

// Handler: POST /runs/{id}/cancel
func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}

	cancelled, err := s.ledger.Jobs.Cancel(r.Context(), run.ID)
	if err != nil {
		s.logger.Error("Failed to cancel run %s: %v", run.ID, err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to cancel run")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{"run_id": run.ID, "cancelled": cancelled})
}

// Handler: GET /runs/{id}/logs
func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}

	logs, err := s.ledger.Logs.ListLogs(r.Context(), run.ID)
	if err != nil {
		s.logger.Error("Failed to list logs for %s: %v", run.ID, err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to list logs")
		return
	}
	if logs == nil {
		logs = []*models.LogEntry{}
	}
	s.jsonResponse(w, http.StatusOK, logs)
}

// Handler: GET /runs/{id}/artifacts
func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}

	artifacts, err := s.ledger.Artifacts.ListArtifacts(r.Context(), run.ID)
	if err != nil {
		s.logger.Error("Failed to list artifacts for %s: %v", run.ID, err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to list artifacts")
		return
	}
	if artifacts == nil {
		artifacts = []*models.Artifact{}
	}
	s.jsonResponse(w, http.StatusOK, artifacts)
}

// Handler: GET /runs/{id}/artifacts/{path}
func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	rel := mux.Vars(r)["path"]

	data, err := s.ledger.Artifacts.ReadArtifact(r.Context(), run.ID, rel)
	switch {
	case errors.Is(err, workspace.ErrPathTraversal):
		s.errorResponse(w, http.StatusBadRequest, "Invalid artifact path")
		return
	case errors.Is(err, os.ErrNotExist):
		s.errorResponse(w, http.StatusNotFound, "Artifact not found")
		return
	case err != nil:
		s.logger.Error("Failed to read artifact %s of %s: %v", rel, run.ID, err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to read artifact")
		return
	}

	contentType := mime.TypeByExtension(path.Ext(rel))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
