// Package api exposes the governance pipeline over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"constitutional-gov/internal/cache"
	"constitutional-gov/internal/config"
	"constitutional-gov/internal/escalation"
	"constitutional-gov/internal/logging"
	"constitutional-gov/internal/pipeline"
	"constitutional-gov/internal/processor"
	"constitutional-gov/internal/resolution"
	"constitutional-gov/pkg/types"
)

// Server hosts the HTTP API over the pipeline stages.
type Server struct {
	cfg          *config.Store
	orchestrator *pipeline.Orchestrator
	escalations  *escalation.Service
	proc         *processor.Processor
	workflow     *resolution.Workflow
	patterns     cache.PatternCache
	logger       logging.Logger
}

// NewServer creates the API server.
func NewServer(cfg *config.Store, orchestrator *pipeline.Orchestrator, escalations *escalation.Service, proc *processor.Processor, workflow *resolution.Workflow, patterns cache.PatternCache, logger logging.Logger) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		escalations:  escalations,
		proc:         proc,
		workflow:     workflow,
		patterns:     patterns,
		logger:       logger.WithComponent("api"),
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/pipeline/run", s.handleRunPipeline)
		r.Post("/escalations", s.handleCreateEscalation)
		r.Get("/escalations", s.handleListEscalations)
		r.Post("/escalations/ack", s.handleAcknowledge)
		r.Post("/escalations/resolve", s.handleResolveEscalation)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handlePutConfig)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

type runRequest struct {
	Principles []types.Principle       `json:"principles"`
	Policies   []types.Policy          `json:"policies"`
	Context    *types.DetectionContext `json:"context,omitempty"`
}

func (s *Server) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	report, err := s.orchestrator.Run(r.Context(), req.Principles, req.Policies, req.Context)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCreateEscalation(w http.ResponseWriter, r *http.Request) {
	var req escalation.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Trigger = types.TriggerManual

	record, err := s.escalations.Escalate(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	violationID := r.URL.Query().Get("violation_id")
	if violationID != "" {
		s.writeJSON(w, http.StatusOK, s.escalations.List(violationID))
		return
	}
	s.writeJSON(w, http.StatusOK, s.escalations.ListActive())
}

type transitionRequest struct {
	ViolationID string                `json:"violation_id"`
	Level       types.EscalationLevel `json:"level"`
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.escalations.Acknowledge(r.Context(), req.ViolationID, req.Level); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.escalations.Resolve(r.Context(), req.ViolationID, req.Level); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"processor":  s.proc.Metrics(),
		"resolution": s.workflow.Stats(),
		"cache":      s.patterns.Stats(),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.Current())
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	// Start from the current snapshot so a partial body only changes
	// the fields it names. The deadlines map is copied so a decode
	// into it cannot mutate the live snapshot.
	updated := *s.cfg.Current()
	deadlines := make(map[types.EscalationLevel]time.Duration, len(updated.Escalation.ResponseDeadlines))
	for k, v := range updated.Escalation.ResponseDeadlines {
		deadlines[k] = v
	}
	updated.Escalation.ResponseDeadlines = deadlines
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.cfg.Apply(&updated); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.cfg.Current())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", "error", err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
