// Package httpapi exposes email analysis over HTTP: full fused
// analysis, header-only routing analysis, and a health probe.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/config"
	"github.com/mikey/phish-triage/internal/core"
)

// Server serves the analysis API.
type Server struct {
	orchestrator *core.Orchestrator
	headerEval   core.Evaluator
	logger       *zap.Logger
	httpServer   *http.Server
}

// NewServer builds the server and its router.
func NewServer(cfg config.HTTPConfig, orchestrator *core.Orchestrator, headerEval core.Evaluator, logger *zap.Logger) *Server {
	s := &Server{
		orchestrator: orchestrator,
		headerEval:   headerEval,
		logger:       logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(rt chi.Router) {
		rt.Post("/analyze", s.wrap(s.handleAnalyze))
		rt.Post("/analyze/headers", s.wrap(s.handleAnalyzeHeaders))
	})

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving. It blocks until the listener fails or the
// server is shut down.
func (s *Server) Start() error {
	s.logger.Info("HTTP API listening", zap.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequestError marks client errors so wrap maps them to 400.
type badRequestError struct{ err error }

func (e badRequestError) Error() string { return e.err.Error() }

func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			var badReq badRequestError
			if errors.As(err, &badReq) {
				http.Error(w, badReq.Error(), http.StatusBadRequest)
				return
			}
			s.logger.Error("Request failed",
				zap.String("path", req.URL.Path),
				zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// POST /v1/analyze
func (s *Server) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	email, err := decodeEmail(req)
	if err != nil {
		return badRequestError{err}
	}

	result, err := s.orchestrator.Analyze(req.Context(), email)
	if err != nil {
		return err
	}

	headerFinding, err := s.headerEval.Evaluate(req.Context(), email)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(toAnalysisResponse(result, headerFinding))
}

// POST /v1/analyze/headers
func (s *Server) handleAnalyzeHeaders(w http.ResponseWriter, req *http.Request) error {
	email, err := decodeEmail(req)
	if err != nil {
		return badRequestError{err}
	}

	finding, err := s.headerEval.Evaluate(req.Context(), email)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(toHeaderResponse(finding))
}

func decodeEmail(req *http.Request) (*core.EmailRecord, error) {
	var body emailRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if body.From == "" && body.Subject == "" && body.BodyText == "" && body.BodyHTML == "" {
		return nil, fmt.Errorf("empty email")
	}
	return body.toRecord(), nil
}
