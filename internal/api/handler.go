// Package api provides HTTP handlers for the ShadowScribe API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calvin-seamons/shadowscribe/internal/config"
	"github.com/calvin-seamons/shadowscribe/internal/domain"
	"github.com/calvin-seamons/shadowscribe/internal/knowledge"
	"github.com/calvin-seamons/shadowscribe/internal/pipeline"
	"github.com/calvin-seamons/shadowscribe/internal/store"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// QueryRunner executes the query pipeline. Satisfied by
// *pipeline.Orchestrator; faked in handler tests.
type QueryRunner interface {
	Run(ctx context.Context, query domain.Query, emit pipeline.EventSink, onToken func(string)) (*pipeline.Result, error)
}

// Handler provides the HTTP surface over the pipeline and record store.
type Handler struct {
	runner      QueryRunner
	repo        store.Repository
	source      knowledge.Source
	rateLimiter *RateLimiter
	cfg         *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(runner QueryRunner, repo store.Repository, source knowledge.Source, cfg *config.Config) *Handler {
	return &Handler{
		runner:      runner,
		repo:        repo,
		source:      source,
		rateLimiter: NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		cfg:         cfg,
	}
}

// Routes mounts the API endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/query", h.HandleQuery)
	r.Post("/api/feedback", h.HandleFeedback)
	r.Get("/api/catalog", h.HandleCatalog)
	r.Get("/api/records/recent", h.HandleRecentRecords)
	r.Get("/api/records/pending", h.HandlePendingRecords)
	r.Get("/api/records/stats", h.HandleRecordStats)
	r.Get("/health", h.HandleHealth)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"db":     err.Error(),
		})
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"partitions": len(h.source.Partitions()),
	})
}

// HandleCatalog handles GET /api/catalog: the active partitions and the
// retrieval intentions each serves.
func (h *Handler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"catalog": pipeline.Catalog(h.source),
	})
}
