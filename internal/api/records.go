package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/calvin-seamons/shadowscribe/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// FeedbackRequest is the POST /api/feedback body.
type FeedbackRequest struct {
	RecordID  string              `json:"record_id"`
	IsCorrect bool                `json:"is_correct"`
	Corrected []domain.Prediction `json:"corrected,omitempty"`
	Notes     string              `json:"notes,omitempty"`
}

// HandleFeedback handles POST /api/feedback: a reviewer verdict on one
// routing record. Each record accepts feedback exactly once.
func (h *Handler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RecordID = strings.TrimSpace(req.RecordID)
	if req.RecordID == "" {
		Error(w, http.StatusBadRequest, "record_id is required")
		return
	}
	if !req.IsCorrect && len(req.Corrected) == 0 {
		Error(w, http.StatusBadRequest, "incorrect verdicts must include corrected predictions")
		return
	}

	fb := domain.Feedback{
		IsCorrect: req.IsCorrect,
		Corrected: req.Corrected,
		Notes:     req.Notes,
	}
	err := h.repo.UpdateFeedback(r.Context(), req.RecordID, fb)
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		Error(w, http.StatusNotFound, "routing record not found")
		return
	case errors.Is(err, domain.ErrFeedbackAlreadyRecorded):
		Error(w, http.StatusConflict, "feedback already recorded")
		return
	case err != nil:
		Error(w, http.StatusInternalServerError, "failed to record feedback")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// HandleRecentRecords handles GET /api/records/recent.
func (h *Handler) HandleRecentRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.repo.ListRecent(r.Context(), listLimit(r))
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"records": records})
}

// HandlePendingRecords handles GET /api/records/pending: the review queue,
// oldest first.
func (h *Handler) HandlePendingRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.repo.ListPendingReview(r.Context(), listLimit(r))
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"records": records})
}

// HandleRecordStats handles GET /api/records/stats.
func (h *Handler) HandleRecordStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	JSON(w, http.StatusOK, stats)
}

func listLimit(r *http.Request) int {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}
