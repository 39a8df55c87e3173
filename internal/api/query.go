package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/calvin-seamons/shadowscribe/internal/domain"
	"github.com/calvin-seamons/shadowscribe/internal/identity"
)

// QueryRequest is the POST /api/query body.
type QueryRequest struct {
	Query   string        `json:"query"`
	History []domain.Turn `json:"history,omitempty"`
}

// HandleQuery handles POST /api/query. The response is an SSE stream of
// Message envelopes: an acknowledgment, progress per pass boundary, answer
// chunks as synthesis streams, then a final done response or an error.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.rateLimiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		Error(w, http.StatusBadRequest, "query cannot be empty")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	stream := &sseStream{w: w, flusher: flusher, sessionID: sessionID}
	stream.send(domain.Message{
		Type:            domain.MessageAcknowledgment,
		SessionIdentity: sessionID,
		Payload:         domain.AckPayload{Query: req.Query},
	})

	query := domain.Query{
		Text:      req.Query,
		UserID:    userID,
		SessionID: sessionID,
		History:   req.History,
	}
	result, err := h.runner.Run(r.Context(), query,
		func(e domain.ProgressEvent) {
			stream.send(domain.Message{
				Type:            domain.MessageProgress,
				SessionIdentity: sessionID,
				Payload:         e,
			})
		},
		func(token string) {
			stream.send(domain.Message{
				Type:            domain.MessageResponse,
				SessionIdentity: sessionID,
				Payload:         domain.ResponsePayload{Chunk: token},
			})
		},
	)
	if err != nil {
		slog.Error("query pipeline failed", "user_id", userID, "error", err)
		stream.send(domain.Message{
			Type:            domain.MessageError,
			SessionIdentity: sessionID,
			Payload:         errorPayload(err),
		})
		return
	}

	stream.send(domain.Message{
		Type:            domain.MessageResponse,
		SessionIdentity: sessionID,
		Payload: domain.ResponsePayload{
			Done:     true,
			Answer:   result.Answer,
			RecordID: result.RecordID,
			Degraded: result.Degraded,
			Trimmed:  result.Trimmed,
		},
	})
}

func errorPayload(err error) domain.ErrorPayload {
	payload := domain.ErrorPayload{Message: "query failed"}
	var passErr *domain.PassError
	if errors.As(err, &passErr) {
		payload.Pass = passErr.Pass
		payload.Cause = passErr.Err.Error()
	} else {
		payload.Cause = err.Error()
	}
	return payload
}

// sseStream writes Message envelopes as SSE events. All writes happen from
// the request goroutine; no locking needed.
type sseStream struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	sessionID string
	eventID   int64
	failed    bool
}

func (s *sseStream) send(msg domain.Message) {
	if s.failed {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("failed to marshal stream message", "error", err)
		return
	}
	s.eventID++
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: message\ndata: %s\n\n", s.eventID, data); err != nil {
		// Client went away; drop the rest of the stream quietly.
		s.failed = true
		return
	}
	s.flusher.Flush()
}
