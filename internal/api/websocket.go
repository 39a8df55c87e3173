package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/calvin-seamons/shadowscribe/internal/domain"
	"github.com/calvin-seamons/shadowscribe/internal/identity"
)

// wsQueryMessage is an incoming websocket frame.
type wsQueryMessage struct {
	Type    string        `json:"type"` // "query"
	Query   string        `json:"query"`
	History []domain.Turn `json:"history,omitempty"`
}

// WebSocketHandler serves the chat websocket: one query per incoming frame,
// with the same Message envelopes the SSE endpoint streams.
type WebSocketHandler struct {
	handler       *Handler
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(handler *Handler, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		handler:       handler,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	slog.Info("websocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("websocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("websocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsQueryMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "query" {
			h.writeEnvelope(ctx, ws, domain.Message{
				Type:            domain.MessageError,
				SessionIdentity: sessionID,
				Payload:         domain.ErrorPayload{Message: "expected a query message"},
			})
			continue
		}
		msg.Query = strings.TrimSpace(msg.Query)
		if msg.Query == "" {
			h.writeEnvelope(ctx, ws, domain.Message{
				Type:            domain.MessageError,
				SessionIdentity: sessionID,
				Payload:         domain.ErrorPayload{Message: "query cannot be empty"},
			})
			continue
		}

		if !h.handler.rateLimiter.Allow(userID) {
			h.writeEnvelope(ctx, ws, domain.Message{
				Type:            domain.MessageError,
				SessionIdentity: sessionID,
				Payload:         domain.ErrorPayload{Message: "rate limit exceeded"},
			})
			continue
		}

		h.runQuery(ctx, ws, userID, sessionID, msg)
	}
}

func (h *WebSocketHandler) runQuery(ctx context.Context, ws *websocket.Conn, userID, sessionID string, msg wsQueryMessage) {
	h.writeEnvelope(ctx, ws, domain.Message{
		Type:            domain.MessageAcknowledgment,
		SessionIdentity: sessionID,
		Payload:         domain.AckPayload{Query: msg.Query},
	})

	query := domain.Query{
		Text:      msg.Query,
		UserID:    userID,
		SessionID: sessionID,
		History:   msg.History,
	}
	result, err := h.handler.runner.Run(ctx, query,
		func(e domain.ProgressEvent) {
			h.writeEnvelope(ctx, ws, domain.Message{
				Type:            domain.MessageProgress,
				SessionIdentity: sessionID,
				Payload:         e,
			})
		},
		func(token string) {
			h.writeEnvelope(ctx, ws, domain.Message{
				Type:            domain.MessageResponse,
				SessionIdentity: sessionID,
				Payload:         domain.ResponsePayload{Chunk: token},
			})
		},
	)
	if err != nil {
		slog.Error("query pipeline failed", "user_id", userID, "error", err)
		h.writeEnvelope(ctx, ws, domain.Message{
			Type:            domain.MessageError,
			SessionIdentity: sessionID,
			Payload:         errorPayload(err),
		})
		return
	}

	h.writeEnvelope(ctx, ws, domain.Message{
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

func (h *WebSocketHandler) writeEnvelope(ctx context.Context, ws *websocket.Conn, msg domain.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("failed to marshal websocket message", "error", err)
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("websocket write error", "error", err)
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("websocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
