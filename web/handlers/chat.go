package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/recall/internal/chat"
)

// ChatService is the slice of the chat orchestrator the handler needs.
type ChatService interface {
	Chat(ctx context.Context, req chat.Request) (*chat.Response, error)
	ChatStream(ctx context.Context, req chat.Request) (*chat.StreamHandle, error)
}

// ChatHandlers contains HTTP handlers for the chat endpoint.
type ChatHandlers struct {
	chat ChatService
	hub  *EventHub
	log  *logrus.Logger
}

// NewChatHandlers creates a new ChatHandlers instance. The hub is optional;
// when present, completed turns are broadcast to subscribers.
func NewChatHandlers(svc ChatService, hub *EventHub, log *logrus.Logger) *ChatHandlers {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ChatHandlers{chat: svc, hub: hub, log: log}
}

// streamFrame is one NDJSON frame of a streaming chat response.
type streamFrame struct {
	Response string `json:"response,omitempty"`
	Done     bool   `json:"done"`
	Warning  string `json:"warning,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PostChat handles POST /api/chat. With ?stream=true (or "stream":true in
// the body) the reply is delivered as NDJSON fragments; otherwise as one
// JSON document.
func (h *ChatHandlers) PostChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		chat.Request
		Stream bool `json:"stream,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if r.URL.Query().Get("stream") == "true" {
		body.Stream = true
	}

	if body.Stream {
		h.streamChat(w, r, body.Request)
		return
	}

	resp, err := h.chat.Chat(r.Context(), body.Request)
	if err != nil {
		respondDomainError(w, "chat failed", err)
		return
	}

	h.broadcastTurn(body.Request, resp.Reply)
	respondJSON(w, http.StatusOK, resp)
}

// streamChat delivers the reply as NDJSON fragments. Errors before the first
// fragment map to normal HTTP statuses; errors mid-stream arrive as a final
// error frame since the status line is already gone.
func (h *ChatHandlers) streamChat(w http.ResponseWriter, r *http.Request, req chat.Request) {
	handle, err := h.chat.ChatStream(r.Context(), req)
	if err != nil {
		respondDomainError(w, "chat failed", err)
		return
	}
	defer handle.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported", nil)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	var reply string
	for {
		frag, err := handle.Recv()
		if err == io.EOF {
			_ = enc.Encode(streamFrame{Done: true, Warning: handle.Warning()})
			flusher.Flush()
			h.broadcastTurn(req, reply)
			return
		}
		if err != nil {
			h.log.WithError(err).Warn("Chat stream aborted")
			_ = enc.Encode(streamFrame{Done: true, Error: err.Error()})
			flusher.Flush()
			return
		}
		reply += frag
		if err := enc.Encode(streamFrame{Response: frag}); err != nil {
			// Client went away; stop generating.
			return
		}
		flusher.Flush()
	}
}

// broadcastTurn notifies websocket subscribers of a completed exchange.
func (h *ChatHandlers) broadcastTurn(req chat.Request, reply string) {
	if h.hub == nil {
		return
	}
	h.hub.Broadcast(Event{
		Type: EventChatCompleted,
		Data: map[string]interface{}{
			"user_id":    req.UserID,
			"session_id": req.SessionID,
			"reply_len":  len(reply),
		},
	})
}
