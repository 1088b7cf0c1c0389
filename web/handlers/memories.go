package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/scrypster/recall/internal/memory"
	"github.com/scrypster/recall/pkg/types"
)

// MemoryService is the slice of the memory orchestrator the handlers need.
type MemoryService interface {
	List(ctx context.Context, userID, sessionID string, limit int) ([]types.MemoryRecord, error)
	Delete(ctx context.Context, userID, memoryID string) error
	DeactivateAll(ctx context.Context, userID, sessionID string) (int, error)
	PurgeAll(ctx context.Context, userID, sessionID string) (int, error)
	CountStates(ctx context.Context, userID string) (memory.Counts, error)
}

// MemoryHandlers contains HTTP handlers for memory management endpoints.
type MemoryHandlers struct {
	memories MemoryService
	hub      *EventHub
}

// NewMemoryHandlers creates a new MemoryHandlers instance. The hub is
// optional; when present, memory mutations are broadcast to subscribers.
func NewMemoryHandlers(memories MemoryService, hub *EventHub) *MemoryHandlers {
	return &MemoryHandlers{memories: memories, hub: hub}
}

// ListMemories handles GET /api/memories - list a user's memories newest
// first. Requires user_id; session_id and limit are optional.
func (h *MemoryHandlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	sessionID := r.URL.Query().Get("session_id")
	limit := parseInt(r.URL.Query().Get("limit"), 100)
	if limit > 1000 {
		limit = 1000
	}

	records, err := h.memories.List(r.Context(), userID, sessionID, limit)
	if err != nil {
		respondDomainError(w, "failed to list memories", err)
		return
	}

	views := make([]MemoryView, 0, len(records))
	for _, rec := range records {
		views = append(views, ToMemoryView(rec))
	}
	respondJSON(w, http.StatusOK, MemoryListResponse{Memories: views, Total: len(views)})
}

// ClearMemories handles DELETE /api/memories - deactivate all of a user's
// memories, or permanently remove them with ?purge=true. Deactivation only
// flips the UI flag; the records stay stored, countable, and searchable.
func (h *MemoryHandlers) ClearMemories(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	sessionID := r.URL.Query().Get("session_id")
	purge := r.URL.Query().Get("purge") == "true"

	var (
		count int
		err   error
	)
	if purge {
		count, err = h.memories.PurgeAll(r.Context(), userID, sessionID)
	} else {
		count, err = h.memories.DeactivateAll(r.Context(), userID, sessionID)
	}
	if err != nil {
		respondDomainError(w, "failed to clear memories", err)
		return
	}

	message := "memories deactivated"
	if purge {
		message = "memories permanently deleted"
	}
	h.broadcast(EventMemoriesCleared, map[string]interface{}{
		"user_id": userID,
		"count":   count,
		"purged":  purge,
	})
	respondJSON(w, http.StatusOK, DeleteResponse{Deleted: count, Purged: purge, Message: message})
}

// DeleteMemory handles DELETE /api/memories/{id} - permanently remove one
// memory, verifying the caller's user_id owns it.
func (h *MemoryHandlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	memoryID := r.PathValue("id")
	userID := r.URL.Query().Get("user_id")

	if err := h.memories.Delete(r.Context(), userID, memoryID); err != nil {
		respondDomainError(w, "failed to delete memory", err)
		return
	}

	h.broadcast(EventMemoryDeleted, map[string]interface{}{
		"user_id":   userID,
		"memory_id": memoryID,
	})
	respondJSON(w, http.StatusOK, DeleteResponse{Deleted: 1, Purged: true, Message: "memory deleted"})
}

// GetMemoryCount handles GET /api/memory_count - report how many of a user's
// memories are active, inactive, and total.
func (h *MemoryHandlers) GetMemoryCount(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")

	counts, err := h.memories.CountStates(r.Context(), userID)
	if err != nil {
		respondDomainError(w, "failed to count memories", err)
		return
	}
	respondJSON(w, http.StatusOK, counts)
}

func (h *MemoryHandlers) broadcast(eventType string, data map[string]interface{}) {
	if h.hub == nil {
		return
	}
	h.hub.Broadcast(Event{Type: eventType, Data: data})
}

// parseInt parses a query parameter with a fallback default.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultValue
}
