package memory

import (
	"time"

	"github.com/scrypster/recall/internal/vectorstore"
	"github.com/scrypster/recall/pkg/types"
)

// recordPayload flattens a record into the vector store payload. The id is
// duplicated into the payload so filter-based operations (single-record
// delete with an ownership check) work without a separate lookup.
func recordPayload(rec types.MemoryRecord) map[string]interface{} {
	payload := map[string]interface{}{
		"id":         rec.ID,
		"user_id":    rec.UserID,
		"content":    rec.Content,
		"kind":       rec.Kind,
		"model":      rec.Model,
		"state":      rec.State,
		"created_at": rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if rec.SessionID != "" {
		payload["session_id"] = rec.SessionID
	}
	if rec.Role != "" {
		payload["role"] = rec.Role
	}
	return payload
}

// recordFromPayload reconstructs a record from a stored point. Unknown or
// malformed fields degrade to zero values rather than failing the read.
func recordFromPayload(id string, payload map[string]interface{}) types.MemoryRecord {
	rec := types.MemoryRecord{
		ID:        id,
		UserID:    payloadString(payload, "user_id"),
		SessionID: payloadString(payload, "session_id"),
		Content:   payloadString(payload, "content"),
		Kind:      payloadString(payload, "kind"),
		Role:      payloadString(payload, "role"),
		Model:     payloadString(payload, "model"),
		State:     payloadString(payload, "state"),
	}
	if ts := payloadString(payload, "created_at"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.CreatedAt = t
		}
	}
	return rec
}

func payloadString(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// resultFromPoint converts a scored point into a search result.
func resultFromPoint(p vectorstore.ScoredPoint) types.SearchResult {
	return types.SearchResult{
		Record: recordFromPayload(p.ID, p.Payload),
		Score:  p.Score,
	}
}
