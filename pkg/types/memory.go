package types

import (
	"sort"
	"time"
)

// Record kind constants. Every memory record stores exactly one kind of text.
const (
	KindConversation = "conversation" // One turn of a chat exchange
	KindFact         = "fact"         // A standalone fact about the user
	KindSummary      = "summary"      // A condensed summary of older records
)

// ValidKinds contains all valid record kind values.
var ValidKinds = []string{KindConversation, KindFact, KindSummary}

// IsValidKind checks if the given kind is a valid record kind.
// Empty string is considered valid and defaults to conversation.
func IsValidKind(kind string) bool {
	if kind == "" {
		return true
	}
	for _, k := range ValidKinds {
		if kind == k {
			return true
		}
	}
	return false
}

// MemoryRecord is a single semantically addressed text unit.
// Records are owned by exactly one user, optionally tagged with a session,
// and carry the embedding produced by the model named in Model. All records
// in one collection share one vector length; the memory orchestrator derives
// the collection so that this invariant holds.
type MemoryRecord struct {
	ID        string    `json:"id"`                   // Unique identifier (UUID)
	UserID    string    `json:"user_id"`              // Owning user, required
	SessionID string    `json:"session_id,omitempty"` // Optional session tag
	Content   string    `json:"content"`              // Original text
	Kind      string    `json:"kind"`                 // Record kind (conversation, fact, summary)
	Role      string    `json:"role,omitempty"`       // Conversation role (user, assistant) for conversation records
	Model     string    `json:"model"`                // Embedding model that produced the vector
	Embedding []float32 `json:"embedding,omitempty"`  // Vector embedding
	State     string    `json:"state"`                // Lifecycle state (created, active, inactive, archived)
	CreatedAt time.Time `json:"created_at"`           // Creation timestamp
}

// SearchResult pairs a record with its similarity score.
// Scores are cosine similarity, bounded to [0, 1] for normalized vectors.
type SearchResult struct {
	Record MemoryRecord `json:"record"`
	Score  float64      `json:"score"`
}

// SortSearchResults orders results by descending score, breaking ties by
// descending creation time so the most recent record wins. This ordering is
// a local policy; the vector store only guarantees score ordering.
func SortSearchResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.CreatedAt.After(results[j].Record.CreatedAt)
	})
}
