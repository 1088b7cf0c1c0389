package vectorstore

import "context"

// Distance is the similarity metric a collection is created with.
type Distance string

// Distance metrics supported by the vector database.
const (
	DistanceCosine Distance = "Cosine"
	DistanceDot    Distance = "Dot"
	DistanceEuclid Distance = "Euclid"
)

// Point is one vector record as stored in a collection.
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// ScoredPoint is a point returned from a similarity search.
type ScoredPoint struct {
	ID      string                 `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Filter expresses exact-match payload conditions, field name to required
// value. All conditions must hold (AND semantics). A nil or empty filter
// matches everything.
type Filter map[string]interface{}

// VectorStore is the gateway to the external vector database. It is a
// stateless adapter: it holds no record lifecycle authority and only
// persists what it is told.
type VectorStore interface {
	// EnsureCollection creates the collection if absent. It is idempotent:
	// an identical existing collection is a no-op, and an existing
	// collection with a different dimension fails with ErrDimensionConflict.
	EnsureCollection(ctx context.Context, name string, dimension int, distance Distance) error

	// Upsert inserts or overwrites a point and returns its id.
	Upsert(ctx context.Context, collection string, point Point) (string, error)

	// Search returns up to limit points matching the filter, ordered by
	// descending similarity score. minScore is an inclusive lower bound;
	// zero disables it.
	Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter, minScore float64) ([]ScoredPoint, error)

	// Scroll lists up to limit points matching the filter, without scoring.
	Scroll(ctx context.Context, collection string, filter Filter, limit int) ([]Point, error)

	// SetPayload merges the given payload fields into the named points.
	SetPayload(ctx context.Context, collection string, payload map[string]interface{}, ids []string) error

	// Delete removes all points matching the filter and returns the count
	// removed.
	Delete(ctx context.Context, collection string, filter Filter) (int, error)

	// Count returns the number of points matching the filter.
	Count(ctx context.Context, collection string, filter Filter) (int, error)
}
