// Package memory implements the memory orchestrator: the single authority
// for record lifecycle, collection derivation, and search policy. It composes
// the embedding client and the vector store adapter; neither of those knows
// anything about users, sessions, or record states.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/vectorstore"
	"github.com/scrypster/recall/pkg/types"
)

// Orchestrator coordinates embedding generation and vector storage for
// memory records.
type Orchestrator struct {
	store    vectorstore.VectorStore
	embedder Embedder
	cfg      config.MemoryConfig
	model    string // default embedding model
	cache    *searchCache
	log      *logrus.Logger

	mu      sync.Mutex
	ensured map[string]bool // collections verified this process
}

// Embedder is the slice of the inference client the orchestrator needs.
type Embedder interface {
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

// Config wires an Orchestrator's dependencies.
type Config struct {
	Store          vectorstore.VectorStore
	Embedder       Embedder
	Memory         config.MemoryConfig
	EmbeddingModel string // default model for embedding (default: nomic-embed-text)
	Logger         *logrus.Logger
}

// New creates a memory orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.Memory.Collection == "" {
		cfg.Memory.Collection = "ollama_memories"
	}
	if cfg.Memory.SearchLimit <= 0 {
		cfg.Memory.SearchLimit = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		store:    cfg.Store,
		embedder: cfg.Embedder,
		cfg:      cfg.Memory,
		model:    cfg.EmbeddingModel,
		cache:    newSearchCache(cfg.Memory.CacheTTL),
		log:      cfg.Logger,
		ensured:  make(map[string]bool),
	}
}

// AddRequest describes one record to store.
type AddRequest struct {
	UserID    string
	SessionID string
	Content   string
	Kind      string // defaults to conversation
	Role      string
	Model     string // embedding model, defaults to the configured one
}

// SearchRequest describes one similarity search.
type SearchRequest struct {
	UserID       string
	SessionID    string
	Query        string
	Limit        int    // defaults to the configured search limit
	Model        string // embedding model, defaults to the configured one
	ScopeSession bool   // restrict to SessionID even when session scoping is off globally
}

// Counts summarizes a user's record states.
type Counts struct {
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Total    int `json:"total"`
}

// Add embeds the content and stores a new record in the created state.
func (o *Orchestrator) Add(ctx context.Context, req AddRequest) (*types.MemoryRecord, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", types.ErrValidation)
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: content must not be empty", types.ErrValidation)
	}
	if !types.IsValidKind(req.Kind) {
		return nil, fmt.Errorf("%w: unknown kind %q", types.ErrValidation, req.Kind)
	}
	if req.Kind == "" {
		req.Kind = types.KindConversation
	}
	model := req.Model
	if model == "" {
		model = o.model
	}

	embedding, err := o.embedder.Embed(ctx, req.Content, model)
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}

	collection := o.collectionFor(model)
	if err := o.ensureCollection(ctx, collection, model); err != nil {
		return nil, err
	}

	rec := types.MemoryRecord{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Content:   req.Content,
		Kind:      req.Kind,
		Role:      req.Role,
		Model:     model,
		Embedding: embedding,
		State:     types.StateCreated,
		CreatedAt: time.Now().UTC(),
	}

	_, err = o.store.Upsert(ctx, collection, vectorstore.Point{
		ID:      rec.ID,
		Vector:  embedding,
		Payload: recordPayload(rec),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store memory: %w", err)
	}

	o.cache.purge()

	o.log.WithFields(logrus.Fields{
		"memory_id":  rec.ID,
		"user_id":    rec.UserID,
		"collection": collection,
		"kind":       rec.Kind,
	}).Debug("Stored memory record")

	return &rec, nil
}

// Search embeds the query and returns the most similar records for the
// user, best first. Lifecycle state does not restrict what surfaces: the
// returned records transition to active and everything else keeps its state,
// so active/inactive reflects the most recent selection. The marking is
// best-effort and a failure only logs a warning.
func (o *Orchestrator) Search(ctx context.Context, req SearchRequest) ([]types.SearchResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", types.ErrValidation)
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", types.ErrValidation)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = o.cfg.SearchLimit
	}
	model := req.Model
	if model == "" {
		model = o.model
	}
	collection := o.collectionFor(model)

	filter := vectorstore.Filter{"user_id": req.UserID}
	scopeSession := req.ScopeSession || o.cfg.SessionScoped
	if scopeSession && req.SessionID != "" {
		filter["session_id"] = req.SessionID
	}

	key := cacheKey(collection, req.UserID, filterSession(filter), req.Query, limit)
	if cached, ok := o.cache.get(key); ok {
		return cached, nil
	}

	vector, err := o.embedder.Embed(ctx, req.Query, model)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// Lifecycle state never filters a search: active/inactive only records
	// which memories the most recent search selected.
	points, err := o.store.Search(ctx, collection, vector, limit, filter, o.cfg.MinScore)
	if err != nil {
		return nil, fmt.Errorf("memory search failed: %w", err)
	}

	results := make([]types.SearchResult, 0, len(points))
	for _, p := range points {
		res := resultFromPoint(p)
		res.Score = o.decayScore(res.Score, res.Record.CreatedAt)
		// The store threshold bounds the raw score; the effective score
		// after decay must clear the bound too.
		if o.cfg.MinScore > 0 && res.Score < o.cfg.MinScore {
			continue
		}
		results = append(results, res)
	}
	types.SortSearchResults(results)
	if len(results) > limit {
		results = results[:limit]
	}

	o.markActive(ctx, collection, results)

	o.cache.put(key, results)
	return results, nil
}

// List returns the user's records newest first, without similarity scoring.
func (o *Orchestrator) List(ctx context.Context, userID, sessionID string, limit int) ([]types.MemoryRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", types.ErrValidation)
	}
	if limit <= 0 {
		limit = 100
	}

	filter := vectorstore.Filter{"user_id": userID}
	if sessionID != "" {
		filter["session_id"] = sessionID
	}

	points, err := o.store.Scroll(ctx, o.collectionFor(o.model), filter, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}

	records := make([]types.MemoryRecord, 0, len(points))
	for _, p := range points {
		records = append(records, recordFromPayload(p.ID, p.Payload))
	}
	sortRecordsByRecency(records)
	return records, nil
}

// Delete permanently removes one record, verifying ownership. Returns
// ErrNotFound when no record with that id belongs to the user.
func (o *Orchestrator) Delete(ctx context.Context, userID, memoryID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user_id is required", types.ErrValidation)
	}
	if strings.TrimSpace(memoryID) == "" {
		return fmt.Errorf("%w: memory id is required", types.ErrValidation)
	}

	count, err := o.store.Delete(ctx, o.collectionFor(o.model), vectorstore.Filter{
		"id":      memoryID,
		"user_id": userID,
	})
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: memory %s", types.ErrNotFound, memoryID)
	}

	o.cache.purge()
	return nil
}

// DeactivateAll marks every active or created record for the user (optionally
// narrowed to a session) as inactive and returns how many were affected. The
// flag only drives the UI's active/inactive view; inactive records stay
// stored, countable, and searchable.
func (o *Orchestrator) DeactivateAll(ctx context.Context, userID, sessionID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("%w: user_id is required", types.ErrValidation)
	}

	filter := vectorstore.Filter{"user_id": userID}
	if sessionID != "" {
		filter["session_id"] = sessionID
	}
	collection := o.collectionFor(o.model)

	points, err := o.store.Scroll(ctx, collection, filter, 10000)
	if err != nil {
		return 0, fmt.Errorf("failed to list memories: %w", err)
	}

	ids := make([]string, 0, len(points))
	for _, p := range points {
		state := payloadString(p.Payload, "state")
		if state == types.StateInactive || state == types.StateArchived {
			continue
		}
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err = o.store.SetPayload(ctx, collection, map[string]interface{}{
		"state": types.StateInactive,
	}, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate memories: %w", err)
	}

	o.cache.purge()
	return len(ids), nil
}

// PurgeAll permanently deletes every record for the user (optionally
// narrowed to a session) and returns how many were removed.
func (o *Orchestrator) PurgeAll(ctx context.Context, userID, sessionID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("%w: user_id is required", types.ErrValidation)
	}

	filter := vectorstore.Filter{"user_id": userID}
	if sessionID != "" {
		filter["session_id"] = sessionID
	}

	count, err := o.store.Delete(ctx, o.collectionFor(o.model), filter)
	if err != nil {
		return 0, fmt.Errorf("failed to purge memories: %w", err)
	}

	o.cache.purge()
	return count, nil
}

// CountStates reports how many of the user's records are in each state.
// Created records count as active: they are visible and one search away from
// the transition.
func (o *Orchestrator) CountStates(ctx context.Context, userID string) (Counts, error) {
	if strings.TrimSpace(userID) == "" {
		return Counts{}, fmt.Errorf("%w: user_id is required", types.ErrValidation)
	}
	collection := o.collectionFor(o.model)

	total, err := o.store.Count(ctx, collection, vectorstore.Filter{"user_id": userID})
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count memories: %w", err)
	}
	inactive, err := o.store.Count(ctx, collection, vectorstore.Filter{
		"user_id": userID,
		"state":   types.StateInactive,
	})
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count memories: %w", err)
	}
	archived, err := o.store.Count(ctx, collection, vectorstore.Filter{
		"user_id": userID,
		"state":   types.StateArchived,
	})
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count memories: %w", err)
	}

	return Counts{
		Active:   total - inactive - archived,
		Inactive: inactive,
		Total:    total,
	}, nil
}

// collectionFor derives the collection name for an embedding model. Unified
// mode shares one collection; model isolation appends a sanitized model name
// so differing vector dimensions never collide.
func (o *Orchestrator) collectionFor(model string) string {
	if o.cfg.Isolation != config.IsolationModel {
		return o.cfg.Collection
	}
	return o.cfg.Collection + "_" + sanitizeModelName(model)
}

// ensureCollection creates the collection on first use, remembering success
// so the existence check runs once per collection per process.
func (o *Orchestrator) ensureCollection(ctx context.Context, collection, model string) error {
	o.mu.Lock()
	done := o.ensured[collection]
	o.mu.Unlock()
	if done {
		return nil
	}

	dim := config.DimensionFor(model)
	if err := o.store.EnsureCollection(ctx, collection, dim, vectorstore.DistanceCosine); err != nil {
		return fmt.Errorf("failed to ensure collection %s: %w", collection, err)
	}

	o.mu.Lock()
	o.ensured[collection] = true
	o.mu.Unlock()
	return nil
}

// markActive transitions the selected records to active. Created and
// inactive records move to active; archived is terminal and is left alone.
// Best-effort: a failed transition only leaves the flag stale, so the search
// result stands either way.
func (o *Orchestrator) markActive(ctx context.Context, collection string, results []types.SearchResult) {
	var ids []string
	for i := range results {
		state := results[i].Record.State
		if state == types.StateCreated || state == types.StateInactive {
			ids = append(ids, results[i].Record.ID)
			results[i].Record.State = types.StateActive
		}
	}
	if len(ids) == 0 {
		return
	}

	err := o.store.SetPayload(ctx, collection, map[string]interface{}{
		"state": types.StateActive,
	}, ids)
	if err != nil {
		o.log.WithError(err).WithField("count", len(ids)).
			Warn("Failed to mark retrieved memories active")
	}
}

// decayScore applies exponential recency decay when a half-life is
// configured: a record one half-life old scores half its raw similarity.
func (o *Orchestrator) decayScore(score float64, createdAt time.Time) float64 {
	if o.cfg.DecayHalfLife <= 0 || createdAt.IsZero() {
		return score
	}
	age := time.Since(createdAt)
	if age <= 0 {
		return score
	}
	return score * math.Exp2(-age.Hours()/o.cfg.DecayHalfLife.Hours())
}

// sanitizeModelName turns a model name into a safe collection suffix:
// the ":tag" part is dropped and anything outside [a-z0-9_-] becomes "_".
func sanitizeModelName(model string) string {
	if i := strings.Index(model, ":"); i >= 0 {
		model = model[:i]
	}
	model = strings.ToLower(model)
	var sb strings.Builder
	for _, r := range model {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

// sortRecordsByRecency orders records newest first.
func sortRecordsByRecency(records []types.MemoryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

// filterSession extracts the session condition from a filter for cache keys.
func filterSession(filter vectorstore.Filter) string {
	if v, ok := filter["session_id"].(string); ok {
		return v
	}
	return ""
}
