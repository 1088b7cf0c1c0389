package handlers

import (
	"context"
	"net/http"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/llm"
)

// ModelService is the slice of the inference client the handler needs.
type ModelService interface {
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
	HealthCheck(ctx context.Context) error
}

// VectorStoreHealth reports whether the vector database is reachable.
type VectorStoreHealth interface {
	HealthCheck(ctx context.Context) error
}

// ModelHandlers contains HTTP handlers for model discovery and health.
type ModelHandlers struct {
	models ModelService
	store  VectorStoreHealth
}

// NewModelHandlers creates a new ModelHandlers instance.
func NewModelHandlers(models ModelService, store VectorStoreHealth) *ModelHandlers {
	return &ModelHandlers{models: models, store: store}
}

// GetModels handles GET /api/models - list installed models annotated with
// their embedding dimensions.
func (h *ModelHandlers) GetModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.models.ListModels(r.Context())
	if err != nil {
		respondDomainError(w, "failed to list models", err)
		return
	}

	views := make([]ModelView, 0, len(models))
	for _, m := range models {
		views = append(views, ModelView{
			Name:          m.Name,
			Size:          m.Size,
			ParameterSize: m.ParameterSize,
			Quantization:  m.Quantization,
			Dimension:     config.DimensionFor(m.Name),
		})
	}
	respondJSON(w, http.StatusOK, ModelsResponse{Models: views})
}

// GetHealth handles GET /api/health - report overall service health with a
// per-dependency breakdown. The endpoint itself always answers; a degraded
// dependency shows up in the body, not as a transport failure.
func (h *ModelHandlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	services := map[string]string{}
	status := "healthy"

	if err := h.models.HealthCheck(r.Context()); err != nil {
		services["ollama"] = "unreachable"
		status = "degraded"
	} else {
		services["ollama"] = "ok"
	}

	if h.store != nil {
		if err := h.store.HealthCheck(r.Context()); err != nil {
			services["qdrant"] = "unreachable"
			status = "degraded"
		} else {
			services["qdrant"] = "ok"
		}
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:   status,
		Version:  "1.0.0",
		Services: services,
	})
}
