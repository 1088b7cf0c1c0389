package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/scrypster/recall/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// MemoryListResponse is the response format for GET /api/memories.
type MemoryListResponse struct {
	Memories []MemoryView `json:"memories"`
	Total    int          `json:"total"`
}

// MemoryView is one record as exposed over the API. Embeddings are never
// returned; they are large and meaningless to clients.
type MemoryView struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`
	Kind      string `json:"kind"`
	Role      string `json:"role,omitempty"`
	Model     string `json:"model"`
	State     string `json:"state"`
	CreatedAt string `json:"created_at"`
}

// ToMemoryView converts a record for API exposure.
func ToMemoryView(rec types.MemoryRecord) MemoryView {
	return MemoryView{
		ID:        rec.ID,
		UserID:    rec.UserID,
		SessionID: rec.SessionID,
		Content:   rec.Content,
		Kind:      rec.Kind,
		Role:      rec.Role,
		Model:     rec.Model,
		State:     rec.State,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339Nano),
	}
}

// DeleteResponse is the response format for the bulk DELETE endpoints.
type DeleteResponse struct {
	Deleted int    `json:"deleted"`
	Purged  bool   `json:"purged"`
	Message string `json:"message"`
}

// ModelsResponse is the response format for GET /api/models.
type ModelsResponse struct {
	Models []ModelView `json:"models"`
}

// ModelView is one installed model with its embedding dimension.
type ModelView struct {
	Name          string `json:"name"`
	Size          int64  `json:"size,omitempty"`
	ParameterSize string `json:"parameter_size,omitempty"`
	Quantization  string `json:"quantization,omitempty"`
	Dimension     int    `json:"dimension"`
}

// HealthResponse is the response format for GET /api/health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services,omitempty"`
}

// respondJSON writes data as a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers already sent; nothing more to do than note it.
		fmt.Printf("failed to encode JSON response: %v\n", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}

// respondDomainError maps a domain error to its HTTP status and writes it.
func respondDomainError(w http.ResponseWriter, message string, err error) {
	respondError(w, statusFor(err), message, err)
}

// statusFor maps the shared error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
