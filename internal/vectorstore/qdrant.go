// Package vectorstore provides the adapter for the external vector database
// (Qdrant), consumed through its REST API: collection management, point
// upsert, filtered similarity search, scroll, payload updates and deletion.
// All calls are wrapped with circuit breaker protection like the inference
// client.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scrypster/recall/internal/breaker"
	"github.com/scrypster/recall/pkg/types"
)

// QdrantClient talks to the Qdrant REST API.
type QdrantClient struct {
	baseURL string
	client  *http.Client
	breaker *breaker.Breaker
}

// QdrantConfig holds Qdrant client configuration.
type QdrantConfig struct {
	// BaseURL is the base URL for the Qdrant REST API (default: http://localhost:6333)
	BaseURL string

	// Timeout is the request timeout duration (default: 10s)
	Timeout time.Duration
}

// NewQdrantClient creates a new Qdrant client with the given configuration,
// applying defaults for zero values.
func NewQdrantClient(config QdrantConfig) *QdrantClient {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:6333"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &QdrantClient{
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		client: &http.Client{
			Timeout: config.Timeout,
		},
		breaker: breaker.New(breaker.Config{Name: "qdrant"}),
	}
}

// collectionInfoResponse is the relevant slice of GET /collections/{name}.
type collectionInfoResponse struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
	Status interface{} `json:"status"`
}

// searchResponse is the response from POST /collections/{c}/points/search.
type searchResponse struct {
	Result []ScoredPoint `json:"result"`
}

// scrollResponse is the response from POST /collections/{c}/points/scroll.
type scrollResponse struct {
	Result struct {
		Points []Point `json:"points"`
	} `json:"result"`
}

// countResponse is the response from POST /collections/{c}/points/count.
type countResponse struct {
	Result struct {
		Count int `json:"count"`
	} `json:"result"`
}

// EnsureCollection creates the collection if it doesn't exist. Idempotent:
// re-ensuring an identical collection is a no-op; an existing collection
// with a different vector dimension fails with ErrDimensionConflict —
// vectors are never truncated or padded to fit.
func (c *QdrantClient) EnsureCollection(ctx context.Context, name string, dimension int, distance Distance) error {
	if distance == "" {
		distance = DistanceCosine
	}

	_, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return nil, c.ensureCollection(ctx, name, dimension, distance)
	})
	return c.mapError(err)
}

func (c *QdrantClient) ensureCollection(ctx context.Context, name string, dimension int, distance Distance) error {
	resp, err := c.do(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var info collectionInfoResponse
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return fmt.Errorf("failed to decode collection info: %w", err)
		}
		existing := info.Result.Config.Params.Vectors.Size
		if existing != dimension {
			return fmt.Errorf("%w: collection %q has dimension %d, requested %d",
				types.ErrDimensionConflict, name, existing, dimension)
		}
		return nil

	case http.StatusNotFound:
		// Fall through to create.

	default:
		return c.statusError(resp)
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     dimension,
			"distance": string(distance),
		},
	}
	createResp, err := c.do(ctx, http.MethodPut, "/collections/"+name, body)
	if err != nil {
		return err
	}
	defer createResp.Body.Close()

	if createResp.StatusCode != http.StatusOK {
		return c.statusError(createResp)
	}
	return nil
}

// Upsert inserts or overwrites one point. The call waits for the write to be
// applied (?wait=true) so the point is visible to searches once Upsert
// returns — the visibility window callers must tolerate ends here.
func (c *QdrantClient) Upsert(ctx context.Context, collection string, point Point) (string, error) {
	body := map[string]interface{}{
		"points": []Point{point},
	}

	_, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		resp, err := c.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, c.statusError(resp)
		}
		return nil, nil
	})
	if err != nil {
		return "", c.mapError(err)
	}
	return point.ID, nil
}

// Search returns up to limit points ordered by descending score. The filter
// is applied server-side; minScore (inclusive) is passed as the score
// threshold when non-zero.
func (c *QdrantClient) Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter, minScore float64) ([]ScoredPoint, error) {
	body := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if f := qdrantFilter(filter); f != nil {
		body["filter"] = f
	}
	if minScore > 0 {
		body["score_threshold"] = minScore
	}

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		resp, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, c.statusError(resp)
		}
		var sr searchResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			return nil, fmt.Errorf("failed to decode search response: %w", err)
		}
		return sr.Result, nil
	})
	if err != nil {
		return nil, c.mapError(err)
	}
	return result.([]ScoredPoint), nil
}

// Scroll lists up to limit points matching the filter, payloads included.
func (c *QdrantClient) Scroll(ctx context.Context, collection string, filter Filter, limit int) ([]Point, error) {
	body := map[string]interface{}{
		"limit":        limit,
		"with_payload": true,
	}
	if f := qdrantFilter(filter); f != nil {
		body["filter"] = f
	}

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		resp, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", body)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, c.statusError(resp)
		}
		var sr scrollResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			return nil, fmt.Errorf("failed to decode scroll response: %w", err)
		}
		return sr.Result.Points, nil
	})
	if err != nil {
		return nil, c.mapError(err)
	}
	return result.([]Point), nil
}

// SetPayload merges payload fields into the named points.
func (c *QdrantClient) SetPayload(ctx context.Context, collection string, payload map[string]interface{}, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]interface{}{
		"payload": payload,
		"points":  ids,
	}

	_, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		resp, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/payload?wait=true", body)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, c.statusError(resp)
		}
		return nil, nil
	})
	return c.mapError(err)
}

// Delete removes all points matching the filter and returns how many were
// removed. The delete endpoint doesn't report a count, so the points are
// counted first; the two calls are not transactional and the count is
// best-effort under concurrent writes.
func (c *QdrantClient) Delete(ctx context.Context, collection string, filter Filter) (int, error) {
	count, err := c.Count(ctx, collection, filter)
	if err != nil {
		return 0, err
	}

	body := map[string]interface{}{}
	if f := qdrantFilter(filter); f != nil {
		body["filter"] = f
	} else {
		// Match-all filter: deleting everything requires an explicit filter.
		body["filter"] = map[string]interface{}{}
	}

	_, err = c.breaker.Execute(ctx, func() (interface{}, error) {
		resp, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", body)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, c.statusError(resp)
		}
		return nil, nil
	})
	if err != nil {
		return 0, c.mapError(err)
	}
	return count, nil
}

// Count returns the exact number of points matching the filter.
func (c *QdrantClient) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	body := map[string]interface{}{
		"exact": true,
	}
	if f := qdrantFilter(filter); f != nil {
		body["filter"] = f
	}

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		resp, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/count", body)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, c.statusError(resp)
		}
		var cr countResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return nil, fmt.Errorf("failed to decode count response: %w", err)
		}
		return cr.Result.Count, nil
	})
	if err != nil {
		return 0, c.mapError(err)
	}
	return result.(int), nil
}

// HealthCheck verifies the vector database is reachable by listing
// collections. Bypasses the circuit breaker since it's a health probe.
func (c *QdrantClient) HealthCheck(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/collections", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}
	return nil
}

// qdrantFilter converts the adapter's exact-match Filter into Qdrant's
// filter JSON ({"must":[{"key":...,"match":{"value":...}}]}).
// Returns nil for an empty filter.
func qdrantFilter(filter Filter) map[string]interface{} {
	if len(filter) == 0 {
		return nil
	}
	must := make([]map[string]interface{}, 0, len(filter))
	for key, value := range filter {
		must = append(must, map[string]interface{}{
			"key":   key,
			"match": map[string]interface{}{"value": value},
		})
	}
	return map[string]interface{}{"must": must}
}

// do issues one HTTP request with an optional JSON body.
func (c *QdrantClient) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrServiceUnavailable, err)
	}
	return resp, nil
}

// statusError converts a non-200 response into an error, preserving the
// server's status message when present.
func (c *QdrantClient) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errBody struct {
		Status struct {
			Error string `json:"error"`
		} `json:"status"`
	}
	_ = json.Unmarshal(body, &errBody)

	if resp.StatusCode == http.StatusNotFound {
		if errBody.Status.Error != "" {
			return fmt.Errorf("%w: %s", types.ErrNotFound, errBody.Status.Error)
		}
		return fmt.Errorf("%w: qdrant returned status 404", types.ErrNotFound)
	}
	if errBody.Status.Error != "" {
		return fmt.Errorf("qdrant returned status %d: %s", resp.StatusCode, errBody.Status.Error)
	}
	return fmt.Errorf("qdrant returned status %d: %s", resp.StatusCode, string(body))
}

// mapError normalizes breaker errors to the shared taxonomy.
func (c *QdrantClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, breaker.ErrOpen) {
		return fmt.Errorf("%w: qdrant circuit breaker open", types.ErrServiceUnavailable)
	}
	return err
}

// Compile-time assertion that QdrantClient satisfies the adapter interface.
var _ VectorStore = (*QdrantClient)(nil)
