package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/chat"
	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/internal/memory"
	"github.com/scrypster/recall/pkg/types"
)

// stubGenerator implements chat.Generator with canned output.
type stubGenerator struct {
	reply    string
	err      error
	streamND string
}

func (s *stubGenerator) Generate(ctx context.Context, req llm.GenerateRequest) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *stubGenerator) GenerateStream(ctx context.Context, req llm.GenerateRequest) (*llm.Stream, error) {
	if s.err != nil {
		return nil, s.err
	}
	return llm.NewStream(io.NopCloser(strings.NewReader(s.streamND))), nil
}

func (s *stubGenerator) DefaultModel() string { return "llama3" }

// stubMemories implements chat.Memories with canned results.
type stubMemories struct {
	results []types.SearchResult
	added   int
}

func (s *stubMemories) Search(ctx context.Context, req memory.SearchRequest) ([]types.SearchResult, error) {
	return s.results, nil
}

func (s *stubMemories) List(ctx context.Context, userID, sessionID string, limit int) ([]types.MemoryRecord, error) {
	return nil, nil
}

func (s *stubMemories) Add(ctx context.Context, req memory.AddRequest) (*types.MemoryRecord, error) {
	s.added++
	return &types.MemoryRecord{ID: "x"}, nil
}

func newChatHandlers(gen *stubGenerator, mem *stubMemories) *ChatHandlers {
	return NewChatHandlers(chat.New(gen, mem, nil), nil, nil)
}

func TestPostChatReturnsReply(t *testing.T) {
	h := newChatHandlers(&stubGenerator{reply: "hello there"}, &stubMemories{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"user_id":"alice","message":"hi"}`))
	w := httptest.NewRecorder()

	h.PostChat(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp chat.Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "hello there", resp.Reply)
	assert.Equal(t, "llama3", resp.Model, "omitted model reports the resolved default")
}

func TestPostChatInvalidBody(t *testing.T) {
	h := newChatHandlers(&stubGenerator{}, &stubMemories{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{not json"))
	w := httptest.NewRecorder()

	h.PostChat(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostChatValidationMapsTo400(t *testing.T) {
	h := newChatHandlers(&stubGenerator{reply: "x"}, &stubMemories{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"user_id":"alice","message":""}`))
	w := httptest.NewRecorder()

	h.PostChat(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
	assert.Equal(t, "Bad Request", errResp.Code)
}

func TestPostChatServiceUnavailableMapsTo503(t *testing.T) {
	h := newChatHandlers(&stubGenerator{err: types.ErrServiceUnavailable}, &stubMemories{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"user_id":"alice","message":"hi"}`))
	w := httptest.NewRecorder()

	h.PostChat(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPostChatModelNotFoundMapsTo404(t *testing.T) {
	h := newChatHandlers(&stubGenerator{err: types.ErrModelNotFound}, &stubMemories{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"user_id":"alice","message":"hi","model":"llava"}`))
	w := httptest.NewRecorder()

	h.PostChat(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostChatStreamDeliversNDJSON(t *testing.T) {
	gen := &stubGenerator{streamND: `{"response":"one ","done":false}
{"response":"two","done":false}
{"response":"","done":true}
`}
	mem := &stubMemories{}
	h := newChatHandlers(gen, mem)

	req := httptest.NewRequest(http.MethodPost, "/api/chat?stream=true",
		strings.NewReader(`{"user_id":"alice","message":"hi"}`))
	w := httptest.NewRecorder()

	h.PostChat(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))

	var frames []streamFrame
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		var f streamFrame
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &f))
		frames = append(frames, f)
	}

	require.Len(t, frames, 3)
	assert.Equal(t, "one ", frames[0].Response)
	assert.Equal(t, "two", frames[1].Response)
	assert.True(t, frames[2].Done)
	assert.Empty(t, frames[2].Error)

	// Clean completion persisted both sides of the exchange.
	assert.Equal(t, 2, mem.added)
}

func TestPostChatStreamBodyFlag(t *testing.T) {
	gen := &stubGenerator{streamND: `{"response":"ok","done":true}
`}
	h := newChatHandlers(gen, &stubMemories{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"user_id":"alice","message":"hi","stream":true}`))
	w := httptest.NewRecorder()

	h.PostChat(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))
}

func TestPostChatStreamMidFlightErrorFrame(t *testing.T) {
	gen := &stubGenerator{streamND: `{"response":"part","done":false}
{"error":"model runner stopped"}
`}
	mem := &stubMemories{}
	h := newChatHandlers(gen, mem)

	req := httptest.NewRequest(http.MethodPost, "/api/chat?stream=true",
		strings.NewReader(`{"user_id":"alice","message":"hi"}`))
	w := httptest.NewRecorder()

	h.PostChat(w, req)

	// Status was already committed when the failure arrived.
	require.Equal(t, http.StatusOK, w.Code)

	var frames []streamFrame
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		var f streamFrame
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &f))
		frames = append(frames, f)
	}

	require.Len(t, frames, 2)
	assert.Equal(t, "part", frames[0].Response)
	assert.True(t, frames[1].Done)
	assert.Contains(t, frames[1].Error, "model runner")

	// Nothing persisted for a failed stream.
	assert.Equal(t, 0, mem.added)
}

func TestPostChatStreamUpfrontErrorIsHTTPStatus(t *testing.T) {
	h := newChatHandlers(&stubGenerator{err: types.ErrServiceUnavailable}, &stubMemories{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat?stream=true",
		strings.NewReader(`{"user_id":"alice","message":"hi"}`))
	w := httptest.NewRecorder()

	h.PostChat(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
