package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/internal/memory"
	"github.com/scrypster/recall/pkg/types"
)

// fakeGenerator records the last request and returns canned output.
type fakeGenerator struct {
	reply     string
	err       error
	streamND  string // NDJSON body served by GenerateStream
	streamErr error
	model     string
	lastReq   llm.GenerateRequest
}

func (f *fakeGenerator) DefaultModel() string {
	if f.model == "" {
		return "llama3"
	}
	return f.model
}

func (f *fakeGenerator) Generate(ctx context.Context, req llm.GenerateRequest) (string, error) {
	f.lastReq = req
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, req llm.GenerateRequest) (*llm.Stream, error) {
	f.lastReq = req
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return llm.NewStream(io.NopCloser(strings.NewReader(f.streamND))), nil
}

// fakeMemories records adds and serves canned search results.
type fakeMemories struct {
	results    []types.SearchResult
	records    []types.MemoryRecord
	searchErr  error
	listErr    error
	addErr     error
	added      []memory.AddRequest
	lastSearch memory.SearchRequest
	searched   bool
	listed     bool
	lastList   struct {
		userID    string
		sessionID string
		limit     int
	}
}

func (f *fakeMemories) Search(ctx context.Context, req memory.SearchRequest) ([]types.SearchResult, error) {
	f.searched = true
	f.lastSearch = req
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeMemories) List(ctx context.Context, userID, sessionID string, limit int) ([]types.MemoryRecord, error) {
	f.listed = true
	f.lastList.userID = userID
	f.lastList.sessionID = sessionID
	f.lastList.limit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.records, nil
}

func (f *fakeMemories) Add(ctx context.Context, req memory.AddRequest) (*types.MemoryRecord, error) {
	f.added = append(f.added, req)
	if f.addErr != nil {
		return nil, f.addErr
	}
	return &types.MemoryRecord{ID: "fake", UserID: req.UserID, Content: req.Content}, nil
}

func result(content string, score float64) types.SearchResult {
	return types.SearchResult{
		Record: types.MemoryRecord{Content: content, State: types.StateActive},
		Score:  score,
	}
}

func TestChatUsesMemoriesInSystemPrompt(t *testing.T) {
	gen := &fakeGenerator{reply: "You prefer tea."}
	mem := &fakeMemories{results: []types.SearchResult{
		result("prefers tea over coffee", 0.9),
		result("works night shifts", 0.7),
	}}
	o := New(gen, mem, nil)

	resp, err := o.Chat(context.Background(), Request{
		UserID:  "alice",
		Message: "what do I like to drink?",
	})

	require.NoError(t, err)
	assert.Equal(t, "You prefer tea.", resp.Reply)
	assert.Len(t, resp.MemoriesUsed, 2)
	assert.Empty(t, resp.MemoryWarning)

	assert.Contains(t, gen.lastReq.System, "- prefers tea over coffee")
	assert.Contains(t, gen.lastReq.System, "- works night shifts")
	assert.Equal(t, "what do I like to drink?", gen.lastReq.Prompt)
}

func TestChatNoMemoriesOmitsBlock(t *testing.T) {
	gen := &fakeGenerator{reply: "hello"}
	mem := &fakeMemories{}
	o := New(gen, mem, nil)

	_, err := o.Chat(context.Background(), Request{UserID: "alice", Message: "hi"})

	require.NoError(t, err)
	assert.NotContains(t, gen.lastReq.System, memoriesHeader)
	assert.NotContains(t, gen.lastReq.System, "- ")
}

func TestChatSearchFailureDegradesGracefully(t *testing.T) {
	gen := &fakeGenerator{reply: "answered anyway"}
	mem := &fakeMemories{searchErr: types.ErrServiceUnavailable}
	o := New(gen, mem, nil)

	resp, err := o.Chat(context.Background(), Request{UserID: "alice", Message: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "answered anyway", resp.Reply)
	assert.Empty(t, resp.MemoriesUsed)
	assert.NotEmpty(t, resp.MemoryWarning)
}

func TestChatInferenceFailureIsFatal(t *testing.T) {
	gen := &fakeGenerator{err: types.ErrServiceUnavailable}
	mem := &fakeMemories{}
	o := New(gen, mem, nil)

	_, err := o.Chat(context.Background(), Request{UserID: "alice", Message: "hi"})

	assert.ErrorIs(t, err, types.ErrServiceUnavailable)
	// Nothing persisted for a failed turn.
	assert.Empty(t, mem.added)
}

func TestChatPersistsBothSidesOfExchange(t *testing.T) {
	gen := &fakeGenerator{reply: "the answer"}
	mem := &fakeMemories{}
	o := New(gen, mem, nil)

	_, err := o.Chat(context.Background(), Request{
		UserID:    "alice",
		SessionID: "s1",
		Message:   "the question",
	})

	require.NoError(t, err)
	require.Len(t, mem.added, 2)
	assert.Equal(t, "user", mem.added[0].Role)
	assert.Equal(t, "the question", mem.added[0].Content)
	assert.Equal(t, "assistant", mem.added[1].Role)
	assert.Equal(t, "the answer", mem.added[1].Content)
	assert.Equal(t, "s1", mem.added[0].SessionID)
	assert.Equal(t, types.KindConversation, mem.added[0].Kind)
}

func TestChatPersistenceFailureIsNotFatal(t *testing.T) {
	gen := &fakeGenerator{reply: "still delivered"}
	mem := &fakeMemories{addErr: errors.New("qdrant down")}
	o := New(gen, mem, nil)

	resp, err := o.Chat(context.Background(), Request{UserID: "alice", Message: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "still delivered", resp.Reply)
}

func TestChatModeNoneSkipsMemoryEntirely(t *testing.T) {
	gen := &fakeGenerator{reply: "stateless answer"}
	mem := &fakeMemories{results: []types.SearchResult{result("should not appear", 0.9)}}
	o := New(gen, mem, nil)

	resp, err := o.Chat(context.Background(), Request{
		UserID:     "alice",
		Message:    "hi",
		MemoryMode: ModeNone,
	})

	require.NoError(t, err)
	assert.False(t, mem.searched, "mode none must not search")
	assert.Empty(t, mem.added, "mode none must not persist")
	assert.Empty(t, resp.MemoriesUsed)
}

func TestChatModeSessionForcesScope(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	mem := &fakeMemories{}
	o := New(gen, mem, nil)

	_, err := o.Chat(context.Background(), Request{
		UserID:     "alice",
		SessionID:  "s7",
		Message:    "hi",
		MemoryMode: ModeSession,
	})

	require.NoError(t, err)
	assert.True(t, mem.lastSearch.ScopeSession)
	assert.Equal(t, "s7", mem.lastSearch.SessionID)
}

func TestChatModeSessionRequiresSessionID(t *testing.T) {
	o := New(&fakeGenerator{}, &fakeMemories{}, nil)

	_, err := o.Chat(context.Background(), Request{
		UserID:     "alice",
		Message:    "hi",
		MemoryMode: ModeSession,
	})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestChatModeUserListsRecentRecords(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	mem := &fakeMemories{records: []types.MemoryRecord{
		{Content: "moved to Lisbon", State: types.StateActive},
		{Content: "allergic to peanuts", State: types.StateActive},
	}}
	o := New(gen, mem, nil)

	resp, err := o.Chat(context.Background(), Request{
		UserID:     "alice",
		SessionID:  "s7",
		Message:    "hi",
		MemoryMode: ModeUser,
	})

	require.NoError(t, err)
	assert.True(t, mem.listed, "mode user fetches by recency, not similarity")
	assert.False(t, mem.searched)
	assert.Equal(t, "alice", mem.lastList.userID)
	assert.Empty(t, mem.lastList.sessionID, "mode user spans all sessions")
	assert.Equal(t, userModeLimit, mem.lastList.limit)

	require.Len(t, resp.MemoriesUsed, 2)
	assert.Contains(t, gen.lastReq.System, "- moved to Lisbon")
	assert.Contains(t, gen.lastReq.System, "- allergic to peanuts")
}

func TestChatModeUserListFailureDegradesGracefully(t *testing.T) {
	gen := &fakeGenerator{reply: "answered anyway"}
	mem := &fakeMemories{listErr: types.ErrServiceUnavailable}
	o := New(gen, mem, nil)

	resp, err := o.Chat(context.Background(), Request{
		UserID:     "alice",
		Message:    "hi",
		MemoryMode: ModeUser,
	})

	require.NoError(t, err)
	assert.Equal(t, "answered anyway", resp.Reply)
	assert.Empty(t, resp.MemoriesUsed)
	assert.NotEmpty(t, resp.MemoryWarning)
}

func TestChatValidation(t *testing.T) {
	o := New(&fakeGenerator{}, &fakeMemories{}, nil)

	tests := []struct {
		name string
		req  Request
	}{
		{"missing user", Request{Message: "hi"}},
		{"missing message", Request{UserID: "alice"}},
		{"unknown memory mode", Request{UserID: "alice", Message: "hi", MemoryMode: "telepathy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Chat(context.Background(), tt.req)
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}
}

func TestChatResolvesDefaultModel(t *testing.T) {
	gen := &fakeGenerator{reply: "ok", model: "mistral"}
	o := New(gen, &fakeMemories{}, nil)

	resp, err := o.Chat(context.Background(), Request{UserID: "alice", Message: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "mistral", resp.Model, "omitted model resolves to the generator default")
	assert.Equal(t, "mistral", gen.lastReq.Model)

	resp, err = o.Chat(context.Background(), Request{UserID: "alice", Message: "hi", Model: "llama3:70b"})
	require.NoError(t, err)
	assert.Equal(t, "llama3:70b", resp.Model)
}

func TestChatOutputFormats(t *testing.T) {
	gen := &fakeGenerator{reply: `{"sentiment":"positive"}`}
	o := New(gen, &fakeMemories{}, nil)

	// Unnamed and "none" leave the output unconstrained.
	_, err := o.Chat(context.Background(), Request{UserID: "alice", Message: "hi"})
	require.NoError(t, err)
	assert.Nil(t, gen.lastReq.Format)

	_, err = o.Chat(context.Background(), Request{UserID: "alice", Message: "hi", Format: "none"})
	require.NoError(t, err)
	assert.Nil(t, gen.lastReq.Format)

	// "json" passes the bare mode string through.
	_, err = o.Chat(context.Background(), Request{UserID: "alice", Message: "hi", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, "json", gen.lastReq.Format)

	// Named formats resolve to their schema.
	_, err = o.Chat(context.Background(), Request{UserID: "alice", Message: "rate this", Format: "sentiment"})
	require.NoError(t, err)
	schema, ok := gen.lastReq.Format.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "object", schema["type"])
	assert.Contains(t, schema["required"], "sentiment")

	// Unknown names are rejected before inference.
	_, err = o.Chat(context.Background(), Request{UserID: "alice", Message: "hi", Format: "xml"})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestChatClampsGenerationParameters(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	o := New(gen, &fakeMemories{}, nil)

	_, err := o.Chat(context.Background(), Request{
		UserID:      "alice",
		Message:     "hi",
		Temperature: 3.5,
		MaxTokens:   500000,
	})

	require.NoError(t, err)
	assert.Equal(t, 1.0, gen.lastReq.Temperature)
	assert.Equal(t, 32000, gen.lastReq.MaxTokens)

	_, err = o.Chat(context.Background(), Request{
		UserID:      "alice",
		Message:     "hi",
		Temperature: -0.3,
		MaxTokens:   1,
	})

	require.NoError(t, err)
	assert.Equal(t, 0.0, gen.lastReq.Temperature)
	assert.Equal(t, 10, gen.lastReq.MaxTokens)
}

func TestChatStreamPersistsOnCleanCompletion(t *testing.T) {
	gen := &fakeGenerator{streamND: `{"response":"frag ","done":false}
{"response":"ments","done":false}
{"response":"","done":true}
`}
	mem := &fakeMemories{}
	o := New(gen, mem, nil)

	handle, err := o.ChatStream(context.Background(), Request{UserID: "alice", Message: "hi"})
	require.NoError(t, err)
	defer handle.Close()

	var sb strings.Builder
	for {
		frag, err := handle.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sb.WriteString(frag)
	}

	assert.Equal(t, "frag ments", sb.String())
	require.Len(t, mem.added, 2)
	assert.Equal(t, "frag ments", mem.added[1].Content)

	// Draining past EOF does not persist twice.
	_, err = handle.Recv()
	assert.Equal(t, io.EOF, err)
	assert.Len(t, mem.added, 2)
}

func TestChatStreamErrorSkipsPersistence(t *testing.T) {
	gen := &fakeGenerator{streamND: `{"response":"part","done":false}
{"error":"model runner stopped"}
`}
	mem := &fakeMemories{}
	o := New(gen, mem, nil)

	handle, err := o.ChatStream(context.Background(), Request{UserID: "alice", Message: "hi"})
	require.NoError(t, err)
	defer handle.Close()

	frag, err := handle.Recv()
	require.NoError(t, err)
	assert.Equal(t, "part", frag)

	_, err = handle.Recv()
	require.Error(t, err)

	assert.Empty(t, mem.added, "a failed stream must not persist a partial reply")
}

func TestChatStreamModeNoneDoesNotPersist(t *testing.T) {
	gen := &fakeGenerator{streamND: `{"response":"ok","done":true}
`}
	mem := &fakeMemories{}
	o := New(gen, mem, nil)

	handle, err := o.ChatStream(context.Background(), Request{
		UserID:     "alice",
		Message:    "hi",
		MemoryMode: ModeNone,
	})
	require.NoError(t, err)
	defer handle.Close()

	for {
		if _, err := handle.Recv(); err == io.EOF {
			break
		} else if err != nil {
			t.Fatal(err)
		}
	}

	assert.False(t, mem.searched)
	assert.Empty(t, mem.added)
}

func TestChatStreamInferenceFailureIsFatal(t *testing.T) {
	gen := &fakeGenerator{streamErr: types.ErrServiceUnavailable}
	o := New(gen, &fakeMemories{}, nil)

	_, err := o.ChatStream(context.Background(), Request{UserID: "alice", Message: "hi"})
	assert.ErrorIs(t, err, types.ErrServiceUnavailable)
}
