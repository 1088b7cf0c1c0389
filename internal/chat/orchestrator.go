// Package chat implements the conversation orchestrator. It ties memory
// retrieval, prompt assembly, inference, and exchange persistence into one
// operation with a strict failure policy: retrieval failures degrade
// gracefully to a memory-free answer, inference failures are fatal, and
// persistence failures after a successful answer only warn.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/internal/memory"
	"github.com/scrypster/recall/pkg/types"
)

// Memory modes accepted in chat requests.
const (
	// ModeSearch retrieves memories by similarity, honoring the global
	// session scoping setting. This is the default.
	ModeSearch = "search"
	// ModeUser retrieves the user's most recent memories across all
	// sessions, unranked: the mode surveys what is known about the user
	// rather than what matches the message.
	ModeUser = "user"
	// ModeSession restricts retrieval to the request's session.
	ModeSession = "session"
	// ModeNone skips memory entirely: nothing is retrieved and the exchange
	// is not persisted.
	ModeNone = "none"
)

// Generation parameter bounds. Out-of-range values are clamped, not rejected.
const (
	minTemperature = 0.0
	maxTemperature = 1.0
	minMaxTokens   = 10
	maxMaxTokens   = 32000
)

// userModeLimit caps how many recent records ModeUser pulls into context.
const userModeLimit = 5

// Memories is the slice of the memory orchestrator the chat flow needs.
type Memories interface {
	Search(ctx context.Context, req memory.SearchRequest) ([]types.SearchResult, error)
	List(ctx context.Context, userID, sessionID string, limit int) ([]types.MemoryRecord, error)
	Add(ctx context.Context, req memory.AddRequest) (*types.MemoryRecord, error)
}

// Generator is the slice of the inference client the chat flow needs.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (string, error)
	GenerateStream(ctx context.Context, req llm.GenerateRequest) (*llm.Stream, error)
	DefaultModel() string
}

// Orchestrator runs the chat flow.
type Orchestrator struct {
	generator Generator
	memories  Memories
	log       *logrus.Logger
}

// New creates a chat orchestrator.
func New(generator Generator, memories Memories, log *logrus.Logger) *Orchestrator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Orchestrator{
		generator: generator,
		memories:  memories,
		log:       log,
	}
}

// Request is one chat turn.
type Request struct {
	UserID      string  `json:"user_id"`
	SessionID   string  `json:"session_id,omitempty"`
	Message     string  `json:"message"`
	Model       string  `json:"model,omitempty"`
	MemoryMode  string  `json:"memory_mode,omitempty"` // search, user, session, or none
	Format      string  `json:"format,omitempty"`      // none, json, sentiment, or summary
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Response is the completed chat turn.
type Response struct {
	Reply         string               `json:"reply"`
	Model         string               `json:"model,omitempty"`
	MemoriesUsed  []types.SearchResult `json:"memories_used,omitempty"`
	MemoryWarning string               `json:"memory_warning,omitempty"`
}

// Chat answers one message. Memory retrieval failure is downgraded to a
// warning and the answer proceeds without context; inference failure aborts
// the turn with nothing persisted; persistence failure after a successful
// answer is logged and the answer still returns.
func (o *Orchestrator) Chat(ctx context.Context, req Request) (*Response, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}
	format, err := resolveFormat(req.Format)
	if err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = o.generator.DefaultModel()
	}

	memories, warning := o.retrieve(ctx, req)

	reply, err := o.generator.Generate(ctx, llm.GenerateRequest{
		Model:       model,
		Prompt:      req.Message,
		System:      buildSystemPrompt(memories),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Format:      format,
	})
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	if req.MemoryMode != ModeNone {
		o.persistExchange(ctx, req, reply)
	}

	return &Response{
		Reply:         reply,
		Model:         model,
		MemoriesUsed:  memories,
		MemoryWarning: warning,
	}, nil
}

// ChatStream answers one message as a fragment stream. Retrieval and prompt
// assembly happen up front with the same degradation policy as Chat; the
// exchange is persisted only after the stream completes cleanly.
func (o *Orchestrator) ChatStream(ctx context.Context, req Request) (*StreamHandle, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}
	format, err := resolveFormat(req.Format)
	if err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = o.generator.DefaultModel()
	}

	memories, warning := o.retrieve(ctx, req)

	stream, err := o.generator.GenerateStream(ctx, llm.GenerateRequest{
		Model:       model,
		Prompt:      req.Message,
		System:      buildSystemPrompt(memories),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Format:      format,
	})
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	handle := &StreamHandle{
		stream:       stream,
		memories:     memories,
		warning:      warning,
		onCompletion: func(reply string) {},
	}
	if req.MemoryMode != ModeNone {
		handle.onCompletion = func(reply string) {
			o.persistExchange(ctx, req, reply)
		}
	}
	return handle, nil
}

// retrieve fetches memory context according to the request's mode. Retrieval
// never fails the turn: any error is converted into a warning string and an
// empty context.
func (o *Orchestrator) retrieve(ctx context.Context, req Request) ([]types.SearchResult, string) {
	if req.MemoryMode == ModeNone {
		return nil, ""
	}

	if req.MemoryMode == ModeUser {
		records, err := o.memories.List(ctx, req.UserID, "", userModeLimit)
		if err != nil {
			o.log.WithError(err).WithField("user_id", req.UserID).
				Warn("Memory listing failed, answering without context")
			return nil, "memory unavailable, answering without prior context"
		}
		results := make([]types.SearchResult, 0, len(records))
		for _, rec := range records {
			results = append(results, types.SearchResult{Record: rec})
		}
		return results, ""
	}

	search := memory.SearchRequest{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Query:     req.Message,
	}
	if req.MemoryMode == ModeSession {
		search.ScopeSession = true
	}

	results, err := o.memories.Search(ctx, search)
	if err != nil {
		o.log.WithError(err).WithField("user_id", req.UserID).
			Warn("Memory search failed, answering without context")
		return nil, "memory unavailable, answering without prior context"
	}
	return results, ""
}

// persistExchange stores both sides of a completed turn as conversation
// records. Failures are logged, never returned: the user already has their
// answer.
func (o *Orchestrator) persistExchange(ctx context.Context, req Request, reply string) {
	turns := []struct {
		role    string
		content string
	}{
		{"user", req.Message},
		{"assistant", reply},
	}
	for _, turn := range turns {
		if strings.TrimSpace(turn.content) == "" {
			continue
		}
		_, err := o.memories.Add(ctx, memory.AddRequest{
			UserID:    req.UserID,
			SessionID: req.SessionID,
			Content:   turn.content,
			Kind:      types.KindConversation,
			Role:      turn.role,
		})
		if err != nil {
			o.log.WithError(err).WithFields(logrus.Fields{
				"user_id": req.UserID,
				"role":    turn.role,
			}).Warn("Failed to persist chat exchange")
		}
	}
}

// validate normalizes a request in place, clamping generation parameters and
// rejecting structurally invalid input.
func validate(req *Request) error {
	if strings.TrimSpace(req.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", types.ErrValidation)
	}
	if strings.TrimSpace(req.Message) == "" {
		return fmt.Errorf("%w: message must not be empty", types.ErrValidation)
	}
	switch req.MemoryMode {
	case "", ModeSearch, ModeUser, ModeSession, ModeNone:
	default:
		return fmt.Errorf("%w: unknown memory_mode %q", types.ErrValidation, req.MemoryMode)
	}
	if req.MemoryMode == "" {
		req.MemoryMode = ModeSearch
	}
	if req.MemoryMode == ModeSession && strings.TrimSpace(req.SessionID) == "" {
		return fmt.Errorf("%w: session_id is required for session memory mode", types.ErrValidation)
	}

	if req.Temperature < minTemperature {
		req.Temperature = minTemperature
	} else if req.Temperature > maxTemperature {
		req.Temperature = maxTemperature
	}
	if req.MaxTokens != 0 {
		if req.MaxTokens < minMaxTokens {
			req.MaxTokens = minMaxTokens
		} else if req.MaxTokens > maxMaxTokens {
			req.MaxTokens = maxMaxTokens
		}
	}
	return nil
}
