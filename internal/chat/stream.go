package chat

import (
	"io"
	"strings"

	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/pkg/types"
)

// StreamHandle is a single-consumer fragment stream for one chat turn. Recv
// returns fragments until io.EOF. The exchange is persisted exactly once,
// when the underlying stream finishes cleanly; an error or an abandoned
// stream persists nothing, so a half-generated reply never becomes a memory.
type StreamHandle struct {
	stream       *llm.Stream
	memories     []types.SearchResult
	warning      string
	reply        strings.Builder
	completed    bool
	onCompletion func(reply string)
}

// Memories returns the retrieved context used for this turn.
func (h *StreamHandle) Memories() []types.SearchResult {
	return h.memories
}

// Warning returns the non-fatal retrieval warning, if any.
func (h *StreamHandle) Warning() string {
	return h.warning
}

// Recv returns the next reply fragment. io.EOF signals clean completion; any
// other error terminates the stream without persistence.
func (h *StreamHandle) Recv() (string, error) {
	frag, err := h.stream.Recv()
	if err == io.EOF {
		if !h.completed {
			h.completed = true
			h.onCompletion(h.reply.String())
		}
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	h.reply.WriteString(frag)
	return frag, nil
}

// Close releases the underlying stream. Safe to call multiple times and
// after Recv has returned io.EOF.
func (h *StreamHandle) Close() error {
	return h.stream.Close()
}
