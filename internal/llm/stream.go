package llm

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/scrypster/recall/pkg/types"
)

// Stream is a pull-based sequence of generated text fragments. It wraps the
// NDJSON body of a streaming /api/generate response: each Recv call decodes
// one frame and returns its fragment, and the final frame (done=true) yields
// io.EOF. The stream is finite and non-restartable, and it is not safe for
// concurrent Recv calls — exactly one consumer reads fragments in order.
type Stream struct {
	body    io.ReadCloser
	decoder *json.Decoder
	done    bool
}

// streamFrame is one NDJSON frame of a streaming generate response.
type streamFrame struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// NewStream wraps an NDJSON fragment body. Callers normally obtain streams
// from GenerateStream; this constructor exists so tests can fake one.
func NewStream(body io.ReadCloser) *Stream {
	return &Stream{
		body:    body,
		decoder: json.NewDecoder(body),
	}
}

// Recv returns the next text fragment. It returns io.EOF after the final
// frame; any other error means the stream failed mid-flight and no further
// fragments will arrive. Mid-stream transport failures map to
// ErrServiceUnavailable like their non-streaming counterparts.
func (s *Stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	var frame streamFrame
	if err := s.decoder.Decode(&frame); err != nil {
		s.done = true
		_ = s.body.Close()
		if err == io.EOF {
			// Body ended without a done frame; treat as a truncated stream.
			return "", fmt.Errorf("%w: stream ended unexpectedly", types.ErrServiceUnavailable)
		}
		return "", fmt.Errorf("%w: failed to decode stream frame: %v", types.ErrServiceUnavailable, err)
	}

	if frame.Error != "" {
		s.done = true
		_ = s.body.Close()
		return "", fmt.Errorf("ollama stream error: %s", frame.Error)
	}

	if frame.Done {
		s.done = true
		_ = s.body.Close()
		if frame.Response != "" {
			// Some models attach a final fragment to the done frame.
			return frame.Response, nil
		}
		return "", io.EOF
	}

	return frame.Response, nil
}

// Close aborts the stream and releases the underlying connection. Safe to
// call multiple times and after Recv returned io.EOF.
func (s *Stream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.body.Close()
}
