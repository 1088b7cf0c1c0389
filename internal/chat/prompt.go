package chat

import (
	"strings"

	"github.com/scrypster/recall/pkg/types"
)

// systemPreamble is the fixed instruction block prepended to every prompt.
const systemPreamble = "You are a helpful assistant. Answer the user's question directly and concisely."

// memoriesHeader introduces the retrieved context block.
const memoriesHeader = "You remember the following about this user from earlier conversations:"

// buildSystemPrompt assembles the system prompt from the fixed instructions
// and the retrieved memories, one bullet per memory. With no memories the
// memory block is omitted entirely; there is no empty-section placeholder for
// the model to get confused by.
func buildSystemPrompt(memories []types.SearchResult) string {
	if len(memories) == 0 {
		return systemPreamble
	}

	var sb strings.Builder
	sb.WriteString(systemPreamble)
	sb.WriteString("\n\n")
	sb.WriteString(memoriesHeader)
	sb.WriteString("\n")
	for _, m := range memories {
		sb.WriteString("- ")
		sb.WriteString(m.Record.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("\nUse these memories when they are relevant. Do not mention that you were given them.")
	return sb.String()
}
