package chat

import (
	"fmt"

	"github.com/scrypster/recall/pkg/types"
)

// outputFormats maps the format names accepted in chat requests to the
// output constraint sent to the inference server: nil for unconstrained
// text, the string "json" for free-form JSON, or a JSON schema the reply
// must conform to.
var outputFormats = map[string]interface{}{
	"":     nil,
	"none": nil,
	"json": "json",
	"sentiment": map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"sentiment": map[string]interface{}{
				"type": "string",
				"enum": []string{"positive", "neutral", "negative"},
			},
			"confidence": map[string]interface{}{
				"type":    "number",
				"minimum": 0,
				"maximum": 1,
			},
			"explanation": map[string]interface{}{
				"type": "string",
			},
		},
		"required": []string{"sentiment", "confidence", "explanation"},
	},
	"summary": map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"summary": map[string]interface{}{
				"type": "string",
			},
			"key_points": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "string",
				},
			},
		},
		"required": []string{"summary", "key_points"},
	},
}

// resolveFormat translates a request's format name into the constraint the
// inference client sends. Unknown names are a validation error.
func resolveFormat(name string) (interface{}, error) {
	format, ok := outputFormats[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown format %q", types.ErrValidation, name)
	}
	return format, nil
}
