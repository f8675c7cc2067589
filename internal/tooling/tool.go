package tooling

import (
	"context"
	"encoding/json"

	"coursebot/internal/domain"
)

// Tool is a named capability the model may invoke. Its input is described by a
// JSON Schema generated from a Go struct via invopop/jsonschema; the registry
// validates arguments against Definition() before calling Execute.
type Tool interface {
	// Name returns the unique tool name used in function-calling (e.g. "search_course_content").
	Name() string
	// Description returns a human-readable description for the model.
	Description() string
	// Definition returns the JSON Schema string for the tool's input struct.
	Definition() string
	// Execute runs the tool and returns model-readable text. A returned error is
	// a fault of the tool itself, not an empty or soft-failed lookup.
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// CitationSource is implemented by tools that record the sources behind their
// latest call. The citation slot belongs to the single in-flight query; callers
// that share a tool across queries must serialize around read and reset.
type CitationSource interface {
	// LastCitations returns the citations of the most recent Execute call.
	LastCitations() []domain.Citation
	// ResetCitations discards the current citation set.
	ResetCitations()
}
