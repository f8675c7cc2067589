package domain

import "context"

// ModelGateway is the model-agnostic interface for one language-model turn.
// Implementations may be Anthropic, a local stub, or decorators (retry, key pool).
type ModelGateway interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// RetrievalBackend ranks course passages and resolves course metadata.
type RetrievalBackend interface {
	// Search returns ranked passages. Soft failures are reported in
	// SearchResults.Error rather than as a Go error.
	Search(ctx context.Context, q SearchQuery) SearchResults

	// CourseOutline resolves a (possibly partial) course name to its outline.
	// Returns ErrCourseNotFound when nothing matches.
	CourseOutline(ctx context.Context, courseName string) (*CourseOutline, error)

	// LessonLink returns the link of a lesson, or "" when unknown.
	LessonLink(ctx context.Context, courseTitle string, lessonNumber int) (string, error)

	// CourseLink returns the link of a course, or "" when unknown.
	CourseLink(ctx context.Context, courseTitle string) (string, error)
}

// SessionHistoryStore persists the messages of each session and restores the
// last N of them after a restart.
type SessionHistoryStore interface {
	Append(sessionID string, msgs ...Message) error
	LoadHistory(sessionID string, n int) ([]Message, error)
}

// Tokenizer counts tokens in a string for context budget management.
type Tokenizer interface {
	CountTokens(text string) (int, error)
}

// ContextManager fits messages into a token budget.
type ContextManager interface {
	// FitToWindow takes messages and a system prompt, and returns messages
	// that fit within the configured token limit. Older messages are dropped first.
	FitToWindow(messages []Message, systemPrompt string) ([]Message, error)
}

// Embedder generates vector embeddings from text using a local or remote model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}
