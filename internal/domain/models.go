package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// =============================================================================
// Core Configuration
// =============================================================================

type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Model     ModelConfig     `json:"model"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Session   SessionConfig   `json:"session"`
	Infra     InfraConfig     `json:"infra"`
	Retry     RetryConfig     `json:"retry"`
}

// RetryConfig controls retry behaviour for model gateway calls.
type RetryConfig struct {
	MaxRetries     int `json:"maxRetries"`     // Maximum retry attempts (0 = no retries)
	InitialBackoff int `json:"initialBackoff"` // Initial backoff in milliseconds
	MaxBackoff     int `json:"maxBackoff"`     // Maximum backoff in milliseconds
	Multiplier     int `json:"multiplier"`     // Backoff multiplier (e.g. 2 for exponential doubling)
}

type GatewayConfig struct {
	Port         int    `json:"port"`
	AuthToken    string `json:"authToken,omitempty"`    // When set, requests need Authorization: Bearer <authToken>
	JWTSecretEnv string `json:"jwtSecretEnv,omitempty"` // env var holding an HS256 secret; signed tokens are accepted too
}

type ModelConfig struct {
	Provider      string           `json:"provider"` // "anthropic" | "local"
	Name          string           `json:"name"`
	APIKeyEnv     string           `json:"apiKeyEnv,omitempty"` // env var holding one or more comma-separated keys
	MaxTokens     int              `json:"maxTokens"`
	MaxToolRounds int              `json:"maxToolRounds"`
	ParallelTools int              `json:"parallelTools,omitempty"` // >1 runs tool calls of a round concurrently
	TimeoutSecs   int              `json:"timeoutSecs,omitempty"`
	Fallbacks     []FallbackConfig `json:"fallbacks,omitempty"`
}

// FallbackConfig describes an alternative model gateway tried when the primary fails.
type FallbackConfig struct {
	Provider  string `json:"provider"`
	Name      string `json:"name"`
	APIKeyEnv string `json:"apiKeyEnv,omitempty"`
}

type RetrievalConfig struct {
	DatabaseURL       string `json:"databaseUrl"`       // "file:courses.db" or "libsql://..."
	EmbeddingProvider string `json:"embeddingProvider"` // "ollama" | "hash"
	EmbeddingModel    string `json:"embeddingModel"`
	OllamaURL         string `json:"ollamaUrl,omitempty"`
	MaxResults        int    `json:"maxResults"`
}

type SessionConfig struct {
	MaxHistory       int    `json:"maxHistory"`                 // exchanges kept per session
	MaxHistoryTokens int    `json:"maxHistoryTokens,omitempty"` // 0 disables token trimming
	HistoryDir       string `json:"historyDir,omitempty"`       // JSONL transcripts; empty disables
}

type InfraConfig struct {
	LogFormat string `json:"logFormat"` // "json" | "text"
	LogLevel  string `json:"logLevel"`
}

// =============================================================================
// Messaging Protocol
// =============================================================================

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one conversation turn. Assistant turns may mix TextBlock and
// ToolUseBlock; user turns may mix TextBlock and ToolResultBlock.
type Message struct {
	ID            string
	Role          MessageRole
	Timestamp     time.Time
	ContentBlocks []ContentBlock
}

type messageJSON struct {
	ID        string            `json:"id,omitempty"`
	Role      MessageRole       `json:"role"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Content   []json.RawMessage `json:"content"`
}

// NewTextMessage returns a message holding a single text block.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{Role: role, Timestamp: time.Now().UTC(), ContentBlocks: []ContentBlock{TextBlock{Text: text}}}
}

// MarshalJSON encodes content as an array of type-tagged blocks.
func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{ID: m.ID, Role: m.Role, Content: make([]json.RawMessage, 0, len(m.ContentBlocks))}
	if !m.Timestamp.IsZero() {
		ts := m.Timestamp
		out.Timestamp = &ts
	}
	for _, b := range m.ContentBlocks {
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		out.Content = append(out.Content, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements custom unmarshaling for polymorphic content.
// If content is a string, it becomes a single TextBlock; if an array, each element
// is decoded by its "type" field into the appropriate ContentBlock implementation.
func (m *Message) UnmarshalJSON(data []byte) error {
	var a struct {
		ID        string          `json:"id"`
		Role      MessageRole     `json:"role"`
		Timestamp time.Time       `json:"timestamp"`
		Content   json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	m.ID = a.ID
	m.Role = a.Role
	m.Timestamp = a.Timestamp
	m.ContentBlocks = nil

	if len(a.Content) == 0 {
		return nil
	}
	blocks, err := parseMessageContent(a.Content)
	if err != nil {
		return err
	}
	m.ContentBlocks = blocks
	return nil
}

// parseMessageContent decodes content (string or array of blocks) into ContentBlocks.
// Unknown block types are skipped.
func parseMessageContent(content json.RawMessage) ([]ContentBlock, error) {
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return []ContentBlock{TextBlock{Text: s}}, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, err
	}
	blocks := make([]ContentBlock, 0, len(raw))
	for _, r := range raw {
		var typeOnly struct {
			Type BlockType `json:"type"`
		}
		if err := json.Unmarshal(r, &typeOnly); err != nil {
			continue
		}
		switch typeOnly.Type {
		case BlockText:
			var b TextBlock
			if err := json.Unmarshal(r, &b); err == nil {
				blocks = append(blocks, b)
			}
		case BlockToolUse:
			var b ToolUseBlock
			if err := json.Unmarshal(r, &b); err == nil {
				blocks = append(blocks, b)
			}
		case BlockToolResult:
			var b ToolResultBlock
			if err := json.Unmarshal(r, &b); err == nil {
				blocks = append(blocks, b)
			}
		}
	}
	return blocks, nil
}

type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

type ContentBlock interface {
	Type() BlockType
}

type TextBlock struct {
	Text string `json:"text"`
}

func (TextBlock) Type() BlockType { return BlockText }

func (b TextBlock) MarshalJSON() ([]byte, error) {
	type alias TextBlock
	return json.Marshal(struct {
		Type BlockType `json:"type"`
		alias
	}{BlockText, alias(b)})
}

// ToolUseBlock is a tool invocation issued by the model. ID is opaque and is
// echoed back by the matching ToolResultBlock.
type ToolUseBlock struct {
	ToolUseID string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
}

func (ToolUseBlock) Type() BlockType { return BlockToolUse }

func (b ToolUseBlock) MarshalJSON() ([]byte, error) {
	type alias ToolUseBlock
	a := alias(b)
	if len(a.Input) == 0 {
		a.Input = json.RawMessage(`{}`)
	}
	return json.Marshal(struct {
		Type BlockType `json:"type"`
		alias
	}{BlockToolUse, a})
}

type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

func (ToolResultBlock) Type() BlockType { return BlockToolResult }

func (b ToolResultBlock) MarshalJSON() ([]byte, error) {
	type alias ToolResultBlock
	return json.Marshal(struct {
		Type BlockType `json:"type"`
		alias
	}{BlockToolResult, alias(b)})
}

// =============================================================================
// Model Gateway
// =============================================================================

type StopReason string

// StopToolUse is the only stop reason that continues the tool loop; every
// other value is treated as a final text reply.
const StopToolUse StopReason = "tool_use"

type CompletionRequest struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition // empty means no tools are offered
}

type Completion struct {
	StopReason StopReason
	Content    []ContentBlock
}

// ToolUses returns the tool invocations of the completion in the order the model listed them.
func (c *Completion) ToolUses() []ToolUseBlock {
	if c == nil {
		return nil
	}
	var out []ToolUseBlock
	for _, b := range c.Content {
		if tu, ok := b.(ToolUseBlock); ok {
			out = append(out, tu)
		}
	}
	return out
}

// =============================================================================
// Tooling & Citations
// =============================================================================

type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Citation is a display-ready reference to the passage or course behind an answer.
type Citation struct {
	Text string `json:"text"`
	Link string `json:"link,omitempty"`
}

// =============================================================================
// Retrieval
// =============================================================================

// ErrCourseNotFound is returned when a course name cannot be resolved.
var ErrCourseNotFound = errors.New("course not found")

type SearchQuery struct {
	Query        string
	CourseName   string // empty means all courses
	LessonNumber *int   // nil means all lessons
}

type Passage struct {
	Text         string
	CourseTitle  string
	LessonNumber *int
	Score        float64
}

// SearchResults carries either passages or a soft backend error message.
type SearchResults struct {
	Passages []Passage
	Error    string
}

func (r SearchResults) IsEmpty() bool { return len(r.Passages) == 0 }

type Lesson struct {
	Number int    `json:"number" yaml:"number"`
	Title  string `json:"title" yaml:"title"`
	Link   string `json:"link,omitempty" yaml:"link,omitempty"`
}

type CourseOutline struct {
	Title      string   `json:"title"`
	Link       string   `json:"link,omitempty"`
	Instructor string   `json:"instructor,omitempty"`
	Lessons    []Lesson `json:"lessons"`
}
