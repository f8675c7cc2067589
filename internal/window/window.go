// Package window trims conversation history to a token budget.
package window

import (
	"fmt"
	"strings"

	"coursebot/internal/domain"
)

// Manager implements domain.ContextManager with a sliding window: the system
// prompt is charged first, then messages are kept newest first until the
// budget runs out.
type Manager struct {
	tokenizer domain.Tokenizer
	maxTokens int
}

// NewManager panics if tokenizer is nil or maxTokens <= 0.
func NewManager(tokenizer domain.Tokenizer, maxTokens int) *Manager {
	if tokenizer == nil {
		panic("window: tokenizer must not be nil")
	}
	if maxTokens <= 0 {
		panic("window: maxTokens must be > 0")
	}
	return &Manager{tokenizer: tokenizer, maxTokens: maxTokens}
}

// MaxTokens returns the configured budget.
func (m *Manager) MaxTokens() int { return m.maxTokens }

// FitToWindow returns the newest suffix of messages that fits next to
// systemPrompt. It fails when the prompt alone is over budget.
func (m *Manager) FitToWindow(messages []domain.Message, systemPrompt string) ([]domain.Message, error) {
	if len(messages) == 0 {
		return []domain.Message{}, nil
	}

	used := 0
	if systemPrompt != "" {
		n, err := m.tokenizer.CountTokens(systemPrompt)
		if err != nil {
			return nil, fmt.Errorf("window: counting system prompt tokens: %w", err)
		}
		if n > m.maxTokens {
			return nil, fmt.Errorf("window: system prompt (%d tokens) exceeds limit (%d tokens)", n, m.maxTokens)
		}
		used = n
	}

	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		n, err := m.tokenizer.CountTokens(MessageText(messages[i]))
		if err != nil {
			return nil, fmt.Errorf("window: counting tokens for message %d: %w", i, err)
		}
		if used+n > m.maxTokens {
			break
		}
		used += n
		start = i
	}
	return messages[start:], nil
}

// MessageText renders a message as plain text for token counting.
func MessageText(msg domain.Message) string {
	parts := make([]string, 0, len(msg.ContentBlocks))
	for _, block := range msg.ContentBlocks {
		switch b := block.(type) {
		case domain.TextBlock:
			parts = append(parts, b.Text)
		case domain.ToolUseBlock:
			parts = append(parts, b.Name+" "+string(b.Input))
		case domain.ToolResultBlock:
			parts = append(parts, b.Content)
		}
	}
	return strings.Join(parts, "\n")
}

var _ domain.ContextManager = (*Manager)(nil)
