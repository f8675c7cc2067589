package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"coursebot/internal/domain"
)

// localSearchTool is the tool LocalProvider calls when it is offered.
const localSearchTool = "search_course_content"

// LocalProvider is a deterministic offline gateway for running without API
// keys. When the search tool is offered and the conversation has no tool
// results yet, it asks for one search with the user's question; otherwise it
// answers by quoting whatever tool output the conversation holds.
type LocalProvider struct {
	Prefix string // prepended to every text answer
	seq    atomic.Uint64
}

// NewLocalProvider returns a local provider with an optional answer prefix.
func NewLocalProvider(prefix string) *LocalProvider {
	return &LocalProvider{Prefix: prefix}
}

// Complete implements domain.ModelGateway.
func (p *LocalProvider) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := toolResults(req.Messages)
	if len(results) == 0 && offers(req.Tools, localSearchTool) {
		input, err := json.Marshal(map[string]string{"query": firstUserText(req.Messages)})
		if err != nil {
			return nil, fmt.Errorf("local marshal: %w", err)
		}
		return &domain.Completion{
			StopReason: domain.StopToolUse,
			Content: []domain.ContentBlock{domain.ToolUseBlock{
				ToolUseID: fmt.Sprintf("local_%d", p.seq.Add(1)),
				Name:      localSearchTool,
				Input:     input,
			}},
		}, nil
	}

	text := firstUserText(req.Messages)
	if len(results) > 0 {
		text = strings.Join(results, "\n\n")
	}
	return &domain.Completion{
		StopReason: "end_turn",
		Content:    []domain.ContentBlock{domain.TextBlock{Text: p.Prefix + text}},
	}, nil
}

func offers(tools []domain.ToolDefinition, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func firstUserText(messages []domain.Message) string {
	for _, m := range messages {
		if m.Role != domain.RoleUser {
			continue
		}
		for _, b := range m.ContentBlocks {
			if tb, ok := b.(domain.TextBlock); ok {
				return tb.Text
			}
		}
	}
	return ""
}

// toolResults returns the content of every successful tool result, oldest first.
func toolResults(messages []domain.Message) []string {
	var out []string
	for _, m := range messages {
		for _, b := range m.ContentBlocks {
			if rb, ok := b.(domain.ToolResultBlock); ok && !rb.IsError {
				out = append(out, rb.Content)
			}
		}
	}
	return out
}

// Ensure LocalProvider implements domain.ModelGateway at compile time.
var _ domain.ModelGateway = (*LocalProvider)(nil)
