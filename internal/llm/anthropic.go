package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"coursebot/internal/domain"
)

const anthropicAPIBase = "https://api.anthropic.com/v1/messages"

const defaultMaxTokens = 800

// APIError is a non-200 reply from a model API. The status code is kept in
// the message so retry and key-pool classification can see it.
type APIError struct {
	StatusCode int
	Body       string
}

// Status returns the HTTP status code.
func (e *APIError) Status() int { return e.StatusCode }

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api status %d", e.StatusCode)
	}
	return fmt.Sprintf("api status %d: %s", e.StatusCode, e.Body)
}

// AnthropicProvider calls the Anthropic Messages API with tool support.
type AnthropicProvider struct {
	apiKey      string
	model       string
	maxTokens   int
	client      *http.Client
	version     string
	baseURL     string
	marshalFunc func(v interface{}) ([]byte, error) // for testing
}

// NewAnthropicProvider returns an Anthropic-backed ModelGateway. A zero
// timeout leaves the HTTP client without one.
func NewAnthropicProvider(apiKey, model string, maxTokens int, timeout time.Duration) *AnthropicProvider {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicProvider{
		apiKey:      apiKey,
		model:       model,
		maxTokens:   maxTokens,
		client:      &http.Client{Timeout: timeout},
		version:     "2023-06-01",
		baseURL:     anthropicAPIBase,
		marshalFunc: json.Marshal,
	}
}

type anthropicRequest struct {
	Model       string                  `json:"model"`
	MaxTokens   int                     `json:"max_tokens"`
	Temperature float64                 `json:"temperature"`
	System      string                  `json:"system,omitempty"`
	Messages    []anthropicMessage      `json:"messages"`
	Tools       []domain.ToolDefinition `json:"tools,omitempty"`
	ToolChoice  *anthropicToolChoice    `json:"tool_choice,omitempty"`
}

// anthropicMessage carries only the fields the API accepts; the blocks
// marshal themselves with their "type" tag.
type anthropicMessage struct {
	Role    domain.MessageRole    `json:"role"`
	Content []domain.ContentBlock `json:"content"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
}

type anthropicResponse struct {
	StopReason string                  `json:"stop_reason"`
	Content    []anthropicResponseBlock `json:"content"`
}

type anthropicResponseBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Complete implements domain.ModelGateway.
func (p *AnthropicProvider) Complete(ctx context.Context, creq domain.CompletionRequest) (*domain.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body := anthropicRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System:    creq.System,
		Messages:  make([]anthropicMessage, 0, len(creq.Messages)),
	}
	for _, m := range creq.Messages {
		body.Messages = append(body.Messages, anthropicMessage{Role: m.Role, Content: m.ContentBlocks})
	}
	if len(creq.Tools) > 0 {
		body.Tools = creq.Tools
		body.ToolChoice = &anthropicToolChoice{Type: "auto"}
	}

	raw, err := p.marshalFunc(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", p.version)
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("anthropic api: %w", &APIError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(msg))})
	}
	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("anthropic decode: %w", err)
	}
	return out.completion(), nil
}

func (r anthropicResponse) completion() *domain.Completion {
	c := &domain.Completion{StopReason: domain.StopReason(r.StopReason)}
	for _, b := range r.Content {
		switch b.Type {
		case "text":
			c.Content = append(c.Content, domain.TextBlock{Text: b.Text})
		case "tool_use":
			c.Content = append(c.Content, domain.ToolUseBlock{ToolUseID: b.ID, Name: b.Name, Input: b.Input})
		}
	}
	return c
}

var _ domain.ModelGateway = (*AnthropicProvider)(nil)
