package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"coursebot/internal/domain"
)

// DefaultMaxToolRounds is the number of tool rounds allowed per query before
// the forced final call.
const DefaultMaxToolRounds = 2

// ToolExecutor dispatches one tool invocation by name. *tooling.ToolRegistry
// satisfies it.
type ToolExecutor interface {
	Dispatch(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// Option is a functional option for configuring Brain.
type Option func(*Brain)

// WithLogger sets a structured logger for the Brain. If l is nil it is ignored
// and the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(b *Brain) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMaxRounds sets the tool round cap. Values below 1 are ignored.
func WithMaxRounds(n int) Option {
	return func(b *Brain) {
		if n >= 1 {
			b.maxRounds = n
		}
	}
}

// WithParallelTools lets up to n tools of one round run at once. Calls to the
// same tool still run one after another in call order, so a tool that keeps
// per-call state (search citations) ends the round with its last call's state.
// Only use it when the retrieval backend is safe for concurrent calls.
// Values below 2 keep dispatch sequential.
func WithParallelTools(n int) Option {
	return func(b *Brain) {
		if n >= 2 {
			b.parallel = n
		}
	}
}

// WithSystemPrompt replaces DefaultSystemPrompt. An empty prompt is ignored.
func WithSystemPrompt(prompt string) Option {
	return func(b *Brain) {
		if prompt != "" {
			b.systemPrompt = prompt
		}
	}
}

// WithFallbacks adds fallback gateways that are tried in order if the
// primary gateway fails. Nil entries are silently skipped.
func WithFallbacks(gateways ...domain.ModelGateway) Option {
	return func(b *Brain) {
		for _, g := range gateways {
			if g != nil {
				b.fallbacks = append(b.fallbacks, g)
			}
		}
	}
}

// Brain drives the conversation between the language model and the tools.
// Callers are unaware of the underlying gateway (Anthropic, local).
type Brain struct {
	gateway      domain.ModelGateway
	fallbacks    []domain.ModelGateway // optional; tried in order when gateway fails
	logger       *slog.Logger          // optional; nil uses slog.Default()
	systemPrompt string
	maxRounds    int
	parallel     int // 0 means sequential dispatch
}

// NewBrain returns a Brain that uses the given gateway. Gateway must not be nil.
func NewBrain(gateway domain.ModelGateway, opts ...Option) *Brain {
	if gateway == nil {
		panic("brain: gateway must not be nil")
	}
	b := &Brain{
		gateway:      gateway,
		systemPrompt: DefaultSystemPrompt,
		maxRounds:    DefaultMaxToolRounds,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Request is one query to answer.
type Request struct {
	// Query is sent unchanged, even when empty.
	Query string
	// History is flattened prior turns; appended to the system prompt when set.
	History string
	// Tools are offered to the model with automatic tool choice.
	Tools []domain.ToolDefinition
	// Executor runs tool calls. Nil disables tool use even if the model asks.
	Executor ToolExecutor
}

// MaxRounds returns the configured tool round cap.
func (b *Brain) MaxRounds() int { return b.maxRounds }

// log returns the Brain's logger, falling back to the default slog logger.
func (b *Brain) log() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return slog.Default()
}

// Generate answers req.Query, letting the model call tools for at most
// MaxRounds rounds. When the cap is reached one last call is made without
// tools so the model must answer in text. Tool faults are handed back to the
// model as error results; gateway faults are returned.
func (b *Brain) Generate(ctx context.Context, req Request) (string, error) {
	system := b.systemPrompt
	if req.History != "" {
		system += historyHeader + req.History
	}
	messages := []domain.Message{domain.NewTextMessage(domain.RoleUser, req.Query)}

	for round := 0; round < b.maxRounds; round++ {
		reply, err := b.complete(ctx, domain.CompletionRequest{
			System:   system,
			Messages: messages,
			Tools:    req.Tools,
		})
		if err != nil {
			return "", err
		}

		uses := reply.ToolUses()
		if reply.StopReason != domain.StopToolUse || len(uses) == 0 || req.Executor == nil {
			return extractText(reply), nil
		}

		b.log().Debug("executing tool round", "round", round+1, "calls", len(uses))
		results := b.runTools(ctx, req.Executor, uses)

		messages = append(messages,
			domain.Message{Role: domain.RoleAssistant, ContentBlocks: reply.Content},
			domain.Message{Role: domain.RoleUser, ContentBlocks: results},
		)
	}

	b.log().Debug("tool round cap reached, forcing final answer", "rounds", b.maxRounds)
	final, err := b.complete(ctx, domain.CompletionRequest{
		System:   system,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	return extractText(final), nil
}

// runTools dispatches every call of a round and returns one result block per
// call, in call order.
func (b *Brain) runTools(ctx context.Context, exec ToolExecutor, uses []domain.ToolUseBlock) []domain.ContentBlock {
	results := make([]domain.ContentBlock, len(uses))
	if b.parallel < 2 || len(uses) < 2 {
		for i, use := range uses {
			results[i] = b.runTool(ctx, exec, use)
		}
		return results
	}

	// One goroutine per tool name, in order of first appearance.
	var names []string
	byName := make(map[string][]int)
	for i, use := range uses {
		if _, ok := byName[use.Name]; !ok {
			names = append(names, use.Name)
		}
		byName[use.Name] = append(byName[use.Name], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallel)
	for _, name := range names {
		idx := byName[name]
		g.Go(func() error {
			for _, i := range idx {
				results[i] = b.runTool(gctx, exec, uses[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// runTool never fails: errors and panics from the executor become an
// error-flagged result.
func (b *Brain) runTool(ctx context.Context, exec ToolExecutor, use domain.ToolUseBlock) (result domain.ContentBlock) {
	defer func() {
		if r := recover(); r != nil {
			b.log().Error("tool panicked", "tool", use.Name, "panic", r)
			result = errorResult(use.ToolUseID, fmt.Errorf("panic: %v", r))
		}
	}()

	out, err := exec.Dispatch(ctx, use.Name, use.Input)
	if err != nil {
		b.log().Warn("tool execution failed", "tool", use.Name, "error", err)
		return errorResult(use.ToolUseID, err)
	}
	return domain.ToolResultBlock{ToolUseID: use.ToolUseID, Content: out}
}

func errorResult(id string, err error) domain.ToolResultBlock {
	return domain.ToolResultBlock{
		ToolUseID: id,
		Content:   "Error executing tool: " + err.Error(),
		IsError:   true,
	}
}

// extractText concatenates the reply's text blocks, so a reply split across
// several blocks is returned whole.
func extractText(c *domain.Completion) string {
	var sb strings.Builder
	if c != nil {
		for _, block := range c.Content {
			if tb, ok := block.(domain.TextBlock); ok {
				sb.WriteString(tb.Text)
			}
		}
	}
	if sb.Len() == 0 {
		return FallbackAnswer
	}
	return sb.String()
}

// complete tries the primary gateway, then each fallback in order.
// Returns the first successful completion, or an aggregated error if all fail.
func (b *Brain) complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	reply, err := b.gateway.Complete(ctx, req)
	if err == nil {
		return reply, nil
	}

	if len(b.fallbacks) == 0 {
		return nil, fmt.Errorf("brain: model call failed: %w", err)
	}

	errs := []error{err}
	for i, fb := range b.fallbacks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		b.log().Warn("gateway failed, trying fallback",
			"fallback_index", i,
			"error", err,
		)

		reply, fbErr := fb.Complete(ctx, req)
		if fbErr == nil {
			return reply, nil
		}
		errs = append(errs, fbErr)
		err = fbErr
	}

	return nil, fmt.Errorf("brain: all %d gateways failed: %w", len(errs), errors.Join(errs...))
}
