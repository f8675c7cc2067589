package tooling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"coursebot/internal/domain"
)

// ErrToolNotFound is returned by Get for unknown tool names.
var ErrToolNotFound = errors.New("tool not found")

// RegistryOption is a functional option for configuring ToolRegistry.
type RegistryOption func(*ToolRegistry)

// WithRegistryLogger sets the logger used to report tool replacement and
// dispatch. If l is nil it is ignored.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *ToolRegistry) {
		if l != nil {
			r.logger = l
		}
	}
}

type registeredTool struct {
	tool       Tool
	definition string
	schema     *jsonschema.Schema
}

// ToolRegistry holds tools keyed by name in registration order. The brain
// uses it to enumerate tool definitions for the model and dispatch calls, and
// the query facade uses it to harvest and clear citations.
type ToolRegistry struct {
	mu     sync.RWMutex
	order  []string
	tools  map[string]registeredTool
	logger *slog.Logger
}

// NewToolRegistry returns an empty, ready-to-use registry.
func NewToolRegistry(opts ...RegistryOption) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]registeredTool)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *ToolRegistry) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}

// Register adds a tool under its declared name. A tool with the same name
// replaces the earlier one and keeps its position in registration order.
// Returns an error if the tool is nil or its schema does not compile.
func (r *ToolRegistry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool must not be nil")
	}
	name := tool.Name()
	definition := tool.Definition()
	schema, err := CompileSchema(definition)
	if err != nil {
		return fmt.Errorf("tool %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		r.log().Warn("replacing registered tool", "tool", name)
	} else {
		r.order = append(r.order, name)
	}
	r.tools[name] = registeredTool{tool: tool, definition: definition, schema: schema}
	return nil
}

// Get returns the tool with the given name or ErrToolNotFound.
func (r *ToolRegistry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return rt.tool, nil
}

// List returns all registered tools in registration order.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].tool)
	}
	return out
}

// Specifications returns a snapshot of domain.ToolDefinition for every
// registered tool in registration order, ready for the model's tools array.
// Schemas are the ones captured at Register.
func (r *ToolRegistry) Specifications() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		rt := r.tools[name]
		out = append(out, domain.ToolDefinition{
			Name:        name,
			Description: rt.tool.Description(),
			InputSchema: json.RawMessage(rt.definition),
		})
	}
	return out
}

// ToolNotFoundMessage is the text returned by Dispatch for an unknown tool, so
// the model can correct itself.
func ToolNotFoundMessage(name string) string {
	return fmt.Sprintf("Tool '%s' not found", name)
}

// Dispatch looks up the tool by name, validates args against its schema and
// returns the tool's text output unchanged. Top-level null members are treated
// as omitted. An unknown name is not a fault: the not-found message is
// returned as ordinary text with a nil error. Invalid arguments and tool
// errors are returned as errors.
func (r *ToolRegistry) Dispatch(ctx context.Context, name string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		r.log().Debug("dispatch to unknown tool", "tool", name)
		return ToolNotFoundMessage(name), nil
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	args = dropNullMembers(args)
	if err := validateCompiled(args, rt.schema); err != nil {
		return "", fmt.Errorf("schema validation failed for tool %q: %w", name, err)
	}
	r.log().Debug("dispatching tool", "tool", name)
	return rt.tool.Execute(ctx, args)
}

// LatestCitations concatenates, in registration order, the current citation
// set of every registered tool that records citations.
func (r *ToolRegistry) LatestCitations() []domain.Citation {
	var out []domain.Citation
	for _, t := range r.List() {
		if cs, ok := t.(CitationSource); ok {
			out = append(out, cs.LastCitations()...)
		}
	}
	return out
}

// ClearCitations resets every citation source. Call it once per completed
// query so stale citations never leak into the next one.
func (r *ToolRegistry) ClearCitations() {
	for _, t := range r.List() {
		if cs, ok := t.(CitationSource); ok {
			cs.ResetCitations()
		}
	}
}

// dropNullMembers removes top-level members whose value is null, so an
// explicit null for an optional parameter validates like an absent one.
// Anything that is not a JSON object is returned unchanged.
func dropNullMembers(args json.RawMessage) json.RawMessage {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(args, &members); err != nil || members == nil {
		return args
	}
	dropped := false
	for k, v := range members {
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			delete(members, k)
			dropped = true
		}
	}
	if !dropped {
		return args
	}
	out, err := json.Marshal(members)
	if err != nil {
		return args
	}
	return out
}
