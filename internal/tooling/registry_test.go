package tooling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"coursebot/internal/domain"
)

// =============================================================================
// stubTool is a minimal Tool for registry tests.
// =============================================================================

type stubTool struct {
	name   string
	desc   string
	def    string
	out    string
	err    error
	called int
	args   json.RawMessage
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return s.desc }
func (s *stubTool) Definition() string  { return s.def }
func (s *stubTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	s.called++
	s.args = args
	return s.out, s.err
}

func newStub(name, desc string) *stubTool {
	return &stubTool{
		name: name,
		desc: desc,
		def:  `{"type":"object","properties":{"x":{"type":"number"}},"required":["x"]}`,
		out:  "stub-ok",
	}
}

type citingStub struct {
	*stubTool
	citations []domain.Citation
	resets    int
}

func (c *citingStub) LastCitations() []domain.Citation { return c.citations }
func (c *citingStub) ResetCitations()                  { c.resets++; c.citations = nil }

// =============================================================================
// ToolRegistry Tests
// =============================================================================

func TestNewToolRegistry_ShouldReturnEmptyRegistry(t *testing.T) {
	reg := NewToolRegistry()
	if reg == nil {
		t.Fatal("Expected non-nil registry")
	}
	if len(reg.List()) != 0 {
		t.Errorf("Expected empty tool list, got %d", len(reg.List()))
	}
	if len(reg.Specifications()) != 0 {
		t.Error("Expected no specifications")
	}
}

func TestToolRegistry_Register_ShouldAddTool(t *testing.T) {
	reg := NewToolRegistry()
	if err := reg.Register(newStub("echo", "Echo tool")); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	tool, err := reg.Get("echo")
	if err != nil {
		t.Fatalf("Expected tool, got error %v", err)
	}
	if tool.Name() != "echo" {
		t.Errorf("Expected echo, got %q", tool.Name())
	}
}

func TestToolRegistry_Register_WhenNil_ShouldReturnError(t *testing.T) {
	reg := NewToolRegistry()
	if err := reg.Register(nil); err == nil {
		t.Error("Expected error for nil tool")
	}
}

func TestToolRegistry_Register_WhenSchemaInvalid_ShouldReturnError(t *testing.T) {
	reg := NewToolRegistry()
	bad := newStub("bad", "bad schema")
	bad.def = `{"type": 12}`
	err := reg.Register(bad)
	if err == nil {
		t.Fatal("Expected error for invalid schema")
	}
	if !strings.Contains(err.Error(), `tool "bad"`) {
		t.Errorf("Expected tool name in error, got %v", err)
	}
	if _, err := reg.Get("bad"); !errors.Is(err, ErrToolNotFound) {
		t.Error("Expected invalid tool to stay unregistered")
	}
}

func TestToolRegistry_Register_WhenDuplicate_ShouldReplaceAndKeepPosition(t *testing.T) {
	var buf bytes.Buffer
	reg := NewToolRegistry(WithRegistryLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	first := newStub("a", "first a")
	_ = reg.Register(first)
	_ = reg.Register(newStub("b", "b"))
	replacement := newStub("a", "second a")
	_ = reg.Register(replacement)

	tools := reg.List()
	if len(tools) != 2 {
		t.Fatalf("Expected 2 tools, got %d", len(tools))
	}
	if tools[0].Description() != "second a" {
		t.Errorf("Expected replacement in first slot, got %q", tools[0].Description())
	}
	if !strings.Contains(buf.String(), "replacing registered tool") {
		t.Errorf("Expected warning log, got %q", buf.String())
	}
}

func TestToolRegistry_Get_WhenMissing_ShouldReturnErrToolNotFound(t *testing.T) {
	reg := NewToolRegistry()
	_, err := reg.Get("nope")
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("Expected ErrToolNotFound, got %v", err)
	}
}

func TestToolRegistry_Specifications_ShouldFollowRegistrationOrder(t *testing.T) {
	reg := NewToolRegistry()
	_ = reg.Register(newStub("zeta", "z"))
	_ = reg.Register(newStub("alpha", "a"))

	specs := reg.Specifications()
	if len(specs) != 2 || specs[0].Name != "zeta" || specs[1].Name != "alpha" {
		t.Fatalf("Unexpected specifications order: %+v", specs)
	}
	if specs[0].Description != "z" {
		t.Errorf("Expected description z, got %q", specs[0].Description)
	}
	if !json.Valid(specs[0].InputSchema) {
		t.Error("Expected input schema to be valid JSON")
	}
}

func TestToolRegistry_Specifications_ShouldMarshalAsInputSchema(t *testing.T) {
	reg := NewToolRegistry()
	_ = reg.Register(newStub("echo", "Echo"))

	data, err := json.Marshal(reg.Specifications())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"input_schema":{"type":"object"`) {
		t.Errorf("Expected input_schema key, got %s", data)
	}
}

func TestToolRegistry_Dispatch_ShouldExecuteToolWithArgs(t *testing.T) {
	reg := NewToolRegistry()
	stub := newStub("echo", "Echo")
	_ = reg.Register(stub)

	out, err := reg.Dispatch(context.Background(), "echo", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if out != "stub-ok" || stub.called != 1 {
		t.Errorf("Expected one call returning stub-ok, got %q after %d calls", out, stub.called)
	}
	if string(stub.args) != `{"x":1}` {
		t.Errorf("Expected args passed through, got %s", stub.args)
	}
}

func TestToolRegistry_Dispatch_WhenUnknown_ShouldReturnNotFoundText(t *testing.T) {
	reg := NewToolRegistry()
	out, err := reg.Dispatch(context.Background(), "missing_tool", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Expected nil error for unknown tool, got %v", err)
	}
	if !strings.Contains(out, "not found") || !strings.Contains(out, "missing_tool") {
		t.Errorf("Unexpected message %q", out)
	}
}

func TestToolRegistry_Dispatch_WhenArgsInvalid_ShouldNotExecute(t *testing.T) {
	reg := NewToolRegistry()
	stub := newStub("echo", "Echo")
	_ = reg.Register(stub)

	_, err := reg.Dispatch(context.Background(), "echo", json.RawMessage(`{"x":"not a number"}`))
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if !strings.Contains(err.Error(), "schema validation failed") {
		t.Errorf("Unexpected error %v", err)
	}
	if stub.called != 0 {
		t.Error("Expected tool not to run on invalid args")
	}
}

func TestToolRegistry_Dispatch_WhenArgsEmpty_ShouldValidateEmptyObject(t *testing.T) {
	reg := NewToolRegistry()
	stub := newStub("free", "no required fields")
	stub.def = `{"type":"object"}`
	_ = reg.Register(stub)

	if _, err := reg.Dispatch(context.Background(), "free", nil); err != nil {
		t.Fatalf("Expected empty args to validate as {}, got %v", err)
	}
	if string(stub.args) != `{}` {
		t.Errorf("Expected {} args, got %s", stub.args)
	}
}

func TestToolRegistry_Specifications_ShouldUseDefinitionCapturedAtRegister(t *testing.T) {
	reg := NewToolRegistry()
	stub := newStub("echo", "Echo")
	_ = reg.Register(stub)
	stub.def = `not json`

	specs := reg.Specifications()
	if len(specs) != 1 || !json.Valid(specs[0].InputSchema) {
		t.Errorf("Expected the registered schema, got %+v", specs)
	}
}

func TestToolRegistry_Dispatch_WhenOptionalArgsNull_ShouldTreatThemAsOmitted(t *testing.T) {
	backend := newFakeBackend()
	backend.results = domain.SearchResults{Passages: []domain.Passage{{CourseTitle: "MCP", Text: "servers and clients"}}}
	reg := NewToolRegistry()
	if err := reg.Register(NewCourseSearchTool(backend, nil)); err != nil {
		t.Fatalf("register search: %v", err)
	}

	out, err := reg.Dispatch(context.Background(), SearchToolName,
		json.RawMessage(`{"query":"MCP","course_name":null,"lesson_number":null}`))
	if err != nil {
		t.Fatalf("Expected null optionals to validate, got %v", err)
	}
	if !strings.Contains(out, "servers and clients") {
		t.Errorf("Expected search output, got %q", out)
	}
	if len(backend.queries) != 1 {
		t.Fatalf("Expected one backend search, got %d", len(backend.queries))
	}
	q := backend.queries[0]
	if q.Query != "MCP" || q.CourseName != "" || q.LessonNumber != nil {
		t.Errorf("Expected unfiltered query, got %+v", q)
	}
}

func TestToolRegistry_Dispatch_WhenRequiredArgNull_ShouldFailValidation(t *testing.T) {
	reg := NewToolRegistry()
	stub := newStub("echo", "Echo")
	_ = reg.Register(stub)

	if _, err := reg.Dispatch(context.Background(), "echo", json.RawMessage(`{"x":null}`)); err == nil {
		t.Error("Expected a null required field to fail validation")
	}
	if stub.called != 0 {
		t.Error("Expected tool not to run")
	}
}

func TestDropNullMembers(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no nulls unchanged", `{"a": 1}`, `{"a": 1}`},
		{"drops null", `{"a":1,"b":null}`, `{"a":1}`},
		{"nested null kept", `{"a":{"b":null}}`, `{"a":{"b":null}}`},
		{"not an object", `[null]`, `[null]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(dropNullMembers(json.RawMessage(tt.in))); got != tt.want {
				t.Errorf("dropNullMembers(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestToolRegistry_Dispatch_WhenToolFails_ShouldReturnError(t *testing.T) {
	reg := NewToolRegistry()
	stub := newStub("boom", "fails")
	stub.err = errors.New("kaboom")
	_ = reg.Register(stub)

	_, err := reg.Dispatch(context.Background(), "boom", json.RawMessage(`{"x":1}`))
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("Expected tool error, got %v", err)
	}
}

func TestToolRegistry_LatestCitations_ShouldConcatenateInOrder(t *testing.T) {
	reg := NewToolRegistry()
	c1 := &citingStub{stubTool: newStub("one", "1"), citations: []domain.Citation{{Text: "A"}}}
	c2 := &citingStub{stubTool: newStub("two", "2"), citations: []domain.Citation{{Text: "B"}, {Text: "C"}}}
	_ = reg.Register(c1)
	_ = reg.Register(newStub("plain", "no citations"))
	_ = reg.Register(c2)

	got := reg.LatestCitations()
	if len(got) != 3 || got[0].Text != "A" || got[1].Text != "B" || got[2].Text != "C" {
		t.Errorf("Unexpected citations %+v", got)
	}
}

func TestToolRegistry_ClearCitations_ShouldResetEverySource(t *testing.T) {
	reg := NewToolRegistry()
	c1 := &citingStub{stubTool: newStub("one", "1"), citations: []domain.Citation{{Text: "A"}}}
	c2 := &citingStub{stubTool: newStub("two", "2"), citations: []domain.Citation{{Text: "B"}}}
	_ = reg.Register(c1)
	_ = reg.Register(c2)

	reg.ClearCitations()

	if c1.resets != 1 || c2.resets != 1 {
		t.Errorf("Expected one reset each, got %d and %d", c1.resets, c2.resets)
	}
	if len(reg.LatestCitations()) != 0 {
		t.Error("Expected no citations after clear")
	}
}

func TestToolRegistry_WithCourseTools_ShouldExposeBothSpecifications(t *testing.T) {
	backend := newFakeBackend()
	reg := NewToolRegistry()
	if err := reg.Register(NewCourseSearchTool(backend, nil)); err != nil {
		t.Fatalf("register search: %v", err)
	}
	if err := reg.Register(NewCourseOutlineTool(backend)); err != nil {
		t.Fatalf("register outline: %v", err)
	}

	specs := reg.Specifications()
	if len(specs) != 2 || specs[0].Name != SearchToolName || specs[1].Name != OutlineToolName {
		t.Fatalf("Unexpected specifications: %+v", specs)
	}

	_, err := reg.Dispatch(context.Background(), SearchToolName, json.RawMessage(`{"course_name":"MCP"}`))
	if err == nil {
		t.Error("Expected missing query to fail validation")
	}
	_, err = reg.Dispatch(context.Background(), SearchToolName, json.RawMessage(`{"query":"x","lesson_number":"two"}`))
	if err == nil {
		t.Error("Expected non-integer lesson_number to fail validation")
	}
}
