package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"coursebot/internal/domain"
)

// SearchToolName is the function-calling name of CourseSearchTool.
const SearchToolName = "search_course_content"

// SearchInput is the input of search_course_content.
type SearchInput struct {
	Query        string `json:"query" jsonschema_description:"What to search for in the course content"`
	CourseName   string `json:"course_name,omitempty" jsonschema_description:"Course title (partial matches work, e.g. 'MCP', 'Introduction')"`
	LessonNumber *int   `json:"lesson_number,omitempty" jsonschema_description:"Specific lesson number to search within (e.g. 1, 2, 3)"`
}

// CourseSearchTool searches course passages through the retrieval backend and
// records one citation per returned passage. Filtering and ranking are left
// entirely to the backend.
type CourseSearchTool struct {
	backend domain.RetrievalBackend
	logger  *slog.Logger

	mu        sync.Mutex
	citations []domain.Citation
}

// NewCourseSearchTool returns a search tool over backend. Panics if backend is nil.
func NewCourseSearchTool(backend domain.RetrievalBackend, logger *slog.Logger) *CourseSearchTool {
	if backend == nil {
		panic("tooling: search backend must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CourseSearchTool{backend: backend, logger: logger}
}

func (t *CourseSearchTool) Name() string { return SearchToolName }

func (t *CourseSearchTool) Description() string {
	return "Search course materials with smart course name matching and lesson filtering"
}

func (t *CourseSearchTool) Definition() string {
	return GenerateSchema(SearchInput{})
}

// Execute decodes the arguments and runs Search.
func (t *CourseSearchTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in SearchInput
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("failed to parse input: %w", err)
	}
	return t.Search(ctx, in), nil
}

// Search queries the backend and renders the passages as model-readable text.
// Every call replaces the citation set, so an empty or failed search leaves no
// citations behind.
func (t *CourseSearchTool) Search(ctx context.Context, in SearchInput) string {
	results := t.backend.Search(ctx, domain.SearchQuery{
		Query:        in.Query,
		CourseName:   in.CourseName,
		LessonNumber: in.LessonNumber,
	})

	if results.Error != "" {
		t.setCitations(nil)
		return results.Error
	}
	if results.IsEmpty() {
		t.setCitations(nil)
		return noContentMessage(in)
	}

	text, citations := t.format(ctx, results.Passages)
	t.setCitations(citations)
	return text
}

func noContentMessage(in SearchInput) string {
	var sb strings.Builder
	sb.WriteString("No relevant content found")
	if in.CourseName != "" {
		fmt.Fprintf(&sb, " in course '%s'", in.CourseName)
	}
	if in.LessonNumber != nil {
		fmt.Fprintf(&sb, " in lesson %d", *in.LessonNumber)
	}
	sb.WriteString(".")
	return sb.String()
}

// PassageHeader returns "<course title> - Lesson <n>", or just the course
// title when the passage has no lesson number.
func PassageHeader(p domain.Passage) string {
	if p.LessonNumber == nil {
		return p.CourseTitle
	}
	return fmt.Sprintf("%s - Lesson %d", p.CourseTitle, *p.LessonNumber)
}

func (t *CourseSearchTool) format(ctx context.Context, passages []domain.Passage) (string, []domain.Citation) {
	parts := make([]string, 0, len(passages))
	citations := make([]domain.Citation, 0, len(passages))
	for _, p := range passages {
		header := PassageHeader(p)
		parts = append(parts, fmt.Sprintf("[%s]\n%s", header, p.Text))
		citations = append(citations, domain.Citation{Text: header, Link: t.resolveLink(ctx, p)})
	}
	return strings.Join(parts, "\n\n"), citations
}

// resolveLink prefers the lesson link, then the course link. Lookup errors
// only cost the link.
func (t *CourseSearchTool) resolveLink(ctx context.Context, p domain.Passage) string {
	if p.LessonNumber != nil {
		link, err := t.backend.LessonLink(ctx, p.CourseTitle, *p.LessonNumber)
		if err != nil {
			t.logger.Debug("lesson link lookup failed", "course", p.CourseTitle, "lesson", *p.LessonNumber, "error", err)
		}
		if link != "" {
			return link
		}
	}
	link, err := t.backend.CourseLink(ctx, p.CourseTitle)
	if err != nil {
		t.logger.Debug("course link lookup failed", "course", p.CourseTitle, "error", err)
	}
	return link
}

func (t *CourseSearchTool) setCitations(c []domain.Citation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.citations = c
}

// LastCitations returns a copy of the citations of the latest search.
func (t *CourseSearchTool) LastCitations() []domain.Citation {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.citations) == 0 {
		return nil
	}
	out := make([]domain.Citation, len(t.citations))
	copy(out, t.citations)
	return out
}

func (t *CourseSearchTool) ResetCitations() { t.setCitations(nil) }

var (
	_ Tool           = (*CourseSearchTool)(nil)
	_ CitationSource = (*CourseSearchTool)(nil)
)
