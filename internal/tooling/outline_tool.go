package tooling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"coursebot/internal/domain"
)

// OutlineToolName is the function-calling name of CourseOutlineTool.
const OutlineToolName = "get_course_outline"

// OutlineInput is the input of get_course_outline.
type OutlineInput struct {
	CourseName string `json:"course_name" jsonschema_description:"Course title or partial name (e.g. 'MCP', 'Computer Use')"`
}

// CourseOutlineTool resolves a course name to its title, link, instructor and
// lesson list. Outlines are not passage-level evidence, so it records no citations.
type CourseOutlineTool struct {
	backend domain.RetrievalBackend
}

// NewCourseOutlineTool returns an outline tool over backend. Panics if backend is nil.
func NewCourseOutlineTool(backend domain.RetrievalBackend) *CourseOutlineTool {
	if backend == nil {
		panic("tooling: outline backend must not be nil")
	}
	return &CourseOutlineTool{backend: backend}
}

func (t *CourseOutlineTool) Name() string { return OutlineToolName }

func (t *CourseOutlineTool) Description() string {
	return "Get the complete outline of a course: title, course link, instructor and every lesson with its number and title"
}

func (t *CourseOutlineTool) Definition() string {
	return GenerateSchema(OutlineInput{})
}

func (t *CourseOutlineTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in OutlineInput
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("failed to parse input: %w", err)
	}
	return t.Outline(ctx, in.CourseName)
}

// Outline renders the course outline. An unknown course is reported as text;
// any other backend error is returned.
func (t *CourseOutlineTool) Outline(ctx context.Context, courseName string) (string, error) {
	outline, err := t.backend.CourseOutline(ctx, courseName)
	if errors.Is(err, domain.ErrCourseNotFound) || (err == nil && outline == nil) {
		return fmt.Sprintf("No course found matching '%s'", courseName), nil
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", OutlineToolName, err)
	}
	return FormatOutline(outline), nil
}

// FormatOutline renders lessons in the order given; it does not re-sort.
func FormatOutline(o *domain.CourseOutline) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Course: %s\n", o.Title)
	if o.Link != "" {
		fmt.Fprintf(&sb, "Link: %s\n", o.Link)
	}
	if o.Instructor != "" {
		fmt.Fprintf(&sb, "Instructor: %s\n", o.Instructor)
	}
	fmt.Fprintf(&sb, "Total lessons: %d\n", len(o.Lessons))
	sb.WriteString("\nLessons:\n")
	for _, l := range o.Lessons {
		fmt.Fprintf(&sb, "  Lesson %d: %s\n", l.Number, l.Title)
	}
	return strings.TrimRight(sb.String(), "\n")
}

var _ Tool = (*CourseOutlineTool)(nil)
