// Package manifest reads pre-segmented course files and loads them into the
// course store.
//
// A course file is YAML:
//
//	title: "MCP: Build Rich-Context AI Apps with Anthropic"
//	link: https://example.com/mcp
//	instructor: Elie Schoppik
//	passages:               # course-level passages, no lesson
//	  - "..."
//	lessons:
//	  - number: 1
//	    title: Why MCP
//	    link: https://example.com/mcp/1
//	    passages:
//	      - "..."
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"coursebot/internal/domain"
	"coursebot/internal/vectorstore"
)

// ErrInvalidManifest wraps every validation failure.
var ErrInvalidManifest = errors.New("invalid course manifest")

// Lesson is one lesson entry of a course file.
type Lesson struct {
	Number   int      `yaml:"number"`
	Title    string   `yaml:"title"`
	Link     string   `yaml:"link,omitempty"`
	Passages []string `yaml:"passages,omitempty"`
}

// Course is the decoded form of a course file.
type Course struct {
	Title      string   `yaml:"title"`
	Link       string   `yaml:"link,omitempty"`
	Instructor string   `yaml:"instructor,omitempty"`
	Passages   []string `yaml:"passages,omitempty"`
	Lessons    []Lesson `yaml:"lessons"`
}

// Parse decodes and validates one course file. Unknown fields are rejected.
func Parse(data []byte) (*Course, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var c Course
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Course) validate() error {
	c.Title = strings.TrimSpace(c.Title)
	if c.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidManifest)
	}
	seen := make(map[int]bool, len(c.Lessons))
	for i, l := range c.Lessons {
		if l.Number < 0 {
			return fmt.Errorf("%w: lesson %d has negative number %d", ErrInvalidManifest, i, l.Number)
		}
		if strings.TrimSpace(l.Title) == "" {
			return fmt.Errorf("%w: lesson %d has no title", ErrInvalidManifest, l.Number)
		}
		if seen[l.Number] {
			return fmt.Errorf("%w: duplicate lesson number %d", ErrInvalidManifest, l.Number)
		}
		seen[l.Number] = true
	}
	return nil
}

// Outline returns the course metadata in lesson order.
func (c *Course) Outline() domain.CourseOutline {
	out := domain.CourseOutline{Title: c.Title, Link: c.Link, Instructor: c.Instructor}
	for _, l := range c.Lessons {
		out.Lessons = append(out.Lessons, domain.Lesson{Number: l.Number, Title: l.Title, Link: l.Link})
	}
	return out
}

// PassageInputs flattens course-level and lesson passages, skipping blanks.
func (c *Course) PassageInputs() []vectorstore.PassageInput {
	var out []vectorstore.PassageInput
	for _, text := range c.Passages {
		if strings.TrimSpace(text) != "" {
			out = append(out, vectorstore.PassageInput{Text: text})
		}
	}
	for _, l := range c.Lessons {
		n := l.Number
		for _, text := range l.Passages {
			if strings.TrimSpace(text) != "" {
				out = append(out, vectorstore.PassageInput{LessonNumber: &n, Text: text})
			}
		}
	}
	return out
}
