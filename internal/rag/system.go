// Package rag answers course questions: it composes session history, runs the
// tool-augmented generator and returns the answer with its sources.
package rag

import (
	"context"
	"fmt"
	"log/slog"

	"coursebot/internal/brain"
	"coursebot/internal/domain"
	"coursebot/internal/injection"
	"coursebot/internal/queue"
	"coursebot/internal/session"
	"coursebot/internal/tooling"
)

// queryLane serializes queries so citations of one query never leak into another.
const queryLane = "rag"

// QueryPrefix is prepended to the user's question before generation.
const QueryPrefix = "Answer this question about course materials: "

// Generator produces an answer for one request.
type Generator interface {
	Generate(ctx context.Context, req brain.Request) (string, error)
}

// Catalog lists the loaded courses.
type Catalog interface {
	CourseTitles(ctx context.Context) ([]string, error)
}

// Answer is the result of one query.
type Answer struct {
	Text      string
	Sources   []domain.Citation
	SessionID string
}

// CourseAnalytics summarizes the course catalog.
type CourseAnalytics struct {
	TotalCourses int      `json:"total_courses"`
	CourseTitles []string `json:"course_titles"`
}

// Option configures a System.
type Option func(*System)

// WithLogger sets the logger. If l is nil it is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(s *System) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLanes shares a lane queue with other components.
func WithLanes(q *queue.LaneQueue) Option {
	return func(s *System) {
		if q != nil {
			s.lanes = q
		}
	}
}

// System is the query facade.
type System struct {
	generator Generator
	tools     *tooling.ToolRegistry
	sessions  *session.Manager
	catalog   Catalog
	lanes     *queue.LaneQueue
	logger    *slog.Logger
}

// New wires a System. It panics if any collaborator is nil.
func New(generator Generator, tools *tooling.ToolRegistry, sessions *session.Manager, catalog Catalog, opts ...Option) *System {
	if generator == nil || tools == nil || sessions == nil || catalog == nil {
		panic("rag: generator, tools, sessions and catalog must not be nil")
	}
	s := &System{
		generator: generator,
		tools:     tools,
		sessions:  sessions,
		catalog:   catalog,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.lanes == nil {
		s.lanes = queue.NewLaneQueue()
	}
	return s
}

// Sessions exposes the session manager.
func (s *System) Sessions() *session.Manager { return s.sessions }

// Query answers query within sessionID, creating a session when sessionID is
// empty. Citations gathered by the tools are returned and cleared; the
// exchange is recorded only when generation succeeds.
func (s *System) Query(ctx context.Context, query, sessionID string) (*Answer, error) {
	if sessionID == "" {
		sessionID = s.sessions.CreateSession()
	}
	injection.Check(s.logger, "session "+sessionID, query)

	var ans *Answer
	err := s.lanes.Do(ctx, queryLane, func(ctx context.Context) error {
		defer s.tools.ClearCitations()

		text, err := s.generator.Generate(ctx, brain.Request{
			Query:    QueryPrefix + query,
			History:  s.sessions.History(sessionID),
			Tools:    s.tools.Specifications(),
			Executor: s.tools,
		})
		if err != nil {
			return err
		}
		ans = &Answer{Text: text, Sources: s.tools.LatestCitations(), SessionID: sessionID}
		return nil
	})
	if err != nil {
		s.logger.Error("query failed", "session", sessionID, "error", err)
		return nil, fmt.Errorf("rag: query: %w", err)
	}

	s.sessions.AddExchange(sessionID, query, ans.Text)
	s.logger.Info("query answered", "session", sessionID, "sources", len(ans.Sources))
	return ans, nil
}

// CourseAnalytics reports how many courses are loaded and their titles.
func (s *System) CourseAnalytics(ctx context.Context) (*CourseAnalytics, error) {
	titles, err := s.catalog.CourseTitles(ctx)
	if err != nil {
		return nil, fmt.Errorf("rag: course analytics: %w", err)
	}
	if titles == nil {
		titles = []string{}
	}
	return &CourseAnalytics{TotalCourses: len(titles), CourseTitles: titles}, nil
}
