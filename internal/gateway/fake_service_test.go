package gateway

import (
	"context"
	"sync"

	"coursebot/internal/domain"
	"coursebot/internal/rag"
)

// fakeService is a scripted QueryService.
type fakeService struct {
	mu        sync.Mutex
	answer    string
	sources   []domain.Citation
	err       error
	analytics *rag.CourseAnalytics
	courseErr error
	queries   []string
	sessions  []string
}

func (f *fakeService) Query(_ context.Context, query, sessionID string) (*rag.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.sessions = append(f.sessions, sessionID)
	if f.err != nil {
		return nil, f.err
	}
	if sessionID == "" {
		sessionID = "session_123"
	}
	return &rag.Answer{Text: f.answer, Sources: f.sources, SessionID: sessionID}, nil
}

func (f *fakeService) CourseAnalytics(context.Context) (*rag.CourseAnalytics, error) {
	if f.courseErr != nil {
		return nil, f.courseErr
	}
	if f.analytics != nil {
		return f.analytics, nil
	}
	return &rag.CourseAnalytics{CourseTitles: []string{}}, nil
}

func (f *fakeService) received() (queries, sessions []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...), append([]string(nil), f.sessions...)
}
