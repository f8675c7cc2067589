package tooling

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"coursebot/internal/domain"
)

// =============================================================================
// fakeBackend is a scripted RetrievalBackend for tool tests.
// =============================================================================

type fakeBackend struct {
	mu          sync.Mutex
	results     domain.SearchResults
	queries     []domain.SearchQuery
	outlines    map[string]*domain.CourseOutline
	outlineErr  error
	lessonLinks map[string]string
	courseLinks map[string]string
	linkErr     error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		outlines:    make(map[string]*domain.CourseOutline),
		lessonLinks: make(map[string]string),
		courseLinks: make(map[string]string),
	}
}

func (f *fakeBackend) Search(_ context.Context, q domain.SearchQuery) domain.SearchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.results
}

func (f *fakeBackend) CourseOutline(_ context.Context, name string) (*domain.CourseOutline, error) {
	if f.outlineErr != nil {
		return nil, f.outlineErr
	}
	o, ok := f.outlines[name]
	if !ok {
		return nil, domain.ErrCourseNotFound
	}
	return o, nil
}

func (f *fakeBackend) LessonLink(_ context.Context, title string, n int) (string, error) {
	if f.linkErr != nil {
		return "", f.linkErr
	}
	return f.lessonLinks[lessonKey(title, n)], nil
}

func (f *fakeBackend) CourseLink(_ context.Context, title string) (string, error) {
	if f.linkErr != nil {
		return "", f.linkErr
	}
	return f.courseLinks[title], nil
}

func (f *fakeBackend) lastQuery() domain.SearchQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return domain.SearchQuery{}
	}
	return f.queries[len(f.queries)-1]
}

func lessonKey(title string, n int) string {
	return title + "#" + strconv.Itoa(n)
}

func intPtr(n int) *int { return &n }

var errBackendDown = errors.New("backend down")
