package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"coursebot/internal/domain"
	"coursebot/internal/injection"
	"coursebot/internal/vectorstore"
)

// Store is the part of the course store the loader writes to.
type Store interface {
	HasCourse(ctx context.Context, title string) (bool, error)
	AddCourse(ctx context.Context, c domain.CourseOutline) error
	AddPassages(ctx context.Context, courseTitle string, passages []vectorstore.PassageInput) error
	RemoveCourse(ctx context.Context, title string) error
}

// Stats summarizes one load.
type Stats struct {
	Courses  int
	Passages int
	Skipped  int
	Failed   int
}

// Loader loads course files into a Store.
type Loader struct {
	store   Store
	logger  *slog.Logger
	replace bool
}

// NewLoader returns a loader. With replace false, courses already in the
// store are skipped; with replace true they are removed and loaded again.
func NewLoader(store Store, replace bool, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: store, logger: logger, replace: replace}
}

// LoadDir loads every .yaml and .yml file in dir in name order. A file that
// fails to parse or store is logged and counted; the rest still load.
func (l *Loader) LoadDir(ctx context.Context, dir string) (Stats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Stats{}, fmt.Errorf("read course dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	var total Stats
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		st, err := l.LoadFile(ctx, path)
		if err != nil {
			l.logger.Warn("failed to load course file", "file", path, "error", err)
			total.Failed++
			continue
		}
		total.Courses += st.Courses
		total.Passages += st.Passages
		total.Skipped += st.Skipped
	}
	l.logger.Info("course load finished", "dir", dir,
		"courses", total.Courses, "passages", total.Passages, "skipped", total.Skipped, "failed", total.Failed)
	return total, nil
}

// LoadFile loads one course file.
func (l *Loader) LoadFile(ctx context.Context, path string) (Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Stats{}, err
	}
	c, err := Parse(data)
	if err != nil {
		return Stats{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return l.LoadCourse(ctx, c)
}

// LoadCourse writes one parsed course.
func (l *Loader) LoadCourse(ctx context.Context, c *Course) (Stats, error) {
	if l.replace {
		if err := l.store.RemoveCourse(ctx, c.Title); err != nil {
			return Stats{}, fmt.Errorf("remove course %q: %w", c.Title, err)
		}
	} else {
		exists, err := l.store.HasCourse(ctx, c.Title)
		if err != nil {
			return Stats{}, fmt.Errorf("check course %q: %w", c.Title, err)
		}
		if exists {
			l.logger.Debug("course already loaded, skipping", "course", c.Title)
			return Stats{Skipped: 1}, nil
		}
	}
	if err := l.store.AddCourse(ctx, c.Outline()); err != nil {
		return Stats{}, fmt.Errorf("add course %q: %w", c.Title, err)
	}
	passages := c.PassageInputs()
	for _, p := range passages {
		injection.Check(l.logger, "course "+c.Title, p.Text)
	}
	if len(passages) > 0 {
		if err := l.store.AddPassages(ctx, c.Title, passages); err != nil {
			return Stats{}, fmt.Errorf("add passages of %q: %w", c.Title, err)
		}
	}
	l.logger.Info("loaded course", "course", c.Title, "lessons", len(c.Lessons), "passages", len(passages))
	return Stats{Courses: 1, Passages: len(passages)}, nil
}
