package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"coursebot/internal/domain"
)

// DefaultMaxResults is the number of passages returned by Search when no
// limit is configured.
const DefaultMaxResults = 5

// Option is a functional option for configuring CourseStore.
type Option func(*CourseStore)

// WithEmbedder enables vector ranking. Without one, Search is keyword-only and
// course names resolve by text match alone.
func WithEmbedder(e domain.Embedder) Option {
	return func(s *CourseStore) {
		if e != nil {
			s.embedder = e
		}
	}
}

// WithMaxResults caps the passages returned per search. Values below 1 are ignored.
func WithMaxResults(n int) Option {
	return func(s *CourseStore) {
		if n > 0 {
			s.maxResults = n
		}
	}
}

// WithLogger sets the logger. If l is nil it is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(s *CourseStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// CourseStore keeps course metadata, lessons and passage chunks in SQLite and
// serves them as a domain.RetrievalBackend. Passages are ranked by fusing
// cosine similarity over stored embeddings with FTS5 keyword rank.
type CourseStore struct {
	db         *sql.DB
	embedder   domain.Embedder // optional
	maxResults int
	logger     *slog.Logger
}

// NewCourseStore creates a store and initializes the schema.
// Returns an error if the db is nil or if the migration fails.
func NewCourseStore(db *sql.DB, opts ...Option) (*CourseStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db must not be nil")
	}
	s := &CourseStore{db: db, maxResults: DefaultMaxResults, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("vectorstore migrate: %w", err)
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS courses (
		title      TEXT PRIMARY KEY,
		link       TEXT NOT NULL DEFAULT '',
		instructor TEXT NOT NULL DEFAULT '',
		embedding  BLOB
	)`,
	`CREATE TABLE IF NOT EXISTS lessons (
		course_title TEXT NOT NULL REFERENCES courses(title) ON DELETE CASCADE,
		number       INTEGER NOT NULL,
		title        TEXT NOT NULL,
		link         TEXT NOT NULL DEFAULT '',
		position     INTEGER NOT NULL,
		PRIMARY KEY (course_title, number)
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		course_title  TEXT NOT NULL REFERENCES courses(title) ON DELETE CASCADE,
		lesson_number INTEGER,
		content       TEXT NOT NULL,
		embedding     BLOB
	)`,
	`CREATE INDEX IF NOT EXISTS chunks_course_lesson ON chunks(course_title, lesson_number)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(content)`,
}

func (s *CourseStore) migrate() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Writes
// =============================================================================

// PassageInput is one pre-segmented passage of a course.
type PassageInput struct {
	LessonNumber *int
	Text         string
}

// AddCourse inserts or replaces a course and its lessons. Lesson order is kept
// as given. Existing passages of the course are left untouched.
func (s *CourseStore) AddCourse(ctx context.Context, c domain.CourseOutline) error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("course title must not be empty")
	}
	var blob []byte
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, c.Title)
		if err != nil {
			return fmt.Errorf("embed course title: %w", err)
		}
		blob = EncodeEmbedding(vec)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO courses (title, link, instructor, embedding) VALUES (?, ?, ?, ?)
		ON CONFLICT(title) DO UPDATE SET link = excluded.link, instructor = excluded.instructor, embedding = excluded.embedding
	`, c.Title, c.Link, c.Instructor, blob); err != nil {
		return fmt.Errorf("insert course: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM lessons WHERE course_title = ?", c.Title); err != nil {
		return fmt.Errorf("clear lessons: %w", err)
	}
	for i, l := range c.Lessons {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO lessons (course_title, number, title, link, position) VALUES (?, ?, ?, ?, ?)",
			c.Title, l.Number, l.Title, l.Link, i,
		); err != nil {
			return fmt.Errorf("insert lesson %d: %w", l.Number, err)
		}
	}
	return tx.Commit()
}

// AddPassages stores passages of an existing course and indexes them for
// keyword search.
func (s *CourseStore) AddPassages(ctx context.Context, courseTitle string, passages []PassageInput) error {
	if ok, err := s.HasCourse(ctx, courseTitle); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %q", domain.ErrCourseNotFound, courseTitle)
	}

	blobs := make([][]byte, len(passages))
	for i, p := range passages {
		if strings.TrimSpace(p.Text) == "" {
			return fmt.Errorf("passage %d: content must not be empty", i)
		}
		if s.embedder != nil {
			vec, err := s.embedder.Embed(ctx, p.Text)
			if err != nil {
				return fmt.Errorf("embed passage %d: %w", i, err)
			}
			blobs[i] = EncodeEmbedding(vec)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, p := range passages {
		var lesson sql.NullInt64
		if p.LessonNumber != nil {
			lesson = sql.NullInt64{Int64: int64(*p.LessonNumber), Valid: true}
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO chunks (course_title, lesson_number, content, embedding) VALUES (?, ?, ?, ?)",
			courseTitle, lesson, p.Text, blobs[i],
		)
		if err != nil {
			return fmt.Errorf("insert passage %d: %w", i, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get last insert id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO chunks_fts(rowid, content) VALUES (?, ?)", id, p.Text); err != nil {
			return fmt.Errorf("index passage %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// RemoveCourse deletes a course with its lessons and passages. Removing an
// unknown course is not an error.
func (s *CourseStore) RemoveCourse(ctx context.Context, title string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		"DELETE FROM chunks_fts WHERE rowid IN (SELECT id FROM chunks WHERE course_title = ?)",
		"DELETE FROM chunks WHERE course_title = ?",
		"DELETE FROM lessons WHERE course_title = ?",
		"DELETE FROM courses WHERE title = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, title); err != nil {
			return fmt.Errorf("remove course: %w", err)
		}
	}
	return tx.Commit()
}

// Clear removes every course, lesson and passage.
func (s *CourseStore) Clear(ctx context.Context) error {
	for _, stmt := range []string{"DELETE FROM chunks_fts", "DELETE FROM chunks", "DELETE FROM lessons", "DELETE FROM courses"} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}
	return nil
}

// =============================================================================
// Course lookups
// =============================================================================

// HasCourse reports whether a course with exactly this title exists.
func (s *CourseStore) HasCourse(ctx context.Context, title string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM courses WHERE title = ?", title).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// CourseTitles returns every course title in alphabetical order.
func (s *CourseStore) CourseTitles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT title FROM courses ORDER BY title")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

// ResolveCourse maps a possibly partial course name to a stored title: exact
// match ignoring case, then substring, then the closest title embedding.
// Returns domain.ErrCourseNotFound when nothing matches.
func (s *CourseStore) ResolveCourse(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domain.ErrCourseNotFound
	}

	var title string
	err := s.db.QueryRowContext(ctx, "SELECT title FROM courses WHERE title = ? COLLATE NOCASE", name).Scan(&title)
	if err == nil {
		return title, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT title FROM courses WHERE instr(lower(title), lower(?)) > 0 ORDER BY length(title), title LIMIT 1", name,
	).Scan(&title)
	if err == nil {
		return title, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	if s.embedder == nil {
		return "", domain.ErrCourseNotFound
	}
	return s.closestCourse(ctx, name)
}

func (s *CourseStore) closestCourse(ctx context.Context, name string) (string, error) {
	vec, err := s.embedder.Embed(ctx, name)
	if err != nil {
		return "", fmt.Errorf("embed course name: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, "SELECT title, embedding FROM courses WHERE embedding IS NOT NULL")
	if err != nil {
		return "", err
	}
	defer rows.Close()

	best, bestScore := "", 0.0
	for rows.Next() {
		var title string
		var blob []byte
		if err := rows.Scan(&title, &blob); err != nil {
			return "", err
		}
		if score := CosineSimilarity(vec, DecodeEmbedding(blob)); score > bestScore {
			best, bestScore = title, score
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if best == "" {
		return "", domain.ErrCourseNotFound
	}
	return best, nil
}

// CourseOutline implements domain.RetrievalBackend.
func (s *CourseStore) CourseOutline(ctx context.Context, courseName string) (*domain.CourseOutline, error) {
	title, err := s.ResolveCourse(ctx, courseName)
	if err != nil {
		return nil, err
	}
	out := &domain.CourseOutline{Title: title}
	if err := s.db.QueryRowContext(ctx, "SELECT link, instructor FROM courses WHERE title = ?", title).
		Scan(&out.Link, &out.Instructor); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT number, title, link FROM lessons WHERE course_title = ? ORDER BY position", title)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l domain.Lesson
		if err := rows.Scan(&l.Number, &l.Title, &l.Link); err != nil {
			return nil, err
		}
		out.Lessons = append(out.Lessons, l)
	}
	return out, rows.Err()
}

// LessonLink implements domain.RetrievalBackend.
func (s *CourseStore) LessonLink(ctx context.Context, courseTitle string, lessonNumber int) (string, error) {
	var link string
	err := s.db.QueryRowContext(ctx,
		"SELECT link FROM lessons WHERE course_title = ? AND number = ?", courseTitle, lessonNumber,
	).Scan(&link)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return link, err
}

// CourseLink implements domain.RetrievalBackend.
func (s *CourseStore) CourseLink(ctx context.Context, courseTitle string) (string, error) {
	var link string
	err := s.db.QueryRowContext(ctx, "SELECT link FROM courses WHERE title = ?", courseTitle).Scan(&link)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return link, err
}

var _ domain.RetrievalBackend = (*CourseStore)(nil)
