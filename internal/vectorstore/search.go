package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"coursebot/internal/domain"
)

// chunkFilter narrows a search to one course and optionally one lesson.
type chunkFilter struct {
	courseTitle string
	lesson      *int
}

func (f chunkFilter) where(alias string) (string, []any) {
	var conds []string
	var args []any
	if f.courseTitle != "" {
		conds = append(conds, alias+".course_title = ?")
		args = append(args, f.courseTitle)
	}
	if f.lesson != nil {
		conds = append(conds, alias+".lesson_number = ?")
		args = append(args, *f.lesson)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(conds, " AND "), args
}

type rankedChunk struct {
	id      int64
	passage domain.Passage
}

// Search implements domain.RetrievalBackend. Failures are reported in the
// Error field: an unknown course filter as "No course found matching '<name>'",
// anything else as "Search error: <msg>".
func (s *CourseStore) Search(ctx context.Context, q domain.SearchQuery) domain.SearchResults {
	filter := chunkFilter{lesson: q.LessonNumber}
	if q.CourseName != "" {
		title, err := s.ResolveCourse(ctx, q.CourseName)
		if errors.Is(err, domain.ErrCourseNotFound) {
			return domain.SearchResults{Error: fmt.Sprintf("No course found matching '%s'", q.CourseName)}
		}
		if err != nil {
			return searchError(err)
		}
		filter.courseTitle = title
	}

	passages, err := s.search(ctx, q.Query, filter)
	if err != nil {
		s.logger.Warn("course search failed", "query", q.Query, "error", err)
		return searchError(err)
	}
	return domain.SearchResults{Passages: passages}
}

func searchError(err error) domain.SearchResults {
	return domain.SearchResults{Error: "Search error: " + err.Error()}
}

// search fuses semantic and keyword rankings with Reciprocal Rank Fusion.
// Either side may be empty: without an embedder only keywords count.
func (s *CourseStore) search(ctx context.Context, query string, f chunkFilter) ([]domain.Passage, error) {
	var semantic []rankedChunk
	if s.embedder != nil && strings.TrimSpace(query) != "" {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		semantic, err = s.semanticSearch(ctx, vec, f, s.maxResults)
		if err != nil {
			return nil, fmt.Errorf("semantic search: %w", err)
		}
	}

	keyword, err := s.keywordSearch(ctx, query, f, s.maxResults)
	if err != nil {
		// FTS5 query syntax errors are not fatal; treat as empty keyword results
		s.logger.Debug("keyword search skipped", "query", query, "error", err)
		keyword = nil
	}

	ranked := mergeAndRank(semantic, keyword, s.maxResults)
	out := make([]domain.Passage, len(ranked))
	for i, r := range ranked {
		out[i] = r.passage
	}
	return out, nil
}

func scanPassage(rows *sql.Rows, extra ...any) (int64, domain.Passage, error) {
	var id int64
	var p domain.Passage
	var lesson sql.NullInt64
	dest := append([]any{&id, &p.CourseTitle, &lesson, &p.Text}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return 0, p, err
	}
	if lesson.Valid {
		n := int(lesson.Int64)
		p.LessonNumber = &n
	}
	return id, p, nil
}

// semanticSearch returns the topK chunks most similar to vec by cosine similarity.
func (s *CourseStore) semanticSearch(ctx context.Context, vec []float64, f chunkFilter, topK int) ([]rankedChunk, error) {
	cond, args := f.where("c")
	rows, err := s.db.QueryContext(ctx,
		"SELECT c.id, c.course_title, c.lesson_number, c.content, c.embedding FROM chunks c WHERE c.embedding IS NOT NULL"+cond,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []rankedChunk
	for rows.Next() {
		var blob []byte
		id, p, err := scanPassage(rows, &blob)
		if err != nil {
			return nil, err
		}
		p.Score = CosineSimilarity(vec, DecodeEmbedding(blob))
		candidates = append(candidates, rankedChunk{id: id, passage: p})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].passage.Score > candidates[j].passage.Score
	})
	if topK < len(candidates) {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// keywordSearch ranks chunks by FTS5 relevance. Score is the negated rank.
func (s *CourseStore) keywordSearch(ctx context.Context, query string, f chunkFilter, topK int) ([]rankedChunk, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	cond, args := f.where("c")
	args = append([]any{match}, args...)
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.course_title, c.lesson_number, c.content, f.rank
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.rowid
		WHERE chunks_fts MATCH ?`+cond+`
		ORDER BY f.rank
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rankedChunk
	for rows.Next() {
		var rank float64
		id, p, err := scanPassage(rows, &rank)
		if err != nil {
			return nil, err
		}
		// FTS5 rank is negative (more negative = better).
		p.Score = -rank
		out = append(out, rankedChunk{id: id, passage: p})
	}
	return out, rows.Err()
}

// ftsQuery turns free text into an FTS5 expression of quoted terms joined by
// OR, so user punctuation never reaches the FTS5 parser.
func ftsQuery(query string) string {
	terms := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(terms))
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if seen[t] {
			continue
		}
		seen[t] = true
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// rrfK is the Reciprocal Rank Fusion constant.
// A standard value of 60 balances between top and lower-ranked results.
const rrfK = 60

// mergeAndRank combines semantic and keyword results using Reciprocal Rank
// Fusion. A chunk found by both lists gets both scores. Ties keep semantic
// order first.
func mergeAndRank(semantic, keyword []rankedChunk, topK int) []rankedChunk {
	type scored struct {
		chunk rankedChunk
		score float64
		order int
	}
	seen := make(map[int64]*scored)
	var all []*scored

	add := func(list []rankedChunk) {
		for rank, c := range list {
			rrf := 1.0 / float64(rrfK+rank+1)
			if existing, ok := seen[c.id]; ok {
				existing.score += rrf
				continue
			}
			s := &scored{chunk: c, score: rrf, order: len(all)}
			seen[c.id] = s
			all = append(all, s)
		}
	}
	add(semantic)
	add(keyword)

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].order < all[j].order
	})

	if topK > len(all) {
		topK = len(all)
	}
	result := make([]rankedChunk, topK)
	for i := 0; i < topK; i++ {
		result[i] = all[i].chunk
		result[i].passage.Score = all[i].score
	}
	return result
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for empty, zero, or mismatched-length vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// EncodeEmbedding converts a float64 slice to a byte slice for SQLite BLOB storage.
// Each float64 is stored as 8 bytes in little-endian format.
func EncodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// DecodeEmbedding converts a byte slice back to a float64 slice.
func DecodeEmbedding(data []byte) []float64 {
	n := len(data) / 8
	vec := make([]float64, n)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return vec
}
