package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"coursebot/internal/domain"
)

// marshalFunc is the JSON marshaling function; tests may replace it to force errors.
type marshalFunc func(v any) ([]byte, error)

var validSessionID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ErrInvalidSessionID is returned for ids that cannot name a transcript file.
var ErrInvalidSessionID = errors.New("session: invalid session id")

// HistoryStore keeps one JSONL transcript per session under a directory, one
// JSON message per line.
type HistoryStore struct {
	dir       string
	marshalFn marshalFunc // nil means use json.Marshal
}

// NewHistoryStore returns a HistoryStore rooted at dir. The directory is
// created on first write.
func NewHistoryStore(dir string) *HistoryStore {
	return &HistoryStore{dir: dir}
}

func (h *HistoryStore) path(sessionID string) (string, error) {
	if !validSessionID.MatchString(sessionID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	return filepath.Join(h.dir, sessionID+".jsonl"), nil
}

// Append writes msgs to the end of the session transcript.
func (h *HistoryStore) Append(sessionID string, msgs ...domain.Message) error {
	path, err := h.path(sessionID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	marshal := json.Marshal
	if h.marshalFn != nil {
		marshal = h.marshalFn
	}
	var buf []byte
	for _, m := range msgs {
		data, err := marshal(m)
		if err != nil {
			return fmt.Errorf("session: encode message: %w", err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}

	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return fmt.Errorf("session: create history dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, writeErr := f.Write(buf)
	closeErr := f.Close()
	if writeErr != nil {
		return writeErr
	}
	return closeErr
}

// LoadHistory reads the last n messages of a session. A missing transcript
// yields no messages. Corrupt lines are skipped.
func (h *HistoryStore) LoadHistory(sessionID string, n int) ([]domain.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	path, err := h.path(sessionID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	// Ring of the last n non-empty lines.
	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if len(ring) == n {
			ring = append(ring[1:], line)
			continue
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	msgs := make([]domain.Message, 0, len(ring))
	for _, line := range ring {
		var msg domain.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

var _ domain.SessionHistoryStore = (*HistoryStore)(nil)
