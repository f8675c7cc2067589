package session

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"coursebot/internal/domain"
)

// DefaultMaxHistory is the number of exchanges kept per session.
const DefaultMaxHistory = 2

// Exchange is one question and the answer given to it.
type Exchange struct {
	User      string
	Assistant string
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxHistory sets how many exchanges are remembered. Values below 1 are ignored.
func WithMaxHistory(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxHistory = n
		}
	}
}

// WithHistoryStore persists exchanges and restores sessions unknown to memory.
func WithHistoryStore(s domain.SessionHistoryStore) Option {
	return func(m *Manager) { m.store = s }
}

// WithContextManager trims the formatted history to a token budget.
func WithContextManager(cm domain.ContextManager) Option {
	return func(m *Manager) { m.window = cm }
}

// WithLogger sets the logger. If l is nil it is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager tracks conversation sessions and renders their recent history for
// the system prompt. It is safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	sessions   map[string][]Exchange
	maxHistory int
	store      domain.SessionHistoryStore
	window     domain.ContextManager
	newID      func() string
	logger     *slog.Logger
}

// NewManager returns an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions:   make(map[string][]Exchange),
		maxHistory: DefaultMaxHistory,
		newID:      func() string { return "session_" + strings.ReplaceAll(uuid.NewString(), "-", "") },
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaxHistory returns the number of exchanges kept per session.
func (m *Manager) MaxHistory() int { return m.maxHistory }

// CreateSession starts an empty session and returns its id.
func (m *Manager) CreateSession() string {
	id := m.newID()
	m.mu.Lock()
	m.sessions[id] = nil
	m.mu.Unlock()
	return id
}

// AddExchange records a completed question and answer. Only the last
// MaxHistory exchanges are kept in memory; the full transcript goes to the
// history store when one is configured.
func (m *Manager) AddExchange(sessionID, user, assistant string) {
	m.mu.Lock()
	ex := append(m.exchangesLocked(sessionID), Exchange{User: user, Assistant: assistant})
	if len(ex) > m.maxHistory {
		ex = ex[len(ex)-m.maxHistory:]
	}
	m.sessions[sessionID] = ex
	m.mu.Unlock()

	if m.store != nil {
		err := m.store.Append(sessionID,
			domain.NewTextMessage(domain.RoleUser, user),
			domain.NewTextMessage(domain.RoleAssistant, assistant),
		)
		if err != nil {
			m.logger.Warn("persist session exchange failed", "session", sessionID, "error", err)
		}
	}
}

// Exchanges returns a copy of the remembered exchanges, oldest first.
func (m *Manager) Exchanges(sessionID string) []Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	ex := m.exchangesLocked(sessionID)
	out := make([]Exchange, len(ex))
	copy(out, ex)
	return out
}

// History renders the session as "User: ...\nAssistant: ..." lines, oldest
// first, or "" for an empty or unknown session.
func (m *Manager) History(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	ex := m.Exchanges(sessionID)
	if m.window != nil && len(ex) > 0 {
		ex = m.fit(sessionID, ex)
	}
	return FormatHistory(ex)
}

// Clear forgets a session in memory. Persisted transcripts are kept.
func (m *Manager) Clear(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// FormatHistory renders exchanges the way the system prompt expects them.
func FormatHistory(ex []Exchange) string {
	if len(ex) == 0 {
		return ""
	}
	lines := make([]string, 0, 2*len(ex))
	for _, e := range ex {
		lines = append(lines, "User: "+e.User, "Assistant: "+e.Assistant)
	}
	return strings.Join(lines, "\n")
}

// exchangesLocked returns the in-memory exchanges, restoring them from the
// store the first time an unknown session is seen.
func (m *Manager) exchangesLocked(sessionID string) []Exchange {
	if ex, ok := m.sessions[sessionID]; ok || m.store == nil {
		return ex
	}
	msgs, err := m.store.LoadHistory(sessionID, 2*m.maxHistory+1)
	if err != nil {
		m.logger.Warn("restore session failed", "session", sessionID, "error", err)
		return nil
	}
	ex := pairExchanges(msgs)
	if len(ex) > m.maxHistory {
		ex = ex[len(ex)-m.maxHistory:]
	}
	if len(ex) > 0 {
		m.sessions[sessionID] = ex
	}
	return ex
}

// fit drops the oldest exchanges until the rendered messages fit the window.
func (m *Manager) fit(sessionID string, ex []Exchange) []Exchange {
	msgs := make([]domain.Message, 0, 2*len(ex))
	for _, e := range ex {
		msgs = append(msgs,
			domain.NewTextMessage(domain.RoleUser, "User: "+e.User),
			domain.NewTextMessage(domain.RoleAssistant, "Assistant: "+e.Assistant),
		)
	}
	kept, err := m.window.FitToWindow(msgs, "")
	if err != nil {
		m.logger.Warn("history trimming failed", "session", sessionID, "error", err)
		return ex
	}
	dropped := len(msgs) - len(kept)
	// A half-kept exchange is dropped entirely.
	return ex[(dropped+1)/2:]
}

// pairExchanges rebuilds exchanges from a transcript, ignoring unpaired turns.
func pairExchanges(msgs []domain.Message) []Exchange {
	var out []Exchange
	for i := 0; i+1 < len(msgs); i++ {
		if msgs[i].Role != domain.RoleUser || msgs[i+1].Role != domain.RoleAssistant {
			continue
		}
		out = append(out, Exchange{User: textOf(msgs[i]), Assistant: textOf(msgs[i+1])})
		i++
	}
	return out
}

func textOf(msg domain.Message) string {
	var b strings.Builder
	for _, block := range msg.ContentBlocks {
		if t, ok := block.(domain.TextBlock); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}
