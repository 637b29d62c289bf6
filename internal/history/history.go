package history

import (
	"sort"
	"sync"

	"webhook-receiver/internal/llm"
)

const DefaultLimit = 20

// Manager keeps a bounded conversation log per session.
type Manager struct {
	mu       sync.RWMutex
	limit    int
	sessions map[string][]llm.Message
}

func NewManager(limit int) *Manager {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Manager{limit: limit, sessions: make(map[string][]llm.Message)}
}

func (m *Manager) Limit() int { return m.limit }

// Append extends the session log and trims the oldest messages beyond the limit.
// An empty session id is ignored.
func (m *Manager) Append(sessionID string, msgs ...llm.Message) {
	if sessionID == "" || len(msgs) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	es := append(m.sessions[sessionID], msgs...)
	if over := len(es) - m.limit; over > 0 {
		es = append([]llm.Message(nil), es[over:]...)
	}
	m.sessions[sessionID] = es
}

// Get returns a copy of the session log, oldest first.
func (m *Manager) Get(sessionID string) []llm.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	es := m.sessions[sessionID]
	out := make([]llm.Message, len(es))
	copy(out, es)
	return out
}

func (m *Manager) Reset(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string][]llm.Message)
}

// Sessions lists known session ids in lexical order.
func (m *Manager) Sessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
