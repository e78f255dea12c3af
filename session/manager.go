package session

import "sync"

// Manager is the registry of live sessions.
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(s *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[s.ID] = s
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	s, exists := m.sessions[sessionID]
	return s, exists
}

func (m *Manager) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// Snapshot returns a copy of the current session set so callers can iterate
// and send without holding the registry lock.
func (m *Manager) Snapshot() []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAll closes every registered session. Used during server shutdown.
func (m *Manager) CloseAll() {
	for _, s := range m.Snapshot() {
		s.Close()
	}
}
