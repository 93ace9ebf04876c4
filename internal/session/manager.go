package session

import (
	"sort"

	"github.com/ccbroker/broker/internal/ptysup"
)

// Status is one snapshot row returned by Manager.GetAllStatus.
type Status struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Manager is the name -> AgentSession registry (C7). It owns the single
// shared PtyManager every session spawns into.
type Manager struct {
	pty      *ptysup.Manager
	sessions map[string]*AgentSession
}

// NewManager builds a Manager over sessions, keyed by AgentSession.Name().
// The agent table is read once at construction; the broker never rewrites it
// at runtime (§4.7).
func NewManager(sessions []*AgentSession) *Manager {
	m := &Manager{pty: ptysup.NewManager(), sessions: make(map[string]*AgentSession, len(sessions))}
	for _, s := range sessions {
		m.sessions[s.Name()] = s
	}
	return m
}

// PtyManager lends the shared PtyManager to HTTP/WebSocket handlers.
func (m *Manager) PtyManager() *ptysup.Manager { return m.pty }

// Get returns the session registered under name, if any.
func (m *Manager) Get(name string) (*AgentSession, bool) {
	s, ok := m.sessions[name]
	return s, ok
}

// GetAllStatus snapshots the state of every known agent.
func (m *Manager) GetAllStatus() []Status {
	out := make([]Status, 0, len(m.sessions))
	for name, s := range m.sessions {
		out = append(out, Status{Name: name, State: s.State().String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ShutdownAll stops every session and then shuts the shared PtyManager down.
func (m *Manager) ShutdownAll() {
	for _, s := range m.sessions {
		_ = s.Stop(false, m.pty)
	}
	m.pty.ShutdownAll()
}
