package ptysup

import "sync"

// Manager is a name -> *PtyHandle registry shared by every AgentSession.
type Manager struct {
	mu      sync.Mutex
	handles map[string]*PtyHandle
}

// NewManager constructs an empty registry.
func NewManager() *Manager {
	return &Manager{handles: make(map[string]*PtyHandle)}
}

// Create spawns a new handle for name and registers it, replacing (without
// shutting down) any prior entry — the caller is responsible for shutting the
// previous handle down first.
func (m *Manager) Create(name string, argv []string, cwd string, bufferCapacity int) (*PtyHandle, error) {
	h, err := Spawn(argv, cwd, bufferCapacity)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.handles[name] = h
	m.mu.Unlock()
	return h, nil
}

// Get returns the handle registered under name, if any.
func (m *Manager) Get(name string) (*PtyHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[name]
	return h, ok
}

// Remove deletes name from the registry without shutting its handle down.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	delete(m.handles, name)
	m.mu.Unlock()
}

// List returns the names of every currently registered handle.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.handles))
	for name := range m.handles {
		names = append(names, name)
	}
	return names
}

// ShutdownAll drains the registry and shuts every handle down sequentially.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	handles := m.handles
	m.handles = make(map[string]*PtyHandle)
	m.mu.Unlock()

	for _, h := range handles {
		h.Shutdown()
	}
}
