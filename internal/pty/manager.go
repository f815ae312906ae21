package pty

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultOrphanTimeout is how long a disconnected session is kept around
// before Manager.GC reaps it ("disconnected for longer than an orphan
// timeout is eligible for garbage collection").
const DefaultOrphanTimeout = 30 * time.Minute

// sessionState is the on-disk shape of <state-dir>/<session-id>/pty-state.json.
type sessionState struct {
	SessionID  string `json:"sessionId"`
	Serialized string `json:"serialized"`
	Dimensions struct {
		Cols int `json:"cols"`
		Rows int `json:"rows"`
	} `json:"dimensions"`
	Timestamp time.Time `json:"timestamp"`
}

// Manager owns every PTY session keyed by (workspace, agent) for lookup and
// by session id for direct addressing, plus the background capture and GC
// loops.
type Manager struct {
	mu          sync.Mutex
	byID        map[string]*Session
	byWorkspace map[string]string // "workspace:agent" -> sessionID
	stateDir    string
	captureEvery time.Duration
	orphanAfter time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewManager constructs a Manager that persists session state under
// stateDir (typically $HOME/.forge/sessions) and captures at captureEvery.
func NewManager(stateDir string, captureEvery time.Duration) *Manager {
	if captureEvery <= 0 {
		captureEvery = 2 * time.Second
	}
	m := &Manager{
		byID:         make(map[string]*Session),
		byWorkspace:  make(map[string]string),
		stateDir:     stateDir,
		captureEvery: captureEvery,
		orphanAfter:  DefaultOrphanTimeout,
		stop:         make(chan struct{}),
	}
	go m.captureLoop()
	return m
}

func workspaceKey(workspace string, agent Agent) string {
	return workspace + ":" + string(agent)
}

// GetOrCreate returns the existing session for (workspace, agent), or mints
// a new one with the argv resolved for agent. The PTY process itself is not
// started until Attach.
func (m *Manager) GetOrCreate(workspace string, agent Agent, shell string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workspaceKey(workspace, agent)
	if id, ok := m.byWorkspace[key]; ok {
		if session, ok := m.byID[id]; ok {
			return session
		}
	}

	command, _ := ResolveCommand(agent, shell)
	id := uuid.NewString()
	session := NewSession(id, workspace, agent, command)
	m.byID[id] = session
	m.byWorkspace[key] = id
	return session
}

// Get looks up a session directly by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	return s, ok
}

// Attach resolves a session by id and attaches transport to it.
func (m *Manager) Attach(id string, transport Transport) (*Session, error) {
	session, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("no pty session %s", id)
	}
	if err := session.Attach(transport); err != nil {
		return nil, err
	}
	return session, nil
}

// Destroy kills the session's PTY process, removes its on-disk state
// directory, and drops it from the manager's maps.
func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	session, ok := m.byID[id]
	if ok {
		delete(m.byID, id)
		key := workspaceKey(session.Workspace, session.Agent)
		if m.byWorkspace[key] == id {
			delete(m.byWorkspace, key)
		}
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	session.Destroy()
	return os.RemoveAll(m.sessionDir(id))
}

func (m *Manager) sessionDir(id string) string {
	return filepath.Join(m.stateDir, id)
}

// captureLoop periodically snapshots every live session's screen state to
// disk. Each write is "mkdir -p, then one write" and never blocks a
// session's own event loop — it runs entirely on the manager's own
// goroutine, reading session state only through the mutex-guarded
// CaptureState accessor.
func (m *Manager) captureLoop() {
	ticker := time.NewTicker(m.captureEvery)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.captureAll()
		}
	}
}

func (m *Manager) captureAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if s.Status() == StatusDestroyed {
			continue
		}
		_ = m.captureOne(s)
	}
}

func (m *Manager) captureOne(s *Session) error {
	serialized, cols, rows, err := s.CaptureState()
	if err != nil {
		return err
	}

	dir := m.sessionDir(s.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	state := sessionState{SessionID: s.ID, Serialized: serialized, Timestamp: time.Now()}
	state.Dimensions.Cols = cols
	state.Dimensions.Rows = rows

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "pty-state.json"), data, 0o644)
}

// LoadState reads a session's last-captured screen state from disk. A
// missing or malformed file yields (nil, nil) — recovery is never fatal.
func (m *Manager) LoadState(id string) (*Screen, error) {
	data, err := os.ReadFile(filepath.Join(m.sessionDir(id), "pty-state.json"))
	if err != nil {
		return nil, nil
	}

	var state sessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, nil
	}

	return LoadScreen(state.Serialized, state.Dimensions.Cols, state.Dimensions.Rows), nil
}

// GC destroys every session that has been disconnected for longer than the
// manager's orphan timeout.
func (m *Manager) GC() {
	now := time.Now()

	m.mu.Lock()
	var orphaned []string
	for id, s := range m.byID {
		if s.Status() != StatusDisconnected {
			continue
		}
		if now.Sub(s.DisconnectedAt()) > m.orphanAfter {
			orphaned = append(orphaned, id)
		}
	}
	m.mu.Unlock()

	for _, id := range orphaned {
		_ = m.Destroy(id)
	}
}

// SetOrphanTimeout overrides DefaultOrphanTimeout, primarily for tests.
func (m *Manager) SetOrphanTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orphanAfter = d
}

// Close stops the manager's background capture loop. It does not destroy
// any sessions.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}
