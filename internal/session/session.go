package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joescharf/opsassist/internal/models"
	"github.com/joescharf/opsassist/internal/plans"
)

// Session bundles a conversation's state, its plan registry and the lock
// that keeps dispatcher runs exclusive.
type Session struct {
	ID        string
	CreatedAt time.Time
	State     *State
	Plans     *plans.Registry

	run sync.Mutex
}

// TryAcquire takes the run lock without blocking. It fails with ErrBusy when
// another run holds it.
func (s *Session) TryAcquire() (release func(), err error) {
	if !s.run.TryLock() {
		return nil, fmt.Errorf("session %s: run in progress: %w", s.ID, models.ErrBusy)
	}
	var once sync.Once
	return func() { once.Do(s.run.Unlock) }, nil
}

// Snapshot returns a deep copy of the state with the registry's plans.
func (s *Session) Snapshot() Snapshot {
	snap := s.State.Snapshot()
	snap.FixPlans = s.Plans.List()
	return snap
}

// Manager owns every live session.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session), now: time.Now}
}

func (m *Manager) newSession(id string) *Session {
	return &Session{
		ID:        id,
		CreatedAt: m.now(),
		State:     newState(id, m.now),
		Plans:     plans.NewRegistry(),
	}
}

// Create starts a session with a fresh uuid.
func (m *Manager) Create() *Session {
	s := m.newSession(uuid.NewString())
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	return s, nil
}

// GetOrCreate returns the session with id, creating it under that id when it
// does not exist. An empty id creates a new session.
func (m *Manager) GetOrCreate(id string) *Session {
	if id == "" {
		return m.Create()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := m.newSession(id)
	m.sessions[id] = s
	return s
}

// Reset replaces a session's state and plans with empty ones, keeping its id.
// It fails with ErrBusy while a run holds the session.
func (m *Manager) Reset(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	release, err := old.TryAcquire()
	if err != nil {
		return nil, err
	}
	defer release()
	if old.Plans.Executing() {
		return nil, fmt.Errorf("session %s: plan executing: %w", id, models.ErrBusy)
	}
	s := m.newSession(id)
	m.sessions[id] = s
	return s, nil
}

// Delete removes a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	delete(m.sessions, id)
	return nil
}

// List returns sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
