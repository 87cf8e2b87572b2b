package taskflow

import (
	"context"
	"sync"
	"time"
)

// SessionState is everything the engine keeps per session: the active (or
// frozen failed) task list, the map it was instantiated from, and the
// accumulated step outputs later steps reference.
type SessionState struct {
	List    *TaskList      `json:"list,omitempty"`
	Map     *Map           `json:"map,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`
	Touched time.Time      `json:"touched"`
}

func (s *SessionState) clone() *SessionState {
	if s == nil {
		return nil
	}
	out := &SessionState{
		List:    s.List.Clone(),
		Map:     s.Map,
		Touched: s.Touched,
	}
	if s.Outputs != nil {
		out.Outputs = make(map[string]any, len(s.Outputs))
		for k, v := range s.Outputs {
			out.Outputs[k] = v
		}
	}
	return out
}

// SessionStore keeps per-session execution state. Implementations return
// value copies: mutating a returned state never affects the stored one
// until Put.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*SessionState, bool, error)
	Put(ctx context.Context, sessionID string, state *SessionState) error
	Delete(ctx context.Context, sessionID string) error
	// DeleteIdle removes sessions untouched for longer than olderThan and
	// reports how many were removed.
	DeleteIdle(ctx context.Context, olderThan time.Duration) (int, error)
	Close() error
}

// MemorySessions is the process-local session store.
type MemorySessions struct {
	mu       sync.RWMutex
	sessions map[string]*SessionState
}

// NewMemorySessions creates an empty in-memory session store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]*SessionState)}
}

func (m *MemorySessions) Get(ctx context.Context, sessionID string) (*SessionState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.sessions[sessionID]
	if !ok {
		return nil, false, nil
	}
	return state.clone(), true, nil
}

func (m *MemorySessions) Put(ctx context.Context, sessionID string, state *SessionState) error {
	stored := state.clone()
	stored.Touched = time.Now().UTC()
	m.mu.Lock()
	m.sessions[sessionID] = stored
	m.mu.Unlock()
	return nil
}

func (m *MemorySessions) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

func (m *MemorySessions) DeleteIdle(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, state := range m.sessions {
		if state.Touched.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemorySessions) Close() error { return nil }
