package sessions

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/haasonsaas/operon/pkg/models"
)

// ErrSessionNotFound is returned by Get/Update/Delete for an unknown id.
var ErrSessionNotFound = errors.New("sessions: session not found")

// MemoryStore is an in-memory Store, for tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.Session)}
}

// Create assigns an id if session.ID is empty and stores a clone.
func (m *MemoryStore) Create(_ context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("sessions: session is required")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

// Get returns a clone of the stored session.
func (m *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(session), nil
}

// Update overwrites the stored session with a clone of session.
func (m *MemoryStore) Update(_ context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("sessions: session is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; !ok {
		return ErrSessionNotFound
	}
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

// Delete removes a session by id.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

// List returns every session for agentName, or every session when
// agentName is empty.
func (m *MemoryStore) List(_ context.Context, agentName string) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		if agentName != "" && session.AgentName != agentName {
			continue
		}
		out = append(out, cloneSession(session))
	}
	return out, nil
}

func cloneSession(session *models.Session) *models.Session {
	clone := *session
	clone.Messages = append([]models.Message(nil), session.Messages...)
	if session.Metadata != nil {
		clone.Metadata = make(map[string]any, len(session.Metadata))
		for k, v := range session.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
