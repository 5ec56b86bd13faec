package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/haasonsaas/operon/pkg/models"
)

// FileStore persists each session as <dir>/<session-id>.json. Every call
// reads or writes through to disk; an in-process mutex serializes access so
// concurrent callers never interleave a read and a write on the same file.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore builds a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sessions: creating store dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

func (f *FileStore) Create(_ context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("sessions: session is required")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(session)
}

func (f *FileStore) Get(_ context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: reading %s: %w", id, err)
	}
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("sessions: parsing %s: %w", id, err)
	}
	return &session, nil
}

func (f *FileStore) Update(_ context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("sessions: session is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := os.Stat(f.path(session.ID)); errors.Is(err, os.ErrNotExist) {
		return ErrSessionNotFound
	}
	return f.write(session)
}

func (f *FileStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("sessions: deleting %s: %w", id, err)
	}
	return nil
}

func (f *FileStore) List(_ context.Context, agentName string) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("sessions: listing %s: %w", f.dir, err)
	}

	var out []*models.Session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, entry.Name()))
		if err != nil {
			continue
		}
		var session models.Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		if agentName != "" && session.AgentName != agentName {
			continue
		}
		out = append(out, &session)
	}
	return out, nil
}

func (f *FileStore) write(session *models.Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("sessions: encoding %s: %w", session.ID, err)
	}
	if err := os.WriteFile(f.path(session.ID), data, 0o644); err != nil {
		return fmt.Errorf("sessions: writing %s: %w", session.ID, err)
	}
	return nil
}
