package file

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/oat-sa/tao-offline-runner/pkg/domain"
)

// ActionStore implements ports.ActionStore on the local filesystem, so
// an interrupted session resumes its offline queue after a restart.
type ActionStore struct {
	mu   sync.Mutex
	path string
}

type actionDocument struct {
	Pending []domain.PendingAction `json:"pending"`
}

// NewActionStore creates a store persisting under basePath/sessionID.
func NewActionStore(basePath, sessionID string) *ActionStore {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	return &ActionStore{
		path: filepath.Join(basePath, sessionID, "actions.json"),
	}
}

func (s *ActionStore) load() (*actionDocument, error) {
	doc := &actionDocument{}
	if _, err := readDocument(s.path, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Push appends an action.
func (s *ActionStore) Push(ctx context.Context, action domain.PendingAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Pending = append(doc.Pending, action)
	return writeAtomic(s.path, doc)
}

// Flush atomically drains the queue and returns its prior contents.
func (s *ActionStore) Flush(ctx context.Context) ([]domain.PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	drained := doc.Pending
	if err := writeAtomic(s.path, &actionDocument{}); err != nil {
		return nil, err
	}
	return drained, nil
}

// Restore re-inserts previously flushed actions at the head.
func (s *ActionStore) Restore(ctx context.Context, actions []domain.PendingAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	restored := make([]domain.PendingAction, 0, len(actions)+len(doc.Pending))
	restored = append(restored, actions...)
	restored = append(restored, doc.Pending...)
	doc.Pending = restored
	return writeAtomic(s.path, doc)
}

// Update mutates the action with the given ID in place.
func (s *ActionStore) Update(ctx context.Context, actionID string, mutate func(*domain.PendingAction)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	for i := range doc.Pending {
		if doc.Pending[i].ID == actionID {
			mutate(&doc.Pending[i])
			return writeAtomic(s.path, doc)
		}
	}
	return nil
}

// List returns a snapshot without draining.
func (s *ActionStore) List(ctx context.Context) ([]domain.PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]domain.PendingAction, len(doc.Pending))
	copy(out, doc.Pending)
	return out, nil
}

// Len returns the queue depth.
func (s *ActionStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return 0, err
	}
	return len(doc.Pending), nil
}
