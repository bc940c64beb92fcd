package memory

import (
	"context"
	"sync"

	"github.com/oat-sa/tao-offline-runner/pkg/domain"
)

// ActionStore implements ports.ActionStore in memory.
//
// The internal mutex keeps individual operations consistent; the
// proxy's SerialExecutor provides the push-vs-flush atomicity across
// operation sequences.
type ActionStore struct {
	mu      sync.Mutex
	pending []domain.PendingAction
}

// NewActionStore creates an empty queue.
func NewActionStore() *ActionStore {
	return &ActionStore{}
}

// Push appends an action.
func (s *ActionStore) Push(ctx context.Context, action domain.PendingAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, action)
	return nil
}

// Flush atomically drains the queue and returns its prior contents in
// insertion order.
func (s *ActionStore) Flush(ctx context.Context) ([]domain.PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drained := s.pending
	s.pending = nil
	return drained, nil
}

// Restore re-inserts previously flushed actions at the head, ahead of
// anything pushed since the failed flush began.
func (s *ActionStore) Restore(ctx context.Context, actions []domain.PendingAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	restored := make([]domain.PendingAction, 0, len(actions)+len(s.pending))
	restored = append(restored, actions...)
	restored = append(restored, s.pending...)
	s.pending = restored
	return nil
}

// Update mutates the action with the given ID in place.
func (s *ActionStore) Update(ctx context.Context, actionID string, mutate func(*domain.PendingAction)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.pending {
		if s.pending[i].ID == actionID {
			mutate(&s.pending[i])
			return nil
		}
	}
	return nil
}

// List returns a snapshot without draining.
func (s *ActionStore) List(ctx context.Context) ([]domain.PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.PendingAction, len(s.pending))
	copy(out, s.pending)
	return out, nil
}

// Len returns the queue depth.
func (s *ActionStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending), nil
}
