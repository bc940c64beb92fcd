package ports

import (
	"context"

	"github.com/oat-sa/tao-offline-runner/pkg/domain"
)

// ActionStore is a durable, ordered, append-only queue of pending
// actions awaiting server acknowledgment.
//
// The store itself does not serialize concurrent access: the proxy
// routes every mutation and every flush through one SerialExecutor per
// session, so a Push racing a Flush lands fully before or fully after
// it, never interleaved into a partially-drained state.
type ActionStore interface {
	// Push appends an action to the queue.
	Push(ctx context.Context, action domain.PendingAction) error

	// Flush atomically empties the store and returns its prior contents
	// in original insertion order.
	Flush(ctx context.Context) ([]domain.PendingAction, error)

	// Restore re-inserts previously flushed actions at the head of the
	// queue, preserving their order ahead of any action pushed since.
	Restore(ctx context.Context, actions []domain.PendingAction) error

	// Update locates an action by ID and mutates it in place without
	// reordering. Unknown IDs are ignored.
	Update(ctx context.Context, actionID string, mutate func(*domain.PendingAction)) error

	// List returns a snapshot of the queue without draining it.
	List(ctx context.Context) ([]domain.PendingAction, error)

	// Len returns the queue depth.
	Len(ctx context.Context) (int, error)
}
