package redis

import (
	"context"
	"encoding/json"
	"fmt"

	backend "github.com/redis/go-redis/v9"

	"github.com/oat-sa/tao-offline-runner/pkg/domain"
)

// ActionStore implements ports.ActionStore on a Redis list, keyed by
// session, so the pending queue survives process restarts.
type ActionStore struct {
	client *backend.Client
	key    string
}

// NewActionStore creates a store from an existing client, keyed by session.
func NewActionStore(client *backend.Client, sessionID string) *ActionStore {
	return &ActionStore{
		client: client,
		key:    "taorunner:" + sessionID + ":actions",
	}
}

// Push appends an action to the tail of the list.
func (s *ActionStore) Push(ctx context.Context, action domain.PendingAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}
	if err := s.client.RPush(ctx, s.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push action to redis: %w", err)
	}
	return nil
}

// Flush drains the list and returns its contents in insertion order.
// LRANGE and DEL run in one transaction so no concurrent push is lost
// between reading and clearing.
func (s *ActionStore) Flush(ctx context.Context) ([]domain.PendingAction, error) {
	pipe := s.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, s.key, 0, -1)
	pipe.Del(ctx, s.key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to flush actions: %w", err)
	}
	return decodeActions(rangeCmd.Val())
}

// Restore re-inserts previously flushed actions at the head, preserving
// their order ahead of anything pushed since.
func (s *ActionStore) Restore(ctx context.Context, actions []domain.PendingAction) error {
	if len(actions) == 0 {
		return nil
	}
	// LPUSH prepends one by one, so push in reverse to keep the order.
	values := make([]any, 0, len(actions))
	for i := len(actions) - 1; i >= 0; i-- {
		data, err := json.Marshal(actions[i])
		if err != nil {
			return fmt.Errorf("failed to marshal action: %w", err)
		}
		values = append(values, data)
	}
	if err := s.client.LPush(ctx, s.key, values...).Err(); err != nil {
		return fmt.Errorf("failed to restore actions: %w", err)
	}
	return nil
}

// Update mutates the action with the given ID in place via LSET.
func (s *ActionStore) Update(ctx context.Context, actionID string, mutate func(*domain.PendingAction)) error {
	raw, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to scan actions: %w", err)
	}
	for i, entry := range raw {
		var action domain.PendingAction
		if err := json.Unmarshal([]byte(entry), &action); err != nil {
			return fmt.Errorf("failed to unmarshal action: %w", err)
		}
		if action.ID != actionID {
			continue
		}
		mutate(&action)
		data, err := json.Marshal(&action)
		if err != nil {
			return fmt.Errorf("failed to marshal action: %w", err)
		}
		if err := s.client.LSet(ctx, s.key, int64(i), data).Err(); err != nil {
			return fmt.Errorf("failed to update action: %w", err)
		}
		return nil
	}
	return nil
}

// List returns a snapshot without draining.
func (s *ActionStore) List(ctx context.Context) ([]domain.PendingAction, error) {
	raw, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	return decodeActions(raw)
}

// Len returns the queue depth.
func (s *ActionStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count actions: %w", err)
	}
	return int(n), nil
}

func decodeActions(raw []string) ([]domain.PendingAction, error) {
	actions := make([]domain.PendingAction, 0, len(raw))
	for _, entry := range raw {
		var action domain.PendingAction
		if err := json.Unmarshal([]byte(entry), &action); err != nil {
			return nil, fmt.Errorf("failed to unmarshal action: %w", err)
		}
		actions = append(actions, action)
	}
	return actions, nil
}
