package ports

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oat-sa/tao-offline-runner/pkg/domain"
)

// RunItemStoreContract verifies that an ItemStore implementation adheres
// to the interface contract. Adapters run it against a fresh store.
func RunItemStoreContract(t *testing.T, store ItemStore) {
	ctx := context.Background()

	item := func(id string, expiry time.Time) domain.CachedItem {
		return domain.CachedItem{
			Identifier:  id,
			Definition:  json.RawMessage(`{"qti":"` + id + `"}`),
			BaseURL:     "https://assets.example.org/" + id + "/",
			AssetExpiry: expiry,
		}
	}
	future := time.Now().Add(time.Hour)

	t.Run("Set and Get", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, item("contract-a", future)))

		ok, err := store.Has(ctx, "contract-a")
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := store.Get(ctx, "contract-a")
		require.NoError(t, err)
		assert.Equal(t, "contract-a", got.Identifier)
		assert.JSONEq(t, `{"qti":"contract-a"}`, string(got.Definition))
	})

	t.Run("Get miss", func(t *testing.T) {
		_, err := store.Get(ctx, "contract-missing")
		assert.ErrorIs(t, err, domain.ErrItemNotCached)

		ok, err := store.Has(ctx, "contract-missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Update", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, item("contract-b", future)))
		err := store.Update(ctx, "contract-b", func(it *domain.CachedItem) {
			it.ItemState = json.RawMessage(`{"RESPONSE":"choice_1"}`)
		})
		require.NoError(t, err)

		got, err := store.Get(ctx, "contract-b")
		require.NoError(t, err)
		assert.JSONEq(t, `{"RESPONSE":"choice_1"}`, string(got.ItemState))

		err = store.Update(ctx, "contract-missing", func(*domain.CachedItem) {})
		assert.ErrorIs(t, err, domain.ErrItemNotCached)
	})

	t.Run("Prune removes only expired entries", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, item("contract-stale", time.Now().Add(-time.Minute))))
		require.NoError(t, store.Set(ctx, item("contract-live", future)))

		require.NoError(t, store.Prune(ctx))

		ok, err := store.Has(ctx, "contract-stale")
		require.NoError(t, err)
		assert.False(t, ok, "expired entry should be pruned")

		ok, err = store.Has(ctx, "contract-live")
		require.NoError(t, err)
		assert.True(t, ok, "entry within TTL should survive")
	})

	t.Run("Clear", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, item("contract-c", future)))
		require.NoError(t, store.Clear(ctx))

		n, err := store.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

// RunActionStoreContract verifies that an ActionStore implementation
// adheres to the interface contract.
func RunActionStoreContract(t *testing.T, store ActionStore) {
	ctx := context.Background()

	push := func(t *testing.T, action string) domain.PendingAction {
		t.Helper()
		a := domain.NewPendingAction(action, map[string]any{"direction": "next"})
		require.NoError(t, store.Push(ctx, a))
		return a
	}

	t.Run("Flush returns insertion order and drains", func(t *testing.T) {
		first := push(t, "move")
		second := push(t, "submitItem")
		third := push(t, "move")

		flushed, err := store.Flush(ctx)
		require.NoError(t, err)
		require.Len(t, flushed, 3)
		assert.Equal(t, first.ID, flushed[0].ID)
		assert.Equal(t, second.ID, flushed[1].ID)
		assert.Equal(t, third.ID, flushed[2].ID)

		n, err := store.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Restore prepends ahead of later pushes", func(t *testing.T) {
		restored := []domain.PendingAction{
			domain.NewPendingAction("move", nil),
			domain.NewPendingAction("submitItem", nil),
		}
		fresh := push(t, "pause")
		require.NoError(t, store.Restore(ctx, restored))

		got, err := store.Flush(ctx)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, restored[0].ID, got[0].ID)
		assert.Equal(t, restored[1].ID, got[1].ID)
		assert.Equal(t, fresh.ID, got[2].ID)
	})

	t.Run("Update mutates in place without reordering", func(t *testing.T) {
		first := push(t, "move")
		second := push(t, "move")

		err := store.Update(ctx, second.ID, func(a *domain.PendingAction) {
			a.Offline = true
		})
		require.NoError(t, err)

		list, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, first.ID, list[0].ID)
		assert.False(t, list[0].Offline)
		assert.Equal(t, second.ID, list[1].ID)
		assert.True(t, list[1].Offline)

		// drain for the next run
		_, err = store.Flush(ctx)
		require.NoError(t, err)
	})

	t.Run("Flush on empty store", func(t *testing.T) {
		flushed, err := store.Flush(ctx)
		require.NoError(t, err)
		assert.Empty(t, flushed)
	})
}
