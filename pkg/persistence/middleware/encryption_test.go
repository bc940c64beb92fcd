package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oat-sa/tao-offline-runner/pkg/adapters/memory"
	"github.com/oat-sa/tao-offline-runner/pkg/domain"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestItemEncryptionRoundTrip(t *testing.T) {
	inner := memory.NewItemStore()
	store := NewItemEncryption(EncryptionConfig{ActiveKey: testKey(1)})(inner)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, domain.CachedItem{
		Identifier: "item-1",
		Definition: json.RawMessage(`{"body":"What is 2+2?"}`),
		ItemState:  json.RawMessage(`{"RESPONSE":"4"}`),
	}))

	// The decorated store returns the plaintext.
	item, err := store.Get(ctx, "item-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"body":"What is 2+2?"}`, string(item.Definition))
	assert.JSONEq(t, `{"RESPONSE":"4"}`, string(item.ItemState))

	// The inner store only ever sees the envelope.
	sealed, err := inner.Get(ctx, "item-1")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed.Definition), "What is 2+2?")
	var env envelope
	require.NoError(t, json.Unmarshal(sealed.Definition, &env))
	assert.NotEmpty(t, env.Encrypted)
}

func TestItemEncryptionUpdateKeepsEnvelope(t *testing.T) {
	inner := memory.NewItemStore()
	store := NewItemEncryption(EncryptionConfig{ActiveKey: testKey(1)})(inner)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, domain.CachedItem{
		Identifier: "item-1",
		Definition: json.RawMessage(`{}`),
	}))
	require.NoError(t, store.Update(ctx, "item-1", func(item *domain.CachedItem) {
		item.ItemState = json.RawMessage(`{"RESPONSE":"b"}`)
	}))

	item, err := store.Get(ctx, "item-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"RESPONSE":"b"}`, string(item.ItemState))

	sealed, err := inner.Get(ctx, "item-1")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed.ItemState), "RESPONSE")
}

func TestItemEncryptionKeyRotation(t *testing.T) {
	inner := memory.NewItemStore()
	ctx := context.Background()

	oldKey := testKey(1)
	oldStore := NewItemEncryption(EncryptionConfig{ActiveKey: oldKey})(inner)
	require.NoError(t, oldStore.Set(ctx, domain.CachedItem{
		Identifier: "item-1",
		Definition: json.RawMessage(`{"body":"legacy"}`),
	}))

	// A rotated config decrypts old entries through the fallback list.
	rotated := NewItemEncryption(EncryptionConfig{
		ActiveKey:    testKey(2),
		FallbackKeys: [][]byte{oldKey},
	})(inner)

	item, err := rotated.Get(ctx, "item-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"body":"legacy"}`, string(item.Definition))
}

func TestItemEncryptionWrongKeyFails(t *testing.T) {
	inner := memory.NewItemStore()
	ctx := context.Background()

	writer := NewItemEncryption(EncryptionConfig{ActiveKey: testKey(1)})(inner)
	require.NoError(t, writer.Set(ctx, domain.CachedItem{
		Identifier: "item-1",
		Definition: json.RawMessage(`{}`),
	}))

	reader := NewItemEncryption(EncryptionConfig{ActiveKey: testKey(9)})(inner)
	_, err := reader.Get(ctx, "item-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypt")
}

func TestActionEncryptionRoundTrip(t *testing.T) {
	inner := memory.NewActionStore()
	store := NewActionEncryption(EncryptionConfig{ActiveKey: testKey(1)})(inner)
	ctx := context.Background()

	action := domain.NewPendingAction("submitItem", map[string]any{
		"itemDefinition": "item-1",
		"itemState":      map[string]any{"RESPONSE": "secret answer"},
	})
	require.NoError(t, store.Push(ctx, action))

	// At rest, only the envelope is visible.
	sealed, err := inner.List(ctx)
	require.NoError(t, err)
	require.Len(t, sealed, 1)
	assert.Contains(t, sealed[0].Parameters, "__encrypted__")
	assert.NotContains(t, sealed[0].Parameters, "itemState")

	// Reads and flushes come back in the clear, queue order intact.
	listed, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "item-1", listed[0].Parameters["itemDefinition"])

	drained, err := store.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, drained, 1)
	state := drained[0].Parameters["itemState"].(map[string]any)
	assert.Equal(t, "secret answer", state["RESPONSE"])
}

func TestActionEncryptionRestoreReseals(t *testing.T) {
	inner := memory.NewActionStore()
	store := NewActionEncryption(EncryptionConfig{ActiveKey: testKey(1)})(inner)
	ctx := context.Background()

	require.NoError(t, store.Push(ctx, domain.NewPendingAction("move", map[string]any{"direction": "next"})))
	drained, err := store.Flush(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Restore(ctx, drained))

	sealed, err := inner.List(ctx)
	require.NoError(t, err)
	require.Len(t, sealed, 1)
	assert.Contains(t, sealed[0].Parameters, "__encrypted__")

	restored, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "next", restored[0].Parameters["direction"])
}

func TestActionEncryptionRejectsPlainEntries(t *testing.T) {
	inner := memory.NewActionStore()
	ctx := context.Background()
	require.NoError(t, inner.Push(ctx, domain.NewPendingAction("move", map[string]any{"direction": "next"})))

	store := NewActionEncryption(EncryptionConfig{ActiveKey: testKey(1)})(inner)
	_, err := store.List(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "envelope")
}
