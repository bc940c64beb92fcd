package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oat-sa/tao-offline-runner/pkg/adapters/memory"
	"github.com/oat-sa/tao-offline-runner/pkg/domain"
	"github.com/oat-sa/tao-offline-runner/pkg/ports"
)

// fakeTransport scripts server behavior per endpoint and records every
// call in order.
type fakeTransport struct {
	mu        sync.Mutex
	reachable bool
	calls     []string
	batches   []domain.SyncBatch
	responses map[string]*domain.ServerResponse
	// syncResults overrides the per-action results of the next sync.
	syncResults []domain.ActionResult
	// syncResponse overrides the next sync reply wholesale.
	syncResponse *domain.ServerResponse
	// failSyncs makes the next N sync sends fail with a connectivity error.
	failSyncs int
	// syncDelay stretches sync sends to widen race windows in tests.
	syncDelay time.Duration
	// probeDown fails the probe while other endpoints keep answering.
	probeDown bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		reachable: true,
		responses: map[string]*domain.ServerResponse{},
	}
}

func (t *fakeTransport) Send(ctx context.Context, endpoint string, payload any) (*domain.ServerResponse, error) {
	t.mu.Lock()
	delay := t.syncDelay
	t.mu.Unlock()
	if endpoint == ports.EndpointSync && delay > 0 {
		time.Sleep(delay)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.reachable {
		return nil, &domain.ConnectivityError{Op: endpoint, Err: errors.New("connection refused")}
	}
	t.calls = append(t.calls, endpoint)

	if endpoint == ports.EndpointSync {
		batch, ok := payload.(domain.SyncBatch)
		if !ok {
			return nil, fmt.Errorf("unexpected sync payload %T", payload)
		}
		if t.failSyncs > 0 {
			t.failSyncs--
			return nil, &domain.ConnectivityError{Op: endpoint, Err: errors.New("connection reset")}
		}
		if t.syncResponse != nil {
			res := t.syncResponse
			t.syncResponse = nil
			t.batches = append(t.batches, batch)
			return res, nil
		}
		t.batches = append(t.batches, batch)

		results := t.syncResults
		t.syncResults = nil
		if results == nil {
			for _, a := range batch.Actions {
				results = append(results, domain.ActionResult{ActionID: a.ID, Success: true})
			}
		}
		return &domain.ServerResponse{Success: true, Results: results}, nil
	}

	if res, ok := t.responses[endpoint]; ok {
		return res, nil
	}
	return &domain.ServerResponse{Success: true}, nil
}

func (t *fakeTransport) Probe(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.reachable || t.probeDown {
		return &domain.ConnectivityError{Op: ports.EndpointUp, Err: errors.New("no route to host")}
	}
	return nil
}

func (t *fakeTransport) setReachable(v bool) {
	t.mu.Lock()
	t.reachable = v
	t.mu.Unlock()
}

func (t *fakeTransport) callsSnapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

func threeItemMap() *domain.TestMap {
	return &domain.TestMap{
		Parts: []domain.TestPart{{
			ID: "part-1",
			Sections: []domain.TestSection{{
				ID: "section-a",
				Items: []domain.TestItem{
					{ID: "item-1", Position: 0},
					{ID: "item-2", Position: 1},
					{ID: "item-3", Position: 2},
				},
			}},
		}},
	}
}

func startingContext() *domain.TestContext {
	return &domain.TestContext{
		ItemIdentifier: "item-1",
		ItemPosition:   0,
		SectionID:      "section-a",
		TestPartID:     "part-1",
		State:          domain.SessionInteracting,
	}
}

type fixture struct {
	proxy     *Proxy
	transport *fakeTransport
	items     *memory.ItemStore
	actions   *memory.ActionStore
	monitor   *memory.Monitor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	transport := newFakeTransport()
	items := memory.NewItemStore()
	actions := memory.NewActionStore()
	monitor := memory.NewMonitor(domain.StateOnline)

	ctx := context.Background()
	for _, id := range []string{"item-1", "item-2", "item-3"} {
		require.NoError(t, items.Set(ctx, domain.CachedItem{
			Identifier: id,
			Definition: json.RawMessage(`{}`),
		}))
	}

	opts = append([]Option{WithPrefetchWindow(0)}, opts...)
	proxy := New("session-1", items, actions, transport, monitor, opts...)
	t.Cleanup(proxy.Close)
	proxy.Init(ctx, threeItemMap(), startingContext())

	return &fixture{proxy: proxy, transport: transport, items: items, actions: actions, monitor: monitor}
}

func moveNext() map[string]any {
	return map[string]any{"direction": "next", "scope": "item"}
}

func TestExecuteOnlineDelegatesToServer(t *testing.T) {
	f := newFixture(t)
	f.transport.responses[ports.EndpointMove] = &domain.ServerResponse{
		Success: true,
		TestContext: &domain.TestContext{
			ItemIdentifier: "item-2",
			ItemPosition:   1,
			SectionID:      "section-a",
			TestPartID:     "part-1",
			State:          domain.SessionInteracting,
		},
	}

	res, err := f.proxy.Execute(context.Background(), ports.EndpointMove, moveNext())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "item-2", f.proxy.TestContext().ItemIdentifier)

	pending, err := f.proxy.Pending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestExecuteFallsBackOfflineWithoutDroppingAction(t *testing.T) {
	var queued, wentOffline bool
	f := newFixture(t, WithHooks(domain.LifecycleHooks{
		OnOffline: func(context.Context, *domain.SyncEvent) { wentOffline = true },
		OnQueued:  func(context.Context, *domain.SyncEvent) { queued = true },
	}))
	f.transport.setReachable(false)

	res, err := f.proxy.Execute(context.Background(), ports.EndpointMove, moveNext())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "item-2", res.TestContext.ItemIdentifier)
	assert.Equal(t, domain.StateOffline, f.monitor.State())
	assert.True(t, wentOffline)
	assert.True(t, queued)

	pending, err := f.actions.List(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ports.EndpointMove, pending[0].Action)
	assert.True(t, pending[0].Offline)
}

func TestOfflineNavigationFailureLeavesQueueUntouched(t *testing.T) {
	f := newFixture(t)
	f.transport.setReachable(false)
	require.NoError(t, f.items.Clear(context.Background()))

	_, err := f.proxy.Execute(context.Background(), ports.EndpointMove, moveNext())
	var navErr *domain.OfflineNavError
	require.ErrorAs(t, err, &navErr)
	assert.ErrorIs(t, navErr.Err, domain.ErrItemNotCached)

	pending, err := f.actions.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
	// Position did not advance either.
	assert.Equal(t, "item-1", f.proxy.TestContext().ItemIdentifier)
}

func TestProbeRecoveryFlushesBeforeNewAction(t *testing.T) {
	f := newFixture(t)
	f.transport.setReachable(false)

	ctx := context.Background()
	_, err := f.proxy.Execute(ctx, ports.EndpointSubmitItem, map[string]any{
		"itemDefinition": "item-1",
		"itemState":      map[string]any{"RESPONSE": "a"},
	})
	require.NoError(t, err)
	_, err = f.proxy.Execute(ctx, ports.EndpointMove, moveNext())
	require.NoError(t, err)

	f.transport.setReachable(true)
	_, err = f.proxy.Execute(ctx, ports.EndpointMove, moveNext())
	require.NoError(t, err)

	calls := f.transport.callsSnapshot()
	require.NotEmpty(t, calls)
	assert.Equal(t, ports.EndpointSync, calls[0], "queued actions replay before the triggering action")
	assert.Contains(t, calls, ports.EndpointMove)

	require.Len(t, f.transport.batches, 1)
	batch := f.transport.batches[0]
	require.Len(t, batch.Actions, 2)
	assert.Equal(t, ports.EndpointSubmitItem, batch.Actions[0].Action)
	assert.Equal(t, ports.EndpointMove, batch.Actions[1].Action)
	assert.Equal(t, "session-1", batch.SessionID)
	assert.NotEmpty(t, batch.ID)

	pending, err := f.proxy.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Equal(t, domain.StateOnline, f.monitor.State())
}

func TestFailedFlushRestoresAheadOfNewerPushes(t *testing.T) {
	f := newFixture(t)
	f.transport.setReachable(false)

	ctx := context.Background()
	_, err := f.proxy.Execute(ctx, ports.EndpointMove, moveNext())
	require.NoError(t, err)

	// Server answers the probe but drops the sync batch itself.
	f.transport.setReachable(true)
	f.transport.mu.Lock()
	f.transport.failSyncs = 10
	f.transport.mu.Unlock()

	err = f.proxy.SyncNow(ctx)
	var connErr *domain.ConnectivityError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, domain.StateOffline, f.monitor.State())

	// A newer offline action lands behind the restored entries.
	f.transport.setReachable(false)
	_, err = f.proxy.Execute(ctx, ports.EndpointMove, moveNext())
	require.NoError(t, err)

	pending, err := f.actions.List(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	// The restored entry keeps its original position at the head.
	assert.True(t, pending[0].Timestamp.Before(pending[1].Timestamp))
}

func TestPushDuringFlushLandsBehindTheBatch(t *testing.T) {
	f := newFixture(t)
	f.transport.setReachable(false)

	ctx := context.Background()
	_, err := f.proxy.Execute(ctx, ports.EndpointSubmitItem, map[string]any{
		"itemDefinition": "item-1",
		"itemState":      map[string]any{"RESPONSE": "a"},
	})
	require.NoError(t, err)

	// The sync endpoint answers while the probe stays dead, so a
	// flush can be in flight while another action goes the offline way.
	f.transport.mu.Lock()
	f.transport.reachable = true
	f.transport.probeDown = true
	f.transport.syncDelay = 50 * time.Millisecond
	f.transport.mu.Unlock()

	flushDone := make(chan error, 1)
	go func() { flushDone <- f.proxy.SyncNow(ctx) }()
	time.Sleep(10 * time.Millisecond) // flush is now mid-flight

	_, err = f.proxy.Execute(ctx, ports.EndpointMove, moveNext())
	require.NoError(t, err)

	require.NoError(t, <-flushDone)
	f.proxy.Close()

	// The first batch drained only what it started with.
	f.transport.mu.Lock()
	batches := append([]domain.SyncBatch(nil), f.transport.batches...)
	f.transport.mu.Unlock()
	require.NotEmpty(t, batches)
	require.Len(t, batches[0].Actions, 1)
	assert.Equal(t, ports.EndpointSubmitItem, batches[0].Actions[0].Action)

	// The racing push was never interleaved or lost: it is either
	// still queued or replayed in a later batch, exactly once.
	pending, err := f.actions.List(ctx)
	require.NoError(t, err)
	moves := len(pending)
	for _, b := range batches[1:] {
		for _, a := range b.Actions {
			if a.Action == ports.EndpointMove {
				moves++
			}
		}
	}
	assert.Equal(t, 1, moves)
	if len(pending) == 1 {
		assert.Equal(t, ports.EndpointMove, pending[0].Action)
	}
}

func TestConflictSurfacedNotReenqueued(t *testing.T) {
	var conflicts []string
	f := newFixture(t, WithHooks(domain.LifecycleHooks{
		OnConflict: func(_ context.Context, ev *domain.SyncEvent) {
			conflicts = append(conflicts, ev.ActionID)
		},
	}))
	f.transport.setReachable(false)

	ctx := context.Background()
	_, err := f.proxy.Execute(ctx, ports.EndpointMove, moveNext())
	require.NoError(t, err)
	pending, err := f.actions.List(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	f.transport.setReachable(true)
	f.transport.mu.Lock()
	f.transport.syncResults = []domain.ActionResult{{
		ActionID: pending[0].ID,
		Success:  false,
		Code:     domain.CodeConflict,
		Message:  "action already applied",
	}}
	f.transport.mu.Unlock()

	err = f.proxy.SyncNow(ctx)
	var conflictErr *domain.ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, pending[0].ID, conflictErr.ActionID)
	assert.Equal(t, []string{pending[0].ID}, conflicts)

	// The conflicting action is gone for good.
	left, err := f.actions.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.Equal(t, domain.StateOnline, f.monitor.State())
}

func TestRejectedBatchRestoredAndStaysOnline(t *testing.T) {
	f := newFixture(t)
	f.transport.setReachable(false)

	ctx := context.Background()
	_, err := f.proxy.Execute(ctx, ports.EndpointMove, moveNext())
	require.NoError(t, err)

	// The server is reachable but refuses the batch outright.
	f.transport.setReachable(true)
	f.transport.mu.Lock()
	f.transport.syncResponse = &domain.ServerResponse{
		Success: false,
		Code:    500,
		Message: "batch rejected",
	}
	f.transport.mu.Unlock()

	err = f.proxy.SyncNow(ctx)
	var serverErr *domain.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, 500, serverErr.Code)

	// A rejection is not a dead network: the proxy stays online, but the
	// actions are back in the queue.
	assert.Equal(t, domain.StateOnline, f.monitor.State())
	pending, err := f.actions.List(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ports.EndpointMove, pending[0].Action)
}

func TestBatchLevelConflictDroppedLikePerAction(t *testing.T) {
	var conflicts int
	f := newFixture(t, WithHooks(domain.LifecycleHooks{
		OnConflict: func(context.Context, *domain.SyncEvent) { conflicts++ },
	}))
	f.transport.setReachable(false)

	ctx := context.Background()
	_, err := f.proxy.Execute(ctx, ports.EndpointMove, moveNext())
	require.NoError(t, err)

	f.transport.setReachable(true)
	f.transport.mu.Lock()
	f.transport.syncResponse = &domain.ServerResponse{
		Success: false,
		Code:    domain.CodeConflict,
		Message: "batch already applied",
	}
	f.transport.mu.Unlock()

	err = f.proxy.SyncNow(ctx)
	var conflictErr *domain.ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, domain.CodeConflict, conflictErr.Code)
	assert.Equal(t, 1, conflicts)

	// Already applied server-side: never re-enqueued, never retried.
	left, err := f.actions.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.Equal(t, domain.StateOnline, f.monitor.State())
}

func TestQueuedEventsReportDepthInOrder(t *testing.T) {
	var mu sync.Mutex
	var depths []int
	f := newFixture(t, WithHooks(domain.LifecycleHooks{
		OnQueued: func(_ context.Context, ev *domain.SyncEvent) {
			mu.Lock()
			depths = append(depths, ev.Pending)
			mu.Unlock()
		},
	}))
	f.transport.setReachable(false)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.proxy.Execute(ctx, ports.EndpointSubmitItem, map[string]any{
			"itemDefinition": "item-1",
			"itemState":      map[string]any{"RESPONSE": "a"},
		})
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, depths)
}

// restoreFailStore refuses to take drained actions back, simulating a
// store going bad between the drain and the restore.
type restoreFailStore struct {
	ports.ActionStore
}

func (s *restoreFailStore) Restore(context.Context, []domain.PendingAction) error {
	return errors.New("disk full")
}

type captureExporter struct {
	mu      sync.Mutex
	names   []string
	payload []byte
}

func (e *captureExporter) Export(_ context.Context, filename string, payload []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names = append(e.names, filename)
	e.payload = append([]byte(nil), payload...)
	return "/exports/" + filename, nil
}

func TestRestoreFailureSalvagesBatchToExporter(t *testing.T) {
	transport := newFakeTransport()
	items := memory.NewItemStore()
	actions := &restoreFailStore{ActionStore: memory.NewActionStore()}
	monitor := memory.NewMonitor(domain.StateOnline)
	exporter := &captureExporter{}

	ctx := context.Background()
	for _, id := range []string{"item-1", "item-2", "item-3"} {
		require.NoError(t, items.Set(ctx, domain.CachedItem{
			Identifier: id,
			Definition: json.RawMessage(`{}`),
		}))
	}

	proxy := New("session-1", items, actions, transport, monitor,
		WithPrefetchWindow(0), WithExporter(exporter))
	t.Cleanup(proxy.Close)
	proxy.Init(ctx, threeItemMap(), startingContext())

	transport.setReachable(false)
	_, err := proxy.Execute(ctx, ports.EndpointMove, moveNext())
	require.NoError(t, err)

	// The server answers the probe but keeps dropping the batch, and the
	// store refuses to take the drained entries back.
	transport.setReachable(true)
	transport.mu.Lock()
	transport.failSyncs = 10
	transport.mu.Unlock()

	err = proxy.SyncNow(ctx)
	require.ErrorContains(t, err, "failed to restore queue")

	exporter.mu.Lock()
	defer exporter.mu.Unlock()
	require.Len(t, exporter.names, 1)
	assert.Contains(t, exporter.names[0], "salvaged-queue-session-1")
	var salvaged domain.SyncBatch
	require.NoError(t, json.Unmarshal(exporter.payload, &salvaged))
	require.Len(t, salvaged.Actions, 1)
	assert.Equal(t, ports.EndpointMove, salvaged.Actions[0].Action)
}

func TestBlockingActionsRefuseLocalResolution(t *testing.T) {
	f := newFixture(t)
	f.transport.setReachable(false)

	for _, action := range []string{ports.EndpointExitTest, ports.EndpointTimeout, ports.EndpointPause} {
		_, err := f.proxy.Execute(context.Background(), action, nil)
		var blocked *domain.BlockedError
		require.ErrorAs(t, err, &blocked, action)
		assert.Equal(t, action, blocked.Action.Action)
	}

	pending, err := f.actions.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 3, "blocking actions are still queued")
}

func TestForwardPastLastItemBlocksOffline(t *testing.T) {
	f := newFixture(t)
	f.transport.setReachable(false)

	ctx := context.Background()
	_, err := f.proxy.Execute(ctx, ports.EndpointMove, moveNext())
	require.NoError(t, err)
	_, err = f.proxy.Execute(ctx, ports.EndpointMove, moveNext())
	require.NoError(t, err)
	assert.Equal(t, "item-3", f.proxy.TestContext().ItemIdentifier)

	_, err = f.proxy.Execute(ctx, ports.EndpointMove, moveNext())
	var blocked *domain.BlockedError
	require.ErrorAs(t, err, &blocked)
}

func TestReconnectSignalTriggersFlush(t *testing.T) {
	var mu sync.Mutex
	var synced bool
	f := newFixture(t, WithHooks(domain.LifecycleHooks{
		OnSynced: func(context.Context, *domain.SyncEvent) {
			mu.Lock()
			synced = true
			mu.Unlock()
		},
	}))
	f.transport.setReachable(false)

	_, err := f.proxy.Execute(context.Background(), ports.EndpointMove, moveNext())
	require.NoError(t, err)

	f.transport.setReachable(true)
	f.monitor.SetState(domain.StateOnline)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return synced
	}, 2*time.Second, 10*time.Millisecond)

	pending, err := f.proxy.Pending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestSubmitItemOfflineKeepsStateAndStats(t *testing.T) {
	f := newFixture(t)
	f.transport.setReachable(false)

	ctx := context.Background()
	_, err := f.proxy.Execute(ctx, ports.EndpointSubmitItem, map[string]any{
		"itemDefinition": "item-1",
		"itemState":      map[string]any{"RESPONSE": "b"},
	})
	require.NoError(t, err)

	item, err := f.items.Get(ctx, "item-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"RESPONSE":"b"}`, string(item.ItemState))

	testMap := f.proxy.TestMap()
	ref, ok := testMap.FindItem("item-1")
	require.True(t, ok)
	assert.True(t, ref.Item.Answered)
	assert.Equal(t, 1, testMap.Stats.Answered)
}

func TestUnrecoverableResponseSurfaces(t *testing.T) {
	f := newFixture(t)
	f.transport.responses[ports.EndpointMove] = &domain.ServerResponse{
		Success: false,
		Code:    domain.CodeUnrecoverable,
		Message: "the session has been terminated",
	}

	_, err := f.proxy.Execute(context.Background(), ports.EndpointMove, moveNext())
	var unrecoverable *domain.UnrecoverableError
	require.ErrorAs(t, err, &unrecoverable)
	assert.Equal(t, domain.CodeUnrecoverable, unrecoverable.Code)
}

func TestFetchItemCachesOnlineMisses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.items.Clear(ctx))

	f.transport.responses[ports.EndpointGetItem] = &domain.ServerResponse{
		Success: true,
		Item: &domain.CachedItem{
			Identifier: "item-2",
			Definition: json.RawMessage(`{"body":"q2"}`),
		},
	}

	item, err := f.proxy.FetchItem(ctx, "item-2")
	require.NoError(t, err)
	assert.Equal(t, "item-2", item.Identifier)

	cached, err := f.items.Has(ctx, "item-2")
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestFetchItemOfflineMissFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.items.Clear(ctx))
	f.transport.setReachable(false)
	f.monitor.SetState(domain.StateOffline)

	_, err := f.proxy.FetchItem(ctx, "item-2")
	var navErr *domain.OfflineNavError
	require.ErrorAs(t, err, &navErr)
}

func TestPrefetchFillsUpcomingItems(t *testing.T) {
	f := newFixture(t, WithPrefetchWindow(2), WithPrefetchDelay(5*time.Millisecond))
	ctx := context.Background()
	require.NoError(t, f.items.Clear(ctx))

	f.transport.mu.Lock()
	f.transport.responses[ports.EndpointGetItem] = &domain.ServerResponse{
		Success: true,
		Item: &domain.CachedItem{
			Identifier: "item-2",
			Definition: json.RawMessage(`{}`),
		},
	}
	f.transport.mu.Unlock()

	f.transport.responses[ports.EndpointMove] = &domain.ServerResponse{
		Success:     true,
		TestContext: startingContext(),
	}
	_, err := f.proxy.Execute(ctx, ports.EndpointMove, moveNext())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		cached, err := f.items.Has(ctx, "item-2")
		return err == nil && cached
	}, 2*time.Second, 10*time.Millisecond)
}
