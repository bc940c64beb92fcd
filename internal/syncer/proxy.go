// Package syncer implements the sync proxy: the orchestrator deciding,
// for every test action, between direct delivery and the local offline
// fallback, and reconciling the pending queue with the server once
// connectivity returns.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oat-sa/tao-offline-runner/internal/logging"
	"github.com/oat-sa/tao-offline-runner/internal/navigator"
	"github.com/oat-sa/tao-offline-runner/internal/serial"
	"github.com/oat-sa/tao-offline-runner/pkg/domain"
	"github.com/oat-sa/tao-offline-runner/pkg/ports"
)

// Proxy orchestrates the item cache, the action queue, the offline
// navigator and the transport for one test session.
//
// Every state-changing action enters through Execute. Queue mutations,
// flushes and exports all run through one SerialExecutor, so the queue
// is never read or mutated concurrently.
type Proxy struct {
	sessionID string
	items     ports.ItemStore
	actions   ports.ActionStore
	transport ports.Transport
	monitor   ports.ConnectivityMonitor
	exporter  ports.Exporter
	nav       *navigator.Navigator
	exec      *serial.Executor
	hooks     domain.LifecycleHooks
	logger    *slog.Logger

	prefetchWindow int
	prefetchDelay  time.Duration
	flushTimeout   time.Duration
	flushRetries   int

	mu      sync.Mutex
	testMap *domain.TestMap
	testCtx *domain.TestContext

	closed      chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	unsubscribe func()
}

// Option configures the Proxy.
type Option func(*Proxy)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Proxy) { p.logger = logger }
}

// WithHooks registers observability hooks.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(p *Proxy) { p.hooks = hooks }
}

// WithExporter enables manual export of the undelivered queue.
func WithExporter(exporter ports.Exporter) Option {
	return func(p *Proxy) { p.exporter = exporter }
}

// WithPrefetchWindow sets how many upcoming items are cached ahead of
// need after each successful online action. Zero disables prefetch.
func WithPrefetchWindow(n int) Option {
	return func(p *Proxy) { p.prefetchWindow = n }
}

// WithPrefetchDelay sets the trailing delay before a prefetch round, so
// it never competes with the just-rendered item's own network needs.
func WithPrefetchDelay(d time.Duration) Option {
	return func(p *Proxy) { p.prefetchDelay = d }
}

// WithFlushTimeout bounds each batched synchronization attempt.
func WithFlushTimeout(d time.Duration) Option {
	return func(p *Proxy) { p.flushTimeout = d }
}

// WithFlushRetries sets the bounded attempt count for the batch flush.
func WithFlushRetries(n int) Option {
	return func(p *Proxy) { p.flushRetries = n }
}

// New creates a Proxy for one test session and starts watching the
// connectivity monitor for reconnect signals.
func New(sessionID string, items ports.ItemStore, actions ports.ActionStore, transport ports.Transport, monitor ports.ConnectivityMonitor, opts ...Option) *Proxy {
	p := &Proxy{
		sessionID:      sessionID,
		items:          items,
		actions:        actions,
		transport:      transport,
		monitor:        monitor,
		exec:           &serial.Executor{},
		logger:         logging.NewNop(),
		prefetchWindow: 3,
		prefetchDelay:  500 * time.Millisecond,
		flushTimeout:   30 * time.Second,
		flushRetries:   2,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("session", sessionID)
	p.nav = navigator.New(items, navigator.WithLogger(p.logger))
	p.closed = make(chan struct{})

	ch := make(chan domain.ConnectivityState, 8)
	p.unsubscribe = monitor.Subscribe(ch)
	p.wg.Add(1)
	go p.watchReconnect(ch)

	return p
}

// Init loads the navigation tree and the current position, and prunes
// stale cache entries best-effort.
func (p *Proxy) Init(ctx context.Context, testMap *domain.TestMap, testCtx *domain.TestContext) {
	p.mu.Lock()
	p.testMap = testMap
	p.testCtx = testCtx.Clone()
	p.mu.Unlock()

	p.nav.SetTestMap(testMap)
	p.nav.SetTestContext(testCtx)

	if err := p.items.Prune(ctx); err != nil {
		// A failed prune must never block the session.
		p.logger.Warn("cache prune failed", "err", err)
	}
}

// TestContext returns a copy of the current position.
func (p *Proxy) TestContext() *domain.TestContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.testCtx.Clone()
}

// TestMap returns the navigation tree.
func (p *Proxy) TestMap() *domain.TestMap {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.testMap
}

// Pending returns the current queue depth.
func (p *Proxy) Pending(ctx context.Context) (int, error) {
	return serial.Run(p.exec, ctx, func(ctx context.Context) (int, error) {
		return p.actions.Len(ctx)
	})
}

// Execute routes an action: direct delivery when online, offline
// fallback otherwise. No action is ever dropped between the two paths.
func (p *Proxy) Execute(ctx context.Context, action string, params map[string]any) (*domain.ServerResponse, error) {
	if p.monitor.State() == domain.StateOnline {
		return p.executeOnline(ctx, action, params)
	}
	return p.executeOffline(ctx, action, params)
}

func (p *Proxy) executeOnline(ctx context.Context, action string, params map[string]any) (*domain.ServerResponse, error) {
	res, err := p.transport.Send(ctx, action, params)
	if err != nil {
		if domain.IsConnectivity(err) {
			// Re-enter with the same action: it is not dropped.
			p.goOffline(ctx)
			return p.executeOffline(ctx, action, params)
		}
		return nil, err
	}

	if !res.Success {
		if res.Code == domain.CodeUnrecoverable {
			return nil, &domain.UnrecoverableError{Code: res.Code, Message: res.Message}
		}
		// Business rejection: surfaced unchanged, never retried.
		return nil, &domain.ValidationError{Message: res.Message}
	}

	p.applyResponse(ctx, res)
	if action == ports.EndpointSubmitItem {
		p.rememberItemState(ctx, params)
	}
	p.schedulePrefetch()
	return res, nil
}

func (p *Proxy) executeOffline(ctx context.Context, action string, params map[string]any) (*domain.ServerResponse, error) {
	// A lightweight reachability probe always comes first; a live
	// server means we can go back to direct delivery.
	if err := p.transport.Probe(ctx); err == nil {
		p.goOnline(ctx)
		if err := p.SyncNow(ctx); err != nil {
			p.logger.Warn("flush after probe recovery failed", "err", err)
		}
		if p.monitor.State() == domain.StateOnline {
			return p.executeOnline(ctx, action, params)
		}
	}

	if p.blocking(action, params) {
		pending := p.enqueue(ctx, action, params)
		// Never silently pretend a blocking action succeeded.
		return nil, &domain.BlockedError{Action: pending}
	}

	res, err := p.resolveLocally(ctx, action, params)
	if err != nil {
		// The queue is left untouched when local resolution fails.
		return nil, err
	}
	p.enqueue(ctx, action, params)
	return res, nil
}

// enqueue pushes the action through the serial executor and reports it.
func (p *Proxy) enqueue(ctx context.Context, action string, params map[string]any) domain.PendingAction {
	pending := domain.NewPendingAction(action, params)
	pending.Offline = true

	var depth int
	if err := p.exec.Serie(ctx, func(ctx context.Context) error {
		if err := p.actions.Push(ctx, pending); err != nil {
			return err
		}
		// Depth is read inside the serialized section, so a concurrent
		// flush cannot skew the reported number.
		depth, _ = p.actions.Len(ctx)
		return nil
	}); err != nil {
		p.logger.Error("failed to queue action", "action", action, "err", err)
	}

	p.emit(ctx, domain.EventQueued, pending.ID, depth)
	return pending
}

// resolveLocally keeps the test progressing with the offline navigator
// and the item cache.
func (p *Proxy) resolveLocally(ctx context.Context, action string, params map[string]any) (*domain.ServerResponse, error) {
	switch action {
	case ports.EndpointMove, ports.EndpointSkip:
		move, err := domain.DecodeMoveParams(params)
		if err != nil {
			return nil, err
		}
		if action == ports.EndpointSkip && move.Direction == "" {
			move.Direction = domain.DirectionSkip
		}
		next, err := p.nav.Navigate(ctx, move.Direction, move.Scope, move.Ref)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.testCtx = next.Clone()
		p.mu.Unlock()
		return &domain.ServerResponse{Success: true, TestContext: next}, nil

	case ports.EndpointSubmitItem:
		p.rememberItemState(ctx, params)
		p.markAnswered(params)
		return &domain.ServerResponse{Success: true}, nil

	default:
		// Bookkeeping actions with no local counterpart (flag, comment)
		// are queued and acknowledged as applied.
		return &domain.ServerResponse{Success: true}, nil
	}
}

// blocking reports whether the action must not resolve locally:
// exitTest, timeout, pause, and forward movement past the last item.
func (p *Proxy) blocking(action string, params map[string]any) bool {
	switch action {
	case ports.EndpointExitTest, ports.EndpointTimeout, ports.EndpointPause:
		return true
	case ports.EndpointMove, ports.EndpointSkip:
		move, err := domain.DecodeMoveParams(params)
		if err != nil {
			return false
		}
		if action == ports.EndpointSkip && move.Direction == "" {
			move.Direction = domain.DirectionSkip
		}
		if !move.Direction.Forward() || move.Scope != domain.ScopeItem {
			return false
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.testMap == nil || p.testCtx == nil {
			return false
		}
		return p.testCtx.ItemPosition >= p.testMap.Size()-1
	}
	return false
}

// SyncNow drains the queue and replays it against the server as one
// batched synchronization request. On connectivity failure the drained
// entries are restored ahead of anything pushed meanwhile, and the
// proxy remains offline. A reachable server rejecting the batch also
// restores it, but leaves the proxy online.
func (p *Proxy) SyncNow(ctx context.Context) error {
	return p.exec.Serie(ctx, p.flush)
}

func (p *Proxy) flush(ctx context.Context) error {
	drained, err := p.actions.Flush(ctx)
	if err != nil {
		return fmt.Errorf("failed to drain action queue: %w", err)
	}
	if len(drained) == 0 {
		return nil
	}

	p.monitor.SetState(domain.StateReconnecting)
	batch := domain.SyncBatch{
		ID:        uuid.NewString(),
		SessionID: p.sessionID,
		Actions:   drained,
	}

	var res *domain.ServerResponse
	var sendErr error
	for attempt := 0; attempt <= p.flushRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.flushTimeout)
		res, sendErr = p.transport.Send(attemptCtx, ports.EndpointSync, batch)
		cancel()
		if sendErr == nil || !domain.IsConnectivity(sendErr) {
			break
		}
		p.logger.Debug("batch flush attempt failed", "attempt", attempt+1, "err", sendErr)
	}

	if sendErr != nil {
		// The batch never reached the server. It is all-or-nothing:
		// restore every drained entry at the head so no action is ever
		// lost, and stay offline.
		if restoreErr := p.restoreBatch(ctx, batch); restoreErr != nil {
			return restoreErr
		}
		p.monitor.SetState(domain.StateOffline)
		return sendErr
	}

	if !res.Success {
		if res.Code == domain.CodeConflict {
			// The whole batch was already applied server-side: report
			// and drop it, exactly like a per-action conflict.
			p.monitor.SetState(domain.StateOnline)
			p.emit(ctx, domain.EventConflict, "", 0)
			return &domain.ConflictError{Code: res.Code, Message: res.Message}
		}
		// The server answered and rejected the batch. Keep the actions
		// for the caller to inspect, but the connection itself is fine.
		if restoreErr := p.restoreBatch(ctx, batch); restoreErr != nil {
			return restoreErr
		}
		p.monitor.SetState(domain.StateOnline)
		return &domain.ServerError{Code: res.Code, Message: res.Message}
	}

	var conflict *domain.ConflictError
	for _, result := range res.Results {
		if result.Conflict() {
			// Already applied server-side: report, never re-enqueue.
			if conflict == nil {
				conflict = &domain.ConflictError{
					ActionID: result.ActionID,
					Code:     result.Code,
					Message:  result.Message,
				}
			}
			p.emit(ctx, domain.EventConflict, result.ActionID, 0)
		}
	}

	p.applyResponse(ctx, res)
	p.monitor.SetState(domain.StateOnline)
	p.emit(ctx, domain.EventSynced, "", len(drained))
	p.logger.Info("queue synchronized", "actions", len(drained), "batch", batch.ID)

	if conflict != nil {
		return conflict
	}
	return nil
}

// restoreBatch puts a drained batch back at the head of the queue. When
// the store itself refuses the restore, the batch is written aside via
// the exporter, or failing that dumped to the log, so the actions still
// survive somewhere recoverable.
func (p *Proxy) restoreBatch(ctx context.Context, batch domain.SyncBatch) error {
	err := p.actions.Restore(ctx, batch.Actions)
	if err == nil {
		return nil
	}

	payload, marshalErr := json.MarshalIndent(batch, "", "  ")
	if marshalErr == nil && p.exporter != nil {
		name := fmt.Sprintf("salvaged-queue-%s-%d.json", p.sessionID, time.Now().Unix())
		if path, exportErr := p.exporter.Export(ctx, name, payload); exportErr == nil {
			p.logger.Error("queue restore failed, batch written aside", "path", path, "err", err)
			return fmt.Errorf("failed to restore queue after flush failure (batch saved to %s): %w", path, err)
		}
	}
	p.logger.Error("queue restore failed", "batch", string(payload), "err", err)
	return fmt.Errorf("failed to restore queue after flush failure: %w", err)
}

// ExportQueue serializes the pending queue for manual replay and hands
// it to the exporter. The queue itself is not drained: the export is a
// copy the user carries to a connected machine.
func (p *Proxy) ExportQueue(ctx context.Context) (string, error) {
	if p.exporter == nil {
		return "", fmt.Errorf("no exporter configured")
	}
	return serial.Run(p.exec, ctx, func(ctx context.Context) (string, error) {
		pending, err := p.actions.List(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to snapshot queue: %w", err)
		}

		envelope := domain.SyncBatch{
			ID:        uuid.NewString(),
			SessionID: p.sessionID,
			Actions:   pending,
		}
		payload, err := json.MarshalIndent(envelope, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to serialize queue: %w", err)
		}

		name := fmt.Sprintf("offline-queue-%s-%d.json", p.sessionID, time.Now().Unix())
		return p.exporter.Export(ctx, name, payload)
	})
}

// FetchItem returns an item, preferring the cache. Online misses are
// fetched from the server and cached; offline misses fail.
func (p *Proxy) FetchItem(ctx context.Context, id string) (*domain.CachedItem, error) {
	// Best-effort prune so stale entries never satisfy the lookup.
	if err := p.items.Prune(ctx); err != nil {
		p.logger.Warn("cache prune failed", "err", err)
	}

	item, err := p.items.Get(ctx, id)
	if err == nil {
		return item, nil
	}
	if err != domain.ErrItemNotCached {
		return nil, err
	}

	if p.monitor.State() != domain.StateOnline {
		return nil, &domain.OfflineNavError{
			Ref:    id,
			Reason: "target item was never cached",
			Err:    domain.ErrItemNotCached,
		}
	}

	res, err := p.transport.Send(ctx, ports.EndpointGetItem, map[string]any{"itemDefinition": id})
	if err != nil {
		if domain.IsConnectivity(err) {
			p.goOffline(ctx)
		}
		return nil, err
	}
	if res.Item == nil {
		return nil, &domain.ServerError{Code: res.Code, Message: "item missing from response"}
	}
	if err := p.items.Set(ctx, *res.Item); err != nil {
		return nil, err
	}
	return res.Item, nil
}

// Close tears the proxy down. An in-flight flush is allowed to finish
// so the in-memory copy of a partially-sent queue is not lost; pending
// prefetches are abandoned.
func (p *Proxy) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.unsubscribe()
	})
	p.wg.Wait()
	// Wait for the executor chain to drain.
	_ = p.exec.Serie(context.Background(), func(context.Context) error { return nil })
}

func (p *Proxy) watchReconnect(ch chan domain.ConnectivityState) {
	defer p.wg.Done()
	prev := p.monitor.State()
	for {
		select {
		case <-p.closed:
			return
		case state := <-ch:
			from := prev
			prev = state
			if state != domain.StateOnline {
				continue
			}
			if from == domain.StateReconnecting {
				// Only a flush passes through Reconnecting. Reacting to
				// its own completion would replay a restored batch in a
				// tight loop when the server keeps rejecting it.
				continue
			}
			p.emit(context.Background(), domain.EventReconnect, "", 0)
			if err := p.SyncNow(context.Background()); err != nil {
				p.logger.Warn("flush on reconnect failed", "err", err)
			}
		}
	}
}

func (p *Proxy) goOffline(ctx context.Context) {
	if p.monitor.State() == domain.StateOffline {
		return
	}
	p.monitor.SetState(domain.StateOffline)
	p.emit(ctx, domain.EventOffline, "", 0)
	p.logger.Info("connectivity lost, switching to offline delivery")
}

func (p *Proxy) goOnline(ctx context.Context) {
	if p.monitor.State() == domain.StateOnline {
		return
	}
	p.monitor.SetState(domain.StateOnline)
	p.logger.Info("connectivity recovered")
}

// applyResponse splices the server's authoritative payload into the
// local testMap and testContext.
func (p *Proxy) applyResponse(ctx context.Context, res *domain.ServerResponse) {
	p.mu.Lock()
	if res.TestMap != nil {
		p.testMap = res.TestMap
		p.testMap.RecomputeStats()
	}
	if res.TestContext != nil {
		p.testCtx = res.TestContext.Clone()
	}
	testMap, testCtx := p.testMap, p.testCtx
	p.mu.Unlock()

	if res.TestMap != nil {
		p.nav.SetTestMap(testMap)
	}
	if res.TestContext != nil {
		p.nav.SetTestContext(testCtx)
	}
	if res.Item != nil {
		if err := p.items.Set(ctx, *res.Item); err != nil {
			p.logger.Warn("failed to cache item from response", "item", res.Item.Identifier, "err", err)
		}
	}
}

// rememberItemState keeps the cached copy in sync with the submitted
// answers so an offline revisit renders the latest state.
func (p *Proxy) rememberItemState(ctx context.Context, params map[string]any) {
	submit, err := domain.DecodeSubmitParams(params)
	if err != nil || submit.ItemIdentifier == "" || submit.ItemState == nil {
		return
	}
	state, err := json.Marshal(submit.ItemState)
	if err != nil {
		return
	}
	if err := p.items.Update(ctx, submit.ItemIdentifier, func(item *domain.CachedItem) {
		item.ItemState = state
	}); err != nil && err != domain.ErrItemNotCached {
		p.logger.Warn("failed to update cached item state", "item", submit.ItemIdentifier, "err", err)
	}
}

// markAnswered flags the submitted item in the local testMap.
func (p *Proxy) markAnswered(params map[string]any) {
	submit, err := domain.DecodeSubmitParams(params)
	if err != nil || submit.ItemIdentifier == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.testMap == nil {
		return
	}
	if ref, ok := p.testMap.FindItem(submit.ItemIdentifier); ok {
		ref.Item.Answered = true
		p.testMap.RecomputeStats()
	}
}

// schedulePrefetch caches the next uncached sibling items in the
// background after a short trailing delay. Prefetch is fire-and-forget:
// it disclaims ordering relative to the primary action and is abandoned
// when the session closes.
func (p *Proxy) schedulePrefetch() {
	if p.prefetchWindow <= 0 {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		timer := time.NewTimer(p.prefetchDelay)
		defer timer.Stop()
		select {
		case <-p.closed:
			return
		case <-timer.C:
		}
		p.prefetch(context.Background())
	}()
}

func (p *Proxy) prefetch(ctx context.Context) {
	if err := p.items.Prune(ctx); err != nil {
		p.logger.Warn("cache prune failed", "err", err)
	}

	p.mu.Lock()
	testMap, testCtx := p.testMap, p.testCtx
	p.mu.Unlock()
	if testMap == nil || testCtx == nil {
		return
	}

	refs := testMap.Flatten()
	fetched := 0
	for i := testCtx.ItemPosition + 1; i < len(refs) && fetched < p.prefetchWindow; i++ {
		select {
		case <-p.closed:
			return
		default:
		}

		id := refs[i].Item.ID
		cached, err := p.items.Has(ctx, id)
		if err != nil || cached {
			continue
		}

		res, err := p.transport.Send(ctx, ports.EndpointGetItem, map[string]any{"itemDefinition": id})
		if err != nil || res.Item == nil {
			// Best-effort only; a failed prefetch never surfaces.
			p.logger.Debug("prefetch aborted", "item", id, "err", err)
			return
		}
		if err := p.items.Set(ctx, *res.Item); err != nil {
			p.logger.Warn("failed to cache prefetched item", "item", id, "err", err)
			return
		}
		fetched++
	}

	if fetched > 0 {
		p.emit(ctx, domain.EventPrefetch, "", fetched)
	}
}

func (p *Proxy) emit(ctx context.Context, t domain.EventType, actionID string, pending int) {
	event := &domain.SyncEvent{
		Timestamp: time.Now(),
		Type:      t,
		SessionID: p.sessionID,
		ActionID:  actionID,
		Pending:   pending,
	}

	var hook func(context.Context, *domain.SyncEvent)
	switch t {
	case domain.EventOffline:
		hook = p.hooks.OnOffline
	case domain.EventReconnect:
		hook = p.hooks.OnReconnect
	case domain.EventSynced:
		hook = p.hooks.OnSynced
	case domain.EventConflict:
		hook = p.hooks.OnConflict
	case domain.EventQueued:
		hook = p.hooks.OnQueued
	case domain.EventPrefetch:
		hook = p.hooks.OnPrefetch
	}
	if hook != nil {
		hook(ctx, event)
	}
}
