package taorunner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oat-sa/tao-offline-runner/internal/logging"
	"github.com/oat-sa/tao-offline-runner/internal/syncer"
	adapterhttp "github.com/oat-sa/tao-offline-runner/pkg/adapters/http"
	"github.com/oat-sa/tao-offline-runner/pkg/adapters/memory"
	"github.com/oat-sa/tao-offline-runner/pkg/domain"
	"github.com/oat-sa/tao-offline-runner/pkg/observability"
	"github.com/oat-sa/tao-offline-runner/pkg/ports"
)

// Runner is the high-level entry point for one test session. It wraps
// the internal sync proxy and provides the operations a delivery
// frontend needs: navigation, submission, lifecycle, synchronization.
type Runner struct {
	sessionID string
	proxy     *syncer.Proxy
	monitor   ports.ConnectivityMonitor

	items      ports.ItemStore
	actions    ports.ActionStore
	transport  ports.Transport
	exporter   ports.Exporter
	hooks      domain.LifecycleHooks
	logger     *slog.Logger
	serverURL    string
	headers      map[string]string
	probeTimeout time.Duration
	registerer   prometheus.Registerer
	proxyOpts    []syncer.Option
}

// Option defines a functional option for configuring the Runner.
type Option func(*Runner)

// WithServerURL points the default HTTP transport at the delivery
// service. Ignored when WithTransport is used.
func WithServerURL(url string) Option {
	return func(r *Runner) { r.serverURL = url }
}

// WithHeader adds a header to every request of the default transport,
// e.g. the session token.
func WithHeader(key, value string) Option {
	return func(r *Runner) {
		if r.headers == nil {
			r.headers = map[string]string{}
		}
		r.headers[key] = value
	}
}

// WithProbeTimeout bounds the reachability probe of the default HTTP
// transport. Ignored when WithTransport is used.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Runner) { r.probeTimeout = d }
}

// WithTransport injects a custom transport, bypassing the default HTTP
// client.
func WithTransport(t ports.Transport) Option {
	return func(r *Runner) { r.transport = t }
}

// WithItemStore injects a custom item cache (file, redis, ...).
func WithItemStore(s ports.ItemStore) Option {
	return func(r *Runner) { r.items = s }
}

// WithActionStore injects a custom action queue.
func WithActionStore(s ports.ActionStore) Option {
	return func(r *Runner) { r.actions = s }
}

// WithMonitor injects a custom connectivity monitor.
func WithMonitor(m ports.ConnectivityMonitor) Option {
	return func(r *Runner) { r.monitor = m }
}

// WithExporter enables queue export for manual replay.
func WithExporter(e ports.Exporter) Option {
	return func(r *Runner) { r.exporter = e }
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(r *Runner) { r.hooks = hooks }
}

// WithMetrics registers Prometheus collectors for the sync lifecycle.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(r *Runner) { r.registerer = reg }
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithPrefetchWindow sets how many upcoming items are cached ahead of
// need. Zero disables prefetch.
func WithPrefetchWindow(n int) Option {
	return func(r *Runner) { r.proxyOpts = append(r.proxyOpts, syncer.WithPrefetchWindow(n)) }
}

// WithPrefetchDelay sets the trailing delay before each prefetch round.
func WithPrefetchDelay(d time.Duration) Option {
	return func(r *Runner) { r.proxyOpts = append(r.proxyOpts, syncer.WithPrefetchDelay(d)) }
}

// WithFlushTimeout bounds each batched synchronization attempt.
func WithFlushTimeout(d time.Duration) Option {
	return func(r *Runner) { r.proxyOpts = append(r.proxyOpts, syncer.WithFlushTimeout(d)) }
}

// WithFlushRetries sets the attempt budget for the batched replay.
func WithFlushRetries(n int) Option {
	return func(r *Runner) { r.proxyOpts = append(r.proxyOpts, syncer.WithFlushRetries(n)) }
}

// New initializes a Runner for the given session. By default it caches
// in memory and talks HTTP to the URL set with WithServerURL; stores,
// transport and monitor can all be swapped through options.
func New(sessionID string, opts ...Option) (*Runner, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("sessionID is required")
	}

	r := &Runner{sessionID: sessionID}
	for _, opt := range opts {
		opt(r)
	}

	if r.logger == nil {
		r.logger = logging.NewNop()
	}
	if r.transport == nil {
		if r.serverURL == "" {
			return nil, fmt.Errorf("a server URL is required when no custom transport is provided")
		}
		httpOpts := []adapterhttp.Option{adapterhttp.WithLogger(r.logger)}
		if r.probeTimeout > 0 {
			httpOpts = append(httpOpts, adapterhttp.WithProbeTimeout(r.probeTimeout))
		}
		for k, v := range r.headers {
			httpOpts = append(httpOpts, adapterhttp.WithHeader(k, v))
		}
		r.transport = adapterhttp.New(r.serverURL, httpOpts...)
	}
	if r.items == nil {
		r.items = memory.NewItemStore()
	}
	if r.actions == nil {
		r.actions = memory.NewActionStore()
	}
	if r.monitor == nil {
		r.monitor = memory.NewMonitor(domain.StateOnline)
	}

	hooks := r.hooks
	if r.registerer != nil {
		metrics, err := observability.NewMetrics(r.registerer)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		hooks = mergeHooks(hooks, metrics.Hooks())
	}

	proxyOpts := append([]syncer.Option{
		syncer.WithLogger(r.logger),
		syncer.WithHooks(hooks),
	}, r.proxyOpts...)
	if r.exporter != nil {
		proxyOpts = append(proxyOpts, syncer.WithExporter(r.exporter))
	}

	r.proxy = syncer.New(sessionID, r.items, r.actions, r.transport, r.monitor, proxyOpts...)
	return r, nil
}

// Init loads the navigation tree and current position, typically from
// the server's init payload.
func (r *Runner) Init(ctx context.Context, testMap *domain.TestMap, testCtx *domain.TestContext) {
	r.proxy.Init(ctx, testMap, testCtx)
}

// Move navigates the test. Offline moves resolve locally and are queued
// for replay.
func (r *Runner) Move(ctx context.Context, direction domain.Direction, scope domain.Scope, ref int) (*domain.ServerResponse, error) {
	return r.proxy.Execute(ctx, ports.EndpointMove, map[string]any{
		"direction": string(direction),
		"scope":     string(scope),
		"ref":       ref,
	})
}

// Skip moves forward without submitting responses.
func (r *Runner) Skip(ctx context.Context, scope domain.Scope) (*domain.ServerResponse, error) {
	return r.proxy.Execute(ctx, ports.EndpointSkip, map[string]any{
		"direction": string(domain.DirectionSkip),
		"scope":     string(scope),
	})
}

// SubmitItem records the responses and state of an item.
func (r *Runner) SubmitItem(ctx context.Context, itemID string, state, response map[string]any) (*domain.ServerResponse, error) {
	return r.proxy.Execute(ctx, ports.EndpointSubmitItem, map[string]any{
		"itemDefinition": itemID,
		"itemState":      state,
		"itemResponse":   response,
	})
}

// GetItem returns an item, from cache when possible.
func (r *Runner) GetItem(ctx context.Context, itemID string) (*domain.CachedItem, error) {
	return r.proxy.FetchItem(ctx, itemID)
}

// ExitTest ends the session. Offline it blocks: the returned
// BlockedError tells the frontend to offer sync-now or export.
func (r *Runner) ExitTest(ctx context.Context) (*domain.ServerResponse, error) {
	return r.proxy.Execute(ctx, ports.EndpointExitTest, map[string]any{})
}

// Timeout reports an expired time constraint. Blocking offline.
func (r *Runner) Timeout(ctx context.Context, scope domain.Scope) (*domain.ServerResponse, error) {
	return r.proxy.Execute(ctx, ports.EndpointTimeout, map[string]any{
		"scope": string(scope),
	})
}

// Pause suspends the session. Blocking offline.
func (r *Runner) Pause(ctx context.Context) (*domain.ServerResponse, error) {
	return r.proxy.Execute(ctx, ports.EndpointPause, map[string]any{})
}

// SyncNow replays the pending queue immediately.
func (r *Runner) SyncNow(ctx context.Context) error {
	return r.proxy.SyncNow(ctx)
}

// ExportQueue writes the pending queue to the configured exporter and
// returns the destination path.
func (r *Runner) ExportQueue(ctx context.Context) (string, error) {
	return r.proxy.ExportQueue(ctx)
}

// Pending returns the number of queued actions.
func (r *Runner) Pending(ctx context.Context) (int, error) {
	return r.proxy.Pending(ctx)
}

// TestContext returns a copy of the current position.
func (r *Runner) TestContext() *domain.TestContext {
	return r.proxy.TestContext()
}

// TestMap returns the navigation tree.
func (r *Runner) TestMap() *domain.TestMap {
	return r.proxy.TestMap()
}

// Connectivity returns the current view of the network.
func (r *Runner) Connectivity() domain.ConnectivityState {
	return r.monitor.State()
}

// Close releases the runner. In-flight synchronization finishes first.
func (r *Runner) Close() error {
	r.proxy.Close()
	return nil
}

func mergeHooks(a, b domain.LifecycleHooks) domain.LifecycleHooks {
	pair := func(f, g func(context.Context, *domain.SyncEvent)) func(context.Context, *domain.SyncEvent) {
		if f == nil {
			return g
		}
		if g == nil {
			return f
		}
		return func(ctx context.Context, ev *domain.SyncEvent) {
			f(ctx, ev)
			g(ctx, ev)
		}
	}
	return domain.LifecycleHooks{
		OnOffline:   pair(a.OnOffline, b.OnOffline),
		OnReconnect: pair(a.OnReconnect, b.OnReconnect),
		OnSynced:    pair(a.OnSynced, b.OnSynced),
		OnConflict:  pair(a.OnConflict, b.OnConflict),
		OnQueued:    pair(a.OnQueued, b.OnQueued),
		OnPrefetch:  pair(a.OnPrefetch, b.OnPrefetch),
	}
}
