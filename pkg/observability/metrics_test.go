package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oat-sa/tao-offline-runner/pkg/domain"
)

func TestHooksFeedCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	hooks := m.Hooks()
	ctx := context.Background()

	hooks.OnOffline(ctx, &domain.SyncEvent{SessionID: "s1"})
	hooks.OnQueued(ctx, &domain.SyncEvent{SessionID: "s1", Pending: 1})
	hooks.OnQueued(ctx, &domain.SyncEvent{SessionID: "s1", Pending: 2})
	hooks.OnReconnect(ctx, &domain.SyncEvent{SessionID: "s1"})
	hooks.OnConflict(ctx, &domain.SyncEvent{SessionID: "s1", ActionID: "a1"})
	hooks.OnSynced(ctx, &domain.SyncEvent{SessionID: "s1", Pending: 2})
	hooks.OnPrefetch(ctx, &domain.SyncEvent{SessionID: "s1", Pending: 3})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("offline")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("online")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.queued))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.synced))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.prefetched))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("s1")))
}

func TestNewMetricsRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}
