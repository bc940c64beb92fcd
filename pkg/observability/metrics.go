// Package observability exposes the sync lifecycle as Prometheus
// metrics. The collectors attach to the proxy through the same
// LifecycleHooks any other observer would use.
package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oat-sa/tao-offline-runner/pkg/domain"
)

// Metrics holds the collectors for one runner process. Register it
// once; sessions share the collectors.
type Metrics struct {
	transitions *prometheus.CounterVec
	queued      prometheus.Counter
	synced      prometheus.Counter
	conflicts   prometheus.Counter
	prefetched  prometheus.Counter
	queueDepth  *prometheus.GaugeVec
}

// NewMetrics builds the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taorunner",
			Name:      "connectivity_transitions_total",
			Help:      "Connectivity transitions observed by the proxy.",
		}, []string{"state"}),
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taorunner",
			Name:      "actions_queued_total",
			Help:      "Actions queued for later synchronization.",
		}),
		synced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taorunner",
			Name:      "actions_synced_total",
			Help:      "Actions successfully replayed to the server.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taorunner",
			Name:      "sync_conflicts_total",
			Help:      "Actions the server reported as already applied.",
		}),
		prefetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taorunner",
			Name:      "items_prefetched_total",
			Help:      "Items cached ahead of need.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taorunner",
			Name:      "queue_depth",
			Help:      "Pending actions per session.",
		}, []string{"session"}),
	}

	for _, c := range []prometheus.Collector{
		m.transitions, m.queued, m.synced, m.conflicts, m.prefetched, m.queueDepth,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns lifecycle hooks feeding these collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnOffline: func(_ context.Context, ev *domain.SyncEvent) {
			m.transitions.WithLabelValues(string(domain.StateOffline)).Inc()
		},
		OnReconnect: func(_ context.Context, ev *domain.SyncEvent) {
			m.transitions.WithLabelValues(string(domain.StateOnline)).Inc()
		},
		OnSynced: func(_ context.Context, ev *domain.SyncEvent) {
			m.synced.Add(float64(ev.Pending))
			m.queueDepth.WithLabelValues(ev.SessionID).Set(0)
		},
		OnConflict: func(_ context.Context, ev *domain.SyncEvent) {
			m.conflicts.Inc()
		},
		OnQueued: func(_ context.Context, ev *domain.SyncEvent) {
			m.queued.Inc()
			m.queueDepth.WithLabelValues(ev.SessionID).Set(float64(ev.Pending))
		},
		OnPrefetch: func(_ context.Context, ev *domain.SyncEvent) {
			m.prefetched.Add(float64(ev.Pending))
		},
	}
}
