package ports

import "github.com/oat-sa/tao-offline-runner/pkg/domain"

// ConnectivityMonitor exposes the current network state and a reconnect
// signal. It is process-wide: multiple proxies may observe it, but it
// mutates no proxy-owned state, it only emits transition events.
type ConnectivityMonitor interface {
	// State returns the current connectivity state.
	State() domain.ConnectivityState

	// SetState records a transition and notifies subscribers.
	SetState(state domain.ConnectivityState)

	// Subscribe registers a listener for state transitions. The
	// returned function unsubscribes and must be called on teardown.
	Subscribe(ch chan<- domain.ConnectivityState) (unsubscribe func())
}
