package memory

import (
	"sync"

	"github.com/oat-sa/tao-offline-runner/pkg/domain"
)

// Monitor implements ports.ConnectivityMonitor in process memory. It is
// intended to be shared: one monitor per process, observed by every
// proxy of every open session.
type Monitor struct {
	mu    sync.Mutex
	state domain.ConnectivityState
	subs  map[int]chan<- domain.ConnectivityState
	next  int
}

// NewMonitor creates a monitor in the given initial state.
func NewMonitor(initial domain.ConnectivityState) *Monitor {
	return &Monitor{
		state: initial,
		subs:  make(map[int]chan<- domain.ConnectivityState),
	}
}

// State returns the current connectivity state.
func (m *Monitor) State() domain.ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetState records a transition and notifies subscribers. Setting the
// current state again is a no-op so callers can report liveness freely.
func (m *Monitor) SetState(state domain.ConnectivityState) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	subs := make([]chan<- domain.ConnectivityState, 0, len(m.subs))
	for _, ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	// Notify outside the lock; a slow subscriber must not stall others.
	for _, ch := range subs {
		select {
		case ch <- state:
		default:
		}
	}
}

// Subscribe registers a listener channel. The channel should be
// buffered; transitions that cannot be delivered immediately are
// dropped for that subscriber.
func (m *Monitor) Subscribe(ch chan<- domain.ConnectivityState) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.next
	m.next++
	m.subs[id] = ch

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
