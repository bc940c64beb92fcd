// Package session shares runners between concurrent consumers of the
// same test session, so a frontend with several windows or workers
// never ends up with two queues for one candidate.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	taorunner "github.com/oat-sa/tao-offline-runner"
	"github.com/oat-sa/tao-offline-runner/internal/logging"
)

// Factory builds a runner for a session the manager has not seen yet.
type Factory func(ctx context.Context, sessionID string) (*taorunner.Runner, error)

// entry holds the shared runner and the reference count.
type entry struct {
	runner *taorunner.Runner
	refs   int
}

// Manager hands out one shared Runner per session ID, reference
// counted: the runner is built on first Acquire and closed when the
// last holder releases it.
type Manager struct {
	factory Factory

	mu      sync.Mutex
	entries map[string]*entry

	logger *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager that builds runners with factory.
func NewManager(factory Factory, opts ...Option) *Manager {
	m := &Manager{
		factory: factory,
		entries: make(map[string]*entry),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire returns the shared runner for sessionID, building it on first
// use. Every Acquire must be paired with a Release.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (*taorunner.Runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[sessionID]; ok {
		e.refs++
		return e.runner, nil
	}

	runner, err := m.factory(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to build runner for session %s: %w", sessionID, err)
	}
	m.entries[sessionID] = &entry{runner: runner, refs: 1}
	m.logger.Debug("session runner created", "session", sessionID)
	return runner, nil
}

// Release drops one reference. The last release closes the runner,
// which waits for in-flight synchronization to finish.
func (m *Manager) Release(sessionID string) error {
	m.mu.Lock()
	e, ok := m.entries[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("release of unknown session %s", sessionID)
	}
	e.refs--
	if e.refs > 0 {
		m.mu.Unlock()
		return nil
	}
	delete(m.entries, sessionID)
	m.mu.Unlock()

	m.logger.Debug("session runner closed", "session", sessionID)
	return e.runner.Close()
}

// Active returns the IDs of sessions currently held.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll force-closes every held runner regardless of references.
// Intended for process shutdown.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	var firstErr error
	for id, e := range entries {
		if err := e.runner.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close session %s: %w", id, err)
		}
	}
	return firstErr
}
