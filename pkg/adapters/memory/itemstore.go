// Package memory provides in-memory adapters for the proxy's ports.
// They are safe for concurrent use and back the default configuration
// as well as most tests.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/oat-sa/tao-offline-runner/pkg/domain"
)

// ItemStore implements ports.ItemStore in memory with access-order
// (LRU) eviction and time-based pruning.
type ItemStore struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	access  *list.List // front = most recently accessed
	ttl     time.Duration
	maxSize int

	now func() time.Time // injectable clock for tests
}

// ItemStoreOption configures the store.
type ItemStoreOption func(*ItemStore)

// WithItemTTL sets the default time-to-live for entries stored without
// an explicit asset expiry.
func WithItemTTL(ttl time.Duration) ItemStoreOption {
	return func(s *ItemStore) { s.ttl = ttl }
}

// WithCacheSize bounds the store to n entries.
func WithCacheSize(n int) ItemStoreOption {
	return func(s *ItemStore) { s.maxSize = n }
}

// WithClock injects a clock, used by tests to control expiry.
func WithClock(now func() time.Time) ItemStoreOption {
	return func(s *ItemStore) { s.now = now }
}

// NewItemStore creates an unbounded store with no default TTL.
func NewItemStore(opts ...ItemStoreOption) *ItemStore {
	s := &ItemStore{
		entries: make(map[string]*list.Element),
		access:  list.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Has reports whether a live entry exists for id.
func (s *ItemStore) Has(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[id]
	if !ok {
		return false, nil
	}
	return !el.Value.(*domain.CachedItem).Expired(s.now()), nil
}

// Get retrieves an entry and marks it most recently accessed.
func (s *ItemStore) Get(ctx context.Context, id string) (*domain.CachedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[id]
	if !ok {
		return nil, domain.ErrItemNotCached
	}
	item := el.Value.(*domain.CachedItem)
	if item.Expired(s.now()) {
		return nil, domain.ErrItemNotCached
	}

	item.LastAccess = s.now()
	s.access.MoveToFront(el)

	copied := *item
	return &copied, nil
}

// Set inserts or replaces an entry, evicting least-recently-accessed
// entries first when the store exceeds its configured size.
func (s *ItemStore) Set(ctx context.Context, item domain.CachedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.AssetExpiry.IsZero() && s.ttl > 0 {
		item.AssetExpiry = s.now().Add(s.ttl)
	}
	item.LastAccess = s.now()

	if el, ok := s.entries[item.Identifier]; ok {
		el.Value = &item
		s.access.MoveToFront(el)
		return nil
	}

	// Evict before inserting so the new entry never becomes a victim.
	if s.maxSize > 0 {
		for len(s.entries) >= s.maxSize {
			s.evictOldest()
		}
	}

	s.entries[item.Identifier] = s.access.PushFront(&item)
	return nil
}

// Update mutates an existing entry in place.
func (s *ItemStore) Update(ctx context.Context, id string, mutate func(*domain.CachedItem)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[id]
	if !ok {
		return domain.ErrItemNotCached
	}
	mutate(el.Value.(*domain.CachedItem))
	return nil
}

// Prune removes entries whose asset expiry has passed.
func (s *ItemStore) Prune(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, el := range s.entries {
		if el.Value.(*domain.CachedItem).Expired(now) {
			s.access.Remove(el)
			delete(s.entries, id)
		}
	}
	return nil
}

// Clear removes all entries.
func (s *ItemStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*list.Element)
	s.access.Init()
	return nil
}

// Len returns the number of cached entries, expired ones included.
func (s *ItemStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

// SetItemTTL sets the default TTL for subsequent insertions.
func (s *ItemStore) SetItemTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl = ttl
}

// SetCacheSize bounds the store; the next insertion trims it.
func (s *ItemStore) SetCacheSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxSize = n
}

func (s *ItemStore) evictOldest() {
	el := s.access.Back()
	if el == nil {
		return
	}
	s.access.Remove(el)
	delete(s.entries, el.Value.(*domain.CachedItem).Identifier)
}
