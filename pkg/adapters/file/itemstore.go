package file

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oat-sa/tao-offline-runner/pkg/domain"
)

// ItemStore implements ports.ItemStore on the local filesystem. Every
// operation reads and rewrites the session's items.json; at test-session
// scale (tens of items) this is cheap, and the atomic write keeps the
// document consistent across crashes.
type ItemStore struct {
	mu      sync.Mutex
	path    string
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type itemDocument struct {
	Items map[string]*domain.CachedItem `json:"items"`
}

// ItemStoreOption configures the store.
type ItemStoreOption func(*ItemStore)

// WithItemTTL sets the default TTL for entries stored without an expiry.
func WithItemTTL(ttl time.Duration) ItemStoreOption {
	return func(s *ItemStore) { s.ttl = ttl }
}

// WithCacheSize bounds the store to n entries.
func WithCacheSize(n int) ItemStoreOption {
	return func(s *ItemStore) { s.maxSize = n }
}

// WithClock injects a clock, used by tests.
func WithClock(now func() time.Time) ItemStoreOption {
	return func(s *ItemStore) { s.now = now }
}

// NewItemStore creates a store persisting under basePath/sessionID.
func NewItemStore(basePath, sessionID string, opts ...ItemStoreOption) *ItemStore {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	s := &ItemStore{
		path: filepath.Join(basePath, sessionID, "items.json"),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ItemStore) load() (*itemDocument, error) {
	doc := &itemDocument{Items: make(map[string]*domain.CachedItem)}
	if _, err := readDocument(s.path, doc); err != nil {
		return nil, err
	}
	if doc.Items == nil {
		doc.Items = make(map[string]*domain.CachedItem)
	}
	return doc, nil
}

// Has reports whether a live entry exists for id.
func (s *ItemStore) Has(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return false, err
	}
	item, ok := doc.Items[id]
	return ok && !item.Expired(s.now()), nil
}

// Get retrieves an entry and refreshes its access time.
func (s *ItemStore) Get(ctx context.Context, id string) (*domain.CachedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	item, ok := doc.Items[id]
	if !ok || item.Expired(s.now()) {
		return nil, domain.ErrItemNotCached
	}

	item.LastAccess = s.now()
	if err := writeAtomic(s.path, doc); err != nil {
		return nil, err
	}

	copied := *item
	return &copied, nil
}

// Set inserts or replaces an entry, evicting least-recently-accessed
// entries beyond the configured size.
func (s *ItemStore) Set(ctx context.Context, item domain.CachedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	if item.AssetExpiry.IsZero() && s.ttl > 0 {
		item.AssetExpiry = s.now().Add(s.ttl)
	}
	item.LastAccess = s.now()

	if _, exists := doc.Items[item.Identifier]; !exists && s.maxSize > 0 {
		evictOldest(doc.Items, s.maxSize-1)
	}
	doc.Items[item.Identifier] = &item

	return writeAtomic(s.path, doc)
}

// Update mutates an existing entry in place.
func (s *ItemStore) Update(ctx context.Context, id string, mutate func(*domain.CachedItem)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	item, ok := doc.Items[id]
	if !ok {
		return domain.ErrItemNotCached
	}
	mutate(item)
	return writeAtomic(s.path, doc)
}

// Prune removes entries whose asset expiry has passed.
func (s *ItemStore) Prune(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	now := s.now()
	changed := false
	for id, item := range doc.Items {
		if item.Expired(now) {
			delete(doc.Items, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return writeAtomic(s.path, doc)
}

// Clear removes all entries.
func (s *ItemStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path, &itemDocument{Items: map[string]*domain.CachedItem{}})
}

// Len returns the number of cached entries.
func (s *ItemStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return 0, err
	}
	return len(doc.Items), nil
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

// evictOldest trims the map to at most max entries by LastAccess.
func evictOldest(items map[string]*domain.CachedItem, max int) {
	if max < 0 || len(items) <= max {
		return
	}
	type aged struct {
		id     string
		access time.Time
	}
	byAge := make([]aged, 0, len(items))
	for id, item := range items {
		byAge = append(byAge, aged{id, item.LastAccess})
	}
	sort.Slice(byAge, func(i, j int) bool { return byAge[i].access.Before(byAge[j].access) })
	for _, victim := range byAge[:len(items)-max] {
		delete(items, victim.id)
	}
}
