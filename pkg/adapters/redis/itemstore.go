// Package redis provides redis-backed adapters for the proxy's ports.
// They suit kiosk-style deployments where a local redis instance keeps
// the cache and the pending queue across browser or process restarts.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/oat-sa/tao-offline-runner/pkg/domain"
)

// farFuture scores entries without an asset expiry (2100-01-01).
const farFuture = 4102444800

// ItemStore implements ports.ItemStore on Redis. Entries live under
// per-session keys; two sorted sets index access time (for LRU
// eviction) and asset expiry (for pruning).
type ItemStore struct {
	client *backend.Client
	prefix string

	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	now     func() time.Time
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

// NewItemStore creates a store from an existing client, keyed by session.
func NewItemStore(client *backend.Client, sessionID string, opts ...ItemStoreOption) *ItemStore {
	s := &ItemStore{
		client: client,
		prefix: "taorunner:" + sessionID + ":",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ItemStore) itemKey(id string) string { return s.prefix + "item:" + id }
func (s *ItemStore) accessKey() string        { return s.prefix + "access" }
func (s *ItemStore) expiryKey() string        { return s.prefix + "expiry" }

func (s *ItemStore) fetch(ctx context.Context, id string) (*domain.CachedItem, error) {
	val, err := s.client.Get(ctx, s.itemKey(id)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrItemNotCached
		}
		return nil, fmt.Errorf("failed to get item from redis: %w", err)
	}
	var item domain.CachedItem
	if err := json.Unmarshal([]byte(val), &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return &item, nil
}

func (s *ItemStore) save(pipe backend.Pipeliner, ctx context.Context, item *domain.CachedItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	pipe.Set(ctx, s.itemKey(item.Identifier), data, 0)
	pipe.ZAdd(ctx, s.accessKey(), backend.Z{
		Score:  float64(item.LastAccess.UnixNano()),
		Member: item.Identifier,
	})
	expiryScore := float64(farFuture)
	if !item.AssetExpiry.IsZero() {
		expiryScore = float64(item.AssetExpiry.Unix())
	}
	pipe.ZAdd(ctx, s.expiryKey(), backend.Z{
		Score:  expiryScore,
		Member: item.Identifier,
	})
	return nil
}

// Has reports whether a live entry exists for id.
func (s *ItemStore) Has(ctx context.Context, id string) (bool, error) {
	item, err := s.fetch(ctx, id)
	if err != nil {
		if err == domain.ErrItemNotCached {
			return false, nil
		}
		return false, err
	}
	return !item.Expired(s.now()), nil
}

// Get retrieves an entry and refreshes its access time.
func (s *ItemStore) Get(ctx context.Context, id string) (*domain.CachedItem, error) {
	item, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Expired(s.now()) {
		return nil, domain.ErrItemNotCached
	}

	item.LastAccess = s.now()
	pipe := s.client.Pipeline()
	if err := s.save(pipe, ctx, item); err != nil {
		return nil, err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to refresh access time: %w", err)
	}
	return item, nil
}

// Set inserts or replaces an entry, evicting least-recently-accessed
// entries beyond the configured size.
func (s *ItemStore) Set(ctx context.Context, item domain.CachedItem) error {
	s.mu.Lock()
	ttl, maxSize := s.ttl, s.maxSize
	s.mu.Unlock()

	if item.AssetExpiry.IsZero() && ttl > 0 {
		item.AssetExpiry = s.now().Add(ttl)
	}
	item.LastAccess = s.now()

	if maxSize > 0 {
		exists, err := s.client.Exists(ctx, s.itemKey(item.Identifier)).Result()
		if err != nil {
			return fmt.Errorf("failed to check item existence: %w", err)
		}
		if exists == 0 {
			if err := s.evictDownTo(ctx, maxSize-1); err != nil {
				return err
			}
		}
	}

	pipe := s.client.Pipeline()
	if err := s.save(pipe, ctx, &item); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save item to redis: %w", err)
	}
	return nil
}

// Update mutates an existing entry in place.
func (s *ItemStore) Update(ctx context.Context, id string, mutate func(*domain.CachedItem)) error {
	item, err := s.fetch(ctx, id)
	if err != nil {
		return err
	}
	mutate(item)

	pipe := s.client.Pipeline()
	if err := s.save(pipe, ctx, item); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update item in redis: %w", err)
	}
	return nil
}

// Prune removes entries whose asset expiry has passed.
// ZREMRANGEBYSCORE on the expiry index drives the cleanup.
func (s *ItemStore) Prune(ctx context.Context) error {
	now := s.now().Unix()
	stale, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &backend.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to find expired items: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}
	return s.remove(ctx, stale)
}

// Clear removes all entries.
func (s *ItemStore) Clear(ctx context.Context) error {
	ids, err := s.client.ZRange(ctx, s.accessKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}
	return s.remove(ctx, ids)
}

// Len returns the number of cached entries.
func (s *ItemStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.accessKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return int(n), nil
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

func (s *ItemStore) evictDownTo(ctx context.Context, max int) error {
	count, err := s.client.ZCard(ctx, s.accessKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to count items: %w", err)
	}
	if int(count) <= max {
		return nil
	}
	// Oldest access times sort first in the access ZSET.
	victims, err := s.client.ZRange(ctx, s.accessKey(), 0, count-int64(max)-1).Result()
	if err != nil {
		return fmt.Errorf("failed to pick eviction victims: %w", err)
	}
	return s.remove(ctx, victims)
}

func (s *ItemStore) remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	pipe := s.client.Pipeline()
	for i, id := range ids {
		pipe.Del(ctx, s.itemKey(id))
		members[i] = id
	}
	pipe.ZRem(ctx, s.accessKey(), members...)
	pipe.ZRem(ctx, s.expiryKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove items: %w", err)
	}
	return nil
}
