package ports

import (
	"context"
	"time"

	"github.com/oat-sa/tao-offline-runner/pkg/domain"
)

// ItemStore caches item definitions and their latest submitted state.
// Implementations evict least-recently-accessed entries beyond the
// configured size, and prune entries whose asset expiry has passed.
type ItemStore interface {
	// Has reports whether a live (non-expired) entry exists for id.
	Has(ctx context.Context, id string) (bool, error)

	// Get retrieves an entry and refreshes its access time.
	// Returns domain.ErrItemNotCached on a miss.
	Get(ctx context.Context, id string) (*domain.CachedItem, error)

	// Set inserts or replaces an entry, evicting least-recently-accessed
	// entries first if the store would exceed its configured size.
	Set(ctx context.Context, item domain.CachedItem) error

	// Update mutates an existing entry in place.
	// Returns domain.ErrItemNotCached when the entry does not exist.
	Update(ctx context.Context, id string, mutate func(*domain.CachedItem)) error

	// Prune removes entries whose asset expiry has passed. It is purely
	// time-based and independent of size eviction.
	Prune(ctx context.Context) error

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// Len returns the number of cached entries.
	Len(ctx context.Context) (int, error)

	// SetItemTTL sets the default time-to-live applied to entries
	// stored without an explicit asset expiry.
	SetItemTTL(ttl time.Duration)

	// SetCacheSize bounds the store; subsequent insertions trim to at
	// most n entries, least-recently-accessed first. Zero means unbounded.
	SetCacheSize(n int)
}
