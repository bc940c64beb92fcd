package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// CachedItem holds an item definition and its latest submitted state.
// The definition payload is opaque to the proxy: it is fetched from the
// server and handed back to the rendering layer untouched.
type CachedItem struct {
	// Identifier is the item identifier within the test (e.g. "item-12").
	Identifier string `json:"identifier"`

	// Definition is the raw item payload as returned by the server.
	Definition json.RawMessage `json:"definition"`

	// BaseURL is the asset base for the item. Signed asset URLs expire,
	// which is why AssetExpiry must track the most recent fetch.
	BaseURL string `json:"baseUrl"`

	// AssetExpiry is the instant after which the cached entry is stale.
	AssetExpiry time.Time `json:"assetExpiry"`

	// ItemState is the latest submitted state for the item, updated on
	// every submit so an offline revisit renders the latest answers.
	ItemState json.RawMessage `json:"itemState,omitempty"`

	// LastAccess is bookkeeping for least-recently-accessed eviction.
	// Stores own this field; callers should not set it.
	LastAccess time.Time `json:"lastAccess"`
}

// Expired reports whether the entry's assets are stale at the given instant.
func (c *CachedItem) Expired(now time.Time) bool {
	return !c.AssetExpiry.IsZero() && c.AssetExpiry.Before(now)
}

// PendingAction is a state-changing action awaiting server acknowledgment.
// It lives in exactly one place at any instant: either an in-flight
// network request or the action store, never neither.
type PendingAction struct {
	// ID is unique per action instance: action name + creation timestamp.
	ID string `json:"id"`

	// Action is the server operation name (e.g. "move", "submitItem").
	Action string `json:"action"`

	// Parameters carries the operation payload.
	Parameters map[string]any `json:"parameters"`

	// Timestamp is the creation instant.
	Timestamp time.Time `json:"timestamp"`

	// Offline marks actions that were resolved locally while disconnected.
	Offline bool `json:"offline"`
}

// NewPendingAction creates a PendingAction with a unique ID derived from
// the action name and the creation timestamp.
func NewPendingAction(action string, parameters map[string]any) PendingAction {
	now := time.Now()
	if parameters == nil {
		parameters = make(map[string]any)
	}
	return PendingAction{
		ID:         action + "_" + strconv.FormatInt(now.UnixNano(), 10),
		Action:     action,
		Parameters: parameters,
		Timestamp:  now,
	}
}
