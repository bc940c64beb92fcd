package domain

import "encoding/json"

// ServerResponse is the authoritative payload returned by the delivery
// service for a single action or a batched synchronization.
type ServerResponse struct {
	Success bool `json:"success"`

	// Code and Message are set on explicit failure payloads.
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// TestContext and TestMap, when present, replace the local copies.
	TestContext *TestContext `json:"testContext,omitempty"`
	TestMap     *TestMap     `json:"testMap,omitempty"`

	// Item carries an item definition for fetch responses.
	Item *CachedItem `json:"item,omitempty"`

	// ItemState echoes the accepted state for submit responses.
	ItemState json.RawMessage `json:"itemState,omitempty"`

	// Results carries per-action outcomes for batched synchronization.
	Results []ActionResult `json:"results,omitempty"`
}

// ActionResult is the per-action outcome of a batched replay.
type ActionResult struct {
	ActionID string `json:"id"`
	Success  bool   `json:"success"`
	Code     int    `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Conflict reports whether the result's code is in the "already applied"
// version/conflict class.
func (r ActionResult) Conflict() bool {
	return !r.Success && r.Code == CodeConflict
}

// SyncBatch is the batched synchronization request replaying the
// offline queue in original submission order.
type SyncBatch struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Actions   []PendingAction `json:"actions"`
}
