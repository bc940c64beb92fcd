package domain

import (
	"context"
	"time"
)

// EventType categorizes observable proxy transitions.
type EventType string

const (
	EventOffline   EventType = "offline"
	EventReconnect EventType = "reconnect"
	EventSynced    EventType = "synced"
	EventConflict  EventType = "conflict"
	EventQueued    EventType = "queued"
	EventPrefetch  EventType = "prefetch"
)

// SyncEvent is emitted on every proxy transition. External collaborators
// (UI layers) subscribe through LifecycleHooks; the proxy itself makes
// no UI calls.
type SyncEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`

	// ActionID is set for queued and conflict events.
	ActionID string `json:"action_id,omitempty"`

	// Pending is the queue depth after the transition, when relevant.
	Pending int `json:"pending,omitempty"`
}

// LifecycleHooks defines callbacks for proxy observability.
// Nil hooks are skipped.
type LifecycleHooks struct {
	OnOffline   func(context.Context, *SyncEvent)
	OnReconnect func(context.Context, *SyncEvent)
	OnSynced    func(context.Context, *SyncEvent)
	OnConflict  func(context.Context, *SyncEvent)
	OnQueued    func(context.Context, *SyncEvent)
	OnPrefetch  func(context.Context, *SyncEvent)
}
