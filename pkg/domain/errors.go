package domain

import (
	"errors"
	"fmt"
)

// ErrItemNotCached is returned by item stores on a cache miss.
var ErrItemNotCached = errors.New("item not cached")

// ErrSessionNotFound is returned when a session ID cannot be found in a store.
var ErrSessionNotFound = errors.New("session not found")

// ConnectivityError wraps a transport failure that indicates the server
// is unreachable. It is transient: the proxy recovers from it locally
// (queue + offline fallback) and never surfaces it raw to the end user.
type ConnectivityError struct {
	Op  string // operation that failed, e.g. "move", "sync", "up"
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity lost during %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// IsConnectivity reports whether err is (or wraps) a ConnectivityError.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// ServerError is a non-transport failure reported by the server.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// Conflict codes reported by the server when a replayed action was
// already applied (version/conflict class).
const (
	CodeConflict      = 409
	CodeUnrecoverable = 403
)

// ConflictError marks a replayed action the server rejected as already
// applied. It is surfaced distinctly and must never be auto-retried,
// since retrying could double-apply test-state mutations.
type ConflictError struct {
	ActionID string
	Code     int
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("action %s conflicts with server state (%d): %s", e.ActionID, e.Code, e.Message)
}

// OfflineNavError means offline movement is impossible: the computed
// target is not cached, or the movement violates navigation rules that
// the local replica can decide without the server.
type OfflineNavError struct {
	Ref    string // target item identifier, when known
	Reason string
	Err    error
}

func (e *OfflineNavError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("offline navigation to %q impossible: %s", e.Ref, e.Reason)
	}
	return "offline navigation impossible: " + e.Reason
}

func (e *OfflineNavError) Unwrap() error { return e.Err }

// UnrecoverableError means the server declared the session itself
// invalid. The session must pause or end; retrying is pointless.
type UnrecoverableError struct {
	Code    int
	Message string
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("session unrecoverable (%d): %s", e.Code, e.Message)
}

// ValidationError is a business-rule rejection from a direct online
// call. It is surfaced to the caller unchanged and never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// BlockedError is returned when a blocking action (exitTest, timeout,
// pause, or forward movement past the last item) is attempted offline.
// The action has been queued; the caller must offer a synchronization
// path (sync now, or export the queue) before the action can resolve.
type BlockedError struct {
	Action PendingAction
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("action %q requires connectivity and was queued; synchronize or export the queue", e.Action.Action)
}
