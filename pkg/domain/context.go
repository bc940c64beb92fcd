package domain

// SessionState is the delivery state of the assessment session.
type SessionState string

const (
	// SessionInteracting means the test-taker is working on an item.
	SessionInteracting SessionState = "interacting"
	// SessionSuspended means the session is paused and may resume.
	SessionSuspended SessionState = "suspended"
	// SessionClosed means the last item was passed; the session is over.
	SessionClosed SessionState = "closed"
)

// TestContext is the current position within the test. It is externally
// owned; the proxy mutates it only when applying server responses or
// deterministic offline navigation results.
type TestContext struct {
	ItemIdentifier string       `json:"itemIdentifier"`
	ItemPosition   int          `json:"itemPosition"`
	SectionID      string       `json:"sectionId"`
	TestPartID     string       `json:"testPartId"`
	State          SessionState `json:"state"`
}

// Clone returns a copy, so callers can mutate freely.
func (c *TestContext) Clone() *TestContext {
	if c == nil {
		return nil
	}
	next := *c
	return &next
}

// ConnectivityState is the proxy's view of the network.
type ConnectivityState string

const (
	StateOnline       ConnectivityState = "online"
	StateOffline      ConnectivityState = "offline"
	StateReconnecting ConnectivityState = "reconnecting"
)
