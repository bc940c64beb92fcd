package ports

import (
	"context"

	"github.com/oat-sa/tao-offline-runner/pkg/domain"
)

// Well-known delivery service endpoints.
const (
	EndpointMove       = "move"
	EndpointSkip       = "skip"
	EndpointSubmitItem = "submitItem"
	EndpointGetItem    = "getItem"
	EndpointExitTest   = "exitTest"
	EndpointTimeout    = "timeout"
	EndpointPause      = "pause"
	// EndpointSync replays a batched queue of offline actions.
	EndpointSync = "sync"
	// EndpointUp is the lightweight reachability probe.
	EndpointUp = "up"
)

// Transport is the abstract "send to server" capability. The token and
// HTTP layers live behind it; the proxy only needs failures to be
// distinguishable: a *domain.ConnectivityError means the server is
// unreachable, a *domain.ServerError means it answered with a failure.
type Transport interface {
	// Send delivers a payload to the named endpoint and decodes the
	// authoritative response.
	Send(ctx context.Context, endpoint string, payload any) (*domain.ServerResponse, error)

	// Probe performs the lightweight reachability check. A nil return
	// means the server answered; any error is a connectivity failure.
	Probe(ctx context.Context) error
}
