package ports

import "context"

// Exporter persists a serialized payload for the user outside the
// running session, used when offering manual export of the undelivered
// queue.
type Exporter interface {
	// Export writes the payload under the given filename and returns
	// the location it was persisted to.
	Export(ctx context.Context, filename string, payload []byte) (string, error)
}
