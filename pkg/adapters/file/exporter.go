package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Exporter implements ports.Exporter by writing the payload to a local
// directory, so an undelivered queue can be carried to a connected
// machine for manual replay.
type Exporter struct {
	dir string
}

// NewExporter creates an exporter writing into dir (default: "exports").
func NewExporter(dir string) *Exporter {
	if dir == "" {
		dir = "exports"
	}
	return &Exporter{dir: dir}
}

// Export persists the payload and returns the written path.
func (e *Exporter) Export(ctx context.Context, filename string, payload []byte) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to ensure export directory: %w", err)
	}
	path := filepath.Join(e.dir, filename)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return path, nil
}
