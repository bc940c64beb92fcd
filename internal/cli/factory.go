// Package cli holds the shared plumbing of the taorunner command:
// backend construction from the configuration and terminal rendering.
package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	goredis "github.com/redis/go-redis/v9"

	taorunner "github.com/oat-sa/tao-offline-runner"
	"github.com/oat-sa/tao-offline-runner/internal/config"
	"github.com/oat-sa/tao-offline-runner/pkg/adapters/file"
	"github.com/oat-sa/tao-offline-runner/pkg/adapters/memory"
	"github.com/oat-sa/tao-offline-runner/pkg/adapters/redis"
	"github.com/oat-sa/tao-offline-runner/pkg/persistence/middleware"
	"github.com/oat-sa/tao-offline-runner/pkg/ports"
)

// Backend bundles the stores behind one session, plus the cleanup for
// whatever connection they hold.
type Backend struct {
	Items    ports.ItemStore
	Actions  ports.ActionStore
	Exporter ports.Exporter
	Close    func() error
}

// SessionsRoot returns the directory holding per-session state for the
// file backend.
func SessionsRoot(cfg config.Config) string {
	return filepath.Join(cfg.BasePath, "sessions")
}

// ExportsRoot returns the directory exported queues are written to.
func ExportsRoot(cfg config.Config) string {
	return filepath.Join(cfg.BasePath, "exports")
}

// BuildBackend constructs the stores selected by cfg.Backend. With an
// encryption key configured, the persistent backends are wrapped so
// item content and action parameters are sealed at rest.
func BuildBackend(cfg config.Config, sessionID string) (*Backend, error) {
	exporter := file.NewExporter(ExportsRoot(cfg))

	var backend *Backend
	switch cfg.Backend {
	case "memory":
		backend = &Backend{
			Items: memory.NewItemStore(
				memory.WithItemTTL(cfg.ItemTTL.Std()),
				memory.WithCacheSize(cfg.CacheSize),
			),
			Actions:  memory.NewActionStore(),
			Exporter: exporter,
			Close:    func() error { return nil },
		}

	case "file":
		root := SessionsRoot(cfg)
		backend = &Backend{
			Items: file.NewItemStore(root, sessionID,
				file.WithItemTTL(cfg.ItemTTL.Std()),
				file.WithCacheSize(cfg.CacheSize),
			),
			Actions:  file.NewActionStore(root, sessionID),
			Exporter: exporter,
			Close:    func() error { return nil },
		}

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		backend = &Backend{
			Items: redis.NewItemStore(client, sessionID,
				redis.WithItemTTL(cfg.ItemTTL.Std()),
				redis.WithCacheSize(cfg.CacheSize),
			),
			Actions:  redis.NewActionStore(client, sessionID),
			Exporter: exporter,
			Close:    client.Close,
		}

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	// The memory backend keeps nothing at rest, so it stays unwrapped.
	if cfg.Backend != "memory" && cfg.Encryption.Enabled() {
		active, fallbacks, err := cfg.Encryption.Decode()
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		enc := middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallbacks}
		backend.Items = middleware.NewItemEncryption(enc)(backend.Items)
		backend.Actions = middleware.NewActionEncryption(enc)(backend.Actions)
	}
	return backend, nil
}

// BuildRunner wires a Runner for sessionID using the configured stores
// and transport.
func BuildRunner(cfg config.Config, sessionID string, logger *slog.Logger) (*taorunner.Runner, *Backend, error) {
	backend, err := BuildBackend(cfg, sessionID)
	if err != nil {
		return nil, nil, err
	}

	opts := []taorunner.Option{
		taorunner.WithServerURL(cfg.ServerURL),
		taorunner.WithItemStore(backend.Items),
		taorunner.WithActionStore(backend.Actions),
		taorunner.WithExporter(backend.Exporter),
		taorunner.WithLogger(logger),
		taorunner.WithPrefetchWindow(cfg.PrefetchWindow),
		taorunner.WithPrefetchDelay(cfg.PrefetchDelay.Std()),
		taorunner.WithFlushTimeout(cfg.FlushTimeout.Std()),
		taorunner.WithFlushRetries(cfg.FlushRetries),
		taorunner.WithProbeTimeout(cfg.ProbeTimeout.Std()),
	}
	for k, v := range cfg.Headers {
		opts = append(opts, taorunner.WithHeader(k, v))
	}

	runner, err := taorunner.New(sessionID, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	return runner, backend, nil
}
