// Package config loads the runner configuration from YAML or JSON.
package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so configs can say "30s" or "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// EncryptionConfig enables encryption at rest of cached item content
// and queued action parameters.
type EncryptionConfig struct {
	// Key is the active AES-256 key, base64 encoded (32 bytes decoded).
	Key string `yaml:"key" json:"key"`

	// FallbackKeys are previous keys still accepted for decryption, so
	// keys can rotate without losing sealed sessions.
	FallbackKeys []string `yaml:"fallbackKeys" json:"fallbackKeys"`
}

// Enabled reports whether an active key is configured.
func (e EncryptionConfig) Enabled() bool { return e.Key != "" }

// Decode returns the raw active and fallback keys.
func (e EncryptionConfig) Decode() (active []byte, fallbacks [][]byte, err error) {
	active, err = decodeKey(e.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("encryption.key: %w", err)
	}
	for i, encoded := range e.FallbackKeys {
		key, err := decodeKey(encoded)
		if err != nil {
			return nil, nil, fmt.Errorf("encryption.fallbackKeys[%d]: %w", i, err)
		}
		fallbacks = append(fallbacks, key)
	}
	return active, fallbacks, nil
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("expected 32 bytes after decoding, got %d", len(key))
	}
	return key, nil
}

// RedisConfig points the stores at a Redis server.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// Config is the full runner configuration.
type Config struct {
	// ServerURL is the base URL of the test delivery server.
	ServerURL string `yaml:"serverUrl" json:"serverUrl"`

	// Backend selects where items and pending actions are stored:
	// "memory", "file" or "redis".
	Backend string `yaml:"backend" json:"backend"`

	// BasePath is the session directory for the file backend and the
	// export directory root.
	BasePath string `yaml:"basePath" json:"basePath"`

	Redis RedisConfig `yaml:"redis" json:"redis"`

	// Encryption seals cached items and queued parameters at rest when
	// a key is configured.
	Encryption EncryptionConfig `yaml:"encryption" json:"encryption"`

	// Headers are sent with every request, e.g. the session token.
	Headers map[string]string `yaml:"headers" json:"headers"`

	// ItemTTL bounds how long a cached item stays valid.
	ItemTTL Duration `yaml:"itemTtl" json:"itemTtl"`

	// CacheSize caps the number of cached items per session.
	CacheSize int `yaml:"cacheSize" json:"cacheSize"`

	PrefetchWindow int      `yaml:"prefetchWindow" json:"prefetchWindow"`
	PrefetchDelay  Duration `yaml:"prefetchDelay" json:"prefetchDelay"`

	FlushTimeout Duration `yaml:"flushTimeout" json:"flushTimeout"`
	FlushRetries int      `yaml:"flushRetries" json:"flushRetries"`
	ProbeTimeout Duration `yaml:"probeTimeout" json:"probeTimeout"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Backend:        "file",
		BasePath:       ".taorunner",
		ItemTTL:        Duration(15 * time.Minute),
		CacheSize:      10,
		PrefetchWindow: 3,
		PrefetchDelay:  Duration(500 * time.Millisecond),
		FlushTimeout:   Duration(30 * time.Second),
		FlushRetries:   2,
		ProbeTimeout:   Duration(5 * time.Second),
	}
}

// Load reads the configuration file at path. A missing file is not an
// error: the defaults are returned so the runner works out of the box.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the loaded values for obvious mistakes.
func (c *Config) Validate() error {
	switch c.Backend {
	case "memory", "file", "redis":
	default:
		return fmt.Errorf("unknown backend %q (expected memory, file or redis)", c.Backend)
	}
	if c.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis backend requires redis.addr")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cacheSize must not be negative")
	}
	if c.FlushRetries < 0 {
		return fmt.Errorf("flushRetries must not be negative")
	}
	if c.Encryption.Enabled() {
		if _, _, err := c.Encryption.Decode(); err != nil {
			return err
		}
	}
	return nil
}
