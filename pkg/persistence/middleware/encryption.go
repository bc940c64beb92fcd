package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/oat-sa/tao-offline-runner/pkg/domain"
	"github.com/oat-sa/tao-offline-runner/pkg/ports"
)

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type envelope struct {
	Encrypted string `json:"__encrypted__"`
}

// NewItemEncryption wraps an item cache so definitions and submitted
// item state are AES-GCM encrypted at rest. Cache metadata (expiry,
// access times) stays in the clear so eviction keeps working on the
// sealed entries.
func NewItemEncryption(config EncryptionConfig) ItemMiddleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.ItemStore) ports.ItemStore {
		return &itemEncryption{next: next, config: config}
	}
}

type itemEncryption struct {
	next   ports.ItemStore
	config EncryptionConfig
}

func (m *itemEncryption) Has(ctx context.Context, id string) (bool, error) {
	return m.next.Has(ctx, id)
}

func (m *itemEncryption) Get(ctx context.Context, id string) (*domain.CachedItem, error) {
	sealed, err := m.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	opened, err := m.openItem(*sealed)
	if err != nil {
		return nil, err
	}
	return &opened, nil
}

func (m *itemEncryption) Set(ctx context.Context, item domain.CachedItem) error {
	sealed, err := m.sealItem(item)
	if err != nil {
		return err
	}
	return m.next.Set(ctx, sealed)
}

func (m *itemEncryption) Update(ctx context.Context, id string, mutate func(*domain.CachedItem)) error {
	return m.next.Update(ctx, id, func(item *domain.CachedItem) {
		opened, err := m.openItem(*item)
		if err != nil {
			// An undecryptable entry is left untouched rather than
			// corrupted further.
			return
		}
		mutate(&opened)
		sealed, err := m.sealItem(opened)
		if err != nil {
			return
		}
		*item = sealed
	})
}

func (m *itemEncryption) Prune(ctx context.Context) error { return m.next.Prune(ctx) }

func (m *itemEncryption) Clear(ctx context.Context) error { return m.next.Clear(ctx) }

func (m *itemEncryption) Len(ctx context.Context) (int, error) { return m.next.Len(ctx) }

func (m *itemEncryption) SetItemTTL(ttl time.Duration) { m.next.SetItemTTL(ttl) }

func (m *itemEncryption) SetCacheSize(n int) { m.next.SetCacheSize(n) }

func (m *itemEncryption) sealItem(item domain.CachedItem) (domain.CachedItem, error) {
	sealed := item
	var err error
	if len(item.Definition) > 0 {
		sealed.Definition, err = sealRaw(item.Definition, m.config.ActiveKey)
		if err != nil {
			return domain.CachedItem{}, fmt.Errorf("failed to encrypt item definition: %w", err)
		}
	}
	if len(item.ItemState) > 0 {
		sealed.ItemState, err = sealRaw(item.ItemState, m.config.ActiveKey)
		if err != nil {
			return domain.CachedItem{}, fmt.Errorf("failed to encrypt item state: %w", err)
		}
	}
	return sealed, nil
}

func (m *itemEncryption) openItem(item domain.CachedItem) (domain.CachedItem, error) {
	opened := item
	var err error
	if len(item.Definition) > 0 {
		opened.Definition, err = openRaw(item.Definition, m.config)
		if err != nil {
			return domain.CachedItem{}, fmt.Errorf("failed to decrypt item definition: %w", err)
		}
	}
	if len(item.ItemState) > 0 {
		opened.ItemState, err = openRaw(item.ItemState, m.config)
		if err != nil {
			return domain.CachedItem{}, fmt.Errorf("failed to decrypt item state: %w", err)
		}
	}
	return opened, nil
}

// NewActionEncryption wraps an action queue so the recorded parameters,
// which carry the candidate's responses, are encrypted at rest. Action
// metadata (ID, name, timestamp) stays visible for inspection tooling.
func NewActionEncryption(config EncryptionConfig) ActionMiddleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.ActionStore) ports.ActionStore {
		return &actionEncryption{next: next, config: config}
	}
}

type actionEncryption struct {
	next   ports.ActionStore
	config EncryptionConfig
}

func (m *actionEncryption) Push(ctx context.Context, action domain.PendingAction) error {
	sealed, err := m.sealAction(action)
	if err != nil {
		return err
	}
	return m.next.Push(ctx, sealed)
}

func (m *actionEncryption) Flush(ctx context.Context) ([]domain.PendingAction, error) {
	sealed, err := m.next.Flush(ctx)
	if err != nil {
		return nil, err
	}
	return m.openActions(sealed)
}

func (m *actionEncryption) Restore(ctx context.Context, actions []domain.PendingAction) error {
	sealed := make([]domain.PendingAction, 0, len(actions))
	for _, a := range actions {
		s, err := m.sealAction(a)
		if err != nil {
			return err
		}
		sealed = append(sealed, s)
	}
	return m.next.Restore(ctx, sealed)
}

func (m *actionEncryption) Update(ctx context.Context, actionID string, mutate func(*domain.PendingAction)) error {
	return m.next.Update(ctx, actionID, func(action *domain.PendingAction) {
		opened, err := m.openAction(*action)
		if err != nil {
			return
		}
		mutate(&opened)
		sealed, err := m.sealAction(opened)
		if err != nil {
			return
		}
		*action = sealed
	})
}

func (m *actionEncryption) List(ctx context.Context) ([]domain.PendingAction, error) {
	sealed, err := m.next.List(ctx)
	if err != nil {
		return nil, err
	}
	return m.openActions(sealed)
}

func (m *actionEncryption) Len(ctx context.Context) (int, error) {
	return m.next.Len(ctx)
}

func (m *actionEncryption) sealAction(action domain.PendingAction) (domain.PendingAction, error) {
	if action.Parameters == nil {
		return action, nil
	}
	plain, err := json.Marshal(action.Parameters)
	if err != nil {
		return domain.PendingAction{}, fmt.Errorf("failed to marshal parameters: %w", err)
	}
	ciphertext, err := encrypt(plain, m.config.ActiveKey)
	if err != nil {
		return domain.PendingAction{}, fmt.Errorf("failed to encrypt parameters: %w", err)
	}

	sealed := action
	sealed.Parameters = map[string]any{
		"__encrypted__": base64.StdEncoding.EncodeToString(ciphertext),
	}
	return sealed, nil
}

func (m *actionEncryption) openAction(action domain.PendingAction) (domain.PendingAction, error) {
	if action.Parameters == nil {
		return action, nil
	}
	encoded, ok := action.Parameters["__encrypted__"].(string)
	if !ok {
		// Fail secure: with encryption configured, a plain entry is an
		// integrity problem, not a passthrough case.
		return domain.PendingAction{}, errors.New("queued action is missing its encrypted envelope")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return domain.PendingAction{}, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plain, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return domain.PendingAction{}, fmt.Errorf("failed to decrypt parameters: %w", err)
	}

	opened := action
	opened.Parameters = nil
	if err := json.Unmarshal(plain, &opened.Parameters); err != nil {
		return domain.PendingAction{}, fmt.Errorf("failed to unmarshal decrypted parameters: %w", err)
	}
	return opened, nil
}

func (m *actionEncryption) openActions(sealed []domain.PendingAction) ([]domain.PendingAction, error) {
	opened := make([]domain.PendingAction, 0, len(sealed))
	for _, a := range sealed {
		o, err := m.openAction(a)
		if err != nil {
			return nil, err
		}
		opened = append(opened, o)
	}
	return opened, nil
}

// Helpers

func sealRaw(plain json.RawMessage, key []byte) (json.RawMessage, error) {
	ciphertext, err := encrypt(plain, key)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Encrypted: base64.StdEncoding.EncodeToString(ciphertext)})
}

func openRaw(raw json.RawMessage, config EncryptionConfig) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Encrypted == "" {
		return nil, errors.New("cached payload is missing its encrypted envelope")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	return decryptWithRotation(ciphertext, config.ActiveKey, config.FallbackKeys)
}

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	// Try active key first
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	// Try fallbacks in order
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertextBytes := ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertextBytes, nil)
}
