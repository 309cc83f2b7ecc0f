// Package keymgr owns the working symmetric key for a vault session.
//
// The key is derived from a passphrase with Argon2id and cached in memory
// so repeated record access does not re-run the slow derivation. When the
// durable key-value surface and the OS keyring are both available, a
// wrapped copy of the session key survives a restart: the wrap key lives
// in the keyring, the wrapped blob in the reserved vault/keys/ namespace.
// If either is unavailable the manager falls back to a volatile in-memory
// cache; the session still functions but the key will not survive a
// reload, and IsPersisted reports the fallback.
//
// Plaintext key material is never written to persistent storage.
package keymgr

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/text/unicode/norm"

	"github.com/painjournal/vaultkit/pkg/cipher"
	"github.com/painjournal/vaultkit/pkg/storage"
)

const (
	// keyringService namespaces this app's entries in the OS keyring.
	keyringService = "vaultkit"

	// wrappedKeyName is the storage key of the wrapped session key.
	wrappedKeyName = storage.KeyPrefix + "session"
)

var (
	// ErrNoSessionKey indicates no key is cached for the session.
	ErrNoSessionKey = errors.New("keymgr: no session key")

	// ErrNotPersisted indicates no wrapped key is available to load.
	ErrNotPersisted = errors.New("keymgr: no persisted key")
)

// Manager derives, caches, and optionally persists the session key.
// It is the sole owner of key material while the vault is unlocked.
type Manager struct {
	mu        sync.Mutex
	kv        storage.Surface
	params    cipher.KDFParams
	vaultID   string
	key       []byte
	persisted bool
	keyringOn bool
}

// Config controls key manager behavior.
type Config struct {
	// KDF is the Argon2id cost configuration.
	KDF cipher.KDFParams

	// UseKeyring enables persisting the wrap key in the OS keyring so
	// the session key can survive a restart.
	UseKeyring bool
}

// New creates a Manager persisting to the given durable surface.
// vaultID scopes keyring entries to one vault identity.
func New(kv storage.Surface, vaultID string, cfg Config) *Manager {
	return &Manager{
		kv:        kv,
		params:    cfg.KDF,
		vaultID:   vaultID,
		keyringOn: cfg.UseKeyring,
	}
}

// DeriveFromPassphrase derives the working key from a passphrase and
// salt. The passphrase is NFKC-normalized first so visually identical
// input composed differently unlocks the same vault.
func (m *Manager) DeriveFromPassphrase(passphrase, salt []byte) []byte {
	normalized := norm.NFKC.Bytes(passphrase)
	key := cipher.DeriveKey(normalized, salt, m.params)
	if len(normalized) > 0 && (len(passphrase) == 0 || &normalized[0] != &passphrase[0]) {
		cipher.SecureWipe(normalized)
	}
	return key
}

// Store caches the session key in memory. The manager takes ownership
// of the slice.
func (m *Manager) Store(key []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key != nil {
		cipher.SecureWipe(m.key)
	}
	m.key = key
}

// SessionKey returns the cached session key, or ErrNoSessionKey.
// Callers receive the key for the duration of a single operation and
// must not retain it.
func (m *Manager) SessionKey() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key == nil {
		return nil, ErrNoSessionKey
	}
	return m.key, nil
}

// HasSessionKey reports whether a key is cached.
func (m *Manager) HasSessionKey() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.key != nil
}

// IsPersisted reports whether the session key survived to durable
// storage, so callers can distinguish the volatile fallback.
func (m *Manager) IsPersisted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persisted
}

// Persist writes a wrapped copy of the cached session key to the
// durable surface. The wrap key is random and stored only in the OS
// keyring. Any failure leaves the manager in the volatile fallback and
// returns the underlying storage error.
func (m *Manager) Persist() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.key == nil {
		return ErrNoSessionKey
	}
	m.persisted = false

	if !m.keyringOn {
		return nil
	}

	wrapKey := make([]byte, cipher.KeyLength)
	if _, err := rand.Read(wrapKey); err != nil {
		return fmt.Errorf("keymgr: failed to generate wrap key: %w", err)
	}
	defer cipher.SecureWipe(wrapKey)

	wrapped, err := cipher.Encrypt(wrapKey, m.key)
	if err != nil {
		return fmt.Errorf("keymgr: failed to wrap session key: %w", err)
	}
	blob, err := wrapped.Encode()
	if err != nil {
		return err
	}

	if err := keyring.Set(keyringService, m.vaultID, base64.StdEncoding.EncodeToString(wrapKey)); err != nil {
		return fmt.Errorf("%w: keyring: %v", storage.ErrSurfaceUnavailable, err)
	}
	if err := m.kv.Put(wrappedKeyName, blob); err != nil {
		_ = keyring.Delete(keyringService, m.vaultID)
		return err
	}

	m.persisted = true
	return nil
}

// LoadPersisted restores the session key from the wrapped copy, if one
// exists. On success the key is cached and returned.
func (m *Manager) LoadPersisted() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.keyringOn {
		return nil, ErrNotPersisted
	}

	encoded, err := keyring.Get(keyringService, m.vaultID)
	if err != nil {
		return nil, ErrNotPersisted
	}
	wrapKey, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(wrapKey) != cipher.KeyLength {
		return nil, ErrNotPersisted
	}
	defer cipher.SecureWipe(wrapKey)

	blob, err := m.kv.Get(wrappedKeyName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotPersisted
		}
		return nil, err
	}
	wrapped, err := cipher.DecodeRecord(blob)
	if err != nil {
		return nil, ErrNotPersisted
	}
	key, err := cipher.Decrypt(wrapKey, wrapped)
	if err != nil {
		return nil, ErrNotPersisted
	}

	if m.key != nil {
		cipher.SecureWipe(m.key)
	}
	m.key = key
	m.persisted = true
	return key, nil
}

// Clear drops the in-memory key and best-effort removes the wrapped
// copy and its wrap key. Invoked on lock, wipe, and explicit logout.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.key != nil {
		cipher.SecureWipe(m.key)
		m.key = nil
	}
	m.persisted = false

	// Removal is best-effort: a failure here must never block a lock.
	_ = m.kv.Delete(wrappedKeyName)
	if m.keyringOn {
		_ = keyring.Delete(keyringService, m.vaultID)
	}
}
