package keymgr

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/painjournal/vaultkit/pkg/cipher"
	"github.com/painjournal/vaultkit/pkg/storage"
)

func newManager(t *testing.T, useKeyring bool) (*Manager, *storage.MemorySurface) {
	t.Helper()
	keyring.MockInit()
	kv := storage.NewMemorySurface()
	t.Cleanup(func() { kv.Close() })
	m := New(kv, "test-vault-id", Config{KDF: cipher.TestKDFParams(), UseKeyring: useKeyring})
	return m, kv
}

func TestDeriveFromPassphrase(t *testing.T) {
	m, _ := newManager(t, false)
	salt, err := cipher.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}

	key := m.DeriveFromPassphrase([]byte("p@ss-1"), salt)
	if len(key) != cipher.KeyLength {
		t.Fatalf("derived key length = %d, want %d", len(key), cipher.KeyLength)
	}

	again := m.DeriveFromPassphrase([]byte("p@ss-1"), salt)
	if !bytes.Equal(key, again) {
		t.Error("same passphrase and salt derived different keys")
	}

	other := m.DeriveFromPassphrase([]byte("wrong"), salt)
	if bytes.Equal(key, other) {
		t.Error("different passphrase derived the same key")
	}
}

func TestDeriveNormalizesPassphrase(t *testing.T) {
	m, _ := newManager(t, false)
	salt, err := cipher.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}

	// "é" composed (U+00E9) vs decomposed (U+0065 U+0301) must unlock
	// the same vault.
	composed := m.DeriveFromPassphrase([]byte("café"), salt)
	decomposed := m.DeriveFromPassphrase([]byte("café"), salt)
	if !bytes.Equal(composed, decomposed) {
		t.Error("NFKC-equivalent passphrases derived different keys")
	}
}

func TestSessionKeyLifecycle(t *testing.T) {
	m, _ := newManager(t, false)

	if _, err := m.SessionKey(); !errors.Is(err, ErrNoSessionKey) {
		t.Errorf("SessionKey() before Store = %v, want ErrNoSessionKey", err)
	}
	if m.HasSessionKey() {
		t.Error("HasSessionKey() = true before Store")
	}

	key := bytes.Repeat([]byte{0xAB}, cipher.KeyLength)
	m.Store(append([]byte{}, key...))

	got, err := m.SessionKey()
	if err != nil {
		t.Fatalf("SessionKey() error = %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Error("SessionKey() returned different key")
	}

	m.Clear()
	if m.HasSessionKey() {
		t.Error("HasSessionKey() = true after Clear")
	}
}

func TestPersistAndLoad(t *testing.T) {
	m, kv := newManager(t, true)

	key := make([]byte, cipher.KeyLength)
	for i := range key {
		key[i] = byte(i)
	}
	m.Store(append([]byte{}, key...))

	if m.IsPersisted() {
		t.Error("IsPersisted() = true before Persist")
	}
	if err := m.Persist(); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if !m.IsPersisted() {
		t.Error("IsPersisted() = false after Persist")
	}

	// The durable surface holds only a wrapped representation.
	blob, err := kv.Get(storage.KeyPrefix + "session")
	if err != nil {
		t.Fatalf("wrapped key not stored: %v", err)
	}
	if bytes.Contains(blob, key) {
		t.Error("plaintext key material found in durable storage")
	}

	// A fresh manager for the same vault restores the key.
	m2 := New(kv, "test-vault-id", Config{KDF: cipher.TestKDFParams(), UseKeyring: true})
	restored, err := m2.LoadPersisted()
	if err != nil {
		t.Fatalf("LoadPersisted() error = %v", err)
	}
	if !bytes.Equal(restored, key) {
		t.Error("LoadPersisted() returned different key")
	}
}

func TestPersistFallsBackWhenSurfaceUnavailable(t *testing.T) {
	keyring.MockInit()
	kv := storage.NewMemorySurface()
	kv.Close() // surface now unavailable
	m := New(kv, "test-vault-id", Config{KDF: cipher.TestKDFParams(), UseKeyring: true})

	m.Store(bytes.Repeat([]byte{1}, cipher.KeyLength))
	err := m.Persist()
	if !errors.Is(err, storage.ErrSurfaceUnavailable) {
		t.Fatalf("Persist() = %v, want ErrSurfaceUnavailable", err)
	}

	// The session must still function on the volatile fallback.
	if m.IsPersisted() {
		t.Error("IsPersisted() = true after failed Persist")
	}
	if !m.HasSessionKey() {
		t.Error("session key lost after failed Persist")
	}
}

func TestPersistWithoutKeyring(t *testing.T) {
	m, kv := newManager(t, false)
	m.Store(bytes.Repeat([]byte{2}, cipher.KeyLength))

	if err := m.Persist(); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if m.IsPersisted() {
		t.Error("IsPersisted() = true with keyring disabled")
	}
	if _, err := kv.Get(storage.KeyPrefix + "session"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("wrapped key written despite keyring disabled")
	}
	if _, err := m.LoadPersisted(); !errors.Is(err, ErrNotPersisted) {
		t.Errorf("LoadPersisted() = %v, want ErrNotPersisted", err)
	}
}

func TestClearRemovesPersistedKey(t *testing.T) {
	m, kv := newManager(t, true)
	m.Store(bytes.Repeat([]byte{3}, cipher.KeyLength))
	if err := m.Persist(); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	m.Clear()

	if _, err := kv.Get(storage.KeyPrefix + "session"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("wrapped key survives Clear")
	}
	m2 := New(kv, "test-vault-id", Config{KDF: cipher.TestKDFParams(), UseKeyring: true})
	if _, err := m2.LoadPersisted(); !errors.Is(err, ErrNotPersisted) {
		t.Errorf("LoadPersisted() after Clear = %v, want ErrNotPersisted", err)
	}
}
