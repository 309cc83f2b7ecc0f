package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// openSurfaces builds one of each surface backed by a temp directory.
func openSurfaces(t *testing.T) []Surface {
	t.Helper()
	dir := t.TempDir()

	kv, err := OpenKV(filepath.Join(dir, "vault.kv"))
	if err != nil {
		t.Fatalf("OpenKV failed: %v", err)
	}
	db, err := OpenDB(filepath.Join(dir, "vault.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	cache, err := OpenCache(filepath.Join(dir, "cache.json"))
	if err != nil {
		t.Fatalf("OpenCache failed: %v", err)
	}

	surfaces := []Surface{NewMemorySurface(), kv, db, cache}
	t.Cleanup(func() {
		for _, s := range surfaces {
			s.Close()
		}
	})
	return surfaces
}

func TestSurfaceCRUD(t *testing.T) {
	for _, s := range openSurfaces(t) {
		t.Run(s.Name(), func(t *testing.T) {
			key := RecordPrefix + "entry-1"
			value := []byte(`{"data":"x"}`)

			if _, err := s.Get(key); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() on missing key = %v, want ErrNotFound", err)
			}

			if err := s.Put(key, value); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			got, err := s.Get(key)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !bytes.Equal(got, value) {
				t.Errorf("Get() = %q, want %q", got, value)
			}

			// Overwrite.
			if err := s.Put(key, []byte("v2")); err != nil {
				t.Fatalf("Put() overwrite error = %v", err)
			}
			got, _ = s.Get(key)
			if !bytes.Equal(got, []byte("v2")) {
				t.Errorf("Get() after overwrite = %q, want v2", got)
			}

			if err := s.Delete(key); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := s.Get(key); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() after delete = %v, want ErrNotFound", err)
			}

			// Deleting an absent key is not an error.
			if err := s.Delete(key); err != nil {
				t.Errorf("Delete() on missing key = %v, want nil", err)
			}
		})
	}
}

func TestSurfaceListAndClearNamespace(t *testing.T) {
	for _, s := range openSurfaces(t) {
		t.Run(s.Name(), func(t *testing.T) {
			puts := map[string][]byte{
				RecordPrefix + "a":      []byte("1"),
				RecordPrefix + "b":      []byte("2"),
				MetaPrefix + "salt":     []byte("3"),
				LegacyEntryPrefix + "7": []byte("4"),
			}
			for k, v := range puts {
				if err := s.Put(k, v); err != nil {
					t.Fatalf("Put(%q) error = %v", k, err)
				}
			}

			keys, err := s.ListKeys(RecordPrefix)
			if err != nil {
				t.Fatalf("ListKeys() error = %v", err)
			}
			if len(keys) != 2 || keys[0] != RecordPrefix+"a" || keys[1] != RecordPrefix+"b" {
				t.Errorf("ListKeys(%q) = %v", RecordPrefix, keys)
			}

			keys, err = s.ListKeys(VaultPrefix)
			if err != nil {
				t.Fatalf("ListKeys() error = %v", err)
			}
			if len(keys) != 3 {
				t.Errorf("ListKeys(%q) returned %d keys, want 3", VaultPrefix, len(keys))
			}

			if err := s.ClearNamespace(VaultPrefix); err != nil {
				t.Fatalf("ClearNamespace() error = %v", err)
			}
			keys, _ = s.ListKeys(VaultPrefix)
			if len(keys) != 0 {
				t.Errorf("keys remain after ClearNamespace: %v", keys)
			}

			// Legacy unprefixed keys are untouched by the vault namespace clear.
			if _, err := s.Get(LegacyEntryPrefix + "7"); err != nil {
				t.Errorf("legacy key lost by vault namespace clear: %v", err)
			}
		})
	}
}

func TestKVPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.kv")
	kv, err := OpenKV(path)
	if err != nil {
		t.Fatalf("OpenKV failed: %v", err)
	}
	if err := kv.Put(MetaPrefix+"salt", []byte("persisted")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	kv, err = OpenKV(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer kv.Close()
	got, err := kv.Get(MetaPrefix + "salt")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if !bytes.Equal(got, []byte("persisted")) {
		t.Errorf("Get() after reopen = %q", got)
	}
}

func TestCachePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	c, err := OpenCache(path)
	if err != nil {
		t.Fatalf("OpenCache failed: %v", err)
	}
	if err := c.Put(RecordPrefix+"cached", []byte("warm")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	c, err = OpenCache(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer c.Close()
	got, err := c.Get(RecordPrefix + "cached")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if !bytes.Equal(got, []byte("warm")) {
		t.Errorf("Get() after reopen = %q", got)
	}
}

func TestCacheClearNamespaceFlushesSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	c, err := OpenCache(path)
	if err != nil {
		t.Fatalf("OpenCache failed: %v", err)
	}
	defer c.Close()

	if err := c.Put(RecordPrefix+"entry-1", []byte("CIPHERTEXT")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := c.ClearNamespace(VaultPrefix); err != nil {
		t.Fatalf("ClearNamespace() error = %v", err)
	}

	// The clear must hit disk before returning: a wipe that reports the
	// cache cleared cannot leave the old snapshot behind.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile after clear error = %v", err)
	}
	if bytes.Contains(raw, []byte("entry-1")) {
		t.Errorf("snapshot still holds cleared key: %s", raw)
	}
}

func TestMemoryWatch(t *testing.T) {
	m := NewMemorySurface()
	defer m.Close()

	ch := m.Watch(RecordPrefix)

	if err := m.Put(RecordPrefix+"x", []byte("1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := m.Put(MetaPrefix+"other", []byte("2")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := m.Delete(RecordPrefix + "x"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	ev := <-ch
	if ev.Key != RecordPrefix+"x" || ev.Deleted {
		t.Errorf("first event = %+v, want put of %q", ev, RecordPrefix+"x")
	}
	ev = <-ch
	if ev.Key != RecordPrefix+"x" || !ev.Deleted {
		t.Errorf("second event = %+v, want delete of %q", ev, RecordPrefix+"x")
	}
}

func TestSurfaceClosedReportsUnavailable(t *testing.T) {
	m := NewMemorySurface()
	m.Close()
	if _, err := m.Get("k"); !errors.Is(err, ErrSurfaceUnavailable) {
		t.Errorf("Get() on closed surface = %v, want ErrSurfaceUnavailable", err)
	}
	if err := m.Put("k", nil); !errors.Is(err, ErrSurfaceUnavailable) {
		t.Errorf("Put() on closed surface = %v, want ErrSurfaceUnavailable", err)
	}
}

func TestRegistry(t *testing.T) {
	m := NewMemorySurface()
	defer m.Close()
	r := NewRegistry(m)

	if _, ok := r.Lookup("kv"); ok {
		t.Error("Lookup() found unregistered surface")
	}
	if s, ok := r.Lookup("memory"); !ok || s != Surface(m) {
		t.Error("Lookup() did not return the registered surface")
	}

	r.Register(NewMemorySurface())
	if got := len(r.Surfaces()); got != 2 {
		t.Errorf("Surfaces() returned %d, want 2", got)
	}
}
