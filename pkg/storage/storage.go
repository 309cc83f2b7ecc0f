// Package storage provides a uniform adapter over the distinct local
// persistence surfaces the product writes to: an in-process store, a
// durable key-value store, a structured local database, and a
// worker-managed response cache. It is the only package permitted to
// speak the native persistence primitives; migration and wipe enumerate
// surfaces exclusively through the Registry.
package storage

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// Reserved key namespaces.
const (
	// VaultPrefix holds all vault-managed records.
	VaultPrefix = "vault/"

	// KeyPrefix is the reserved namespace for wrapped key material.
	KeyPrefix = "vault/keys/"

	// RecordPrefix holds encrypted journal records.
	RecordPrefix = "vault/records/"

	// MetaPrefix holds vault lifecycle metadata (salt, identity, counters).
	MetaPrefix = "vault/meta/"

	// LegacyEntryPrefix is the unprefixed key style of earlier product
	// versions. Recognized so "clear all" and migration scans include it.
	LegacyEntryPrefix = "pain_entry:"
)

// Sentinel errors returned by storage surfaces.
var (
	// ErrNotFound indicates no value exists under the key.
	ErrNotFound = errors.New("storage: key not found")

	// ErrSurfaceUnavailable indicates the underlying surface cannot be
	// reached (closed database, missing file, dead worker).
	ErrSurfaceUnavailable = errors.New("storage: surface unavailable")

	// ErrWriteDenied indicates the surface refused a write.
	ErrWriteDenied = errors.New("storage: write denied")
)

// Surface is one distinct local persistence mechanism. Implementations
// must be safe for concurrent use.
type Surface interface {
	// Name identifies the surface in reports ("memory", "kv", "db", "cache").
	Name() string

	// ListKeys returns all keys under the namespace prefix, sorted.
	ListKeys(prefix string) ([]string, error)

	// Get returns the value stored under key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Put stores value under key, overwriting any previous value.
	Put(key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// ClearNamespace deletes every key under the prefix.
	ClearNamespace(prefix string) error

	// Close releases surface resources.
	Close() error
}

// VaultNamespaces are the prefixes a full scan or clear must cover: the
// reserved vault namespace plus the legacy unprefixed entry keys.
func VaultNamespaces() []string {
	return []string{VaultPrefix, LegacyEntryPrefix}
}

// Registry is an ordered set of surfaces. Any surface added to the
// product must be registered here or it becomes invisible to both the
// wipe orchestrator and the migration tool.
type Registry struct {
	mu       sync.RWMutex
	surfaces []Surface
}

// NewRegistry creates a registry over the given surfaces.
func NewRegistry(surfaces ...Surface) *Registry {
	return &Registry{surfaces: surfaces}
}

// Register appends a surface to the registry.
func (r *Registry) Register(s Surface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surfaces = append(r.surfaces, s)
}

// Surfaces returns a snapshot of the registered surfaces.
func (r *Registry) Surfaces() []Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Surface, len(r.surfaces))
	copy(out, r.surfaces)
	return out
}

// Lookup returns the registered surface with the given name.
func (r *Registry) Lookup(name string) (Surface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.surfaces {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Close closes every registered surface, returning the first error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, s := range r.surfaces {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sortedKeys is shared by the map-backed surfaces.
func sortedKeys(m map[string][]byte, prefix string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
