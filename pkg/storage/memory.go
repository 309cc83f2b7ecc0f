package storage

import (
	"strings"
	"sync"
)

// Event notifies a watcher of a change on the in-process surface.
type Event struct {
	Key     string
	Deleted bool
}

// MemorySurface is the in-process reactive store. It survives only for
// the process lifetime and is the fallback surface when durable storage
// is unavailable. Watchers receive change events so UI-facing state can
// observe the vault without polling.
type MemorySurface struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers []watcher
	closed   bool
}

type watcher struct {
	prefix string
	ch     chan Event
}

// NewMemorySurface creates an empty in-process surface.
func NewMemorySurface() *MemorySurface {
	return &MemorySurface{data: make(map[string][]byte)}
}

// Name implements Surface.
func (m *MemorySurface) Name() string { return "memory" }

// Watch returns a channel receiving events for keys under prefix. The
// channel is closed when the surface closes. Slow watchers drop events
// rather than block writers.
func (m *MemorySurface) Watch(prefix string) <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Event, 16)
	if m.closed {
		close(ch)
		return ch
	}
	m.watchers = append(m.watchers, watcher{prefix: prefix, ch: ch})
	return ch
}

func (m *MemorySurface) notify(ev Event) {
	for _, w := range m.watchers {
		if !strings.HasPrefix(ev.Key, w.prefix) {
			continue
		}
		select {
		case w.ch <- ev:
		default:
		}
	}
}

// ListKeys implements Surface.
func (m *MemorySurface) ListKeys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrSurfaceUnavailable
	}
	return sortedKeys(m.data, prefix), nil
}

// Get implements Surface.
func (m *MemorySurface) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrSurfaceUnavailable
	}
	value, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put implements Surface.
func (m *MemorySurface) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSurfaceUnavailable
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = stored
	m.notify(Event{Key: key})
	return nil
}

// Delete implements Surface.
func (m *MemorySurface) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSurfaceUnavailable
	}
	if _, ok := m.data[key]; ok {
		delete(m.data, key)
		m.notify(Event{Key: key, Deleted: true})
	}
	return nil
}

// ClearNamespace implements Surface.
func (m *MemorySurface) ClearNamespace(prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSurfaceUnavailable
	}
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			m.notify(Event{Key: k, Deleted: true})
		}
	}
	return nil
}

// Close implements Surface.
func (m *MemorySurface) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, w := range m.watchers {
		close(w.ch)
	}
	m.watchers = nil
	m.data = make(map[string][]byte)
	return nil
}
