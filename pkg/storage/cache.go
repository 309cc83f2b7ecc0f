package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// CacheSurface is the offline response cache maintained by a background
// worker. Reads and writes hit an in-memory map; a worker goroutine
// persists snapshots to a JSON file so cached responses survive a
// restart. The worker coalesces bursts of writes into one flush.
type CacheSurface struct {
	mu     sync.RWMutex
	data   map[string][]byte
	path   string
	dirty  chan struct{}
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// OpenCache loads the cache file at path if present and starts the
// flush worker.
func OpenCache(path string) (*CacheSurface, error) {
	c := &CacheSurface{
		data:  make(map[string][]byte),
		path:  path,
		dirty: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Fresh cache.
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrSurfaceUnavailable, err)
	default:
		var snapshot map[string][]byte
		if err := json.Unmarshal(raw, &snapshot); err == nil {
			c.data = snapshot
		}
		// A corrupt snapshot is discarded; the cache is rebuildable.
	}

	c.wg.Add(1)
	go c.flushWorker()
	return c, nil
}

// Name implements Surface.
func (c *CacheSurface) Name() string { return "cache" }

func (c *CacheSurface) flushWorker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-c.dirty:
			if err := c.flush(); err != nil {
				// The cache is best-effort; a failed flush only costs
				// warm-start data.
				fmt.Fprintf(os.Stderr, "warning: cache flush failed: %v\n", err)
			}
		}
	}
}

func (c *CacheSurface) flush() error {
	c.mu.RLock()
	snapshot, err := json.Marshal(c.data)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("storage: cache: failed to marshal snapshot: %w", err)
	}
	if err := os.WriteFile(c.path, snapshot, 0600); err != nil {
		return fmt.Errorf("storage: cache: failed to write snapshot: %w", err)
	}
	return nil
}

func (c *CacheSurface) markDirty() {
	select {
	case c.dirty <- struct{}{}:
	default:
	}
}

// ListKeys implements Surface.
func (c *CacheSurface) ListKeys(prefix string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrSurfaceUnavailable
	}
	return sortedKeys(c.data, prefix), nil
}

// Get implements Surface.
func (c *CacheSurface) Get(key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrSurfaceUnavailable
	}
	value, ok := c.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put implements Surface.
func (c *CacheSurface) Put(key string, value []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSurfaceUnavailable
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	c.data[key] = stored
	c.mu.Unlock()

	c.markDirty()
	return nil
}

// Delete implements Surface.
func (c *CacheSurface) Delete(key string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSurfaceUnavailable
	}
	delete(c.data, key)
	c.mu.Unlock()

	c.markDirty()
	return nil
}

// ClearNamespace implements Surface. Unlike Put and Delete, the clear
// flushes synchronously: callers wiping the vault must not be told the
// cache is clear while the old snapshot still sits on disk.
func (c *CacheSurface) ClearNamespace(prefix string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSurfaceUnavailable
	}
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
		}
	}
	c.mu.Unlock()

	return c.flush()
}

// Close stops the worker after a final flush.
func (c *CacheSurface) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()
	return c.flush()
}
