package storage

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	bolt "go.etcd.io/bbolt"
)

// recordsBucket holds all vault keys inside the bbolt file.
var recordsBucket = []byte("records")

// KVSurface is the durable key-value store, backed by a single bbolt
// file. It persists across process restarts and holds the wrapped key
// material, vault metadata, and smaller record sets.
type KVSurface struct {
	db   *bolt.DB
	path string
}

// OpenKV opens or creates the bbolt database at path with owner-only
// permissions.
func OpenKV(path string) (*KVSurface, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSurfaceUnavailable, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, mapKVError(err)
	}
	return &KVSurface{db: db, path: path}, nil
}

// Name implements Surface.
func (s *KVSurface) Name() string { return "kv" }

// Path returns the backing file path.
func (s *KVSurface) Path() string { return s.path }

// ListKeys implements Surface.
func (s *KVSurface) ListKeys(prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(recordsBucket).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, mapKVError(err)
	}
	return keys, nil
}

// Get implements Surface.
func (s *KVSurface) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(recordsBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, mapKVError(err)
	}
	return value, nil
}

// Put implements Surface.
func (s *KVSurface) Put(key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).Put([]byte(key), value)
	})
	return mapKVError(err)
}

// Delete implements Surface.
func (s *KVSurface) Delete(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).Delete([]byte(key))
	})
	return mapKVError(err)
}

// ClearNamespace implements Surface.
func (s *KVSurface) ClearNamespace(prefix string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		c := b.Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return mapKVError(err)
}

// Close implements Surface.
func (s *KVSurface) Close() error {
	return s.db.Close()
}

// mapKVError translates bbolt failures into the storage error taxonomy.
func mapKVError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bolt.ErrDatabaseNotOpen):
		return fmt.Errorf("%w: %v", ErrSurfaceUnavailable, err)
	case errors.Is(err, bolt.ErrDatabaseReadOnly), errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", ErrWriteDenied, err)
	default:
		return fmt.Errorf("storage: kv: %w", err)
	}
}
