package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// DBSurface is the structured local database surface, backed by SQLite.
// It holds the larger encrypted record sets the key-value surface is not
// suited for.
type DBSurface struct {
	db   *sql.DB
	path string
}

// OpenDB opens or creates the SQLite database at path and ensures the
// records table exists.
func OpenDB(path string) (*DBSurface, error) {
	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSurfaceUnavailable, err)
	}

	// Single-connection mode avoids "database is locked" errors for
	// local single-process usage.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrSurfaceUnavailable, err)
	}

	return &DBSurface{db: db, path: path}, nil
}

// Name implements Surface.
func (s *DBSurface) Name() string { return "db" }

// Path returns the backing file path.
func (s *DBSurface) Path() string { return s.path }

// ListKeys implements Surface.
func (s *DBSurface) ListKeys(prefix string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT key FROM records WHERE key >= ? AND key < ? ORDER BY key",
		prefix, prefix+"\xff")
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("storage: db: failed to scan row: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, mapDBError(err)
	}
	return keys, nil
}

// Get implements Surface.
func (s *DBSurface) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM records WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, mapDBError(err)
	}
	return value, nil
}

// Put implements Surface.
func (s *DBSurface) Put(key string, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO records (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return mapDBError(err)
}

// Delete implements Surface.
func (s *DBSurface) Delete(key string) error {
	_, err := s.db.Exec("DELETE FROM records WHERE key = ?", key)
	return mapDBError(err)
}

// ClearNamespace implements Surface.
func (s *DBSurface) ClearNamespace(prefix string) error {
	_, err := s.db.Exec(
		"DELETE FROM records WHERE key >= ? AND key < ?",
		prefix, prefix+"\xff")
	return mapDBError(err)
}

// Close implements Surface.
func (s *DBSurface) Close() error {
	return s.db.Close()
}

// mapDBError translates database/sql failures into the storage error
// taxonomy.
func mapDBError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrConnDone):
		return fmt.Errorf("%w: %v", ErrSurfaceUnavailable, err)
	default:
		return fmt.Errorf("storage: db: %w", err)
	}
}
