package vault

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/painjournal/vaultkit/pkg/audit"
	"github.com/painjournal/vaultkit/pkg/cipher"
	"github.com/painjournal/vaultkit/pkg/storage"
)

const (
	MinRecordIDLength = 1
	MaxRecordIDLength = 256

	// MaxRecordSize bounds a single journal entry. 1 MB is far beyond
	// any plausible entry and keeps a corrupt caller from filling disk.
	MaxRecordSize = 1024 * 1024
)

var (
	ErrRecordIDInvalid = errors.New("vault: record id contains invalid characters")
	ErrRecordTooLarge  = errors.New("vault: record exceeds maximum size")
)

// validateRecordID enforces the id charset: alphanumerics, dash,
// underscore, dot. Dots may not lead or double up.
func validateRecordID(id string) error {
	if len(id) < MinRecordIDLength || len(id) > MaxRecordIDLength {
		return fmt.Errorf("%w: id must be %d-%d characters", ErrRecordIDInvalid, MinRecordIDLength, MaxRecordIDLength)
	}
	for _, r := range id {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.'
		if !ok {
			return fmt.Errorf("%w: %q is not allowed", ErrRecordIDInvalid, r)
		}
	}
	if id[0] == '.' || strings.Contains(id, "..") {
		return fmt.Errorf("%w: id cannot start with or contain consecutive dots", ErrRecordIDInvalid)
	}
	return nil
}

func recordKey(id string) string {
	return storage.RecordPrefix + id
}

// lockRecord serializes writers of one record id. Readers do not take
// the per-record lock; surfaces are individually consistent.
func (c *Controller) lockRecord(id string) func() {
	c.recMu.Lock()
	mu, ok := c.recLock[id]
	if !ok {
		mu = &sync.Mutex{}
		c.recLock[id] = mu
	}
	c.recMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// sessionKey returns the working key, mapping lifecycle states to the
// errors record callers expect.
func (c *Controller) sessionKey() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.currentState() {
	case StateWiped:
		return nil, ErrAlreadyWiped
	case StateUninitialized:
		return nil, ErrNotInitialized
	case StateLocked:
		return nil, ErrVaultLocked
	}
	c.touchActivity()
	return c.keys.SessionKey()
}

// SessionKey exposes the working key to tooling that operates on the
// stores directly, such as the migration pass. It fails unless the
// vault is unlocked.
func (c *Controller) SessionKey() ([]byte, error) {
	return c.sessionKey()
}

// PutRecord encrypts plaintext and stores it under the given id on the
// authoritative surface, then mirrors it to the read-through surfaces.
// Mirror failures are logged, never fatal: the authoritative copy wins.
func (c *Controller) PutRecord(id string, plaintext []byte) error {
	key, err := c.sessionKey()
	if err != nil {
		return err
	}
	if err := validateRecordID(id); err != nil {
		_ = c.audit.LogError(audit.OpRecordPut, id, "INVALID_ID", err.Error())
		return err
	}
	if len(plaintext) > MaxRecordSize {
		_ = c.audit.LogError(audit.OpRecordPut, id, "TOO_LARGE", "record exceeds maximum size")
		return fmt.Errorf("%w: %d bytes, maximum %d", ErrRecordTooLarge, len(plaintext), MaxRecordSize)
	}
	if err := c.checkDiskSpaceForWrite(len(plaintext)); err != nil {
		_ = c.audit.LogError(audit.OpRecordPut, id, "DISK_FULL", err.Error())
		return err
	}

	unlock := c.lockRecord(id)
	defer unlock()

	var rec *cipher.Record
	if c.cfg.IntegrityChecksums {
		rec, err = cipher.EncryptChecked(key, plaintext)
	} else {
		rec, err = cipher.Encrypt(key, plaintext)
	}
	if err != nil {
		_ = c.audit.LogError(audit.OpRecordPut, id, "ENCRYPT_FAILED", err.Error())
		return err
	}
	blob, err := rec.Encode()
	if err != nil {
		return err
	}

	if err := c.primary.Put(recordKey(id), blob); err != nil {
		_ = c.audit.LogError(audit.OpRecordPut, id, "STORE_FAILED", err.Error())
		return err
	}
	for _, m := range c.mirrors {
		if err := m.Put(recordKey(id), blob); err != nil {
			log.Printf("vault: %s mirror write failed for %s: %v", m.Name(), id, err)
		}
	}

	_ = c.audit.LogSuccess(audit.OpRecordPut, id)
	return nil
}

// GetRecord reads and decrypts a record. Mirrors are consulted first;
// on a mirror miss the authoritative surface is read and the mirrors
// backfilled. Records written by the pre-vault app under the old
// unprefixed key scheme are still readable.
//
// After a wipe every record read reports not found; the data is gone,
// not forbidden.
func (c *Controller) GetRecord(id string) ([]byte, error) {
	key, err := c.sessionKey()
	if err != nil {
		if errors.Is(err, ErrAlreadyWiped) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if err := validateRecordID(id); err != nil {
		return nil, err
	}

	blob, fromMirror, err := c.readRecordBlob(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = c.audit.LogError(audit.OpRecordGet, id, "NOT_FOUND", "record not found")
		}
		return nil, err
	}
	if !fromMirror {
		for _, m := range c.mirrors {
			if err := m.Put(recordKey(id), blob); err != nil {
				log.Printf("vault: %s mirror backfill failed for %s: %v", m.Name(), id, err)
			}
		}
	}

	rec, err := cipher.DecodeRecord(blob)
	if err != nil {
		_ = c.audit.LogError(audit.OpRecordGet, id, "CORRUPT", err.Error())
		return nil, err
	}
	plaintext, err := cipher.Decrypt(key, rec)
	if err != nil {
		_ = c.audit.LogError(audit.OpRecordGet, id, "DECRYPT_FAILED", err.Error())
		return nil, err
	}

	_ = c.audit.LogSuccess(audit.OpRecordGet, id)
	return plaintext, nil
}

// readRecordBlob resolves the stored ciphertext for an id, reporting
// whether it came from a mirror.
func (c *Controller) readRecordBlob(id string) ([]byte, bool, error) {
	for _, m := range c.mirrors {
		blob, err := m.Get(recordKey(id))
		if err == nil {
			return blob, true, nil
		}
	}

	blob, err := c.primary.Get(recordKey(id))
	if err == nil {
		return blob, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	// Legacy location: the pre-vault app stored entries unprefixed.
	blob, legacyErr := c.primary.Get(storage.LegacyEntryPrefix + id)
	if legacyErr == nil {
		return blob, false, nil
	}
	if c.primary != c.kv {
		if blob, kvErr := c.kv.Get(storage.LegacyEntryPrefix + id); kvErr == nil {
			return blob, false, nil
		}
	}
	return nil, false, err
}

// DeleteRecord removes a record from every surface. The authoritative
// delete must succeed; mirror deletes are best-effort.
func (c *Controller) DeleteRecord(id string) error {
	if _, err := c.sessionKey(); err != nil {
		return err
	}
	if err := validateRecordID(id); err != nil {
		return err
	}

	unlock := c.lockRecord(id)
	defer unlock()

	if _, err := c.primary.Get(recordKey(id)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = c.audit.LogError(audit.OpRecordDelete, id, "NOT_FOUND", "record not found")
		}
		return err
	}
	if err := c.primary.Delete(recordKey(id)); err != nil {
		_ = c.audit.LogError(audit.OpRecordDelete, id, "DELETE_FAILED", err.Error())
		return err
	}
	for _, m := range c.mirrors {
		if err := m.Delete(recordKey(id)); err != nil {
			log.Printf("vault: %s mirror delete failed for %s: %v", m.Name(), id, err)
		}
	}

	_ = c.audit.LogSuccess(audit.OpRecordDelete, id)
	return nil
}

// ListRecords returns the ids stored on the authoritative surface, in
// sorted order.
func (c *Controller) ListRecords() ([]string, error) {
	if _, err := c.sessionKey(); err != nil {
		return nil, err
	}

	keys, err := c.primary.ListKeys(storage.RecordPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, storage.RecordPrefix))
	}
	return ids, nil
}
