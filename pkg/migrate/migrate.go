// Package migrate re-encrypts legacy-format records to the current
// authenticated format. The pass is idempotent: records already in the
// current format are skipped unconditionally, so running it twice, or
// resuming after an interruption, converges on the same result. A dry
// run reports what would change without writing anything.
package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/painjournal/vaultkit/pkg/audit"
	"github.com/painjournal/vaultkit/pkg/cipher"
	"github.com/painjournal/vaultkit/pkg/storage"
)

// Options controls a migration pass.
type Options struct {
	// DryRun reports what would be migrated without writing.
	DryRun bool

	// Checksums adds the integrity checksum to re-encrypted records.
	Checksums bool
}

// Failure records one record that could not be migrated. Failures never
// halt the pass; the remaining records are still attempted.
type Failure struct {
	Surface string `json:"surface"`
	Key     string `json:"key"`
	Reason  string `json:"reason"`
}

// Report summarizes a migration pass.
type Report struct {
	Scanned  int       `json:"scanned"`
	Migrated int       `json:"migrated"`
	Skipped  int       `json:"skipped"`
	Failures []Failure `json:"failures,omitempty"`
	DryRun   bool      `json:"dry_run"`
}

// Tool scans every registered surface for legacy records.
type Tool struct {
	registry *storage.Registry
	audit    *audit.Logger
}

// New creates a migration tool over the registry. audit may be nil.
func New(registry *storage.Registry, auditLog *audit.Logger) *Tool {
	return &Tool{registry: registry, audit: auditLog}
}

// recordNamespaces are the prefixes that hold encrypted records. Vault
// metadata (salt, identity, counters) is not record-framed and is never
// touched by migration.
func recordNamespaces() []string {
	return []string{storage.RecordPrefix, storage.LegacyEntryPrefix}
}

// Run migrates every legacy record reachable through the registry,
// re-encrypting under the given working key and writing back to the
// same surface and key. Per-record and per-surface failures are
// collected in the report and never halt the pass; only a canceled
// context aborts early, returning the partial report alongside the
// error.
func (t *Tool) Run(ctx context.Context, key []byte, opts Options) (*Report, error) {
	report := &Report{DryRun: opts.DryRun}

	for _, surface := range t.registry.Surfaces() {
		for _, prefix := range recordNamespaces() {
			keys, err := surface.ListKeys(prefix)
			if err != nil {
				report.Failures = append(report.Failures, Failure{
					Surface: surface.Name(),
					Key:     prefix,
					Reason:  fmt.Sprintf("scan failed: %v", err),
				})
				continue
			}
			for _, k := range keys {
				if err := ctx.Err(); err != nil {
					return report, err
				}
				t.migrateOne(surface, k, key, opts, report)
			}
		}
	}

	if t.audit != nil && !opts.DryRun {
		_ = t.audit.LogSuccess(audit.OpMigrateRun, "")
	}
	return report, nil
}

func (t *Tool) migrateOne(surface storage.Surface, storageKey string, key []byte, opts Options, report *Report) {
	report.Scanned++

	fail := func(reason string) {
		report.Failures = append(report.Failures, Failure{
			Surface: surface.Name(),
			Key:     storageKey,
			Reason:  reason,
		})
	}

	blob, err := surface.Get(storageKey)
	if err != nil {
		fail(err.Error())
		return
	}
	rec, err := cipher.DecodeRecord(blob)
	if err != nil {
		fail("not a record: " + err.Error())
		return
	}
	if !cipher.IsLegacy(rec.Metadata.Version) {
		report.Skipped++
		return
	}

	plaintext, err := cipher.Decrypt(key, rec)
	if err != nil {
		if errors.Is(err, cipher.ErrWrongKey) {
			fail("legacy record rejects the working key")
		} else {
			fail(err.Error())
		}
		return
	}

	if opts.DryRun {
		report.Migrated++
		return
	}

	var current *cipher.Record
	if opts.Checksums {
		current, err = cipher.EncryptChecked(key, plaintext)
	} else {
		current, err = cipher.Encrypt(key, plaintext)
	}
	if err != nil {
		fail(err.Error())
		return
	}
	out, err := current.Encode()
	if err != nil {
		fail(err.Error())
		return
	}
	if err := surface.Put(storageKey, out); err != nil {
		fail(err.Error())
		return
	}
	report.Migrated++
}
