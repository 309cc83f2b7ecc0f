// Package wipe implements the two deletion modes of the vault: a
// buffered, cancelable user-initiated clear and an immediate,
// best-effort emergency wipe.
//
// The asymmetry is deliberate. User-visible deletion gets a reversible
// grace window because its threat model is an accidental click; the
// kill-switch wipe gets none because its threat model is an active
// compromise in progress, where delay itself is the risk.
//
// The emergency wipe deletes key material and ciphertext references
// from every registered storage surface. It does not assert zero
// recoverability from the underlying storage hardware; the guarantee is
// crypto-erasure, not physical erasure.
package wipe

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/painjournal/vaultkit/pkg/audit"
	"github.com/painjournal/vaultkit/pkg/storage"
)

// wipeRetries is how many times each surface clear is attempted before
// its failure is recorded.
const wipeRetries = 3

// SurfaceResult is the outcome of clearing one storage surface.
type SurfaceResult struct {
	Surface string `json:"surface"`
	Cleared bool   `json:"cleared"`
	Error   string `json:"error,omitempty"`
}

// Report enumerates per-surface outcomes of a wipe or clear so an
// operator can verify completeness after the fact.
type Report struct {
	Reason       string          `json:"reason,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	PerSurface   []SurfaceResult `json:"per_surface"`
	AlreadyWiped bool            `json:"already_wiped,omitempty"`
}

// Complete reports whether every surface cleared successfully.
func (r *Report) Complete() bool {
	for _, sr := range r.PerSurface {
		if !sr.Cleared {
			return false
		}
	}
	return true
}

// Orchestrator fans deletions out across every registered storage
// surface. One surface failing never blocks attempts on the others.
type Orchestrator struct {
	registry *storage.Registry
	audit    *audit.Logger
	finalize func()

	mu    sync.Mutex
	wiped bool
}

// New creates an orchestrator over the registry. finalize is invoked
// exactly once per vault generation, after an emergency wipe has
// attempted every surface, regardless of per-surface outcomes; the
// vault controller uses it to seal its Wiped state. audit may be nil.
func New(registry *storage.Registry, auditLog *audit.Logger, finalize func()) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		audit:    auditLog,
		finalize: finalize,
	}
}

// EmergencyWipe immediately clears the vault namespaces on every
// registered surface. It is synchronous, retried internally, never
// cancelable, and idempotent: on an already-wiped vault it is a no-op
// success.
func (o *Orchestrator) EmergencyWipe(reason string) *Report {
	o.mu.Lock()
	if o.wiped {
		o.mu.Unlock()
		return &Report{
			Reason:       reason,
			StartedAt:    time.Now().UTC(),
			FinishedAt:   time.Now().UTC(),
			AlreadyWiped: true,
		}
	}
	o.wiped = true
	o.mu.Unlock()

	return o.runWipe(reason)
}

// Rearm clears the idempotency latch so the orchestrator can wipe the
// next vault generation. Called when a new vault is set up after a
// wipe; the latch guards one vault identity, not the process lifetime.
func (o *Orchestrator) Rearm() {
	o.mu.Lock()
	o.wiped = false
	o.mu.Unlock()
}

func (o *Orchestrator) runWipe(reason string) *Report {
	report := o.clearAll(reason, storage.VaultNamespaces())

	if o.finalize != nil {
		o.finalize()
	}

	if o.audit != nil {
		if report.Complete() {
			_ = o.audit.LogSuccess(audit.OpVaultWipe, "")
		} else {
			_ = o.audit.LogError(audit.OpVaultWipe, "", "PARTIAL_WIPE", reason)
		}
	}
	return report
}

// clearAll fans ClearNamespace out across all surfaces and joins the
// results. Errors are collected, never propagated, so no surface can
// short-circuit the others.
func (o *Orchestrator) clearAll(reason string, prefixes []string) *Report {
	surfaces := o.registry.Surfaces()
	report := &Report{
		Reason:     reason,
		StartedAt:  time.Now().UTC(),
		PerSurface: make([]SurfaceResult, len(surfaces)),
	}

	var g errgroup.Group
	for i, s := range surfaces {
		i, s := i, s
		g.Go(func() error {
			report.PerSurface[i] = clearSurface(s, prefixes)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = time.Now().UTC()
	return report
}

func clearSurface(s storage.Surface, prefixes []string) SurfaceResult {
	result := SurfaceResult{Surface: s.Name()}

	var lastErr error
	for attempt := 0; attempt < wipeRetries; attempt++ {
		lastErr = nil
		for _, prefix := range prefixes {
			if err := s.ClearNamespace(prefix); err != nil {
				lastErr = err
				break
			}
		}
		if lastErr == nil {
			result.Cleared = true
			return result
		}
	}

	result.Error = fmt.Sprintf("after %d attempts: %v", wipeRetries, lastErr)
	return result
}
