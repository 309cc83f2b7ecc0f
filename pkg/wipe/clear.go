package wipe

import (
	"sync"
	"time"

	"github.com/painjournal/vaultkit/pkg/audit"
	"github.com/painjournal/vaultkit/pkg/storage"
)

// ScopeAll covers every vault-managed namespace, including the legacy
// unprefixed keys of earlier product versions.
func ScopeAll() []string {
	return storage.VaultNamespaces()
}

// ScopeRecords covers only the encrypted journal records.
func ScopeRecords() []string {
	return []string{storage.RecordPrefix, storage.LegacyEntryPrefix}
}

// PendingClear is the handle of a scheduled buffered clear. Cancel
// before the window elapses prevents execution entirely; no partial
// effects occur before the window closes. Once execution begins it
// runs to completion or reports per-surface failure.
type PendingClear struct {
	o     *Orchestrator
	timer *time.Timer
	done  chan struct{}

	mu       sync.Mutex
	canceled bool
	started  bool
	report   *Report
}

// ScheduleBufferedClear marks intent to clear the scoped namespaces and
// starts the grace window. The clear path is UI-initiated, not
// security-triggered: it is not fail-safe and does not finalize vault
// state.
func (o *Orchestrator) ScheduleBufferedClear(prefixes []string, window time.Duration) *PendingClear {
	pc := &PendingClear{o: o, done: make(chan struct{})}

	pc.timer = time.AfterFunc(window, func() {
		pc.mu.Lock()
		if pc.canceled {
			pc.mu.Unlock()
			return
		}
		pc.started = true
		pc.mu.Unlock()

		report := o.clearAll("buffered clear", prefixes)

		pc.mu.Lock()
		pc.report = report
		pc.mu.Unlock()

		if o.audit != nil {
			_ = o.audit.LogSuccess(audit.OpClearExecuted, "")
		}
		close(pc.done)
	})

	if o.audit != nil {
		_ = o.audit.LogSuccess(audit.OpClearScheduled, "")
	}
	return pc
}

// Cancel prevents the clear if its window has not yet elapsed. It
// returns true when the clear was canceled and false when execution
// had already begun; an in-flight clear is not abortable.
func (pc *PendingClear) Cancel() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.started {
		return false
	}
	if !pc.canceled {
		pc.canceled = true
		pc.timer.Stop()
		close(pc.done)
		if pc.o.audit != nil {
			_ = pc.o.audit.LogSuccess(audit.OpClearCanceled, "")
		}
	}
	return true
}

// Canceled reports whether the clear was canceled before execution.
func (pc *PendingClear) Canceled() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.canceled
}

// Wait blocks until the clear executed or was canceled, returning the
// execution report (nil if canceled).
func (pc *PendingClear) Wait() *Report {
	<-pc.done
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.report
}
