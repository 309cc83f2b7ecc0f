package wipe

import (
	"testing"
	"time"

	"github.com/painjournal/vaultkit/pkg/storage"
)

// failingSurface simulates an unavailable storage surface.
type failingSurface struct {
	*storage.MemorySurface
	name string
}

func (f *failingSurface) Name() string { return f.name }

func (f *failingSurface) ClearNamespace(prefix string) error {
	return storage.ErrSurfaceUnavailable
}

func seededRegistry(t *testing.T) (*storage.Registry, []*storage.MemorySurface) {
	t.Helper()
	var mems []*storage.MemorySurface
	var surfaces []storage.Surface
	for i := 0; i < 3; i++ {
		m := storage.NewMemorySurface()
		t.Cleanup(func() { m.Close() })
		seed(t, m)
		mems = append(mems, m)
		surfaces = append(surfaces, m)
	}
	return storage.NewRegistry(surfaces...), mems
}

func seed(t *testing.T, s storage.Surface) {
	t.Helper()
	for _, k := range []string{
		storage.RecordPrefix + "entry-1",
		storage.MetaPrefix + "salt",
		storage.KeyPrefix + "session",
		storage.LegacyEntryPrefix + "3",
	} {
		if err := s.Put(k, []byte("x")); err != nil {
			t.Fatalf("seed Put(%q) failed: %v", k, err)
		}
	}
}

func remaining(t *testing.T, s storage.Surface) int {
	t.Helper()
	n := 0
	for _, prefix := range storage.VaultNamespaces() {
		keys, err := s.ListKeys(prefix)
		if err != nil {
			t.Fatalf("ListKeys failed: %v", err)
		}
		n += len(keys)
	}
	return n
}

func TestEmergencyWipeClearsAllSurfaces(t *testing.T) {
	registry, mems := seededRegistry(t)
	finalized := false
	o := New(registry, nil, func() { finalized = true })

	report := o.EmergencyWipe("panic action")

	if !report.Complete() {
		t.Fatalf("wipe incomplete: %+v", report.PerSurface)
	}
	if !finalized {
		t.Error("finalize callback not invoked")
	}
	for _, m := range mems {
		if n := remaining(t, m); n != 0 {
			t.Errorf("surface %s has %d keys after wipe", m.Name(), n)
		}
	}
}

func TestEmergencyWipeToleratesPartialFailure(t *testing.T) {
	m1 := storage.NewMemorySurface()
	m2 := storage.NewMemorySurface()
	defer m1.Close()
	defer m2.Close()
	seed(t, m1)
	seed(t, m2)
	bad := &failingSurface{MemorySurface: storage.NewMemorySurface(), name: "db"}

	registry := storage.NewRegistry(m1, bad, m2)
	finalized := false
	o := New(registry, nil, func() { finalized = true })

	report := o.EmergencyWipe("kill switch")

	if report.Complete() {
		t.Error("report claims completeness despite failing surface")
	}
	if !finalized {
		t.Error("finalize must run even when a surface fails")
	}

	// The failing surface is recorded; the others were still cleared.
	var badResult *SurfaceResult
	for i := range report.PerSurface {
		if report.PerSurface[i].Surface == "db" {
			badResult = &report.PerSurface[i]
		}
	}
	if badResult == nil || badResult.Cleared || badResult.Error == "" {
		t.Errorf("failing surface not reported: %+v", report.PerSurface)
	}
	if n := remaining(t, m1) + remaining(t, m2); n != 0 {
		t.Errorf("%d keys remain on healthy surfaces", n)
	}
}

func TestEmergencyWipeIdempotent(t *testing.T) {
	registry, _ := seededRegistry(t)
	finalizeCount := 0
	o := New(registry, nil, func() { finalizeCount++ })

	first := o.EmergencyWipe("kill switch")
	second := o.EmergencyWipe("kill switch")

	if first.AlreadyWiped {
		t.Error("first wipe reported AlreadyWiped")
	}
	if !second.AlreadyWiped {
		t.Error("second wipe did not report AlreadyWiped")
	}
	if finalizeCount != 1 {
		t.Errorf("finalize ran %d times, want 1", finalizeCount)
	}
}

func TestRearmAllowsNextGenerationWipe(t *testing.T) {
	registry, mems := seededRegistry(t)
	finalizeCount := 0
	o := New(registry, nil, func() { finalizeCount++ })

	if report := o.EmergencyWipe("kill switch"); report.AlreadyWiped {
		t.Fatal("first wipe reported AlreadyWiped")
	}

	// A new vault generation reuses the orchestrator.
	o.Rearm()
	for _, m := range mems {
		seed(t, m)
	}

	report := o.EmergencyWipe("kill switch")
	if report.AlreadyWiped {
		t.Error("wipe after Rearm reported AlreadyWiped")
	}
	for i, m := range mems {
		if n := remaining(t, m); n != 0 {
			t.Errorf("surface %d: %d keys survived the second-generation wipe", i, n)
		}
	}
	if finalizeCount != 2 {
		t.Errorf("finalize ran %d times, want 2", finalizeCount)
	}
}

func TestBufferedClearExecutes(t *testing.T) {
	registry, mems := seededRegistry(t)
	o := New(registry, nil, nil)

	pc := o.ScheduleBufferedClear(ScopeRecords(), 20*time.Millisecond)
	report := pc.Wait()

	if report == nil || !report.Complete() {
		t.Fatalf("buffered clear did not complete: %+v", report)
	}
	for _, m := range mems {
		if keys, _ := m.ListKeys(storage.RecordPrefix); len(keys) != 0 {
			t.Errorf("records remain after buffered clear: %v", keys)
		}
		// Scoped clear leaves vault metadata alone.
		if _, err := m.Get(storage.MetaPrefix + "salt"); err != nil {
			t.Errorf("metadata lost by record-scoped clear: %v", err)
		}
	}
}

func TestBufferedClearCancel(t *testing.T) {
	registry, mems := seededRegistry(t)
	o := New(registry, nil, nil)

	pc := o.ScheduleBufferedClear(ScopeAll(), 250*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	if !pc.Cancel() {
		t.Fatal("Cancel() before window elapsed returned false")
	}
	if report := pc.Wait(); report != nil {
		t.Errorf("canceled clear produced a report: %+v", report)
	}

	// Wait past the original window; nothing may have been cleared.
	time.Sleep(300 * time.Millisecond)
	for _, m := range mems {
		if n := remaining(t, m); n != 4 {
			t.Errorf("surface %s has %d keys after canceled clear, want 4", m.Name(), n)
		}
	}
}

func TestBufferedClearCancelAfterExecution(t *testing.T) {
	registry, _ := seededRegistry(t)
	o := New(registry, nil, nil)

	pc := o.ScheduleBufferedClear(ScopeAll(), time.Millisecond)
	pc.Wait()
	if pc.Cancel() {
		t.Error("Cancel() after execution returned true")
	}
}
