package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	dir := t.TempDir()
	l := NewLogger(dir)
	key := bytes.Repeat([]byte{0x42}, 32)
	if err := l.SetHMACKey(key); err != nil {
		t.Fatalf("SetHMACKey failed: %v", err)
	}
	return l, dir
}

func TestLogAndVerify(t *testing.T) {
	l, _ := newLogger(t)

	if err := l.LogSuccess(OpVaultSetup, ""); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}
	if err := l.LogSuccess(OpRecordPut, "vault/records/entry-1"); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}
	if err := l.LogError(OpVaultUnlockFailed, "", "AUTH_FAILED", "invalid passphrase"); err != nil {
		t.Fatalf("LogError failed: %v", err)
	}

	result, err := l.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("Verify() invalid: %v", result.Errors)
	}
	if result.RecordsTotal != 3 {
		t.Errorf("RecordsTotal = %d, want 3", result.RecordsTotal)
	}
}

func TestLogHidesKeyNames(t *testing.T) {
	l, dir := newLogger(t)

	const keyName = "vault/records/very-private-entry"
	if err := l.LogSuccess(OpRecordGet, keyName); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if len(files) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(files))
	}
	raw, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if strings.Contains(string(raw), keyName) {
		t.Error("raw record key name leaked into audit log")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	l, dir := newLogger(t)

	for i := 0; i < 3; i++ {
		if err := l.LogSuccess(OpRecordPut, "k"); err != nil {
			t.Fatalf("LogSuccess failed: %v", err)
		}
	}

	// Edit the middle record's result field.
	files, _ := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	raw, _ := os.ReadFile(files[0])
	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	var ev Event
	if err := json.Unmarshal(lines[1], &ev); err != nil {
		t.Fatalf("failed to parse line: %v", err)
	}
	ev.Result = ResultError
	edited, _ := json.Marshal(ev)
	lines[1] = edited
	if err := os.WriteFile(files[0], append(bytes.Join(lines, []byte("\n")), '\n'), 0600); err != nil {
		t.Fatalf("failed to rewrite log: %v", err)
	}

	result, err := l.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Valid {
		t.Error("Verify() did not detect an edited record")
	}
}

func TestListEvents(t *testing.T) {
	l, _ := newLogger(t)
	for i := 0; i < 5; i++ {
		if err := l.LogSuccess(OpRecordPut, "k"); err != nil {
			t.Fatalf("LogSuccess failed: %v", err)
		}
	}

	events, err := l.ListEvents(0)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 5 {
		t.Errorf("ListEvents(0) = %d events, want 5", len(events))
	}

	events, err = l.ListEvents(2)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("ListEvents(2) = %d events, want 2", len(events))
	}
	if events[1].Chain.Sequence != 5 {
		t.Errorf("last event sequence = %d, want 5", events[1].Chain.Sequence)
	}
}

func TestLogWithoutKey(t *testing.T) {
	l := NewLogger(t.TempDir())
	if err := l.LogSuccess(OpVaultSetup, ""); err == nil {
		t.Error("Log without HMAC key should fail")
	}
}
