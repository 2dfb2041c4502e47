package crashlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEntry_Format(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got := Entry{Group: "main", Tags: []int64{5, 6}, Cause: CauseMaxRetries, Detail: "last reply failed"}.Format(now)
	want := `2026-03-01T12:00:00Z group=main tags=5,6 cause="reached maximum retry count" detail="last reply failed"`
	if got != want {
		t.Errorf("Format = %q\nwant     %q", got, want)
	}

	got = Entry{Cause: CauseGroupNotFound}.Format(now)
	if !strings.Contains(got, "group=- tags=- cause=\"group not found\"") {
		t.Errorf("Format = %q", got)
	}
}

func TestAppend_AccumulatesLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "crash_report.log")
	l := New(path)

	if err := l.Append(Entry{Group: "a", Cause: CauseTransmission}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(Entry{Group: "a", Cause: CauseMaxRetries, AttemptID: "abc"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), data)
	}
	if !strings.Contains(lines[0], CauseTransmission) || !strings.Contains(lines[1], "attempt=abc") {
		t.Errorf("lines = %q", lines)
	}
}
