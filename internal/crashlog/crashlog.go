// Package crashlog appends line-oriented diagnostic entries to the crash
// report file. The file is never truncated or rotated here.
package crashlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Causes written by the dispatch path.
const (
	CauseGroupNotFound = "group not found"
	CauseTransmission  = "transmission failed"
	CauseMaxRetries    = "reached maximum retry count"
	CauseRemovalFailed = "removal failed after successful send"
	CauseStaging       = "staging error"
	CauseRenewalFailed = "credential renewal failed"
	CauseBadCommand    = "malformed control command"
)

// Entry is one crash record.
type Entry struct {
	Group     string
	Tags      []int64
	AttemptID string
	Cause     string
	Detail    string
}

// Format renders e as a single line.
func (e Entry) Format(now time.Time) string {
	var b strings.Builder
	b.WriteString(now.Format(time.RFC3339))
	b.WriteString(" group=")
	b.WriteString(orDash(e.Group))
	b.WriteString(" tags=")
	if len(e.Tags) == 0 {
		b.WriteString("-")
	}
	for i, t := range e.Tags {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(strconv.FormatInt(t, 10))
	}
	if e.AttemptID != "" {
		b.WriteString(" attempt=")
		b.WriteString(e.AttemptID)
	}
	b.WriteString(" cause=")
	b.WriteString(strconv.Quote(e.Cause))
	if e.Detail != "" {
		b.WriteString(" detail=")
		b.WriteString(strconv.Quote(e.Detail))
	}
	return b.String()
}

// Log appends entries to Path. Each Append is synced before returning.
type Log struct {
	Path string

	mu  sync.Mutex
	now func() time.Time
}

// New creates a Log writing to path.
func New(path string) *Log {
	return &Log{Path: path, now: time.Now}
}

// Append writes e as one line and fsyncs the file.
func (l *Log) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("crashlog: %w", err)
		}
	}
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("crashlog: open %s: %w", l.Path, err)
	}
	now := time.Now
	if l.now != nil {
		now = l.now
	}
	if _, err := f.WriteString(e.Format(now()) + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("crashlog: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("crashlog: sync: %w", err)
	}
	return f.Close()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
