// Package control accepts out-of-band commands, such as a forced flush of
// one group, and routes them into the dispatch engine.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gfhdhytghd/oqqwall/internal/crashlog"
	"github.com/gfhdhytghd/oqqwall/internal/dispatch"
	"github.com/gfhdhytghd/oqqwall/internal/logx"
)

// Replies on the control channel. They are distinct from the Sender
// Service's reply words.
const (
	ReplySuccess   = "success"
	ReplyFailed    = "failed"
	ReplyNoPending = "no pending posts"
)

// ActionFlush is the only supported command action.
const ActionFlush = "flush"

// maxCommandBytes bounds a single command payload.
const maxCommandBytes = 64 << 10

// Command is one control request.
type Command struct {
	Action string `json:"action"`
	Group  string `json:"group"`
}

// Flusher is the engine surface the listener drives.
type Flusher interface {
	Flush(ctx context.Context, group string, trigger dispatch.Trigger) (dispatch.Outcome, error)
}

// Listener turns control commands into flushes. The flusher can be swapped
// when configuration is reloaded; a command in flight keeps the one it
// started with.
type Listener struct {
	mu      sync.RWMutex
	flusher Flusher
	crash   dispatch.CrashLog
	log     logx.Logger
}

// NewListener creates a Listener. crash may be nil.
func NewListener(f Flusher, crash dispatch.CrashLog, log logx.Logger) *Listener {
	return &Listener{flusher: f, crash: crash, log: log}
}

// Swap replaces the flusher used by subsequent commands.
func (l *Listener) Swap(f Flusher) {
	l.mu.Lock()
	l.flusher = f
	l.mu.Unlock()
}

func (l *Listener) current() Flusher {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.flusher
}

// Handle reads one JSON command from r and returns the reply word.
func (l *Listener) Handle(ctx context.Context, r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxCommandBytes))
	if err != nil {
		l.badCommand(fmt.Sprintf("read: %v", err))
		return ReplyFailed
	}
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		l.badCommand(fmt.Sprintf("decode: %v", err))
		return ReplyFailed
	}
	if cmd.Action != ActionFlush {
		l.badCommand(fmt.Sprintf("unsupported action %q", cmd.Action))
		return ReplyFailed
	}
	return l.Run(ctx, cmd.Group, dispatch.TriggerCommand)
}

// Run flushes group and maps the outcome onto the control vocabulary.
func (l *Listener) Run(ctx context.Context, group string, trigger dispatch.Trigger) string {
	out, err := l.current().Flush(ctx, group, trigger)
	return l.reply(group, out, err)
}

func (l *Listener) reply(group string, out dispatch.Outcome, err error) string {
	switch {
	case errors.Is(err, dispatch.ErrGroupNotFound):
		l.log.Warn("flush requested for unknown group", logx.String("group", group))
		return ReplyFailed
	case err != nil:
		l.log.Error("flush failed", logx.String("group", group), logx.String("state", out.State.String()), logx.Err(err))
		return ReplyFailed
	case out.State == dispatch.NoPending:
		l.log.Info("flush requested with nothing staged", logx.String("group", group))
		return ReplyNoPending
	case out.State == dispatch.Succeeded:
		return ReplySuccess
	}
	return ReplyFailed
}

func (l *Listener) badCommand(detail string) {
	l.log.Warn("malformed control command", logx.String("detail", detail))
	if l.crash == nil {
		return
	}
	if err := l.crash.Append(crashlog.Entry{Cause: crashlog.CauseBadCommand, Detail: detail}); err != nil {
		l.log.Error("crash log write failed", logx.Err(err))
	}
}
