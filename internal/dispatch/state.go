package dispatch

import (
	"errors"
	"fmt"
)

// State is the terminal (or resting) state of one dispatch invocation.
type State int

const (
	Idle State = iota
	Staged
	Flushing
	Succeeded
	RetryingWithRenewal
	Exhausted
	NoPending
)

var stateNames = [...]string{"idle", "staged", "flushing", "succeeded", "retrying", "exhausted", "no pending posts"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Mode is the run-tag trigger mode.
type Mode string

const (
	// ModeStacking enqueues and flushes only when the threshold is reached.
	ModeStacking Mode = "stacking"
	// ModeNow enqueues and flushes immediately.
	ModeNow Mode = "now"
)

// ParseMode validates a run-tag mode argument.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStacking, ModeNow:
		return Mode(s), nil
	}
	return "", fmt.Errorf("dispatch: unknown mode %q (want stacking or now)", s)
}

// Trigger records why a flush started.
type Trigger string

const (
	TriggerCount    Trigger = "count"
	TriggerNow      Trigger = "now"
	TriggerCommand  Trigger = "command"
	TriggerSchedule Trigger = "schedule"
)

var (
	// ErrGroupNotFound means the named group is not configured.
	ErrGroupNotFound = errors.New("group not found")
	// ErrExhausted means the attempt budget ran out without a full success.
	ErrExhausted = errors.New("reached maximum retry count")
)

// Outcome summarizes one invocation.
type Outcome struct {
	Group     string
	State     State
	Trigger   Trigger
	AttemptID string
	Tags      []int64
	Payloads  int
	Attempts  int
	Renewals  int
	LastError string
}
