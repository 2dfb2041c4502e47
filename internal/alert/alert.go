// Package alert fans operator alerts out to chat sinks behind a shared rate
// limit. Alert delivery never fails the caller; sink errors are logged.
package alert

import (
	"context"
	"time"

	"github.com/gfhdhytghd/oqqwall/internal/logx"
	"golang.org/x/time/rate"
)

// Colors used for alert severities.
const (
	ColorCritical = "#d73a49"
	ColorWarning  = "#e3b341"
)

// Field is a short key/value shown alongside an alert.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Event is one operator alert.
type Event struct {
	Title  string
	Body   string
	Color  string
	Fields []Field
}

// Sink delivers an Event to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, evt Event) error
}

// Alerter is what the dispatch engine calls.
type Alerter interface {
	Alert(ctx context.Context, evt Event)
}

// Fanout sends each Event to every sink, dropping events beyond the
// configured rate so a failing group cannot flood the channels.
type Fanout struct {
	sinks   []Sink
	limiter *rate.Limiter
	log     logx.Logger
}

// NewFanout creates a Fanout allowing perMinute events per minute (burst of
// perMinute). A non-positive perMinute disables limiting.
func NewFanout(perMinute int, log logx.Logger, sinks ...Sink) *Fanout {
	lim := rate.NewLimiter(rate.Inf, 0)
	if perMinute > 0 {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return &Fanout{sinks: sinks, limiter: lim, log: log}
}

// Len reports the number of configured sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// Alert implements Alerter.
func (f *Fanout) Alert(ctx context.Context, evt Event) {
	if len(f.sinks) == 0 {
		return
	}
	if !f.limiter.Allow() {
		f.log.Warn("alert dropped by rate limit", logx.String("title", evt.Title))
		return
	}
	for _, s := range f.sinks {
		if err := s.Send(ctx, evt); err != nil {
			f.log.Error("alert delivery failed", logx.String("sink", s.Name()), logx.Err(err))
		}
	}
}

// Nop discards alerts.
type Nop struct{}

// Alert implements Alerter.
func (Nop) Alert(context.Context, Event) {}
