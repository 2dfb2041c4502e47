// Package dispatch decides when a group's staged submissions are flushed
// and drives the bounded retry loop that delivers them to the Sender Service.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gfhdhytghd/oqqwall/internal/alert"
	"github.com/gfhdhytghd/oqqwall/internal/compose"
	"github.com/gfhdhytghd/oqqwall/internal/config"
	"github.com/gfhdhytghd/oqqwall/internal/crashlog"
	"github.com/gfhdhytghd/oqqwall/internal/credential"
	"github.com/gfhdhytghd/oqqwall/internal/logx"
	"github.com/gfhdhytghd/oqqwall/internal/models"
	"github.com/gfhdhytghd/oqqwall/internal/notify"
	"github.com/gfhdhytghd/oqqwall/internal/staging"
	"github.com/gfhdhytghd/oqqwall/internal/transport"
	"github.com/google/uuid"
)

// Store is the staging store surface the engine needs.
type Store interface {
	Enqueue(ctx context.Context, group string, sub models.Submission) error
	ListStaged(ctx context.Context, group string) ([]models.StagingRow, error)
	Count(ctx context.Context, group string) (int64, error)
	Remove(ctx context.Context, group string, tags []int64) error
	RecordFlush(ctx context.Context, rec models.FlushRecord) error
}

// Locker serializes work within one group.
type Locker interface {
	Lock(ctx context.Context, group string) (func(), error)
}

// Guard validates and renews an identity's credential blob.
type Guard interface {
	Load(uin string) (json.RawMessage, credential.Status)
	Renew(ctx context.Context, uin string) error
}

// Media reads and purges per-tag image sets.
type Media interface {
	List(tag int64) ([]string, error)
	Remove(tag int64) error
}

// CrashLog receives fatal diagnostics.
type CrashLog interface {
	Append(e crashlog.Entry) error
}

// Deps are the collaborators of an Engine. Notifier and Alerts may be nil.
type Deps struct {
	Store     Store
	Locker    Locker
	Guard     Guard
	Transport transport.Transport
	Media     Media
	Crash     CrashLog
	Notifier  notify.Notifier
	Alerts    alert.Alerter
	Log       logx.Logger
}

// Options tune timeouts and removal reconciliation.
type Options struct {
	SendTimeout    time.Duration
	RenewTimeout   time.Duration
	RemoveAttempts int
	RemoveBackoff  time.Duration
}

const (
	defaultRemoveAttempts = 3
	defaultRemoveBackoff  = 200 * time.Millisecond
)

// Engine runs the stage/flush state machine. Its group table is fixed at
// construction; a config reload builds a new Engine.
type Engine struct {
	groups map[string]config.AccountGroupConfig
	order  []string
	deps   Deps
	opts   Options
}

// New creates an Engine over groups.
func New(groups []config.AccountGroupConfig, deps Deps, opts Options) *Engine {
	if deps.Alerts == nil {
		deps.Alerts = alert.Nop{}
	}
	if opts.RemoveAttempts <= 0 {
		opts.RemoveAttempts = defaultRemoveAttempts
	}
	if opts.RemoveBackoff <= 0 {
		opts.RemoveBackoff = defaultRemoveBackoff
	}
	e := &Engine{groups: make(map[string]config.AccountGroupConfig, len(groups)), deps: deps, opts: opts}
	for _, g := range groups {
		e.groups[g.Name] = g
		e.order = append(e.order, g.Name)
	}
	return e
}

// FromConfig collects every configured group of cfg.
func FromConfig(cfg *config.Config) []config.AccountGroupConfig {
	out := make([]config.AccountGroupConfig, 0, len(cfg.Groups))
	for _, name := range cfg.GroupNames() {
		g, _ := cfg.Group(name)
		out = append(out, g)
	}
	return out
}

// Group returns the named group's config.
func (e *Engine) Group(name string) (config.AccountGroupConfig, bool) {
	g, ok := e.groups[name]
	return g, ok
}

// GroupNames returns group names in configuration order.
func (e *Engine) GroupNames() []string {
	return append([]string(nil), e.order...)
}

// Staged lists group's pending rows.
func (e *Engine) Staged(ctx context.Context, group string) ([]models.StagingRow, error) {
	if _, ok := e.groups[group]; !ok {
		return nil, fmt.Errorf("dispatch: %s: %w", group, ErrGroupNotFound)
	}
	return e.deps.Store.ListStaged(ctx, group)
}

// Enqueue stages sub in its group and flushes when mode is now or the
// staged count reached the group's threshold.
func (e *Engine) Enqueue(ctx context.Context, sub models.Submission, mode Mode, priority int) (Outcome, error) {
	g, err := e.lookup(sub.GroupName, []int64{sub.Tag})
	if err != nil {
		return Outcome{Group: sub.GroupName, State: Idle}, err
	}

	unlock, err := e.deps.Locker.Lock(ctx, g.Name)
	if err != nil {
		return Outcome{Group: g.Name, State: Idle}, err
	}
	defer unlock()

	if err := e.deps.Store.Enqueue(ctx, g.Name, sub); err != nil {
		e.crash(crashlog.Entry{Group: g.Name, Tags: []int64{sub.Tag}, Cause: crashlog.CauseStaging, Detail: err.Error()})
		return Outcome{Group: g.Name, State: Idle}, err
	}

	trigger := TriggerNow
	if mode != ModeNow {
		n, err := e.deps.Store.Count(ctx, g.Name)
		if err != nil {
			e.crash(crashlog.Entry{Group: g.Name, Tags: []int64{sub.Tag}, Cause: crashlog.CauseStaging, Detail: err.Error()})
			return Outcome{Group: g.Name, State: Staged}, err
		}
		if n < int64(g.MaxPostStack) {
			e.deps.Log.Info("submission staged",
				logx.String("group", g.Name), logx.Int64("tag", sub.Tag),
				logx.Int64("staged", n), logx.Int("threshold", g.MaxPostStack))
			return Outcome{Group: g.Name, State: Staged, Tags: []int64{sub.Tag}}, nil
		}
		trigger = TriggerCount
	}
	return e.flushLocked(ctx, g, trigger, priority)
}

// Flush sends everything staged for group. An empty staged set yields
// NoPending without touching the guard or transport.
func (e *Engine) Flush(ctx context.Context, group string, trigger Trigger) (Outcome, error) {
	g, err := e.lookup(group, nil)
	if err != nil {
		return Outcome{Group: group, State: Idle, Trigger: trigger}, err
	}
	unlock, err := e.deps.Locker.Lock(ctx, g.Name)
	if err != nil {
		return Outcome{Group: g.Name, State: Idle, Trigger: trigger}, err
	}
	defer unlock()
	return e.flushLocked(ctx, g, trigger, 0)
}

func (e *Engine) lookup(group string, tags []int64) (config.AccountGroupConfig, error) {
	g, ok := e.groups[group]
	if !ok {
		e.crash(crashlog.Entry{Group: group, Tags: tags, Cause: crashlog.CauseGroupNotFound})
		return g, fmt.Errorf("dispatch: %s: %w", group, ErrGroupNotFound)
	}
	return g, nil
}

// flushLocked runs one flush cycle. The group lock must be held.
func (e *Engine) flushLocked(ctx context.Context, g config.AccountGroupConfig, trigger Trigger, priority int) (Outcome, error) {
	out := Outcome{Group: g.Name, State: Flushing, Trigger: trigger}

	rows, err := e.deps.Store.ListStaged(ctx, g.Name)
	if err != nil {
		e.crash(crashlog.Entry{Group: g.Name, Cause: crashlog.CauseStaging, Detail: err.Error()})
		out.State = Idle
		return out, err
	}
	if len(rows) == 0 {
		out.State = NoPending
		return out, nil
	}

	out.AttemptID = uuid.NewString()
	log := e.deps.Log.With(logx.String("group", g.Name), logx.String("attempt", out.AttemptID))

	items := make([]compose.Item, 0, len(rows))
	for _, r := range rows {
		out.Tags = append(out.Tags, r.Tag)
		imgs, err := e.deps.Media.List(r.Tag)
		if err != nil {
			e.crash(crashlog.Entry{Group: g.Name, Tags: []int64{r.Tag}, AttemptID: out.AttemptID, Cause: crashlog.CauseStaging, Detail: err.Error()})
			out.State = Idle
			return out, err
		}
		items = append(items, compose.Item{Row: r, Images: imgs})
	}
	post, err := compose.Compose(items, compose.Policy{AtUnprivSender: g.AtUnprivSender, MaxImagesPerPost: g.MaxImagesPerPost})
	if err != nil {
		out.State = Idle
		return out, err
	}
	out.Payloads = len(post.Payloads)

	id := g.Identity(rows[0].ReceiverID)
	log = log.With(logx.String("uin", id.UIN))
	log.Info("flush started", logx.String("trigger", string(trigger)), logx.Int64s("tags", out.Tags), logx.Int("payloads", out.Payloads))

	cookies, st := e.deps.Guard.Load(id.UIN)
	if !st.Valid() {
		log.Warn("credential invalid before send", logx.String("reason", st.Reason))
		cookies = e.renew(ctx, log, g.Name, id.UIN, &out)
	}

	maxAttempts := g.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	out.Attempts = 1
	for next := 0; next < len(post.Payloads); {
		p := post.Payloads[next]
		reply, err := e.send(ctx, id.Endpoint, transport.Request{Text: p.Text, Image: p.Images, Cookies: cookies})
		if err == nil && reply == transport.Success {
			log.Debug("payload sent", logx.Int("chunk", next+1), logx.Int("images", len(p.Images)))
			next++
			continue
		}

		if err != nil {
			out.LastError = err.Error()
			log.Error("transport fault", logx.Int("attempt", out.Attempts), logx.Err(err))
			e.crash(crashlog.Entry{Group: g.Name, Tags: out.Tags, AttemptID: out.AttemptID, Cause: crashlog.CauseTransmission, Detail: err.Error()})
			e.deps.Alerts.Alert(ctx, e.event(crashlog.CauseTransmission, alert.ColorWarning, out, err.Error()))
		} else {
			out.LastError = "reply: " + string(reply)
			log.Warn("send rejected", logx.Int("attempt", out.Attempts), logx.String("reply", string(reply)))
		}

		if out.Attempts >= maxAttempts {
			return e.exhausted(ctx, log, out, priority)
		}
		out.Attempts++
		out.State = RetryingWithRenewal
		cookies = e.renew(ctx, log, g.Name, id.UIN, &out)
	}

	return e.succeeded(ctx, log, g, post, out, priority)
}

func (e *Engine) send(ctx context.Context, endpoint string, req transport.Request) (transport.Reply, error) {
	if e.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.SendTimeout)
		defer cancel()
	}
	return e.deps.Transport.Send(ctx, endpoint, req)
}

// renew asks the guard for a fresh blob and returns whatever is stored
// afterwards. Failure is recorded as a sub-cause and never ends the loop.
func (e *Engine) renew(ctx context.Context, log logx.Logger, group, uin string, out *Outcome) json.RawMessage {
	out.Renewals++
	rctx := ctx
	if e.opts.RenewTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, e.opts.RenewTimeout)
		defer cancel()
	}
	if err := e.deps.Guard.Renew(rctx, uin); err != nil {
		log.Warn("credential renewal failed", logx.Err(err))
		e.crash(crashlog.Entry{Group: group, Tags: out.Tags, AttemptID: out.AttemptID, Cause: crashlog.CauseRenewalFailed, Detail: err.Error()})
	}
	cookies, _ := e.deps.Guard.Load(uin)
	return cookies
}

func (e *Engine) exhausted(ctx context.Context, log logx.Logger, out Outcome, priority int) (Outcome, error) {
	out.State = Exhausted
	log.Error("flush exhausted", logx.Int("attempts", out.Attempts), logx.String("last_error", out.LastError))
	e.crash(crashlog.Entry{Group: out.Group, Tags: out.Tags, AttemptID: out.AttemptID, Cause: crashlog.CauseMaxRetries, Detail: out.LastError})
	e.deps.Alerts.Alert(ctx, e.event(crashlog.CauseMaxRetries, alert.ColorCritical, out, out.LastError))
	e.record(ctx, log, out, priority, "exhausted")
	return out, fmt.Errorf("dispatch: %s tags %v: %w", out.Group, out.Tags, ErrExhausted)
}

func (e *Engine) succeeded(ctx context.Context, log logx.Logger, g config.AccountGroupConfig, post compose.Post, out Outcome, priority int) (Outcome, error) {
	out.State = Succeeded
	out.LastError = ""

	// The post is live; from here on nothing may turn this into a failure.
	// Rows left staged are posted again by the next flush, so their media
	// must survive until removal commits.
	if err := e.removeWithRetry(ctx, g.Name, out.Tags); err != nil {
		log.Error("staging removal failed after successful send", logx.Err(err))
		e.crash(crashlog.Entry{Group: g.Name, Tags: out.Tags, AttemptID: out.AttemptID, Cause: crashlog.CauseRemovalFailed, Detail: err.Error()})
	} else {
		for _, tag := range out.Tags {
			if err := e.deps.Media.Remove(tag); err != nil {
				log.Warn("media purge failed", logx.Int64("tag", tag), logx.Err(err))
			}
		}
	}
	if e.deps.Notifier != nil {
		for _, sender := range post.PrivSenders {
			msg := notify.Message{Group: g.Name, Sender: sender, Tags: out.Tags, Text: post.Text}
			if err := e.deps.Notifier.Notify(ctx, msg); err != nil {
				log.Warn("private notification failed", logx.String("sender", sender), logx.Err(err))
			}
		}
	}
	e.record(ctx, log, out, priority, "succeeded")
	log.Info("flush succeeded", logx.Int("attempts", out.Attempts), logx.Int("renewals", out.Renewals))
	return out, nil
}

func (e *Engine) removeWithRetry(ctx context.Context, group string, tags []int64) error {
	var err error
	backoff := e.opts.RemoveBackoff
	for i := 0; i < e.opts.RemoveAttempts; i++ {
		if err = e.deps.Store.Remove(ctx, group, tags); err == nil {
			return nil
		}
		var se *staging.StagingError
		if errors.As(err, &se) && errors.Is(se.Err, staging.ErrGroupNotProvisioned) {
			return err
		}
		if i+1 < e.opts.RemoveAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return err
}

func (e *Engine) record(ctx context.Context, log logx.Logger, out Outcome, priority int, status string) {
	rec := models.FlushRecord{
		AttemptID: out.AttemptID,
		GroupName: out.Group,
		Tags:      staging.EncodeTags(out.Tags),
		Priority:  priority,
		Trigger:   string(out.Trigger),
		Status:    status,
		Attempts:  out.Attempts,
		Payloads:  out.Payloads,
		LastError: out.LastError,
	}
	if err := e.deps.Store.RecordFlush(ctx, rec); err != nil {
		log.Warn("flush audit write failed", logx.Err(err))
	}
}

func (e *Engine) crash(entry crashlog.Entry) {
	if e.deps.Crash == nil {
		return
	}
	if err := e.deps.Crash.Append(entry); err != nil {
		e.deps.Log.Error("crash log write failed", logx.String("cause", entry.Cause), logx.Err(err))
	}
}

func (e *Engine) event(cause, color string, out Outcome, detail string) alert.Event {
	return alert.Event{
		Title: fmt.Sprintf("[%s] %s", out.Group, cause),
		Body:  detail,
		Color: color,
		Fields: []alert.Field{
			{Name: "tags", Value: joinTags(out.Tags), Short: true},
			{Name: "attempt", Value: strconv.Itoa(out.Attempts), Short: true},
			{Name: "id", Value: out.AttemptID},
		},
	}
}

func joinTags(tags []int64) string {
	b := make([]byte, 0, len(tags)*4)
	for i, t := range tags {
		if i > 0 {
			b = append(b, ',')
		}
		b = strconv.AppendInt(b, t, 10)
	}
	return string(b)
}
