package control

import (
	"context"
	"fmt"
	"time"

	"github.com/gfhdhytghd/oqqwall/internal/config"
	"github.com/gfhdhytghd/oqqwall/internal/dispatch"
	"github.com/gfhdhytghd/oqqwall/internal/logx"
	"github.com/robfig/cron/v3"
)

// Scheduler flushes groups on their flush_schedule.
type Scheduler struct {
	cron *cron.Cron
	log  logx.Logger
	jobs map[string]cron.EntryID
}

// NewScheduler registers a job for every group in cfg with a schedule. Jobs
// route through l so reloads pick up the current engine.
func NewScheduler(ctx context.Context, cfg *config.Config, l *Listener, log logx.Logger) (*Scheduler, error) {
	s := &Scheduler{cron: cron.New(), log: log, jobs: make(map[string]cron.EntryID)}
	for _, g := range cfg.Groups {
		if g.FlushSchedule == "" {
			continue
		}
		sched, err := config.ParseSchedule(g.FlushSchedule)
		if err != nil {
			return nil, fmt.Errorf("control: group %s schedule %q: %w", g.Name, g.FlushSchedule, err)
		}
		group := g.Name
		id := s.cron.Schedule(sched, cron.FuncJob(func() {
			reply := l.Run(ctx, group, dispatch.TriggerSchedule)
			log.Info("scheduled flush finished", logx.String("group", group), logx.String("reply", reply))
		}))
		s.jobs[group] = id
		log.Info("flush scheduled", logx.String("group", group), logx.String("schedule", g.FlushSchedule),
			logx.Duration("next_in", config.NextFlush(g.FlushSchedule, time.Now())))
	}
	return s, nil
}

// Groups returns the names of scheduled groups.
func (s *Scheduler) Groups() []string {
	out := make([]string, 0, len(s.jobs))
	for g := range s.jobs {
		out = append(out, g)
	}
	return out
}

// Next returns the next fire time for group, if scheduled.
func (s *Scheduler) Next(group string) (time.Time, bool) {
	id, ok := s.jobs[group]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
