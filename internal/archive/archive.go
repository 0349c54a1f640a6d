// Package archive periodically retires chats nobody has written to in a
// while.
package archive

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Target archives every active chat idle since before.
type Target interface {
	ArchiveIdle(ctx context.Context, before time.Time) (int, error)
}

// Opts holds parameters for creating a Scheduler.
type Opts struct {
	Target    Target
	Schedule  string        // 5-field cron expression
	IdleAfter time.Duration // chats quieter than this are archived
}

// Scheduler runs the idle sweep on a cron schedule.
type Scheduler struct {
	target    Target
	schedule  cron.Schedule
	idleAfter time.Duration
	now       func() time.Time
}

// New creates a Scheduler.
func New(opts Opts) (*Scheduler, error) {
	if opts.Target == nil {
		return nil, fmt.Errorf("archive: scheduler: target is required")
	}
	if opts.IdleAfter <= 0 {
		return nil, fmt.Errorf("archive: scheduler: idle_after must be positive")
	}
	sched, err := cronParser.Parse(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("archive: scheduler: schedule %q: %w", opts.Schedule, err)
	}
	return &Scheduler{
		target:    opts.Target,
		schedule:  sched,
		idleAfter: opts.IdleAfter,
		now:       time.Now,
	}, nil
}

// Cutoff returns the activity time before which a chat counts as idle.
func (s *Scheduler) Cutoff() time.Time {
	return s.now().Add(-s.idleAfter)
}

// Next returns the duration until the next scheduled sweep.
func (s *Scheduler) Next() time.Duration {
	now := s.now()
	d := s.schedule.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RunOnce performs a single sweep.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.Cutoff()
	n, err := s.target.ArchiveIdle(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("archive: sweep before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return n, nil
}

// Run sweeps on schedule until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(s.Next())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			n, err := s.RunOnce(ctx)
			if err != nil {
				log.Printf("%v", err)
			} else if n > 0 {
				log.Printf("archive: archived %d idle chats", n)
			}
			timer.Reset(s.Next())
		}
	}
}
