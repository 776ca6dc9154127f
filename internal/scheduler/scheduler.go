// Package scheduler runs the poll cycle on a cron cadence.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// State is the scheduler lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateSleeping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	default:
		return "idle"
	}
}

// Cycle is one unit of scheduled work. now is the time the cycle started.
type Cycle func(ctx context.Context, now time.Time)

// Parse parses a standard 5-field cron expression. Expressions that never
// fire are rejected.
func Parse(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	if sched.Next(time.Now()).IsZero() {
		return nil, fmt.Errorf("parse cron %q: schedule never fires", expr)
	}
	return sched, nil
}

// Scheduler computes activation times and runs cycles between sleeps.
type Scheduler struct {
	log *slog.Logger
	now func() time.Time

	mu       sync.RWMutex
	expr     string
	schedule cron.Schedule

	state atomic.Int32
}

// New creates a Scheduler for the cron expression expr.
func New(expr string, log *slog.Logger) (*Scheduler, error) {
	sched, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		log:      log,
		now:      time.Now,
		expr:     expr,
		schedule: sched,
	}, nil
}

// SetExpr replaces the cron expression. It takes effect from the next wait.
func (s *Scheduler) SetExpr(expr string) error {
	sched, err := Parse(expr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	changed := s.expr != expr
	s.expr, s.schedule = expr, sched
	s.mu.Unlock()
	if changed {
		s.log.Info("cron schedule updated", "cron", expr)
	}
	return nil
}

// Expr returns the current cron expression.
func (s *Scheduler) Expr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expr
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Next returns the first activation strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule.Next(t)
}

// Wait returns how long to sleep from the current clock until the first
// activation after from. A non-positive wait is clamped to zero.
func (s *Scheduler) Wait(from time.Time) time.Duration {
	next := s.Next(from)
	d := next.Sub(s.now())
	if d <= 0 {
		s.log.Warn("next activation already passed, running immediately", "next", next, "wait", d)
		return 0
	}
	return d
}

// Sleep blocks for d or until ctx is done, in which case it returns ctx.Err().
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes cycle immediately and then at every activation, blocking
// until ctx is cancelled. A cycle in progress is never interrupted by Run.
func (s *Scheduler) Run(ctx context.Context, cycle Cycle) {
	defer s.state.Store(int32(StateIdle))

	for ctx.Err() == nil {
		s.state.Store(int32(StateRunning))
		cycle(ctx, s.now())

		s.state.Store(int32(StateSleeping))
		end := s.now()
		d := s.Wait(end)
		s.log.Info("sleeping until next cycle", "next", s.Next(end), "wait", d.Round(time.Second))
		if err := Sleep(ctx, d); err != nil {
			if !errors.Is(err, context.Canceled) {
				s.log.Warn("scheduler stopped", "error", err)
			}
			return
		}
		s.state.Store(int32(StateIdle))
	}
}
