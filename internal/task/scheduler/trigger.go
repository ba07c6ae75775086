package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger calls fire whenever a run is due. fire must not block.
type Trigger interface {
	Start(fire func()) error
	Stop(ctx context.Context)
}

// NextRunner is implemented by triggers that know their next fire time.
type NextRunner interface {
	NextRun() time.Time
}

// CronTrigger fires on a robfig/cron schedule.
type CronTrigger struct {
	spec  string
	sched cron.Schedule
	loc   *time.Location

	mu sync.Mutex
	c  *cron.Cron
	id cron.EntryID
}

// NewCronTrigger compiles spec in the given IANA timezone ("" = local).
func NewCronTrigger(spec, timezone string) (*CronTrigger, error) {
	sched, _, err := Compile(spec)
	if err != nil {
		return nil, err
	}
	loc := time.Local
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, err
		}
		loc = l
	}
	return &CronTrigger{spec: spec, sched: sched, loc: loc}, nil
}

// Start begins calling fire on schedule.
func (t *CronTrigger) Start(fire func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return errors.New("trigger already started")
	}
	t.c = cron.New(cron.WithLocation(t.loc))
	t.id = t.c.Schedule(t.sched, cron.FuncJob(fire))
	t.c.Start()
	return nil
}

// Stop halts the cron and waits for a firing callback, bounded by ctx.
func (t *CronTrigger) Stop(ctx context.Context) {
	t.mu.Lock()
	c := t.c
	t.c = nil
	t.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// NextRun reports the next fire time, zero when stopped.
func (t *CronTrigger) NextRun() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c == nil {
		return time.Time{}
	}
	return t.c.Entry(t.id).Next
}

// ManualTrigger fires only when Fire is called.
type ManualTrigger struct {
	mu   sync.Mutex
	fire func()
}

// NewManualTrigger returns a trigger that fires only through Fire.
func NewManualTrigger() *ManualTrigger { return &ManualTrigger{} }

func (t *ManualTrigger) Start(fire func()) error {
	t.mu.Lock()
	t.fire = fire
	t.mu.Unlock()
	return nil
}

func (t *ManualTrigger) Stop(context.Context) {
	t.mu.Lock()
	t.fire = nil
	t.mu.Unlock()
}

// Fire reports whether the trigger was started.
func (t *ManualTrigger) Fire() bool {
	t.mu.Lock()
	f := t.fire
	t.mu.Unlock()
	if f == nil {
		return false
	}
	f()
	return true
}
