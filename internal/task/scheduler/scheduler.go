package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"weatherbot/internal/broadcast"
	logx "weatherbot/pkg/logx"
)

var ErrRunning = errors.New("broadcast run already in progress")

// OverlapPolicy decides what a tick does while a run is in flight.
type OverlapPolicy string

const (
	// OverlapSkip drops a tick that arrives while a run is in flight.
	OverlapSkip OverlapPolicy = "skip"
	// OverlapQueue remembers at most one tick and runs it right after.
	OverlapQueue OverlapPolicy = "queue"
)

// ParseOverlapPolicy accepts "skip", "queue" or "" (skip).
func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch OverlapPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", OverlapSkip:
		return OverlapSkip, nil
	case OverlapQueue:
		return OverlapQueue, nil
	default:
		return "", fmt.Errorf("unknown overlap policy %q (use skip or queue)", s)
	}
}

// Config controls the schedule, overlap handling and run history.
type Config struct {
	Schedule    string
	Timezone    string
	Overlap     OverlapPolicy
	RunTimeout  time.Duration // 0 = unbounded
	HistorySize int
}

// Runner performs one broadcast.
type Runner interface {
	RunWithTrigger(ctx context.Context, trigger string) broadcast.Report
}

type Option func(*Scheduler)

// WithTrigger pins the trigger. Schedule changes in Apply are then ignored.
func WithTrigger(t Trigger) Option {
	return func(s *Scheduler) { s.fixed = t }
}

// Scheduler turns trigger fires into broadcast runs, never two at once.
type Scheduler struct {
	runner Runner
	log    logx.Logger
	fixed  Trigger

	mu        sync.Mutex
	cfg       Config
	trigger   Trigger
	started   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	running   bool
	pending   bool
	wg        sync.WaitGroup

	skipped atomic.Uint64
	runs    atomic.Uint64

	histMu  sync.Mutex
	history []broadcast.Report
}

// New builds a scheduler. The trigger is built from cfg on Start unless
// WithTrigger supplies one.
func New(cfg Config, runner Runner, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{runner: runner, log: log.With(logx.String("comp", "scheduler")), cfg: normalize(cfg)}
	for _, o := range opts {
		o(s)
	}
	return s
}

func normalize(cfg Config) Config {
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = "@daily"
	}
	if cfg.Overlap == "" {
		cfg.Overlap = OverlapSkip
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 20
	}
	return cfg
}

func (s *Scheduler) buildTrigger(cfg Config) (Trigger, error) {
	if s.fixed != nil {
		return s.fixed, nil
	}
	return NewCronTrigger(cfg.Schedule, cfg.Timezone)
}

// Start arms the trigger. Runs use a context derived from ctx's values but
// are only canceled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	t, err := s.buildTrigger(s.cfg)
	if err != nil {
		return err
	}
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	if err := t.Start(s.onTick); err != nil {
		s.runCancel()
		return err
	}
	s.trigger = t
	s.started = true
	s.log.Info("scheduler started", logx.String("schedule", s.cfg.Schedule), logx.String("overlap", string(s.cfg.Overlap)))
	return nil
}

// Stop disarms the trigger and waits for the in-flight run. When ctx expires
// first the run is canceled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	t := s.trigger
	cancel := s.runCancel
	s.trigger = nil
	s.started = false
	s.pending = false
	s.mu.Unlock()

	t.Stop(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		cancel()
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		cancel()
		s.log.Warn("scheduler stop timed out; in-flight run canceled")
		return ctx.Err()
	}
}

// Apply updates the configuration. A changed schedule or timezone swaps the
// trigger; an invalid one keeps the current trigger and returns the error.
func (s *Scheduler) Apply(cfg Config) error {
	cfg = normalize(cfg)
	s.mu.Lock()
	old := s.cfg
	if !s.started || s.fixed != nil || (old.Schedule == cfg.Schedule && old.Timezone == cfg.Timezone) {
		s.cfg = cfg
		s.mu.Unlock()
		return nil
	}
	t, err := s.buildTrigger(cfg)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := t.Start(s.onTick); err != nil {
		s.mu.Unlock()
		return err
	}
	prev := s.trigger
	s.trigger = t
	s.cfg = cfg
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	prev.Stop(ctx)
	cancel()
	s.log.Info("schedule changed", logx.String("from", old.Schedule), logx.String("to", cfg.Schedule))
	return nil
}

func (s *Scheduler) onTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	if s.running {
		if s.cfg.Overlap == OverlapQueue {
			s.pending = true
			s.log.Debug("tick queued behind in-flight run")
			return
		}
		s.skipped.Add(1)
		s.log.Warn("tick skipped: previous run still in progress")
		return
	}
	s.running = true
	s.wg.Add(1)
	go s.loop(s.runCtx, "schedule")
}

// loop runs until no tick is pending. Caller holds the running flag.
func (s *Scheduler) loop(ctx context.Context, trigger string) {
	defer s.wg.Done()
	for {
		s.runOnce(ctx, trigger)
		s.mu.Lock()
		if s.pending && s.started {
			s.pending = false
			s.mu.Unlock()
			trigger = "queued"
			continue
		}
		s.running = false
		s.mu.Unlock()
		return
	}
}

// runOnce runs the broadcast and records its report. A runner panic becomes
// a failed report so the caller always clears the running flag.
func (s *Scheduler) runOnce(ctx context.Context, trigger string) (rep broadcast.Report) {
	s.mu.Lock()
	timeout := s.cfg.RunTimeout
	s.mu.Unlock()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("broadcast run panicked",
				logx.String("trigger", trigger),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			rep = broadcast.Report{
				Trigger:    trigger,
				StartedAt:  started,
				FinishedAt: time.Now(),
				Error:      fmt.Sprintf("panic: %v", r),
			}
		}
		s.runs.Add(1)
		s.record(rep)
	}()
	return s.runner.RunWithTrigger(ctx, trigger)
}

// RunNow runs a broadcast synchronously. It fails with ErrRunning instead of
// overlapping an in-flight run. It works without Start.
func (s *Scheduler) RunNow(ctx context.Context) (broadcast.Report, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return broadcast.Report{}, ErrRunning
	}
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	rep := s.runOnce(ctx, "manual")

	s.mu.Lock()
	if s.pending && s.started {
		s.pending = false
		runCtx := s.runCtx
		s.mu.Unlock()
		// Hand the running flag and wg slot to the queued run.
		go s.loop(runCtx, "queued")
		return rep, nil
	}
	s.running = false
	s.mu.Unlock()
	s.wg.Done()
	return rep, nil
}

func (s *Scheduler) record(rep broadcast.Report) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.histMu.Lock()
	defer s.histMu.Unlock()
	s.history = append(s.history, rep)
	if over := len(s.history) - limit; over > 0 {
		s.history = append([]broadcast.Report(nil), s.history[over:]...)
	}
}

// Snapshot is the scheduler state reported by /healthz.
type Snapshot struct {
	Schedule string             `json:"schedule"`
	Overlap  string             `json:"overlap"`
	Started  bool               `json:"started"`
	Running  bool               `json:"running"`
	Pending  bool               `json:"pending"`
	NextRun  *time.Time         `json:"next_run,omitempty"`
	Runs     uint64             `json:"runs"`
	Skipped  uint64             `json:"skipped"`
	Recent   []broadcast.Report `json:"recent,omitempty"`
}

// Snapshot returns state for health output. Recent is newest first.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Schedule: s.cfg.Schedule,
		Overlap:  string(s.cfg.Overlap),
		Started:  s.started,
		Running:  s.running,
		Pending:  s.pending,
		Runs:     s.runs.Load(),
		Skipped:  s.skipped.Load(),
	}
	if nr, ok := s.trigger.(NextRunner); ok && s.started {
		if next := nr.NextRun(); !next.IsZero() {
			snap.NextRun = &next
		}
	}
	s.mu.Unlock()

	s.histMu.Lock()
	for i := len(s.history) - 1; i >= 0; i-- {
		snap.Recent = append(snap.Recent, s.history[i])
	}
	s.histMu.Unlock()
	return snap
}
