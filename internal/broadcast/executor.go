package broadcast

import (
	"context"
	"errors"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	rtsup "weatherbot/internal/runtime/supervisor"
	"weatherbot/internal/subscriber"
	kit "weatherbot/internal/transport"
	"weatherbot/internal/weather"
	logx "weatherbot/pkg/logx"
)

// NewExecutor builds an executor that reads recipients from store, looks up
// conditions through provider and sends with msgr.
func NewExecutor(store subscriber.Store, provider weather.Provider, msgr kit.Messenger, cfg Config, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Executor{
		store:    store,
		provider: provider,
		msgr:     msgr,
		log:      log.With(logx.String("comp", "broadcast")),
	}
	e.Apply(cfg)
	return e
}

// Apply swaps the tuning knobs. A run in progress keeps its snapshot.
func (e *Executor) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	}
	e.mu.Lock()
	e.cfg = cfg
	e.limiter = lim
	e.mu.Unlock()
}

func (e *Executor) snapshot() (Config, *rate.Limiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, e.limiter
}

// Run performs one broadcast and always returns a report. Canceling ctx stops
// dispatching; recipients already in flight fail with the context error.
func (e *Executor) Run(ctx context.Context) Report {
	return e.RunWithTrigger(ctx, "")
}

// RunWithTrigger is Run with the trigger name recorded in the report.
func (e *Executor) RunWithTrigger(ctx context.Context, trigger string) Report {
	cfg, lim := e.snapshot()
	rep := Report{ID: uuid.NewString(), Trigger: trigger, StartedAt: time.Now()}
	log := e.log.With(logx.String("run", rep.ID))
	log.Info("broadcast run started", logx.Int("workers", cfg.Workers), logx.String("trigger", trigger))

	var (
		t        tally
		attempts int
	)
	recipients := make(chan subscriber.Subscriber, cfg.Workers)
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(log))
	for i := 0; i < cfg.Workers; i++ {
		sup.Go0("broadcast.worker."+strconv.Itoa(i), func(c context.Context) {
			for rec := range recipients {
				e.deliver(c, log, cfg, lim, rec, &t)
			}
		})
	}

	listErr := e.produce(ctx, cfg.PageSize, recipients, &attempts)
	close(recipients)
	// Workers exit once the channel drains; ctx bounds each recipient.
	_ = sup.Wait(context.Background())
	sup.Cancel()

	rep.FinishedAt = time.Now()
	rep.Attempted = attempts
	t.mu.Lock()
	rep.Sent, rep.Failed, rep.Fallbacks = t.sent, t.failed, t.fallbacks
	rep.FailedIDs = append([]int64(nil), t.failedIDs...)
	t.mu.Unlock()

	fields := []logx.Field{
		logx.Int("attempted", rep.Attempted),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Int("fallbacks", rep.Fallbacks),
		logx.Duration("dur", rep.Duration()),
	}
	switch {
	case listErr != nil && ctx.Err() != nil:
		rep.Error = "canceled: " + listErr.Error()
		log.Warn("broadcast run canceled", fields...)
	case listErr != nil:
		rep.Error = listErr.Error()
		log.Error("broadcast run aborted: listing recipients failed", append(fields, logx.Err(listErr))...)
	case rep.Failed > 0:
		log.Warn("broadcast run finished with failures", fields...)
	default:
		log.Info("broadcast run finished", fields...)
	}
	return rep
}

// produce pages through eligible subscribers. It returns the listing error,
// or ctx's error when canceled mid-run.
func (e *Executor) produce(ctx context.Context, pageSize int, out chan<- subscriber.Subscriber, attempts *int) error {
	after := int64(0)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := e.store.ListEligible(ctx, after, pageSize)
		if err != nil {
			return err
		}
		for _, rec := range page {
			select {
			case out <- rec:
				*attempts++
			case <-ctx.Done():
				return ctx.Err()
			}
			after = rec.ID
		}
		if len(page) < pageSize {
			return nil
		}
	}
}

// deliver serves one recipient. A panic in the provider or messenger fails
// this recipient only; the worker keeps draining the queue.
func (e *Executor) deliver(ctx context.Context, log logx.Logger, cfg Config, lim *rate.Limiter, rec subscriber.Subscriber, t *tally) {
	rlog := log.With(logx.Int64("external_id", rec.ExternalID), logx.String("location", rec.PreferredLocation))
	defer func() {
		if r := recover(); r != nil {
			rlog.Error("broadcast recipient panicked",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			t.fail(rec.ExternalID)
		}
	}()

	text, ok := e.compose(ctx, rlog, cfg.lookupBudget(), rec)
	if !ok {
		t.mu.Lock()
		t.fallbacks++
		t.mu.Unlock()
	}

	// The send deadline starts after the lookup.
	sctx, cancel := context.WithTimeout(ctx, cfg.RecipientTimeout)
	defer cancel()
	if lim != nil {
		if err := lim.Wait(sctx); err != nil {
			rlog.Warn("broadcast send skipped", logx.Err(err))
			t.fail(rec.ExternalID)
			return
		}
	}
	if _, err := e.msgr.SendText(sctx, kit.ChatTarget{ChatID: rec.ExternalID}, text, nil); err != nil {
		rlog.Warn("broadcast send failed", logx.Err(err))
		t.fail(rec.ExternalID)
		return
	}
	t.mu.Lock()
	t.sent++
	t.mu.Unlock()
}

// compose returns the forecast text, or the fallback text and false.
func (e *Executor) compose(ctx context.Context, log logx.Logger, budget time.Duration, rec subscriber.Subscriber) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	cond, err := e.provider.Current(ctx, rec.PreferredLocation)
	if err != nil {
		if errors.Is(err, weather.ErrCircuitOpen) {
			log.Debug("weather lookup skipped", logx.Err(err))
		} else {
			log.Warn("weather lookup failed", logx.Err(err))
		}
		return weather.FallbackText, false
	}
	return weather.Format(rec.PreferredLocation, cond), true
}
