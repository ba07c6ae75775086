package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	rtsup "weatherbot/internal/runtime/supervisor"
	kit "weatherbot/internal/transport"
	logx "weatherbot/pkg/logx"
)

// DispatcherConfig sizes the shard queues. Zero values pick defaults.
type DispatcherConfig struct {
	// Shards is the number of serial workers. Updates from one sender always
	// land on the same shard, so one identity is never handled concurrently.
	Shards int
	// QueueSize bounds each shard's backlog; a full shard drops the update.
	QueueSize      int
	DefaultTimeout time.Duration
	DrainTimeout   time.Duration
}

// DispatcherStats counts updates since the dispatcher was built.
type DispatcherStats struct {
	Handled   uint64 `json:"handled"`
	Unmatched uint64 `json:"unmatched"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`

	// Workers is zero while DispatchLoop is not running.
	Workers rtsup.Counters `json:"workers"`
}

// Dispatcher routes updates to commands. Updates from one sender go to the
// same shard and are handled in arrival order.
type Dispatcher struct {
	reg  atomic.Pointer[Registry]
	msgr kit.Messenger
	log  logx.Logger
	cfg  DispatcherConfig

	handled   atomic.Uint64
	unmatched atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

// NewDispatcher returns a dispatcher that replies through msgr.
func NewDispatcher(reg *Registry, msgr kit.Messenger, cfg DispatcherConfig, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 3 * time.Second
	}
	d := &Dispatcher{msgr: msgr, log: log.With(logx.String("comp", "telegram.router")), cfg: cfg}
	d.reg.Store(reg)
	return d
}

func (d *Dispatcher) Registry() *Registry { return d.reg.Load() }

func (d *Dispatcher) Stats() DispatcherStats {
	st := DispatcherStats{
		Handled:   d.handled.Load(),
		Unmatched: d.unmatched.Load(),
		Dropped:   d.dropped.Load(),
		Failed:    d.failed.Load(),
	}
	d.runMu.Lock()
	if d.sup != nil {
		st.Workers = d.sup.Counters()
	}
	d.runMu.Unlock()
	return st
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Queued jobs are drained (bounded by DrainTimeout) before it returns.
func (d *Dispatcher) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(context.WithoutCancel(ctx),
		rtsup.WithLogger(d.log),
		rtsup.WithCancelOnError(false),
	)
	d.runMu.Lock()
	d.sup = sup
	d.runMu.Unlock()

	shards := make([]chan func(), d.cfg.Shards)
	for i := range shards {
		q := make(chan func(), d.cfg.QueueSize)
		shards[i] = q
		idx := i
		sup.GoRestart("command.shard."+strconv.Itoa(idx), func(c context.Context) error {
			for job := range q {
				d.runJob(idx, job)
			}
			return nil
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}
	d.log.Info("command dispatcher started", logx.Int("shards", len(shards)), logx.Int("queue_cap", d.cfg.QueueSize))

	defer func() {
		for _, q := range shards {
			close(q)
		}
		wctx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainTimeout)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		d.runMu.Lock()
		d.sup = nil
		d.runMu.Unlock()
		d.log.Info("command dispatcher stopped", logx.Uint64("handled", d.handled.Load()), logx.Uint64("dropped", d.dropped.Load()))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			d.route(ctx, up, shards)
		}
	}
}

func (d *Dispatcher) runJob(shard int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in command job", logx.Int("shard", shard), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (d *Dispatcher) route(ctx context.Context, up kit.Update, shards []chan func()) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	cmd, args, ok := d.reg.Load().Match(msg.Text)
	if !ok {
		d.unmatched.Add(1)
		d.log.Debug("no command matched", logx.Int64("from_id", msg.FromID), logx.Int64("update_id", up.ID))
		return
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Update:    up,
		Chat:      kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:    msg.FromID,
		Command:   cmd.Name,
		Args:      args,
		ReqID:     rid,
		Messenger: d.msgr,
		Logger: d.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = d.cfg.DefaultTimeout
	}
	final := Wrap(cmd.Handle, Recover(d.log), Audit(d.log), Deadline(timeout))

	job := func() {
		// Handlers outlive the ingestion context so queued work drains on shutdown.
		if err := final(context.WithoutCancel(ctx), req); err != nil {
			d.failed.Add(1)
		}
		d.handled.Add(1)
	}

	q := shards[shardFor(msg.FromID, len(shards))]
	select {
	case q <- job:
	default:
		d.dropped.Add(1)
		req.Logger.Warn("command queue full, update dropped", logx.Int("queue_cap", cap(q)))
	}
}

func shardFor(id int64, n int) int {
	if n <= 1 {
		return 0
	}
	return int(uint64(id) % uint64(n))
}
