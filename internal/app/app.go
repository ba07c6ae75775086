package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"weatherbot/internal/bot"
	"weatherbot/internal/config"
	"weatherbot/internal/httpapi"
	"weatherbot/internal/runtime/supervisor"
	"weatherbot/internal/task/scheduler"
	kit "weatherbot/internal/transport"
	"weatherbot/internal/transport/telegram/router"
	logx "weatherbot/pkg/logx"
	"weatherbot/pkg/systemd"
)

// App is the long-running bot process: dispatcher, scheduler, HTTP server
// and config watcher under one supervisor.
type App struct {
	cfgm *config.Manager
	c    *Components
	log  logx.Logger

	disp  *router.Dispatcher
	sched *scheduler.Scheduler
	http  *httpapi.Server

	updates chan kit.Update
	sup     *supervisor.Supervisor
	started time.Time

	mu               sync.Mutex
	broadcastEnabled bool
}

// NewApp loads the config file and wires every component. Nothing runs
// until Start.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(validateSchedule)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	c, err := Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log := c.Log.With(logx.String("comp", "app"))

	handlers := bot.New(c.Subscribers, bot.Options{Timeout: config.DurationOr(cfg.Dispatcher.CommandTimeout, 0)})
	reg, err := handlers.Registry()
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	a := &App{
		cfgm:             cfgm,
		c:                c,
		log:              log,
		disp:             router.NewDispatcher(reg, c.Adapter, mapDispatcherConfig(cfg), c.Log),
		sched:            scheduler.New(mapSchedulerConfig(cfg), c.Executor, c.Log),
		updates:          make(chan kit.Update, updateBuffer(cfg)),
		broadcastEnabled: cfg.Broadcast.Enabled,
	}
	a.http = httpapi.NewServer(c.Log, cfg.HTTP.Addr,
		httpapi.NewWebhookHandler(c.Adapter, cfg.Telegram.WebhookSecret, c.Log),
		httpapi.NewUsersHandler(c.Subscribers),
		httpapi.NewOpsHandler(a.status, a.sched, cfg.HTTP.AdminToken).WithProfiling(cfg.HTTP.Pprof),
	)
	return a, nil
}

func validateSchedule(_ context.Context, cfg *config.Config) error {
	spec := cfg.Broadcast.Schedule
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	if _, _, err := scheduler.Compile(spec); err != nil {
		return fmt.Errorf("broadcast.schedule: %w", err)
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches every component. A component that fails later cancels the
// app; watch Done and Err.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.started = time.Now()
	a.cfgm.SetLogger(a.c.Log.With(logx.String("comp", "config")))
	cfg := a.cfgm.Get()

	if err := a.c.Adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.disp.DispatchLoop(c, a.updates)
	})
	a.sup.Go("http.serve", func(context.Context) error {
		return a.http.Start()
	})

	if cfg.Broadcast.Enabled {
		if err := a.sched.Start(a.sup.Context()); err != nil {
			return err
		}
	} else {
		a.log.Info("scheduled broadcast disabled")
	}

	if !cfg.Telegram.Offline {
		a.sup.GoRestart("telegram.setup", func(c context.Context) error {
			return a.setupProvider(c, cfg)
		}, supervisor.WithRestartBackoff(2*time.Second, time.Minute))
	}

	a.sup.Go0("weather.cache_prune", func(c context.Context) {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				if n := a.c.Cache.Prune(); n > 0 {
					a.log.Debug("weather cache pruned", logx.Int("entries", n))
				}
			}
		}
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		if err := systemd.Watchdog(c); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
		return nil
	})

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("app started", logx.String("http", a.http.Addr()))
	return nil
}

// setupProvider registers the webhook and the command menu. It is retried by
// the supervisor until it succeeds.
func (a *App) setupProvider(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if raw := strings.TrimSpace(cfg.Telegram.WebhookURL); raw != "" {
		endpoint, err := WebhookURL(raw)
		if err != nil {
			a.log.Error("invalid webhook url; not registering", logx.Err(err))
		} else if err := a.c.Adapter.RegisterEndpoint(ctx, endpoint, cfg.Telegram.WebhookSecret); err != nil {
			return fmt.Errorf("register webhook: %w", err)
		} else {
			a.log.Info("webhook registered", logx.String("url", endpoint))
		}
	}
	if err := a.c.Adapter.UpdateMenuCommands(ctx, a.disp.Registry().MenuCommands()); err != nil {
		return fmt.Errorf("update command menu: %w", err)
	}
	return nil
}

// WebhookURL appends the webhook route to a bare base URL. A URL that
// already has a path is used as is.
func WebhookURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", fmt.Errorf("webhook url %q must be absolute http(s)", base)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = httpapi.WebhookPath
	}
	return u.String(), nil
}

type healthBody struct {
	Status     string                 `json:"status"`
	Uptime     string                 `json:"uptime"`
	Supervisor supervisor.Counters    `json:"supervisor"`
	Dispatcher router.DispatcherStats `json:"dispatcher"`
	Weather    weatherHealth          `json:"weather"`
	Broadcast  *scheduler.Snapshot    `json:"broadcast,omitempty"`
}

type weatherHealth struct {
	Failures    int  `json:"consecutive_failures"`
	CircuitOpen bool `json:"circuit_open"`
}

func (a *App) status(context.Context) (any, bool) {
	body := healthBody{Status: "ok"}
	healthy := a.sup != nil && a.sup.Context().Err() == nil
	if !healthy {
		body.Status = "stopping"
	}
	if !a.started.IsZero() {
		body.Uptime = time.Since(a.started).Truncate(time.Second).String()
	}
	body.Supervisor = a.sup.Counters()
	body.Dispatcher = a.disp.Stats()
	body.Weather.Failures, body.Weather.CircuitOpen = a.c.Breaker.State()
	if healthy && body.Weather.CircuitOpen {
		body.Status = "degraded"
	}
	snap := a.sched.Snapshot()
	body.Broadcast = &snap
	return body, healthy
}

// Stop shuts down in dependency order, each step bounded. It always closes
// storage and logs.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.c.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	// Bounded steps so one component cannot stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Stop intake first, then let queued commands drain.
	step("http", 3*time.Second, a.http.Stop)
	step("adapter", 2*time.Second, a.c.Adapter.Stop)
	a.sup.Cancel()
	step("scheduler", 10*time.Second, a.sched.Stop)
	step("supervisor", 5*time.Second, a.sup.Wait)
	step("storage", 2*time.Second, func(context.Context) error { return a.c.Store.Close() })

	a.log.Info("stopped")
	_ = a.c.Logs.Close()
	return nil
}
