package app

import (
	"context"
	"strings"
	"time"

	"weatherbot/internal/config"
	logx "weatherbot/pkg/logx"
)

// reloadLoop applies published configs. Bursts are coalesced so only the
// newest value is applied.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			next = cfg
		}
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					next = newer
				}
			default:
				break drain
			}
		}
		a.applyConfig(ctx, last, next)
		last = next
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	ch := config.SummarizeConfigChange(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Debug("config change summary", fields...)
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("some config changes need a restart to take effect",
			logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}

	a.c.Logs.Apply(mapLoggingConfig(next))
	a.c.Executor.Apply(mapBroadcastConfig(next))
	wb, _, _ := mapWeatherConfig(next)
	a.c.Weatherbit.SetTimeout(wb.Timeout)
	if err := a.sched.Apply(mapSchedulerConfig(next)); err != nil {
		a.log.Warn("schedule not applied; keeping previous", logx.Err(err))
	}

	a.mu.Lock()
	wasEnabled := a.broadcastEnabled
	a.broadcastEnabled = next.Broadcast.Enabled
	a.mu.Unlock()
	switch {
	case wasEnabled && !next.Broadcast.Enabled:
		a.log.Info("scheduled broadcast disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.sched.Stop(stopCtx); err != nil {
			a.log.Warn("scheduler stop", logx.Err(err))
		}
		cancel()
	case !wasEnabled && next.Broadcast.Enabled:
		a.log.Info("scheduled broadcast enabled via config")
		if err := a.sched.Start(ctx); err != nil {
			a.log.Warn("scheduler start failed", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(ch.Sections, ",")))
}
