package app

import (
	"context"
	"fmt"

	"weatherbot/internal/broadcast"
	"weatherbot/internal/config"
	"weatherbot/internal/storage"
	"weatherbot/internal/subscriber"
	telegram "weatherbot/internal/transport/telegram/adapter"
	"weatherbot/internal/weather"
	logx "weatherbot/pkg/logx"
)

// Components is the dependency graph shared by the server and the one-shot
// CLI commands.
type Components struct {
	Logs *logx.Service
	Log  logx.Logger

	Adapter     *telegram.Adapter
	Store       subscriber.Store
	Subscribers *subscriber.Service

	Weatherbit *weather.Weatherbit
	Breaker    *weather.Breaker
	Cache      *weather.Cached
	Executor   *broadcast.Executor
}

// Build wires every component from a validated config. On error, anything
// already opened is closed.
func Build(ctx context.Context, cfg *config.Config) (_ *Components, err error) {
	// The adapter exists before logging so the chat sink can send through it.
	ad, err := telegram.New(mapTelegramConfig(cfg), logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logs, log := logx.New(mapLoggingConfig(cfg), ad)

	c := &Components{Logs: logs, Log: log, Adapter: ad}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	c.Store, err = storage.Open(ctx, mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	c.Subscribers = subscriber.NewService(c.Store, log)

	wbCfg, brCfg, ttl := mapWeatherConfig(cfg)
	c.Weatherbit, err = weather.NewWeatherbit(wbCfg)
	if err != nil {
		return nil, err
	}
	c.Breaker = weather.NewBreaker(c.Weatherbit, brCfg)
	c.Cache = weather.NewCached(c.Breaker, ttl)

	c.Executor = broadcast.NewExecutor(c.Store, c.Cache, ad, mapBroadcastConfig(cfg), log)
	return c, nil
}

// Close releases storage and flushes logging.
func (c *Components) Close() error {
	var err error
	if c.Store != nil {
		err = c.Store.Close()
	}
	if c.Logs != nil {
		_ = c.Logs.Close()
	}
	return err
}
