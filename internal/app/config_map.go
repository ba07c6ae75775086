package app

import (
	"time"

	"weatherbot/internal/broadcast"
	"weatherbot/internal/config"
	"weatherbot/internal/task/scheduler"
	telegram "weatherbot/internal/transport/telegram/adapter"
	"weatherbot/internal/transport/telegram/router"
	"weatherbot/internal/weather"
	logx "weatherbot/pkg/logx"
)

const defaultCacheTTL = 10 * time.Minute

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lc.Chat.Enabled,
			ChatID:     lc.Chat.ChatID,
			MinLevel:   lc.Chat.MinLevel,
			RatePerSec: lc.Chat.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		Offline:     cfg.Telegram.Offline,
		DedupWindow: cfg.Telegram.DedupWindow,
	}
}

func mapWeatherConfig(cfg *config.Config) (weather.WeatherbitConfig, weather.BreakerConfig, time.Duration) {
	wc := cfg.Weather
	wb := weather.WeatherbitConfig{
		BaseURL: wc.BaseURL,
		APIKey:  wc.APIKey,
		Timeout: config.DurationOr(wc.Timeout, 0),
	}
	br := weather.BreakerConfig{
		TripFailures: wc.BreakerTrip,
		BaseDelay:    config.DurationOr(wc.BreakerBase, 0),
		MaxDelay:     config.DurationOr(wc.BreakerMax, 0),
		ResetAfter:   config.DurationOr(wc.BreakerResetAge, 0),
	}
	ttl := defaultCacheTTL
	if s := wc.CacheTTL; s != "" {
		// "0s" turns the cache off.
		ttl, _ = config.ParseDurationField("weather.cache_ttl", s)
	}
	return wb, br, ttl
}

func mapBroadcastConfig(cfg *config.Config) broadcast.Config {
	bc := cfg.Broadcast
	return broadcast.Config{
		Workers:          bc.Workers,
		RatePerSec:       bc.RatePerSec,
		Burst:            bc.Burst,
		PageSize:         bc.PageSize,
		RecipientTimeout: config.DurationOr(bc.RecipientTimeout, 0),
		LookupTimeout:    config.DurationOr(cfg.Weather.Timeout, 0),
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	bc := cfg.Broadcast
	// Validated already; an unknown value falls back to skip.
	overlap, _ := scheduler.ParseOverlapPolicy(bc.Overlap)
	if overlap == "" {
		overlap = scheduler.OverlapSkip
	}
	return scheduler.Config{
		Schedule:    bc.Schedule,
		Timezone:    bc.Timezone,
		Overlap:     overlap,
		RunTimeout:  config.DurationOr(bc.RunTimeout, 0),
		HistorySize: bc.HistorySize,
	}
}

func mapDispatcherConfig(cfg *config.Config) router.DispatcherConfig {
	dc := cfg.Dispatcher
	return router.DispatcherConfig{
		Shards:         dc.Shards,
		QueueSize:      dc.QueueSize,
		DefaultTimeout: config.DurationOr(dc.CommandTimeout, 0),
	}
}

func updateBuffer(cfg *config.Config) int {
	if n := cfg.Dispatcher.UpdateBuffer; n > 0 {
		return n
	}
	return 256
}
