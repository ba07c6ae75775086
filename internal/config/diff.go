package config

import (
	"reflect"
	"strings"

	logx "weatherbot/pkg/logx"
)

// Change describes a reload: which sections moved, safe log attrs (never
// secrets), and which of the moved sections only take effect after restart.
type Change struct {
	Sections        []string
	Attrs           []logx.Field
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func secretSet(s string) bool { return strings.TrimSpace(s) != "" }

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
		if restart {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
	}

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		mark("telegram", true,
			logx.Bool("telegram.token_set", secretSet(newCfg.Telegram.Token)),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.String("telegram.webhook_url", strings.TrimSpace(newCfg.Telegram.WebhookURL)),
			logx.Bool("telegram.offline", newCfg.Telegram.Offline),
		)
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		mark("http", true,
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.admin_token_set", secretSet(newCfg.HTTP.AdminToken)),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		mark("storage", true,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
			logx.Bool("storage.dsn_set", secretSet(newCfg.Storage.DSN)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Weather, newCfg.Weather) {
		// Only the request timeout is applied live.
		a, b := oldCfg.Weather, newCfg.Weather
		a.Timeout, b.Timeout = "", ""
		restart := a != b
		mark("weather", restart,
			logx.String("weather.timeout", newCfg.Weather.Timeout),
			logx.String("weather.cache_ttl", newCfg.Weather.CacheTTL),
			logx.Int("weather.breaker_trip", newCfg.Weather.BreakerTrip),
		)
	}
	if !reflect.DeepEqual(oldCfg.Broadcast, newCfg.Broadcast) {
		mark("broadcast", false,
			logx.Bool("broadcast.enabled", newCfg.Broadcast.Enabled),
			logx.String("broadcast.schedule", newCfg.Broadcast.Schedule),
			logx.String("broadcast.timezone", newCfg.Broadcast.Timezone),
			logx.String("broadcast.overlap", newCfg.Broadcast.Overlap),
			logx.Int("broadcast.workers", newCfg.Broadcast.Workers),
			logx.Float64("broadcast.rate_per_sec", newCfg.Broadcast.RatePerSec),
		)
	}
	if !reflect.DeepEqual(oldCfg.Dispatcher, newCfg.Dispatcher) {
		mark("dispatcher", true,
			logx.Int("dispatcher.shards", newCfg.Dispatcher.Shards),
			logx.Int("dispatcher.queue_size", newCfg.Dispatcher.QueueSize),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}
	return ch
}
