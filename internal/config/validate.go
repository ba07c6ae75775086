package config

import (
	"errors"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Environment variables that override secrets from the file.
const (
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvWeatherAPIKey = "WEATHER_API_KEY"
	EnvDatabaseURL   = "DATABASE_URL"
)

// ApplyEnv overlays secrets from the environment. lookup is os.LookupEnv
// outside tests.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil {
		return
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvTelegramToken); ok && strings.TrimSpace(v) != "" {
		cfg.Telegram.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvWeatherAPIKey); ok && strings.TrimSpace(v) != "" {
		cfg.Weather.APIKey = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvDatabaseURL); ok && strings.TrimSpace(v) != "" {
		cfg.Storage.DSN = strings.TrimSpace(v)
	}
}

var (
	storageDrivers = []any{"", "memory", "file", "sqlite", "sqlite3", "postgres", "postgresql", "pg"}
	overlapModes   = []any{"", "skip", "queue"}
)

func duration(path string) validation.Rule {
	return validation.By(func(v any) error {
		s, _ := v.(string)
		_, err := ParseDurationField(path, s)
		return err
	})
}

var timezone = validation.By(func(v any) error {
	s, _ := v.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := time.LoadLocation(strings.TrimSpace(s)); err != nil {
		return errors.New("unknown timezone")
	}
	return nil
})

var logLevel = validation.By(func(v any) error {
	s, _ := v.(string)
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
		return nil
	}
	return errors.New("must be one of trace, debug, info, warn, error")
})

func isDriver(driver string, names ...string) bool {
	d := strings.ToLower(strings.TrimSpace(driver))
	for _, n := range names {
		if d == n {
			return true
		}
	}
	return false
}

// Validate checks structural rules. Errors are ozzo validation.Errors keyed
// by section, so a bad reload names the offending field.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	tg := &cfg.Telegram
	st := &cfg.Storage
	wx := &cfg.Weather
	bc := &cfg.Broadcast
	dp := &cfg.Dispatcher
	lg := &cfg.Logging

	return validation.Errors{
		"telegram": validation.ValidateStruct(tg,
			validation.Field(&tg.Token, validation.When(!tg.Offline, validation.Required)),
			validation.Field(&tg.WebhookURL, validation.When(tg.WebhookURL != "", validation.By(checkURL))),
			validation.Field(&tg.DedupWindow, validation.Min(-1)),
		),
		"http": validation.ValidateStruct(&cfg.HTTP,
			validation.Field(&cfg.HTTP.ShutdownTimeout, duration("http.shutdown_timeout")),
		),
		"storage": validation.ValidateStruct(st,
			validation.Field(&st.Driver, validation.In(storageDrivers...)),
			validation.Field(&st.Path, validation.When(isDriver(st.Driver, "file", "sqlite", "sqlite3"), validation.Required)),
			validation.Field(&st.DSN, validation.When(isDriver(st.Driver, "postgres", "postgresql", "pg"), validation.Required)),
			validation.Field(&st.BusyTimeout, duration("storage.busy_timeout")),
			validation.Field(&st.MaxConns, validation.Min(int32(0))),
		),
		"weather": validation.ValidateStruct(wx,
			validation.Field(&wx.APIKey, validation.Required),
			validation.Field(&wx.BaseURL, validation.When(wx.BaseURL != "", validation.By(checkURL))),
			validation.Field(&wx.Timeout, duration("weather.timeout")),
			validation.Field(&wx.CacheTTL, duration("weather.cache_ttl")),
			validation.Field(&wx.BreakerTrip, validation.Min(-1)),
			validation.Field(&wx.BreakerBase, duration("weather.breaker_base")),
			validation.Field(&wx.BreakerMax, duration("weather.breaker_max")),
			validation.Field(&wx.BreakerResetAge, duration("weather.breaker_reset_after")),
		),
		"broadcast": validation.ValidateStruct(bc,
			validation.Field(&bc.Timezone, timezone),
			validation.Field(&bc.Overlap, validation.In(overlapModes...)),
			validation.Field(&bc.Workers, validation.Min(0), validation.Max(256)),
			validation.Field(&bc.RatePerSec, validation.Min(float64(0))),
			validation.Field(&bc.Burst, validation.Min(0)),
			validation.Field(&bc.PageSize, validation.Min(0), validation.Max(10000)),
			validation.Field(&bc.RecipientTimeout, duration("broadcast.recipient_timeout")),
			validation.Field(&bc.RunTimeout, duration("broadcast.run_timeout")),
			validation.Field(&bc.HistorySize, validation.Min(0)),
		),
		"dispatcher": validation.ValidateStruct(dp,
			validation.Field(&dp.Shards, validation.Min(0), validation.Max(1024)),
			validation.Field(&dp.QueueSize, validation.Min(0)),
			validation.Field(&dp.UpdateBuffer, validation.Min(0)),
			validation.Field(&dp.CommandTimeout, duration("dispatcher.command_timeout")),
		),
		"logging": validation.ValidateStruct(lg,
			validation.Field(&lg.Level, logLevel),
			validation.Field(&lg.File, validation.By(func(any) error {
				if lg.File.Enabled && strings.TrimSpace(lg.File.Path) == "" {
					return errors.New("path is required when enabled")
				}
				return nil
			})),
			validation.Field(&lg.Chat, validation.By(func(any) error {
				if lg.Chat.Enabled && lg.Chat.ChatID == 0 {
					return errors.New("chat_id is required when enabled")
				}
				return nil
			})),
		),
	}.Filter()
}

func checkURL(v any) error {
	s, _ := v.(string)
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "https://") && !strings.HasPrefix(s, "http://") {
		return errors.New("must be an http(s) URL")
	}
	return nil
}
