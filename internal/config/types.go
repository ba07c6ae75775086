package config

// Config is the on-disk configuration. All durations are Go duration strings
// (e.g. "500ms", "10s", "1m"); empty means "use the default".
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	HTTP       HTTPConfig       `json:"http"`
	Storage    StorageConfig    `json:"storage"`
	Weather    WeatherConfig    `json:"weather"`
	Broadcast  BroadcastConfig  `json:"broadcast"`
	Dispatcher DispatcherConfig `json:"dispatcher,omitempty"`
	Logging    LoggingConfig    `json:"logging"`
}

// TelegramConfig configures the messaging provider.
//
// Token may be supplied by TELEGRAM_TOKEN instead of the file.
type TelegramConfig struct {
	Token string `json:"token,omitempty"`
	// WebhookURL is the public base URL; "/telegram/webhook" is appended when
	// the value has no path.
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
	DedupWindow   int    `json:"dedup_window,omitempty"`
	// Offline disables all provider API calls (local testing).
	Offline bool `json:"offline,omitempty"`
}

// HTTPConfig controls the webhook and JSON API listener.
type HTTPConfig struct {
	Addr string `json:"addr"`
	// AdminToken guards /broadcast/run. Empty disables the endpoint.
	AdminToken      string `json:"admin_token,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`

	// Pprof mounts /debug/pprof behind the admin token.
	Pprof bool `json:"pprof,omitempty"`
}

// StorageConfig selects the subscriber store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./weatherbot" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres; DATABASE_URL overrides
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxConns    int32  `json:"max_conns,omitempty"`    // postgres pool
	AutoMigrate bool   `json:"auto_migrate,omitempty"`
}

// WeatherConfig configures the Weatherbit client, its cache and the
// circuit breaker in front of it.
type WeatherConfig struct {
	BaseURL  string `json:"base_url,omitempty"`
	APIKey   string `json:"api_key,omitempty"` // WEATHER_API_KEY overrides
	Timeout  string `json:"timeout,omitempty"`
	CacheTTL string `json:"cache_ttl,omitempty"`

	BreakerTrip     int    `json:"breaker_trip,omitempty"`
	BreakerBase     string `json:"breaker_base,omitempty"`
	BreakerMax      string `json:"breaker_max,omitempty"`
	BreakerResetAge string `json:"breaker_reset_after,omitempty"`
}

// BroadcastConfig controls both the trigger and the executor.
//
// Defaults (when fields are omitted/zero):
//   - schedule: "@daily"
//   - overlap: "skip"
//   - workers: 4
//   - page_size: 100
//   - recipient_timeout: "20s"
//   - history_size: 20
type BroadcastConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Overlap  string `json:"overlap,omitempty"`

	Workers          int     `json:"workers,omitempty"`
	RatePerSec       float64 `json:"rate_per_sec,omitempty"`
	Burst            int     `json:"burst,omitempty"`
	PageSize         int     `json:"page_size,omitempty"`
	RecipientTimeout string  `json:"recipient_timeout,omitempty"`
	RunTimeout       string  `json:"run_timeout,omitempty"`
	HistorySize      int     `json:"history_size,omitempty"`
}

// DispatcherConfig sizes the command worker shards.
type DispatcherConfig struct {
	Shards         int    `json:"shards,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	UpdateBuffer   int    `json:"update_buffer,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
}

// LoggingConfig selects log level and sinks. It is applied live on reload.
type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards WARN+ lines to an operator chat through the bot.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
