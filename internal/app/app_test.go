package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherbot/internal/config"
	"weatherbot/internal/task/scheduler"
)

func TestWebhookURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://bot.example.com", want: "https://bot.example.com/telegram/webhook"},
		{in: "https://bot.example.com/", want: "https://bot.example.com/telegram/webhook"},
		{in: "https://bot.example.com/hooks/tg", want: "https://bot.example.com/hooks/tg"},
		{in: "bot.example.com", wantErr: true},
		{in: "ftp://bot.example.com", wantErr: true},
	}
	for _, tt := range tests {
		got, err := WebhookURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()

	ok := []string{"", "@daily", "0 8 * * *", "every:6h", "02:30", "*/30 * * * * *"}
	bad := []string{"whenever", "61 * * * *", "every:-1h"}
	for _, s := range ok {
		cfg := &config.Config{Broadcast: config.BroadcastConfig{Schedule: s}}
		assert.NoError(t, validateSchedule(context.Background(), cfg), s)
	}
	for _, s := range bad {
		cfg := &config.Config{Broadcast: config.BroadcastConfig{Schedule: s}}
		assert.Error(t, validateSchedule(context.Background(), cfg), s)
	}
}

func TestConfigMapping(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Storage: config.StorageConfig{Driver: " SQLite ", Path: " ./db ", BusyTimeout: "2s"},
		Weather: config.WeatherConfig{Timeout: "3s", CacheTTL: "0s", BreakerTrip: -1},
		Broadcast: config.BroadcastConfig{
			Schedule: "@hourly", Overlap: "queue", RunTimeout: "10m",
			Workers: 8, RatePerSec: 25, RecipientTimeout: "5s",
		},
		Dispatcher: config.DispatcherConfig{Shards: 2, CommandTimeout: "7s"},
	}

	sc := mapStorageConfig(cfg)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, "./db", sc.Path)
	assert.Equal(t, 2*time.Second, sc.BusyTimeout)

	wb, br, ttl := mapWeatherConfig(cfg)
	assert.Equal(t, 3*time.Second, wb.Timeout)
	assert.Equal(t, -1, br.TripFailures)
	assert.Zero(t, ttl)

	cfg.Weather.CacheTTL = ""
	_, _, ttl = mapWeatherConfig(cfg)
	assert.Equal(t, defaultCacheTTL, ttl)

	sch := mapSchedulerConfig(cfg)
	assert.Equal(t, scheduler.OverlapQueue, sch.Overlap)
	assert.Equal(t, 10*time.Minute, sch.RunTimeout)

	bc := mapBroadcastConfig(cfg)
	assert.Equal(t, 8, bc.Workers)
	assert.Equal(t, 5*time.Second, bc.RecipientTimeout)
	assert.Equal(t, 3*time.Second, bc.LookupTimeout)

	dc := mapDispatcherConfig(cfg)
	assert.Equal(t, 2, dc.Shards)
	assert.Equal(t, 7*time.Second, dc.DefaultTimeout)
	assert.Equal(t, 256, updateBuffer(cfg))
}

const offlineConfig = `{
  "telegram": {"token": "123:offline", "offline": true},
  "http": {"addr": "127.0.0.1:0"},
  "storage": {"driver": "memory"},
  "weather": {"api_key": "k", "base_url": "http://127.0.0.1:1"},
  "broadcast": {"enabled": true, "schedule": "@daily"},
  "logging": {"level": "error", "console": false, "file": {"enabled": false, "path": ""}, "chat": {"enabled": false, "chat_id": 0, "min_level": "", "rate_per_sec": 0}}
}`

func TestAppLifecycleOffline(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("TELEGRAM_TOKEN", "")

	p := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(p, []byte(offlineConfig), 0o600))

	ctx := context.Background()
	a, err := NewApp(ctx, p)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	// Users endpoint goes through the real subscriber service and store.
	req := httptest.NewRequest(http.MethodPost, "/users/subscribe", strings.NewReader(`{"telegramId": 5}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.http.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.http.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body healthBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	require.NotNil(t, body.Broadcast)
	assert.True(t, body.Broadcast.Started)
	assert.Equal(t, "@daily", body.Broadcast.Schedule)

	stopCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("app context not canceled after Stop")
	}
	assert.NoError(t, a.Err())
}
