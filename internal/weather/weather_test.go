package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		loc  string
		c    Conditions
		want string
	}{
		{"Paris", Conditions{"clear sky", 21.5}, "The weather in Paris is clear sky with a temperature of 21.5°C."},
		{"Oslo", Conditions{"snow", -3}, "The weather in Oslo is snow with a temperature of -3°C."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.loc, tt.c))
	}
}

func TestWeatherbitCurrent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("city") {
		case "Paris":
			assert.Equal(t, "/current", r.URL.Path)
			assert.Equal(t, "secret", r.URL.Query().Get("key"))
			assert.Equal(t, "M", r.URL.Query().Get("units"))
			_, _ = w.Write([]byte(`{"count":1,"data":[{"city_name":"Paris","temp":18.2,"weather":{"description":"Few clouds"}}]}`))
		case "Atlantis":
			w.WriteHeader(http.StatusNoContent)
		case "Empty":
			_, _ = w.Write([]byte(`{"data":[]}`))
		default:
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	wb, err := NewWeatherbit(WeatherbitConfig{BaseURL: srv.URL + "/", APIKey: "secret", Timeout: time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	c, err := wb.Current(ctx, "Paris")
	require.NoError(t, err)
	assert.Equal(t, Conditions{Description: "few clouds", TemperatureC: 18.2}, c)

	_, err = wb.Current(ctx, "Atlantis")
	assert.ErrorIs(t, err, ErrNoData)

	_, err = wb.Current(ctx, "Empty")
	assert.ErrorIs(t, err, ErrNoData)

	_, err = wb.Current(ctx, "Busy")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.False(t, strings.Contains(err.Error(), "secret"))
}

func TestNewWeatherbitRequiresKey(t *testing.T) {
	t.Parallel()
	_, err := NewWeatherbit(WeatherbitConfig{})
	assert.Error(t, err)
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	t.Parallel()

	fail := atomic.Bool{}
	fail.Store(true)
	var calls atomic.Int32
	p := ProviderFunc(func(ctx context.Context, loc string) (Conditions, error) {
		calls.Add(1)
		if fail.Load() {
			return Conditions{}, errors.New("down")
		}
		return Conditions{Description: "ok"}, nil
	})

	now := time.Unix(1_700_000_000, 0)
	b := NewBreaker(p, BreakerConfig{TripFailures: 2, BaseDelay: time.Minute, MaxDelay: 4 * time.Minute})
	b.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.Current(ctx, "x")
		require.Error(t, err)
	}
	_, err := b.Current(ctx, "x")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())

	now = now.Add(61 * time.Second)
	fail.Store(false)
	c, err := b.Current(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "ok", c.Description)
	fails, open := b.State()
	assert.Equal(t, 0, fails)
	assert.False(t, open)
}

func TestBreakerIgnoresNoData(t *testing.T) {
	t.Parallel()

	p := ProviderFunc(func(context.Context, string) (Conditions, error) { return Conditions{}, ErrNoData })
	b := NewBreaker(p, BreakerConfig{TripFailures: 1})
	for i := 0; i < 3; i++ {
		_, err := b.Current(context.Background(), "nowhere")
		assert.ErrorIs(t, err, ErrNoData)
	}
	_, open := b.State()
	assert.False(t, open)
}

func TestCachedCoalescesAndExpires(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := ProviderFunc(func(context.Context, string) (Conditions, error) {
		calls.Add(1)
		return Conditions{Description: "rain", TemperatureC: 9}, nil
	})
	now := time.Unix(1_700_000_000, 0)
	c := NewCached(p, time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for _, loc := range []string{"London", " london ", "LONDON"} {
		got, err := c.Current(ctx, loc)
		require.NoError(t, err)
		assert.Equal(t, "rain", got.Description)
	}
	assert.Equal(t, int32(1), calls.Load())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, c.Prune())
	_, err := c.Current(ctx, "London")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
