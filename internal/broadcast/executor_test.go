package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherbot/internal/storage"
	"weatherbot/internal/subscriber"
	kit "weatherbot/internal/transport"
	"weatherbot/internal/weather"
	logx "weatherbot/pkg/logx"
)

type recordingMessenger struct {
	mu     sync.Mutex
	sent   map[int64]string
	failOn map[int64]bool
}

func newRecordingMessenger(failOn ...int64) *recordingMessenger {
	m := &recordingMessenger{sent: map[int64]string{}, failOn: map[int64]bool{}}
	for _, id := range failOn {
		m.failOn[id] = true
	}
	return m
}

func (m *recordingMessenger) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn[to.ChatID] {
		return kit.MessageRef{}, errors.New("forbidden: bot was blocked by the user")
	}
	m.sent[to.ChatID] = text
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(m.sent)}, nil
}

func seed(t *testing.T, st subscriber.Store, recs map[int64]string, unsubscribed ...int64) {
	t.Helper()
	ctx := context.Background()
	ids := make([]int64, 0, len(recs))
	for id := range recs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		_, _, err := st.Subscribe(ctx, id)
		require.NoError(t, err)
		if loc := recs[id]; loc != "" {
			_, err = st.SetLocation(ctx, id, loc)
			require.NoError(t, err)
		}
	}
	for _, id := range unsubscribed {
		_, _, err := st.Unsubscribe(ctx, id)
		require.NoError(t, err)
	}
}

var fakeWeather = weather.ProviderFunc(func(ctx context.Context, loc string) (weather.Conditions, error) {
	if loc == "Nowhere" {
		return weather.Conditions{}, errors.New("provider timeout")
	}
	return weather.Conditions{Description: "sunny", TemperatureC: 25}, nil
})

func TestRunSendsFallbackAndSkipsUnsubscribed(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory()
	seed(t, st, map[int64]string{1: "Paris", 2: "Nowhere", 3: "Rome"}, 3)
	msgr := newRecordingMessenger()
	ex := NewExecutor(st, fakeWeather, msgr, Config{Workers: 2}, logx.Nop())

	rep := ex.Run(context.Background())

	assert.Equal(t, 2, rep.Attempted)
	assert.Equal(t, 2, rep.Sent)
	assert.Equal(t, 0, rep.Failed)
	assert.Equal(t, 1, rep.Fallbacks)
	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, "The weather in Paris is sunny with a temperature of 25°C.", msgr.sent[1])
	assert.Equal(t, weather.FallbackText, msgr.sent[2])
	_, got3 := msgr.sent[3]
	assert.False(t, got3)
}

func TestRunContinuesPastSendFailure(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory()
	recs := map[int64]string{}
	for id := int64(1); id <= 25; id++ {
		recs[id] = "Berlin"
	}
	seed(t, st, recs)
	msgr := newRecordingMessenger(7)
	ex := NewExecutor(st, fakeWeather, msgr, Config{Workers: 3, PageSize: 4}, logx.Nop())

	rep := ex.Run(context.Background())

	assert.Equal(t, 25, rep.Attempted)
	assert.Equal(t, 24, rep.Sent)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, []int64{7}, rep.FailedIDs)
	assert.Empty(t, rep.Error)
}

type brokenStore struct{ subscriber.Store }

func (brokenStore) ListEligible(context.Context, int64, int) ([]subscriber.Subscriber, error) {
	return nil, errors.New("database is locked")
}

func TestRunRecordsListingFailure(t *testing.T) {
	t.Parallel()

	ex := NewExecutor(brokenStore{storage.NewMemory()}, fakeWeather, newRecordingMessenger(), Config{}, logx.Nop())
	rep := ex.Run(context.Background())
	assert.Equal(t, 0, rep.Attempted)
	assert.Contains(t, rep.Error, "database is locked")
}

func TestRunUsesUpdatedLocation(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory()
	seed(t, st, map[int64]string{1: "Paris"})
	_, err := st.SetLocation(context.Background(), 1, "Madrid")
	require.NoError(t, err)

	msgr := newRecordingMessenger()
	ex := NewExecutor(st, fakeWeather, msgr, Config{}, logx.Nop())
	ex.Run(context.Background())
	assert.Equal(t, "The weather in Madrid is sunny with a temperature of 25°C.", msgr.sent[1])
}

func TestRunRateLimited(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory()
	seed(t, st, map[int64]string{1: "A", 2: "B", 3: "C"})
	ex := NewExecutor(st, fakeWeather, newRecordingMessenger(), Config{Workers: 3, RatePerSec: 20, Burst: 1}, logx.Nop())

	start := time.Now()
	rep := ex.Run(context.Background())
	assert.Equal(t, 3, rep.Sent)
	// Two waits of 50ms after the initial token.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func runWithin(t *testing.T, ex *Executor, d time.Duration) Report {
	t.Helper()
	done := make(chan Report, 1)
	go func() { done <- ex.Run(context.Background()) }()
	select {
	case rep := <-done:
		return rep
	case <-time.After(d):
		t.Fatalf("run did not finish within %v", d)
		return Report{}
	}
}

func TestRunSurvivesPanickingProvider(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory()
	seed(t, st, map[int64]string{1: "Paris", 2: "Boom", 3: "Rome", 4: "Oslo"})
	provider := weather.ProviderFunc(func(ctx context.Context, loc string) (weather.Conditions, error) {
		if loc == "Boom" {
			panic("decoder exploded")
		}
		return fakeWeather(ctx, loc)
	})
	msgr := newRecordingMessenger()
	// One worker: a lost worker would leave the queue undrained.
	ex := NewExecutor(st, provider, msgr, Config{Workers: 1, PageSize: 1}, logx.Nop())

	rep := runWithin(t, ex, 3*time.Second)
	assert.Equal(t, 4, rep.Attempted)
	assert.Equal(t, 3, rep.Sent)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, []int64{2}, rep.FailedIDs)
	assert.Len(t, msgr.sent, 3)
	assert.NotContains(t, msgr.sent, int64(2))
}

func TestRunSendsFallbackWhenLookupHangs(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory()
	seed(t, st, map[int64]string{1: "Paris", 2: "Rome"})
	hung := weather.ProviderFunc(func(ctx context.Context, _ string) (weather.Conditions, error) {
		<-ctx.Done()
		return weather.Conditions{}, ctx.Err()
	})
	msgr := newRecordingMessenger()
	ex := NewExecutor(st, hung, msgr, Config{
		Workers:          2,
		RatePerSec:       25,
		Burst:            1,
		RecipientTimeout: 100 * time.Millisecond,
		LookupTimeout:    time.Second,
	}, logx.Nop())

	rep := runWithin(t, ex, 3*time.Second)
	assert.Equal(t, 2, rep.Attempted)
	assert.Equal(t, 2, rep.Sent)
	assert.Equal(t, 2, rep.Fallbacks)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, weather.FallbackText, msgr.sent[1])
	assert.Equal(t, weather.FallbackText, msgr.sent[2])
}

func TestLookupBudget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want time.Duration
	}{
		{"half of recipient timeout", Config{RecipientTimeout: 4 * time.Second, LookupTimeout: 10 * time.Second}, 2 * time.Second},
		{"lookup timeout smaller", Config{RecipientTimeout: 20 * time.Second, LookupTimeout: 3 * time.Second}, 3 * time.Second},
		{"no lookup timeout", Config{RecipientTimeout: 6 * time.Second}, 3 * time.Second},
		{"defaults", Config{}.withDefaults(), 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cfg.lookupBudget())
		})
	}
}
