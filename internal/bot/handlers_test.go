package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherbot/internal/storage"
	"weatherbot/internal/subscriber"
	kit "weatherbot/internal/transport"
	"weatherbot/internal/transport/telegram/router"
	logx "weatherbot/pkg/logx"
)

type chatLog struct {
	mu      sync.Mutex
	replies []string
}

func (c *chatLog) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (c *chatLog) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replies) == 0 {
		return ""
	}
	return c.replies[len(c.replies)-1]
}

type harness struct {
	t     *testing.T
	store subscriber.Store
	reg   *router.Registry
	chat  *chatLog
}

func newHarness(t *testing.T, st subscriber.Store) *harness {
	t.Helper()
	h := New(subscriber.NewService(st, logx.Nop()), Options{})
	reg, err := h.Registry()
	require.NoError(t, err)
	return &harness{t: t, store: st, reg: reg, chat: &chatLog{}}
}

// send routes text from user id and returns the reply.
func (h *harness) send(from int64, text string) string {
	h.t.Helper()
	cmd, args, ok := h.reg.Match(text)
	require.True(h.t, ok, "no command for %q", text)
	req := &router.Request{
		Chat:      kit.ChatTarget{ChatID: from},
		FromID:    from,
		Command:   cmd.Name,
		Args:      args,
		Messenger: h.chat,
		Logger:    logx.Nop(),
	}
	require.NoError(h.t, cmd.Handle(context.Background(), req))
	return h.chat.last()
}

func TestStartDoesNotMutate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, storage.NewMemory())

	assert.Equal(t, replyWelcome, h.send(1, "/start"))
	assert.Equal(t, replyWelcome, h.send(1, "/start deep-link-payload"))
	_, err := h.store.Find(context.Background(), 1)
	assert.ErrorIs(t, err, subscriber.ErrNotFound)
}

func TestSubscribeFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, storage.NewMemory())
	ctx := context.Background()

	assert.Equal(t, replySubscribed, h.send(10, "/subscribe"))
	// Redelivery of the same command leaves state unchanged.
	assert.Equal(t, replyAlreadySubscribed, h.send(10, "/subscribe"))

	rec, err := h.store.Find(ctx, 10)
	require.NoError(t, err)
	assert.True(t, rec.IsSubscribed)

	assert.Equal(t, replyUnsubscribed, h.send(10, "/unsubscribe"))
	assert.Equal(t, replyAlreadyUnsubscribed, h.send(10, "/unsubscribe"))
	assert.Equal(t, replySubscribed, h.send(10, "/subscribe@WeatherFatherBot"))

	page, err := h.store.ListEligible(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page, "no city yet")
}

func TestUnsubscribeUnknownCreatesNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, storage.NewMemory())

	assert.Equal(t, replyAlreadyUnsubscribed, h.send(77, "/unsubscribe"))
	_, err := h.store.Find(context.Background(), 77)
	assert.ErrorIs(t, err, subscriber.ErrNotFound)
}

func TestSetCity(t *testing.T) {
	t.Parallel()
	h := newHarness(t, storage.NewMemory())
	ctx := context.Background()

	assert.Equal(t, replyCityNeedsSub, h.send(5, "/setcity Paris"))
	_, err := h.store.Find(ctx, 5)
	assert.ErrorIs(t, err, subscriber.ErrNotFound)

	h.send(5, "/subscribe")
	assert.Equal(t, "Your preferred city has been set to New York.", h.send(5, "/setcity New York"))
	assert.Equal(t, "Your preferred city has been set to Kyiv.", h.send(5, "/setlocation Kyiv"))
	assert.Equal(t, replyCityUsage, h.send(5, "/setcity"))
	assert.Equal(t, "Your preferred city has been set to Lisbon.", h.send(5, "/setcity Lisbon\nthanks!"))
	assert.Equal(t, "Your preferred city has been set to Kyiv.", h.send(5, "/setlocation Kyiv"))
	assert.True(t, strings.HasPrefix(h.send(5, "/setcity "+strings.Repeat("x", 101)), "Please send a city name"))

	rec, err := h.store.Find(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "Kyiv", rec.PreferredLocation)
}

type failingStore struct{ subscriber.Store }

var errDown = errors.New("connection refused")

func (failingStore) Subscribe(context.Context, int64) (subscriber.Subscriber, subscriber.Change, error) {
	return subscriber.Subscriber{}, subscriber.ChangeNone, errDown
}

func (failingStore) Unsubscribe(context.Context, int64) (subscriber.Subscriber, subscriber.Change, error) {
	return subscriber.Subscriber{}, subscriber.ChangeNone, errDown
}

func (failingStore) SetLocation(context.Context, int64, string) (subscriber.Subscriber, error) {
	return subscriber.Subscriber{}, errDown
}

func TestStoreFailuresBecomeGenericReplies(t *testing.T) {
	t.Parallel()
	h := newHarness(t, failingStore{storage.NewMemory()})

	assert.Equal(t, replySubscribeFailed, h.send(1, "/subscribe"))
	assert.Equal(t, replyUnsubscribeFailed, h.send(1, "/unsubscribe"))
	assert.Equal(t, replySetCityFailed, h.send(1, "/setcity Rome"))
}

func TestHelpListsVisibleCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t, storage.NewMemory())

	help := h.send(1, "/help")
	for _, c := range []string{"/start", "/subscribe", "/unsubscribe", "/setcity", "/help"} {
		assert.Contains(t, help, c)
	}
	assert.NotContains(t, help, "usage")
}
