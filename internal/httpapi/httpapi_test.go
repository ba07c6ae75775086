package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherbot/internal/broadcast"
	"weatherbot/internal/storage"
	"weatherbot/internal/subscriber"
	"weatherbot/internal/task/scheduler"
	logx "weatherbot/pkg/logx"
)

type fakeGateway struct {
	mu  sync.Mutex
	got [][]byte
	err error
}

func (g *fakeGateway) Deliver(raw []byte) error {
	g.mu.Lock()
	g.got = append(g.got, append([]byte(nil), raw...))
	g.mu.Unlock()
	return g.err
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.got)
}

type fakeRunner struct {
	rep broadcast.Report
	err error
}

func (r fakeRunner) RunNow(context.Context) (broadcast.Report, error) { return r.rep, r.err }

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookAcknowledges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		secret    string
		header    string
		gwErr     error
		body      string
		wantCode  int
		delivered int
	}{
		{"no secret configured", "", "", nil, `{"update_id":1}`, http.StatusOK, 1},
		{"secret matches", "s3cr3t", "s3cr3t", nil, `{"update_id":1}`, http.StatusOK, 1},
		{"secret mismatch", "s3cr3t", "nope", nil, `{"update_id":1}`, http.StatusUnauthorized, 0},
		{"malformed still 200", "", "", errors.New("decode"), `{{{`, http.StatusOK, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gw := &fakeGateway{err: tt.gwErr}
			srv := NewServer(logx.Nop(), "", NewWebhookHandler(gw, tt.secret, logx.Nop()))
			hdr := map[string]string{}
			if tt.header != "" {
				hdr[SecretTokenHeader] = tt.header
			}
			rec := do(t, srv, http.MethodPost, WebhookPath, tt.body, hdr)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.delivered, gw.count())
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, "OK", rec.Body.String())
			}
		})
	}
}

func TestWebhookLegacyPath(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	srv := NewServer(logx.Nop(), "", NewWebhookHandler(gw, "", logx.Nop()))
	rec := do(t, srv, http.MethodPost, "/telegram", `{"update_id":2}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, gw.count())
}

func newUsersServer(t *testing.T) (*Server, subscriber.Store) {
	t.Helper()
	store := storage.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	svc := subscriber.NewService(store, logx.Nop())
	return NewServer(logx.Nop(), "", NewUsersHandler(svc)), store
}

func decodeUser(t *testing.T, rec *httptest.ResponseRecorder) *subscriber.Subscriber {
	t.Helper()
	var out *subscriber.Subscriber
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestUsersLifecycle(t *testing.T) {
	t.Parallel()
	srv, store := newUsersServer(t)

	rec := do(t, srv, http.MethodPost, "/users/subscribe", `{"telegramId": 42}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	u := decodeUser(t, rec)
	require.NotNil(t, u)
	assert.Equal(t, int64(42), u.ExternalID)
	assert.True(t, u.IsSubscribed)

	// Second subscribe returns the same record.
	rec = do(t, srv, http.MethodPost, "/users/subscribe", `{"telegramId": 42}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, u.ID, decodeUser(t, rec).ID)

	rec = do(t, srv, http.MethodPost, "/users/setcity", `{"telegramId": 42, "city": "  Oslo "}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Oslo", decodeUser(t, rec).PreferredLocation)

	rec = do(t, srv, http.MethodPost, "/users/unsubscribe", `{"telegramId": 42}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeUser(t, rec).IsSubscribed)

	got, err := store.Find(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, got.IsSubscribed)
	assert.Equal(t, "Oslo", got.PreferredLocation)
}

func TestUsersUnknownReturnsNull(t *testing.T) {
	t.Parallel()
	srv, store := newUsersServer(t)

	for _, tc := range []struct{ path, body string }{
		{"/users/unsubscribe", `{"telegramId": 7}`},
		{"/users/setcity", `{"telegramId": 7, "city": "Rome"}`},
	} {
		rec := do(t, srv, http.MethodPost, tc.path, tc.body, nil)
		require.Equal(t, http.StatusOK, rec.Code, tc.path)
		assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()), tc.path)
	}
	_, err := store.Find(context.Background(), 7)
	assert.ErrorIs(t, err, subscriber.ErrNotFound)
}

func TestUsersValidation(t *testing.T) {
	t.Parallel()
	srv, _ := newUsersServer(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"missing id", "/users/subscribe", `{}`},
		{"negative id", "/users/subscribe", `{"telegramId": -3}`},
		{"not json", "/users/subscribe", `telegramId=3`},
		{"wrong type", "/users/unsubscribe", `{"telegramId": "abc"}`},
		{"missing city", "/users/setcity", `{"telegramId": 3}`},
		{"blank city", "/users/setcity", `{"telegramId": 3, "city": "   "}`},
		{"long city", "/users/setcity", `{"telegramId": 3, "city": "` + strings.Repeat("x", subscriber.MaxLocationRunes+1) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, srv, http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestBroadcastRunGuarded(t *testing.T) {
	t.Parallel()

	rep := broadcast.Report{ID: "run-1", Attempted: 3, Sent: 3}
	srv := NewServer(logx.Nop(), "", NewOpsHandler(nil, fakeRunner{rep: rep}, "admin"))

	rec := do(t, srv, http.MethodPost, "/broadcast/run", "", nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPost, "/broadcast/run", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodPost, "/broadcast/run", "", map[string]string{"Authorization": "Bearer admin"})
	require.Equal(t, http.StatusOK, rec.Code)
	var got broadcast.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, 3, got.Sent)

	busy := NewServer(logx.Nop(), "", NewOpsHandler(nil, fakeRunner{err: scheduler.ErrRunning}, "admin"))
	rec = do(t, busy, http.MethodPost, "/broadcast/run", "", map[string]string{"Authorization": "Bearer admin"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBroadcastRunDisabledWithoutToken(t *testing.T) {
	t.Parallel()

	srv := NewServer(logx.Nop(), "", NewOpsHandler(nil, fakeRunner{}, ""))
	rec := do(t, srv, http.MethodPost, "/broadcast/run", "", map[string]string{"Authorization": "Bearer "})
	assert.Contains(t, []int{http.StatusNotFound, http.StatusMethodNotAllowed}, rec.Code)
}

func TestPprofGuarded(t *testing.T) {
	t.Parallel()

	srv := NewServer(logx.Nop(), "", NewOpsHandler(nil, nil, "admin").WithProfiling(true))
	rec := do(t, srv, http.MethodGet, "/debug/pprof/cmdline", "", nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/debug/pprof/cmdline", "", map[string]string{"Authorization": "Bearer admin"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/debug/pprof/goroutine?debug=1", "", map[string]string{"Authorization": "Bearer admin"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine")

	off := NewServer(logx.Nop(), "", NewOpsHandler(nil, nil, "admin"))
	rec = do(t, off, http.MethodGet, "/debug/pprof/cmdline", "", map[string]string{"Authorization": "Bearer admin"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	healthy := true
	status := func(context.Context) (any, bool) {
		return map[string]any{"status": "ok", "shards": 4}, healthy
	}
	srv := NewServer(logx.Nop(), "", NewOpsHandler(status, nil, ""))

	rec := do(t, srv, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	healthy = false
	rec = do(t, srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
