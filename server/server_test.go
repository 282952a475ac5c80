package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/twitch-chat-metrics/analytics"
	"github.com/onnwee/twitch-chat-metrics/chat"
	"github.com/onnwee/twitch-chat-metrics/config"
	"github.com/onnwee/twitch-chat-metrics/settings"
)

type fakeSupervisor struct{ status chat.Status }

func (f fakeSupervisor) Status() chat.Status { return f.status }

type testEnv struct {
	deps       Deps
	dispatcher *chat.Dispatcher
	source     *settings.Source
	stop       context.CancelFunc
	stopped    chan struct{}
	handler    http.Handler
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	source, err := settings.NewSource(filepath.Join(t.TempDir(), "settings.json"), settings.Settings{TwitchChannel: "forsen"})
	require.NoError(t, err)

	overview := analytics.NewOverview()
	giveaway := analytics.NewGiveaway("", analytics.WithIntN(func(int) int { return 0 }))
	history := analytics.NewHistory(10)
	feed := analytics.NewFeed()
	d := chat.NewDispatcher(64, overview, giveaway, history, feed)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		d.Run(ctx)
	}()

	env := &testEnv{
		deps: Deps{
			Supervisor: fakeSupervisor{status: chat.Status{Channel: "forsen", Generation: 1, State: chat.StateJoined.String()}},
			Dispatcher: d,
			Overview:   overview,
			Giveaway:   giveaway,
			History:    history,
			Feed:       feed,
			Settings:   source,
		},
		dispatcher: d,
		source:     source,
		stop:       cancel,
		stopped:    stopped,
	}
	env.handler = NewMux(ctx, env.deps, cfg)
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return env
}

func (e *testEnv) deliver(t *testing.T, evs ...chat.Event) {
	t.Helper()
	for _, ev := range evs {
		require.NoError(t, e.dispatcher.Deliver(context.Background(), 0, ev))
	}
}

func (e *testEnv) do(method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, m := range mutate {
		m(req)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func msg(id, author, text string) chat.Message {
	return chat.Message{
		ID:      id,
		Channel: "forsen",
		Author:  chat.Author{ID: author, Login: author, DisplayName: strings.ToUpper(author)},
		Text:    text,
	}
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "body=%s", rr.Body.String())
	return v
}

func TestHealthzOK(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ready", decode[map[string]string](t, rr)["status"])

	env.stop()
	<-env.stopped

	rr = env.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decode[map[string]string](t, rr)
	assert.Equal(t, "not_ready", body["status"])
	assert.Equal(t, "dispatcher", body["failed_check"])
}

func TestCorrelationIDHeader(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, rr.Header().Get("X-Correlation-ID"))

	rr = env.do(http.MethodGet, "/healthz", "", func(r *http.Request) {
		r.Header.Set("X-Correlation-ID", "abc-123")
	})
	assert.Equal(t, "abc-123", rr.Header().Get("X-Correlation-ID"))
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rr.Code)

	got := decode[StatusResponse](t, rr)
	assert.Equal(t, "forsen", got.Session.Channel)
	assert.Equal(t, "joined", got.Session.State)
	assert.Equal(t, "forsen", got.Settings.TwitchChannel)
	assert.False(t, got.Recording)
	assert.False(t, got.Tracing)
}

func TestOverviewReflectsDeliveredEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	cheer := uint64(100)
	sub := msg("2", "bob", "hi")
	sub.Subscriber = true
	sub.Bits = &cheer

	env.deliver(t,
		msg("1", "alice", "hello"),
		sub,
		chat.ClearMessage{ID: "1", Channel: "forsen"},
	)

	rr := env.do(http.MethodGet, "/overview", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, analytics.OverviewSnapshot{
		UniqueChatters:     2,
		TotalMessages:      2,
		SubscriberMessages: 1,
		SubscriberShare:    50,
		TotalBits:          100,
		MessagesCleared:    1,
	}, decode[analytics.OverviewSnapshot](t, rr))
}

func TestGiveawayFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodPut, "/admin/giveaway/prefix", `{"prefix":"!join"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "!join", decode[analytics.GiveawaySnapshot](t, rr).Prefix)

	env.deliver(t,
		msg("1", "bob", "!join me"),
		msg("2", "alice", "!join"),
		msg("3", "carol", "hello"),
	)

	rr = env.do(http.MethodPost, "/admin/giveaway/draw", "")
	require.Equal(t, http.StatusOK, rr.Code)
	draw := decode[DrawResponse](t, rr)
	require.True(t, draw.Drawn)
	// entrants are drawn over sorted ids; the fixed source picks the first
	assert.Equal(t, analytics.Entrant{ID: "alice", Name: "ALICE"}, *draw.Winner)
	assert.Len(t, draw.Giveaway.Entrants, 2)

	env.deliver(t, msg("4", "alice", "thanks"))
	rr = env.do(http.MethodGet, "/giveaway", "")
	snap := decode[analytics.GiveawaySnapshot](t, rr)
	require.Len(t, snap.WinnerMessages, 1)
	assert.Equal(t, "thanks", snap.WinnerMessages[0].Text)

	rr = env.do(http.MethodPost, "/admin/giveaway/clear", "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(http.MethodGet, "/giveaway", "")
	snap = decode[analytics.GiveawaySnapshot](t, rr)
	assert.Empty(t, snap.Entrants)
	assert.Nil(t, snap.Winner)
	assert.Equal(t, "!join", snap.Prefix)
}

func TestDrawWithoutEntrants(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodPost, "/admin/giveaway/draw", "")
	require.Equal(t, http.StatusOK, rr.Code)
	draw := decode[DrawResponse](t, rr)
	assert.False(t, draw.Drawn)
	assert.Nil(t, draw.Winner)
}

func TestAdminGiveawayUnavailableLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t, nil)
	env.deliver(t, msg("1", "bob", "hi"))

	gate, started := make(chan struct{}), make(chan struct{})
	busy := make(chan error, 1)
	go func() {
		busy <- env.dispatcher.Do(context.Background(), func() {
			close(started)
			<-gate
		})
	}()
	<-started

	withDeadline := func(r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Millisecond)
		t.Cleanup(cancel)
		*r = *r.WithContext(ctx)
	}
	rr := env.do(http.MethodPost, "/admin/giveaway/draw", "", withDeadline)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	rr = env.do(http.MethodPost, "/admin/giveaway/clear", "", withDeadline)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	close(gate)
	require.NoError(t, <-busy)

	rr = env.do(http.MethodGet, "/giveaway", "")
	require.Equal(t, http.StatusOK, rr.Code)
	snap := decode[analytics.GiveawaySnapshot](t, rr)
	assert.Nil(t, snap.Winner, "a draw answered with 503 must not happen later")
	assert.Len(t, snap.Entrants, 1, "a clear answered with 503 must not happen later")
}

func TestGiveawayPrefixRequiresBody(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/admin/giveaway/prefix", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/admin/giveaway/prefix", `nope`).Code)
}

func TestAdminSettings(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodPut, "/admin/settings", `{"twitch_channel":"#XQC"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	saved := decode[settings.Settings](t, rr)
	assert.Equal(t, "xqc", saved.TwitchChannel)
	assert.Equal(t, settings.DefaultChatBuffer, saved.ChatBuffer)

	rr = env.do(http.MethodGet, "/settings", "")
	assert.Equal(t, saved, decode[settings.Settings](t, rr))

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/admin/settings", `{"chat_buffer":0}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/admin/settings", `{`).Code)
	assert.Equal(t, "xqc", env.source.Current().TwitchChannel)
}

func TestAdminRequiresAuth(t *testing.T) {
	env := newTestEnv(t, &config.Config{AdminToken: "s3cret"})

	rr := env.do(http.MethodPost, "/admin/giveaway/clear", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(http.MethodPost, "/admin/giveaway/clear", "", func(r *http.Request) {
		r.Header.Set("X-Admin-Token", "s3cret")
	})
	assert.Equal(t, http.StatusNoContent, rr.Code)

	// read routes stay open
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/giveaway", "").Code)
}

func TestAdminRateLimited(t *testing.T) {
	env := newTestEnv(t, &config.Config{RateLimitEnabled: true, RateLimitRPS: 0.001, RateLimitBurst: 1})

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodPost, "/admin/giveaway/clear", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(http.MethodPost, "/admin/giveaway/clear", "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/overview", "").Code)
}

func TestChatHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	env.deliver(t,
		msg("1", "a", "one"),
		msg("2", "b", "two"),
		msg("3", "c", "three"),
		chat.ClearMessage{ID: "3"},
	)

	rr := env.do(http.MethodGet, "/chat?limit=2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	entries := decode[[]analytics.HistoryEntry](t, rr)
	require.Len(t, entries, 2)
	assert.Equal(t, "3", entries[0].ID)
	assert.True(t, entries[0].Deleted)
	assert.Equal(t, "2", entries[1].ID)
	assert.False(t, entries[1].Deleted)

	rr = env.do(http.MethodGet, "/chat?limit=0", "")
	assert.Len(t, decode[[]analytics.HistoryEntry](t, rr), 3)
}

func TestChatHistoryEmptyIsArray(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodGet, "/chat", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestChatStream(t *testing.T) {
	env := newTestEnv(t, nil)
	env.deliver(t, msg("1", "a", "before"))

	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/chat/stream?backlog=5", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	next := func() analytics.FeedEvent {
		t.Helper()
		var name string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				var ev analytics.FeedEvent
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
				assert.Equal(t, name, ev.Type)
				return ev
			}
		}
	}

	first := next()
	require.Equal(t, analytics.FeedMessage, first.Type)
	assert.Equal(t, "before", first.Message.Text)

	env.deliver(t, msg("2", "b", "live"), chat.ClearMessage{ID: "2"})

	live := next()
	require.Equal(t, analytics.FeedMessage, live.Type)
	assert.Equal(t, "live", live.Message.Text)

	cleared := next()
	require.Equal(t, analytics.FeedCleared, cleared.Type)
	assert.Equal(t, "2", cleared.Cleared.ID)
}

func TestStatsRequiresDatabase(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodGet, "/stats", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct{ method, path string }{
		{http.MethodPost, "/overview"},
		{http.MethodPost, "/chat"},
		{http.MethodDelete, "/settings"},
		{http.MethodGet, "/admin/settings"},
		{http.MethodGet, "/admin/giveaway/draw"},
		{http.MethodGet, "/admin/giveaway/clear"},
	}
	for _, c := range cases {
		rr := env.do(c.method, c.path, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code, "%s %s", c.method, c.path)
	}
}

func TestStartAndShutdown(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Start(ctx, "127.0.0.1:0", env.handler) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
