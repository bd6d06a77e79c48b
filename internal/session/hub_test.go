package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Juliapixel/chat-bingo/internal/game"
	"github.com/Juliapixel/chat-bingo/internal/session"
)

type hubFixture struct {
	manager *game.Manager
	hub     *session.Hub
	server  *httptest.Server
}

func newHubFixture(t *testing.T, cfg session.HubConfig) *hubFixture {
	t.Helper()

	logger := testLogger()
	manager := game.NewManager(logger, game.ManagerConfig{})
	hub := session.NewHub(manager, logger, cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.ServeWS)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		server.Close()
		manager.Stop()
	})

	return &hubFixture{manager: manager, hub: hub, server: server}
}

func hubConfig() session.HubConfig {
	return session.HubConfig{
		Session:        testConfig(),
		ReconnectDelay: 500 * time.Millisecond,
	}
}

func (f *hubFixture) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?" + query
}

func (f *hubFixture) newGame(t *testing.T) *game.Game {
	t.Helper()
	texts := make([]string, 25)
	for i := range texts {
		texts[i] = fmt.Sprintf("item-%d", i)
	}
	g, err := f.manager.NewGame(5, texts)
	require.NoError(t, err)
	return g
}

// dial 連線並等待伺服器端完成訂閱
func (f *hubFixture) dial(t *testing.T, g *game.Game, player string) *websocket.Conn {
	t.Helper()

	before := g.SubscriberCount()
	beforeConns := f.hub.TotalConnections()
	ws, resp, err := websocket.DefaultDialer.Dial(f.wsURL("game="+g.ID().String()+"&player="+player), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { ws.Close() })

	require.Eventually(t, func() bool {
		return g.SubscriberCount() == before+1 && f.hub.TotalConnections() == beforeConns+1
	}, time.Second, 5*time.Millisecond)
	return ws
}

func readText(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	typ, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	return string(data)
}

// readClose 讀到關閉訊框為止
func readClose(t *testing.T, ws *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
		return closeErr
	}
}

func TestHub_RejectsBadRequests(t *testing.T) {
	f := newHubFixture(t, hubConfig())

	tests := []struct {
		name     string
		query    string
		wantCode string
	}{
		{"missing game", "", "invalid_game_id"},
		{"malformed game", "game=not-a-uuid", "invalid_game_id"},
		{"unknown game", "game=" + uuid.NewString(), "no_such_game"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, resp, err := websocket.DefaultDialer.Dial(f.wsURL(tt.query), nil)
			require.Error(t, err)
			if ws != nil {
				ws.Close()
			}
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.JSONEq(t, fmt.Sprintf(`{"error":%q}`, tt.wantCode), string(body))
		})
	}

	assert.Equal(t, 0, f.hub.TotalConnections())
}

func TestHub_EndToEnd(t *testing.T) {
	f := newHubFixture(t, hubConfig())
	g := f.newGame(t)
	ws := f.dial(t, g, "alice")

	assert.Equal(t, map[string]int{g.ID().String(): 1}, f.hub.ConnectionCount())

	_, err := g.Draw(3)
	require.NoError(t, err)
	g.End()

	assert.JSONEq(t, `{"new_ball":{"idx":3}}`, readText(t, ws))
	assert.JSONEq(t, `{"game_over":null}`, readText(t, ws))
}

func TestHub_SessionsSeeSameSequence(t *testing.T) {
	f := newHubFixture(t, hubConfig())
	g := f.newGame(t)

	a := f.dial(t, g, "alice")
	b := f.dial(t, g, "bob")
	assert.Equal(t, 2, f.hub.TotalConnections())

	for _, idx := range []int{4, 0, 17} {
		_, err := g.Draw(idx)
		require.NoError(t, err)
	}
	g.End()

	var wg sync.WaitGroup
	results := make([][]string, 2)
	for i, ws := range []*websocket.Conn{a, b} {
		wg.Add(1)
		go func(i int, ws *websocket.Conn) {
			defer wg.Done()
			for range 4 {
				_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
				_, data, err := ws.ReadMessage()
				if err != nil {
					return
				}
				results[i] = append(results[i], string(data))
			}
		}(i, ws)
	}
	wg.Wait()

	require.Len(t, results[0], 4)
	assert.Equal(t, results[0], results[1])

	var last map[string]any
	require.NoError(t, json.Unmarshal([]byte(results[0][3]), &last))
	assert.Contains(t, last, "game_over")
}

func TestHub_ClientClose(t *testing.T) {
	f := newHubFixture(t, hubConfig())
	g := f.newGame(t)
	ws := f.dial(t, g, "alice")

	err := ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return f.hub.TotalConnections() == 0 && g.SubscriberCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_IgnoresMalformedFrames(t *testing.T) {
	f := newHubFixture(t, hubConfig())
	g := f.newGame(t)
	ws := f.dial(t, g, "alice")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{{{")))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"mark":{"idx":1}}`)))

	_, err := g.Draw(1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"new_ball":{"idx":1}}`, readText(t, ws))
	assert.Equal(t, 1, f.hub.TotalConnections())
}

func TestHub_HeartbeatTimeout(t *testing.T) {
	cfg := hubConfig()
	cfg.Session.Heartbeat = session.Heartbeat{Interval: 100 * time.Millisecond, Leniency: 50 * time.Millisecond}
	f := newHubFixture(t, cfg)
	g := f.newGame(t)

	start := time.Now()
	ws := f.dial(t, g, "alice")

	// 不回 pong 的客戶端
	ws.SetPingHandler(func(string) error { return nil })

	closeErr := readClose(t, ws)
	elapsed := time.Since(start)

	assert.Equal(t, session.CloseTimedOut, closeErr.Code)
	assert.Equal(t, "timed out", closeErr.Text)
	assert.GreaterOrEqual(t, elapsed, cfg.Session.Heartbeat.Deadline())

	assert.Eventually(t, func() bool {
		return f.hub.TotalConnections() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_PongKeepsConnectionAlive(t *testing.T) {
	cfg := hubConfig()
	cfg.Session.Heartbeat = session.Heartbeat{Interval: 50 * time.Millisecond, Leniency: 25 * time.Millisecond}
	f := newHubFixture(t, cfg)
	g := f.newGame(t)
	ws := f.dial(t, g, "alice")

	// 預設 ping 處理器會在讀取時自動回 pong
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	time.Sleep(400 * time.Millisecond)

	select {
	case err := <-readErr:
		t.Fatalf("connection closed: %v", err)
	default:
	}
	assert.Equal(t, 1, f.hub.TotalConnections())
}

func TestHub_Shutdown(t *testing.T) {
	f := newHubFixture(t, hubConfig())
	g := f.newGame(t)
	ws := f.dial(t, g, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.hub.Shutdown(ctx))

	assert.JSONEq(t, `{"reconnect":{"delay":500}}`, readText(t, ws))
	closeErr := readClose(t, ws)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)

	assert.Equal(t, 0, f.hub.TotalConnections())

	// 關閉後拒絕新連線
	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL("game="+g.ID().String()), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHub_AllowedOrigins(t *testing.T) {
	cfg := hubConfig()
	cfg.AllowedOrigins = []string{"https://bingo.example"}
	f := newHubFixture(t, cfg)
	g := f.newGame(t)
	url := f.wsURL("game=" + g.ID().String())

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://bingo.example")
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	ws.Close()
}

func TestHub_Identify(t *testing.T) {
	identified := make(chan string, 1)
	cfg := hubConfig()
	cfg.Identify = func(r *http.Request) string {
		id := r.Header.Get("X-Player")
		identified <- id
		return id
	}
	f := newHubFixture(t, cfg)
	g := f.newGame(t)

	ws, _, err := websocket.DefaultDialer.Dial(f.wsURL("game="+g.ID().String()),
		http.Header{"X-Player": []string{"carol"}})
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, "carol", <-identified)
}

func TestDefaultIdentify(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?player=dave", nil)
	assert.Equal(t, "dave", session.DefaultIdentify(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, strings.HasPrefix(session.DefaultIdentify(r), "anon-"))
}
