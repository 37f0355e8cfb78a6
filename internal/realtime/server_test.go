package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/event"
)

func testWSConfig() config.WSConfig {
	return config.WSConfig{
		SendBuffer:      16,
		PingInterval:    time.Second,
		PongWait:        2 * time.Second,
		WriteWait:       time.Second,
		MaxMessageBytes: 1 << 16,
		InboundRPS:      100,
		InboundBurst:    100,
	}
}

func startServer(t *testing.T, e *env, cfg config.WSConfig) string {
	t.Helper()
	_, url := newTestServer(t, e, cfg)
	return url
}

func newTestServer(t *testing.T, e *env, cfg config.WSConfig) (*Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := NewServer(cfg, []string{"*"}, e.sessions, e.membership, e.dispatch, e.hub, zap.NewNop())
	r := gin.New()
	r.GET("/ws", srv.Handle)
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

// readUntil skips frames until one of type typ arrives.
func readUntil(t *testing.T, ws *websocket.Conn, typ event.Type) frame {
	t.Helper()
	for i := 0; i < 10; i++ {
		if f := readFrame(t, ws); f.Type == typ {
			return f
		}
	}
	t.Fatalf("no %s frame", typ)
	return frame{}
}

func TestServer_RejectsBadCredentialBeforeUpgrade(t *testing.T) {
	e := newEnv(t, "alice")
	url := startServer(t, e, testWSConfig())

	for _, u := range []string{url, url + "?token=forged"} {
		_, resp, err := websocket.DefaultDialer.Dial(u, nil)
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.NotNil(t, resp)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		_ = resp.Body.Close()
	}
	require.False(t, e.hub.IsOnline("alice"))
}

func TestServer_EndToEnd(t *testing.T) {
	e := newEnv(t, "alice", "bob")
	g := e.group(t, "alice", "bob")
	url := startServer(t, e, testWSConfig())

	alice := dial(t, url+"?token=token-alice", nil)
	ready := readFrame(t, alice)
	require.Equal(t, event.SessionReady, ready.Type)
	var rd ReadyEvent
	require.NoError(t, json.Unmarshal(ready.Data, &rd))
	require.Equal(t, "alice", rd.UserID)
	require.Equal(t, []string{g.ID}, rd.Rooms)

	bob := dial(t, url, http.Header{"Authorization": {"Bearer token-bob"}})
	require.Equal(t, event.SessionReady, readFrame(t, bob).Type)
	require.Equal(t, event.UserOnline, readUntil(t, alice, event.UserOnline).Type)

	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":      "send-message",
		"requestId": "r1",
		"data":      map[string]any{"chatId": g.ID, "content": "hi bob"},
	}))
	for _, ws := range []*websocket.Conn{alice, bob} {
		f := readUntil(t, ws, event.NewMessage)
		var v chat.MessageView
		require.NoError(t, json.Unmarshal(f.Data, &v))
		require.Equal(t, "hi bob", v.Content)
		require.Equal(t, "alice", v.SenderID)
	}

	require.NoError(t, bob.WriteJSON(map[string]any{"type": "typing", "data": map[string]any{"chatId": "elsewhere"}}))
	f := readUntil(t, bob, event.Error)
	require.Equal(t, "FORBIDDEN", errorOf(t, f).Code)

	require.NoError(t, bob.Close())
	off := readUntil(t, alice, event.UserOffline)
	var oe OfflineEvent
	require.NoError(t, json.Unmarshal(off.Data, &oe))
	require.Equal(t, "bob", oe.UserID)
}

func TestServer_ClosesAfterRepeatedGarbage(t *testing.T) {
	e := newEnv(t, "alice")
	url := startServer(t, e, testWSConfig())
	ws := dial(t, url+"?token=token-alice", nil)
	require.Equal(t, event.SessionReady, readFrame(t, ws).Type)

	for i := 0; i < maxDecodeErrorsPerConn; i++ {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("garbage")))
	}

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	require.Eventually(t, func() bool { return !e.hub.IsOnline("alice") }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_RateLimit(t *testing.T) {
	e := newEnv(t, "alice")
	cfg := testWSConfig()
	cfg.InboundRPS = 0.001
	cfg.InboundBurst = 1
	url := startServer(t, e, cfg)
	ws := dial(t, url+"?token=token-alice", nil)
	require.Equal(t, event.SessionReady, readFrame(t, ws).Type)

	for i := 0; i < 2; i++ {
		require.NoError(t, ws.WriteJSON(map[string]any{"type": "update-status", "data": map[string]any{"status": "busy"}}))
	}
	require.Equal(t, event.UserStatusUpdated, readFrame(t, ws).Type)
	require.Equal(t, "RESOURCE_EXHAUSTED", errorOf(t, readFrame(t, ws)).Code)
}

func TestServer_ShutdownWaitsForDetach(t *testing.T) {
	e := newEnv(t, "alice")
	srv, url := newTestServer(t, e, testWSConfig())
	ws := dial(t, url+"?token=token-alice", nil)
	require.Equal(t, event.SessionReady, readFrame(t, ws).Type)

	u, err := e.repo.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, u.IsOnline)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	// no polling: Shutdown returns only after the offline write
	require.False(t, e.hub.IsOnline("alice"))
	u, err = e.repo.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	require.False(t, u.IsOnline)
	calls := e.mirror.snapshot()
	require.Equal(t, mirrorCall{UserID: "alice", Online: false}, calls[len(calls)-1])

	_, resp, err := websocket.DefaultDialer.Dial(url+"?token=token-alice", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()
}
