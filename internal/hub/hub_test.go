package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/friendlychat/internal/config"
	"github.com/weiawesome/friendlychat/internal/domain"
	"github.com/weiawesome/friendlychat/internal/feed"
	"github.com/weiawesome/friendlychat/internal/metrics"
)

var testWSConfig = config.WebSocketConfig{
	PingInterval:   time.Second,
	PongWait:       2 * time.Second,
	WriteWait:      time.Second,
	MaxMessageSize: 4096,
	SendBuffer:     16,
}

type testServer struct {
	hub     *Hub
	srv     *httptest.Server
	clients chan *Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(metrics.New())
	go h.Run(ctx)

	ts := &testServer{hub: h, clients: make(chan *Client, 4)}
	upgrader := websocket.Upgrader{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(r.URL.Query().Get("id"), r.URL.Query().Get("sid"), h, conn, testWSConfig)
		if err := h.Register(c); err != nil {
			return
		}
		go c.WritePump()
		go c.ReadPump(func(c *Client, msg []byte) {
			_ = c.SendMessage(map[string]string{"type": domain.MsgTypePong})
		})
		ts.clients <- c
	}))
	t.Cleanup(func() {
		cancel()
		ts.srv.Close()
	})
	return ts
}

func (ts *testServer) dial(t *testing.T, id, sid string) (*websocket.Conn, *Client) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/?id=" + id + "&sid=" + sid
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	select {
	case c := <-ts.clients:
		return conn, c
	case <-time.After(2 * time.Second):
		t.Fatal("client not registered")
		return nil, nil
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestSendToSession(t *testing.T) {
	ts := newTestServer(t)
	a1, _ := ts.dial(t, "a1", "browser-a")
	a2, _ := ts.dial(t, "a2", "browser-a")
	b, _ := ts.dial(t, "b", "browser-b")

	require.Eventually(t, func() bool { return ts.hub.SessionClientCount("browser-a") == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, ts.hub.SendToSession("browser-a", domain.NewAuthStateMessage(nil)))

	for _, conn := range []*websocket.Conn{a1, a2} {
		frame := readFrame(t, conn)
		assert.Equal(t, domain.MsgTypeAuthState, frame["type"])
		view := frame["view"].(map[string]any)
		assert.Equal(t, true, view["show_sign_in"])
		assert.Equal(t, false, view["show_profile"])
	}

	require.NoError(t, b.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := b.ReadMessage()
	assert.Error(t, err, "other sessions receive nothing")
}

func TestRenderSendsFeedFrame(t *testing.T) {
	ts := newTestServer(t)
	conn, c := ts.dial(t, "a", "browser-a")

	c.Render(feed.Op{Op: feed.OpUpsert, ID: "m1", HTML: "<div></div>", BeforeID: "m2"})

	frame := readFrame(t, conn)
	assert.Equal(t, domain.MsgTypeFeed, frame["type"])
	assert.Equal(t, feed.OpUpsert, frame["op"])
	assert.Equal(t, "m1", frame["id"])
	assert.Equal(t, "m2", frame["before_id"])
}

func TestReadPumpHandler(t *testing.T) {
	ts := newTestServer(t)
	conn, _ := ts.dial(t, "a", "browser-a")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	frame := readFrame(t, conn)
	assert.Equal(t, domain.MsgTypePong, frame["type"])
}

func TestDisconnectUnregisters(t *testing.T) {
	ts := newTestServer(t)
	conn, c := ts.dial(t, "a", "browser-a")
	require.Eventually(t, func() bool { return ts.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return ts.hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, ts.hub.SessionClientCount("browser-a"))

	select {
	case <-c.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("client context not cancelled")
	}

	// Sending to a closed client is dropped, not a panic.
	assert.NoError(t, c.SendMessage(map[string]string{"type": "late"}))
}

func TestStoppedHub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(nil)
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	assert.ErrorIs(t, h.SendToSession("x", map[string]string{}), ErrHubStopped)
	c := NewClient("c", "x", h, nil, testWSConfig)
	assert.ErrorIs(t, h.Register(c), ErrHubStopped)
	assert.Error(t, c.Context().Err())
}
