package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockGateway upgrades every request and hands the server side of the
// connection to script
type mockGateway struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	script   func(conn *websocket.Conn)
}

func newMockGateway(t *testing.T, script func(conn *websocket.Conn)) *mockGateway {
	t.Helper()
	g := &mockGateway{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		script: script,
	}
	g.server = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.server.Close)
	return g
}

func (g *mockGateway) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	g.script(conn)
}

func (g *mockGateway) url() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

type closeEvent struct {
	clean bool
	err   error
}

type chanSink struct {
	messages chan string
	closes   chan closeEvent
}

func newChanSink() *chanSink {
	return &chanSink{
		messages: make(chan string, 16),
		closes:   make(chan closeEvent, 1),
	}
}

func (s *chanSink) OnMessage(data []byte) { s.messages <- string(data) }

func (s *chanSink) OnClose(clean bool, err error) { s.closes <- closeEvent{clean: clean, err: err} }

func testWebSocketConfig() WebSocketConfig {
	cfg := DefaultWebSocketConfig()
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.WriteTimeout = time.Second
	return cfg
}

func TestWebSocketTransport_RoundTripAndCleanClose(t *testing.T) {
	received := make(chan string, 1)
	gateway := newMockGateway(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(msg)

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"balance","balance":100,"seq":1}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01})
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_, _, _ = conn.ReadMessage()
	})

	dialer := NewWebSocketDialer(testWebSocketConfig(), nil)
	transport, err := dialer.Dial(context.Background(), gateway.url())
	require.NoError(t, err)
	defer transport.Close()

	sink := newChanSink()
	go transport.Listen(sink)

	require.NoError(t, transport.Send([]byte(`{"type":"get_balance"}`)))

	select {
	case msg := <-received:
		assert.Equal(t, `{"type":"get_balance"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive frame")
	}

	select {
	case msg := <-sink.messages:
		assert.JSONEq(t, `{"type":"balance","balance":100,"seq":1}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound message")
	}

	select {
	case ev := <-sink.closes:
		assert.True(t, ev.clean)
	case <-time.After(2 * time.Second):
		t.Fatal("no close event")
	}
	assert.Empty(t, sink.messages, "binary frames are not delivered")
}

func TestWebSocketTransport_AbruptCloseIsUnclean(t *testing.T) {
	gateway := newMockGateway(t, func(conn *websocket.Conn) {
		_ = conn.UnderlyingConn().Close()
	})

	transport, err := NewWebSocketDialer(testWebSocketConfig(), nil).Dial(context.Background(), gateway.url())
	require.NoError(t, err)
	defer transport.Close()

	sink := newChanSink()
	go transport.Listen(sink)

	select {
	case ev := <-sink.closes:
		assert.False(t, ev.clean)
		assert.Error(t, ev.err)
	case <-time.After(2 * time.Second):
		t.Fatal("no close event")
	}
}

func TestWebSocketTransport_LocalCloseSendsNormalClosure(t *testing.T) {
	closeCode := make(chan int, 1)
	gateway := newMockGateway(t, func(conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		if ce, ok := err.(*websocket.CloseError); ok {
			closeCode <- ce.Code
		}
	})

	transport, err := NewWebSocketDialer(testWebSocketConfig(), nil).Dial(context.Background(), gateway.url())
	require.NoError(t, err)

	require.NoError(t, transport.Close())
	assert.Error(t, transport.Send([]byte("after close")))

	select {
	case code := <-closeCode:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe close frame")
	}
}

func TestWebSocketDialer_HandshakeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	_, err := NewWebSocketDialer(testWebSocketConfig(), nil).
		Dial(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestWebSocketManager_EndToEnd(t *testing.T) {
	gateway := newMockGateway(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session_ready","balance":5,"seq":1}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	handler := &recordingHandler{}
	cfg := DefaultManagerConfig(gateway.url())
	cfg.DevMode = true

	m := NewManager(cfg, NewWebSocketDialer(testWebSocketConfig(), nil), newTestQueue(), nil, WithHandler(handler))
	defer m.Close()

	m.Connect()
	require.Eventually(t, func() bool {
		return len(handler.types()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"session_ready"}, handler.types())
	assert.True(t, m.Send(map[string]string{"type": "get_balance"}))
}
