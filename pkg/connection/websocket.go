package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tablestakes/game-session/pkg/interfaces"
)

// WebSocketConfig tunes the gorilla transport
type WebSocketConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	ReadLimit        int64
	UserAgent        string
}

// DefaultWebSocketConfig returns transport settings suitable for a game gateway
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     20 * time.Second,
		PongTimeout:      45 * time.Second,
		ReadLimit:        1 << 20,
		UserAgent:        "game-session/1.0",
	}
}

// WebSocketDialer dials gateway endpoints with gorilla/websocket
type WebSocketDialer struct {
	cfg    WebSocketConfig
	logger *zap.Logger
}

// NewWebSocketDialer creates a dialer
func NewWebSocketDialer(cfg WebSocketConfig, logger *zap.Logger) *WebSocketDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketDialer{cfg: cfg, logger: logger}
}

// Dial performs the websocket handshake
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (interfaces.Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
		ReadBufferSize:   1024 * 16,
		WriteBufferSize:  1024 * 16,
		Proxy:            http.ProxyFromEnvironment,
	}

	header := http.Header{}
	if d.cfg.UserAgent != "" {
		header.Set("User-Agent", d.cfg.UserAgent)
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial websocket: %w", err)
	}

	d.logger.Debug("websocket connected", zap.String("url", url))
	return newWebSocketTransport(conn, d.cfg, d.logger), nil
}

// webSocketTransport adapts a gorilla connection to interfaces.Transport.
// Writes are serialized; the read loop runs inside Listen.
type webSocketTransport struct {
	conn   *websocket.Conn
	cfg    WebSocketConfig
	logger *zap.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newWebSocketTransport(conn *websocket.Conn, cfg WebSocketConfig, logger *zap.Logger) *webSocketTransport {
	return &webSocketTransport{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (t *webSocketTransport) Send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	select {
	case <-t.done:
		return errors.New("transport closed")
	default:
	}

	if t.cfg.WriteTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close sends a normal closure frame and tears down the socket
func (t *webSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)

		t.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, t.controlDeadline())
		t.writeMu.Unlock()

		err = t.conn.Close()
	})
	return err
}

func (t *webSocketTransport) Listen(sink interfaces.EventSink) {
	if t.cfg.ReadLimit > 0 {
		t.conn.SetReadLimit(t.cfg.ReadLimit)
	}

	if t.cfg.PingInterval > 0 && t.cfg.PongTimeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.cfg.PongTimeout))
		t.conn.SetPongHandler(func(string) error {
			return t.conn.SetReadDeadline(time.Now().Add(t.cfg.PongTimeout))
		})
		go t.pingLoop()
	}

	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			clean := t.isCleanClose(err)
			t.logger.Debug("websocket read loop ended", zap.Bool("clean", clean), zap.Error(err))
			t.closeOnce.Do(func() {
				close(t.done)
				_ = t.conn.Close()
			})
			sink.OnClose(clean, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		sink.OnMessage(data)
	}
}

func (t *webSocketTransport) isCleanClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// pingLoop keeps the connection alive; a missing pong lets the read deadline
// expire, which the read loop reports as an unclean close
func (t *webSocketTransport) pingLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil, t.controlDeadline())
			t.writeMu.Unlock()
			if err != nil {
				t.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (t *webSocketTransport) controlDeadline() time.Time {
	if t.cfg.WriteTimeout > 0 {
		return time.Now().Add(t.cfg.WriteTimeout)
	}
	return time.Now().Add(time.Second)
}
