package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tablestakes/game-session/pkg/session"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 54 * time.Second
	streamSendBuffer = 16
)

// StreamMessage is pushed to status stream subscribers
type StreamMessage struct {
	Type      string           `json:"type"`
	Data      session.Snapshot `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
}

// StatusStream pushes session snapshots to websocket subscribers, once on
// connect and then every interval
type StatusStream struct {
	session  SessionService
	interval time.Duration
	logger   *zap.Logger
	upgrader websocket.Upgrader

	clients    map[*websocket.Conn]*streamClient
	mutex      sync.RWMutex
	register   chan *streamClient
	unregister chan *streamClient
	shutdown   chan struct{}
	stopOnce   sync.Once
}

type streamClient struct {
	conn *websocket.Conn
	send chan *StreamMessage
}

// NewStatusStream creates a status stream
func NewStatusStream(svc SessionService, interval time.Duration, logger *zap.Logger) *StatusStream {
	if interval <= 0 {
		interval = time.Second
	}
	return &StatusStream{
		session:  svc,
		interval: interval,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Local control surface; browsers are gated by CORS on the REST routes
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[*websocket.Conn]*streamClient),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
		shutdown:   make(chan struct{}),
	}
}

// Start runs the broadcast loop until ctx ends or Stop is called
func (s *StatusStream) Start(ctx context.Context) error {
	go s.run(ctx)
	return nil
}

// Stop closes every subscriber
func (s *StatusStream) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.shutdown) })

	s.mutex.Lock()
	for conn, client := range s.clients {
		close(client.send)
		delete(s.clients, conn)
	}
	s.mutex.Unlock()
	return nil
}

// HandleWebSocket upgrades a subscriber
func (s *StatusStream) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("status stream upgrade failed", zap.Error(err))
		return
	}

	client := &streamClient{
		conn: conn,
		send: make(chan *StreamMessage, streamSendBuffer),
	}

	select {
	case s.register <- client:
	case <-s.shutdown:
		conn.Close()
		return
	}

	go s.writePump(client)
	go s.readPump(client)
}

// GetConnectedClients returns the number of subscribers
func (s *StatusStream) GetConnectedClients() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.clients)
}

func (s *StatusStream) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Stop(context.Background())
			return
		case <-s.shutdown:
			return
		case client := <-s.register:
			s.registerClient(client)
		case client := <-s.unregister:
			s.unregisterClient(client)
		case <-ticker.C:
			if s.GetConnectedClients() > 0 {
				s.broadcast(s.snapshot())
			}
		}
	}
}

func (s *StatusStream) snapshot() *StreamMessage {
	return &StreamMessage{
		Type:      "status",
		Data:      s.session.Snapshot(),
		Timestamp: time.Now(),
	}
}

func (s *StatusStream) registerClient(client *streamClient) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.clients[client.conn] = client
	s.logger.Debug("status subscriber connected", zap.Int("total", len(s.clients)))

	// First frame goes out immediately instead of waiting for the ticker
	select {
	case client.send <- s.snapshot():
	default:
	}
}

func (s *StatusStream) unregisterClient(client *streamClient) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.clients[client.conn]; ok {
		delete(s.clients, client.conn)
		close(client.send)
	}
	s.logger.Debug("status subscriber disconnected", zap.Int("total", len(s.clients)))
}

// broadcast drops subscribers whose buffer is full
func (s *StatusStream) broadcast(message *StreamMessage) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for conn, client := range s.clients {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(s.clients, conn)
		}
	}
}

// readPump discards inbound frames and detects disconnects
func (s *StatusStream) readPump(client *streamClient) {
	defer func() {
		select {
		case s.unregister <- client:
		case <-s.shutdown:
		}
		client.conn.Close()
	}()

	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("status subscriber read error", zap.Error(err))
			}
			return
		}
	}
}

func (s *StatusStream) writePump(client *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := client.conn.WriteJSON(message); err != nil {
				s.logger.Debug("status subscriber write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
