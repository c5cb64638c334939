// Package connection owns the session's single logical connection to the game
// gateway: dialing, reconnecting with exponential backoff, queueing frames
// while offline and flushing them on reconnect.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tablestakes/game-session/pkg/backoff"
	"github.com/tablestakes/game-session/pkg/clock"
	"github.com/tablestakes/game-session/pkg/interfaces"
	"github.com/tablestakes/game-session/pkg/protocol"
)

const (
	DefaultMaxAttempts = 10
	DefaultDialTimeout = 15 * time.Second
)

// ManagerConfig configures reconnection behaviour
type ManagerConfig struct {
	URL         string
	DevMode     bool
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Jitter      bool
	DialTimeout time.Duration
}

// DefaultManagerConfig returns the default reconnection policy for url
func DefaultManagerConfig(url string) ManagerConfig {
	return ManagerConfig{
		URL:         url,
		BaseDelay:   backoff.DefaultBaseDelay,
		MaxDelay:    backoff.DefaultMaxDelay,
		MaxAttempts: DefaultMaxAttempts,
		DialTimeout: DefaultDialTimeout,
	}
}

// Observer receives connection lifecycle signals, typically for metrics
type Observer interface {
	ObserveConnectionState(state interfaces.ConnectionState, attempt int)
	ObserveReconnectScheduled(delay time.Duration)
	ObserveSendFailure()
	ObserveFrameDropped()
}

// StateListener is notified after every state transition. It runs outside
// the manager lock and may call back into the manager.
type StateListener func(from, to interfaces.ConnectionState)

// Status is a point-in-time view of the manager
type Status struct {
	State            interfaces.ConnectionState `json:"state"`
	ReconnectAttempt int                        `json:"reconnect_attempt"`
	Queued           int                        `json:"queued"`
	LastError        string                     `json:"last_error,omitempty"`
}

// Option customizes a Manager
type Option func(*Manager)

// WithClock replaces the wall clock used for retry timers and timestamps
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithObserver attaches a lifecycle observer
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithHandler sets the consumer of validated inbound frames
func WithHandler(h interfaces.MessageHandler) Option {
	return func(m *Manager) { m.handler = h }
}

// WithStateListener registers a transition listener
func WithStateListener(l StateListener) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, l) }
}

// WithRand sets the randomness source used for jitter
func WithRand(r *rand.Rand) Option {
	return func(m *Manager) { m.rng = r }
}

// Manager is the connection state machine. All transitions happen under mu;
// transport events carry the generation of the attempt that produced them so
// late events from a superseded transport are ignored.
type Manager struct {
	cfg       ManagerConfig
	dialer    interfaces.Dialer
	queue     interfaces.MessageQueue
	schedule  backoff.Schedule
	clock     clock.Clock
	logger    *zap.Logger
	observer  Observer
	handler   interfaces.MessageHandler
	listeners []StateListener
	rng       *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      interfaces.ConnectionState
	attempt    int
	gen        uint64
	transport  interfaces.Transport
	retryTimer clock.Timer
	retryToken uint64
	lastErr    error
	closed     bool
}

// NewManager creates a manager in the Disconnected state. Nothing is dialed
// until Connect is called.
func NewManager(cfg ManagerConfig, dialer interfaces.Dialer, queue interfaces.MessageQueue, logger *zap.Logger, opts ...Option) *Manager {
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		dialer:   dialer,
		queue:    queue,
		schedule: backoff.NewSchedule(cfg.BaseDelay, cfg.MaxDelay),
		clock:    clock.New(),
		logger:   logger.With(zap.String("component", "connection")),
		ctx:      ctx,
		cancel:   cancel,
		state:    interfaces.StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(m.clock.Now().UnixNano()))
	}
	return m
}

// Connect starts a connection attempt unless one is already in flight or the
// connection is up
func (m *Manager) Connect() {
	var fx effects
	m.mu.Lock()
	m.connectLocked(&fx)
	m.mu.Unlock()
	fx.run()
}

// Reconnect is the manual retry path. It resets the retry budget, cancels any
// pending retry and dials immediately, dropping a live transport first. An
// attempt already in flight is kept.
func (m *Manager) Reconnect() {
	var fx effects
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	m.attempt = 0
	m.cancelRetryLocked()
	if m.observer != nil {
		m.observer.ObserveConnectionState(m.state, m.attempt)
	}

	if m.state == interfaces.StateConnected {
		t := m.transport
		m.transport = nil
		m.gen++
		if t != nil {
			go t.Close()
		}
		m.setStateLocked(interfaces.StateDisconnected, &fx)
	}
	m.logger.Info("manual reconnect requested")
	m.connectLocked(&fx)
	m.mu.Unlock()
	fx.run()
}

// Close tears the connection down for good. Pending retries are cancelled and
// later events are ignored.
func (m *Manager) Close() error {
	var fx effects
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cancelRetryLocked()
	m.gen++
	t := m.transport
	m.transport = nil
	m.setStateLocked(interfaces.StateDisconnected, &fx)
	m.mu.Unlock()

	m.cancel()
	fx.run()

	if t != nil {
		return t.Close()
	}
	return nil
}

// Send transmits msg if connected, or queues it while connecting or waiting
// to retry. It returns false when the connection has failed or the write
// errored.
func (m *Manager) Send(msg interface{}) bool {
	data, err := encodeFrame(msg)
	if err != nil {
		m.logger.Warn("dropping unencodable message", zap.Error(err))
		return false
	}
	return m.SendRaw(data)
}

// SendRaw is Send for an already encoded frame
func (m *Manager) SendRaw(data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	switch m.state {
	case interfaces.StateConnected:
		if err := m.transport.Send(data); err != nil {
			m.logger.Warn("send failed", zap.Error(err))
			if m.observer != nil {
				m.observer.ObserveSendFailure()
			}
			return false
		}
		return true
	case interfaces.StateConnecting, interfaces.StateDisconnected:
		if m.queue.Enqueue(data) {
			m.logger.Warn("outbound queue full, oldest message evicted")
		}
		return true
	default:
		return false
	}
}

// State returns the current connection state
func (m *Manager) State() interfaces.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReconnectAttempt returns the number of automatic retries scheduled since
// the last successful open or manual reconnect
func (m *Manager) ReconnectAttempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Status returns a snapshot of the connection
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		State:            m.state,
		ReconnectAttempt: m.attempt,
		Queued:           m.queue.Len(),
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	return status
}

// URL returns the configured endpoint
func (m *Manager) URL() string {
	return m.cfg.URL
}

func (m *Manager) connectLocked(fx *effects) {
	if m.closed {
		return
	}
	switch m.state {
	case interfaces.StateConnecting, interfaces.StateConnected:
		m.logger.Debug("connect ignored", zap.Stringer("state", m.state))
		return
	}
	m.cancelRetryLocked()

	if err := CheckEndpoint(m.cfg.URL, m.cfg.DevMode); err != nil {
		m.lastErr = err
		m.logger.Error("refusing to connect", zap.String("url", m.cfg.URL), zap.Error(err))
		m.setStateLocked(interfaces.StateFailed, fx)
		return
	}

	m.gen++
	gen := m.gen
	m.setStateLocked(interfaces.StateConnecting, fx)
	go m.dial(gen)
}

func (m *Manager) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
	defer cancel()

	t, err := m.dialer.Dial(ctx, m.cfg.URL)
	if err != nil {
		m.dispatch(Event{Kind: EventClose, Gen: gen, Err: err, At: m.clock.Now()})
		return
	}
	m.dispatch(Event{Kind: EventOpen, Gen: gen, Transport: t, At: m.clock.Now()})
}

func (m *Manager) dispatch(ev Event) {
	var fx effects
	m.mu.Lock()
	m.handleEventLocked(ev, &fx)
	m.mu.Unlock()
	fx.run()
}

func (m *Manager) handleEventLocked(ev Event, fx *effects) {
	if m.closed || ev.Gen != m.gen {
		m.logger.Debug("ignoring event from superseded attempt",
			zap.Stringer("event", ev.Kind),
			zap.Uint64("gen", ev.Gen),
			zap.Uint64("current_gen", m.gen),
		)
		if ev.Kind == EventOpen && ev.Transport != nil {
			go ev.Transport.Close()
		}
		return
	}

	switch ev.Kind {
	case EventOpen:
		m.onOpenLocked(ev, fx)
	case EventMessage:
		m.onMessageLocked(ev, fx)
	case EventClose:
		m.onCloseLocked(ev, fx)
	}
}

func (m *Manager) onOpenLocked(ev Event, fx *effects) {
	m.transport = ev.Transport
	m.attempt = 0
	m.lastErr = nil
	m.setStateLocked(interfaces.StateConnected, fx)
	m.flushLocked()
	go ev.Transport.Listen(&attemptSink{m: m, gen: ev.Gen})
}

// flushLocked sends queued frames in order. On a write failure the failed
// frame is dropped and the rest are put back at the head of the queue.
func (m *Manager) flushLocked() {
	entries := m.queue.Flush()
	if len(entries) == 0 {
		return
	}

	for i, entry := range entries {
		if err := m.transport.Send(entry.Payload); err != nil {
			m.logger.Warn("flush interrupted",
				zap.Int("sent", i),
				zap.Int("requeued", len(entries)-i-1),
				zap.Error(err),
			)
			if m.observer != nil {
				m.observer.ObserveSendFailure()
			}
			m.queue.Requeue(entries[i+1:])
			return
		}
	}
	m.logger.Debug("flushed outbound queue", zap.Int("count", len(entries)))
}

func (m *Manager) onMessageLocked(ev Event, fx *effects) {
	env, err := protocol.DecodeEnvelope(ev.Data, ev.At)
	if err != nil {
		m.logger.Debug("dropping invalid frame", zap.Error(err))
		if m.observer != nil {
			m.observer.ObserveFrameDropped()
		}
		return
	}
	if h := m.handler; h != nil {
		fx.add(func() { h.HandleMessage(env) })
	}
}

func (m *Manager) onCloseLocked(ev Event, fx *effects) {
	m.transport = nil
	if ev.Err != nil {
		m.lastErr = ev.Err
	}

	if ev.Clean {
		m.logger.Info("connection closed by peer")
		m.setStateLocked(interfaces.StateDisconnected, fx)
		return
	}

	// MaxAttempts consecutive unclean closes end in Failed.
	if m.attempt+1 >= m.cfg.MaxAttempts {
		m.logger.Error("reconnect attempts exhausted",
			zap.Int("max_attempts", m.cfg.MaxAttempts),
			zap.Int("unclean_closes", m.attempt+1),
			zap.Error(ev.Err),
		)
		m.setStateLocked(interfaces.StateFailed, fx)
		return
	}

	delay := m.schedule.Delay(m.attempt)
	if m.cfg.Jitter {
		delay = backoff.Jittered(delay, m.rng)
	}
	m.attempt++
	m.logger.Warn("connection lost, scheduling reconnect",
		zap.Int("attempt", m.attempt),
		zap.Duration("delay", delay),
		zap.Error(ev.Err),
	)
	m.setStateLocked(interfaces.StateDisconnected, fx)
	m.scheduleRetryLocked(delay)
}

func (m *Manager) scheduleRetryLocked(delay time.Duration) {
	m.cancelRetryLocked()
	token := m.retryToken
	m.retryTimer = m.clock.AfterFunc(delay, func() {
		var fx effects
		m.mu.Lock()
		if m.retryToken == token {
			m.retryTimer = nil
			m.connectLocked(&fx)
		}
		m.mu.Unlock()
		fx.run()
	})
	if m.observer != nil {
		m.observer.ObserveReconnectScheduled(delay)
	}
}

func (m *Manager) cancelRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.retryToken++
}

func (m *Manager) setStateLocked(to interfaces.ConnectionState, fx *effects) {
	from := m.state
	if m.observer != nil {
		m.observer.ObserveConnectionState(to, m.attempt)
	}
	if from == to {
		return
	}
	m.state = to
	m.logger.Info("connection state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("attempt", m.attempt),
	)
	for _, l := range m.listeners {
		listener := l
		fx.add(func() { listener(from, to) })
	}
}

func encodeFrame(msg interface{}) ([]byte, error) {
	switch v := msg.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode message: %w", err)
		}
		return data, nil
	}
}
