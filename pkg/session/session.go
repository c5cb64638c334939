// Package session is the owned facade over one game session: the connection
// manager, the outbound queue and the balance synchronizer, plus the routing
// of inbound frames between them.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tablestakes/game-session/pkg/balance"
	"github.com/tablestakes/game-session/pkg/clock"
	"github.com/tablestakes/game-session/pkg/connection"
	"github.com/tablestakes/game-session/pkg/interfaces"
	"github.com/tablestakes/game-session/pkg/protocol"
	"github.com/tablestakes/game-session/pkg/queue"
)

var (
	ErrInvalidBet = errors.New("invalid bet")
	ErrSendFailed = errors.New("bet could not be sent")
	ErrClosed     = errors.New("session closed")
)

// Config configures a session
type Config struct {
	Connection      connection.ManagerConfig
	QueueSize       int
	QueueTTL        time.Duration
	FaucetAmount    uint64
	ResyncOnConnect bool
	BetTimeout      time.Duration
}

// DefaultConfig returns the session defaults for the given gateway url
func DefaultConfig(url string) Config {
	return Config{
		Connection:      connection.DefaultManagerConfig(url),
		QueueSize:       queue.DefaultMaxSize,
		QueueTTL:        queue.DefaultTTL,
		ResyncOnConnect: true,
		BetTimeout:      time.Minute,
	}
}

// Option customizes a Session
type Option func(*options)

type options struct {
	clock   clock.Clock
	metrics interfaces.MetricsCollector
}

// WithClock drives queue expiry, retry timers and bet timeouts from c
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithMetrics records session activity in m
func WithMetrics(m interfaces.MetricsCollector) Option {
	return func(o *options) { o.metrics = m }
}

// PendingBet is a bet that has been submitted and awaits its result
type PendingBet struct {
	RequestID   string    `json:"request_id"`
	Type        string    `json:"type"`
	Amount      uint64    `json:"amount"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Session owns one logical connection and the balance it keeps in sync.
// Sessions are independent; there is no package-level state.
type Session struct {
	id      string
	cfg     Config
	conn    *connection.Manager
	queue   *queue.OutboundQueue
	sync    *balance.Synchronizer
	clock   clock.Clock
	metrics interfaces.MetricsCollector
	logger  *zap.Logger

	mu            sync.RWMutex
	lastMessage   *protocol.Envelope
	inFlight      *PendingBet
	betTimer      clock.Timer
	lastOutcome   *interfaces.BetOutcome
	publicKey     string
	registered    bool
	faucetClaimed bool
	closed        bool
}

// New creates a session. Nothing is dialed until Start.
func New(cfg Config, dialer interfaces.Dialer, logger *zap.Logger, opts ...Option) *Session {
	o := &options{clock: clock.New()}
	for _, opt := range opts {
		opt(o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.NewString()
	s := &Session{
		id:      id,
		cfg:     cfg,
		clock:   o.clock,
		metrics: o.metrics,
		logger:  logger.With(zap.String("session_id", id)),
	}

	var balanceObserver balance.Observer
	managerOpts := []connection.Option{
		connection.WithClock(o.clock),
		connection.WithHandler(s),
		connection.WithStateListener(s.onStateChange),
	}
	if o.metrics != nil {
		balanceObserver = o.metrics
		managerOpts = append(managerOpts, connection.WithObserver(o.metrics))
	}

	s.queue = queue.NewOutboundQueueWithConfig(cfg.QueueSize, cfg.QueueTTL, o.clock)
	s.sync = balance.NewSynchronizer(s.logger, balanceObserver)
	s.conn = connection.NewManager(cfg.Connection, dialer, s.queue, s.logger, managerOpts...)
	return s
}

// ID returns the session's identifier
func (s *Session) ID() string {
	return s.id
}

// Start opens the connection. An endpoint rejected by the security policy
// leaves the session Failed and is returned as an error.
func (s *Session) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	s.logger.Info("starting session", zap.String("url", s.cfg.Connection.URL))
	s.conn.Connect()

	if err := connection.CheckEndpoint(s.cfg.Connection.URL, s.cfg.Connection.DevMode); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

// Close tears the session down. Pending retries and bet timeouts are cancelled.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.betTimer != nil {
		s.betTimer.Stop()
		s.betTimer = nil
	}
	s.mu.Unlock()

	s.logger.Info("closing session")
	return s.conn.Close()
}

// ConnectionState returns the current connection state
func (s *Session) ConnectionState() interfaces.ConnectionState {
	return s.conn.State()
}

// ReconnectAttempt returns the automatic retry counter
func (s *Session) ReconnectAttempt() int {
	return s.conn.ReconnectAttempt()
}

// LastMessage returns the most recent valid inbound frame
func (s *Session) LastMessage() (protocol.Envelope, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastMessage == nil {
		return protocol.Envelope{}, false
	}
	return *s.lastMessage, true
}

// Send transmits or queues msg; see connection.Manager.Send
func (s *Session) Send(msg interface{}) bool {
	ok := s.conn.Send(msg)
	s.recordQueue()
	return ok
}

// Reconnect is the manual retry intent
func (s *Session) Reconnect() {
	s.conn.Reconnect()
}

// Balance returns the synchronized account balance
func (s *Session) Balance() balance.Balance {
	return s.sync.Balance()
}

// SetBalanceWithSeq applies a sequenced balance from an out-of-band source.
// It returns false only when the update is stale.
func (s *Session) SetBalanceWithSeq(value, seq uint64) bool {
	return s.applyBalance(value, seq) != balance.ResultStale
}

// ValidateAndLockBet takes the bet validation lock if amount is covered by the
// balance and no other validation is in progress
func (s *Session) ValidateAndLockBet(amount uint64) bool {
	return s.sync.ValidateAndLockBet(amount)
}

// UnlockBetValidation releases the lock, abandoning any tracked in-flight bet
func (s *Session) UnlockBetValidation() {
	s.mu.Lock()
	abandoned := s.inFlight
	s.clearInFlightLocked()
	s.mu.Unlock()

	if abandoned != nil {
		s.logger.Info("in-flight bet abandoned", zap.String("request_id", abandoned.RequestID))
	}
	s.unlock()
}

func (s *Session) applyBalance(value, seq uint64) balance.Result {
	result := s.sync.ApplyUpdate(value, seq)
	if result == balance.ResultApplied {
		s.recordBalance()
	}
	return result
}

func (s *Session) unlock() {
	if s.sync.UnlockBetValidation() {
		s.recordBalance()
	}
}

func (s *Session) recordBalance() {
	if s.metrics == nil {
		return
	}
	b := s.sync.Balance()
	s.metrics.RecordBalance(b.Value, b.Seq)
}

func (s *Session) recordQueue() {
	if s.metrics != nil {
		s.metrics.RecordQueueStats(s.queue.GetQueueStats())
	}
}

// onStateChange re-synchronizes the balance on every successful open, since
// pushes may have been missed while the connection was down
func (s *Session) onStateChange(from, to interfaces.ConnectionState) {
	s.recordQueue()
	if to != interfaces.StateConnected {
		return
	}

	if s.cfg.ResyncOnConnect && !s.conn.Send(protocol.NewGetBalance()) {
		s.logger.Warn("balance resync request failed")
	}

	if s.cfg.FaucetAmount == 0 {
		return
	}
	s.mu.Lock()
	claim := !s.faucetClaimed
	s.faucetClaimed = true
	s.mu.Unlock()
	if claim && !s.conn.Send(protocol.NewFaucetClaim(s.cfg.FaucetAmount)) {
		s.logger.Warn("faucet claim failed", zap.Uint64("amount", s.cfg.FaucetAmount))
		s.mu.Lock()
		s.faucetClaimed = false
		s.mu.Unlock()
	}
}
