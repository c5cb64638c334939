package session

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tablestakes/game-session/pkg/balance"
	"github.com/tablestakes/game-session/pkg/connection"
	"github.com/tablestakes/game-session/pkg/interfaces"
	"github.com/tablestakes/game-session/pkg/protocol"
)

// SubmitBet validates bet against the balance, takes the validation lock and
// sends it with a fresh request id. The lock is released when the matching
// game_result or error frame arrives, when the send fails outright, or when
// the bet times out.
func (s *Session) SubmitBet(bet protocol.Bet) (string, error) {
	if err := bet.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBet, err)
	}

	// the validation lock and the in-flight record change together under s.mu
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if err := s.sync.LockBet(bet.Amount); err != nil {
		s.mu.Unlock()
		return "", err
	}

	bet.RequestID = uuid.NewString()
	pending := &PendingBet{
		RequestID:   bet.RequestID,
		Type:        bet.Type,
		Amount:      bet.Amount,
		SubmittedAt: s.clock.Now(),
	}
	s.clearInFlightLocked()
	s.inFlight = pending
	if s.cfg.BetTimeout > 0 {
		requestID := bet.RequestID
		s.betTimer = s.clock.AfterFunc(s.cfg.BetTimeout, func() { s.expireBet(requestID) })
	}
	s.mu.Unlock()

	if !s.Send(bet) {
		s.mu.Lock()
		// a newer bet may already hold the lock
		if s.inFlight == pending {
			s.clearInFlightLocked()
			s.unlock()
		}
		s.mu.Unlock()
		return "", fmt.Errorf("%w: connection %s", ErrSendFailed, s.conn.State())
	}

	s.logger.Info("bet submitted",
		zap.String("request_id", bet.RequestID),
		zap.String("type", bet.Type),
		zap.Uint64("amount", bet.Amount),
	)
	return bet.RequestID, nil
}

// InFlightBet returns the bet awaiting its result, if any
func (s *Session) InFlightBet() (PendingBet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.inFlight == nil {
		return PendingBet{}, false
	}
	return *s.inFlight, true
}

// LastOutcome returns the most recently resolved bet
func (s *Session) LastOutcome() (interfaces.BetOutcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastOutcome == nil {
		return interfaces.BetOutcome{}, false
	}
	return *s.lastOutcome, true
}

// resolveBet settles the in-flight bet if requestID matches it. The lock is
// released exactly once even if the gateway repeats the result.
func (s *Session) resolveBet(requestID string, build func(*PendingBet) interfaces.BetOutcome) bool {
	s.mu.Lock()
	bet := s.inFlight
	if bet == nil || requestID == "" || bet.RequestID != requestID {
		s.mu.Unlock()
		s.logger.Debug("result for unknown bet ignored", zap.String("request_id", requestID))
		return false
	}
	s.clearInFlightLocked()
	outcome := build(bet)
	outcome.ResolvedAt = s.clock.Now()
	s.lastOutcome = &outcome
	s.mu.Unlock()

	s.unlock()
	if s.metrics != nil {
		s.metrics.RecordBetOutcome(outcome)
	}

	s.logger.Info("bet resolved",
		zap.String("request_id", outcome.RequestID),
		zap.Bool("won", outcome.Won),
		zap.Uint64("payout", outcome.Payout),
		zap.Bool("rejected", outcome.Rejected),
	)
	return true
}

func (s *Session) expireBet(requestID string) {
	s.mu.Lock()
	if s.inFlight == nil || s.inFlight.RequestID != requestID {
		s.mu.Unlock()
		return
	}
	s.betTimer = nil
	s.inFlight = nil
	s.mu.Unlock()

	s.logger.Warn("bet result not received, releasing validation lock",
		zap.String("request_id", requestID),
		zap.Duration("timeout", s.cfg.BetTimeout),
	)
	s.unlock()
}

func (s *Session) clearInFlightLocked() {
	s.inFlight = nil
	if s.betTimer != nil {
		s.betTimer.Stop()
		s.betTimer = nil
	}
}

// Snapshot is a consistent-enough view of the session for status surfaces
type Snapshot struct {
	SessionID   string                 `json:"session_id"`
	URL         string                 `json:"url"`
	Connection  connection.Status      `json:"connection"`
	Balance     balance.Balance        `json:"balance"`
	BetLocked   bool                   `json:"bet_locked"`
	InFlightBet *PendingBet            `json:"in_flight_bet,omitempty"`
	LastOutcome *interfaces.BetOutcome `json:"last_outcome,omitempty"`
	LastMessage string                 `json:"last_message,omitempty"`
	PublicKey   string                 `json:"public_key,omitempty"`
	Registered  bool                   `json:"registered"`
}

// Snapshot collects the session's observable state
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID:  s.id,
		URL:        s.conn.URL(),
		Connection: s.conn.Status(),
		Balance:    s.sync.Balance(),
		BetLocked:  s.sync.Locked(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.inFlight != nil {
		bet := *s.inFlight
		snap.InFlightBet = &bet
	}
	if s.lastOutcome != nil {
		outcome := *s.lastOutcome
		snap.LastOutcome = &outcome
	}
	if s.lastMessage != nil {
		snap.LastMessage = s.lastMessage.Type
	}
	snap.PublicKey = s.publicKey
	snap.Registered = s.registered
	return snap
}
