package session

import (
	"encoding/hex"

	"go.uber.org/zap"

	"github.com/tablestakes/game-session/pkg/interfaces"
	"github.com/tablestakes/game-session/pkg/protocol"
)

// HandleMessage routes a validated inbound frame. Bet resolution runs before
// the frame's balance is applied, so a result's balance is never held back by
// the lock it releases.
func (s *Session) HandleMessage(env protocol.Envelope) {
	s.mu.Lock()
	s.lastMessage = &env
	s.mu.Unlock()

	switch env.Type {
	case protocol.TypeSessionReady:
		s.handleSessionReady(env)
	case protocol.TypeGameResult:
		s.handleGameResult(env)
	case protocol.TypeError:
		s.handleError(env)
	case protocol.TypeGameStarted:
		var started protocol.GameStarted
		if err := env.Decode(&started); err == nil {
			s.logger.Debug("game started",
				zap.String("request_id", started.RequestID),
				zap.String("game_type", started.GameType),
				zap.Uint64("bet", started.Bet),
			)
		}
	}

	if value, seq, ok := env.Balance(); ok {
		result := s.applyBalance(value, seq)
		s.logger.Debug("balance update",
			zap.String("type", env.Type),
			zap.Uint64("value", value),
			zap.Uint64("seq", seq),
			zap.Stringer("result", result),
		)
	}
}

func (s *Session) handleSessionReady(env protocol.Envelope) {
	var ready protocol.SessionReady
	if err := env.Decode(&ready); err != nil {
		s.logger.Warn("malformed session_ready", zap.Error(err))
		return
	}

	key := ready.PublicKeyBytes()
	s.mu.Lock()
	s.publicKey = hex.EncodeToString(key)
	s.registered = ready.Registered
	s.mu.Unlock()

	s.logger.Info("session ready",
		zap.Int("public_key_bytes", len(key)),
		zap.Bool("registered", ready.Registered),
	)
}

func (s *Session) handleGameResult(env protocol.Envelope) {
	var result protocol.GameResult
	if err := env.Decode(&result); err != nil {
		s.logger.Warn("malformed game_result", zap.Error(err))
		return
	}

	s.resolveBet(result.RequestID, func(bet *PendingBet) interfaces.BetOutcome {
		return interfaces.BetOutcome{
			RequestID: bet.RequestID,
			GameType:  bet.Type,
			Amount:    bet.Amount,
			Won:       result.Won,
			Payout:    result.Payout,
		}
	})
}

func (s *Session) handleError(env protocol.Envelope) {
	var msg protocol.ErrorMessage
	if err := env.Decode(&msg); err != nil {
		s.logger.Warn("malformed error frame", zap.Error(err))
		return
	}

	s.logger.Warn("gateway error",
		zap.String("code", msg.Code),
		zap.String("message", msg.Message),
		zap.String("request_id", msg.RequestID),
	)
	if msg.RequestID == "" {
		return
	}

	s.resolveBet(msg.RequestID, func(bet *PendingBet) interfaces.BetOutcome {
		return interfaces.BetOutcome{
			RequestID: bet.RequestID,
			GameType:  bet.Type,
			Amount:    bet.Amount,
			Rejected:  true,
		}
	})
}
