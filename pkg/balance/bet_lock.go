package balance

import (
	"go.uber.org/zap"
)

// LockBet validates amount against the current balance and takes the bet
// validation lock. It fails without touching any state if the lock is
// already held or the amount exceeds the balance.
func (s *Synchronizer) LockBet(amount uint64) error {
	s.mu.Lock()
	err := s.lockLocked(amount)
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveBetValidation(err)
	}
	return err
}

func (s *Synchronizer) lockLocked(amount uint64) error {
	if s.locked {
		return ErrBetLocked
	}
	if amount > s.balance.Value {
		return ErrInsufficientBalance
	}
	s.locked = true
	s.pending = noPending()
	return nil
}

// ValidateAndLockBet is LockBet reduced to a boolean for UI callers
func (s *Synchronizer) ValidateAndLockBet(amount uint64) bool {
	return s.LockBet(amount) == nil
}

// UnlockBetValidation releases the lock once the bet's outcome is known. A
// pending update newer than the applied balance is applied; a stale one is
// discarded. It reports whether the balance changed.
func (s *Synchronizer) UnlockBetValidation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.locked {
		return false
	}
	s.locked = false

	u, ok := s.pending.get()
	s.pending = noPending()
	if !ok {
		return false
	}

	if u.Seq <= s.balance.Seq {
		s.logger.Debug("pending balance update discarded on unlock",
			zap.Uint64("seq", u.Seq),
			zap.Uint64("last_applied_seq", s.balance.Seq),
		)
		return false
	}

	s.balance = Balance{Value: u.Value, Seq: u.Seq}
	s.logger.Debug("pending balance update applied on unlock",
		zap.Uint64("value", u.Value),
		zap.Uint64("seq", u.Seq),
	)
	return true
}
