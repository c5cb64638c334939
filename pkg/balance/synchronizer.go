// Package balance keeps the locally cached account balance consistent with
// the server's authoritative value. Updates are ordered solely by their
// server-assigned sequence number, and a bet validation lock holds back
// concurrent pushes until the bet's outcome is known.
package balance

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrBetLocked           = errors.New("bet validation already in progress")
	ErrInsufficientBalance = errors.New("bet amount exceeds balance")
)

// Result describes what ApplyUpdate did with an update
type Result int

const (
	ResultApplied Result = iota
	ResultQueued
	ResultStale
)

func (r Result) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultQueued:
		return "queued"
	case ResultStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Balance is the account balance together with the seq it was taken from
type Balance struct {
	Value uint64 `json:"value"`
	Seq   uint64 `json:"seq"`
}

// Update is a sequenced balance value received from the server
type Update struct {
	Value uint64
	Seq   uint64
}

// Observer receives balance and bet-lock outcomes, typically for metrics
type Observer interface {
	ObserveBalanceUpdate(result Result)
	ObserveBetValidation(err error)
}

// Synchronizer owns the AccountBalance, the bet validation lock and the
// pending update slot. A single mutex guards all three so that seq
// monotonicity and lock exclusion hold under parallel callers.
type Synchronizer struct {
	mu       sync.Mutex
	balance  Balance
	locked   bool
	pending  pendingSlot
	observer Observer
	logger   *zap.Logger
}

// NewSynchronizer creates a synchronizer with a zero balance at seq 0
func NewSynchronizer(logger *zap.Logger, observer Observer) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		observer: observer,
		logger:   logger,
	}
}

// ApplyUpdate applies a server balance push.
//
// While a bet validation is in progress the update is parked in the pending
// slot (highest seq wins) and ResultQueued is returned. Otherwise it is
// applied only if seq is greater than the last applied seq; older or
// replayed updates are ignored so the displayed balance never moves back.
func (s *Synchronizer) ApplyUpdate(value, seq uint64) Result {
	s.mu.Lock()
	result := s.applyLocked(Update{Value: value, Seq: seq})
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveBalanceUpdate(result)
	}
	return result
}

func (s *Synchronizer) applyLocked(u Update) Result {
	if s.locked {
		if s.pending.offer(u) {
			s.logger.Debug("balance update held during bet validation",
				zap.Uint64("value", u.Value),
				zap.Uint64("seq", u.Seq),
			)
		}
		return ResultQueued
	}

	if u.Seq <= s.balance.Seq {
		s.logger.Debug("stale balance update discarded",
			zap.Uint64("seq", u.Seq),
			zap.Uint64("last_applied_seq", s.balance.Seq),
		)
		return ResultStale
	}

	s.balance = Balance{Value: u.Value, Seq: u.Seq}
	return ResultApplied
}

// Balance returns the current balance
func (s *Synchronizer) Balance() Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

// Locked reports whether a bet validation is in progress
func (s *Synchronizer) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Pending returns the update held back by the lock, if any
func (s *Synchronizer) Pending() (Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.get()
}
