package interfaces

import (
	"time"

	"github.com/tablestakes/game-session/pkg/balance"
)

// BetOutcome is a resolved bet as reported by the gateway
type BetOutcome struct {
	RequestID  string    `json:"request_id"`
	GameType   string    `json:"game_type"`
	Amount     uint64    `json:"amount"`
	Won        bool      `json:"won"`
	Payout     uint64    `json:"payout"`
	Rejected   bool      `json:"rejected"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// BetStats summarizes the most recent resolved bets
type BetStats struct {
	WindowSize  int       `json:"window_size"`
	TotalBets   int       `json:"total_bets"`
	Won         int       `json:"won"`
	Lost        int       `json:"lost"`
	Rejected    int       `json:"rejected"`
	TotalStaked uint64    `json:"total_staked"`
	TotalPayout uint64    `json:"total_payout"`
	WinRate     float64   `json:"win_rate"`
	LastUpdated time.Time `json:"last_updated"`
}

// MetricsCollector records session activity. It satisfies the connection
// and balance observer contracts.
type MetricsCollector interface {
	ObserveConnectionState(state ConnectionState, attempt int)
	ObserveReconnectScheduled(delay time.Duration)
	ObserveSendFailure()
	ObserveFrameDropped()
	ObserveBalanceUpdate(result balance.Result)
	ObserveBetValidation(err error)

	RecordBalance(value, seq uint64)
	RecordQueueStats(stats QueueStats)
	RecordBetOutcome(outcome BetOutcome)

	GetBetStats(windowSize int) (*BetStats, error)
}
