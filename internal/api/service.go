package api

import (
	"github.com/tablestakes/game-session/pkg/interfaces"
	"github.com/tablestakes/game-session/pkg/protocol"
	"github.com/tablestakes/game-session/pkg/session"
)

// SessionService is the part of a session the control API drives
type SessionService interface {
	Snapshot() session.Snapshot
	ConnectionState() interfaces.ConnectionState
	Reconnect()
	Send(msg interface{}) bool
	SubmitBet(bet protocol.Bet) (string, error)
	UnlockBetValidation()
}

// BetStatsProvider serves rolling bet statistics
type BetStatsProvider interface {
	GetBetStats(windowSize int) (*interfaces.BetStats, error)
}

// AlertProvider lists and acknowledges alerts
type AlertProvider interface {
	GetActiveAlerts() []interfaces.Alert
	AcknowledgeAlert(alertID string) error
}
