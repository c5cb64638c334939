package interfaces

import "time"

// AlertType classifies what an alert rule watches
type AlertType string

const (
	AlertTypeConnection AlertType = "connection"
	AlertTypeReconnect  AlertType = "reconnect"
	AlertTypeWinRate    AlertType = "win_rate"
	AlertTypeQueue      AlertType = "queue"
)

// AlertSeverity represents alert severity levels
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityError    AlertSeverity = "error"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Alert is raised when a rule's condition holds
type Alert struct {
	ID             string                 `json:"id"`
	RuleID         string                 `json:"rule_id"`
	Type           AlertType              `json:"type"`
	Severity       AlertSeverity          `json:"severity"`
	Message        string                 `json:"message"`
	Details        map[string]interface{} `json:"details,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	AcknowledgedAt *time.Time             `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time             `json:"resolved_at,omitempty"`
}

// AlertRule describes a condition checked on every evaluation tick
type AlertRule struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       AlertType `json:"type"`
	Threshold  float64   `json:"threshold"`
	WindowSize int       `json:"window_size,omitempty"`
	Enabled    bool      `json:"enabled"`
}

// SessionStatusSource exposes the connection facts alert rules read
type SessionStatusSource interface {
	ConnectionState() ConnectionState
	ReconnectAttempt() int
}
