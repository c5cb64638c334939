package config

import (
	"time"

	"github.com/tablestakes/game-session/pkg/connection"
	"github.com/tablestakes/game-session/pkg/metrics"
	"github.com/tablestakes/game-session/pkg/session"
)

// SessionConfig maps the loaded configuration onto session.Config
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		Connection: connection.ManagerConfig{
			URL:         c.Gateway.URL,
			DevMode:     c.Gateway.DevMode,
			BaseDelay:   c.Reconnect.BaseDelay,
			MaxDelay:    c.Reconnect.MaxDelay,
			MaxAttempts: c.Reconnect.MaxAttempts,
			Jitter:      c.Reconnect.Jitter,
			DialTimeout: c.Gateway.DialTimeout,
		},
		QueueSize:       c.Queue.MaxSize,
		QueueTTL:        c.Queue.TTL,
		FaucetAmount:    c.Session.FaucetAmount,
		ResyncOnConnect: c.Session.ResyncOnConnect,
		BetTimeout:      c.Session.BetTimeout,
	}
}

// WebSocketConfig maps the gateway section onto the transport settings
func (c *Config) WebSocketConfig() connection.WebSocketConfig {
	return connection.WebSocketConfig{
		HandshakeTimeout: c.Gateway.HandshakeTimeout,
		WriteTimeout:     c.Gateway.WriteTimeout,
		PingInterval:     c.Gateway.PingInterval,
		PongTimeout:      c.Gateway.PongTimeout,
		ReadLimit:        c.Gateway.ReadLimit,
		UserAgent:        c.Gateway.UserAgent,
	}
}

// CollectorConfig maps the monitoring section onto the metrics collector
func (c *Config) CollectorConfig() *metrics.CollectorConfig {
	return &metrics.CollectorConfig{
		Namespace:   c.Monitoring.Namespace,
		MaxBets:     c.Monitoring.MaxBets,
		WindowSizes: c.Monitoring.WindowSizes,
	}
}

// AlertManagerConfig maps the alerts section onto the alert manager settings
func (c *Config) AlertManagerConfig() *metrics.AlertManagerConfig {
	a := c.Monitoring.Alerts
	return &metrics.AlertManagerConfig{
		MaxAlerts:       a.MaxAlerts,
		AlertRetention:  a.Retention,
		WebhookURL:      a.WebhookURL,
		WebhookTimeout:  a.WebhookTimeout,
		CheckInterval:   a.CheckInterval,
		CleanupInterval: time.Hour,
	}
}

// AlertThresholds maps the alerts section onto the default rule thresholds
func (c *Config) AlertThresholds() metrics.AlertThresholds {
	a := c.Monitoring.Alerts
	return metrics.AlertThresholds{
		ReconnectAttempts: a.ReconnectAttempts,
		MinWinRate:        a.MinWinRate,
		WinRateWindow:     a.WinRateWindow,
		QueueFill:         a.QueueFill,
	}
}
