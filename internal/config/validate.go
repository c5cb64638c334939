package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrInvalidConfig = errors.New("invalid config")

// Validate checks ranges and required fields. Transport security of the
// gateway URL is enforced by the connection manager, not here, so that a
// rejected endpoint surfaces as the Failed connection state.
func (c *Config) Validate() error {
	var problems []string

	if c.Gateway.URL == "" {
		problems = append(problems, "gateway.url is required")
	} else if _, err := url.Parse(c.Gateway.URL); err != nil {
		problems = append(problems, fmt.Sprintf("gateway.url: %v", err))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.IntentsPerMinute < 0 || c.Server.IntentBurst < 0 {
		problems = append(problems, "server intent limits must not be negative")
	}
	if c.Server.StatusInterval <= 0 {
		problems = append(problems, "server.status_interval must be positive")
	}
	if c.Reconnect.BaseDelay <= 0 {
		problems = append(problems, "reconnect.base_delay must be positive")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		problems = append(problems, "reconnect.max_delay must not be below reconnect.base_delay")
	}
	if c.Reconnect.MaxAttempts < 0 {
		problems = append(problems, "reconnect.max_attempts must not be negative")
	}
	if c.Queue.MaxSize < 1 {
		problems = append(problems, "queue.max_size must be at least 1")
	}
	if c.Queue.TTL <= 0 {
		problems = append(problems, "queue.ttl must be positive")
	}
	if c.Session.BetTimeout < 0 {
		problems = append(problems, "session.bet_timeout must not be negative")
	}
	switch c.Logging.Encoding {
	case "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("logging.encoding must be json or console, got %q", c.Logging.Encoding))
	}
	for _, w := range c.Monitoring.WindowSizes {
		if w <= 0 {
			problems = append(problems, fmt.Sprintf("monitoring.window_sizes contains non-positive value %d", w))
		}
	}

	if a := c.Monitoring.Alerts; a.Enabled {
		if a.CheckInterval <= 0 {
			problems = append(problems, "monitoring.alerts.check_interval must be positive")
		}
		if a.MinWinRate < 0 || a.MinWinRate > 1 {
			problems = append(problems, "monitoring.alerts.min_win_rate must be within [0, 1]")
		}
		if a.QueueFill < 0 || a.QueueFill > 1 {
			problems = append(problems, "monitoring.alerts.queue_fill must be within [0, 1]")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
