package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. SESSION_GATEWAY_URL
const EnvPrefix = "SESSION"

// Config holds all configuration for the session client
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Reconnect  ReconnectConfig  `mapstructure:"reconnect"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Session    SessionConfig    `mapstructure:"session"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig contains the local control API configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`

	// Intent endpoints (bets, sends, reconnects) share a per-client budget
	IntentsPerMinute int           `mapstructure:"intents_per_minute"`
	IntentBurst      int           `mapstructure:"intent_burst"`
	StatusInterval   time.Duration `mapstructure:"status_interval"`
}

// GatewayConfig contains the game gateway transport configuration
type GatewayConfig struct {
	URL              string        `mapstructure:"url"`
	DevMode          bool          `mapstructure:"dev_mode"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	PongTimeout      time.Duration `mapstructure:"pong_timeout"`
	ReadLimit        int64         `mapstructure:"read_limit"`
	UserAgent        string        `mapstructure:"user_agent"`
}

// ReconnectConfig contains the automatic reconnect policy
type ReconnectConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Jitter      bool          `mapstructure:"jitter"`
}

// QueueConfig contains outbound queue configuration
type QueueConfig struct {
	MaxSize int           `mapstructure:"max_size"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// SessionConfig contains session behaviour configuration
type SessionConfig struct {
	FaucetAmount    uint64        `mapstructure:"faucet_amount"`
	ResyncOnConnect bool          `mapstructure:"resync_on_connect"`
	BetTimeout      time.Duration `mapstructure:"bet_timeout"`
}

// LoggingConfig contains logger configuration
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	Encoding    string `mapstructure:"encoding"`
}

// MonitoringConfig contains metrics configuration
type MonitoringConfig struct {
	Enabled     bool         `mapstructure:"enabled"`
	Namespace   string       `mapstructure:"namespace"`
	MaxBets     int          `mapstructure:"max_bets"`
	WindowSizes []int        `mapstructure:"window_sizes"`
	Alerts      AlertsConfig `mapstructure:"alerts"`
}

// AlertsConfig contains alert rule thresholds and delivery settings
type AlertsConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	CheckInterval     time.Duration `mapstructure:"check_interval"`
	Retention         time.Duration `mapstructure:"retention"`
	MaxAlerts         int           `mapstructure:"max_alerts"`
	WebhookURL        string        `mapstructure:"webhook_url"`
	WebhookTimeout    time.Duration `mapstructure:"webhook_timeout"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	MinWinRate        float64       `mapstructure:"min_win_rate"`
	WinRateWindow     int           `mapstructure:"win_rate_window"`
	QueueFill         float64       `mapstructure:"queue_fill"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFile loads configuration from an explicit file path
func LoadFile(path string) (*Config, error) {
	v := viper.GetViper()
	v.SetConfigFile(path)
	return LoadFrom(v)
}

// LoadFrom populates a Config from v, searching ./configs and . for a
// config.yaml unless a config file was already set
func LoadFrom(v *viper.Viper) (*Config, error) {
	// SetConfigName discards a file set with SetConfigFile
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.intents_per_minute", 120)
	v.SetDefault("server.intent_burst", 10)
	v.SetDefault("server.status_interval", "1s")

	// Gateway defaults
	v.SetDefault("gateway.url", "wss://play.tablestakes.gg/ws")
	v.SetDefault("gateway.dev_mode", false)
	v.SetDefault("gateway.dial_timeout", "15s")
	v.SetDefault("gateway.handshake_timeout", "10s")
	v.SetDefault("gateway.write_timeout", "5s")
	v.SetDefault("gateway.ping_interval", "20s")
	v.SetDefault("gateway.pong_timeout", "45s")
	v.SetDefault("gateway.read_limit", 1<<20)
	v.SetDefault("gateway.user_agent", "game-session/1.0")

	// Reconnect defaults
	v.SetDefault("reconnect.base_delay", "1s")
	v.SetDefault("reconnect.max_delay", "30s")
	v.SetDefault("reconnect.max_attempts", 10)
	v.SetDefault("reconnect.jitter", false)

	// Queue defaults
	v.SetDefault("queue.max_size", 50)
	v.SetDefault("queue.ttl", "30s")

	// Session defaults
	v.SetDefault("session.faucet_amount", 0)
	v.SetDefault("session.resync_on_connect", true)
	v.SetDefault("session.bet_timeout", "60s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.encoding", "json")

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.namespace", "game_session")
	v.SetDefault("monitoring.max_bets", 1000)
	v.SetDefault("monitoring.window_sizes", []int{10, 50, 100})
	v.SetDefault("monitoring.alerts.enabled", true)
	v.SetDefault("monitoring.alerts.check_interval", "10s")
	v.SetDefault("monitoring.alerts.retention", "24h")
	v.SetDefault("monitoring.alerts.max_alerts", 1000)
	v.SetDefault("monitoring.alerts.webhook_url", "")
	v.SetDefault("monitoring.alerts.webhook_timeout", "5s")
	v.SetDefault("monitoring.alerts.reconnect_attempts", 5)
	v.SetDefault("monitoring.alerts.min_win_rate", 0)
	v.SetDefault("monitoring.alerts.win_rate_window", 50)
	v.SetDefault("monitoring.alerts.queue_fill", 0.8)
}
