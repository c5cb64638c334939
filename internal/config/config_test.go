package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "wss://play.tablestakes.gg/ws", cfg.Gateway.URL)
	assert.False(t, cfg.Gateway.DevMode)
	assert.Equal(t, time.Second, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Reconnect.MaxDelay)
	assert.Equal(t, 10, cfg.Reconnect.MaxAttempts)
	assert.False(t, cfg.Reconnect.Jitter)
	assert.Equal(t, 50, cfg.Queue.MaxSize)
	assert.Equal(t, 30*time.Second, cfg.Queue.TTL)
	assert.True(t, cfg.Session.ResyncOnConnect)
	assert.Equal(t, uint64(0), cfg.Session.FaucetAmount)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, []int{10, 50, 100}, cfg.Monitoring.WindowSizes)
	assert.Equal(t, 8090, cfg.Server.Port)
}

func TestLoadFrom_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SESSION_GATEWAY_URL", "ws://localhost:9000/ws")
	t.Setenv("SESSION_GATEWAY_DEV_MODE", "true")
	t.Setenv("SESSION_RECONNECT_MAX_ATTEMPTS", "3")
	t.Setenv("SESSION_QUEUE_TTL", "5s")
	t.Setenv("SESSION_SESSION_FAUCET_AMOUNT", "250")

	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:9000/ws", cfg.Gateway.URL)
	assert.True(t, cfg.Gateway.DevMode)
	assert.Equal(t, 3, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Queue.TTL)
	assert.Equal(t, uint64(250), cfg.Session.FaucetAmount)
}

func TestLoadFrom_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.yaml")
	content := []byte(`
gateway:
  url: wss://staging.tablestakes.gg/ws
reconnect:
  base_delay: 500ms
  max_delay: 10s
  jitter: true
queue:
  max_size: 5
logging:
  level: debug
  encoding: console
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, "wss://staging.tablestakes.gg/ws", cfg.Gateway.URL)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Reconnect.MaxDelay)
	assert.True(t, cfg.Reconnect.Jitter)
	assert.Equal(t, 5, cfg.Queue.MaxSize)
	assert.Equal(t, "console", cfg.Logging.Encoding)
	assert.Equal(t, 30*time.Second, cfg.Queue.TTL, "unset keys keep their defaults")
}

func TestLoadFrom_MissingExplicitFile(t *testing.T) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := LoadFrom(v)
	assert.Error(t, err)
}

func TestLoadFile_ExplicitPathWins(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	path := filepath.Join(t.TempDir(), "operator.yaml")
	content := []byte(`
gateway:
  url: ws://operator.example/ws
  dev_mode: true
reconnect:
  max_attempts: 2
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://operator.example/ws", cfg.Gateway.URL)
	assert.True(t, cfg.Gateway.DevMode)
	assert.Equal(t, 2, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, path, viper.ConfigFileUsed())
}

func TestLoadFile_MissingPath(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadFrom(viper.New())
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "missing url", mutate: func(c *Config) { c.Gateway.URL = "" }},
		{name: "zero base delay", mutate: func(c *Config) { c.Reconnect.BaseDelay = 0 }},
		{name: "max below base", mutate: func(c *Config) { c.Reconnect.MaxDelay = c.Reconnect.BaseDelay / 2 }},
		{name: "negative attempts", mutate: func(c *Config) { c.Reconnect.MaxAttempts = -1 }},
		{name: "zero attempts allowed", mutate: func(c *Config) { c.Reconnect.MaxAttempts = 0 }, ok: true},
		{name: "empty queue", mutate: func(c *Config) { c.Queue.MaxSize = 0 }},
		{name: "zero ttl", mutate: func(c *Config) { c.Queue.TTL = 0 }},
		{name: "bad encoding", mutate: func(c *Config) { c.Logging.Encoding = "xml" }},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }},
		{name: "bad window", mutate: func(c *Config) { c.Monitoring.WindowSizes = []int{10, 0} }},
		{name: "zero status interval", mutate: func(c *Config) { c.Server.StatusInterval = 0 }},
		{name: "win rate above one", mutate: func(c *Config) { c.Monitoring.Alerts.MinWinRate = 1.5 }},
		{name: "alerts disabled skips checks", mutate: func(c *Config) {
			c.Monitoring.Alerts.Enabled = false
			c.Monitoring.Alerts.CheckInterval = 0
		}, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestConfig_SessionMapping(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)
	cfg.Session.FaucetAmount = 100

	sc := cfg.SessionConfig()
	assert.Equal(t, cfg.Gateway.URL, sc.Connection.URL)
	assert.Equal(t, 10, sc.Connection.MaxAttempts)
	assert.Equal(t, time.Second, sc.Connection.BaseDelay)
	assert.Equal(t, 50, sc.QueueSize)
	assert.Equal(t, uint64(100), sc.FaucetAmount)

	ws := cfg.WebSocketConfig()
	assert.Equal(t, 20*time.Second, ws.PingInterval)
	assert.Equal(t, int64(1<<20), ws.ReadLimit)

	cc := cfg.CollectorConfig()
	assert.Equal(t, "game_session", cc.Namespace)
	assert.Equal(t, 1000, cc.MaxBets)

	ac := cfg.AlertManagerConfig()
	assert.Equal(t, 10*time.Second, ac.CheckInterval)
	assert.Equal(t, 24*time.Hour, ac.AlertRetention)

	th := cfg.AlertThresholds()
	assert.Equal(t, 5, th.ReconnectAttempts)
	assert.Equal(t, 0.8, th.QueueFill)
}
