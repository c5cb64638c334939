package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLICommands(t *testing.T) {
	setupTestEnvironment(t)
	defer cleanupTestEnvironment(t)

	tests := []struct {
		name           string
		args           []string
		expectedOutput string
	}{
		{name: "help command", args: []string{"--help"}, expectedOutput: "Realtime game session client"},
		{name: "start help", args: []string{"start", "--help"}, expectedOutput: "Start the session client"},
		{name: "stop help", args: []string{"stop", "--help"}, expectedOutput: "SIGTERM"},
		{name: "status help", args: []string{"status", "--help"}, expectedOutput: "Check the current status"},
		{name: "monitor help", args: []string{"monitor", "--help"}, expectedOutput: "terminal UI"},
		{name: "bet help", args: []string{"bet", "--help"}, expectedOutput: "bet lock"},
		{name: "send help", args: []string{"send", "--help"}, expectedOutput: "queue TTL"},
		{name: "reconnect help", args: []string{"reconnect", "--help"}, expectedOutput: "resets the retry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := executeCommand(tt.args...)
			assert.NoError(t, err)
			assert.Contains(t, output, tt.expectedOutput)
		})
	}
}

func TestCommandsRunAfterHelp(t *testing.T) {
	setupTestEnvironment(t)
	defer cleanupTestEnvironment(t)

	server := createMockAPIServer(t)
	defer server.Close()
	setupTestServerConfig(server.URL)

	_, err := executeCommand("status", "--help")
	require.NoError(t, err)
	_, err = executeCommand("status", "--json")
	require.NoError(t, err)

	output, err := executeCommand("status")
	require.NoError(t, err)
	assert.Contains(t, output, "Game Session Status")
	assert.NotContains(t, output, "Usage:")
	assert.NotContains(t, output, `"session_id"`)
}

func TestVersionFlag(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"--version"})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	}()

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "session-client version dev")
}

func TestStatusCommand(t *testing.T) {
	setupTestEnvironment(t)
	defer cleanupTestEnvironment(t)

	t.Run("offline status", func(t *testing.T) {
		viper.Set("api_url", "http://127.0.0.1:1")

		output, err := executeCommand("status")
		assert.NoError(t, err)
		assert.Contains(t, output, "offline")
	})

	t.Run("offline json", func(t *testing.T) {
		viper.Set("api_url", "http://127.0.0.1:1")

		output, err := executeCommand("status", "--json")
		assert.NoError(t, err)
		assert.Contains(t, output, `"status": "offline"`)
	})

	t.Run("online status", func(t *testing.T) {
		resetFlags()
		server := createMockAPIServer(t)
		defer server.Close()
		setupTestServerConfig(server.URL)

		output, err := executeCommand("status")
		assert.NoError(t, err)
		assert.Contains(t, output, "Game Session Status")
		assert.Contains(t, output, "connected")
		assert.Contains(t, output, "Value:       500 (seq 7)")
		assert.Contains(t, output, "dice_roll 25 won 50")
		assert.Contains(t, output, "0xabc")
	})

	t.Run("json output", func(t *testing.T) {
		server := createMockAPIServer(t)
		defer server.Close()
		setupTestServerConfig(server.URL)

		output, err := executeCommand("status", "--json")
		assert.NoError(t, err)

		var snap map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(output), &snap))
		assert.Equal(t, "sess-1", snap["session_id"])
		assert.Equal(t, "connected", snap["connection"].(map[string]interface{})["state"])
	})

	t.Run("server host and port", func(t *testing.T) {
		resetFlags()
		server := createMockAPIServer(t)
		defer server.Close()

		viper.Set("api_url", "")
		hostPort := strings.TrimPrefix(server.URL, "http://")
		host, port, _ := strings.Cut(hostPort, ":")
		viper.Set("server.host", host)
		viper.Set("server.port", port)

		output, err := executeCommand("status")
		assert.NoError(t, err)
		assert.Contains(t, output, "sess-1")
	})
}

func TestBalanceCommand(t *testing.T) {
	setupTestEnvironment(t)
	defer cleanupTestEnvironment(t)

	server := createMockAPIServer(t)
	defer server.Close()
	setupTestServerConfig(server.URL)

	output, err := executeCommand("balance")
	assert.NoError(t, err)
	assert.Contains(t, output, "Balance: 500 (seq 7)")
}

func TestBetCommand(t *testing.T) {
	setupTestEnvironment(t)
	defer cleanupTestEnvironment(t)

	server := createMockAPIServer(t)
	defer server.Close()
	setupTestServerConfig(server.URL)

	t.Run("submit", func(t *testing.T) {
		output, err := executeCommand("bet", "dice_roll", "25", "target=4", "over=true", "side=high")
		assert.NoError(t, err)
		assert.Contains(t, output, "Bet submitted: req-1")
	})

	t.Run("locked", func(t *testing.T) {
		_, err := executeCommand("bet", "locked_game", "25")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "409")
		assert.Contains(t, err.Error(), "bet already in flight")
	})

	t.Run("invalid amount", func(t *testing.T) {
		_, err := executeCommand("bet", "dice_roll", "-3")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid amount")
	})

	t.Run("missing args", func(t *testing.T) {
		_, err := executeCommand("bet", "dice_roll")
		assert.Error(t, err)
	})

	t.Run("unlock", func(t *testing.T) {
		output, err := executeCommand("bet", "unlock")
		assert.NoError(t, err)
		assert.Contains(t, output, "Bet lock released, balance 500")
	})

	t.Run("stats", func(t *testing.T) {
		output, err := executeCommand("bet", "stats", "--window", "10")
		assert.NoError(t, err)
		assert.Contains(t, output, "Last 10 bets")
		assert.Contains(t, output, "Win rate: 40.00%")
	})
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"target=4", "over=true", "side=high", "ratio=1.5"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"target": float64(4),
		"over":   true,
		"side":   "high",
		"ratio":  1.5,
	}, params)

	params, err = parseParams(nil)
	assert.NoError(t, err)
	assert.Nil(t, params)

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)

	_, err = parseParams([]string{"amount=5"})
	assert.Error(t, err)
}

func TestControlCommands(t *testing.T) {
	setupTestEnvironment(t)
	defer cleanupTestEnvironment(t)

	server := createMockAPIServer(t)
	defer server.Close()
	setupTestServerConfig(server.URL)

	t.Run("reconnect", func(t *testing.T) {
		output, err := executeCommand("reconnect")
		assert.NoError(t, err)
		assert.Contains(t, output, "Reconnect requested, connection connecting")
	})

	t.Run("send frame", func(t *testing.T) {
		output, err := executeCommand("send", `{"type":"get_balance"}`)
		assert.NoError(t, err)
		assert.Contains(t, output, "Frame accepted: get_balance")
	})

	t.Run("send invalid frame", func(t *testing.T) {
		_, err := executeCommand("send", `not json`)
		assert.Error(t, err)
	})

	t.Run("send with amount requires confirmation", func(t *testing.T) {
		output, err := executeCommandWithInput("no\n", "send", `{"type":"dice_roll","amount":5}`)
		assert.NoError(t, err)
		assert.Contains(t, output, "Send cancelled")
	})

	t.Run("send with amount typed confirmation", func(t *testing.T) {
		output, err := executeCommandWithInput("SEND\n", "send", `{"type":"dice_roll","amount":5}`)
		assert.NoError(t, err)
		assert.Contains(t, output, "Frame accepted: dice_roll")
	})

	t.Run("send with amount and confirm flag", func(t *testing.T) {
		output, err := executeCommand("send", "--confirm", `{"type":"dice_roll","amount":5}`)
		assert.NoError(t, err)
		assert.Contains(t, output, "Frame accepted")
	})

	t.Run("alerts", func(t *testing.T) {
		output, err := executeCommand("alerts")
		assert.NoError(t, err)
		assert.Contains(t, output, "[critical]")
		assert.Contains(t, output, "connection failed")
	})

	t.Run("alerts ack", func(t *testing.T) {
		output, err := executeCommand("alerts", "ack", "alert-1")
		assert.NoError(t, err)
		assert.Contains(t, output, "Alert alert-1 acknowledged")
	})

	t.Run("alerts ack unknown", func(t *testing.T) {
		_, err := executeCommand("alerts", "ack", "missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})
}

func TestStopCommand(t *testing.T) {
	setupTestEnvironment(t)
	defer cleanupTestEnvironment(t)

	t.Run("stop non-existent process", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "test-session-client.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("99999999"), 0644))

		_, err := executeCommand("stop", "--pid-file", pidFile)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to signal process")
	})

	t.Run("stop with invalid PID file", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "invalid-pid.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("invalid"), 0644))

		_, err := executeCommand("stop", "--pid-file", pidFile)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid PID")
	})
}

func TestStartCommand(t *testing.T) {
	setupTestEnvironment(t)
	defer cleanupTestEnvironment(t)

	viper.Set("gateway.url", "ws://127.0.0.1:1/ws")
	viper.Set("gateway.dev_mode", true)
	viper.Set("server.host", "127.0.0.1")
	viper.Set("server.port", 0)
	viper.Set("logging.level", "error")

	pidFile := filepath.Join(t.TempDir(), "session-client.pid")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	output, err := executeCommandWithContext(ctx, "start", "--pid-file", pidFile)
	require.NoError(t, err)
	assert.Contains(t, output, "Starting game session client")
	assert.Contains(t, output, "Session client stopped")

	_, statErr := os.Stat(pidFile)
	assert.True(t, os.IsNotExist(statErr), "pid file removed on exit")
}

func TestStartCommand_InvalidConfig(t *testing.T) {
	setupTestEnvironment(t)
	defer cleanupTestEnvironment(t)

	viper.Set("queue.max_size", 0)

	_, err := executeCommand("start")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

// Helper functions

func setupTestEnvironment(t *testing.T) {
	viper.Reset()
	resetFlags()
}

func cleanupTestEnvironment(t *testing.T) {
	viper.Reset()
	resetFlags()
}

// resetFlags restores flag globals; cobra keeps parsed values between runs
func resetFlags() {
	jsonOutput = false
	watchMode = false
	watchInterval = 5 * time.Second
	confirmSend = false
	betStatsWindow = 50
	forceKill = false
	pidFile = "./session-client.pid"
	startPIDFile = ""
	cfgFile = ""
}

func executeCommand(args ...string) (string, error) {
	return executeCommandWithContext(context.Background(), args...)
}

func executeCommandWithInput(input string, args ...string) (string, error) {
	return execute(context.Background(), strings.NewReader(input), args...)
}

func executeCommandWithContext(ctx context.Context, args ...string) (string, error) {
	return execute(ctx, strings.NewReader(""), args...)
}

func execute(ctx context.Context, in io.Reader, args ...string) (string, error) {
	buf := new(bytes.Buffer)

	testRootCmd := &cobra.Command{
		Use:          "session-client",
		Short:        "Realtime game session client",
		SilenceUsage: true,
	}

	testRootCmd.AddCommand(startCmd)
	testRootCmd.AddCommand(stopCmd)
	testRootCmd.AddCommand(statusCmd)
	testRootCmd.AddCommand(balanceCmd)
	testRootCmd.AddCommand(monitorCmd)
	testRootCmd.AddCommand(betCmd)
	testRootCmd.AddCommand(reconnectCmd)
	testRootCmd.AddCommand(sendCmd)
	testRootCmd.AddCommand(alertsCmd)
	resetCommandFlags(testRootCmd)
	resetCommandContexts(testRootCmd)

	testRootCmd.SetOut(buf)
	testRootCmd.SetErr(buf)
	testRootCmd.SetIn(in)
	testRootCmd.SetArgs(args)
	testRootCmd.SetContext(ctx)

	err := testRootCmd.Execute()
	return buf.String(), err
}

// resetCommandFlags restores every flag in the tree to its default. The
// commands are package singletons, so values parsed by an earlier run
// (--help included) would otherwise leak into the next one.
func resetCommandFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, child := range cmd.Commands() {
		resetCommandFlags(child)
	}
}

// resetCommandContexts clears contexts left on the singleton commands by an
// earlier run; cobra only propagates the root context to a nil one.
func resetCommandContexts(cmd *cobra.Command) {
	for _, child := range cmd.Commands() {
		child.SetContext(nil)
		resetCommandContexts(child)
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("Failed to encode response: %v", err)
	}
}

func createMockAPIServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"session_id": "sess-1",
			"url":        "wss://play.tablestakes.gg/ws",
			"connection": map[string]interface{}{
				"state":             "connected",
				"reconnect_attempt": 0,
				"queued":            0,
			},
			"balance":    map[string]interface{}{"value": 500, "seq": 7},
			"bet_locked": false,
			"last_outcome": map[string]interface{}{
				"request_id":  "req-0",
				"game_type":   "dice_roll",
				"amount":      25,
				"won":         true,
				"payout":      50,
				"resolved_at": time.Now(),
			},
			"public_key": "0xabc",
			"registered": true,
		})
	})

	mux.HandleFunc("/api/v1/balance", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]interface{}{"value": 500, "seq": 7, "locked": false})
	})

	mux.HandleFunc("/api/v1/bets", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var bet struct {
			Type   string                 `json:"type"`
			Amount uint64                 `json:"amount"`
			Params map[string]interface{} `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&bet); err != nil {
			writeJSON(t, w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if bet.Type == "locked_game" {
			writeJSON(t, w, http.StatusConflict, map[string]string{"error": "bet already in flight"})
			return
		}
		if bet.Type == "dice_roll" && (bet.Params["target"] != float64(4) || bet.Params["over"] != true) {
			writeJSON(t, w, http.StatusBadRequest, map[string]string{"error": "unexpected params"})
			return
		}
		writeJSON(t, w, http.StatusAccepted, map[string]string{"request_id": "req-1"})
	})

	mux.HandleFunc("/api/v1/bets/unlock", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]interface{}{"value": 500, "seq": 7, "locked": false})
	})

	mux.HandleFunc("/api/v1/bets/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"window_size":  10,
			"total_bets":   10,
			"won":          4,
			"lost":         6,
			"total_staked": 250,
			"total_payout": 200,
			"win_rate":     0.4,
		})
	})

	mux.HandleFunc("/api/v1/reconnect", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusAccepted, map[string]interface{}{"state": "connecting", "reconnect_attempt": 0})
	})

	mux.HandleFunc("/api/v1/send", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/api/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []map[string]interface{}{{
			"id":         "alert-1",
			"rule_id":    "connection_failed",
			"type":       "connection",
			"severity":   "critical",
			"message":    "connection failed",
			"created_at": time.Now(),
		}})
	})

	mux.HandleFunc("/api/v1/alerts/", func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/alert-1/") {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(t, w, http.StatusNotFound, map[string]string{"error": "alert not found"})
	})

	return httptest.NewServer(mux)
}

func setupTestServerConfig(serverURL string) {
	viper.Set("api_url", serverURL)
}
