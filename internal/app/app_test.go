package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/tablestakes/game-session/internal/api"
	"github.com/tablestakes/game-session/internal/config"
	"github.com/tablestakes/game-session/internal/gatewaysim"
	"github.com/tablestakes/game-session/pkg/interfaces"
)

// gateway answers get_balance with a sequenced balance frame
func newGateway(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]interface{}
			if json.Unmarshal(data, &frame) == nil && frame["type"] == "get_balance" {
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"balance","balance":500,"seq":1}`))
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T, gatewayURL string) *config.Config {
	cfg, err := config.LoadFrom(viper.New())
	require.NoError(t, err)
	cfg.Gateway.URL = gatewayURL
	cfg.Gateway.DevMode = true
	cfg.Server.Port = 0
	cfg.Logging.Level = "error"
	return cfg
}

func TestModule_StartsSessionAndAPI(t *testing.T) {
	gateway := newGateway(t)
	cfg := testConfig(t, "ws"+strings.TrimPrefix(gateway.URL, "http"))

	var application *Application
	fxApp := fxtest.New(t,
		fx.Supply(cfg),
		Module,
		fx.Populate(&application),
	)
	fxApp.RequireStart()
	defer fxApp.RequireStop()

	require.Eventually(t, func() bool {
		return application.Session().Balance().Value == 500
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, interfaces.StateConnected, application.Session().ConnectionState())

	base := "http://" + application.server.Addr()
	resp, err := http.Get(base + "/api/v1/balance")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"value":500,"seq":1,"locked":false}`, string(body))

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "game_session_balance 500")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestModule_InsecureGatewayKeepsAPIUp(t *testing.T) {
	cfg := testConfig(t, "ws://play.example/ws")
	cfg.Gateway.DevMode = false

	var application *Application
	fxApp := fxtest.New(t,
		fx.Supply(cfg),
		Module,
		fx.Populate(&application),
	)
	fxApp.RequireStart()
	defer fxApp.RequireStop()

	assert.Equal(t, interfaces.StateFailed, application.Session().ConnectionState())

	resp, err := http.Get("http://" + application.server.Addr() + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestModule_MonitoringDisabledHidesMetrics(t *testing.T) {
	gateway := newGateway(t)
	cfg := testConfig(t, "ws"+strings.TrimPrefix(gateway.URL, "http"))
	cfg.Monitoring.Enabled = false

	var application *Application
	fxApp := fxtest.New(t,
		fx.Supply(cfg),
		Module,
		fx.Populate(&application),
	)
	fxApp.RequireStart()
	defer fxApp.RequireStop()

	resp, err := http.Get("http://" + application.server.Addr() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestModule_BetRoundTripAgainstSimulator(t *testing.T) {
	simConfig := gatewaysim.DefaultConfig()
	simConfig.StartBalance = 100
	simConfig.WinChance = 1
	simConfig.ResultDelay = 20 * time.Millisecond
	sim, err := gatewaysim.New(simConfig, zap.NewNop())
	require.NoError(t, err)
	simServer := httptest.NewServer(sim.Router())
	t.Cleanup(func() {
		sim.Close()
		simServer.Close()
	})

	cfg := testConfig(t, "ws"+strings.TrimPrefix(simServer.URL, "http")+"/ws")
	cfg.Reconnect.BaseDelay = 10 * time.Millisecond

	var application *Application
	fxApp := fxtest.New(t,
		fx.Supply(cfg),
		Module,
		fx.Populate(&application),
	)
	fxApp.RequireStart()
	defer fxApp.RequireStop()

	client := api.NewClient("http://"+application.server.Addr(), 2*time.Second)
	ctx := context.Background()

	require.Eventually(t, func() bool {
		snap, err := client.Status(ctx)
		return err == nil && snap.Balance.Value == 100 && snap.PublicKey == strings.TrimPrefix(sim.PublicKey(), "0x")
	}, 3*time.Second, 10*time.Millisecond)

	_, err = client.SubmitBet(ctx, api.BetRequest{Type: "coin_flip", Amount: 150})
	require.Error(t, err, "bet above balance is refused locally")

	requestID, err := client.SubmitBet(ctx, api.BetRequest{Type: "coin_flip", Amount: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, requestID)

	require.Eventually(t, func() bool {
		bal, err := client.Balance(ctx)
		return err == nil && !bal.Locked && bal.Value == 110
	}, 3*time.Second, 10*time.Millisecond)

	stats, err := client.BetStats(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Won)

	// a dropped connection recovers and the server ledger carries over
	sim.DropAll()
	require.Eventually(t, func() bool {
		return application.Session().ConnectionState() == interfaces.StateConnected && sim.Connections() == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(110), application.Session().Balance().Value)
}
