// Package gatewaysim is a local stand-in for the game gateway. It speaks the
// same frames as the production gateway so the session client can be run and
// tested end to end with --dev.
package gatewaysim

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tablestakes/game-session/pkg/protocol"
)

// Error codes sent in error frames
const (
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeUnknownType         = "UNKNOWN_TYPE"
	CodeBadFrame            = "BAD_FRAME"
)

// Config tunes the simulated table
type Config struct {
	StartBalance uint64        `mapstructure:"start_balance"`
	WinChance    float64       `mapstructure:"win_chance"`
	PayoutRatio  uint64        `mapstructure:"payout_ratio"`
	ResultDelay  time.Duration `mapstructure:"result_delay"`
	Seed         int64         `mapstructure:"seed"`
}

// DefaultConfig returns a fair coin paying 2x after a short delay
func DefaultConfig() Config {
	return Config{
		StartBalance: 1000,
		WinChance:    0.5,
		PayoutRatio:  2,
		ResultDelay:  200 * time.Millisecond,
		Seed:         time.Now().UnixNano(),
	}
}

// Gateway holds a single player's ledger shared by every connection, so a
// reconnecting client sees the balance it left with. Clients discard balance
// frames whose seq is not above the last one applied, so seq starts at 1.
type Gateway struct {
	config    Config
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	publicKey string

	mu      sync.Mutex
	balance uint64
	seq     uint64
	rng     *rand.Rand
	conns   map[*peer]struct{}
	timers  []*time.Timer
}

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// New creates a gateway with a freshly generated player key
func New(config Config, logger *zap.Logger) (*Gateway, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate player key: %w", err)
	}
	if config.PayoutRatio == 0 {
		config.PayoutRatio = 2
	}

	return &Gateway{
		config:    config,
		logger:    logger,
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		publicKey: hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey)),
		balance:   config.StartBalance,
		seq:       1,
		rng:       rand.New(rand.NewSource(config.Seed)),
		conns:     make(map[*peer]struct{}),
	}, nil
}

// PublicKey is the hex encoded player key announced in session_ready
func (g *Gateway) PublicKey() string {
	return g.publicKey
}

// Balance returns the ledger value and its sequence number
func (g *Gateway) Balance() (uint64, uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance, g.seq
}

// Router exposes /ws plus admin endpoints for forcing outages
func (g *Gateway) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/ws", g.HandleWebSocket)

	admin := router.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/drop", g.handleDrop).Methods(http.MethodPost)
	admin.HandleFunc("/balance", g.handleSetBalance).Methods(http.MethodPost)
	return router
}

// Connections returns the number of open client connections
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// DropAll closes every client connection without a close handshake
func (g *Gateway) DropAll() int {
	g.mu.Lock()
	peers := make([]*peer, 0, len(g.conns))
	for p := range g.conns {
		peers = append(peers, p)
	}
	g.mu.Unlock()

	for _, p := range peers {
		p.conn.Close()
	}
	return len(peers)
}

// SetBalance overwrites the ledger and pushes the new value to all clients
func (g *Gateway) SetBalance(value uint64) {
	g.mu.Lock()
	g.balance = value
	g.seq++
	frame := g.balanceFrameLocked()
	peers := make([]*peer, 0, len(g.conns))
	for p := range g.conns {
		peers = append(peers, p)
	}
	g.mu.Unlock()

	for _, p := range peers {
		p.send(frame)
	}
}

// Close stops pending results and disconnects everyone
func (g *Gateway) Close() {
	g.mu.Lock()
	for _, t := range g.timers {
		t.Stop()
	}
	g.timers = nil
	g.mu.Unlock()
	g.DropAll()
}

// HandleWebSocket upgrades the request and serves one client
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	p := &peer{conn: conn}
	g.mu.Lock()
	g.conns[p] = struct{}{}
	ready := protocol.SessionReady{
		Type:       protocol.TypeSessionReady,
		PublicKey:  g.publicKey,
		Registered: true,
		Balance:    g.balance,
		Seq:        g.seq,
	}
	g.mu.Unlock()

	g.logger.Info("Client connected", zap.String("remote", r.RemoteAddr))

	defer func() {
		g.mu.Lock()
		delete(g.conns, p)
		g.mu.Unlock()
		conn.Close()
		g.logger.Info("Client disconnected", zap.String("remote", r.RemoteAddr))
	}()

	if err := p.send(ready); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		g.handleFrame(p, data)
	}
}

type inboundFrame struct {
	Type      string  `json:"type"`
	Amount    *uint64 `json:"amount"`
	RequestID string  `json:"requestId"`
}

func (g *Gateway) handleFrame(p *peer, data []byte) {
	env, err := protocol.DecodeEnvelope(data, time.Now())
	if err != nil {
		p.send(protocol.ErrorMessage{Type: protocol.TypeError, Code: CodeBadFrame, Message: err.Error()})
		return
	}

	var frame inboundFrame
	if err := env.Decode(&frame); err != nil {
		p.send(protocol.ErrorMessage{Type: protocol.TypeError, Code: CodeBadFrame, Message: err.Error()})
		return
	}

	switch {
	case frame.Type == protocol.TypeGetBalance:
		g.mu.Lock()
		reply := g.balanceFrameLocked()
		g.mu.Unlock()
		p.send(reply)

	case frame.Type == protocol.TypeFaucetClaim:
		var amount uint64
		if frame.Amount != nil {
			amount = *frame.Amount
		}
		g.mu.Lock()
		g.balance += amount
		g.seq++
		reply := g.balanceFrameLocked()
		g.mu.Unlock()
		g.logger.Debug("Faucet claimed", zap.Uint64("amount", amount))
		p.send(reply)

	case frame.Amount != nil && *frame.Amount > 0:
		g.placeBet(p, frame)

	default:
		p.send(protocol.ErrorMessage{
			Type:      protocol.TypeError,
			RequestID: frame.RequestID,
			Code:      CodeUnknownType,
			Message:   fmt.Sprintf("unsupported frame type %q", frame.Type),
		})
	}
}

// placeBet debits the stake, announces the game and settles it after
// ResultDelay
func (g *Gateway) placeBet(p *peer, frame inboundFrame) {
	amount := *frame.Amount

	g.mu.Lock()
	if amount > g.balance {
		g.mu.Unlock()
		p.send(protocol.ErrorMessage{
			Type:      protocol.TypeError,
			RequestID: frame.RequestID,
			Code:      CodeInsufficientBalance,
			Message:   fmt.Sprintf("bet %d exceeds balance", amount),
		})
		return
	}
	g.balance -= amount
	g.seq++
	won := g.rng.Float64() < g.config.WinChance
	g.mu.Unlock()

	p.send(protocol.GameStarted{
		Type:      protocol.TypeGameStarted,
		RequestID: frame.RequestID,
		GameType:  frame.Type,
		Bet:       amount,
	})

	settle := func() {
		var payout uint64
		if won {
			payout = amount * g.config.PayoutRatio
		}

		g.mu.Lock()
		g.balance += payout
		g.seq++
		value, seq := g.balance, g.seq
		g.mu.Unlock()

		g.logger.Debug("Bet settled",
			zap.String("request_id", frame.RequestID),
			zap.Bool("won", won),
			zap.Uint64("payout", payout))

		p.send(protocol.GameResult{
			Type:      protocol.TypeGameResult,
			RequestID: frame.RequestID,
			Won:       won,
			Payout:    payout,
			Balance:   &value,
			Seq:       seq,
		})
	}

	if g.config.ResultDelay <= 0 {
		settle()
		return
	}
	g.mu.Lock()
	g.timers = append(g.timers, time.AfterFunc(g.config.ResultDelay, settle))
	g.mu.Unlock()
}

func (g *Gateway) balanceFrameLocked() protocol.BalanceUpdate {
	return protocol.BalanceUpdate{
		Type:       protocol.TypeBalance,
		Balance:    g.balance,
		Seq:        g.seq,
		Registered: true,
		HasBalance: g.balance > 0,
	}
}

func (g *Gateway) handleDrop(w http.ResponseWriter, r *http.Request) {
	dropped := g.DropAll()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"dropped": dropped})
}

func (g *Gateway) handleSetBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value uint64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	g.SetBalance(req.Value)
	w.WriteHeader(http.StatusNoContent)
}
