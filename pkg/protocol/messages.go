package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Outbound request types
const (
	TypeGetBalance  = "get_balance"
	TypeFaucetClaim = "faucet_claim"
)

// SessionReady is pushed once the gateway has bound the connection to a player
type SessionReady struct {
	Type       string `json:"type"`
	PublicKey  string `json:"publicKey"`
	Registered bool   `json:"registered"`
	Balance    uint64 `json:"balance"`
	Seq        uint64 `json:"seq"`
}

// PublicKeyBytes decodes the hex public key; both 0x-prefixed and bare hex are accepted
func (s SessionReady) PublicKeyBytes() []byte {
	return common.FromHex(s.PublicKey)
}

// BalanceUpdate is an authoritative balance push
type BalanceUpdate struct {
	Type       string `json:"type"`
	Balance    uint64 `json:"balance"`
	Seq        uint64 `json:"seq"`
	Registered bool   `json:"registered"`
	HasBalance bool   `json:"hasBalance"`
}

type GameStarted struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	GameType  string `json:"gameType"`
	Bet       uint64 `json:"bet"`
}

// GameResult settles a bet. Balance and Seq are optional.
type GameResult struct {
	Type      string  `json:"type"`
	RequestID string  `json:"requestId"`
	Won       bool    `json:"won"`
	Payout    uint64  `json:"payout"`
	Balance   *uint64 `json:"balance,omitempty"`
	Seq       uint64  `json:"seq,omitempty"`
}

type ErrorMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (e ErrorMessage) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// GetBalance asks the gateway to push the current balance
type GetBalance struct {
	Type string `json:"type"`
}

func NewGetBalance() GetBalance {
	return GetBalance{Type: TypeGetBalance}
}

type FaucetClaim struct {
	Type   string `json:"type"`
	Amount uint64 `json:"amount"`
}

func NewFaucetClaim(amount uint64) FaucetClaim {
	return FaucetClaim{Type: TypeFaucetClaim, Amount: amount}
}

// Bet is an outbound wager. Type names the game action (e.g. "blackjack_deal",
// "roulette_spin"); Params carries game-specific fields and is flattened into
// the frame next to type, amount and requestId.
type Bet struct {
	Type      string
	Amount    uint64
	RequestID string
	Params    map[string]interface{}
}

func (b Bet) MarshalJSON() ([]byte, error) {
	frame := make(map[string]interface{}, len(b.Params)+3)
	for k, v := range b.Params {
		frame[k] = v
	}
	frame["type"] = b.Type
	frame["amount"] = b.Amount
	if b.RequestID != "" {
		frame["requestId"] = b.RequestID
	}
	return json.Marshal(frame)
}

// Validate checks the fields the session core relies on
func (b Bet) Validate() error {
	if b.Type == "" {
		return fmt.Errorf("bet type is required")
	}
	if b.Amount == 0 {
		return fmt.Errorf("bet amount must be positive")
	}
	return nil
}
