// Package protocol holds the wire shapes exchanged with the game gateway:
// envelope validation for inbound frames, the balance-bearing messages the
// session core understands, and constructors for outbound requests.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Inbound message types
const (
	TypeSessionReady = "session_ready"
	TypeBalance      = "balance"
	TypeGameStarted  = "game_started"
	TypeGameResult   = "game_result"
	TypeGameMove     = "game_move"
	TypeError        = "error"
)

var (
	ErrInvalidEnvelope = errors.New("invalid envelope")
	ErrWrongType       = errors.New("unexpected message type")
)

// Envelope is a validated inbound frame. Raw keeps the full object so domain
// handlers can decode the fields they care about.
type Envelope struct {
	Type       string
	Raw        json.RawMessage
	ReceivedAt time.Time
}

type envelopeHeader struct {
	Type *string `json:"type"`
}

// DecodeEnvelope checks that data is a JSON object carrying a non-empty
// string "type" discriminator.
func DecodeEnvelope(data []byte, receivedAt time.Time) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, fmt.Errorf("%w: not a JSON object", ErrInvalidEnvelope)
	}

	var header envelopeHeader
	if err := json.Unmarshal(trimmed, &header); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if header.Type == nil || *header.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}

	raw := make(json.RawMessage, len(trimmed))
	copy(raw, trimmed)

	return Envelope{
		Type:       *header.Type,
		Raw:        raw,
		ReceivedAt: receivedAt,
	}, nil
}

// Decode unmarshals the envelope body into v
func (e Envelope) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return nil
}

// Balance extracts a sequenced balance from any balance-bearing frame.
// Frames without a balance or without a positive seq report ok=false.
func (e Envelope) Balance() (value uint64, seq uint64, ok bool) {
	switch e.Type {
	case TypeBalance, TypeSessionReady, TypeGameResult, TypeGameMove:
	default:
		return 0, 0, false
	}

	var body struct {
		Balance *uint64 `json:"balance"`
		Seq     uint64  `json:"seq"`
	}
	if err := json.Unmarshal(e.Raw, &body); err != nil {
		return 0, 0, false
	}
	if body.Balance == nil || body.Seq == 0 {
		return 0, 0, false
	}
	return *body.Balance, body.Seq, true
}

// RequestID returns the client request id echoed by the server, if any
func (e Envelope) RequestID() string {
	var body struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(e.Raw, &body); err != nil {
		return ""
	}
	return body.RequestID
}
