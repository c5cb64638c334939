package interfaces

import (
	"context"
	"fmt"

	"github.com/tablestakes/game-session/pkg/protocol"
)

// ConnectionState is the lifecycle state of the session's single logical connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectionState) UnmarshalText(text []byte) error {
	for _, candidate := range []ConnectionState{StateDisconnected, StateConnecting, StateConnected, StateFailed} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", text)
}

// Transport is an established duplex text channel
type Transport interface {
	Send(data []byte) error
	Close() error
	// Listen delivers inbound frames to sink until the transport closes. It
	// blocks, and always finishes with exactly one OnClose call.
	Listen(sink EventSink)
}

// EventSink receives the events of a single transport
type EventSink interface {
	OnMessage(data []byte)
	OnClose(clean bool, err error)
}

// Dialer establishes transports
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// MessageHandler consumes inbound frames that passed envelope validation
type MessageHandler interface {
	HandleMessage(env protocol.Envelope)
}
