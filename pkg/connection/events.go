package connection

import (
	"time"

	"github.com/tablestakes/game-session/pkg/interfaces"
)

// EventKind enumerates the transport lifecycle events consumed by the
// manager's transition function
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is a transport event tagged with the connection attempt it belongs to.
// Events from superseded attempts are ignored.
type Event struct {
	Kind      EventKind
	Gen       uint64
	Transport interfaces.Transport
	Data      []byte
	Clean     bool
	Err       error
	At        time.Time
}

// attemptSink routes a transport's events back to the manager with the
// attempt generation attached
type attemptSink struct {
	m   *Manager
	gen uint64
}

func (s *attemptSink) OnMessage(data []byte) {
	s.m.dispatch(Event{Kind: EventMessage, Gen: s.gen, Data: data, At: s.m.clock.Now()})
}

func (s *attemptSink) OnClose(clean bool, err error) {
	s.m.dispatch(Event{Kind: EventClose, Gen: s.gen, Clean: clean, Err: err, At: s.m.clock.Now()})
}

// effects are callbacks collected while the manager lock is held and run
// after it is released, so listeners may call back into the manager
type effects []func()

func (e *effects) add(f func()) {
	*e = append(*e, f)
}

func (e effects) run() {
	for _, f := range e {
		f()
	}
}
