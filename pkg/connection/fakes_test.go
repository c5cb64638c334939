package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tablestakes/game-session/pkg/interfaces"
	"github.com/tablestakes/game-session/pkg/protocol"
)

var errDialRefused = errors.New("connection refused")

// fakeDialer hands out fakeTransports, or fails while refuse is set
type fakeDialer struct {
	mu         sync.Mutex
	refuse     bool
	failSends  int
	dials      int
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (interfaces.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.refuse {
		return nil, errDialRefused
	}
	t := newFakeTransport()
	t.failSends = d.failSends
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) setRefuse(refuse bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refuse = refuse
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// fakeTransport records writes. Tests drive inbound events through it
// directly, so they are processed on the test goroutine.
type fakeTransport struct {
	mu        sync.Mutex
	sent      [][]byte
	failSends int
	closed    bool
	sink      interfaces.EventSink
	listening chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		listening: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("closed")
	}
	if t.failSends > 0 {
		t.failSends--
		return errors.New("write failed")
	}
	t.sent = append(t.sent, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.done)
	})
	return nil
}

func (t *fakeTransport) Listen(sink interfaces.EventSink) {
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
	close(t.listening)
	<-t.done
}

func (t *fakeTransport) currentSink() interfaces.EventSink {
	<-t.listening
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sink
}

func (t *fakeTransport) deliver(data string) {
	t.currentSink().OnMessage([]byte(data))
}

func (t *fakeTransport) drop(clean bool) {
	sink := t.currentSink()
	var err error
	if !clean {
		err = errors.New("connection reset by peer")
	}
	sink.OnClose(clean, err)
	_ = t.Close()
}

func (t *fakeTransport) sentFrames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.sent))
	for i, b := range t.sent {
		out[i] = string(b)
	}
	return out
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type recordingHandler struct {
	mu   sync.Mutex
	envs []protocol.Envelope
}

func (h *recordingHandler) HandleMessage(env protocol.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.envs = append(h.envs, env)
}

func (h *recordingHandler) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.envs))
	for i, env := range h.envs {
		out[i] = env.Type
	}
	return out
}

type recordingObserver struct {
	mu           sync.Mutex
	delays       []time.Duration
	sendFailures int
	dropped      int
}

func (o *recordingObserver) ObserveConnectionState(interfaces.ConnectionState, int) {}

func (o *recordingObserver) ObserveReconnectScheduled(delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delays = append(o.delays, delay)
}

func (o *recordingObserver) scheduled() []time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]time.Duration(nil), o.delays...)
}

func (o *recordingObserver) failures() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sendFailures
}

func (o *recordingObserver) droppedFrames() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

func (o *recordingObserver) ObserveSendFailure() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sendFailures++
}

func (o *recordingObserver) ObserveFrameDropped() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped++
}
