// Package broadcast provides the hand-off buffers between ingestion workers
// and the goroutines that own the WebSocket observers. Three buses with three
// delivery contracts: gps (bounded FIFO, drop-oldest), response (keyed,
// retained until delivered) and log (fire-and-forget).
package broadcast

import (
	"context"
	"sync"

	"github.com/oakmere/fleettrack/internal/monitoring"
)

// GPSBufferCap bounds the gps bus backlog. A stalled dispatcher sheds the
// oldest positions first; observers only ever want fresh ones.
const GPSBufferCap = 50

// Sink is where a dispatcher delivers payloads, implemented by the ws
// observer registries.
type Sink interface {
	ObserverCount() int
	Broadcast(payload []byte)
}

// GPSBus is the live-position bus. Producers call Add from ingestion workers;
// a single Run goroutine drains toward the sink.
type GPSBus struct {
	mu   sync.Mutex
	buf  [][]byte
	wake chan struct{}
}

func NewGPSBus() *GPSBus {
	return &GPSBus{wake: make(chan struct{}, 1)}
}

// Add enqueues a payload, evicting the oldest when the buffer is full.
func (b *GPSBus) Add(payload []byte) {
	b.mu.Lock()
	if len(b.buf) >= GPSBufferCap {
		b.buf = b.buf[1:]
		monitoring.Logf("gps bus full, dropped oldest payload")
	}
	b.buf = append(b.buf, payload)
	b.mu.Unlock()
	signal(b.wake)
}

// Run drains the bus toward sink until ctx is cancelled.
func (b *GPSBus) Run(ctx context.Context, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
			b.dispatch(sink)
		}
	}
}

// dispatch delivers the pending backlog. With no observers connected the
// payloads are discarded, not retained; a reconnecting observer starts from
// the live stream.
func (b *GPSBus) dispatch(sink Sink) {
	b.mu.Lock()
	pending := b.buf
	b.buf = nil
	b.mu.Unlock()

	if sink.ObserverCount() == 0 {
		return
	}
	for _, p := range pending {
		sink.Broadcast(p)
	}
}

// ResponseBus carries request-correlated responses. Payloads are keyed by
// request id; a newer response for the same id supersedes the older one, and
// undelivered responses survive until an observer connects.
type ResponseBus struct {
	mu      sync.Mutex
	pending map[string][]byte
	order   []string
	wake    chan struct{}
}

func NewResponseBus() *ResponseBus {
	return &ResponseBus{
		pending: make(map[string][]byte),
		wake:    make(chan struct{}, 1),
	}
}

// Add stores the payload under requestID, overwriting any unsent predecessor.
func (b *ResponseBus) Add(requestID string, payload []byte) {
	b.mu.Lock()
	if _, exists := b.pending[requestID]; !exists {
		b.order = append(b.order, requestID)
	}
	b.pending[requestID] = payload
	b.mu.Unlock()
	signal(b.wake)
}

// Wake nudges the dispatcher without adding a payload. The response observer
// registry calls this on attach so responses retained while nobody listened
// reach the new observer instead of waiting for the next Add.
func (b *ResponseBus) Wake() {
	signal(b.wake)
}

// Run drains the bus toward sink until ctx is cancelled.
func (b *ResponseBus) Run(ctx context.Context, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
			b.dispatch(sink)
		}
	}
}

func (b *ResponseBus) dispatch(sink Sink) {
	b.mu.Lock()
	if sink.ObserverCount() == 0 {
		// Keep everything buffered for retry.
		b.mu.Unlock()
		return
	}
	order := b.order
	pending := b.pending
	b.order = nil
	b.pending = make(map[string][]byte)
	b.mu.Unlock()

	for _, id := range order {
		sink.Broadcast(pending[id])
	}
}

// LogBus carries human-readable event lines. Delivery is best-effort: with no
// log observers connected the lines vanish.
type LogBus struct {
	mu   sync.Mutex
	buf  [][]byte
	wake chan struct{}
}

func NewLogBus() *LogBus {
	return &LogBus{wake: make(chan struct{}, 1)}
}

func (b *LogBus) Add(payload []byte) {
	b.mu.Lock()
	b.buf = append(b.buf, payload)
	b.mu.Unlock()
	signal(b.wake)
}

// Run drains the bus toward sink until ctx is cancelled.
func (b *LogBus) Run(ctx context.Context, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
			b.dispatch(sink)
		}
	}
}

func (b *LogBus) dispatch(sink Sink) {
	b.mu.Lock()
	pending := b.buf
	b.buf = nil
	b.mu.Unlock()

	if sink.ObserverCount() == 0 {
		return
	}
	for _, p := range pending {
		sink.Broadcast(p)
	}
}

// signal is a non-blocking wake of a dispatcher. A dispatcher that is already
// awake will pick up the new payload in its current drain.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
