package relay

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/luciancaetano/ghostrelay"
)

// outbox is a connection's bounded FIFO of encoded frames. Producers are the
// broadcasting read loops of other connections; the single consumer is the
// owning connection's write loop.
type outbox struct {
	mu     sync.Mutex
	frames *queue.Queue
	limit  int
	closed bool

	// ready holds at most one pending wake-up for the write loop.
	ready chan struct{}
}

func newOutbox(limit int) *outbox {
	return &outbox{
		frames: queue.New(),
		limit:  limit,
		ready:  make(chan struct{}, 1),
	}
}

// push appends a frame without blocking. It fails with ErrQueueFull when the
// limit is reached and ErrConnectionClosed after close.
func (o *outbox) push(frame []byte) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ghostrelay.ErrConnectionClosed
	}
	if o.limit > 0 && o.frames.Length() >= o.limit {
		o.mu.Unlock()
		return ghostrelay.ErrQueueFull
	}
	o.frames.Add(frame)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return nil
}

// drain moves every queued frame onto dst in FIFO order.
func (o *outbox) drain(dst [][]byte) [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()

	for o.frames.Length() > 0 {
		dst = append(dst, o.frames.Remove().([]byte))
	}
	return dst
}

// close rejects further pushes and discards whatever is still queued.
func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	for o.frames.Length() > 0 {
		o.frames.Remove()
	}
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frames.Length()
}
