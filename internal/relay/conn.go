package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/ghostrelay"
	"github.com/luciancaetano/ghostrelay/internal/protocol"
)

// Transport is the byte stream under a connection. *net.TCPConn satisfies it,
// as does the WebSocket adapter.
type Transport interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
	SetWriteDeadline(t time.Time) error
}

// Conn implements the ghostrelay.Client interface
type Conn struct {
	key        uuid.UUID
	transport  Transport
	remoteAddr string
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *slog.Logger

	mu      sync.RWMutex
	id      string
	version string

	state        atomic.Int32
	out          *outbox
	writeTimeout time.Duration
	closeOnce    sync.Once
	writerDone   chan struct{}

	// Owned by the read loop.
	limiter  *Limiter
	decoder  *protocol.Decoder
	usageLog rate.Sometimes
	dropLog  rate.Sometimes
}

// NewConn wraps t in a connection in the Connecting state. The write loop is
// not started until the connection is served.
func NewConn(t Transport, cfg *Config, logger *slog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	key := uuid.New()

	remote := ""
	if addr := t.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	c := &Conn{
		key:          key,
		transport:    t,
		remoteAddr:   remote,
		ctx:          ctx,
		cancel:       cancel,
		id:           defaultID(key),
		out:          newOutbox(cfg.QueueSize),
		writeTimeout: cfg.WriteTimeout,
		writerDone:   make(chan struct{}),
		limiter:      NewLimiter(cfg.MaxBytesPerSecond),
		decoder:      protocol.NewDecoder(cfg.MaxFrameSize),
		usageLog:     rate.Sometimes{Every: 30},
		dropLog:      rate.Sometimes{Interval: time.Second},
	}
	c.logger = logger.With("conn", key, "remote", remote)
	c.state.Store(int32(ghostrelay.StateConnecting))
	return c
}

// defaultID is the id a connection carries until its first Join.
func defaultID(key uuid.UUID) string {
	return key.String()[:8]
}

// Key returns the stable internal identity of the connection
func (c *Conn) Key() uuid.UUID {
	return c.key
}

// ID returns the current client id
func (c *Conn) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Version returns the version tag from the last Join
func (c *Conn) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// RemoteAddr returns the client's remote network address
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Context returns the connection's lifecycle context
func (c *Conn) Context() context.Context {
	return c.ctx
}

// State returns the current lifecycle state
func (c *Conn) State() ghostrelay.State {
	return ghostrelay.State(c.state.Load())
}

// advance moves the state forward to s. Moving backwards is refused.
func (c *Conn) advance(s ghostrelay.State) bool {
	for {
		cur := c.state.Load()
		if cur >= int32(s) {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return true
		}
	}
}

// setIdentity applies a Join. Registry membership is untouched.
func (c *Conn) setIdentity(info protocol.JoinInfo) {
	c.mu.Lock()
	c.id = info.ID
	c.version = info.Version
	c.mu.Unlock()
}

// Send queues an encoded frame for the write loop without blocking. When the
// queue overflows the connection is treated as stalled and closed.
func (c *Conn) Send(frame []byte) error {
	err := c.out.push(frame)
	if errors.Is(err, ghostrelay.ErrQueueFull) {
		c.logger.Warn("outbound queue overflow, disconnecting", "id", c.ID(), "queued", c.out.len())
		c.Close()
	}
	return err
}

// Close starts closing the connection: the context is cancelled, the outbound
// queue is discarded and the transport is closed, which unblocks both loops.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.advance(ghostrelay.StateClosing)
		c.cancel()
		c.out.close()
		err = c.transport.Close()
	})
	return err
}

// writeLoop drains the outbound queue to the transport until the connection
// closes or a write fails.
func (c *Conn) writeLoop() {
	defer close(c.writerDone)

	var batch [][]byte
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.out.ready:
		}

		batch = c.out.drain(batch[:0])
		if len(batch) == 0 {
			continue
		}

		if c.writeTimeout > 0 {
			c.transport.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		}
		bufs := net.Buffers(batch)
		if _, err := bufs.WriteTo(c.transport); err != nil {
			if c.ctx.Err() == nil {
				c.logger.Debug("write failed", "id", c.ID(), "error", err)
			}
			c.Close()
			return
		}
	}
}
