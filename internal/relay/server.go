package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luciancaetano/ghostrelay"
	"github.com/luciancaetano/ghostrelay/internal/protocol"
)

const (
	// DefaultPort is the TCP port the relay listens on when none is given.
	DefaultPort = 45565

	DefaultMaxPlayers        = 10
	DefaultMaxBytesPerSecond = 8000
	DefaultQueueSize         = 256
	DefaultWriteTimeout      = 10 * time.Second

	readBufferSize = 4096
	acceptBackoff  = 50 * time.Millisecond
	stopTimeout    = 5 * time.Second
)

// OnConnectFn is called once a connection is registered and active, before
// its first frame is read. It runs on the connection's read goroutine.
type OnConnectFn = func(client ghostrelay.Client)

// OnDisconnectFn is called after a registered connection has been removed,
// its Leave broadcast and both loops finished. voluntary is true when the
// client closed the stream or sent a Leave.
type OnDisconnectFn = func(client ghostrelay.Client, voluntary bool)

// CheckOriginFn validates the Origin of a WebSocket upgrade request.
type CheckOriginFn = func(r *http.Request) bool

// Config is read once by New and never mutated by the server.
type Config struct {
	// Addr is the TCP address to listen on, e.g. ":45565".
	Addr string
	// WSAddr enables the WebSocket listener when non-empty.
	WSAddr string

	// Mirror also delivers data packets back to their sender.
	Mirror bool
	// MaxPlayers caps the number of registered connections.
	MaxPlayers int
	// MaxBytesPerSecond is the per-connection budget of inbound bytes per
	// one-second window. The unit is whole frames, the 5 byte header
	// included, so a 10 byte payload costs 15. Leave frames are never
	// charged. 0 disables rate limiting.
	MaxBytesPerSecond uint
	// MaxFrameSize bounds an inbound frame, header included.
	MaxFrameSize int
	// QueueSize bounds each connection's outbound queue, in frames.
	QueueSize int
	// WriteTimeout bounds a single batched socket write.
	WriteTimeout time.Duration
	// ReusePort sets SO_REUSEPORT on the listening sockets.
	ReusePort bool
	// Debug enables per-packet logging.
	Debug bool

	Logger       *slog.Logger
	CheckOrigin  CheckOriginFn
	OnConnect    OnConnectFn
	OnDisconnect OnDisconnectFn
}

// DefaultConfig returns the configuration the relay ships with.
func DefaultConfig() *Config {
	return &Config{
		Addr:              net.JoinHostPort("", strconv.Itoa(DefaultPort)),
		Mirror:            true,
		MaxPlayers:        DefaultMaxPlayers,
		MaxBytesPerSecond: DefaultMaxBytesPerSecond,
		MaxFrameSize:      protocol.DefaultMaxFrameSize,
		QueueSize:         DefaultQueueSize,
		WriteTimeout:      DefaultWriteTimeout,
		CheckOrigin:       func(r *http.Request) bool { return true },
	}
}

// Server implements the ghostrelay.Server interface
type Server struct {
	cfg         Config
	logger      *slog.Logger
	registry    *Registry
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader

	mu       sync.Mutex
	running  bool
	listener net.Listener
	wsLn     net.Listener
	http     *http.Server
	quit     chan struct{}

	loops sync.WaitGroup // accept loops
	conns sync.WaitGroup // served connections
}

// New creates a relay server. Zero values for MaxPlayers, MaxFrameSize and
// QueueSize are replaced by their defaults; a zero MaxBytesPerSecond keeps
// rate limiting off.
func New(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = DefaultMaxPlayers
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	registry := NewRegistry(c.MaxPlayers)
	return &Server{
		cfg:         c,
		logger:      c.Logger,
		registry:    registry,
		broadcaster: NewBroadcaster(registry, c.Mirror, c.Debug, c.Logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     c.CheckOrigin,
		},
	}
}

// Start binds the listeners and starts accepting clients. If ctx is cancelled
// later the server stops itself.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ghostrelay.ErrServerAlreadyRunning
	}

	lc := net.ListenConfig{Control: listenControl(s.cfg.ReusePort)}

	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return &ghostrelay.ListenError{Network: "tcp", Addr: s.cfg.Addr, Err: err}
	}

	var wsLn net.Listener
	if s.cfg.WSAddr != "" {
		wsLn, err = lc.Listen(ctx, "tcp", s.cfg.WSAddr)
		if err != nil {
			ln.Close()
			return &ghostrelay.ListenError{Network: "websocket", Addr: s.cfg.WSAddr, Err: err}
		}
	}

	s.running = true
	s.listener = ln
	s.wsLn = wsLn
	s.quit = make(chan struct{})

	s.loops.Add(1)
	go s.acceptLoop(ln)

	if wsLn != nil {
		s.http = &http.Server{Handler: s.httpHandler(), ReadHeaderTimeout: 5 * time.Second}
		s.loops.Add(1)
		go s.serveHTTP(s.http, wsLn)
	}

	go s.stopOnDone(ctx, s.quit)

	s.logger.Info("relay listening",
		"addr", ln.Addr().String(),
		"mirror", s.cfg.Mirror,
		"max_players", s.cfg.MaxPlayers,
		"max_bytes_per_second", s.cfg.MaxBytesPerSecond)
	if wsLn != nil {
		s.logger.Info("websocket listening", "addr", wsLn.Addr().String())
	}
	return nil
}

func (s *Server) stopOnDone(ctx context.Context, quit <-chan struct{}) {
	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := s.Stop(stopCtx); err != nil {
			s.logger.Error("stop after context cancellation failed", "error", err)
		}
	case <-quit:
	}
}

// Stop closes the listeners, closes every connection and waits for their
// loops to finish or for ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.quit)
	ln, srv := s.listener, s.http
	s.mu.Unlock()

	s.logger.Info("relay shutting down, closing all connections", "players", s.registry.Len())

	ln.Close()
	if srv != nil {
		srv.Close()
	}
	s.loops.Wait()

	for _, m := range s.registry.Snapshot() {
		if c, ok := m.(*Conn); ok {
			c.Close()
		}
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Players returns the number of registered connections
func (s *Server) Players() int {
	return s.registry.Len()
}

// Addr returns the bound TCP address
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// WSAddr returns the bound WebSocket address, or nil when disabled.
func (s *Server) WSAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wsLn == nil {
		return nil
	}
	return s.wsLn.Addr()
}

// GetClient returns a registered client by key
func (s *Server) GetClient(key uuid.UUID) (ghostrelay.Client, bool) {
	m, ok := s.registry.Get(key)
	if !ok {
		return nil, false
	}
	c, ok := m.(*Conn)
	if !ok {
		return nil, false
	}
	return c, true
}

// acceptLoop accepts sockets until the listener is closed. It never touches
// client I/O.
func (s *Server) acceptLoop(ln net.Listener) {
	defer s.loops.Done()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "error", err)
			time.Sleep(acceptBackoff)
			continue
		}

		s.admit(nc)
	}
}

// admit registers a freshly accepted transport and starts serving it, or
// closes it right away when the server is stopping or full. A rejected
// connection never becomes active and produces no Join or Leave.
func (s *Server) admit(t Transport) bool {
	c := NewConn(t, &s.cfg, s.logger)

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		c.reject()
		return false
	}
	if err := s.registry.Register(c); err != nil {
		s.mu.Unlock()
		s.logger.Warn("rejecting connection", "remote", c.RemoteAddr(), "error", err, "players", s.registry.Len())
		c.reject()
		return false
	}
	c.advance(ghostrelay.StateActive)
	s.conns.Add(1)
	s.mu.Unlock()

	s.logger.Info("client joined", "conn", c.Key(), "id", c.ID(), "remote", c.RemoteAddr(), "players", s.registry.Len())
	go s.serve(c)
	return true
}

// reject closes a connection that was never registered.
func (c *Conn) reject() {
	c.Close()
	c.advance(ghostrelay.StateClosed)
}

// serve runs one registered connection to completion.
func (s *Server) serve(c *Conn) {
	defer s.conns.Done()

	go c.writeLoop()

	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(c)
	}

	voluntary := s.readLoop(c)
	s.teardown(c, voluntary)
}

// readLoop decodes frames and dispatches them in arrival order. It returns
// true when the client ended the session itself.
func (s *Server) readLoop(c *Conn) bool {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.transport.Read(buf)
		if n > 0 {
			c.decoder.Feed(buf[:n])
			for c.State() == ghostrelay.StateActive {
				p, derr := c.decoder.Next()
				if errors.Is(derr, protocol.ErrNeedMoreData) {
					break
				}
				if derr == nil {
					derr = p.Validate()
				}
				if derr != nil {
					c.logger.Warn("malformed frame, closing connection", "id", c.ID(), "error", derr)
					return false
				}
				if !s.dispatch(c, p) {
					return true
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return true
			}
			if c.ctx.Err() == nil {
				c.logger.Info("read failed", "id", c.ID(), "error", err)
			}
			return false
		}
		if c.State() != ghostrelay.StateActive {
			return false
		}
	}
}

// dispatch handles one decoded packet. It returns false when the client asked
// to leave.
func (s *Server) dispatch(c *Conn, p protocol.Packet) bool {
	if p.Kind() == protocol.KindLeave {
		return false
	}

	if !c.limiter.Admit(uint(p.Size()), time.Now()) {
		c.dropLog.Do(func() {
			c.logger.Warn("rate limit exceeded, dropping packet",
				"id", c.ID(), "size", p.Size(), "window_bytes", c.limiter.Usage(), "max", s.cfg.MaxBytesPerSecond)
		})
		return true
	}
	if s.cfg.Debug {
		c.usageLog.Do(func() {
			c.logger.Debug("rate window usage", "id", c.ID(), "window_bytes", c.limiter.Usage())
		})
	}

	if p.Kind() == protocol.KindJoin {
		info, err := p.Join()
		if err != nil {
			// The decoder already enforced the join layout.
			return true
		}
		old := c.ID()
		c.setIdentity(info)
		c.logger.Info("client identified", "old_id", old, "id", info.ID, "version", info.Version)
	}

	s.broadcaster.Publish(c, p)
	return true
}

// teardown moves a served connection through Closing to Closed. The registry
// removal decides who broadcasts the Leave, so it happens exactly once.
func (s *Server) teardown(c *Conn, voluntary bool) {
	c.Close()

	if s.registry.Unregister(c.Key()) {
		s.broadcaster.Publish(c, protocol.NewLeave())
	}

	<-c.writerDone
	c.advance(ghostrelay.StateClosed)

	s.logger.Info("client disconnected",
		"conn", c.Key(), "id", c.ID(), "voluntary", voluntary, "players", s.registry.Len())

	if s.cfg.OnDisconnect != nil {
		s.cfg.OnDisconnect(c, voluntary)
	}
}
