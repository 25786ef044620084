package relay

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// maxWSMessageSize caps one WebSocket message. Frame size limits are still
// enforced by the decoder.
const maxWSMessageSize = 64 << 10

// wsTransport carries the relay byte stream over WebSocket binary messages.
// Message boundaries carry no meaning: frames may span or share messages.
type wsTransport struct {
	conn *websocket.Conn
	r    io.Reader
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

// Read must only be called from the read loop.
func (t *wsTransport) Read(p []byte) (int, error) {
	for {
		if t.r == nil {
			mt, r, err := t.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			t.r = r
		}

		n, err := t.r.Read(p)
		if errors.Is(err, io.EOF) {
			t.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write sends p as one binary message. It must only be called from the write loop.
func (t *wsTransport) Write(p []byte) (int, error) {
	if err := t.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *wsTransport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func (t *wsTransport) SetWriteDeadline(d time.Time) error {
	return t.conn.SetWriteDeadline(d)
}

// httpHandler serves the WebSocket endpoint next to health and stats.
func (s *Server) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

func (s *Server) serveHTTP(srv *http.Server, ln net.Listener) {
	defer s.loops.Done()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("websocket server error", "error", err)
	}
}

// handleWebSocket upgrades the request and admits the connection like any
// accepted TCP socket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.registry.Len() >= s.cfg.MaxPlayers {
		http.Error(w, "server full", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxWSMessageSize)

	s.admit(newWSTransport(conn))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Stats is the body of the /stats endpoint.
type Stats struct {
	Players    int  `json:"players"`
	MaxPlayers int  `json:"max_players"`
	Mirror     bool `json:"mirror"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Stats{
		Players:    s.registry.Len(),
		MaxPlayers: s.cfg.MaxPlayers,
		Mirror:     s.cfg.Mirror,
	})
}
