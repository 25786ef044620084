package ghostrelay

import (
	"context"
	"net"

	"github.com/google/uuid"
)

// Server defines the relay server handle returned by server.New.
//
// Example usage:
//
//	import "github.com/luciancaetano/ghostrelay/server"
//
//	cfg := server.DefaultConfig()
//	cfg.Mirror = false
//	srv := server.New(cfg)
//
//	if err := srv.Start(ctx); err != nil {
//	    var le *ghostrelay.ListenError
//	    if errors.As(err, &le) {
//	        // port already in use, permission denied, ...
//	    }
//	}
//	defer srv.Stop(ctx)
type Server interface {
	// Start binds the listening socket(s) and begins accepting clients.
	//
	// Binding happens before Start returns, so a bind failure is reported
	// as a *ListenError and leaves nothing running. Accepting continues in
	// the background until Stop is called or ctx is cancelled.
	//
	// Returns ErrServerAlreadyRunning if the server was already started.
	Start(ctx context.Context) error

	// Stop closes the listener, closes every connection and waits for all
	// read and write loops to finish, or for ctx to expire.
	Stop(ctx context.Context) error

	// Players returns the number of registered connections.
	Players() int

	// Addr returns the bound TCP address, or nil before Start.
	Addr() net.Addr
}

// Client represents a connection registered with the relay.
//
// The Key is assigned by the server and never changes. The ID starts as a
// short form of the Key and is replaced whenever the client sends a Join.
type Client interface {
	// Key returns the stable internal identity of the connection.
	Key() uuid.UUID

	// ID returns the client-chosen id from the last Join, or the default id.
	ID() string

	// Version returns the version tag from the last Join, empty until then.
	Version() string

	// RemoteAddr returns the peer address, "IP:port".
	RemoteAddr() string

	// State returns the current lifecycle state.
	State() State

	// Context is cancelled as soon as the connection starts closing.
	Context() context.Context

	// Close starts closing the connection. It is safe to call more than once.
	Close() error
}

// State is the lifecycle state of a connection. States only move forward.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
