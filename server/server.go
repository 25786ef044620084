package server

import (
	"net/http"

	"github.com/luciancaetano/ghostrelay"
	"github.com/luciancaetano/ghostrelay/internal/relay"
)

type Config = relay.Config
type CheckOriginFn = relay.CheckOriginFn
type OnConnectFn = relay.OnConnectFn
type OnDisconnectFn = relay.OnDisconnectFn
type Stats = relay.Stats

const (
	// DefaultPort is the TCP port used when none is configured.
	DefaultPort = relay.DefaultPort

	DefaultMaxPlayers        = relay.DefaultMaxPlayers
	DefaultMaxBytesPerSecond = relay.DefaultMaxBytesPerSecond
	DefaultQueueSize         = relay.DefaultQueueSize
)

// New creates a relay server from cfg. A nil cfg uses DefaultConfig().
//
// The config is copied; changing it after New has no effect on the server.
//
// Example:
//
//	cfg := server.DefaultConfig()
//	cfg.Addr = ":45565"
//	cfg.Mirror = false
//	cfg.OnConnect = func(client ghostrelay.Client) {
//	    log.Printf("Client connected: %s", client.Key())
//	}
//	srv := server.New(cfg)
func New(cfg *Config) ghostrelay.Server {
	return relay.New(cfg)
}

// DefaultConfig returns the shipped defaults: port 45565, mirror on,
// 10 players, 8000 bytes per second, 512 byte frames.
func DefaultConfig() *Config {
	return relay.DefaultConfig()
}

// NewConfig returns DefaultConfig with the core relay knobs replaced.
func NewConfig(addr string, mirror bool, maxPlayers int, maxBytesPerSecond uint) *Config {
	cfg := relay.DefaultConfig()
	cfg.Addr = addr
	cfg.Mirror = mirror
	cfg.MaxPlayers = maxPlayers
	cfg.MaxBytesPerSecond = maxBytesPerSecond
	return cfg
}

// AllOrigins returns a checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}
