// Package ghostrelay provides a small TCP relay for multiplayer "ghost" state.
//
// Every connected player streams length-prefixed binary packets to the relay,
// which forwards each packet to every other connected player. The relay never
// interprets game data: it enforces framing, a player cap and a per-player
// byte budget, and tags each relayed packet with who sent it and how many
// players are online.
//
// # Architecture
//
// Each connection owns two goroutines. The read loop reassembles frames,
// applies the rate limit and publishes accepted packets to the broadcaster.
// The write loop drains a bounded per-connection queue to the socket in
// batches. A slow reader can therefore never stall the sender or any other
// player; when its queue overflows it is disconnected.
//
// Connections live in a registry keyed by a uuid. The registry enforces the
// player cap atomically with insertion and hands out snapshots ordered by
// join time, so a broadcast iterates a stable copy without holding a lock.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/ghostrelay/server"
//	)
//
//	cfg := server.DefaultConfig() // :45565, mirror on, 10 players, 8000 B/s
//	cfg.OnDisconnect = func(client ghostrelay.Client, voluntary bool) {
//	    log.Printf("%s left (voluntary=%v)", client.ID(), voluntary)
//	}
//
//	srv := server.New(cfg)
//	if err := srv.Start(ctx); err != nil {
//	    var le *ghostrelay.ListenError
//	    if errors.As(err, &le) {
//	        log.Fatalf("cannot bind %s: %v", le.Addr, le.Err)
//	    }
//	}
//	defer srv.Stop(context.Background())
//
// # Protocol Format
//
// Inbound and outbound frames share one layout:
//
//	[4 bytes: size (uint32, big-endian, whole frame)][1 byte: key][size-5 bytes: payload]
//
// Key 1 is Join: a 128 byte payload holding a 64 byte id and a 64 byte
// version, NUL or space padded. Key 2 is Leave with an empty payload. Any
// other non-zero key is opaque game data. Key 0 and frames larger than the
// configured maximum (512 bytes by default) close the connection.
//
// Relayed frames keep the original key and wrap the content in an envelope:
//
//	{senderId}::{playerCount}::{content}
//
// The relay emits one Leave per disconnected player with empty content.
//
// # Rate Limiting
//
// Each player may send MaxBytesPerSecond frame bytes per fixed one-second
// window. Frames over budget are dropped silently and the connection stays
// open. A zero budget disables the limit.
//
// # Security Features
//
//   - Player cap enforced atomically with registration
//   - Maximum frame size checked before the body is buffered
//   - Bounded outbound queue per player (slow readers are disconnected)
//   - Write timeout: 10s (prevents stalled sockets)
//   - Origin validation via CheckOriginFn on the optional WebSocket listener
//
// # Important
//
//   - Packets from one sender reach each receiver in the order they were sent
//   - There is no ordering guarantee across different senders
//   - Data is mirrored back to its sender only when Mirror is enabled
package ghostrelay
