package relay

import (
	"log/slog"

	"github.com/luciancaetano/ghostrelay/internal/protocol"
)

// Broadcaster fans packets out to the registry's members.
type Broadcaster struct {
	registry *Registry
	mirror   bool
	debug    bool
	logger   *slog.Logger
}

// NewBroadcaster returns a broadcaster over reg. With mirror set, data packets
// are also delivered back to their sender; join and leave never are.
func NewBroadcaster(reg *Registry, mirror, debug bool, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		registry: reg,
		mirror:   mirror,
		debug:    debug,
		logger:   logger,
	}
}

// Publish wraps p in an envelope attributed to sender and enqueues the
// resulting frame on every target member. It never blocks on a recipient:
// a recipient whose queue rejects the frame deals with it on its own.
// Publish returns the number of members the frame was queued for.
func (b *Broadcaster) Publish(sender Member, p protocol.Packet) int {
	members := b.registry.Snapshot()

	envelope := protocol.AppendEnvelope(make([]byte, 0, 64+len(p.Payload)), sender.ID(), len(members), p.Payload)
	frame := protocol.AppendFrame(make([]byte, 0, protocol.HeaderSize+len(envelope)), p.Key, envelope)

	if b.debug {
		b.logger.Debug("broadcasting packet",
			"conn", sender.Key(), "id", sender.ID(), "kind", p.Kind(), "size", p.Size(), "players", len(members))
	}

	delivered := 0
	for _, m := range members {
		if m.Key() == sender.Key() && (p.Kind() != protocol.KindData || !b.mirror) {
			continue
		}
		if err := m.Send(frame); err != nil {
			b.logger.Debug("dropping frame for recipient", "conn", m.Key(), "id", m.ID(), "error", err)
			continue
		}
		delivered++
	}
	return delivered
}
