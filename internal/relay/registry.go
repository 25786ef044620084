package relay

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/luciancaetano/ghostrelay"
)

// Member is the part of a connection the registry and broadcaster rely on.
type Member interface {
	Key() uuid.UUID
	ID() string
	Send(frame []byte) error
}

type registryEntry struct {
	member Member
	seq    uint64
}

// Registry is the set of live connections, keyed by their stable internal key.
// All methods are safe for concurrent use and hold the lock only for the map
// operation itself.
type Registry struct {
	mu      sync.RWMutex
	members map[uuid.UUID]registryEntry
	seq     uint64
	max     int
}

// NewRegistry returns an empty registry holding at most maxPlayers members.
// A non-positive maxPlayers means no cap.
func NewRegistry(maxPlayers int) *Registry {
	return &Registry{
		members: make(map[uuid.UUID]registryEntry),
		max:     maxPlayers,
	}
}

// Register adds m. The capacity check and the insertion happen under the same
// lock, so concurrent registrations can never overshoot the cap.
func (r *Registry) Register(m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[m.Key()]; ok {
		return fmt.Errorf("member %s already registered", m.Key())
	}
	if r.max > 0 && len(r.members) >= r.max {
		return ghostrelay.ErrCapacityExceeded
	}

	r.seq++
	r.members[m.Key()] = registryEntry{member: m, seq: r.seq}
	return nil
}

// Unregister removes the member with the given key. It reports whether this
// call removed it; later calls are no-ops returning false.
func (r *Registry) Unregister(key uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[key]; !ok {
		return false
	}
	delete(r.members, key)
	return true
}

// Snapshot returns the members registered at the time of the call, in
// registration order. The slice is owned by the caller.
func (r *Registry) Snapshot() []Member {
	r.mu.RLock()
	entries := make([]registryEntry, 0, len(r.members))
	for _, e := range r.members {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b registryEntry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	out := make([]Member, len(entries))
	for i, e := range entries {
		out[i] = e.member
	}
	return out
}

// Get returns the member registered under key.
func (r *Registry) Get(key uuid.UUID) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.members[key]
	return e.member, ok
}

// Len returns the number of registered members.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Cap returns the configured cap, 0 when unbounded.
func (r *Registry) Cap() int {
	if r.max < 0 {
		return 0
	}
	return r.max
}
