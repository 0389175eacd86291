// Package rooms tracks the logical rooms a client has joined so that joins
// survive reconnects.
package rooms

import (
	"slices"
	"sync"

	"github.com/hay-kot/pgchat/internal/core/chat"
)

// Registry is the set of joined rooms plus, per room, the connection cycle in
// which a join_room was last emitted. It is safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	rooms     map[chat.RoomID]uint64
	connected bool
	cycle     uint64
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[chat.RoomID]uint64)}
}

// Join registers a room. It returns true when a join_room intent should be
// emitted now: the link is up and the room has not been joined in the current
// cycle. Joins while offline are replayed on the next Connected transition.
func (r *Registry) Join(id chat.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	joinedIn, ok := r.rooms[id]
	if ok && (!r.connected || joinedIn == r.cycle) {
		return false
	}
	if !r.connected {
		r.rooms[id] = 0
		return false
	}
	r.rooms[id] = r.cycle
	return true
}

// Leave removes a room. It returns true when a leave_room intent should be
// emitted: the room was registered and the link is up.
func (r *Registry) Leave(id chat.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[id]; !ok {
		return false
	}
	delete(r.rooms, id)
	return r.connected
}

// Replay marks the link connected for the given cycle and returns every
// registered room not yet joined in that cycle, sorted. Calling Replay twice
// for the same cycle returns nothing the second time.
func (r *Registry) Replay(cycle uint64) []chat.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connected = true
	r.cycle = cycle

	var out []chat.RoomID
	for id, joinedIn := range r.rooms {
		if joinedIn != cycle {
			r.rooms[id] = cycle
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Disconnected marks the link down. Registered rooms are kept.
func (r *Registry) Disconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = false
}

// Contains reports whether a room is registered.
func (r *Registry) Contains(id chat.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[id]
	return ok
}

// Rooms returns the registered rooms, sorted.
func (r *Registry) Rooms() []chat.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]chat.RoomID, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Reset forgets every room. Used on logout.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = make(map[chat.RoomID]uint64)
	r.connected = false
}
