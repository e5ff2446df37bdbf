package realtime

import (
	"strconv"
	"strings"
	"sync"
)

// Registry maps live connection ids to the room each connection most
// recently subscribed to, together with the room-scoped destinations it
// holds there.  It is safe for concurrent use and holds no business rules;
// the disconnect path relies on it to find the room to clean up.  Entries
// are lost on restart.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]uint64
	subs  map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]uint64),
		subs:  make(map[string]map[string]struct{}),
	}
}

// Map records that conn is in roomID.  Empty ids are ignored.
func (r *Registry) Map(conn string, roomID uint64) {
	if conn == "" || roomID == 0 {
		return
	}
	r.mu.Lock()
	r.mapLocked(conn, roomID)
	r.mu.Unlock()
}

func (r *Registry) mapLocked(conn string, roomID uint64) {
	if cur, ok := r.rooms[conn]; !ok || cur != roomID {
		r.subs[conn] = make(map[string]struct{})
	}
	r.rooms[conn] = roomID
}

// Subscribe maps conn to roomID and records destination as one of its
// subscriptions in that room.  Subscribing in another room replaces the
// mapping and forgets the old room's destinations.
func (r *Registry) Subscribe(conn, destination string, roomID uint64) {
	if conn == "" || roomID == 0 {
		return
	}
	r.mu.Lock()
	r.mapLocked(conn, roomID)
	r.subs[conn][normalizeDestination(destination)] = struct{}{}
	r.mu.Unlock()
}

// Unsubscribe drops destination from conn's subscriptions and unmaps conn
// once none remain in its room.  It reports whether conn was unmapped.
// Destinations conn does not hold are ignored.
func (r *Registry) Unsubscribe(conn, destination string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	held := r.subs[conn]
	key := normalizeDestination(destination)
	if _, ok := held[key]; !ok {
		return false
	}
	delete(held, key)
	if len(held) > 0 {
		return false
	}
	delete(r.rooms, conn)
	delete(r.subs, conn)
	return true
}

// Lookup returns the room mapped to conn, if any.
func (r *Registry) Lookup(conn string) (uint64, bool) {
	r.mu.RLock()
	id, ok := r.rooms[conn]
	r.mu.RUnlock()
	return id, ok
}

// Unmap removes conn.  Removing an unknown connection is a no-op.
func (r *Registry) Unmap(conn string) {
	r.mu.Lock()
	delete(r.rooms, conn)
	delete(r.subs, conn)
	r.mu.Unlock()
}

// Snapshot copies the current mapping.
func (r *Registry) Snapshot() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.rooms))
	for k, v := range r.rooms {
		out[k] = v
	}
	return out
}

// Len returns the number of mapped connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ParseRoomDestination extracts the room id from a subscription
// destination.  Accepted shapes are room/{id} and room/{id}/{anything},
// optionally under /topic.  Anything else yields ok=false.
func ParseRoomDestination(dest string) (uint64, bool) {
	parts := strings.Split(normalizeDestination(dest), "/")
	if (len(parts) != 2 && len(parts) != 3) || parts[0] != "room" {
		return 0, false
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func normalizeDestination(dest string) string {
	return strings.TrimPrefix(strings.Trim(dest, "/"), "topic/")
}
