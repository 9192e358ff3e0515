package websocket

import (
	"sort"
	"sync"

	"schoolhub/pkg/interfaces"
	"schoolhub/pkg/types"
)

// Registry tracks which live connections belong to which rooms
// ARCHITECTURAL DISCOVERY: Pure membership management without business logic;
// rooms exist only as keys of the membership map and vanish when empty
type Registry struct {
	// TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy fan-out
	mu sync.RWMutex
	// room -> members
	rooms map[string]map[interfaces.Connection]struct{}
	// registered connection -> joined rooms
	conns map[interfaces.Connection]map[string]struct{}
}

// NewRegistry creates a new membership registry
// FUNCTIONAL DISCOVERY: Initialize all maps to prevent nil map writes during concurrent operations
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[interfaces.Connection]struct{}),
		conns: make(map[interfaces.Connection]map[string]struct{}),
	}
}

// Register admits an authenticated connection. Registering twice is a no-op.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn]; !exists {
		r.conns[conn] = make(map[string]struct{})
	}
	return nil
}

// Join adds conn to room. Idempotent; unknown or removed connections are refused
// so a handler still running after disconnect cannot resurrect membership.
func (r *Registry) Join(conn interfaces.Connection, room string) error {
	if conn == nil {
		return ErrNilConnection
	}
	if room == "" {
		return ErrInvalidRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	joined, registered := r.conns[conn]
	if !registered {
		return ErrConnectionNotRegistered
	}

	members, exists := r.rooms[room]
	if !exists {
		members = make(map[interfaces.Connection]struct{})
		r.rooms[room] = members
	}
	members[conn] = struct{}{}
	joined[room] = struct{}{}
	return nil
}

// Leave removes conn from room. Idempotent.
func (r *Registry) Leave(conn interfaces.Connection, room string) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(conn, room)
}

func (r *Registry) leaveLocked(conn interfaces.Connection, room string) {
	if members, exists := r.rooms[room]; exists {
		delete(members, conn)
		// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if joined, exists := r.conns[conn]; exists {
		delete(joined, room)
	}
}

// RemoveConnection drops conn from every room and unregisters it.
// Returns false when conn was not registered.
func (r *Registry) RemoveConnection(conn interfaces.Connection) bool {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	joined, exists := r.conns[conn]
	if !exists {
		return false
	}
	for room := range joined {
		r.leaveLocked(conn, room)
	}
	delete(r.conns, conn)
	return true
}

// MembersOf returns the live members of room; empty when nobody is in it
func (r *Registry) MembersOf(room string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	result := make([]interfaces.Connection, 0, len(members))
	for conn := range members {
		result = append(result, conn)
	}
	return result
}

// Resolve returns the union of the members of rooms, each connection once
// ARCHITECTURAL DISCOVERY: One read lock over the whole union gives a consistent
// snapshot, so a connection in two target rooms is delivered to exactly once
func (r *Registry) Resolve(rooms ...string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[interfaces.Connection]struct{})
	var result []interfaces.Connection
	for _, room := range rooms {
		for conn := range r.rooms[room] {
			if _, dup := seen[conn]; dup {
				continue
			}
			seen[conn] = struct{}{}
			result = append(result, conn)
		}
	}
	return result
}

// All returns every registered connection.
func (r *Registry) All() []interfaces.Connection {
	return r.AllExcept(nil)
}

// AllExcept returns every registered connection other than except
func (r *Registry) AllExcept(except interfaces.Connection) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]interfaces.Connection, 0, len(r.conns))
	for conn := range r.conns {
		if conn != except {
			result = append(result, conn)
		}
	}
	return result
}

// IsRegistered reports whether conn is currently registered.
func (r *Registry) IsRegistered(conn interfaces.Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.conns[conn]
	return exists
}

// RoomsOf returns the sorted rooms conn has joined.
func (r *Registry) RoomsOf(conn interfaces.Connection) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := r.conns[conn]
	rooms := make([]string, 0, len(joined))
	for room := range joined {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chatRooms := 0
	for room := range r.rooms {
		if types.IsChatRoom(room) {
			chatRooms++
		}
	}

	return map[string]int{
		"total_connections": len(r.conns),
		"active_rooms":      len(r.rooms),
		"chat_rooms":        chatRooms,
	}
}
