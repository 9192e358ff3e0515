package interfaces

import "schoolhub/pkg/types"

// Connection represents one authenticated client channel
// ARCHITECTURAL DISCOVERY: Pure abstraction without transport details keeps
// routing and presence testable without real sockets
type Connection interface {
	// ID returns the opaque connection handle
	ID() string

	// Identity returns the (userId, role) established at handshake
	Identity() types.Identity

	// Send enqueues an already encoded frame without blocking
	// FUNCTIONAL DISCOVERY: One slow peer must never delay fan-out to others,
	// so implementations drop the frame when their buffer is full
	Send(frame []byte) error

	// Close closes the connection and cleans up resources
	Close() error
}
