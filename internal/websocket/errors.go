package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full, frame dropped")
)

// Registry-related errors
var (
	ErrNilConnection           = errors.New("connection cannot be nil")
	ErrConnectionNotRegistered = errors.New("connection is not registered")
	ErrInvalidRoom             = errors.New("room name cannot be empty")
)

// Handler-related errors
var (
	ErrOriginNotAllowed = errors.New("origin not allowed")
)
