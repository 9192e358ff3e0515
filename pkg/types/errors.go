package types

import (
	"errors"
	"fmt"
)

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// without leaking validator internals to the transport layer
var (
	ErrInvalidUserID       = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRole         = errors.New("role must be one of ADMIN, TEACHER, STUDENT, PARENT")
	ErrInvalidEnvelope     = errors.New("invalid event envelope")
	ErrUnknownEvent        = errors.New("unknown event")
	ErrInvalidPayload      = errors.New("invalid event payload")
	ErrInvalidChatID       = errors.New("chat ID must be a non-empty string or number")
	ErrInvalidNotification = errors.New("invalid notification")
	ErrPayloadTooLarge     = errors.New("payload exceeds 64KB limit")
)

// ValidationError reports a malformed inbound event or notification.
// The router drops events that fail with it; the connection stays open.
type ValidationError struct {
	Event string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("validation failed: %v", e.Err)
	}
	return fmt.Sprintf("validation failed for %s: %v", e.Event, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(event string, err error) error {
	return &ValidationError{Event: event, Err: err}
}
