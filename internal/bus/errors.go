package bus

import "errors"

// Bus errors
var (
	ErrMissingURL      = errors.New("redis url is required")
	ErrMissingChannel  = errors.New("redis channel is required")
	ErrUnknownOp       = errors.New("unknown dispatch operation")
	ErrInvalidCommand  = errors.New("invalid dispatch command")
	ErrNilNotification = errors.New("notification is required")
)
