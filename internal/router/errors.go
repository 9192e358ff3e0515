package router

import "errors"

// Router errors. None of them closes the connection: the offending event is
// dropped and the next frame is read as usual.
var (
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrUnsupportedEvent   = errors.New("unsupported event")
	ErrNilNotification    = errors.New("notification is nil")
	ErrCounterUnavailable = errors.New("unread counter unavailable")
)
