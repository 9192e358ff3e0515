package auth

import (
	"errors"
	"fmt"
)

// ErrAuthentication is the root of every credential failure. The websocket
// handler maps it to HTTP 401 before any connection state exists.
var ErrAuthentication = errors.New("authentication failed")

var (
	ErrTokenRequired = fmt.Errorf("%w: authentication token required", ErrAuthentication)
	ErrInvalidToken  = fmt.Errorf("%w: invalid authentication token", ErrAuthentication)
	ErrMissingSecret = errors.New("authentication secret cannot be empty")
)
