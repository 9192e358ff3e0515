package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrUnauthorized         = errors.New("unauthorized access")
)
