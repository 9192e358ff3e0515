package interfaces

import (
	"context"
	"time"

	"schoolhub/pkg/types"
)

// NotificationStore persists notification state on behalf of the request layer.
// The hub itself only ever reads unread counts through UnreadCounter.
type NotificationStore interface {
	UnreadCounter

	// CreateNotification stores a notification and one unread row per recipient
	CreateNotification(ctx context.Context, notification *types.Notification, recipientIDs []string) error

	// GetNotification retrieves a notification by ID
	GetNotification(ctx context.Context, notificationID string) (*types.Notification, error)

	// ListUserNotifications returns a recipient's notifications, newest first
	ListUserNotifications(ctx context.Context, userID string, limit, offset int) ([]*types.UserNotification, error)

	// MarkNotificationRead marks one notification read for one recipient
	MarkNotificationRead(ctx context.Context, userID, notificationID string, readAt time.Time) error

	// HealthCheck verifies database connectivity and schema
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}

// UnreadCounter answers get-unread-count requests.
type UnreadCounter interface {
	CountUnread(ctx context.Context, userID string) (int, error)
}
