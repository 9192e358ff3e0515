package interfaces

import (
	"context"

	"schoolhub/pkg/types"
)

// NotificationDispatcher is the boundary the request layer calls to push
// notifications into the hub. Every method is best-effort: the return value
// acknowledges what was handed to live connections, never an error.
type NotificationDispatcher interface {
	// BroadcastNotification delivers new-notification to the deduplicated union
	// of the notification's role, user and class rooms; returns the recipient count
	BroadcastNotification(ctx context.Context, notification *types.Notification) int

	// SendNotificationToUser delivers only when the user has a live connection
	SendNotificationToUser(ctx context.Context, userID string, notification *types.Notification) bool

	// UpdateUnreadCount pushes unread-count to the user's live connection, if any
	UpdateUnreadCount(ctx context.Context, userID string, count int) bool
}
