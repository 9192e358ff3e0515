package router

import (
	"go.uber.org/zap"

	"schoolhub/pkg/interfaces"
	"schoolhub/pkg/types"
)

// BroadcastNotification delivers new-notification to the union of the
// notification's role, user and class rooms and returns the recipient count
// ARCHITECTURAL DISCOVERY: Rooms are resolved at delivery time; a connection
// that sits in several target rooms receives exactly one frame
func (r *Router) BroadcastNotification(notification *types.Notification) int {
	if notification == nil {
		r.logger.Warn("broadcast skipped", zap.Error(ErrNilNotification))
		return 0
	}

	recipients := r.registry.Resolve(notification.TargetRooms()...)
	delivered := r.deliver(types.EventNewNotification, notification, recipients)

	r.logger.Info("notification broadcast",
		zap.String("notification_id", notification.ID),
		zap.String("type", notification.Type),
		zap.Int("resolved", len(recipients)),
		zap.Int("delivered", delivered))
	return delivered
}

// SendNotificationToUser delivers new-notification to the live connection of
// userID only; an offline user is a silent no-op.
func (r *Router) SendNotificationToUser(userID string, notification *types.Notification) bool {
	if notification == nil {
		return false
	}
	conn, online := r.presence.GetLive(userID)
	if !online {
		r.logger.Debug("direct notification skipped, user offline",
			zap.String("user_id", userID),
			zap.String("notification_id", notification.ID))
		return false
	}
	return r.deliver(types.EventNewNotification, notification, []interfaces.Connection{conn}) == 1
}

// UpdateUnreadCount pushes unread-count to the live connection of userID.
func (r *Router) UpdateUnreadCount(userID string, count int) bool {
	conn, online := r.presence.GetLive(userID)
	if !online {
		return false
	}
	return r.deliver(types.EventUnreadCount, types.UnreadCount{Count: count}, []interfaces.Connection{conn}) == 1
}
