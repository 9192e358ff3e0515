// Package router turns decoded client events into registry and presence
// operations, and fans notifications out to rooms.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"schoolhub/internal/presence"
	"schoolhub/internal/websocket"
	"schoolhub/pkg/interfaces"
	"schoolhub/pkg/types"
)

// Router dispatches inbound events for every connection
// ARCHITECTURAL DISCOVERY: Pure routing logic without connection handling;
// delivery goes through websocket.Deliver so each recipient fails alone
type Router struct {
	registry *websocket.Registry
	presence *presence.Tracker
	counter  interfaces.UnreadCounter
	limiter  *RateLimiter
	chat     *ChatRelay
	logger   *zap.Logger
	now      func() time.Time
}

// NewRouter creates a router. counter and limiter are optional: without a
// counter get-unread-count answers 0, without a limiter nothing is throttled.
func NewRouter(registry *websocket.Registry, tracker *presence.Tracker, counter interfaces.UnreadCounter, limiter *RateLimiter, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("router")

	r := &Router{
		registry: registry,
		presence: tracker,
		counter:  counter,
		limiter:  limiter,
		logger:   logger,
		now:      time.Now,
	}
	r.chat = &ChatRelay{registry: registry, logger: logger, now: r.timestamp}
	return r
}

// Limiter returns the rate limiter, or nil when events are not throttled.
func (r *Router) Limiter() *RateLimiter {
	return r.limiter
}

// HandleMessage decodes one raw frame from conn and dispatches it
// FUNCTIONAL DISCOVERY: Rate limit is charged before decoding so floods of
// garbage frames are throttled too
func (r *Router) HandleMessage(ctx context.Context, conn interfaces.Connection, raw []byte) error {
	if r.limiter != nil && !r.limiter.Allow(conn.ID()) {
		return ErrRateLimitExceeded
	}

	event, err := types.DecodeInbound(raw)
	if err != nil {
		return err
	}
	return r.HandleEvent(ctx, conn, event)
}

// HandleEvent applies a decoded event on behalf of conn.
func (r *Router) HandleEvent(ctx context.Context, conn interfaces.Connection, event types.InboundEvent) error {
	switch e := event.(type) {
	case types.JoinChat:
		return r.chat.Join(conn, e.ChatID)
	case types.LeaveChat:
		r.chat.Leave(conn, e.ChatID)
		return nil
	case types.MessageSent:
		r.chat.Send(conn, e)
		return nil
	case types.MessageRead:
		r.chat.Read(conn, e)
		return nil
	case types.Typing:
		r.chat.Typing(conn, e)
		return nil
	case types.UserOnline:
		r.presence.Announce(conn, types.StatusOnline)
		return nil
	case types.JoinNotifications:
		return r.joinNotifications(conn, e)
	case types.MarkNotificationRead:
		r.markNotificationRead(conn, e)
		return nil
	case types.GetUnreadCount:
		r.sendUnreadCount(ctx, conn)
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedEvent, event)
	}
}

// joinNotifications always includes the user room, so a client that
// declares nothing useful still receives its direct notifications
func (r *Router) joinNotifications(conn interfaces.Connection, e types.JoinNotifications) error {
	rooms := make([]string, 0, len(e.Roles)+len(e.ClassIDs)+1)
	for _, role := range e.Roles {
		rooms = append(rooms, types.RoleRoom(role))
	}
	for _, classID := range e.ClassIDs {
		rooms = append(rooms, types.ClassRoom(classID.String()))
	}
	rooms = append(rooms, types.UserRoom(conn.Identity().UserID))

	for _, room := range rooms {
		if err := r.registry.Join(conn, room); err != nil {
			return err
		}
	}
	r.logger.Debug("joined notification rooms",
		zap.String("conn_id", conn.ID()),
		zap.Strings("rooms", rooms))
	return nil
}

// markNotificationRead is a broadcast-only read receipt; persistence belongs
// to the REST boundary
func (r *Router) markNotificationRead(conn interfaces.Connection, e types.MarkNotificationRead) {
	r.deliver(types.EventNotificationRead, types.NotificationRead{
		NotificationID: e.NotificationID,
		ReadBy:         conn.Identity().UserID,
		ReadAt:         r.timestamp(),
	}, r.registry.AllExcept(conn))
}

func (r *Router) sendUnreadCount(ctx context.Context, conn interfaces.Connection) {
	count, err := r.unreadCount(ctx, conn.Identity().UserID)
	if err != nil && !errors.Is(err, ErrCounterUnavailable) {
		r.logger.Warn("unread count lookup failed",
			zap.String("user_id", conn.Identity().UserID),
			zap.Error(err))
	}
	r.deliver(types.EventUnreadCount, types.UnreadCount{Count: count}, []interfaces.Connection{conn})
}

// unreadCount returns 0 alongside any error so callers can always reply.
func (r *Router) unreadCount(ctx context.Context, userID string) (int, error) {
	if r.counter == nil {
		return 0, ErrCounterUnavailable
	}
	count, err := r.counter.CountUnread(ctx, userID)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// deliver encodes once and fans out to conns.
func (r *Router) deliver(event string, data any, conns []interfaces.Connection) int {
	frame, err := types.Frame{Event: event, Data: data}.Encode()
	if err != nil {
		r.logger.Error("failed to encode frame", zap.String("event", event), zap.Error(err))
		return 0
	}
	return websocket.Deliver(r.logger, event, frame, conns)
}

func (r *Router) timestamp() string {
	return r.now().UTC().Format(time.RFC3339)
}
