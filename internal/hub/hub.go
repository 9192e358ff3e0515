// Package hub owns the lifecycle of every live connection and is the
// in-process notification dispatcher used by the request layer.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"schoolhub/internal/presence"
	"schoolhub/internal/router"
	"schoolhub/internal/websocket"
	"schoolhub/pkg/interfaces"
	"schoolhub/pkg/types"
)

// Config tunes hub behaviour.
type Config struct {
	// CloseSuperseded closes the previous connection of a user that reconnects
	CloseSuperseded bool
	// CleanupInterval is how often idle rate-limit state is purged
	CleanupInterval time.Duration
}

// DefaultConfig returns the production hub settings.
func DefaultConfig() Config {
	return Config{
		CloseSuperseded: true,
		CleanupInterval: 5 * time.Minute,
	}
}

// Hub coordinates connection activation, event routing and notification delivery
// ARCHITECTURAL DISCOVERY: Central coordination point between the transport
// (websocket.Handler) and the room/presence state; the transport only sees
// the websocket.Lifecycle interface
type Hub struct {
	registry *websocket.Registry
	presence *presence.Tracker
	router   *router.Router
	config   Config
	logger   *zap.Logger

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	mu              sync.RWMutex
	running         bool
	shutdownChannel chan struct{}
	done            chan struct{}
}

var (
	_ websocket.Lifecycle               = (*Hub)(nil)
	_ interfaces.NotificationDispatcher = (*Hub)(nil)
)

// NewHub creates a new hub
func NewHub(registry *websocket.Registry, tracker *presence.Tracker, r *router.Router, config Config, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}
	return &Hub{
		registry: registry,
		presence: tracker,
		router:   r,
		config:   config,
		logger:   logger.Named("hub"),
	}
}

// Start begins background maintenance
// FUNCTIONAL DISCOVERY: Single maintenance goroutine; event handling itself
// runs on each connection's read goroutine to keep per-sender FIFO order
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	h.logger.Info("starting hub", zap.Duration("cleanup_interval", h.config.CleanupInterval))
	go h.run(ctx, h.shutdownChannel, h.done)
	return nil
}

// Stop halts maintenance and closes every registered connection
// TECHNICAL DISCOVERY: Connections are closed outside the hub lock because
// their close hooks call back into Deactivate
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	<-done

	conns := h.registry.All()
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			h.logger.Debug("close during shutdown failed",
				zap.String("conn_id", conn.ID()),
				zap.Error(err))
		}
	}
	h.logger.Info("hub stopped", zap.Int("closed_connections", len(conns)))
	return nil
}

// IsRunning reports whether the hub accepts connections.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.cleanup()
		case <-shutdown:
			return
		case <-ctx.Done():
			h.logger.Info("hub context cancelled")
			return
		}
	}
}

func (h *Hub) cleanup() {
	removed := 0
	if limiter := h.router.Limiter(); limiter != nil {
		removed = limiter.Cleanup()
	}
	stats := h.registry.GetStats()
	h.logger.Debug("hub maintenance",
		zap.Int("rate_limit_entries_removed", removed),
		zap.Int("connections", stats["total_connections"]),
		zap.Int("rooms", stats["active_rooms"]),
		zap.Int("online_users", h.presence.Count()))
}

// Activate registers conn, joins its user room and makes it the live
// connection of its user
// ARCHITECTURAL DISCOVERY: SetLive happens only after Join so that every
// presence target is always a registered connection
func (h *Hub) Activate(conn interfaces.Connection) error {
	if conn == nil {
		return websocket.ErrNilConnection
	}
	// held until the connection is registered so Stop's snapshot cannot miss it
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	identity := conn.Identity()
	if err := h.registry.Register(conn); err != nil {
		return fmt.Errorf("register connection: %w", err)
	}
	if err := h.registry.Join(conn, types.UserRoom(identity.UserID)); err != nil {
		h.registry.RemoveConnection(conn)
		return fmt.Errorf("join user room: %w", err)
	}

	previous := h.presence.SetLive(identity.UserID, conn)
	if previous != nil && h.config.CloseSuperseded {
		go h.closeSuperseded(previous)
	}

	h.logger.Info("connection activated",
		zap.String("conn_id", conn.ID()),
		zap.String("user_id", identity.UserID),
		zap.String("role", string(identity.Role)),
		zap.Bool("superseded_previous", previous != nil))
	return nil
}

func (h *Hub) closeSuperseded(conn interfaces.Connection) {
	var err error
	if wsConn, ok := conn.(*websocket.Connection); ok {
		err = wsConn.CloseWithReason(websocket.CloseSuperseded, "superseded by a newer connection")
	} else {
		err = conn.Close()
	}
	if err != nil {
		h.logger.Debug("closing superseded connection failed",
			zap.String("conn_id", conn.ID()),
			zap.Error(err))
	}
}

// Handle routes one inbound frame. Failures never close the connection.
func (h *Hub) Handle(ctx context.Context, conn interfaces.Connection, raw []byte) {
	err := h.router.HandleMessage(ctx, conn, raw)
	if err == nil {
		return
	}

	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, router.ErrRateLimitExceeded):
		h.logger.Debug("event dropped",
			zap.String("conn_id", conn.ID()),
			zap.String("user_id", conn.Identity().UserID),
			zap.Error(err))
	default:
		h.logger.Warn("event handling failed",
			zap.String("conn_id", conn.ID()),
			zap.String("user_id", conn.Identity().UserID),
			zap.Error(err))
	}
}

// Deactivate clears presence before removing membership, mirroring Activate.
func (h *Hub) Deactivate(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	userID := conn.Identity().UserID
	wentOffline := h.presence.Clear(userID, conn)
	h.registry.RemoveConnection(conn)
	if limiter := h.router.Limiter(); limiter != nil {
		limiter.Forget(conn.ID())
	}

	h.logger.Info("connection deactivated",
		zap.String("conn_id", conn.ID()),
		zap.String("user_id", userID),
		zap.Bool("went_offline", wentOffline))
}

// BroadcastNotification delivers new-notification to every connection in
// the notification's target rooms.
func (h *Hub) BroadcastNotification(_ context.Context, notification *types.Notification) int {
	return h.router.BroadcastNotification(notification)
}

// SendNotificationToUser delivers to the live connection of userID only.
func (h *Hub) SendNotificationToUser(_ context.Context, userID string, notification *types.Notification) bool {
	return h.router.SendNotificationToUser(userID, notification)
}

// UpdateUnreadCount pushes unread-count to the live connection of userID.
func (h *Hub) UpdateUnreadCount(_ context.Context, userID string, count int) bool {
	return h.router.UpdateUnreadCount(userID, count)
}

// Stats reports registry and presence counters for health endpoints.
func (h *Hub) Stats() map[string]int {
	stats := h.registry.GetStats()
	stats["online_users"] = h.presence.Count()
	return stats
}

// OnlineUsers returns the sorted IDs of users with a live connection.
func (h *Hub) OnlineUsers() []string {
	return h.presence.Online()
}

// IsRegistered reports whether conn is currently registered.
func (h *Hub) IsRegistered(conn interfaces.Connection) bool {
	return h.registry.IsRegistered(conn)
}
