// Package presence keeps one canonical live connection per user and
// announces online/offline transitions to everyone else.
package presence

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"schoolhub/internal/websocket"
	"schoolhub/pkg/interfaces"
	"schoolhub/pkg/types"
)

// Tracker maps userID to its live connection
// ARCHITECTURAL DISCOVERY: Presence has its own lock, never held while the
// registry lock is taken, so announcements cannot deadlock with fan-out
type Tracker struct {
	// announceMu orders each map change together with its announcement, so
	// observers see online/offline for one user in the order they happened.
	// Sends are non-blocking enqueues, so holding it across Deliver is short.
	announceMu sync.Mutex

	mu       sync.RWMutex
	live     map[string]interfaces.Connection
	registry *websocket.Registry
	logger   *zap.Logger
}

// NewTracker creates a tracker announcing through registry
func NewTracker(registry *websocket.Registry, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		live:     make(map[string]interfaces.Connection),
		registry: registry,
		logger:   logger.Named("presence"),
	}
}

// SetLive records conn as userID's live connection, replacing any previous
// one, and announces online to every other connection. It returns the
// superseded connection, or nil.
func (t *Tracker) SetLive(userID string, conn interfaces.Connection) interfaces.Connection {
	t.announceMu.Lock()
	defer t.announceMu.Unlock()

	t.mu.Lock()
	previous := t.live[userID]
	t.live[userID] = conn
	t.mu.Unlock()

	if previous == conn {
		previous = nil
	}
	t.announce(conn, types.StatusOnline)
	return previous
}

// Clear removes the mapping only if conn is still the recorded connection,
// so a stale disconnect cannot erase a fresher reconnect. It announces
// offline and returns true when the mapping was removed.
func (t *Tracker) Clear(userID string, conn interfaces.Connection) bool {
	t.announceMu.Lock()
	defer t.announceMu.Unlock()

	t.mu.Lock()
	current, exists := t.live[userID]
	if !exists || current != conn {
		t.mu.Unlock()
		return false
	}
	delete(t.live, userID)
	t.mu.Unlock()

	t.announce(conn, types.StatusOffline)
	return true
}

// GetLive returns the live connection of userID
func (t *Tracker) GetLive(userID string) (interfaces.Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	conn, exists := t.live[userID]
	return conn, exists
}

// Online returns the sorted user IDs that currently have a live connection.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	users := make([]string, 0, len(t.live))
	for userID := range t.live {
		users = append(users, userID)
	}
	t.mu.RUnlock()

	sort.Strings(users)
	return users
}

// Count returns how many users are online.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.live)
}

// Announce sends user-status-update for conn's user to every other registered
// connection and returns how many received it.
func (t *Tracker) Announce(conn interfaces.Connection, status string) int {
	t.announceMu.Lock()
	defer t.announceMu.Unlock()
	return t.announce(conn, status)
}

func (t *Tracker) announce(conn interfaces.Connection, status string) int {
	userID := conn.Identity().UserID
	frame, err := types.Frame{
		Event: types.EventUserStatusUpdate,
		Data:  types.UserStatusUpdate{UserID: userID, Status: status},
	}.Encode()
	if err != nil {
		t.logger.Error("failed to encode status update", zap.Error(err))
		return 0
	}

	delivered := websocket.Deliver(t.logger, types.EventUserStatusUpdate, frame, t.registry.AllExcept(conn))
	t.logger.Debug("presence announced",
		zap.String("user_id", userID),
		zap.String("status", status),
		zap.Int("recipients", delivered))
	return delivered
}
