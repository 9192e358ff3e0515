package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"schoolhub/internal/presence"
	"schoolhub/internal/router"
	"schoolhub/internal/websocket"
	"schoolhub/internal/websocket/wstest"
	"schoolhub/pkg/types"
)

func newTestHub(t *testing.T, config Config) *Hub {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := websocket.NewRegistry()
	tracker := presence.NewTracker(registry, logger)
	r := router.NewRouter(registry, tracker, nil, router.NewRateLimiter(100), logger)
	return NewHub(registry, tracker, r, config, logger)
}

func startedHub(t *testing.T, config Config) *Hub {
	t.Helper()
	h := newTestHub(t, config)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	t.Cleanup(func() {
		if h.IsRunning() {
			_ = h.Stop()
		}
	})
	return h
}

func activate(t *testing.T, h *Hub, userID string, role types.Role) *wstest.Conn {
	t.Helper()
	conn := wstest.NewConn(userID, role)
	if err := h.Activate(conn); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestHub_StartStop(t *testing.T) {
	h := newTestHub(t, DefaultConfig())

	if err := h.Stop(); !errors.Is(err, ErrHubNotRunning) {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
	if err := h.Activate(wstest.NewConn("u1", types.RoleStudent)); !errors.Is(err, ErrHubNotRunning) {
		t.Errorf("Stopped hub must refuse connections, got %v", err)
	}

	if err := h.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.Start(context.Background()); !errors.Is(err, ErrHubAlreadyRunning) {
		t.Errorf("Expected ErrHubAlreadyRunning, got %v", err)
	}

	conn := activate(t, h, "u1", types.RoleStudent)
	if err := h.Stop(); err != nil {
		t.Fatal(err)
	}
	if !conn.Closed() {
		t.Error("Stop should close every connection")
	}

	// restart after stop
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Hub should restart: %v", err)
	}
	_ = h.Stop()
}

func TestHub_ActivateJoinsUserRoomAndGoesLive(t *testing.T) {
	h := startedHub(t, DefaultConfig())
	observer := activate(t, h, "observer", types.RoleAdmin)
	conn := activate(t, h, "u1", types.RoleStudent)

	if !h.IsRegistered(conn) {
		t.Fatal("Active connection should be registered")
	}
	if got := h.registry.MembersOf(types.UserRoom("u1")); len(got) != 1 || got[0] != conn {
		t.Errorf("Expected conn alone in its user room, got %v", got)
	}
	if live, ok := h.presence.GetLive("u1"); !ok || live != conn {
		t.Error("Activated connection should be the live connection")
	}
	if observer.Count(types.EventUserStatusUpdate) != 1 {
		t.Error("Other connections should see the user come online")
	}

	h.Deactivate(conn)
	if h.IsRegistered(conn) {
		t.Error("Deactivated connection must not be registered")
	}
	if len(h.registry.MembersOf(types.UserRoom("u1"))) != 0 {
		t.Error("User room must be empty after close")
	}
	var update types.UserStatusUpdate
	if !observer.Last(types.EventUserStatusUpdate, &update) || update.Status != types.StatusOffline {
		t.Errorf("Expected offline announcement, got %+v", update)
	}
	if got := h.OnlineUsers(); len(got) != 1 || got[0] != "observer" {
		t.Errorf("Expected only observer online, got %v", got)
	}
}

func TestHub_ReconnectSupersedes(t *testing.T) {
	h := startedHub(t, DefaultConfig())
	observer := activate(t, h, "observer", types.RoleAdmin)
	first := activate(t, h, "u1", types.RoleStudent)
	second := activate(t, h, "u1", types.RoleStudent)

	waitFor(t, "superseded connection to close", first.Closed)
	if second.Closed() {
		t.Error("Fresh connection must stay open")
	}

	// the stale socket's close hook fires after the reconnect
	observer.Reset()
	h.Deactivate(first)

	if live, ok := h.presence.GetLive("u1"); !ok || live != second {
		t.Error("Stale deactivation must not clear the fresh presence")
	}
	if observer.Count(types.EventUserStatusUpdate) != 0 {
		t.Error("Stale deactivation must not announce offline")
	}
	online := h.OnlineUsers()
	if len(online) != 2 || online[0] != "observer" || online[1] != "u1" {
		t.Errorf("Expected one presence record each for observer and u1, got %v", online)
	}
}

func TestHub_StopClosesConnectionsActivatedConcurrently(t *testing.T) {
	h := startedHub(t, DefaultConfig())

	const workers = 50
	conns := make([]*wstest.Conn, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range conns {
		conns[i] = wstest.NewConn(fmt.Sprintf("user-%d", i), types.RoleStudent)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.Activate(conns[i])
		}(i)
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	wg.Wait()

	for i, conn := range conns {
		switch {
		case errs[i] == nil && !conn.Closed():
			t.Errorf("%s was activated but left open after Stop", conn.Identity().UserID)
		case errs[i] != nil && !errors.Is(errs[i], ErrHubNotRunning):
			t.Errorf("Unexpected activation error: %v", errs[i])
		case errs[i] != nil && h.IsRegistered(conn):
			t.Errorf("%s was refused but registered", conn.Identity().UserID)
		}
	}
}

func TestHub_ReconnectKeepsStaleWhenConfigured(t *testing.T) {
	h := startedHub(t, Config{CloseSuperseded: false})
	first := activate(t, h, "u1", types.RoleStudent)
	second := activate(t, h, "u1", types.RoleStudent)

	time.Sleep(20 * time.Millisecond)
	if first.Closed() {
		t.Error("Stale connection should stay open")
	}
	if !h.IsRegistered(first) || len(h.registry.MembersOf(types.UserRoom("u1"))) != 2 {
		t.Error("Stale connection should keep its rooms")
	}

	h.UpdateUnreadCount(context.Background(), "u1", 3)
	if first.Count(types.EventUnreadCount) != 0 || second.Count(types.EventUnreadCount) != 1 {
		t.Error("Only the live connection is the presence target")
	}
}

func TestHub_HandleRoutesAndDrops(t *testing.T) {
	h := startedHub(t, DefaultConfig())
	a := activate(t, h, "a", types.RoleStudent)
	b := activate(t, h, "b", types.RoleStudent)

	ctx := context.Background()
	h.Handle(ctx, a, []byte(`{"event":"join-chat","data":{"chatId":1}}`))
	h.Handle(ctx, b, []byte(`{"event":"join-chat","data":{"chatId":1}}`))
	h.Handle(ctx, a, []byte(`garbage`))
	h.Handle(ctx, a, []byte(`{"event":"message-sent","data":{"chatId":1,"message":{"text":"hi"}}}`))

	if b.Count(types.EventNewMessage) != 1 {
		t.Error("Valid event after a malformed one should still be routed")
	}
	if a.Closed() {
		t.Error("Malformed events must not close the connection")
	}
}

func TestHub_Dispatcher(t *testing.T) {
	h := startedHub(t, DefaultConfig())
	teacher := activate(t, h, "t1", types.RoleTeacher)
	h.Handle(context.Background(), teacher, []byte(`{"event":"join-notifications","data":{"roles":["TEACHER"]}}`))

	ctx := context.Background()
	n := &types.Notification{ID: "n1", Type: "INFO", Title: "hello", TargetRoles: []types.Role{types.RoleTeacher}}

	if got := h.BroadcastNotification(ctx, n); got != 1 {
		t.Errorf("Expected 1 recipient, got %d", got)
	}
	if !h.SendNotificationToUser(ctx, "t1", n) {
		t.Error("Expected direct delivery to online user")
	}
	if h.SendNotificationToUser(ctx, "offline", n) {
		t.Error("Offline user must be a no-op")
	}
	if !h.UpdateUnreadCount(ctx, "t1", 2) {
		t.Error("Expected unread-count delivery")
	}
	if teacher.Count(types.EventNewNotification) != 2 {
		t.Errorf("Expected 2 notifications, got %d", teacher.Count(types.EventNewNotification))
	}
}
