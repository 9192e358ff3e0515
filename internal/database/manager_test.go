package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	dbconfig "schoolhub/pkg/database"
	"schoolhub/pkg/interfaces"
	"schoolhub/pkg/types"
)

// Test database setup helpers
func setupTestDB(t *testing.T) *Manager {
	t.Helper()
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	manager, err := NewManager(config, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	manager.retryDelay = time.Millisecond
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func testNotification(id string, createdAt time.Time) *types.Notification {
	return &types.Notification{
		ID:          id,
		Type:        "ANNOUNCEMENT",
		Title:       "Notice " + id,
		Message:     "School closes early",
		TargetRoles: []types.Role{types.RoleParent},
		TargetUsers: []string{"u1"},
		Payload:     json.RawMessage(`{"link":"/notices/1"}`),
		CreatedBy:   "admin1",
		CreatedAt:   createdAt,
	}
}

func TestManager_CreateAndGetNotification(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	created := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	n := testNotification("n1", created)
	if err := m.CreateNotification(ctx, n, []string{"u1", "u2"}); err != nil {
		t.Fatalf("CreateNotification failed: %v", err)
	}

	got, err := m.GetNotification(ctx, "n1")
	if err != nil {
		t.Fatalf("GetNotification failed: %v", err)
	}
	if got.Title != n.Title || got.Priority != types.PriorityNormal {
		t.Errorf("Unexpected notification %+v", got)
	}
	if len(got.TargetRoles) != 1 || got.TargetRoles[0] != types.RoleParent {
		t.Errorf("Expected target roles [PARENT], got %v", got.TargetRoles)
	}
	if len(got.TargetClasses) != 0 {
		t.Errorf("Expected no target classes, got %v", got.TargetClasses)
	}
	if string(got.Payload) != `{"link":"/notices/1"}` {
		t.Errorf("Payload not preserved: %s", got.Payload)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("Expected created_at %v, got %v", created, got.CreatedAt)
	}

	if _, err := m.GetNotification(ctx, "missing"); !errors.Is(err, interfaces.ErrNotificationNotFound) {
		t.Errorf("Expected ErrNotificationNotFound, got %v", err)
	}
}

func TestManager_UnreadCountsAndMarkRead(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 1; i <= 3; i++ {
		n := testNotification(fmt.Sprintf("n%d", i), now.Add(time.Duration(i)*time.Minute))
		// duplicate recipient collapses onto one row
		if err := m.CreateNotification(ctx, n, []string{"u1", "u1", "u2"}); err != nil {
			t.Fatalf("CreateNotification failed: %v", err)
		}
	}

	count, err := m.CountUnread(ctx, "u1")
	if err != nil || count != 3 {
		t.Fatalf("Expected 3 unread, got %d (%v)", count, err)
	}

	if err := m.MarkNotificationRead(ctx, "u1", "n2", now); err != nil {
		t.Fatalf("MarkNotificationRead failed: %v", err)
	}
	// marking twice is not an error
	if err := m.MarkNotificationRead(ctx, "u1", "n2", now.Add(time.Hour)); err != nil {
		t.Fatalf("Second MarkNotificationRead failed: %v", err)
	}

	if count, _ := m.CountUnread(ctx, "u1"); count != 2 {
		t.Errorf("Expected 2 unread for u1, got %d", count)
	}
	if count, _ := m.CountUnread(ctx, "u2"); count != 3 {
		t.Errorf("Expected u2 unaffected with 3 unread, got %d", count)
	}
	if count, _ := m.CountUnread(ctx, "nobody"); count != 0 {
		t.Errorf("Expected 0 unread for unknown user, got %d", count)
	}

	err = m.MarkNotificationRead(ctx, "u3", "n1", now)
	if !errors.Is(err, interfaces.ErrNotificationNotFound) {
		t.Errorf("Expected ErrNotificationNotFound for non-recipient, got %v", err)
	}
}

func TestManager_ListUserNotifications(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		n := testNotification(fmt.Sprintf("n%d", i), base.Add(time.Duration(i)*time.Hour))
		if err := m.CreateNotification(ctx, n, []string{"u1"}); err != nil {
			t.Fatalf("CreateNotification failed: %v", err)
		}
	}
	readAt := base.Add(10 * time.Hour)
	if err := m.MarkNotificationRead(ctx, "u1", "n5", readAt); err != nil {
		t.Fatalf("MarkNotificationRead failed: %v", err)
	}

	page, err := m.ListUserNotifications(ctx, "u1", 2, 0)
	if err != nil {
		t.Fatalf("ListUserNotifications failed: %v", err)
	}
	if len(page) != 2 || page[0].ID != "n5" || page[1].ID != "n4" {
		t.Fatalf("Expected newest first [n5 n4], got %v", ids(page))
	}
	if !page[0].IsRead || page[0].ReadAt == nil || !page[0].ReadAt.Equal(readAt) {
		t.Errorf("Expected n5 read at %v, got %+v", readAt, page[0])
	}
	if page[1].IsRead || page[1].ReadAt != nil {
		t.Errorf("Expected n4 unread, got %+v", page[1])
	}

	rest, err := m.ListUserNotifications(ctx, "u1", 10, 2)
	if err != nil {
		t.Fatalf("ListUserNotifications failed: %v", err)
	}
	if len(rest) != 3 || rest[2].ID != "n1" {
		t.Errorf("Expected [n3 n2 n1], got %v", ids(rest))
	}

	none, err := m.ListUserNotifications(ctx, "u9", 10, 0)
	if err != nil || len(none) != 0 {
		t.Errorf("Expected empty list, got %v (%v)", ids(none), err)
	}
}

func ids(list []*types.UserNotification) []string {
	out := make([]string, 0, len(list))
	for _, n := range list {
		out = append(out, n.ID)
	}
	return out
}

func TestManager_DuplicateIDFails(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	n := testNotification("dup", time.Now())
	if err := m.CreateNotification(ctx, n, []string{"u1"}); err != nil {
		t.Fatalf("CreateNotification failed: %v", err)
	}
	if err := m.CreateNotification(ctx, n, []string{"u2"}); err == nil {
		t.Error("Expected duplicate notification ID to fail")
	}
	if count, _ := m.CountUnread(ctx, "u2"); count != 0 {
		t.Errorf("Failed insert must not leave recipient rows, got %d", count)
	}
}

func TestManager_ConcurrentWrites(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- m.CreateNotification(ctx, testNotification(fmt.Sprintf("c%d", i), time.Now()), []string{"u1"})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Concurrent write failed: %v", err)
		}
	}
	if count, _ := m.CountUnread(ctx, "u1"); count != 20 {
		t.Errorf("Expected 20 unread, got %d", count)
	}
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	if err := m.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if err := dbconfig.NewSchemaValidator(m.GetDB()).Validate(); err != nil {
		t.Errorf("Schema invalid after NewManager: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	err := m.CreateNotification(ctx, testNotification("late", time.Now()), nil)
	if !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Expected ErrManagerClosed, got %v", err)
	}
}
