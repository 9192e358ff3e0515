package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	dbconfig "schoolhub/pkg/database"
	"schoolhub/pkg/interfaces"
	"schoolhub/pkg/types"
)

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrShuttingDown  = errors.New("database manager is shutting down")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

// Manager implements interfaces.NotificationStore on SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *zap.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
	retryDelay   time.Duration
}

var _ interfaces.NotificationStore = (*Manager)(nil)

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies the embedded migrations and starts the writer
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.NewEmbeddedMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.Named("database"),
		writeChannel: make(chan writeOperation, 100), // TECHNICAL: Buffer for write operations prevents blocking
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: Busy database gets exactly one retry; constraint
			// violations and missing rows are returned straight away
			err := op.operation(m.db)
			if err != nil && retryable(err) {
				m.logger.Warn("database write failed, retrying", zap.Duration("delay", m.retryDelay), zap.Error(err))
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
				if err != nil {
					m.logger.Error("database write failed after retry", zap.Error(err))
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("write loop shutting down")
			return
		}
	}
}

func retryable(err error) bool {
	return !errors.Is(err, interfaces.ErrNotificationNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrShuttingDown
	}
}

// CreateNotification stores the notification and one unread row per distinct recipient
func (m *Manager) CreateNotification(ctx context.Context, n *types.Notification, recipientIDs []string) error {
	roles, err := json.Marshal(nonNil(n.TargetRoles))
	if err != nil {
		return fmt.Errorf("failed to marshal target roles: %w", err)
	}
	users, err := json.Marshal(nonNil(n.TargetUsers))
	if err != nil {
		return fmt.Errorf("failed to marshal target users: %w", err)
	}
	classes, err := json.Marshal(nonNil(n.TargetClasses))
	if err != nil {
		return fmt.Errorf("failed to marshal target classes: %w", err)
	}
	priority := n.Priority
	if priority == "" {
		priority = types.PriorityNormal
	}
	var payload sql.NullString
	if len(n.Payload) > 0 {
		payload = sql.NullString{String: string(n.Payload), Valid: true}
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }() // TECHNICAL: Always rollback unless commit succeeds

		_, err = tx.ExecContext(ctx, `
			INSERT INTO notifications (id, type, priority, title, message, target_roles, target_users, target_classes, payload, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			n.ID, n.Type, priority, n.Title, n.Message,
			string(roles), string(users), string(classes),
			payload, n.CreatedBy, n.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}

		// TECHNICAL DISCOVERY: OR IGNORE collapses duplicate recipients onto the composite key
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO user_notifications (notification_id, user_id) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare recipient insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, userID := range recipientIDs {
			if _, err := stmt.ExecContext(ctx, n.ID, userID); err != nil {
				return fmt.Errorf("failed to insert recipient %s: %w", userID, err)
			}
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit notification: %w", err)
		}
		return nil
	})
}

const notificationColumns = `n.id, n.type, n.priority, n.title, n.message, n.target_roles, n.target_users, n.target_classes, n.payload, n.created_by, n.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner, extra ...any) (*types.Notification, error) {
	var n types.Notification
	var roles, users, classes string
	var payload sql.NullString

	dest := append([]any{
		&n.ID, &n.Type, &n.Priority, &n.Title, &n.Message,
		&roles, &users, &classes, &payload, &n.CreatedBy, &n.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	// TECHNICAL DISCOVERY: JSON columns keep target lists schema-free
	if err := json.Unmarshal([]byte(roles), &n.TargetRoles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal target roles: %w", err)
	}
	if err := json.Unmarshal([]byte(users), &n.TargetUsers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal target users: %w", err)
	}
	if err := json.Unmarshal([]byte(classes), &n.TargetClasses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal target classes: %w", err)
	}
	if payload.Valid {
		n.Payload = json.RawMessage(payload.String)
	}
	return &n, nil
}

// GetNotification retrieves a notification by ID
func (m *Manager) GetNotification(ctx context.Context, notificationID string) (*types.Notification, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	row := m.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications n WHERE n.id = ?`, notificationID)

	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to query notification: %w", err)
	}
	return n, nil
}

// ListUserNotifications returns a recipient's notifications, newest first
func (m *Manager) ListUserNotifications(ctx context.Context, userID string, limit, offset int) ([]*types.UserNotification, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`, un.is_read, un.read_at
		FROM user_notifications un
		JOIN notifications n ON n.id = un.notification_id
		WHERE un.user_id = ?
		ORDER BY n.created_at DESC, n.id DESC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query user notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*types.UserNotification
	for rows.Next() {
		var isRead bool
		var readAt sql.NullTime
		n, err := scanNotification(rows, &isRead, &readAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		un := &types.UserNotification{Notification: *n, IsRead: isRead}
		if readAt.Valid {
			t := readAt.Time
			un.ReadAt = &t
		}
		result = append(result, un)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification rows: %w", err)
	}
	return result, nil
}

// CountUnread answers get-unread-count for the hub
func (m *Manager) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_notifications WHERE user_id = ? AND is_read = 0`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkNotificationRead marks one notification read for one recipient.
// Marking an already read notification keeps the first read time.
func (m *Manager) MarkNotificationRead(ctx context.Context, userID, notificationID string, readAt time.Time) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE user_notifications
			SET is_read = 1, read_at = COALESCE(read_at, ?)
			WHERE notification_id = ? AND user_id = ?
		`, readAt.UTC(), notificationID, userID)
		if err != nil {
			return fmt.Errorf("failed to mark notification read: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			return interfaces.ErrNotificationNotFound
		}
		return nil
	})
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications LIMIT 1").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for schema checks
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil // Already closed
	}
	m.closed = true
	m.mu.Unlock()

	// ARCHITECTURAL DISCOVERY: Graceful shutdown requires careful goroutine coordination
	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// applySQLiteOptimizations applies performance optimizations
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
