package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"schoolhub/pkg/interfaces"
	"schoolhub/pkg/types"
)

// ConnState is the lifecycle position of a connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseSuperseded is sent to a socket replaced by a newer connection of the same user.
const CloseSuperseded = 4000

// ConnectionConfig tunes the transport of one connection.
type ConnectionConfig struct {
	BufferSize     int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// DefaultConnectionConfig matches the server defaults.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		BufferSize:     100,
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 65536,
	}
}

// Connection implements interfaces.Connection over a gorilla socket
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions;
// every frame goes through writeCh and the single writeLoop goroutine
type Connection struct {
	id        string
	identity  types.Identity
	conn      *websocket.Conn
	config    ConnectionConfig
	writeCh   chan []byte // FUNCTIONAL DISCOVERY: bounded so one slow peer only drops its own frames
	state     atomic.Int32
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	onClose   func()
	logger    *zap.Logger
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection wraps an upgraded socket for an already authenticated identity.
// The write loop does not run until Start is called.
func NewConnection(conn *websocket.Conn, identity types.Identity, config ConnectionConfig, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConnectionConfig().BufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:       uuid.NewString(),
		identity: identity,
		conn:     conn,
		config:   config,
		writeCh:  make(chan []byte, config.BufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.logger = logger.With(zap.String("conn_id", c.id), zap.String("user_id", identity.UserID))
	c.state.Store(int32(StateAuthenticated))
	return c
}

func (c *Connection) ID() string               { return c.id }
func (c *Connection) Identity() types.Identity { return c.identity }

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

// Context is cancelled when the connection closes.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// OnClose registers the cleanup run once when an Active connection closes.
// It must be called before activation.
func (c *Connection) OnClose(fn func()) {
	c.onClose = fn
}

// markActive moves Authenticated to Active. It returns false when the
// connection was closed while activation was in progress.
func (c *Connection) markActive() bool {
	return c.state.CompareAndSwap(int32(StateAuthenticated), int32(StateActive))
}

// Send enqueues an encoded frame without blocking
func (c *Connection) Send(frame []byte) error {
	if c.State() == StateClosed {
		return ErrConnectionClosed
	}
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Start launches the single writer goroutine, which also sends heartbeat pings.
func (c *Connection) Start() {
	go c.writeLoop()
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races.
// writeCh is never closed; the loop exits on ctx so late Sends cannot panic
func (c *Connection) writeLoop() {
	var tick <-chan time.Time
	if c.config.PingInterval > 0 {
		ticker := time.NewTicker(c.config.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
				c.fail("set write deadline", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fail("write", err)
				return
			}

		case <-tick:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout)); err != nil {
				c.fail("ping", err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) fail(op string, err error) {
	c.logger.Debug("connection write failed", zap.String("op", op), zap.Error(err))
	_ = c.Close()
}

// Close closes the connection normally.
func (c *Connection) Close() error {
	return c.CloseWithReason(websocket.CloseNormalClosure, "")
}

// CloseWithReason sends a close frame with code and reason, closes the socket
// and runs the OnClose cleanup exactly once.
// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) CloseWithReason(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		previous := ConnState(c.state.Swap(int32(StateClosed)))
		c.cancel()

		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason),
				time.Now().Add(time.Second))
			err = c.conn.Close()
		}

		if previous == StateActive && c.onClose != nil {
			c.onClose()
		}
		c.logger.Debug("connection closed", zap.Stringer("previous_state", previous))
	})
	return err
}
