package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"schoolhub/internal/auth"
	"schoolhub/pkg/interfaces"
	"schoolhub/pkg/types"
)

// Authenticator resolves the identity of an upgrade request.
type Authenticator interface {
	AuthenticateRequest(r *http.Request) (types.Identity, error)
}

// Lifecycle receives connections once they are upgraded
// ARCHITECTURAL DISCOVERY: The transport knows nothing about rooms or events;
// the hub implements this to register, route and clean up
type Lifecycle interface {
	// Activate registers an authenticated connection; an error refuses it
	Activate(conn interfaces.Connection) error
	// Handle processes one inbound text frame, in arrival order per connection
	Handle(ctx context.Context, conn interfaces.Connection, raw []byte)
	// Deactivate runs once when an active connection closes
	Deactivate(conn interfaces.Connection)
}

// Handler upgrades authenticated requests and runs the read pump
// ARCHITECTURAL DISCOVERY: Multi-stage validation (origin -> credential -> upgrade -> activation)
// ensures rejected requests never consume a socket or touch shared state
type Handler struct {
	upgrader      websocket.Upgrader
	origins       *OriginPolicy
	authenticator Authenticator
	lifecycle     Lifecycle
	config        ConnectionConfig
	logger        *zap.Logger
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(origins *OriginPolicy, authenticator Authenticator, lifecycle Lifecycle, config ConnectionConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if origins == nil {
		origins = NewOriginPolicy(nil, false, logger)
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			// origin was already checked before Upgrade with a proper 403
			CheckOrigin:      func(*http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		origins:       origins,
		authenticator: authenticator,
		lifecycle:     lifecycle,
		config:        config,
		logger:        logger.Named("websocket"),
	}
}

// ServeHTTP handles WebSocket connection requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.origins.Allowed(r) {
		h.logger.Warn("blocked connection from disallowed origin", zap.String("origin", r.Header.Get("Origin")))
		http.Error(w, ErrOriginNotAllowed.Error(), http.StatusForbidden)
		return
	}

	identity, err := h.authenticator.AuthenticateRequest(r)
	if err != nil {
		h.logger.Info("connection refused", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		switch {
		case errors.Is(err, auth.ErrTokenRequired):
			http.Error(w, "Authentication token required", http.StatusUnauthorized)
		default:
			http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
		}
		return
	}

	// FUNCTIONAL DISCOVERY: WebSocket upgrade after validation prevents resource waste
	// on invalid requests while providing proper HTTP error responses
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(ws, identity, h.config, h.logger)
	conn.OnClose(func() { h.lifecycle.Deactivate(conn) })

	if err := h.lifecycle.Activate(conn); err != nil {
		h.logger.Warn("connection activation failed", zap.String("user_id", identity.UserID), zap.Error(err))
		_ = conn.CloseWithReason(websocket.CloseInternalServerErr, "activation failed")
		return
	}
	if !conn.markActive() {
		// closed while activating: OnClose did not fire, clean up here
		h.lifecycle.Deactivate(conn)
		return
	}

	h.logger.Info("connection established",
		zap.String("conn_id", conn.ID()),
		zap.String("user_id", identity.UserID),
		zap.String("role", string(identity.Role)),
		zap.String("remote_addr", r.RemoteAddr))

	conn.Start()
	go h.readLoop(conn)
}

// readLoop processes inbound frames sequentially until the socket fails
// TECHNICAL DISCOVERY: Read deadline of PongWait refreshed by every pong
// provides reliable connection health monitoring
func (h *Handler) readLoop(conn *Connection) {
	defer func() { _ = conn.Close() }()

	ws := conn.conn
	if conn.config.MaxMessageSize > 0 {
		ws.SetReadLimit(conn.config.MaxMessageSize)
	}
	if conn.config.PongWait > 0 {
		if err := ws.SetReadDeadline(time.Now().Add(conn.config.PongWait)); err != nil {
			return
		}
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(conn.config.PongWait))
		})
	}

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				conn.logger.Info("websocket read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.lifecycle.Handle(conn.Context(), conn, data)
	}
}
