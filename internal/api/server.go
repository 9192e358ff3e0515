// Package api is the authenticated REST boundary through which the school
// application creates notifications and reads per-user notification state.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"schoolhub/internal/auth"
	"schoolhub/internal/websocket"
	"schoolhub/pkg/interfaces"
	"schoolhub/pkg/types"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
	maxBodyBytes    = 1 << 20
)

// IdentityResolver authenticates API requests with the same credentials the
// websocket endpoint accepts.
type IdentityResolver interface {
	AuthenticateRequest(r *http.Request) (types.Identity, error)
}

// StatsProvider exposes live connection counters for /health.
type StatsProvider interface {
	Stats() map[string]int
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Persistence goes through the store, delivery through the dispatcher; the API never touches rooms
type Server struct {
	store      interfaces.NotificationStore
	dispatcher interfaces.NotificationDispatcher
	auth       IdentityResolver
	stats      StatsProvider
	origins    *websocket.OriginPolicy
	logger     *zap.Logger
	router     *http.ServeMux
	now        func() time.Time
}

// NewServer wires the REST routes. stats and origins may be nil.
func NewServer(store interfaces.NotificationStore, dispatcher interfaces.NotificationDispatcher, resolver IdentityResolver, stats StatsProvider, origins *websocket.OriginPolicy, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:      store,
		dispatcher: dispatcher,
		auth:       resolver,
		stats:      stats,
		origins:    origins,
		logger:     logger.Named("api"),
		router:     http.NewServeMux(),
		now:        time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("POST /api/notifications", s.authenticated(s.createNotification, types.RoleAdmin, types.RoleTeacher))
	s.router.Handle("POST /api/notifications/direct", s.authenticated(s.sendDirect, types.RoleAdmin, types.RoleTeacher))
	s.router.Handle("GET /api/notifications", s.authenticated(s.listNotifications))
	s.router.Handle("GET /api/notifications/unread-count", s.authenticated(s.unreadCount))
	s.router.Handle("POST /api/notifications/{id}/read", s.authenticated(s.markRead))
	s.router.HandleFunc("GET /health", s.healthCheck)
}

// ServeHTTP applies CORS and JSON headers, then routes
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" {
		if s.origins != nil && !s.origins.Allowed(r) {
			s.sendError(w, websocket.ErrOriginNotAllowed.Error(), http.StatusForbidden)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "86400")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, r)
}

type identityHandler func(w http.ResponseWriter, r *http.Request, identity types.Identity)

// authenticated resolves the caller and, when roles are given, requires one of them
func (s *Server) authenticated(next identityHandler, roles ...types.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.auth.AuthenticateRequest(r)
		if err != nil {
			if errors.Is(err, auth.ErrTokenRequired) {
				s.sendError(w, "Authentication token required", http.StatusUnauthorized)
			} else {
				s.sendError(w, "Invalid authentication token", http.StatusUnauthorized)
			}
			return
		}

		if len(roles) > 0 && !hasRole(identity.Role, roles) {
			s.sendError(w, "role not permitted", http.StatusForbidden)
			return
		}
		next(w, r, identity)
	})
}

func hasRole(role types.Role, allowed []types.Role) bool {
	for _, candidate := range allowed {
		if role == candidate {
			return true
		}
	}
	return false
}

// CreateNotificationRequest is the body of POST /api/notifications.
// RecipientIDs defaults to TargetUsers and decides who gets an unread row.
type CreateNotificationRequest struct {
	types.Notification
	RecipientIDs []string `json:"recipientIds,omitempty" validate:"max=5000,dive,userid"`
}

// DirectNotificationRequest is the body of POST /api/notifications/direct.
type DirectNotificationRequest struct {
	UserID       string             `json:"userId" validate:"required,userid"`
	Notification types.Notification `json:"notification"`
}

// CreateNotificationResponse reports the stored notification and delivery.
type CreateNotificationResponse struct {
	Notification *types.Notification `json:"notification"`
	Delivered    int                 `json:"delivered"`
	Recipients   int                 `json:"recipients"`
}

// DirectNotificationResponse reports whether the user was online.
type DirectNotificationResponse struct {
	Notification *types.Notification `json:"notification"`
	Delivered    bool                `json:"delivered"`
}

// ListNotificationsResponse is a page of the caller's notifications.
type ListNotificationsResponse struct {
	Notifications []*types.UserNotification `json:"notifications"`
	Limit         int                       `json:"limit"`
	Offset        int                       `json:"offset"`
}

type UnreadCountResponse struct {
	Count int `json:"count"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: POST /api/notifications - persist first, then fan out,
// then refresh every recipient's unread badge
func (s *Server) createNotification(w http.ResponseWriter, r *http.Request, identity types.Identity) {
	var req CreateNotificationRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := types.Validate.Struct(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	notification := s.stamp(req.Notification, identity)
	if err := notification.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	recipients := req.RecipientIDs
	if len(recipients) == 0 {
		recipients = notification.TargetUsers
	}
	recipients = dedupe(recipients)

	if err := s.store.CreateNotification(r.Context(), notification, recipients); err != nil {
		s.logger.Error("failed to store notification", zap.String("notification_id", notification.ID), zap.Error(err))
		s.sendError(w, "Failed to store notification", http.StatusInternalServerError)
		return
	}

	delivered := s.dispatcher.BroadcastNotification(r.Context(), notification)
	s.refreshUnread(r.Context(), recipients)

	s.logger.Info("notification created",
		zap.String("notification_id", notification.ID),
		zap.String("created_by", identity.UserID),
		zap.Int("recipients", len(recipients)),
		zap.Int("delivered", delivered))

	s.writeJSON(w, http.StatusCreated, CreateNotificationResponse{
		Notification: notification,
		Delivered:    delivered,
		Recipients:   len(recipients),
	})
}

// FUNCTIONAL DISCOVERY: POST /api/notifications/direct - offline users still
// get the stored row; only live delivery is skipped
func (s *Server) sendDirect(w http.ResponseWriter, r *http.Request, identity types.Identity) {
	var req DirectNotificationRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := types.Validate.Struct(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if len(req.Notification.TargetRoles) == 0 && len(req.Notification.TargetUsers) == 0 && len(req.Notification.TargetClasses) == 0 {
		req.Notification.TargetUsers = []string{req.UserID}
	}
	notification := s.stamp(req.Notification, identity)
	if err := notification.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.CreateNotification(r.Context(), notification, []string{req.UserID}); err != nil {
		s.logger.Error("failed to store direct notification", zap.String("user_id", req.UserID), zap.Error(err))
		s.sendError(w, "Failed to store notification", http.StatusInternalServerError)
		return
	}

	delivered := s.dispatcher.SendNotificationToUser(r.Context(), req.UserID, notification)
	s.refreshUnread(r.Context(), []string{req.UserID})

	s.writeJSON(w, http.StatusCreated, DirectNotificationResponse{
		Notification: notification,
		Delivered:    delivered,
	})
}

// GET /api/notifications?limit=&offset=
func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request, identity types.Identity) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		s.sendError(w, fmt.Sprintf("limit must be between 1 and %d", maxPageSize), http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.sendError(w, "offset must be a non-negative integer", http.StatusBadRequest)
		return
	}

	notifications, err := s.store.ListUserNotifications(r.Context(), identity.UserID, limit, offset)
	if err != nil {
		s.logger.Error("failed to list notifications", zap.String("user_id", identity.UserID), zap.Error(err))
		s.sendError(w, "Failed to list notifications", http.StatusInternalServerError)
		return
	}
	if notifications == nil {
		notifications = []*types.UserNotification{}
	}

	s.writeJSON(w, http.StatusOK, ListNotificationsResponse{
		Notifications: notifications,
		Limit:         limit,
		Offset:        offset,
	})
}

// GET /api/notifications/unread-count
func (s *Server) unreadCount(w http.ResponseWriter, r *http.Request, identity types.Identity) {
	count, err := s.store.CountUnread(r.Context(), identity.UserID)
	if err != nil {
		s.logger.Error("failed to count unread", zap.String("user_id", identity.UserID), zap.Error(err))
		s.sendError(w, "Failed to count unread notifications", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, UnreadCountResponse{Count: count})
}

// POST /api/notifications/{id}/read
func (s *Server) markRead(w http.ResponseWriter, r *http.Request, identity types.Identity) {
	notificationID := r.PathValue("id")
	if notificationID == "" {
		s.sendError(w, "Notification ID required", http.StatusBadRequest)
		return
	}

	err := s.store.MarkNotificationRead(r.Context(), identity.UserID, notificationID, s.now().UTC())
	if errors.Is(err, interfaces.ErrNotificationNotFound) {
		s.sendError(w, "Notification not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("failed to mark notification read", zap.String("notification_id", notificationID), zap.Error(err))
		s.sendError(w, "Failed to mark notification read", http.StatusInternalServerError)
		return
	}

	count := s.refreshUnread(r.Context(), []string{identity.UserID})
	s.writeJSON(w, http.StatusOK, UnreadCountResponse{Count: count})
}

// GET /health - database health plus live connection counters
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: s.now().UTC(),
		Database:  "healthy",
	}
	if err := s.store.HealthCheck(ctx); err != nil {
		response.Status = "unhealthy"
		response.Database = fmt.Sprintf("error: %v", err)
	}
	if s.stats != nil {
		response.Connections = s.stats.Stats()
	}

	code := http.StatusOK
	if response.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, response)
}

// stamp assigns server-side fields; client-provided ids are ignored
func (s *Server) stamp(n types.Notification, identity types.Identity) *types.Notification {
	n.ID = uuid.NewString()
	n.CreatedBy = identity.UserID
	n.CreatedAt = s.now().UTC()
	if n.Priority == "" {
		n.Priority = types.PriorityNormal
	}
	return &n
}

// refreshUnread pushes the stored unread count to each recipient and returns
// the last count read; lookup failures skip the push
func (s *Server) refreshUnread(ctx context.Context, userIDs []string) int {
	count := 0
	for _, userID := range userIDs {
		n, err := s.store.CountUnread(ctx, userID)
		if err != nil {
			s.logger.Warn("unread count lookup failed", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		count = n
		s.dispatcher.UpdateUnreadCount(ctx, userID, n)
	}
	return count
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(v); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
