package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Role is the enumerated role carried by an authenticated identity.
type Role string

// FUNCTIONAL DISCOVERY: Role set mirrors the school administration roles;
// role rooms are named after the upper-case value
const (
	RoleAdmin   Role = "ADMIN"
	RoleTeacher Role = "TEACHER"
	RoleStudent Role = "STUDENT"
	RoleParent  Role = "PARENT"
)

// AllRoles lists every role accepted at authentication time.
var AllRoles = []Role{RoleAdmin, RoleTeacher, RoleStudent, RoleParent}

// Valid reports whether r is one of AllRoles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleParent:
		return true
	default:
		return false
	}
}

// Identity is the (userId, role) pair resolved once at handshake.
// It is immutable for the lifetime of a connection.
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// Room name prefixes. Rooms exist only as keys of the registry membership map.
const (
	notificationsPrefix = "notifications:"
	userRoomPrefix      = "notifications:user:"
	classRoomPrefix     = "notifications:class:"
	chatRoomPrefix      = "chat:"
)

// UserRoom returns the personal notification room of a user.
func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

// RoleRoom returns the notification room shared by every connection that declared role.
func RoleRoom(role Role) string {
	return notificationsPrefix + string(role)
}

// ClassRoom returns the notification room of a class.
func ClassRoom(classID string) string {
	return classRoomPrefix + classID
}

// ChatRoom returns the room of a conversation thread.
func ChatRoom(chatID string) string {
	return chatRoomPrefix + chatID
}

// IsChatRoom reports whether room is a chat-thread room.
func IsChatRoom(room string) bool {
	return strings.HasPrefix(room, chatRoomPrefix)
}

// Notification priorities used by the REST boundary.
const (
	PriorityLow    = "LOW"
	PriorityNormal = "NORMAL"
	PriorityHigh   = "HIGH"
	PriorityUrgent = "URGENT"
)

// Notification is created by the request layer and handed to the dispatcher.
// ARCHITECTURAL DISCOVERY: The hub never mutates or persists a notification;
// targeting lists are resolved against live rooms at delivery time only
type Notification struct {
	ID            string          `json:"id"`
	Type          string          `json:"type" validate:"required,max=64"`
	Priority      string          `json:"priority,omitempty" validate:"omitempty,oneof=LOW NORMAL HIGH URGENT"`
	Title         string          `json:"title" validate:"required,max=200"`
	Message       string          `json:"message" validate:"max=4000"`
	TargetRoles   []Role          `json:"targetRoles" validate:"dive,role"`
	TargetUsers   []string        `json:"targetUsers,omitempty" validate:"dive,userid"`
	TargetClasses []string        `json:"targetClasses,omitempty" validate:"dive,required,max=64"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedBy     string          `json:"createdBy,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// TargetRooms returns the room names a notification fans out to.
// Duplicates are harmless: the registry deduplicates per connection.
func (n *Notification) TargetRooms() []string {
	rooms := make([]string, 0, len(n.TargetRoles)+len(n.TargetUsers)+len(n.TargetClasses))
	for _, role := range n.TargetRoles {
		rooms = append(rooms, RoleRoom(role))
	}
	for _, userID := range n.TargetUsers {
		rooms = append(rooms, UserRoom(userID))
	}
	for _, classID := range n.TargetClasses {
		rooms = append(rooms, ClassRoom(classID))
	}
	return rooms
}

// UserNotification is a notification as seen by one recipient.
type UserNotification struct {
	Notification
	IsRead bool       `json:"isRead"`
	ReadAt *time.Time `json:"readAt,omitempty"`
}
