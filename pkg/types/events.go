package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Inbound event names sent by clients.
const (
	EventJoinChat             = "join-chat"
	EventLeaveChat            = "leave-chat"
	EventMessageSent          = "message-sent"
	EventMessageRead          = "message-read"
	EventTypingStart          = "typing-start"
	EventTypingStop           = "typing-stop"
	EventUserOnline           = "user-online"
	EventJoinNotifications    = "join-notifications"
	EventMarkNotificationRead = "mark-notification-read"
	EventGetUnreadCount       = "get-unread-count"
)

// Outbound event names delivered to clients.
const (
	EventNewMessage        = "new-message"
	EventMessageConfirmed  = "message-confirmed"
	EventMessageReadUpdate = "message-read-update"
	EventUserTyping        = "user-typing"
	EventUserStopTyping    = "user-stop-typing"
	EventUserStatusUpdate  = "user-status-update"
	EventNewNotification   = "new-notification"
	EventNotificationRead  = "notification-read"
	EventUnreadCount       = "unread-count"
)

// Presence statuses carried by user-status-update.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Frame is an outbound envelope before encoding.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encode marshals the frame once so it can be fanned out to many connections.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// FlexID is an identifier clients may send either as a JSON string or number.
// Numbers are normalized to their shortest decimal form, so 7, 7.0 and 7e0
// all name the same room.
type FlexID string

// UnmarshalJSON accepts "7" and 7 alike.
func (id *FlexID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*id = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*id = FlexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return ErrInvalidChatID
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return ErrInvalidChatID
	}
	*id = FlexID(formatNumber(f))
	return nil
}

// maxExactInt is the largest magnitude below which every integer is exact in a float64.
const maxExactInt = 1 << 53

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < maxExactInt {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (id FlexID) String() string {
	return string(id)
}

// InboundEvent is the sum type of client events. Each variant is a struct
// named after its event; the router switches on the concrete type.
type InboundEvent interface {
	EventName() string
}

// JoinChat subscribes the sender to a chat-thread room.
type JoinChat struct {
	ChatID FlexID `json:"chatId" validate:"required,max=128"`
}

// LeaveChat unsubscribes the sender from a chat-thread room.
type LeaveChat struct {
	ChatID FlexID `json:"chatId" validate:"required,max=128"`
}

// MessageSent relays a chat message to the other members of a chat room.
type MessageSent struct {
	ChatID  FlexID          `json:"chatId" validate:"required,max=128"`
	Message json.RawMessage `json:"message" validate:"jsonvalue"`
}

// MessageRead announces that the sender read a chat message.
type MessageRead struct {
	ChatID    FlexID `json:"chatId" validate:"required,max=128"`
	MessageID FlexID `json:"messageId" validate:"required,max=128"`
}

// Typing carries typing-start and typing-stop; Stop tells them apart.
// NumericChatID records that the client sent chatId as a number, so the
// indicator echoes it back the same way.
type Typing struct {
	ChatID        FlexID `json:"chatId" validate:"required,max=128"`
	NumericChatID bool   `json:"-"`
	Stop          bool   `json:"-"`
}

// UnmarshalJSON decodes chatId and remembers its JSON kind. Stop is left
// untouched; the decoder sets it from the event name.
func (t *Typing) UnmarshalJSON(data []byte) error {
	var payload struct {
		ChatID json.RawMessage `json:"chatId"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	raw := bytes.TrimSpace(payload.ChatID)
	if err := t.ChatID.UnmarshalJSON(raw); err != nil {
		return err
	}
	t.NumericChatID = len(raw) > 0 && raw[0] != '"' && !bytes.Equal(raw, []byte("null"))
	return nil
}

// EchoChatID returns chatId as JSON in the kind the client sent it.
func (t Typing) EchoChatID() json.RawMessage {
	if t.NumericChatID {
		return json.RawMessage(t.ChatID)
	}
	quoted, _ := json.Marshal(string(t.ChatID))
	return quoted
}

// UserOnline re-announces the sender's online status.
type UserOnline struct{}

// JoinNotifications subscribes the sender to role rooms, optional class
// rooms and, unconditionally, its own user room.
type JoinNotifications struct {
	Roles    []Role   `json:"roles" validate:"required,max=8,dive,role"`
	ClassIDs []FlexID `json:"classIds,omitempty" validate:"max=64,dive,required,max=64"`
}

// MarkNotificationRead broadcasts a best-effort read receipt.
type MarkNotificationRead struct {
	NotificationID FlexID `json:"notificationId" validate:"required,max=128"`
}

// GetUnreadCount asks for the caller's unread notification count.
type GetUnreadCount struct{}

func (JoinChat) EventName() string             { return EventJoinChat }
func (LeaveChat) EventName() string            { return EventLeaveChat }
func (MessageSent) EventName() string          { return EventMessageSent }
func (MessageRead) EventName() string          { return EventMessageRead }
func (UserOnline) EventName() string           { return EventUserOnline }
func (JoinNotifications) EventName() string    { return EventJoinNotifications }
func (MarkNotificationRead) EventName() string { return EventMarkNotificationRead }
func (GetUnreadCount) EventName() string       { return EventGetUnreadCount }

func (t Typing) EventName() string {
	if t.Stop {
		return EventTypingStop
	}
	return EventTypingStart
}

// DecodeInbound parses and validates one client frame. Every failure is a
// *ValidationError; callers drop the event and keep the connection open.
func DecodeInbound(raw []byte) (InboundEvent, error) {
	if len(raw) > maxPayloadBytes {
		return nil, invalid("", ErrPayloadTooLarge)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, invalid("", fmt.Errorf("%w: %v", ErrInvalidEnvelope, err))
	}

	var event InboundEvent
	switch env.Event {
	case EventJoinChat:
		event = &JoinChat{}
	case EventLeaveChat:
		event = &LeaveChat{}
	case EventMessageSent:
		event = &MessageSent{}
	case EventMessageRead:
		event = &MessageRead{}
	case EventTypingStart:
		event = &Typing{}
	case EventTypingStop:
		event = &Typing{Stop: true}
	case EventUserOnline:
		return UserOnline{}, nil
	case EventJoinNotifications:
		event = &JoinNotifications{}
	case EventMarkNotificationRead:
		event = &MarkNotificationRead{}
	case EventGetUnreadCount:
		return GetUnreadCount{}, nil
	case "":
		return nil, invalid("", ErrInvalidEnvelope)
	default:
		return nil, invalid(env.Event, ErrUnknownEvent)
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || data[0] != '{' {
		return nil, invalid(env.Event, ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, event); err != nil {
		return nil, invalid(env.Event, fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}
	if err := Validate.Struct(event); err != nil {
		return nil, invalid(env.Event, err)
	}
	return deref(event), nil
}

// deref hands variants out by value so handlers never share decoder state.
func deref(event InboundEvent) InboundEvent {
	switch e := event.(type) {
	case *JoinChat:
		return *e
	case *LeaveChat:
		return *e
	case *MessageSent:
		return *e
	case *MessageRead:
		return *e
	case *Typing:
		return *e
	case *JoinNotifications:
		return *e
	case *MarkNotificationRead:
		return *e
	default:
		return event
	}
}

// ReadBy identifies who read a chat message and when.
type ReadBy struct {
	ID     string `json:"id"`
	ReadAt string `json:"readAt"`
}

// MessageReadUpdate is the payload of message-read-update.
type MessageReadUpdate struct {
	MessageID FlexID `json:"messageId"`
	ReadBy    ReadBy `json:"readBy"`
}

// TypingIndicator is the payload of user-typing and user-stop-typing.
type TypingIndicator struct {
	UserID string          `json:"userId"`
	ChatID json.RawMessage `json:"chatId"`
}

// UserStatusUpdate is the payload of user-status-update.
type UserStatusUpdate struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// NotificationRead is the payload of notification-read.
type NotificationRead struct {
	NotificationID FlexID `json:"notificationId"`
	ReadBy         string `json:"readBy"`
	ReadAt         string `json:"readAt"`
}

// UnreadCount is the payload of unread-count.
type UnreadCount struct {
	Count int `json:"count"`
}
