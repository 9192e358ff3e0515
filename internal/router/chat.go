package router

import (
	"go.uber.org/zap"

	"schoolhub/internal/websocket"
	"schoolhub/pkg/interfaces"
	"schoolhub/pkg/types"
)

// ChatRelay forwards chat traffic between members of a chat room. It never
// stores messages.
type ChatRelay struct {
	registry *websocket.Registry
	logger   *zap.Logger
	now      func() string
}

// Join subscribes conn to the chat room of chatID.
func (c *ChatRelay) Join(conn interfaces.Connection, chatID types.FlexID) error {
	return c.registry.Join(conn, types.ChatRoom(chatID.String()))
}

// Leave unsubscribes conn from the chat room of chatID.
func (c *ChatRelay) Leave(conn interfaces.Connection, chatID types.FlexID) {
	c.registry.Leave(conn, types.ChatRoom(chatID.String()))
}

// Send relays the message to the other members of the room and confirms it
// to the sender
// FUNCTIONAL DISCOVERY: The sender gets message-confirmed even when it never
// joined the room, matching a client that posts before subscribing
func (c *ChatRelay) Send(conn interfaces.Connection, e types.MessageSent) int {
	delivered := c.toOthers(conn, e.ChatID, types.EventNewMessage, e.Message)
	c.deliver(types.EventMessageConfirmed, e.Message, []interfaces.Connection{conn})
	return delivered
}

// Read announces a read receipt to the other members of the room.
func (c *ChatRelay) Read(conn interfaces.Connection, e types.MessageRead) int {
	return c.toOthers(conn, e.ChatID, types.EventMessageReadUpdate, types.MessageReadUpdate{
		MessageID: e.MessageID,
		ReadBy: types.ReadBy{
			ID:     conn.Identity().UserID,
			ReadAt: c.now(),
		},
	})
}

// Typing announces typing-start or typing-stop to the other members of the room.
func (c *ChatRelay) Typing(conn interfaces.Connection, e types.Typing) int {
	event := types.EventUserTyping
	if e.Stop {
		event = types.EventUserStopTyping
	}
	return c.toOthers(conn, e.ChatID, event, types.TypingIndicator{
		UserID: conn.Identity().UserID,
		ChatID: e.EchoChatID(),
	})
}

func (c *ChatRelay) toOthers(conn interfaces.Connection, chatID types.FlexID, event string, data any) int {
	members := c.registry.MembersOf(types.ChatRoom(chatID.String()))
	others := make([]interfaces.Connection, 0, len(members))
	for _, member := range members {
		if member != conn {
			others = append(others, member)
		}
	}
	return c.deliver(event, data, others)
}

func (c *ChatRelay) deliver(event string, data any, conns []interfaces.Connection) int {
	frame, err := types.Frame{Event: event, Data: data}.Encode()
	if err != nil {
		c.logger.Error("failed to encode chat frame", zap.String("event", event), zap.Error(err))
		return 0
	}
	return websocket.Deliver(c.logger, event, frame, conns)
}
