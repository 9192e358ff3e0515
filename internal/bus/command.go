// Package bus bridges notification dispatch across hub replicas over Redis
// pub/sub. Every replica subscribes to one channel and delivers the commands
// it receives to its own connections.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"schoolhub/pkg/interfaces"
	"schoolhub/pkg/types"
)

// Dispatch operations carried on the channel.
const (
	OpBroadcast = "broadcast"
	OpSendUser  = "send_user"
	OpUnread    = "unread_count"
)

// Command is one NotificationDispatcher call serialized for the channel.
type Command struct {
	Op           string              `json:"op"`
	UserID       string              `json:"userId,omitempty"`
	Count        int                 `json:"count,omitempty"`
	Notification *types.Notification `json:"notification,omitempty"`
}

// Validate checks that the command carries what its operation needs.
func (c Command) Validate() error {
	switch c.Op {
	case OpBroadcast:
		if c.Notification == nil {
			return ErrNilNotification
		}
	case OpSendUser:
		if c.Notification == nil {
			return ErrNilNotification
		}
		if !types.IsValidUserID(c.UserID) {
			return fmt.Errorf("%w: %v", ErrInvalidCommand, types.ErrInvalidUserID)
		}
	case OpUnread:
		if !types.IsValidUserID(c.UserID) {
			return fmt.Errorf("%w: %v", ErrInvalidCommand, types.ErrInvalidUserID)
		}
		if c.Count < 0 {
			return fmt.Errorf("%w: negative count", ErrInvalidCommand)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, c.Op)
	}
	return nil
}

// Encode validates and marshals the command.
func (c Command) Encode() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(c)
}

// DecodeCommand parses and validates a payload received from the channel.
func DecodeCommand(payload []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(payload, &c); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}

// Apply replays the command on a local dispatcher and returns the number of
// connections that received a frame.
func (c Command) Apply(ctx context.Context, target interfaces.NotificationDispatcher) int {
	switch c.Op {
	case OpBroadcast:
		return target.BroadcastNotification(ctx, c.Notification)
	case OpSendUser:
		if target.SendNotificationToUser(ctx, c.UserID, c.Notification) {
			return 1
		}
	case OpUnread:
		if target.UpdateUnreadCount(ctx, c.UserID, c.Count) {
			return 1
		}
	}
	return 0
}
