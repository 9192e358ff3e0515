package bus

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"schoolhub/pkg/interfaces"
	"schoolhub/pkg/types"
)

// publishClient is the slice of redis.Client the publisher needs.
type publishClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Publisher implements interfaces.NotificationDispatcher by publishing
// commands for every subscribed replica
// FUNCTIONAL DISCOVERY: Redis reports how many subscribers received a
// publish, not how many sockets; return values count replicas reached
type Publisher struct {
	client  publishClient
	channel string
	logger  *zap.Logger
}

var _ interfaces.NotificationDispatcher = (*Publisher)(nil)

// NewPublisher creates a publisher on channel.
func NewPublisher(client *redis.Client, channel string, logger *zap.Logger) (*Publisher, error) {
	if channel == "" {
		return nil, ErrMissingChannel
	}
	return newPublisher(client, channel, logger), nil
}

func newPublisher(client publishClient, channel string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, channel: channel, logger: logger.Named("bus")}
}

// BroadcastNotification returns the number of replicas that received the command.
func (p *Publisher) BroadcastNotification(ctx context.Context, notification *types.Notification) int {
	return int(p.publish(ctx, Command{Op: OpBroadcast, Notification: notification}))
}

// SendNotificationToUser reports whether any replica received the command.
func (p *Publisher) SendNotificationToUser(ctx context.Context, userID string, notification *types.Notification) bool {
	return p.publish(ctx, Command{Op: OpSendUser, UserID: userID, Notification: notification}) > 0
}

// UpdateUnreadCount reports whether any replica received the command.
func (p *Publisher) UpdateUnreadCount(ctx context.Context, userID string, count int) bool {
	return p.publish(ctx, Command{Op: OpUnread, UserID: userID, Count: count}) > 0
}

func (p *Publisher) publish(ctx context.Context, cmd Command) int64 {
	payload, err := cmd.Encode()
	if err != nil {
		p.logger.Warn("dispatch command rejected", zap.String("op", cmd.Op), zap.Error(err))
		return 0
	}

	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		p.logger.Error("dispatch publish failed",
			zap.String("op", cmd.Op),
			zap.String("channel", p.channel),
			zap.Error(err))
		return 0
	}
	p.logger.Debug("dispatch published",
		zap.String("op", cmd.Op),
		zap.Int64("replicas", receivers))
	return receivers
}
