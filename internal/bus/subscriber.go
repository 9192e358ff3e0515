package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"schoolhub/pkg/interfaces"
)

// Subscriber consumes dispatch commands and applies them to a local dispatcher.
type Subscriber struct {
	client  *redis.Client
	channel string
	target  interfaces.NotificationDispatcher
	logger  *zap.Logger
}

// NewSubscriber creates a subscriber delivering to target, normally the local hub.
func NewSubscriber(client *redis.Client, channel string, target interfaces.NotificationDispatcher, logger *zap.Logger) (*Subscriber, error) {
	if channel == "" {
		return nil, ErrMissingChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		client:  client,
		channel: channel,
		target:  target,
		logger:  logger.Named("bus"),
	}, nil
}

// Run subscribes and applies commands until ctx is cancelled
// TECHNICAL DISCOVERY: Receive is called once before Channel() so a failed
// subscription is reported to the caller instead of silently dropping commands
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.logger.Info("dispatch subscriber started", zap.String("channel", s.channel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("dispatch subscriber stopped")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			s.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, payload []byte) int {
	cmd, err := DecodeCommand(payload)
	if err != nil {
		s.logger.Warn("dispatch command dropped", zap.Error(err))
		return 0
	}
	delivered := cmd.Apply(ctx, s.target)
	s.logger.Debug("dispatch command applied",
		zap.String("op", cmd.Op),
		zap.Int("delivered", delivered))
	return delivered
}
