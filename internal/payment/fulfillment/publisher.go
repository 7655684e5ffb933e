package fulfillment

import (
	"context"
	"errors"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher delivers an encoded event to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type redisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher publishes on a Redis pub/sub channel named after the topic.
func NewRedisPublisher(client *redis.Client) (Publisher, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &redisPublisher{client: client}, nil
}

func (p *redisPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.client.Publish(ctx, topic, payload).Err()
}

type logPublisher struct {
	log *zap.Logger
}

// NewLogPublisher writes events to the log. It is used when no broker is configured.
func NewLogPublisher(log *zap.Logger) Publisher {
	return &logPublisher{log: log}
}

func (p *logPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.log.Info("fulfillment event", zap.String("topic", topic), zap.ByteString("event", payload))
	return nil
}
