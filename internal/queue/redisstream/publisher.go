// Package redisstream implements the change channel on Redis Streams.
package redisstream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/annotator/nipsa/internal/model"
	"github.com/annotator/nipsa/internal/queue"
)

const (
	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// MaxDeadLetterLen is the approximate max length of the dead-letter stream.
	MaxDeadLetterLen = 10000

	payloadField = "payload"
)

// DeadLetterStream returns the dead-letter stream name for stream.
func DeadLetterStream(stream string) string {
	return stream + ":dlq"
}

// Publisher appends change events to a Redis stream.
type Publisher struct {
	redis  *redis.Client
	stream string
	logger *slog.Logger
}

var _ queue.Publisher = (*Publisher)(nil)

// NewPublisher creates a publisher writing to stream.
func NewPublisher(client *redis.Client, stream string, logger *slog.Logger) *Publisher {
	return &Publisher{
		redis:  client,
		stream: stream,
		logger: logger.With("component", "queue.redis.publisher", "stream", stream),
	}
}

// Publish adds an event to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, event model.ChangeEvent) error {
	data, err := event.Encode()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	id, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]any{payloadField: string(data)},
	}).Result()
	if err != nil {
		return queue.Unavailable("xadd", err)
	}

	p.logger.Debug("change event published",
		"action", event.Action.String(),
		"user_id", event.UserID,
		"stream_id", id,
	)
	return nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (p *Publisher) Close() error {
	return nil
}
