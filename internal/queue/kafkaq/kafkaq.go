// Package kafkaq implements the change channel on Kafka.
package kafkaq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/annotator/nipsa/internal/model"
	"github.com/annotator/nipsa/internal/queue"
)

// Publisher writes change events keyed by user ID, so every event for one
// user lands on the same partition in publish order.
type Publisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

var _ queue.Publisher = (*Publisher)(nil)

// NewPublisher creates a publisher for topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            3,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{
		writer: w,
		logger: logger.With("component", "queue.kafka.publisher", "topic", topic),
	}
}

// Publish writes one event synchronously.
func (p *Publisher) Publish(ctx context.Context, event model.ChangeEvent) error {
	value, err := event.Encode()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := kafka.Message{Key: []byte(event.UserID), Value: value}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish message", "user_id", event.UserID, "error", err)
		return queue.Unavailable("kafka write", err)
	}

	p.logger.Debug("change event published", "action", event.Action.String(), "user_id", event.UserID)
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads a topic as part of a consumer group. Offsets are committed
// only after the handler acks; transient failures are retried in place.
type Consumer struct {
	reader  messageReader
	logger  *slog.Logger
	backoff queue.Backoff
	dlq     *kafka.Writer
	// errorDelay paces retries after a failed fetch.
	errorDelay time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ queue.Consumer = (*Consumer)(nil)

// NewConsumer creates a consumer for topic in group. Poison messages are
// copied to "<topic>.dlq".
func NewConsumer(brokers []string, topic, group string, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     group,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	dlq := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic + ".dlq",
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Consumer{
		reader:  r,
		logger:  logger.With("component", "queue.kafka.consumer", "topic", topic, "group", group),
		backoff: queue.DefaultBackoff,
		dlq:     dlq,

		errorDelay: queue.ErrorDelay,
	}
}

// SetBackoff overrides the in-place retry backoff.
func (c *Consumer) SetBackoff(b queue.Backoff) {
	c.backoff = b
}

// Run enters the consume loop until ctx is cancelled or Shutdown.
func (c *Consumer) Run(ctx context.Context, h queue.Handler) error {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return errors.New("consumer already started")
	}
	c.done = make(chan struct{})
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()
	defer close(c.done)

	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping")
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			queue.Sleep(ctx, c.errorDelay)
			continue
		}

		err = queue.Deliver(ctx, c.logger, c.backoff, h, msg.Value)
		switch {
		case err == nil:
		case queue.IsPoison(err):
			c.deadLetter(ctx, msg, err)
		default:
			// Uncommitted; the group redelivers it after restart.
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	c.logger.Warn("dead-lettering poison message",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"error", cause,
	)
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: "reason", Value: []byte(cause.Error())},
			{Key: "original_offset", Value: []byte(fmt.Sprint(msg.Offset))},
		},
	})
	if err != nil {
		c.logger.Error("failed to write to dead-letter topic", "error", err)
	}
}

// Shutdown stops Run and closes the reader.
func (c *Consumer) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if done != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(c.reader.Close(), c.dlq.Close())
}
