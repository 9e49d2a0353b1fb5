package redisstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/annotator/nipsa/internal/metrics"
	"github.com/annotator/nipsa/internal/queue"
)

const (
	// DefaultBlockTimeout is how long to block waiting for messages.
	DefaultBlockTimeout = 5 * time.Second

	// DefaultClaimInterval is how often to scan pending messages.
	DefaultClaimInterval = 10 * time.Second

	// DefaultClaimIdle is the idle time before reclaiming pending messages.
	DefaultClaimIdle = 30 * time.Second

	// DefaultMetricsInterval is how often to refresh queue depth metrics.
	DefaultMetricsInterval = 5 * time.Second
)

// Consumer reads change events from a Redis stream through a consumer group.
// Messages are handled one at a time; a transient failure is retried in
// place so ordering is kept. Messages left pending by a crashed consumer are
// reclaimed with XAUTOCLAIM.
type Consumer struct {
	redis           *redis.Client
	stream          string
	group           string
	consumerID      string
	logger          *slog.Logger
	metrics         metrics.Recorder
	backoff         queue.Backoff
	blockTimeout    time.Duration
	claimInterval   time.Duration
	claimIdle       time.Duration
	metricsInterval time.Duration
	claimStartID    string
	lastClaim       time.Time
	lastMetrics     time.Time

	started  bool
	draining bool
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
}

var _ queue.Consumer = (*Consumer)(nil)

// NewConsumer creates a consumer for stream within group.
func NewConsumer(client *redis.Client, stream, group, consumerID string, logger *slog.Logger, recorder metrics.Recorder) *Consumer {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Consumer{
		redis:           client,
		stream:          stream,
		group:           group,
		consumerID:      consumerID,
		logger:          logger.With("component", "queue.redis.consumer", "stream", stream, "consumer_id", consumerID),
		metrics:         recorder,
		backoff:         queue.DefaultBackoff,
		blockTimeout:    DefaultBlockTimeout,
		claimInterval:   DefaultClaimInterval,
		claimIdle:       DefaultClaimIdle,
		metricsInterval: DefaultMetricsInterval,
		claimStartID:    "0-0",
	}
}

// SetBlockTimeout overrides the default blocking timeout.
func (c *Consumer) SetBlockTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.blockTimeout = timeout
	}
}

// SetClaimIdle overrides the default pending idle threshold.
func (c *Consumer) SetClaimIdle(idle time.Duration) {
	if idle > 0 {
		c.claimIdle = idle
	}
}

// SetBackoff overrides the in-place retry backoff.
func (c *Consumer) SetBackoff(b queue.Backoff) {
	c.backoff = b
}

// Run starts the consume loop. Blocks until ctx is cancelled or Shutdown.
func (c *Consumer) Run(ctx context.Context, h queue.Handler) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("consumer already started")
	}
	c.started = true
	c.done = make(chan struct{})
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	defer close(c.done)

	if err := c.ensureConsumerGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	c.logger.Info("consumer started", "group", c.group)

	for {
		c.mu.Lock()
		draining := c.draining
		c.mu.Unlock()
		if draining {
			c.logger.Info("consumer draining, stopping")
			return nil
		}

		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping")
			return nil
		default:
			if err := c.processOnce(ctx, h); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				c.logger.Error("process error", "error", err)
				queue.Sleep(ctx, queue.ErrorDelay)
			}
		}
	}
}

// Shutdown stops the consumer, letting the in-flight message finish or be
// left pending for redelivery.
func (c *Consumer) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.draining = true
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	c.logger.Info("consumer shutdown initiated")
	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
		c.logger.Info("consumer shutdown complete")
		return nil
	case <-ctx.Done():
		c.logger.Warn("consumer shutdown timed out")
		return ctx.Err()
	}
}

func (c *Consumer) ensureConsumerGroup(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !isConsumerGroupExistsError(err) {
		return err
	}
	return nil
}

func (c *Consumer) processOnce(ctx context.Context, h queue.Handler) error {
	c.maybeUpdateQueueDepth(ctx)

	messages, err := c.maybeClaimPending(ctx)
	if err != nil {
		c.logger.Warn("failed to claim pending messages", "error", err)
	}
	if len(messages) == 0 {
		messages, err = c.readBatch(ctx)
		if err != nil {
			return err
		}
	}

	for _, msg := range messages {
		if err := c.handle(ctx, h, msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, h queue.Handler, msg redis.XMessage) error {
	payload, ok := msg.Values[payloadField].(string)
	if !ok {
		c.deadLetter(ctx, msg, "invalid_format", "payload field missing or not a string")
		return c.ack(ctx, msg.ID)
	}

	err := queue.Deliver(ctx, c.logger, c.backoff, h, []byte(payload))
	switch {
	case err == nil:
	case queue.IsPoison(err):
		c.deadLetter(ctx, msg, "poison", err.Error())
	default:
		// Left pending; reclaimed after claimIdle.
		return err
	}
	return c.ack(ctx, msg.ID)
}

func (c *Consumer) maybeClaimPending(ctx context.Context) ([]redis.XMessage, error) {
	if c.claimInterval <= 0 || c.claimIdle <= 0 {
		return nil, nil
	}
	if !c.lastClaim.IsZero() && time.Since(c.lastClaim) < c.claimInterval {
		return nil, nil
	}

	c.lastClaim = time.Now()
	messages, start, err := c.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumerID,
		MinIdle:  c.claimIdle,
		Start:    c.claimStartID,
		Count:    10,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if start != "" {
		c.claimStartID = start
	}
	return messages, nil
}

func (c *Consumer) maybeUpdateQueueDepth(ctx context.Context) {
	if c.metricsInterval <= 0 {
		return
	}
	if !c.lastMetrics.IsZero() && time.Since(c.lastMetrics) < c.metricsInterval {
		return
	}
	c.lastMetrics = time.Now()

	groups, err := c.redis.XInfoGroups(ctx, c.stream).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("failed to read stream group info", "error", err)
		return
	}
	for _, group := range groups {
		if group.Name == c.group {
			c.metrics.SetQueueDepth(group.Pending + group.Lag)
			return
		}
	}
}

func (c *Consumer) readBatch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumerID,
		Streams:  []string{c.stream, ">"},
		Count:    10,
		Block:    c.blockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) || len(streams) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	return streams[0].Messages, nil
}

func (c *Consumer) deadLetter(ctx context.Context, msg redis.XMessage, reason, detail string) {
	c.logger.Warn("dead-lettering poison message",
		"message_id", msg.ID,
		"reason", reason,
		"detail", detail,
	)

	_, err := c.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStream(c.stream),
		MaxLen: MaxDeadLetterLen,
		Approx: true,
		ID:     "*",
		Values: map[string]any{
			"original_id":      msg.ID,
			"original_stream":  c.stream,
			"reason":           reason,
			"detail":           detail,
			payloadField:       msg.Values[payloadField],
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		c.logger.Error("failed to write to dead-letter stream",
			"message_id", msg.ID,
			"error", err,
		)
	}
}

func (c *Consumer) ack(ctx context.Context, id string) error {
	if err := c.redis.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

func isConsumerGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

