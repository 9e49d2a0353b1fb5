// Package natsq implements the change channel on NATS JetStream.
package natsq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/annotator/nipsa/internal/model"
	"github.com/annotator/nipsa/internal/queue"
)

// StreamName is the JetStream stream holding change events.
const StreamName = "NIPSA"

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
	logger  *slog.Logger
}

// Connect dials url and makes sure the stream for subject exists.
func Connect(url, subject, appName string, logger *slog.Logger) (*Client, error) {
	logger = logger.With("component", "queue.nats", "subject", subject)

	nc, err := nats.Connect(url,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	c := &Client{conn: nc, js: js, subject: subject, logger: logger}
	if err := c.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureStream() error {
	_, err := c.js.StreamInfo(StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info: %w", err)
	}

	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{c.subject},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxMsgs:   100000,
	})
	if err != nil {
		return fmt.Errorf("add stream: %w", err)
	}
	return nil
}

// Ping reports whether the connection is up.
func (c *Client) Ping(context.Context) error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("nats: %s", c.conn.Status())
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (c *Client) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Drain()
}

// Publisher returns a publisher on the client's subject.
func (c *Client) Publisher() *Publisher {
	return &Publisher{client: c}
}

// Consumer returns a durable pull consumer named durable.
func (c *Client) Consumer(durable string) *Consumer {
	return &Consumer{
		client:  c,
		durable: durable,
		backoff: queue.DefaultBackoff,
		logger:  c.logger.With("durable", durable),
		fetch:   5 * time.Second,

		errorDelay: queue.ErrorDelay,
	}
}

// Publisher publishes change events to JetStream.
type Publisher struct {
	client *Client
}

var _ queue.Publisher = (*Publisher)(nil)

// Publish waits for the JetStream ack so the event is durable on return.
func (p *Publisher) Publish(ctx context.Context, event model.ChangeEvent) error {
	data, err := event.Encode()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := nats.NewMsg(p.client.subject)
	msg.Data = data
	msg.Header.Set("user_id", event.UserID)

	ack, err := p.client.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return queue.Unavailable("jetstream publish", err)
	}

	p.client.logger.Debug("change event published",
		"action", event.Action.String(),
		"user_id", event.UserID,
		"seq", ack.Sequence,
	)
	return nil
}

// Close is a no-op; the connection is owned by Client.
func (p *Publisher) Close() error {
	return nil
}

// Consumer pulls change events one at a time. MaxAckPending is 1 so a
// nak'd message is redelivered before any later one.
type Consumer struct {
	client  *Client
	durable string
	backoff queue.Backoff
	logger  *slog.Logger
	fetch   time.Duration
	// errorDelay paces retries after a failed fetch.
	errorDelay time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ queue.Consumer = (*Consumer)(nil)

// Run fetches and handles messages until ctx is cancelled or Shutdown.
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

	sub, err := c.client.js.PullSubscribe(c.client.subject, c.durable,
		nats.BindStream(StreamName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxAckPending(1),
		nats.DeliverAll(),
	)
	if err != nil {
		return fmt.Errorf("pull subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	c.logger.Info("consumer started")
	for {
		if ctx.Err() != nil {
			c.logger.Info("consumer stopping")
			return nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.fetch)
		msgs, err := sub.Fetch(1, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.Canceled) {
				continue
			}
			c.logger.Error("fetch failed", "error", err)
			queue.Sleep(ctx, c.errorDelay)
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, h, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h queue.Handler, msg *nats.Msg) {
	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	err := h(ctx, msg.Data)
	switch {
	case err == nil:
		if err := msg.Ack(); err != nil {
			c.logger.Warn("ack failed", "error", err)
		}
	case queue.IsPoison(err):
		c.logger.Warn("terminating poison message", "error", err, "payload", string(msg.Data))
		if err := msg.Term(); err != nil {
			c.logger.Warn("term failed", "error", err)
		}
	default:
		delay := c.backoff.Delay(attempt)
		c.logger.Warn("message handling failed, redelivering",
			"attempt", attempt,
			"next_delay", delay,
			"error", err,
		)
		if err := msg.NakWithDelay(delay); err != nil {
			c.logger.Warn("nak failed", "error", err)
		}
	}
}

// Shutdown stops Run and waits for the in-flight message.
func (c *Consumer) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
