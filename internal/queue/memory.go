package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/annotator/nipsa/internal/model"
)

// Memory is an in-process channel implementing Publisher and Consumer.
// It backs tests and single-process development setups.
type Memory struct {
	mu      sync.Mutex
	pending [][]byte
	dead    [][]byte
	closed  bool
	notify  chan struct{}
	logger  *slog.Logger
	backoff Backoff

	started  bool
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

var (
	_ Publisher = (*Memory)(nil)
	_ Consumer  = (*Memory)(nil)
)

// NewMemory creates an empty in-process channel.
func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{
		notify:  make(chan struct{}, 1),
		logger:  logger.With("component", "queue.memory"),
		backoff: DefaultBackoff,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetBackoff overrides the in-place retry backoff.
func (m *Memory) SetBackoff(b Backoff) {
	m.backoff = b
}

// Publish appends an encoded event.
func (m *Memory) Publish(_ context.Context, event model.ChangeEvent) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	return m.PublishRaw(payload)
}

// PublishRaw appends an arbitrary payload, bypassing validation.
func (m *Memory) PublishRaw(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Unavailable("publish", errors.New("channel closed"))
	}
	m.pending = append(m.pending, payload)
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns a copy of the unconsumed payloads in order.
func (m *Memory) Pending() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.pending...)
}

// DeadLettered returns the payloads rejected as poison.
func (m *Memory) DeadLettered() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.dead...)
}

// Close rejects further publishes.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Drain delivers every pending message to h and returns when the channel
// is empty. A message is removed only after h acks it.
func (m *Memory) Drain(ctx context.Context, h Handler) error {
	for {
		payload, ok := m.peek()
		if !ok {
			return nil
		}
		if err := m.deliver(ctx, h, payload); err != nil {
			return err
		}
	}
}

// Run delivers messages as they arrive until ctx is cancelled or Shutdown.
func (m *Memory) Run(ctx context.Context, h Handler) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("consumer already started")
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()
	defer close(m.done)
	defer m.cancel()

	for {
		if err := m.Drain(ctx, h); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-m.stop:
			return nil
		case <-m.notify:
		}
	}
}

// Shutdown stops Run, abandoning an in-place retry, and waits for it to
// return. The interrupted message stays pending.
func (m *Memory) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	started, cancel := m.started, m.cancel
	m.mu.Unlock()
	if !started {
		return nil
	}
	cancel()

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) peek() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil, false
	}
	return m.pending[0], true
}

func (m *Memory) deliver(ctx context.Context, h Handler, payload []byte) error {
	err := Deliver(ctx, m.logger, m.backoff, h, payload)
	if err != nil && !IsPoison(err) {
		return err
	}

	m.mu.Lock()
	m.pending = m.pending[1:]
	if err != nil {
		m.dead = append(m.dead, payload)
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("dropping poison message", "error", err, "payload", string(payload))
	}
	return nil
}
