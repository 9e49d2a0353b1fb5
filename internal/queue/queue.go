// Package queue carries change events from the Administrative API to the
// propagation worker. Transports live in the redisstream, natsq and kafkaq
// subpackages; all of them deliver at least once and in publish order.
package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/annotator/nipsa/internal/model"
)

// Default names of the topic and the consumer group.
const (
	DefaultTopic   = "nipsa_user_requests"
	DefaultChannel = "nipsa_users_annotations"
)

var (
	// ErrChannelUnavailable wraps every publish failure.
	ErrChannelUnavailable = errors.New("channel unavailable")
	// ErrPoison marks a message that can never be processed. Consumers ack
	// (and dead-letter where supported) instead of redelivering it.
	ErrPoison = errors.New("poison message")
)

// Handler processes one raw message payload.
//
// nil acks the message. An error wrapping ErrPoison acks and dead-letters it.
// Any other error leaves the message unacknowledged for redelivery.
type Handler func(ctx context.Context, payload []byte) error

// Publisher sends change events to the channel.
type Publisher interface {
	Publish(ctx context.Context, event model.ChangeEvent) error
	Close() error
}

// Consumer delivers channel messages to a Handler one at a time.
type Consumer interface {
	// Run blocks until ctx is cancelled or Shutdown is called.
	Run(ctx context.Context, h Handler) error
	// Shutdown stops Run after the in-flight message completes.
	Shutdown(ctx context.Context) error
}

// Poison wraps err so that IsPoison reports true.
func Poison(err error) error {
	return fmt.Errorf("%w: %w", ErrPoison, err)
}

// IsPoison reports whether err marks a poison message.
func IsPoison(err error) bool {
	return errors.Is(err, ErrPoison)
}

// Unavailable wraps a transport failure as ErrChannelUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrChannelUnavailable, err)
}

// NewConsumerID creates a stable-ish consumer name for consumer groups.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
}

// NoopPublisher drops every event. Used when the queue feature is disabled.
type NoopPublisher struct{}

// Publish does nothing.
func (NoopPublisher) Publish(context.Context, model.ChangeEvent) error { return nil }

// Close does nothing.
func (NoopPublisher) Close() error { return nil }
