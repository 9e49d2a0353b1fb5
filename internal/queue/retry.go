package queue

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Backoff computes the delay before a redelivery attempt.
type Backoff struct {
	Initial        time.Duration
	Max            time.Duration
	Multiplier     float64
	JitterFraction float64
}

// DefaultBackoff is used by transports that retry in place.
var DefaultBackoff = Backoff{
	Initial:        500 * time.Millisecond,
	Max:            30 * time.Second,
	Multiplier:     2.0,
	JitterFraction: 0.1,
}

// Delay returns the wait before the given attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt-1))
	d += d * b.JitterFraction * (2*rand.Float64() - 1)
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if d < 0 {
		d = float64(b.Initial)
	}
	return time.Duration(d)
}

// ErrorDelay is the pause after a failed fetch before a consumer tries again.
const ErrorDelay = time.Second

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Deliver runs h until it succeeds, reports poison, or ctx is cancelled.
// Transient failures are retried in place so later messages never overtake
// an earlier one. The returned error is nil, a poison error, or ctx.Err().
func Deliver(ctx context.Context, logger *slog.Logger, b Backoff, h Handler, payload []byte) error {
	for attempt := 1; ; attempt++ {
		err := h(ctx, payload)
		if err == nil || IsPoison(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := b.Delay(attempt)
		logger.Warn("message handling failed, retrying",
			"attempt", attempt,
			"next_delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
