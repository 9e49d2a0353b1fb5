//go:build integration

package redisstream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/annotator/nipsa/internal/model"
	"github.com/annotator/nipsa/internal/queue"
	"github.com/annotator/nipsa/internal/testutil"
)

func TestIntegrationPublishConsume(t *testing.T) {
	client := testutil.NewRedisClient(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	stream := testutil.UniqueID("nipsa_it")
	pub := NewPublisher(client, stream, logger)

	if err := pub.Publish(ctx, model.NewFlagEvent("acct:a")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	poison := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{payloadField: `{"action":"add","user_id":"acct:a"}`},
	}
	if err := client.XAdd(ctx, poison).Err(); err != nil {
		t.Fatalf("xadd poison: %v", err)
	}
	if err := pub.Publish(ctx, model.NewUnflagEvent("acct:a")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	consumer := NewConsumer(client, stream, queue.DefaultChannel, queue.NewConsumerID(), logger, nil)
	consumer.SetBlockTimeout(100 * time.Millisecond)
	consumer.SetBackoff(queue.Backoff{Initial: time.Millisecond, Max: 10 * time.Millisecond, Multiplier: 2})

	var (
		mu       sync.Mutex
		handled  []model.ChangeEvent
		failOnce = true
	)
	done := make(chan struct{})
	go func() {
		_ = consumer.Run(ctx, func(_ context.Context, payload []byte) error {
			event, err := model.DecodeChangeEvent(payload)
			if err != nil {
				return queue.Poison(err)
			}
			if failOnce {
				failOnce = false
				return errors.New("index down")
			}
			mu.Lock()
			handled = append(handled, event)
			n := len(handled)
			mu.Unlock()
			if n == 2 {
				close(done)
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for events")
	}
	_ = consumer.Shutdown(context.Background())

	if handled[0].Action != model.ActionFlag || handled[1].Action != model.ActionUnflag {
		t.Errorf("events out of order: %+v", handled)
	}

	dlq, err := client.XLen(ctx, DeadLetterStream(stream)).Result()
	if err != nil {
		t.Fatalf("xlen dlq: %v", err)
	}
	if dlq != 1 {
		t.Errorf("dead letters = %d, want 1", dlq)
	}
}
