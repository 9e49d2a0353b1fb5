//go:build integration

package natsq

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/annotator/nipsa/internal/model"
	"github.com/annotator/nipsa/internal/queue"
	"github.com/annotator/nipsa/internal/testutil"
)

func TestIntegrationPublishConsume(t *testing.T) {
	url := testutil.RequireEnv(t, "NATS_URL")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client, err := Connect(url, queue.DefaultTopic, "nipsa-test", logger)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	userID := testutil.UniqueID("acct")
	if err := client.Publisher().Publish(ctx, model.NewFlagEvent(userID)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	consumer := client.Consumer(testutil.UniqueID("durable"))
	got := make(chan model.ChangeEvent, 16)
	go func() {
		_ = consumer.Run(ctx, func(_ context.Context, payload []byte) error {
			event, err := model.DecodeChangeEvent(payload)
			if err != nil {
				return queue.Poison(err)
			}
			got <- event
			return nil
		})
	}()
	defer consumer.Shutdown(context.Background())

	for {
		select {
		case event := <-got:
			if event.UserID == userID {
				if event.Action != model.ActionFlag {
					t.Errorf("Action = %v, want flag", event.Action)
				}
				return
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
	}
}
