package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/annotator/nipsa/internal/model"
)

var fastBackoff = Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPoison(t *testing.T) {
	t.Parallel()

	cause := errors.New("bad json")
	err := Poison(cause)
	if !IsPoison(err) {
		t.Error("Poison error should be detected by IsPoison")
	}
	if !errors.Is(err, cause) {
		t.Error("Poison should keep the cause")
	}
	if IsPoison(cause) {
		t.Error("plain error should not be poison")
	}
}

func TestBackoff_Delay(t *testing.T) {
	t.Parallel()

	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{10, time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDeliver_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	h := func(context.Context, []byte) error {
		calls++
		if calls < 3 {
			return errors.New("index down")
		}
		return nil
	}

	if err := Deliver(context.Background(), discardLogger(), fastBackoff, h, nil); err != nil {
		t.Fatalf("Deliver returned %v", err)
	}
	if calls != 3 {
		t.Errorf("handler called %d times, want 3", calls)
	}
}

func TestDeliver_PoisonIsNotRetried(t *testing.T) {
	t.Parallel()

	calls := 0
	h := func(context.Context, []byte) error {
		calls++
		return Poison(model.ErrMalformedEvent)
	}

	err := Deliver(context.Background(), discardLogger(), fastBackoff, h, nil)
	if !IsPoison(err) {
		t.Fatalf("Deliver returned %v, want poison", err)
	}
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestDeliver_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	h := func(context.Context, []byte) error {
		cancel()
		return errors.New("index down")
	}

	if err := Deliver(ctx, discardLogger(), fastBackoff, h, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Deliver returned %v, want context.Canceled", err)
	}
}

func TestMemory_DeliversInOrderAtLeastOnce(t *testing.T) {
	t.Parallel()

	m := NewMemory(discardLogger())
	m.SetBackoff(fastBackoff)
	ctx := context.Background()

	_ = m.Publish(ctx, model.NewFlagEvent("acct:a"))
	_ = m.Publish(ctx, model.NewUnflagEvent("acct:a"))

	var seen []string
	failOnce := true
	err := m.Drain(ctx, func(_ context.Context, payload []byte) error {
		seen = append(seen, string(payload))
		if failOnce {
			failOnce = false
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	want := []string{
		`{"action":"nipsa","user_id":"acct:a"}`,
		`{"action":"nipsa","user_id":"acct:a"}`,
		`{"action":"unnipsa","user_id":"acct:a"}`,
	}
	if len(seen) != len(want) {
		t.Fatalf("seen %d deliveries, want %d: %q", len(seen), len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("delivery %d = %s, want %s", i, seen[i], want[i])
		}
	}
	if len(m.Pending()) != 0 {
		t.Error("channel should be empty after drain")
	}
}

func TestMemory_PoisonIsDeadLettered(t *testing.T) {
	t.Parallel()

	m := NewMemory(discardLogger())
	_ = m.PublishRaw([]byte(`{"action":"add","user_id":"acct:a"}`))

	err := m.Drain(context.Background(), func(_ context.Context, payload []byte) error {
		_, err := model.DecodeChangeEvent(payload)
		return Poison(err)
	})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(m.DeadLettered()) != 1 {
		t.Errorf("dead letters = %d, want 1", len(m.DeadLettered()))
	}
}

func TestMemory_PublishAfterClose(t *testing.T) {
	t.Parallel()

	m := NewMemory(discardLogger())
	_ = m.Close()

	err := m.Publish(context.Background(), model.NewFlagEvent("acct:a"))
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("Publish after close = %v, want ErrChannelUnavailable", err)
	}
}

func TestMemory_RunAndShutdown(t *testing.T) {
	t.Parallel()

	m := NewMemory(discardLogger())
	got := make(chan string, 1)

	go func() {
		_ = m.Run(context.Background(), func(_ context.Context, payload []byte) error {
			got <- string(payload)
			return nil
		})
	}()

	_ = m.Publish(context.Background(), model.NewFlagEvent("acct:b"))
	select {
	case p := <-got:
		if p != `{"action":"nipsa","user_id":"acct:b"}` {
			t.Errorf("payload = %s", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestSleep_ReturnsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	Sleep(ctx, time.Hour)
	if time.Since(start) > time.Second {
		t.Error("Sleep ignored cancellation")
	}
}

func TestMemory_ShutdownInterruptsRetry(t *testing.T) {
	t.Parallel()

	m := NewMemory(discardLogger())
	m.SetBackoff(Backoff{Initial: time.Hour, Max: time.Hour, Multiplier: 1})
	_ = m.Publish(context.Background(), model.NewFlagEvent("acct:a"))

	attempted := make(chan struct{}, 1)
	runErr := make(chan error, 1)
	go func() {
		runErr <- m.Run(context.Background(), func(context.Context, []byte) error {
			select {
			case attempted <- struct{}{}:
			default:
			}
			return errors.New("index down")
		})
	}()

	select {
	case <-attempted:
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown waited out its deadline: %v", err)
	}
	if err := <-runErr; err != nil {
		t.Errorf("Run returned %v", err)
	}
	if len(m.Pending()) != 1 {
		t.Error("interrupted message should stay pending")
	}
}
