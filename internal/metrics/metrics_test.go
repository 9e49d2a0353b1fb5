package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorder_Counters(t *testing.T) {
	m := NewPrometheus("nipsa")

	m.IncUserFlagged()
	m.IncUserFlagged()
	m.IncUserUnflagged()
	m.IncEventProcessed(OutcomePoison)
	m.AddBulkActions(9, 1)
	m.SetQueueDepth(42)

	if got := testutil.ToFloat64(m.usersFlaggedTotal); got != 2 {
		t.Errorf("users_flagged_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.usersUnflaggedTotal); got != 1 {
		t.Errorf("users_unflagged_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.eventsProcessed.WithLabelValues(OutcomePoison)); got != 1 {
		t.Errorf("events_processed_total{poison} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.bulkActionsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("bulk_actions_total{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.queueDepth); got != 42 {
		t.Errorf("queue_depth = %v, want 42", got)
	}
}

func TestPrometheusRecorder_Handler(t *testing.T) {
	m := NewPrometheus("nipsa")
	m.ObserveHTTPRequest("GET", "/nipsa/user", 200, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `nipsa_http_requests_total{method="GET",route="/nipsa/user",status="200"} 1`) {
		t.Errorf("scrape output missing request counter:\n%s", body)
	}
}

func TestPrometheusRecorder_IndependentRegistries(t *testing.T) {
	// Two recorders must not collide on registration.
	_ = NewPrometheus("nipsa")
	_ = NewPrometheus("nipsa")
}

func TestInMemoryRecorder(t *testing.T) {
	m := NewInMemory()
	m.IncEventPublished(PublishSuccess)
	m.IncEventPublished(PublishSuccess)
	m.IncEventProcessed(OutcomeSuccess)
	m.AddBulkActions(3, 2)

	s := m.Snapshot()
	if s.EventsPublished[PublishSuccess] != 2 {
		t.Errorf("EventsPublished[success] = %d, want 2", s.EventsPublished[PublishSuccess])
	}
	if s.EventsProcessed[OutcomeSuccess] != 1 {
		t.Errorf("EventsProcessed[success] = %d, want 1", s.EventsProcessed[OutcomeSuccess])
	}
	if s.BulkSucceeded != 3 || s.BulkFailed != 2 {
		t.Errorf("bulk = %d/%d, want 3/2", s.BulkSucceeded, s.BulkFailed)
	}

	s.EventsPublished[PublishSuccess] = 100
	if m.Snapshot().EventsPublished[PublishSuccess] != 2 {
		t.Error("Snapshot should return a copy")
	}
}
