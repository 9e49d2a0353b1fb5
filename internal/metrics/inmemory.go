package metrics

import (
	"sync"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	HTTPRequests    uint64
	UsersFlagged    uint64
	UsersUnflagged  uint64
	EventsPublished map[string]uint64
	EventsProcessed map[string]uint64
	BulkSucceeded   uint64
	BulkFailed      uint64
	Propagations    uint64
	QueueDepth      int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu   sync.Mutex
	snap Snapshot
}

var _ Recorder = (*InMemoryRecorder)(nil)

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{snap: Snapshot{
		EventsPublished: make(map[string]uint64),
		EventsProcessed: make(map[string]uint64),
	}}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.snap
	s.EventsPublished = copyCounts(m.snap.EventsPublished)
	s.EventsProcessed = copyCounts(m.snap.EventsProcessed)
	return s
}

func (m *InMemoryRecorder) ObserveHTTPRequest(string, string, int, time.Duration) {
	m.mu.Lock()
	m.snap.HTTPRequests++
	m.mu.Unlock()
}

func (m *InMemoryRecorder) IncUserFlagged() {
	m.mu.Lock()
	m.snap.UsersFlagged++
	m.mu.Unlock()
}

func (m *InMemoryRecorder) IncUserUnflagged() {
	m.mu.Lock()
	m.snap.UsersUnflagged++
	m.mu.Unlock()
}

func (m *InMemoryRecorder) IncEventPublished(status string) {
	m.mu.Lock()
	m.snap.EventsPublished[status]++
	m.mu.Unlock()
}

func (m *InMemoryRecorder) IncEventProcessed(outcome string) {
	m.mu.Lock()
	m.snap.EventsProcessed[outcome]++
	m.mu.Unlock()
}

func (m *InMemoryRecorder) AddBulkActions(succeeded, failed int) {
	m.mu.Lock()
	m.snap.BulkSucceeded += uint64(succeeded)
	m.snap.BulkFailed += uint64(failed)
	m.mu.Unlock()
}

func (m *InMemoryRecorder) ObservePropagationDuration(time.Duration) {
	m.mu.Lock()
	m.snap.Propagations++
	m.mu.Unlock()
}

func (m *InMemoryRecorder) SetQueueDepth(depth int64) {
	m.mu.Lock()
	m.snap.QueueDepth = depth
	m.mu.Unlock()
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
