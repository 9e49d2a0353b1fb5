package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) ObserveHTTPRequest(string, string, int, time.Duration) {}
func (n *NoopRecorder) IncUserFlagged()                                       {}
func (n *NoopRecorder) IncUserUnflagged()                                     {}
func (n *NoopRecorder) IncEventPublished(string)                              {}
func (n *NoopRecorder) IncEventProcessed(string)                              {}
func (n *NoopRecorder) AddBulkActions(int, int)                               {}
func (n *NoopRecorder) ObservePropagationDuration(time.Duration)              {}
func (n *NoopRecorder) SetQueueDepth(int64)                                   {}
