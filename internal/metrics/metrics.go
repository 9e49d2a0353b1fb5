// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Event outcomes reported by the propagation worker.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomePoison  = "poison"
	OutcomeRetry   = "retry"
)

// Publish statuses reported by the Administrative API.
const (
	PublishSuccess  = "success"
	PublishFailed   = "failed"
	PublishDisabled = "disabled"
)

// Recorder captures metric events for the application.
type Recorder interface {
	// Administrative API
	ObserveHTTPRequest(method, route string, status int, duration time.Duration)
	IncUserFlagged()
	IncUserUnflagged()
	IncEventPublished(status string)

	// Propagation worker
	IncEventProcessed(outcome string)
	AddBulkActions(succeeded, failed int)
	ObservePropagationDuration(duration time.Duration)
	SetQueueDepth(depth int64)
}
