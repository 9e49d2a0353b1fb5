// Package nipsa propagates denylist changes to the search index.
package nipsa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/annotator/nipsa/internal/metrics"
	"github.com/annotator/nipsa/internal/model"
	"github.com/annotator/nipsa/internal/queue"
	"github.com/annotator/nipsa/internal/search"
)

// Report summarizes one propagated event.
type Report struct {
	Event    model.ChangeEvent
	Matched  int
	Result   search.BulkResult
	Duration time.Duration
}

// Propagator applies change events to every document a user owns.
type Propagator struct {
	index   search.Index
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPropagator creates a propagator writing to index.
func NewPropagator(index search.Index, logger *slog.Logger, recorder metrics.Recorder) *Propagator {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Propagator{
		index:   index,
		logger:  logger.With("component", "nipsa.propagator"),
		metrics: recorder,
	}
}

// BuildQuery selects the documents an event still has to change: for a flag,
// the user's documents whose flag is not true; for an unflag, those whose
// flag is true. Once an event has been applied its query matches nothing.
func BuildQuery(event model.ChangeEvent) search.Query {
	return search.Query{
		OwnerUserID: event.UserID,
		Flagged:     event.Action == model.ActionUnflag,
	}
}

func opFor(action model.Action) (search.Op, error) {
	switch action {
	case model.ActionFlag:
		return search.OpSetFlag, nil
	case model.ActionUnflag:
		return search.OpRemoveFlag, nil
	default:
		return 0, fmt.Errorf("%w: invalid action %d", model.ErrMalformedEvent, int(action))
	}
}

// Propagate scans the documents selected by BuildQuery and mutates them in
// one bulk session. Rejected documents are reported in the result; an error
// means the index could not be reached and the event must be retried.
func (p *Propagator) Propagate(ctx context.Context, event model.ChangeEvent) (Report, error) {
	start := time.Now()
	report := Report{Event: event}

	op, err := opFor(event.Action)
	if err != nil {
		return report, err
	}

	bulk, err := p.index.NewBulk(ctx)
	if err != nil {
		return report, fmt.Errorf("open bulk session: %w", err)
	}

	scanErr := p.index.Scan(ctx, BuildQuery(event), func(id string) error {
		report.Matched++
		return bulk.Add(ctx, search.Action{DocumentID: id, Op: op})
	})

	// Close even after a failed scan so buffered actions are not lost.
	result, closeErr := bulk.Close(ctx)
	report.Result = result
	report.Duration = time.Since(start)

	if scanErr != nil {
		return report, fmt.Errorf("scan documents: %w", scanErr)
	}
	if closeErr != nil {
		return report, fmt.Errorf("flush bulk session: %w", closeErr)
	}
	return report, nil
}

// HandleMessage is the queue.Handler of the propagation worker.
func (p *Propagator) HandleMessage(ctx context.Context, payload []byte) error {
	event, err := model.DecodeChangeEvent(payload)
	if err != nil {
		p.metrics.IncEventProcessed(metrics.OutcomePoison)
		p.logger.Warn("malformed change event", "error", err, "payload", string(payload))
		return queue.Poison(err)
	}

	report, err := p.Propagate(ctx, event)
	p.metrics.AddBulkActions(report.Result.Succeeded, len(report.Result.Failed))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		p.metrics.IncEventProcessed(metrics.OutcomeRetry)
		p.logger.Error("propagation failed",
			"action", event.Action.String(),
			"user_id", event.UserID,
			"matched", report.Matched,
			"error", err,
		)
		return err
	}

	for _, f := range report.Result.Failed {
		p.logger.Warn("document update rejected",
			"action", event.Action.String(),
			"user_id", event.UserID,
			"document_id", f.DocumentID,
			"reason", f.Reason,
		)
	}

	outcome := metrics.OutcomeSuccess
	if len(report.Result.Failed) > 0 {
		outcome = metrics.OutcomePartial
	}
	p.metrics.IncEventProcessed(outcome)
	p.metrics.ObservePropagationDuration(report.Duration)

	p.logger.Info("change event propagated",
		"action", event.Action.String(),
		"user_id", event.UserID,
		"matched", report.Matched,
		"updated", report.Result.Succeeded,
		"failed", len(report.Result.Failed),
		"duration_ms", report.Duration.Milliseconds(),
	)
	return nil
}
