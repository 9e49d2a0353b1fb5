package bleve

import (
	"context"
	"errors"
	"fmt"

	"github.com/annotator/nipsa/internal/search"
)

type bulk struct {
	x       *Index
	pending []search.Action
	result  search.BulkResult
}

// NewBulk opens a bulk session that applies actions in bleve batches of
// FlushActions documents.
func (x *Index) NewBulk(context.Context) (search.Bulk, error) {
	return &bulk{x: x, pending: make([]search.Action, 0, x.cfg.FlushActions)}, nil
}

func (b *bulk) Add(ctx context.Context, a search.Action) error {
	b.pending = append(b.pending, a)
	if len(b.pending) >= b.x.cfg.FlushActions {
		return b.flush(ctx)
	}
	return nil
}

func (b *bulk) Close(ctx context.Context) (search.BulkResult, error) {
	if err := b.flush(ctx); err != nil {
		return b.result, err
	}
	return b.result, nil
}

func (b *bulk) flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := b.x.idx.NewBatch()
	var applied int
	for _, a := range b.pending {
		doc, err := b.x.Get(a.DocumentID)
		if errors.Is(err, search.ErrIndexUnavailable) {
			return err
		}
		if err == nil {
			err = applyOp(b.x.cfg.Schema, doc, a.Op)
		}
		if err == nil {
			var body map[string]any
			body, err = encodeDocument(doc)
			if err == nil {
				err = batch.Index(a.DocumentID, body)
			}
		}
		if err != nil {
			b.result.Failed = append(b.result.Failed, search.BulkFailure{
				DocumentID: a.DocumentID,
				Reason:     err.Error(),
			})
			continue
		}
		applied++
	}

	if err := b.x.idx.Batch(batch); err != nil {
		return search.Unavailable("batch", err)
	}
	b.result.Succeeded += applied
	b.pending = b.pending[:0]
	return nil
}

func applyOp(schema search.Schema, doc map[string]any, op search.Op) error {
	switch op {
	case search.OpSetFlag:
		doc[schema.FlagField] = true
	case search.OpRemoveFlag:
		delete(doc, schema.FlagField)
	default:
		return fmt.Errorf("unknown bulk op %v", op)
	}
	return nil
}
