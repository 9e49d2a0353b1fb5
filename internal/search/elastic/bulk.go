package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/annotator/nipsa/internal/search"
)

const retryOnConflict = 3

type bulk struct {
	bi     esutil.BulkIndexer
	schema search.Schema

	mu       sync.Mutex
	result   search.BulkResult
	flushErr error
}

// NewBulk opens an esutil.BulkIndexer session with a single worker, so
// actions reach the cluster in the order they were added.
func (x *Index) NewBulk(ctx context.Context) (search.Bulk, error) {
	b := &bulk{schema: x.cfg.Schema}

	refresh := "false"
	if x.cfg.Refresh {
		refresh = "wait_for"
	}

	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:     x.es,
		Index:      x.cfg.Index,
		NumWorkers: 1,
		FlushBytes: x.cfg.FlushActions * approxActionBytes,
		Refresh:    refresh,
		OnError: func(_ context.Context, err error) {
			x.logger.Warn("bulk flush failed", "error", err)
			b.mu.Lock()
			b.flushErr = err
			b.mu.Unlock()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create bulk indexer: %w", err)
	}
	b.bi = bi
	return b, nil
}

func (b *bulk) Add(ctx context.Context, a search.Action) error {
	body, err := actionBody(b.schema, a.Op)
	if err != nil {
		return err
	}

	retries := retryOnConflict
	err = b.bi.Add(ctx, esutil.BulkIndexerItem{
		Action:          "update",
		DocumentID:      a.DocumentID,
		Body:            bytes.NewReader(body),
		RetryOnConflict: &retries,
		OnSuccess: func(context.Context, esutil.BulkIndexerItem, esutil.BulkIndexerResponseItem) {
			b.mu.Lock()
			b.result.Succeeded++
			b.mu.Unlock()
		},
		OnFailure: func(_ context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if err != nil {
				// The whole request failed, not this document.
				b.flushErr = err
				return
			}
			reason := res.Error.Type
			if res.Error.Reason != "" {
				reason += ": " + res.Error.Reason
			}
			b.result.Failed = append(b.result.Failed, search.BulkFailure{
				DocumentID: item.DocumentID,
				Reason:     reason,
			})
		},
	})
	if err != nil {
		return search.Unavailable("bulk add", err)
	}
	return nil
}

func (b *bulk) Close(ctx context.Context) (search.BulkResult, error) {
	if err := b.bi.Close(ctx); err != nil {
		return search.BulkResult{}, search.Unavailable("bulk close", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushErr != nil {
		return b.result, search.Unavailable("bulk flush", b.flushErr)
	}
	return b.result, nil
}

// actionBody returns the partial-update body for op.
func actionBody(schema search.Schema, op search.Op) ([]byte, error) {
	switch op {
	case search.OpSetFlag:
		return json.Marshal(map[string]any{
			"doc": map[string]any{schema.FlagField: true},
		})
	case search.OpRemoveFlag:
		return json.Marshal(map[string]any{
			"script": map[string]any{
				"lang":   "painless",
				"source": "ctx._source.remove(params.field)",
				"params": map[string]any{"field": schema.FlagField},
			},
		})
	default:
		return nil, fmt.Errorf("unknown bulk op %v", op)
	}
}
