// Package bleve implements search.Index on an embedded bleve index. It backs
// single-node deployments and tests that need a real query engine.
package bleve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"

	"github.com/annotator/nipsa/internal/search"
)

const (
	// documentField stores the JSON body of each document so it can be
	// re-indexed with one field changed.
	documentField = "document_json"

	defaultPageSize     = 500
	defaultFlushActions = 1000

	// MemoryPath opens a non-persistent index.
	MemoryPath = ":memory:"
)

// ErrDocumentNotFound is returned by Get for unknown IDs.
var ErrDocumentNotFound = errors.New("document not found")

// Config configures the bleve index.
type Config struct {
	// Path is the index directory, or MemoryPath.
	Path         string
	Schema       search.Schema
	PageSize     int
	FlushActions int
}

// Index is a bleve-backed search.Index.
type Index struct {
	idx    bleve.Index
	cfg    Config
	logger *slog.Logger
}

var _ search.Index = (*Index)(nil)

// Open opens the index at cfg.Path, creating it when missing.
func Open(cfg Config, logger *slog.Logger) (*Index, error) {
	cfg.Schema = cfg.Schema.WithDefaults()
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.FlushActions <= 0 {
		cfg.FlushActions = defaultFlushActions
	}

	var (
		idx bleve.Index
		err error
	)
	switch cfg.Path {
	case "", MemoryPath:
		idx, err = bleve.NewMemOnly(newMapping(cfg.Schema))
	default:
		idx, err = bleve.Open(cfg.Path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(cfg.Path, newMapping(cfg.Schema))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}

	return &Index{
		idx:    idx,
		cfg:    cfg,
		logger: logger.With("component", "search.bleve", "path", cfg.Path),
	}, nil
}

// newMapping indexes the owner as a single keyword and the flag as a
// boolean. Other fields are mapped dynamically.
func newMapping(schema search.Schema) mapping.IndexMapping {
	owner := bleve.NewKeywordFieldMapping()
	owner.Store = true

	flag := bleve.NewBooleanFieldMapping()
	flag.Store = true

	doc := bleve.NewTextFieldMapping()
	doc.Index = false
	doc.Store = true
	doc.IncludeInAll = false
	doc.IncludeTermVectors = false
	doc.DocValues = false

	dm := bleve.NewDocumentMapping()
	dm.AddFieldMappingsAt(schema.OwnerField, owner)
	dm.AddFieldMappingsAt(schema.FlagField, flag)
	dm.AddFieldMappingsAt(documentField, doc)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = dm
	return im
}

// Ping reports whether the index is open.
func (x *Index) Ping(context.Context) error {
	if _, err := x.idx.DocCount(); err != nil {
		return search.Unavailable("ping", err)
	}
	return nil
}

// Close closes the index.
func (x *Index) Close() error {
	return x.idx.Close()
}

// Put indexes doc under id, replacing any previous version.
func (x *Index) Put(id string, doc map[string]any) error {
	body, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	if err := x.idx.Index(id, body); err != nil {
		return search.Unavailable("index", err)
	}
	return nil
}

// Get returns the stored body of id.
func (x *Index) Get(id string) (map[string]any, error) {
	d, err := x.idx.Document(id)
	if err != nil {
		return nil, search.Unavailable("get", err)
	}
	if d == nil {
		return nil, ErrDocumentNotFound
	}

	var raw []byte
	d.VisitFields(func(f index.Field) {
		if f.Name() == documentField {
			raw = f.Value()
		}
	})
	if raw == nil {
		return nil, fmt.Errorf("document %s has no stored body", id)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	return doc, nil
}

// Scan pages through matching IDs sorted by _id using search-after, so
// concurrent updates to already visited documents do not shift pages.
func (x *Index) Scan(ctx context.Context, q search.Query, fn func(id string) error) error {
	var after []string
	for {
		req := bleve.NewSearchRequestOptions(buildQuery(x.cfg.Schema, q), x.cfg.PageSize, 0, false)
		req.SortBy([]string{"_id"})
		if after != nil {
			req.SetSearchAfter(after)
		}

		res, err := x.idx.SearchInContext(ctx, req)
		if err != nil {
			return search.Unavailable("search", err)
		}
		if len(res.Hits) == 0 {
			return nil
		}

		for _, hit := range res.Hits {
			if err := fn(hit.ID); err != nil {
				return err
			}
		}
		after = []string{res.Hits[len(res.Hits)-1].ID}
	}
}

func buildQuery(schema search.Schema, q search.Query) query.Query {
	owner := bleve.NewTermQuery(q.OwnerUserID)
	owner.SetField(schema.OwnerField)

	flagged := bleve.NewBoolFieldQuery(true)
	flagged.SetField(schema.FlagField)

	bq := bleve.NewBooleanQuery()
	bq.AddMust(owner)
	if q.Flagged {
		bq.AddMust(flagged)
	} else {
		bq.AddMustNot(flagged)
	}
	return bq
}

func encodeDocument(doc map[string]any) (map[string]any, error) {
	body := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		if k != documentField {
			body[k] = v
		}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	body[documentField] = string(raw)
	return body, nil
}
