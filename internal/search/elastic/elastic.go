// Package elastic implements search.Index on Elasticsearch.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/tidwall/gjson"

	"github.com/annotator/nipsa/internal/search"
)

const (
	defaultPageSize     = 500
	defaultFlushActions = 1000
	defaultKeepAlive    = time.Minute

	// approxActionBytes sizes the bulk flush threshold from an action count.
	approxActionBytes = 128
)

// Config configures the Elasticsearch index.
type Config struct {
	Addresses    []string
	Username     string
	Password     string
	Index        string
	Schema       search.Schema
	PageSize     int
	FlushActions int
	KeepAlive    time.Duration
	// Refresh makes bulk writes visible to search before Close returns.
	Refresh bool
}

// Index is an Elasticsearch-backed search.Index.
type Index struct {
	es     *elasticsearch.Client
	cfg    Config
	logger *slog.Logger
}

var _ search.Index = (*Index)(nil)

// New creates a client. It does not contact the cluster; use Ping.
func New(cfg Config, logger *slog.Logger) (*Index, error) {
	cfg.Schema = cfg.Schema.WithDefaults()
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.FlushActions <= 0 {
		cfg.FlushActions = defaultFlushActions
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("elasticsearch index name is required")
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	return &Index{
		es:     es,
		cfg:    cfg,
		logger: logger.With("component", "search.elastic", "index", cfg.Index),
	}, nil
}

// Ping checks cluster connectivity.
func (x *Index) Ping(ctx context.Context) error {
	res, err := x.es.Ping(x.es.Ping.WithContext(ctx))
	if err != nil {
		return search.Unavailable("ping", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return search.Unavailable("ping", fmt.Errorf("status %d", res.StatusCode))
	}
	return nil
}

// Close is a no-op; the HTTP transport holds no resources that need release.
func (x *Index) Close() error {
	return nil
}

// Scan pages through matching document IDs with the scroll API. Document
// bodies are never fetched.
func (x *Index) Scan(ctx context.Context, q search.Query, fn func(id string) error) error {
	body, err := json.Marshal(map[string]any{
		"_source": false,
		"sort":    []string{"_doc"},
		"query":   buildQuery(x.cfg.Schema, q),
	})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	res, err := x.es.Search(
		x.es.Search.WithContext(ctx),
		x.es.Search.WithIndex(x.cfg.Index),
		x.es.Search.WithBody(bytes.NewReader(body)),
		x.es.Search.WithScroll(x.cfg.KeepAlive),
		x.es.Search.WithSize(x.cfg.PageSize),
	)
	if err != nil {
		return search.Unavailable("search", err)
	}
	page, err := readBody("search", res)
	if err != nil {
		return err
	}

	scrollID := gjson.GetBytes(page, "_scroll_id").String()
	defer func() { x.clearScroll(scrollID) }()

	for {
		hits := gjson.GetBytes(page, "hits.hits.#._id").Array()
		if len(hits) == 0 {
			return nil
		}
		for _, hit := range hits {
			if err := fn(hit.String()); err != nil {
				return err
			}
		}

		page, err = x.scroll(ctx, scrollID)
		if err != nil {
			return err
		}
		if id := gjson.GetBytes(page, "_scroll_id").String(); id != "" {
			scrollID = id
		}
	}
}

func (x *Index) scroll(ctx context.Context, scrollID string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{
		"scroll":    x.cfg.KeepAlive.String(),
		"scroll_id": scrollID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal scroll: %w", err)
	}

	res, err := x.es.Scroll(
		x.es.Scroll.WithContext(ctx),
		x.es.Scroll.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, search.Unavailable("scroll", err)
	}
	return readBody("scroll", res)
}

func (x *Index) clearScroll(scrollID string) {
	if scrollID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := x.es.ClearScroll(
		x.es.ClearScroll.WithContext(ctx),
		x.es.ClearScroll.WithScrollID(scrollID),
	)
	if err != nil {
		x.logger.Debug("clear scroll failed", "error", err)
		return
	}
	_ = res.Body.Close()
}

// buildQuery returns the bool query selecting q's documents:
// owner == user AND (flag == true | NOT flag == true).
func buildQuery(schema search.Schema, q search.Query) map[string]any {
	owner := map[string]any{"term": map[string]any{schema.OwnerField: q.OwnerUserID}}
	flagged := map[string]any{"term": map[string]any{schema.FlagField: true}}

	boolQuery := map[string]any{}
	if q.Flagged {
		boolQuery["filter"] = []any{owner, flagged}
	} else {
		boolQuery["filter"] = []any{owner}
		boolQuery["must_not"] = []any{flagged}
	}
	return map[string]any{"bool": boolQuery}
}

func readBody(op string, res *esapi.Response) ([]byte, error) {
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, search.Unavailable(op, err)
	}
	if res.IsError() {
		reason := gjson.GetBytes(data, "error.reason").String()
		if reason == "" {
			reason = string(data)
		}
		return nil, search.Unavailable(op, fmt.Errorf("status %d: %s", res.StatusCode, reason))
	}
	return data, nil
}
