package elastic

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/annotator/nipsa/internal/search"
)

// fakeCluster emulates the handful of Elasticsearch endpoints the index uses.
type fakeCluster struct {
	mu          sync.Mutex
	pages       [][]string
	next        int
	searchBody  []byte
	bulkLines   []string
	reject      map[string]bool
	clearCalled bool
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	body, _ := io.ReadAll(r.Body)

	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/":
		w.WriteHeader(http.StatusOK)
	case strings.HasPrefix(r.URL.Path, "/_search/scroll") && r.Method == http.MethodDelete:
		f.clearCalled = true
		fmt.Fprint(w, `{"succeeded":true,"num_freed":1}`)
	case strings.HasSuffix(r.URL.Path, "/_search") && r.URL.Path != "/_search/scroll":
		f.searchBody = body
		f.next = 0
		f.writePage(w)
	case r.URL.Path == "/_search/scroll":
		if gjson.GetBytes(body, "scroll_id").String() != "scroll-1" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"type":"search_context_missing_exception","reason":"no such scroll"}}`)
			return
		}
		f.writePage(w)
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		f.writeBulk(w, body)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"type":"not_found","reason":"unexpected request"}}`)
	}
}

func (f *fakeCluster) writePage(w io.Writer) {
	var ids []string
	if f.next < len(f.pages) {
		ids = f.pages[f.next]
	}
	f.next++

	hits := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		hits = append(hits, map[string]string{"_index": "annotations", "_id": id})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"_scroll_id": "scroll-1",
		"hits":       map[string]any{"hits": hits},
	})
}

func (f *fakeCluster) writeBulk(w io.Writer, body []byte) {
	var items []map[string]any
	sc := bufio.NewScanner(strings.NewReader(string(body)))
	for sc.Scan() {
		meta := sc.Text()
		if meta == "" || !sc.Scan() {
			continue
		}
		f.bulkLines = append(f.bulkLines, meta, sc.Text())

		id := gjson.Get(meta, "update._id").String()
		item := map[string]any{"_index": "annotations", "_id": id, "status": 200, "result": "updated"}
		if f.reject[id] {
			item = map[string]any{
				"_index": "annotations", "_id": id, "status": 409,
				"error": map[string]any{"type": "version_conflict_engine_exception", "reason": "conflict"},
			}
		}
		items = append(items, map[string]any{"update": item})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"took": 1, "errors": len(f.reject) > 0, "items": items})
}

func newTestIndex(t *testing.T, url string) *Index {
	t.Helper()
	x, err := New(Config{
		Addresses: []string{url},
		Index:     "annotations",
		PageSize:  2,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return x
}

func TestBuildQuery(t *testing.T) {
	t.Parallel()

	schema := search.DefaultSchema()

	unflagged, _ := json.Marshal(buildQuery(schema, search.Query{OwnerUserID: "acct:fred"}))
	if got := gjson.GetBytes(unflagged, "bool.filter.0.term.user").String(); got != "acct:fred" {
		t.Errorf("owner term = %q in %s", got, unflagged)
	}
	if !gjson.GetBytes(unflagged, "bool.must_not.0.term.not_in_public_site_areas").Bool() {
		t.Errorf("flag query should exclude flagged docs: %s", unflagged)
	}

	flagged, _ := json.Marshal(buildQuery(schema, search.Query{OwnerUserID: "acct:fred", Flagged: true}))
	if gjson.GetBytes(flagged, "bool.must_not").Exists() {
		t.Errorf("unflag query should not have must_not: %s", flagged)
	}
	if !gjson.GetBytes(flagged, "bool.filter.1.term.not_in_public_site_areas").Bool() {
		t.Errorf("unflag query should require flag == true: %s", flagged)
	}
}

func TestActionBody(t *testing.T) {
	t.Parallel()

	schema := search.Schema{OwnerField: "user", FlagField: "hidden"}

	set, err := actionBody(schema, search.OpSetFlag)
	if err != nil {
		t.Fatalf("actionBody(set) error: %v", err)
	}
	if string(set) != `{"doc":{"hidden":true}}` {
		t.Errorf("set body = %s", set)
	}

	remove, err := actionBody(schema, search.OpRemoveFlag)
	if err != nil {
		t.Fatalf("actionBody(remove) error: %v", err)
	}
	if gjson.GetBytes(remove, "script.source").String() != "ctx._source.remove(params.field)" {
		t.Errorf("remove script = %s", remove)
	}
	if gjson.GetBytes(remove, "script.params.field").String() != "hidden" {
		t.Errorf("remove params = %s", remove)
	}

	if _, err := actionBody(schema, search.Op(0)); err == nil {
		t.Error("unknown op should fail")
	}
}

func TestScan_PagesThroughScroll(t *testing.T) {
	t.Parallel()

	cluster := &fakeCluster{pages: [][]string{{"a", "b"}, {"c"}}}
	srv := httptest.NewServer(cluster)
	defer srv.Close()

	x := newTestIndex(t, srv.URL)
	var ids []string
	err := x.Scan(context.Background(), search.Query{OwnerUserID: "acct:fred"}, func(id string) error {
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if strings.Join(ids, ",") != "a,b,c" {
		t.Errorf("ids = %v, want [a b c]", ids)
	}
	if gjson.GetBytes(cluster.searchBody, "_source").Bool() {
		t.Errorf("scan must not fetch sources: %s", cluster.searchBody)
	}
	if !cluster.clearCalled {
		t.Error("scroll context should be cleared")
	}
}

func TestScan_CallbackErrorStops(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&fakeCluster{pages: [][]string{{"a", "b"}, {"c"}}})
	defer srv.Close()

	stop := errors.New("stop")
	calls := 0
	err := newTestIndex(t, srv.URL).Scan(context.Background(), search.Query{OwnerUserID: "u"}, func(string) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("Scan = %v after %d calls, want stop after 1", err, calls)
	}
}

func TestScan_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := newTestIndex(t, url).Scan(context.Background(), search.Query{OwnerUserID: "u"}, func(string) error { return nil })
	if !errors.Is(err, search.ErrIndexUnavailable) {
		t.Errorf("Scan error = %v, want ErrIndexUnavailable", err)
	}
}

func TestBulk_PartialFailure(t *testing.T) {
	t.Parallel()

	cluster := &fakeCluster{reject: map[string]bool{"doc-7": true}}
	srv := httptest.NewServer(cluster)
	defer srv.Close()

	x := newTestIndex(t, srv.URL)
	ctx := context.Background()
	b, err := x.NewBulk(ctx)
	if err != nil {
		t.Fatalf("NewBulk failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := b.Add(ctx, search.Action{DocumentID: fmt.Sprintf("doc-%d", i), Op: search.OpSetFlag}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	res, err := b.Close(ctx)
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if res.Succeeded != 9 || len(res.Failed) != 1 {
		t.Fatalf("result = %+v, want 9 succeeded and 1 failed", res)
	}
	if res.Failed[0].DocumentID != "doc-7" || !strings.Contains(res.Failed[0].Reason, "version_conflict") {
		t.Errorf("failure = %+v", res.Failed[0])
	}
	if got := len(cluster.bulkLines); got != 20 {
		t.Errorf("bulk lines = %d, want 20", got)
	}
	if cluster.bulkLines[1] != `{"doc":{"not_in_public_site_areas":true}}` {
		t.Errorf("update body = %s", cluster.bulkLines[1])
	}
}

func TestBulk_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ctx := context.Background()
	b, err := newTestIndex(t, url).NewBulk(ctx)
	if err != nil {
		t.Fatalf("NewBulk failed: %v", err)
	}
	_ = b.Add(ctx, search.Action{DocumentID: "a", Op: search.OpRemoveFlag})

	if _, err := b.Close(ctx); !errors.Is(err, search.ErrIndexUnavailable) {
		t.Errorf("Close error = %v, want ErrIndexUnavailable", err)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&fakeCluster{})
	defer srv.Close()

	if err := newTestIndex(t, srv.URL).Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
