package bleve

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annotator/nipsa/internal/search"
)

func setupTestIndex(t *testing.T) *Index {
	t.Helper()

	x, err := Open(Config{Path: MemoryPath, PageSize: 2, FlushActions: 3},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = x.Close() })

	docs := map[string]map[string]any{
		"fred-1": {"user": "acct:fred", "text": "one"},
		"fred-2": {"user": "acct:fred", "text": "two", "not_in_public_site_areas": false},
		"fred-3": {"user": "acct:fred", "text": "three", "not_in_public_site_areas": true},
		"fred-4": {"user": "acct:fred", "text": "four"},
		"bob-1":  {"user": "acct:bob", "text": "bob"},
		"bob-2":  {"user": "acct:bob", "text": "bob flagged", "not_in_public_site_areas": true},
	}
	for id, doc := range docs {
		require.NoError(t, x.Put(id, doc))
	}
	return x
}

func scanIDs(t *testing.T, x *Index, q search.Query) []string {
	t.Helper()

	var ids []string
	require.NoError(t, x.Scan(context.Background(), q, func(id string) error {
		ids = append(ids, id)
		return nil
	}))
	sort.Strings(ids)
	return ids
}

func TestScan_FlagQuerySelectsNotYetFlagged(t *testing.T) {
	x := setupTestIndex(t)

	ids := scanIDs(t, x, search.Query{OwnerUserID: "acct:fred"})
	assert.Equal(t, []string{"fred-1", "fred-2", "fred-4"}, ids)
}

func TestScan_UnflagQuerySelectsFlagged(t *testing.T) {
	x := setupTestIndex(t)

	ids := scanIDs(t, x, search.Query{OwnerUserID: "acct:fred", Flagged: true})
	assert.Equal(t, []string{"fred-3"}, ids)
}

func TestScan_OwnerIsExactMatch(t *testing.T) {
	x := setupTestIndex(t)
	require.NoError(t, x.Put("fred-x", map[string]any{"user": "acct:fred smith"}))

	ids := scanIDs(t, x, search.Query{OwnerUserID: "acct:fred"})
	assert.NotContains(t, ids, "fred-x")
}

func TestBulk_SetAndRemoveFlag(t *testing.T) {
	x := setupTestIndex(t)
	ctx := context.Background()

	b, err := x.NewBulk(ctx)
	require.NoError(t, err)
	for _, id := range scanIDs(t, x, search.Query{OwnerUserID: "acct:fred"}) {
		require.NoError(t, b.Add(ctx, search.Action{DocumentID: id, Op: search.OpSetFlag}))
	}
	res, err := b.Close(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Succeeded)
	assert.Empty(t, res.Failed)

	assert.Empty(t, scanIDs(t, x, search.Query{OwnerUserID: "acct:fred"}), "second flag pass selects nothing")
	assert.Len(t, scanIDs(t, x, search.Query{OwnerUserID: "acct:fred", Flagged: true}), 4)

	doc, err := x.Get("fred-1")
	require.NoError(t, err)
	assert.Equal(t, true, doc["not_in_public_site_areas"])
	assert.Equal(t, "one", doc["text"], "other fields are preserved")

	b, err = x.NewBulk(ctx)
	require.NoError(t, err)
	for _, id := range scanIDs(t, x, search.Query{OwnerUserID: "acct:fred", Flagged: true}) {
		require.NoError(t, b.Add(ctx, search.Action{DocumentID: id, Op: search.OpRemoveFlag}))
	}
	res, err = b.Close(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Succeeded)

	doc, err = x.Get("fred-3")
	require.NoError(t, err)
	_, present := doc["not_in_public_site_areas"]
	assert.False(t, present, "unflag removes the field rather than setting false")

	bob, err := x.Get("bob-2")
	require.NoError(t, err)
	assert.Equal(t, true, bob["not_in_public_site_areas"], "other users are untouched")
}

func TestBulk_MissingDocumentIsReported(t *testing.T) {
	x := setupTestIndex(t)
	ctx := context.Background()

	b, err := x.NewBulk(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Add(ctx, search.Action{DocumentID: "fred-1", Op: search.OpSetFlag}))
	require.NoError(t, b.Add(ctx, search.Action{DocumentID: "ghost", Op: search.OpSetFlag}))

	res, err := b.Close(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "ghost", res.Failed[0].DocumentID)
}

func TestClosedIndexIsUnavailable(t *testing.T) {
	x := setupTestIndex(t)
	require.NoError(t, x.Close())

	err := x.Scan(context.Background(), search.Query{OwnerUserID: "acct:fred"}, func(string) error { return nil })
	assert.ErrorIs(t, err, search.ErrIndexUnavailable)
	assert.ErrorIs(t, x.Ping(context.Background()), search.ErrIndexUnavailable)
}

func TestOpen_PersistsOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annotations.bleve")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	x, err := Open(Config{Path: path}, logger)
	require.NoError(t, err)
	require.NoError(t, x.Put("a", map[string]any{"user": "acct:fred"}))
	require.NoError(t, x.Close())

	x, err = Open(Config{Path: path}, logger)
	require.NoError(t, err)
	defer x.Close()

	doc, err := x.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "acct:fred", doc["user"])
}
