package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/indexing"
)

var baseTime = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

// steppedClock returns a clock that starts at baseTime and advances by step
// on every call.
func steppedClock(step time.Duration) func() time.Time {
	next := baseTime
	return func() time.Time {
		t := next
		next = next.Add(step)
		return t
	}
}

func newTestIndex(t *testing.T) *SearchIndex {
	t.Helper()
	idx, err := NewSearchIndex(SearchIndexConfig{AutoCommitDocs: -1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func doc(id, path string) *indexing.Document {
	return &indexing.Document{
		ID:           id,
		Title:        "title " + id,
		ResourceType: indexing.TypeWork,
		AncestorPath: path,
	}
}

func TestSearchIndex_WritesVisibleAfterCommit(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, doc("a", "1,R/2,a")))

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n, "uncommitted writes are not searchable")
	assert.Equal(t, 1, idx.Pending())

	rec, err := idx.Record(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, rec, "records see pending writes")
	assert.Equal(t, "1,R/2,a", rec.AncestorPath)

	require.NoError(t, idx.Commit(ctx))
	n, err = idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	assert.Equal(t, 0, idx.Pending())
}

func TestSearchIndex_RecordMissing(t *testing.T) {
	idx := newTestIndex(t)

	rec, err := idx.Record(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSearchIndex_DeleteByQuery_StaleBoundary(t *testing.T) {
	// Given: two records written at t0, a cutoff at t1, and one record
	// refreshed at t2
	ctx := context.Background()
	idx := newTestIndex(t)
	t0 := baseTime
	t1 := t0.Add(10 * time.Second)
	t2 := t0.Add(20 * time.Second)

	idx.now = func() time.Time { return t0 }
	require.NoError(t, idx.Add(ctx, doc("old", "1,R/2,old")))
	require.NoError(t, idx.Add(ctx, doc("fresh", "1,R/2,fresh")))
	require.NoError(t, idx.Add(ctx, doc("R", "1,R")))
	require.NoError(t, idx.Commit(ctx))

	idx.now = func() time.Time { return t2 }
	require.NoError(t, idx.Add(ctx, doc("fresh", "1,R/2,fresh")))
	require.NoError(t, idx.Commit(ctx))

	// When: deleting beneath R with last update before t1
	err := idx.DeleteByQuery(ctx, indexing.Query{AncestorPath: "1,R", UpdatedBefore: t1})
	require.NoError(t, err)
	require.NoError(t, idx.Commit(ctx))

	// Then: only the stale descendant is gone; the root itself is not beneath its own path
	old, err := idx.Record(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, old)

	fresh, err := idx.Record(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, fresh)

	root, err := idx.Record(ctx, "R")
	require.NoError(t, err)
	assert.NotNil(t, root)
}

func TestSearchIndex_DeleteByQuery_ExclusiveCutoff(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	idx.now = func() time.Time { return baseTime }
	require.NoError(t, idx.Add(ctx, doc("edge", "1,R/2,edge")))
	require.NoError(t, idx.Commit(ctx))

	err := idx.DeleteByQuery(ctx, indexing.Query{AncestorPath: "1,R", UpdatedBefore: baseTime})
	require.NoError(t, err)
	require.NoError(t, idx.Commit(ctx))

	rec, err := idx.Record(ctx, "edge")
	require.NoError(t, err)
	assert.NotNil(t, rec, "a record written exactly at the cutoff is kept")
}

func TestSearchIndex_DeleteByQuery_PathPrefixIsSegmentAligned(t *testing.T) {
	// Given: a node R and a sibling R2 whose path shares a string prefix
	ctx := context.Background()
	idx := newTestIndex(t)
	require.NoError(t, idx.Add(ctx, doc("a", "1,R/2,a")))
	require.NoError(t, idx.Add(ctx, doc("b", "1,R2/2,b")))
	require.NoError(t, idx.Commit(ctx))

	// When
	require.NoError(t, idx.DeleteByQuery(ctx, indexing.Query{AncestorPath: "1,R"}))
	require.NoError(t, idx.Commit(ctx))

	// Then
	a, err := idx.Record(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, a)
	b, err := idx.Record(ctx, "b")
	require.NoError(t, err)
	assert.NotNil(t, b, "sibling subtree must survive")
}

func TestSearchIndex_DeleteByQuery_SeesPendingWrites(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	require.NoError(t, idx.Add(ctx, doc("a", "1,R/2,a")))
	require.NoError(t, idx.Add(ctx, doc("b", "1,R/2,b")))

	require.NoError(t, idx.DeleteByQuery(ctx, indexing.Query{MatchAll: true}))
	require.NoError(t, idx.Commit(ctx))

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func TestSearchIndex_DeleteByQuery_EmptyQuery(t *testing.T) {
	idx := newTestIndex(t)

	err := idx.DeleteByQuery(context.Background(), indexing.Query{})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
}

func TestSearchIndex_DeleteByID(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	require.NoError(t, idx.Add(ctx, doc("a", "1,a")))
	require.NoError(t, idx.Commit(ctx))

	require.NoError(t, idx.DeleteByID(ctx, "a"))
	require.NoError(t, idx.DeleteByID(ctx, "missing"), "deleting an absent record succeeds")

	rec, err := idx.Record(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, rec, "pending delete is visible")

	require.NoError(t, idx.Commit(ctx))
	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func TestSearchIndex_Update(t *testing.T) {
	tests := []struct {
		name      string
		fields    []string
		update    *indexing.Document
		wantTitle string
		wantPath  string
	}{
		{
			name:      "named fields only",
			fields:    []string{indexing.FieldAncestorPath, indexing.FieldParentID},
			update:    &indexing.Document{ID: "a", Title: "ignored", AncestorPath: "1,S/2,a", ParentID: "S"},
			wantTitle: "title a",
			wantPath:  "1,S/2,a",
		},
		{
			name:      "no names copies non-empty fields",
			update:    &indexing.Document{ID: "a", Title: "renamed"},
			wantTitle: "renamed",
			wantPath:  "1,R/2,a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			idx := newTestIndex(t)
			require.NoError(t, idx.Add(ctx, doc("a", "1,R/2,a")))
			require.NoError(t, idx.Commit(ctx))

			require.NoError(t, idx.Update(ctx, tt.update, tt.fields...))
			require.NoError(t, idx.Commit(ctx))

			got, err := idx.Document(ctx, "a")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantTitle, got.Title)
			assert.Equal(t, tt.wantPath, got.AncestorPath)
			assert.Equal(t, indexing.TypeWork, got.ResourceType)
		})
	}
}

func TestSearchIndex_Update_CreatesMissing(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Update(ctx, doc("new", "1,new")))

	got, err := idx.Document(ctx, "new")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "1,new", got.AncestorPath)
}

func TestSearchIndex_Update_FieldLimitedWritesMissingInFull(t *testing.T) {
	// Given: a path-only update for a record that was never indexed
	ctx := context.Background()
	idx := newTestIndex(t)
	update := &indexing.Document{
		ID:           "F9",
		Title:        "Folder nine",
		ResourceType: indexing.TypeFolder,
		AncestorPath: "1,R/2,F9",
		ParentID:     "R",
	}

	// When
	require.NoError(t, idx.Update(ctx, update, indexing.FieldAncestorPath, indexing.FieldParentID))
	require.NoError(t, idx.Commit(ctx))

	// Then: the record keeps its type so a subtree delete still sees a container
	got, err := idx.Document(ctx, "F9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, indexing.TypeFolder, got.ResourceType)
	assert.Equal(t, "Folder nine", got.Title)
	assert.Equal(t, "1,R/2,F9", got.AncestorPath)
	assert.Equal(t, "R", got.ParentID)
}

func TestSearchIndex_Update_RejectsUnknownField(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	err := idx.Update(ctx, doc("a", "1,a"), "timestamp")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidParam, apperrors.GetCode(err))
	assert.Equal(t, 0, idx.Pending())
}

func TestSearchIndex_Find(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	require.NoError(t, idx.Add(ctx, doc("b", "1,R/2,b")))
	require.NoError(t, idx.Add(ctx, doc("a", "1,R/2,a")))
	require.NoError(t, idx.Add(ctx, doc("x", "1,X")))
	require.NoError(t, idx.Commit(ctx))

	recs, err := idx.Find(ctx, indexing.Query{AncestorPath: "1,R"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)
}

func TestSearchIndex_AutoCommit(t *testing.T) {
	ctx := context.Background()
	idx, err := NewSearchIndex(SearchIndexConfig{AutoCommitDocs: 2})
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Add(ctx, doc("a", "1,a")))
	assert.Equal(t, 1, idx.Pending())
	require.NoError(t, idx.Add(ctx, doc("b", "1,b")))
	assert.Equal(t, 0, idx.Pending())

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestSearchIndex_Closed(t *testing.T) {
	ctx := context.Background()
	idx, err := NewSearchIndex(SearchIndexConfig{})
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close(), "second close is a no-op")

	err = idx.Add(ctx, doc("a", "1,a"))
	assert.ErrorIs(t, err, apperrors.ErrIndexClosed)
	_, err = idx.Record(ctx, "a")
	assert.ErrorIs(t, err, apperrors.ErrIndexClosed)
}

func TestSearchIndex_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.bleve")

	idx, err := NewSearchIndex(SearchIndexConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, doc("a", "1,a")))
	require.NoError(t, idx.Close(), "close flushes pending writes")

	idx, err = NewSearchIndex(SearchIndexConfig{Path: path})
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestSearchIndex_RecreatesCorruptIndex(t *testing.T) {
	// Given: an index directory with a truncated metadata file
	path := filepath.Join(t.TempDir(), "index.bleve")
	require.NoError(t, os.MkdirAll(path, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "index_meta.json"), []byte("{"), 0644))

	// When
	idx, err := NewSearchIndex(SearchIndexConfig{Path: path})

	// Then: a fresh empty index is created
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func TestValidateIndexIntegrity(t *testing.T) {
	dir := t.TempDir()

	assert.NoError(t, validateIndexIntegrity(filepath.Join(dir, "absent")))

	missingMeta := filepath.Join(dir, "missing")
	require.NoError(t, os.MkdirAll(missingMeta, 0755))
	assert.Error(t, validateIndexIntegrity(missingMeta))

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.MkdirAll(empty, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(empty, "index_meta.json"), nil, 0644))
	assert.Error(t, validateIndexIntegrity(empty))
}

func TestToBleveQuery_Empty(t *testing.T) {
	_, err := toBleveQuery(indexing.Query{})
	assert.Error(t, err)

	q, err := toBleveQuery(indexing.Query{AncestorPath: "1,R", UpdatedBefore: baseTime})
	require.NoError(t, err)
	assert.NotNil(t, q)
}
