package indexing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
)

var fixedTime = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newDeleteTree(idx *memIndex) *DeleteTree {
	types := NewClassification("root", []string{TypeContentRoot, TypeFolder}, []string{TypeFile}, TypeTombstone)
	return &DeleteTree{Records: idx, Index: idx, Types: types, Clear: &Clear{Index: idx}}
}

func TestDeleteTree_ContainerDeletesRecordAndSubtree(t *testing.T) {
	// Given: an indexed container record with its subtree and a sibling
	idx := newMemIndex(nil)
	idx.seed("child", "1,root/2,child", TypeFolder, fixedTime)
	idx.seed("grandchild", "1,root/2,child/3,grandchild", TypeFile, fixedTime)
	idx.seed("child2", "1,root/2,child2", TypeFolder, fixedTime)

	// When: deleting the container's tree
	err := newDeleteTree(idx).Perform(context.Background(), &Request{TargetID: "child", Action: ActionDeleteTree})

	// Then: one delete by id plus one bulk delete scoped to its path
	require.NoError(t, err)
	require.Len(t, idx.queries, 1)
	assert.Equal(t, Query{AncestorPath: "1,root/2,child"}, idx.queries[0])
	assert.Equal(t, "delete:child", idx.callLog()[0])
	assert.ElementsMatch(t, []string{"child2"}, idx.ids())
}

func TestDeleteTree_LeafDeletesOnlyItself(t *testing.T) {
	idx := newMemIndex(nil)
	idx.seed("x1", "1,root/2,x1", TypeFile, fixedTime)

	err := newDeleteTree(idx).Perform(context.Background(), &Request{TargetID: "x1", Action: ActionDeleteTree})

	require.NoError(t, err)
	assert.Equal(t, []string{"delete:x1"}, idx.callLog())
	assert.Empty(t, idx.queries)
}

func TestDeleteTree_AbsentRecordIsNoop(t *testing.T) {
	idx := newMemIndex(nil)

	err := newDeleteTree(idx).Perform(context.Background(), &Request{TargetID: "vanished", Action: ActionDeleteTree})

	require.NoError(t, err)
	assert.Empty(t, idx.callLog())
}

func TestDeleteTree_RootClearsIndex(t *testing.T) {
	idx := newMemIndex(nil)
	idx.seed("root", "1,root", TypeContentRoot, fixedTime)
	idx.seed("a", "1,root/2,a", TypeFile, fixedTime)

	err := newDeleteTree(idx).Perform(context.Background(), &Request{TargetID: "root", Action: ActionDeleteTree})

	require.NoError(t, err)
	assert.Empty(t, idx.ids())
	assert.Equal(t, []string{"deleteByQuery:*:*", "commit"}, idx.callLog())
}

func newStaleCleanup(idx *memIndex) *DeleteStaleChildren {
	types := NewClassification("root", []string{TypeContentRoot, TypeFolder}, []string{TypeFile}, TypeTombstone)
	return &DeleteStaleChildren{Records: idx, Index: idx, Types: types}
}

func staleRequest(t *testing.T, target string, cutoff time.Time) *Request {
	t.Helper()
	req, err := NewRequest(target, ActionDeleteStaleChildren, WithParam(ParamStaleTimestamp, FormatTimestamp(cutoff)))
	require.NoError(t, err)
	return req
}

func TestDeleteStaleChildren_Boundary(t *testing.T) {
	// Given: records under a scope written at t0 < t1 < t2
	t0 := fixedTime
	t1 := t0.Add(time.Second)
	t2 := t1.Add(time.Second)

	idx := newMemIndex(nil)
	idx.seed("scope", "1,root/2,scope", TypeFolder, t0)
	idx.seed("old", "1,root/2,scope/3,old", TypeFile, t0)
	idx.seed("at-cutoff", "1,root/2,scope/3,at-cutoff", TypeFile, t1)
	idx.seed("new", "1,root/2,scope/3,new", TypeFile, t2)
	idx.seed("outside", "1,root/2,other", TypeFile, t0)

	// When: cleaning up with staleTimestamp = t1
	err := newStaleCleanup(idx).Perform(context.Background(), staleRequest(t, "scope", t1))

	// Then: only the record strictly before t1 under the scope is removed
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"scope", "at-cutoff", "new", "outside"}, idx.ids())
}

func TestDeleteStaleChildren_CommitsBeforeQuery(t *testing.T) {
	idx := newMemIndex(nil)
	idx.seed("scope", "1,root/2,scope", TypeFolder, fixedTime)

	require.NoError(t, newStaleCleanup(idx).Perform(context.Background(), staleRequest(t, "scope", fixedTime)))

	calls := idx.callLog()
	require.Len(t, calls, 2)
	assert.Equal(t, "commit", calls[0])
	assert.Contains(t, calls[1], "deleteByQuery:ancestor_path:1,root/2,scope/*")
}

func TestDeleteStaleChildren_RootMatchesAll(t *testing.T) {
	idx := newMemIndex(nil)
	idx.seed("a", "1,root/2,a", TypeFile, fixedTime)
	idx.seed("b", "1,elsewhere", TypeFile, fixedTime)
	idx.seed("fresh", "1,root/2,fresh", TypeFile, fixedTime.Add(time.Hour))

	err := newStaleCleanup(idx).Perform(context.Background(), staleRequest(t, "root", fixedTime.Add(time.Minute)))

	require.NoError(t, err)
	require.Len(t, idx.queries, 1)
	assert.True(t, idx.queries[0].MatchAll)
	assert.Equal(t, []string{"fresh"}, idx.ids())
}

func TestDeleteStaleChildren_MissingParamIsFatal(t *testing.T) {
	idx := newMemIndex(nil)
	req, err := NewRequest("scope", ActionDeleteStaleChildren)
	require.NoError(t, err)

	err = newStaleCleanup(idx).Perform(context.Background(), req)

	assert.True(t, errors.Is(err, apperrors.ErrMissingParam))
	assert.True(t, apperrors.IsFatal(err))
	assert.Empty(t, idx.callLog(), "nothing may be deleted without a cutoff")
}

func TestDeleteStaleChildren_UnindexedTargetSkipped(t *testing.T) {
	idx := newMemIndex(nil)

	err := newStaleCleanup(idx).Perform(context.Background(), staleRequest(t, "ghost", fixedTime))

	require.NoError(t, err)
	assert.Equal(t, []string{"commit"}, idx.callLog())
}

func TestQuery_Matches(t *testing.T) {
	rec := IndexedRecord{ID: "x", AncestorPath: "1,root/2,a/3,x", LastUpdated: fixedTime}

	tests := []struct {
		name string
		q    Query
		want bool
	}{
		{"match all", Query{MatchAll: true}, true},
		{"beneath ancestor", Query{AncestorPath: "1,root/2,a"}, true},
		{"path itself is not beneath", Query{AncestorPath: "1,root/2,a/3,x"}, false},
		{"sibling sharing id prefix", Query{AncestorPath: "1,root/2,a/3,xy"}, false},
		{"id prefix without separator", Query{AncestorPath: "1,root/2,"}, false},
		{"strictly before cutoff", Query{MatchAll: true, UpdatedBefore: fixedTime.Add(time.Nanosecond)}, true},
		{"equal to cutoff", Query{MatchAll: true, UpdatedBefore: fixedTime}, false},
		{"empty query", Query{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.q.Matches(rec))
		})
	}
}
