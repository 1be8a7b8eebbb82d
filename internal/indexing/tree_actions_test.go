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

func TestUpdateTree_SkipStart(t *testing.T) {
	graph := scenarioGraph()
	disp := &recordingDispatcher{}
	action := &UpdateTree{Tree: NewTreeIndexer(graph, disp, DefaultClassification()), Action: ActionAdd, SkipStart: true}

	require.NoError(t, action.Perform(context.Background(), &Request{TargetID: "R", Action: ActionRecursiveDescendants}))

	assert.ElementsMatch(t, []string{"F1", "X1", "X2"}, disp.targets())
}

func TestUpdateTreeSet_Independence(t *testing.T) {
	// Given: two unrelated subtrees A and B
	graph := newFakeGraph().
		add("", "A", TypeCollection).add("A", "A1", TypeFile).add("A", "A2", TypeFolder).add("A2", "A3", TypeFile).
		add("", "B", TypeFolder).add("B", "B1", TypeFile)
	types := DefaultClassification()

	count := func(targets ...string) int {
		disp := &recordingDispatcher{}
		action := &UpdateTreeSet{Tree: NewTreeIndexer(graph, disp, types), Action: ActionAdd}
		req, err := NewRequest("set", ActionRecursiveAddSet, WithChildren(targets...))
		require.NoError(t, err)
		require.NoError(t, action.Perform(context.Background(), req))
		return len(disp.targets())
	}

	// Then: the set dispatches the sum of the individual walks
	assert.Equal(t, 4, count("A"))
	assert.Equal(t, 2, count("B"))
	assert.Equal(t, count("A")+count("B"), count("A", "B"))
}

func TestUpdateTreeSet_RequiresChildren(t *testing.T) {
	disp := &recordingDispatcher{}
	action := &UpdateTreeSet{Tree: NewTreeIndexer(newFakeGraph(), disp, DefaultClassification()), Action: ActionAdd}

	err := action.Perform(context.Background(), &Request{TargetID: "set", Action: ActionRecursiveAddSet})

	assert.True(t, errors.Is(err, apperrors.ErrEmptyChildren))
	assert.True(t, apperrors.IsFatal(err))
	assert.Empty(t, disp.targets())
}

func TestUpdateTreeClean_DeleteCommitThenRebuild(t *testing.T) {
	// Given: a folder with an indexed subtree
	graph := scenarioGraph()
	types := DefaultClassification()
	idx := newMemIndex(nil)
	idx.seed("F1", "1,R/2,F1", TypeFolder, fixedTime)
	idx.seed("old", "1,R/2,F1/3,old", TypeFile, fixedTime)
	disp := &recordingDispatcher{}

	tree := NewTreeIndexer(graph, disp, types)
	action := &UpdateTreeClean{
		DeleteTree: &DeleteTree{Records: idx, Index: idx, Types: types, Clear: &Clear{Index: idx}},
		Index:      idx,
		Update:     &UpdateTree{Tree: tree, Action: ActionAdd},
		Scopes:     NewScopeLocker(),
		Paths:      graph,
	}

	// When: clean reindexing F1
	require.NoError(t, action.Perform(context.Background(), &Request{TargetID: "F1", Action: ActionCleanReindex}))

	// Then: the subtree was deleted and committed before anything was rebuilt
	assert.Equal(t, []string{
		"delete:F1",
		"deleteByQuery:ancestor_path:1,R/2,F1/*",
		"commit",
	}, idx.callLog())
	assert.Empty(t, idx.ids())
	assert.ElementsMatch(t, []string{"F1", "X2"}, disp.targets())
	assert.Zero(t, action.Scopes.Held())
}

func TestUpdateTreeInplace_DispatchesCleanupAfterWalk(t *testing.T) {
	graph := scenarioGraph()
	disp := &recordingDispatcher{}
	start := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	action := &UpdateTreeInplace{
		Update:     &UpdateTree{Tree: NewTreeIndexer(graph, disp, DefaultClassification()), Action: ActionAdd},
		Dispatcher: disp,
		Clock:      func() time.Time { return start },
		Scopes:     NewScopeLocker(),
		Paths:      graph,
	}
	req, err := NewRequest("R", ActionRecursiveReindex, WithUser("admin"))
	require.NoError(t, err)

	require.NoError(t, action.Perform(context.Background(), req))

	reqs := disp.requests()
	require.Len(t, reqs, 5)
	cleanup := reqs[4]
	assert.Equal(t, ActionDeleteStaleChildren, cleanup.Action)
	assert.Equal(t, "R", cleanup.TargetID)
	assert.Equal(t, "admin", cleanup.User)
	assert.True(t, cleanup.AwaitPrior)

	cutoff, err := cleanup.StaleTimestamp()
	require.NoError(t, err)
	assert.True(t, start.Equal(cutoff))
	assert.True(t, start.Equal(req.StartedAt))
	assert.Zero(t, action.Scopes.Held())
}

func TestUpdateTreeInplace_KeepsEarlierStart(t *testing.T) {
	graph := newFakeGraph().add("", "X", TypeFile)
	disp := &recordingDispatcher{}
	action := &UpdateTreeInplace{
		Update:     &UpdateTree{Tree: NewTreeIndexer(graph, disp, DefaultClassification()), Action: ActionAdd},
		Dispatcher: disp,
		Clock:      func() time.Time { return fixedTime.Add(time.Hour) },
	}
	req := &Request{ID: "retry", TargetID: "X", Action: ActionRecursiveReindex, StartedAt: fixedTime}

	require.NoError(t, action.Perform(context.Background(), req))

	reqs := disp.requests()
	cutoff, err := reqs[len(reqs)-1].StaleTimestamp()
	require.NoError(t, err)
	assert.True(t, fixedTime.Equal(cutoff), "a retried walk keeps its original cutoff")
}

func TestUpdateTreeInplace_TombstonedTargetDeletesSubtree(t *testing.T) {
	// Given: a tombstoned folder that still has an indexed member
	graph := scenarioGraph()
	graph.add("R", "Dead", TypeFolder, TypeTombstone).add("Dead", "Orphan", TypeFile)
	disp := &recordingDispatcher{}
	action := &UpdateTreeInplace{
		Update:     &UpdateTree{Tree: NewTreeIndexer(graph, disp, DefaultClassification()), Action: ActionAdd},
		Dispatcher: disp,
		Clock:      func() time.Time { return fixedTime },
		Scopes:     NewScopeLocker(),
		Graph:      graph,
		Types:      DefaultClassification(),
	}

	// When
	err := action.Perform(context.Background(), &Request{ID: "r", TargetID: "Dead", Action: ActionRecursiveReindex, User: "u"})

	// Then: one ordered subtree delete and no walk or staleness cleanup
	require.NoError(t, err)
	reqs := disp.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, ActionDeleteTree, reqs[0].Action)
	assert.Equal(t, "Dead", reqs[0].TargetID)
	assert.Equal(t, "u", reqs[0].User)
	assert.True(t, reqs[0].AwaitPrior)
	assert.Empty(t, graph.queriedIDs())
	assert.Zero(t, action.Scopes.Held())
}

func TestUpdateTreeInplace_WalkFailureSkipsCleanup(t *testing.T) {
	graph := scenarioGraph()
	graph.queryErrs["R"] = errors.New("timeout")
	disp := &recordingDispatcher{}
	action := &UpdateTreeInplace{
		Update:     &UpdateTree{Tree: NewTreeIndexer(graph, disp, DefaultClassification()), Action: ActionAdd},
		Dispatcher: disp,
		Scopes:     NewScopeLocker(),
	}

	err := action.Perform(context.Background(), &Request{ID: "r", TargetID: "R", Action: ActionRecursiveReindex})

	require.Error(t, err)
	for _, r := range disp.requests() {
		assert.NotEqual(t, ActionDeleteStaleChildren, r.Action)
	}
	assert.Zero(t, action.Scopes.Held())
}

func TestSeparateRootAndDescendants(t *testing.T) {
	graph := scenarioGraph()
	disp := &recordingDispatcher{}
	action := &SeparateRootAndDescendants{
		Tree:             NewTreeIndexer(graph, disp, DefaultClassification()),
		Dispatcher:       disp,
		RootAction:       ActionAdd,
		DescendantAction: ActionUpdatePath,
	}

	require.NoError(t, action.Perform(context.Background(), &Request{TargetID: "F1", Action: ActionMove, User: "u"}))

	reqs := disp.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "F1", reqs[0].TargetID)
	assert.Equal(t, ActionAdd, reqs[0].Action)
	assert.Equal(t, "X2", reqs[1].TargetID)
	assert.Equal(t, ActionUpdatePath, reqs[1].Action)
}
