package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/indexing"
)

func TestDocumentBuilder_Build(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	seedGraph(t, g)
	b := NewDocumentBuilder(g, indexing.DefaultClassification(), 0)

	d, err := b.Build(ctx, "F1")
	require.NoError(t, err)
	assert.Equal(t, "F1", d.ID)
	assert.Equal(t, "Folder one", d.Title)
	assert.Equal(t, indexing.TypeFolder, d.ResourceType)
	assert.Equal(t, "1,R/2,F1", d.AncestorPath)
	assert.Equal(t, "R", d.ParentID)
	assert.False(t, d.DateAdded.IsZero())
}

func TestDocumentBuilder_Build_Errors(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	require.NoError(t, g.PutNode(ctx, Node{ID: "gone", Types: []string{indexing.TypeTombstone}}, ""))
	b := NewDocumentBuilder(g, indexing.DefaultClassification(), 0)

	_, err := b.Build(ctx, "gone")
	assert.ErrorIs(t, err, apperrors.ErrNodeTombstoned)
	assert.True(t, apperrors.IsFatal(err))

	_, err = b.Build(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNodeNotFound)
}

func TestDocumentBuilder_AncestorPath_CachedUntilMembershipChanges(t *testing.T) {
	// Given: a warm cache for X2
	ctx := context.Background()
	g := newTestGraph(t)
	seedGraph(t, g)
	b := NewDocumentBuilder(g, indexing.DefaultClassification(), 16)

	path, err := b.AncestorPath(ctx, "X2")
	require.NoError(t, err)
	assert.Equal(t, "1,R/2,F1/3,X2", path)
	_, err = b.AncestorPath(ctx, "X2")
	require.NoError(t, err)
	hits, misses := b.CacheStats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	// When: F1 moves under X1
	require.NoError(t, g.Move(ctx, "F1", "X1"))

	// Then: the next lookup sees the new ancestry
	path, err = b.AncestorPath(ctx, "X2")
	require.NoError(t, err)
	assert.Equal(t, "1,R/2,X1/3,F1/4,X2", path)
	hits, misses = b.CacheStats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
}
