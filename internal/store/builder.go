package store

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/indexing"
)

// DefaultPathCacheSize is the number of ancestor paths kept in memory.
const DefaultPathCacheSize = 10000

// NodeSource is the part of the graph the document builder reads.
type NodeSource interface {
	Node(ctx context.Context, id string) (*Node, error)
	Parent(ctx context.Context, id string) (string, error)
	Ancestors(ctx context.Context, id string) ([]string, error)
	Generation(ctx context.Context) (int64, error)
}

var _ NodeSource = (*GraphStore)(nil)

// DocumentBuilder turns graph nodes into index documents. Ancestor paths
// are cached until the graph's membership generation changes.
type DocumentBuilder struct {
	nodes NodeSource
	types indexing.Classification
	cache *lru.Cache[string, string]

	mu  sync.Mutex
	gen int64

	hits   int64
	misses int64
}

var (
	_ indexing.DocumentBuilder = (*DocumentBuilder)(nil)
	_ indexing.PathResolver    = (*DocumentBuilder)(nil)
)

// NewDocumentBuilder creates a builder. A non-positive cacheSize uses
// DefaultPathCacheSize.
func NewDocumentBuilder(nodes NodeSource, types indexing.Classification, cacheSize int) *DocumentBuilder {
	if cacheSize <= 0 {
		cacheSize = DefaultPathCacheSize
	}
	cache, _ := lru.New[string, string](cacheSize)
	return &DocumentBuilder{nodes: nodes, types: types, cache: cache, gen: -1}
}

// Build implements indexing.DocumentBuilder.
func (b *DocumentBuilder) Build(ctx context.Context, id string) (*indexing.Document, error) {
	n, err := b.nodes.Node(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.types.IsTombstone(n.Types) {
		return nil, apperrors.ArgumentError(apperrors.ErrCodeNodeTombstoned, id, "node is tombstoned and must not be indexed")
	}

	path, err := b.AncestorPath(ctx, id)
	if err != nil {
		return nil, err
	}
	parent, err := b.nodes.Parent(ctx, id)
	if err != nil {
		return nil, err
	}

	return &indexing.Document{
		ID:           n.ID,
		Title:        n.Title,
		Content:      n.Content,
		ResourceType: b.types.ResourceType(n.Types),
		AncestorPath: path,
		ParentID:     parent,
		DateAdded:    n.CreatedAt,
		DateUpdated:  n.UpdatedAt,
	}, nil
}

// AncestorPath implements indexing.PathResolver.
func (b *DocumentBuilder) AncestorPath(ctx context.Context, id string) (string, error) {
	if err := b.revalidate(ctx); err != nil {
		return "", err
	}
	if path, ok := b.cache.Get(id); ok {
		b.count(true)
		return path, nil
	}
	b.count(false)

	chain, err := b.nodes.Ancestors(ctx, id)
	if err != nil {
		return "", err
	}
	segs := make([]string, len(chain))
	for i, a := range chain {
		segs[i] = indexing.PathSegment(i+1, a)
	}
	path := strings.Join(segs, indexing.PathSeparator)
	b.cache.Add(id, path)
	return path, nil
}

// revalidate purges the cache when membership has changed since it was filled.
func (b *DocumentBuilder) revalidate(ctx context.Context) error {
	gen, err := b.nodes.Generation(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen {
		if b.gen >= 0 && b.cache.Len() > 0 {
			slog.Debug("path cache invalidated",
				slog.Int64("old_generation", b.gen),
				slog.Int64("generation", gen),
				slog.Int("entries", b.cache.Len()))
		}
		b.cache.Purge()
		b.gen = gen
	}
	return nil
}

func (b *DocumentBuilder) count(hit bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hit {
		b.hits++
	} else {
		b.misses++
	}
}

// CacheStats returns path cache hits and misses.
func (b *DocumentBuilder) CacheStats() (hits, misses int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits, b.misses
}
