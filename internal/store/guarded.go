package store

import (
	"context"
	"errors"

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/indexing"
)

// GuardedIndex puts a circuit breaker in front of an index client so a
// failing index is reported as unavailable instead of timing out every
// worker.
type GuardedIndex struct {
	inner   indexing.IndexClient
	breaker *apperrors.CircuitBreaker
}

var _ indexing.IndexClient = (*GuardedIndex)(nil)

// NewGuardedIndex wraps inner.
func NewGuardedIndex(inner indexing.IndexClient, breaker *apperrors.CircuitBreaker) *GuardedIndex {
	return &GuardedIndex{inner: inner, breaker: breaker}
}

func (g *GuardedIndex) call(targetID string, fn func() error) error {
	err := g.breaker.Execute(fn)
	if errors.Is(err, apperrors.ErrCircuitOpen) {
		return apperrors.Indexing(apperrors.ErrCodeIndexUnavailable, targetID, "search index unavailable", err).
			WithDetail("breaker", g.breaker.Name())
	}
	return err
}

// Add implements indexing.IndexClient.
func (g *GuardedIndex) Add(ctx context.Context, doc *indexing.Document) error {
	return g.call(doc.ID, func() error { return g.inner.Add(ctx, doc) })
}

// Update implements indexing.IndexClient.
func (g *GuardedIndex) Update(ctx context.Context, doc *indexing.Document, fields ...string) error {
	return g.call(doc.ID, func() error { return g.inner.Update(ctx, doc, fields...) })
}

// DeleteByID implements indexing.IndexClient.
func (g *GuardedIndex) DeleteByID(ctx context.Context, id string) error {
	return g.call(id, func() error { return g.inner.DeleteByID(ctx, id) })
}

// DeleteByQuery implements indexing.IndexClient.
func (g *GuardedIndex) DeleteByQuery(ctx context.Context, q indexing.Query) error {
	return g.call("", func() error { return g.inner.DeleteByQuery(ctx, q) })
}

// Commit implements indexing.IndexClient.
func (g *GuardedIndex) Commit(ctx context.Context) error {
	return g.call("", func() error { return g.inner.Commit(ctx) })
}

// State returns the breaker state.
func (g *GuardedIndex) State() apperrors.State {
	return g.breaker.State()
}
