package indexing

import (
	"context"
	"log/slog"
	"strconv"

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// MaxTreeDepth bounds how far below its starting node a walk descends. A
// deeper walk fails, which also stops a membership cycle.
const MaxTreeDepth = 256

// TreeIndexer walks the graph depth-first and dispatches one request per
// reachable node. The walk itself runs in the caller's goroutine; only the
// per-node work goes through the Dispatcher.
type TreeIndexer struct {
	graph      Graph
	dispatcher Dispatcher
	types      Classification
}

// NewTreeIndexer creates a TreeIndexer.
func NewTreeIndexer(graph Graph, dispatcher Dispatcher, types Classification) *TreeIndexer {
	return &TreeIndexer{graph: graph, dispatcher: dispatcher, types: types}
}

// Index dispatches action for id and recurses into its members when it is a
// container. Tombstoned nodes are neither dispatched nor recursed into.
func (t *TreeIndexer) Index(ctx context.Context, id string, types []string, action ActionType, user string) error {
	return t.index(ctx, id, types, action, user, 0)
}

func (t *TreeIndexer) index(ctx context.Context, id string, types []string, action ActionType, user string, depth int) error {
	if t.types.IsTombstone(types) {
		slog.Debug("skipping tombstoned node", slog.String("target_id", id))
		return nil
	}

	if err := t.dispatch(ctx, id, action, user); err != nil {
		return err
	}

	if t.types.IsContainer(types) {
		return t.indexChildren(ctx, id, action, user, depth)
	}
	return nil
}

// IndexChildren calls Index for every member of parent. Members with no
// types are skipped. The first error aborts the rest of this branch.
func (t *TreeIndexer) IndexChildren(ctx context.Context, parentID string, action ActionType, user string) error {
	return t.indexChildren(ctx, parentID, action, user, 0)
}

func (t *TreeIndexer) indexChildren(ctx context.Context, parentID string, action ActionType, user string, depth int) error {
	if depth >= MaxTreeDepth {
		return apperrors.ArgumentError(apperrors.ErrCodeInvalidInput, parentID,
			"graph too deep or cyclic below this node").WithDetail("max_depth", strconv.Itoa(MaxTreeDepth))
	}
	members, err := t.graph.QueryMembers(ctx, parentID)
	if err != nil {
		return apperrors.WrapTarget(apperrors.ErrCodeGraphQueryFailed, parentID, err)
	}

	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(m.Types) == 0 {
			slog.Debug("skipping member without types",
				slog.String("parent_id", parentID),
				slog.String("target_id", m.ID))
			continue
		}
		if err := t.index(ctx, m.ID, m.Types, action, user, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// IndexNode looks up the type set of id and calls Index.
func (t *TreeIndexer) IndexNode(ctx context.Context, id string, action ActionType, user string) error {
	types, err := t.graph.Types(ctx, id)
	if err != nil {
		return apperrors.WrapTarget(apperrors.ErrCodeGraphQueryFailed, id, err)
	}
	return t.Index(ctx, id, types, action, user)
}

func (t *TreeIndexer) dispatch(ctx context.Context, id string, action ActionType, user string) error {
	req, err := NewRequest(id, action, WithUser(user))
	if err != nil {
		return err
	}
	if err := t.dispatcher.Dispatch(ctx, req); err != nil {
		return apperrors.WrapTarget(apperrors.ErrCodeDispatchFailed, id, err)
	}
	return nil
}
