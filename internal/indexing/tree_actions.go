package indexing

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// UpdateTree dispatches Action for the target and everything beneath it.
// With SkipStart the target itself is left alone and only its descendants
// are dispatched.
type UpdateTree struct {
	Tree      *TreeIndexer
	Action    ActionType
	SkipStart bool
}

// Perform implements Action.
func (a *UpdateTree) Perform(ctx context.Context, req *Request) error {
	if a.SkipStart {
		return a.Tree.IndexChildren(ctx, req.TargetID, a.Action, req.User)
	}
	return a.Tree.IndexNode(ctx, req.TargetID, a.Action, req.User)
}

// UpdateTreeClean deletes the indexed subtree, commits, then rebuilds it.
type UpdateTreeClean struct {
	DeleteTree Action
	Index      IndexClient
	Update     Action
	Scopes     *ScopeLocker
	Paths      PathResolver
}

// Perform implements Action.
func (a *UpdateTreeClean) Perform(ctx context.Context, req *Request) error {
	release, err := acquireScope(ctx, a.Scopes, a.Paths, req.TargetID)
	if err != nil {
		return err
	}
	defer release()

	if err := a.DeleteTree.Perform(ctx, req); err != nil {
		return err
	}
	// Without this commit a rebuilt child could be removed by the
	// still-pending subtree delete.
	if err := a.Index.Commit(ctx); err != nil {
		return apperrors.WrapTarget(apperrors.ErrCodeIndexWriteFailed, req.TargetID, err)
	}
	return a.Update.Perform(ctx, req)
}

// UpdateTreeInplace refreshes the subtree and then dispatches a cleanup that
// purges whatever the refresh did not touch. When Graph is set and the
// target is tombstoned, its whole indexed subtree is deleted instead.
type UpdateTreeInplace struct {
	Update     Action
	Dispatcher Dispatcher
	Clock      func() time.Time
	Scopes     *ScopeLocker
	Paths      PathResolver
	Graph      Graph
	Types      Classification
}

// Perform implements Action.
func (a *UpdateTreeInplace) Perform(ctx context.Context, req *Request) error {
	release, err := acquireScope(ctx, a.Scopes, a.Paths, req.TargetID)
	if err != nil {
		return err
	}
	if a.Graph != nil {
		types, err := a.Graph.Types(ctx, req.TargetID)
		if err != nil {
			release()
			return apperrors.WrapTarget(apperrors.ErrCodeGraphQueryFailed, req.TargetID, err)
		}
		if a.Types.IsTombstone(types) {
			release()
			return a.dispatchDelete(ctx, req)
		}
	}
	started := req.MarkStarted(a.now())

	err = a.Update.Perform(ctx, req)
	release()
	if err != nil {
		return err
	}

	cleanup, err := NewRequest(req.TargetID, ActionDeleteStaleChildren,
		WithUser(req.User),
		WithParam(ParamStaleTimestamp, FormatTimestamp(started)),
		WithAwaitPrior())
	if err != nil {
		return err
	}
	if err := a.Dispatcher.Dispatch(ctx, cleanup); err != nil {
		return apperrors.WrapTarget(apperrors.ErrCodeDispatchFailed, req.TargetID, err)
	}

	slog.Info("in-place reindex walked",
		slog.String("request_id", req.ID),
		slog.String("target_id", req.TargetID),
		slog.String("cleanup_id", cleanup.ID),
		slog.Time("stale_before", started))
	return nil
}

func (a *UpdateTreeInplace) dispatchDelete(ctx context.Context, req *Request) error {
	del, err := NewRequest(req.TargetID, ActionDeleteTree, WithUser(req.User), WithAwaitPrior())
	if err != nil {
		return err
	}
	if err := a.Dispatcher.Dispatch(ctx, del); err != nil {
		return apperrors.WrapTarget(apperrors.ErrCodeDispatchFailed, req.TargetID, err)
	}
	slog.Info("reindex target is tombstoned, deleting its subtree",
		slog.String("request_id", req.ID),
		slog.String("target_id", req.TargetID),
		slog.String("delete_id", del.ID))
	return nil
}

func (a *UpdateTreeInplace) now() time.Time {
	if a.Clock == nil {
		return time.Now()
	}
	return a.Clock()
}

// UpdateTreeSet runs the recursive walk once per explicit child.
type UpdateTreeSet struct {
	Tree   *TreeIndexer
	Action ActionType
}

// Perform implements Action.
func (a *UpdateTreeSet) Perform(ctx context.Context, req *Request) error {
	if len(req.Children) == 0 {
		return apperrors.ArgumentError(apperrors.ErrCodeEmptyChildren, req.TargetID,
			"RECURSIVE_ADD_SET requires explicit children")
	}
	for _, child := range req.Children {
		if err := a.Tree.IndexNode(ctx, child, a.Action, req.User); err != nil {
			return err
		}
	}
	return nil
}

// SeparateRootAndDescendants dispatches RootAction for the target and
// DescendantAction for everything beneath it.
type SeparateRootAndDescendants struct {
	Tree             *TreeIndexer
	Dispatcher       Dispatcher
	RootAction       ActionType
	DescendantAction ActionType
}

// Perform implements Action.
func (a *SeparateRootAndDescendants) Perform(ctx context.Context, req *Request) error {
	root, err := NewRequest(req.TargetID, a.RootAction, WithUser(req.User))
	if err != nil {
		return err
	}
	if err := a.Dispatcher.Dispatch(ctx, root); err != nil {
		return apperrors.WrapTarget(apperrors.ErrCodeDispatchFailed, req.TargetID, err)
	}
	return a.Tree.IndexChildren(ctx, req.TargetID, a.DescendantAction, req.User)
}
