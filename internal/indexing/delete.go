package indexing

import (
	"context"
	"log/slog"

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// DeleteTree removes a node and, for containers, everything indexed beneath
// it. Scope comes from the indexed record rather than the live graph, so it
// works after the source node is gone.
type DeleteTree struct {
	Records RecordReader
	Index   IndexClient
	Types   Classification

	// Clear handles the content root, whose tree is the whole index.
	Clear Action
}

// Perform implements Action.
func (a *DeleteTree) Perform(ctx context.Context, req *Request) error {
	if a.Types.IsRoot(req.TargetID) {
		return a.Clear.Perform(ctx, req)
	}

	rec, err := a.Records.Record(ctx, req.TargetID)
	if err != nil {
		return apperrors.WrapTarget(apperrors.ErrCodeIndexQueryFailed, req.TargetID, err)
	}
	if rec == nil {
		slog.Debug("delete tree: no indexed record",
			slog.String("request_id", req.ID),
			slog.String("target_id", req.TargetID))
		return nil
	}

	if err := a.Index.DeleteByID(ctx, req.TargetID); err != nil {
		return apperrors.WrapTarget(apperrors.ErrCodeIndexWriteFailed, req.TargetID, err)
	}
	if !a.Types.IsContainerType(rec.ResourceType) || rec.AncestorPath == "" {
		return nil
	}

	q := Query{AncestorPath: rec.AncestorPath}
	if err := a.Index.DeleteByQuery(ctx, q); err != nil {
		return apperrors.WrapTarget(apperrors.ErrCodeIndexWriteFailed, req.TargetID, err)
	}
	slog.Info("subtree deleted",
		slog.String("request_id", req.ID),
		slog.String("target_id", req.TargetID),
		slog.String("query", q.String()))
	return nil
}

// DeleteStaleChildren purges records in the target's scope that were last
// written before the staleTimestamp parameter.
type DeleteStaleChildren struct {
	Records RecordReader
	Index   IndexClient
	Types   Classification
}

// Perform implements Action.
func (a *DeleteStaleChildren) Perform(ctx context.Context, req *Request) error {
	cutoff, err := req.StaleTimestamp()
	if err != nil {
		return err
	}

	// The preceding refresh must be visible before selecting what is stale.
	if err := a.Index.Commit(ctx); err != nil {
		return apperrors.WrapTarget(apperrors.ErrCodeIndexWriteFailed, req.TargetID, err)
	}

	q := Query{UpdatedBefore: cutoff}
	if a.Types.IsRoot(req.TargetID) {
		q.MatchAll = true
	} else {
		rec, err := a.Records.Record(ctx, req.TargetID)
		if err != nil {
			return apperrors.WrapTarget(apperrors.ErrCodeIndexQueryFailed, req.TargetID, err)
		}
		if rec == nil || rec.AncestorPath == "" {
			slog.Warn("stale cleanup skipped: target has no indexed path",
				slog.String("request_id", req.ID),
				slog.String("target_id", req.TargetID))
			return nil
		}
		q.AncestorPath = rec.AncestorPath
	}

	if err := a.Index.DeleteByQuery(ctx, q); err != nil {
		return apperrors.WrapTarget(apperrors.ErrCodeIndexWriteFailed, req.TargetID, err)
	}
	slog.Info("stale records purged",
		slog.String("request_id", req.ID),
		slog.String("target_id", req.TargetID),
		slog.String("query", q.String()))
	return nil
}
