package indexing

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// AddMode selects how AddOrUpdate writes a document.
type AddMode string

const (
	// AddModeAdd replaces the whole record.
	AddModeAdd AddMode = "add"
	// AddModeUpdate merges fields into the existing record.
	AddModeUpdate AddMode = "update"
)

// ParseAddMode validates a configured add mode.
func ParseAddMode(s string) (AddMode, error) {
	switch AddMode(s) {
	case AddModeAdd, AddModeUpdate:
		return AddMode(s), nil
	default:
		return "", fmt.Errorf("invalid add mode %q: must be %q or %q", s, AddModeAdd, AddModeUpdate)
	}
}

// AddOrUpdate builds the target's document and writes it to the index.
type AddOrUpdate struct {
	Builder DocumentBuilder
	Index   IndexClient
	Mode    AddMode

	// Fields limits an update to these fields.
	Fields []string
}

// Perform implements Action.
func (a *AddOrUpdate) Perform(ctx context.Context, req *Request) error {
	doc := req.CachedDocument()
	if doc == nil {
		built, err := a.Builder.Build(ctx, req.TargetID)
		if err != nil {
			return apperrors.WrapTarget(apperrors.ErrCodeDocumentBuildFailed, req.TargetID, err)
		}
		doc = built
		req.SetCachedDocument(doc)
	}

	var err error
	if a.Mode == AddModeUpdate {
		err = a.Index.Update(ctx, doc, a.Fields...)
	} else {
		err = a.Index.Add(ctx, doc)
	}
	if err != nil {
		return apperrors.WrapTarget(apperrors.ErrCodeIndexWriteFailed, req.TargetID, err)
	}

	slog.Debug("document written",
		slog.String("request_id", req.ID),
		slog.String("target_id", req.TargetID),
		slog.String("mode", string(a.Mode)),
		slog.Int("fields", len(a.Fields)))
	return nil
}

// Delete removes the target's record. A missing record is not an error.
type Delete struct {
	Index IndexClient
}

// Perform implements Action.
func (a *Delete) Perform(ctx context.Context, req *Request) error {
	if err := a.Index.DeleteByID(ctx, req.TargetID); err != nil {
		return apperrors.WrapTarget(apperrors.ErrCodeIndexWriteFailed, req.TargetID, err)
	}
	return nil
}

// Clear deletes every record and commits.
type Clear struct {
	Index IndexClient
}

// Perform implements Action.
func (a *Clear) Perform(ctx context.Context, req *Request) error {
	if err := a.Index.DeleteByQuery(ctx, Query{MatchAll: true}); err != nil {
		return apperrors.WrapTarget(apperrors.ErrCodeIndexWriteFailed, req.TargetID, err)
	}
	if err := a.Index.Commit(ctx); err != nil {
		return apperrors.WrapTarget(apperrors.ErrCodeIndexWriteFailed, req.TargetID, err)
	}
	slog.Warn("index cleared", slog.String("request_id", req.ID), slog.String("user", req.User))
	return nil
}

// Commit makes pending index writes visible.
type Commit struct {
	Index IndexClient
}

// Perform implements Action.
func (a *Commit) Perform(ctx context.Context, req *Request) error {
	if err := a.Index.Commit(ctx); err != nil {
		return apperrors.WrapTarget(apperrors.ErrCodeIndexWriteFailed, req.TargetID, err)
	}
	return nil
}
