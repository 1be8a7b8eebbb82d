package indexing

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// ActionType is the tag that selects an Action from the Registry.
type ActionType string

// Registered action tags.
const (
	ActionAdd                  ActionType = "ADD"
	ActionUpdate               ActionType = "UPDATE"
	ActionUpdatePath           ActionType = "UPDATE_PATH"
	ActionDelete               ActionType = "DELETE"
	ActionDeleteTree           ActionType = "DELETE_TREE"
	ActionDeleteStaleChildren  ActionType = "DELETE_CHILDREN_PRIOR_TO_TIMESTAMP"
	ActionClearIndex           ActionType = "CLEAR_INDEX"
	ActionCommit               ActionType = "COMMIT"
	ActionRecursiveAdd         ActionType = "RECURSIVE_ADD"
	ActionRecursiveDescendants ActionType = "RECURSIVE_ADD_DESCENDANTS"
	ActionRecursiveReindex     ActionType = "RECURSIVE_REINDEX"
	ActionCleanReindex         ActionType = "CLEAN_REINDEX"
	ActionRecursiveAddSet      ActionType = "RECURSIVE_ADD_SET"
	ActionMove                 ActionType = "MOVE"
)

// ParamStaleTimestamp carries the staleness cutoff for
// DELETE_CHILDREN_PRIOR_TO_TIMESTAMP, formatted as RFC 3339 with nanoseconds.
const ParamStaleTimestamp = "staleTimestamp"

// String returns the tag.
func (a ActionType) String() string {
	return string(a)
}

// targetless reports whether an action operates on the whole index and
// therefore needs no target id.
func (a ActionType) targetless() bool {
	return a == ActionClearIndex || a == ActionCommit
}

// Request identifies one unit of indexing work. It is created per
// operation, optionally serialized through a Dispatcher, and discarded
// after execution.
type Request struct {
	// ID correlates log lines for one operation across dispatch and execution.
	ID string `json:"id"`

	// TargetID is the node to act on.
	TargetID string `json:"target_id"`

	// Action selects the behavior from the Registry.
	Action ActionType `json:"action"`

	// Children, when non-nil, is the authoritative set of subtrees to process.
	// It is never empty.
	Children []string `json:"children,omitempty"`

	// Params holds action-specific arguments such as ParamStaleTimestamp.
	Params map[string]string `json:"params,omitempty"`

	// User is recorded for attribution only.
	User string `json:"user,omitempty"`

	// StartedAt is captured when execution first begins and never changes
	// afterwards, including across retries.
	StartedAt time.Time `json:"started_at,omitzero"`

	// AwaitPrior asks the consumer to hold this request until every request
	// dispatched before it has finished.
	AwaitPrior bool `json:"await_prior,omitempty"`

	document *Document
}

// RequestOption configures a Request built by NewRequest.
type RequestOption func(*Request) error

// WithChildren sets the explicit child set. An empty set is rejected.
func WithChildren(ids ...string) RequestOption {
	return func(r *Request) error {
		if len(ids) == 0 {
			return apperrors.ArgumentError(apperrors.ErrCodeEmptyChildren, r.TargetID,
				"explicit children must not be empty")
		}
		r.Children = append([]string(nil), ids...)
		return nil
	}
}

// WithParam sets one action parameter.
func WithParam(key, value string) RequestOption {
	return func(r *Request) error {
		if r.Params == nil {
			r.Params = make(map[string]string)
		}
		r.Params[key] = value
		return nil
	}
}

// WithUser sets the acting user.
func WithUser(user string) RequestOption {
	return func(r *Request) error {
		r.User = user
		return nil
	}
}

// WithAwaitPrior orders the request after everything dispatched before it.
func WithAwaitPrior() RequestOption {
	return func(r *Request) error {
		r.AwaitPrior = true
		return nil
	}
}

// WithDocument seeds the cached document so an add does not rebuild it.
func WithDocument(doc *Document) RequestOption {
	return func(r *Request) error {
		r.document = doc
		return nil
	}
}

// NewRequest creates a validated request with a fresh id.
func NewRequest(targetID string, action ActionType, opts ...RequestOption) (*Request, error) {
	r := &Request{
		ID:       uuid.NewString(),
		TargetID: targetID,
		Action:   action,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the invariants a decoded request must satisfy.
// A start time carried over from an earlier attempt must not be later than
// now, since it becomes the staleness cutoff. An id is assigned when missing.
func (r *Request) Validate() error {
	if r.Action == "" {
		return apperrors.ArgumentError(apperrors.ErrCodeInvalidInput, r.TargetID, "action is required")
	}
	if r.TargetID == "" && !r.Action.targetless() {
		return apperrors.ArgumentError(apperrors.ErrCodeInvalidInput, "",
			"target id is required").WithDetail("action", r.Action.String())
	}
	if r.Children != nil && len(r.Children) == 0 {
		return apperrors.ArgumentError(apperrors.ErrCodeEmptyChildren, r.TargetID,
			"explicit children must not be empty")
	}
	if r.StartedAt.After(time.Now()) {
		return apperrors.ArgumentError(apperrors.ErrCodeInvalidInput, r.TargetID,
			"started_at must not be in the future").
			WithDetail("started_at", FormatTimestamp(r.StartedAt))
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// MarkStarted records now as the start time unless one is already set, and
// returns the effective start time.
func (r *Request) MarkStarted(now time.Time) time.Time {
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	return r.StartedAt
}

// Param returns an action parameter.
func (r *Request) Param(key string) (string, bool) {
	v, ok := r.Params[key]
	return v, ok
}

// StaleTimestamp parses ParamStaleTimestamp.
func (r *Request) StaleTimestamp() (time.Time, error) {
	raw, ok := r.Param(ParamStaleTimestamp)
	if !ok || raw == "" {
		return time.Time{}, apperrors.ArgumentError(apperrors.ErrCodeMissingParam, r.TargetID,
			"staleTimestamp parameter is required").
			WithSuggestion("pass an RFC 3339 timestamp, e.g. --param staleTimestamp=2026-01-02T15:04:05Z")
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, apperrors.Indexing(apperrors.ErrCodeInvalidParam, r.TargetID,
			"staleTimestamp is not an RFC 3339 timestamp", err).WithDetail("value", raw)
	}
	return ts, nil
}

// CachedDocument returns the document memoized for this request, if any.
func (r *Request) CachedDocument() *Document {
	return r.document
}

// SetCachedDocument memoizes doc for the rest of this execution.
func (r *Request) SetCachedDocument(doc *Document) {
	r.document = doc
}

// FormatTimestamp renders t the way ParamStaleTimestamp expects it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
