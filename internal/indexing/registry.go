package indexing

import (
	"context"
	"sort"
	"time"

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// Action performs one unit of index mutation or traversal control.
type Action interface {
	Perform(ctx context.Context, req *Request) error
}

// ActionFunc adapts a function to the Action interface.
type ActionFunc func(ctx context.Context, req *Request) error

// Perform calls f.
func (f ActionFunc) Perform(ctx context.Context, req *Request) error {
	return f(ctx, req)
}

// Registry is the dispatch table from action tag to Action. It is built
// once and never mutated.
type Registry struct {
	actions map[ActionType]Action
}

// NewRegistry copies actions into a new Registry.
func NewRegistry(actions map[ActionType]Action) *Registry {
	m := make(map[ActionType]Action, len(actions))
	for t, a := range actions {
		m[t] = a
	}
	return &Registry{actions: m}
}

// Lookup returns the Action registered for t. An unregistered tag is a
// fatal configuration error.
func (r *Registry) Lookup(t ActionType) (Action, error) {
	a, ok := r.actions[t]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeUnknownAction, "no action registered for "+string(t), nil).
			WithDetail("action", string(t)).
			WithSuggestion("run 'repoindex actions' to list registered actions")
	}
	return a, nil
}

// Perform looks up and performs the action named by req.
func (r *Registry) Perform(ctx context.Context, req *Request) error {
	a, err := r.Lookup(req.Action)
	if err != nil {
		return apperrors.WrapTarget(apperrors.ErrCodeUnknownAction, req.TargetID, err)
	}
	return a.Perform(ctx, req)
}

// Types returns the registered tags in sorted order.
func (r *Registry) Types() []ActionType {
	types := make([]ActionType, 0, len(r.actions))
	for t := range r.actions {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Deps are the collaborators the default actions are built from.
type Deps struct {
	Graph      Graph
	Builder    DocumentBuilder
	Index      IndexClient
	Records    RecordReader
	Paths      PathResolver
	Dispatcher Dispatcher
	Types      Classification

	// AddMode selects add or update for ADD. Defaults to AddModeAdd.
	AddMode AddMode

	// Clock defaults to time.Now.
	Clock func() time.Time

	// Scopes serializes overlapping reindexes. Nil disables serialization.
	Scopes *ScopeLocker
}

// NewDefaultRegistry wires the standard action set.
func NewDefaultRegistry(d Deps) *Registry {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.AddMode == "" {
		d.AddMode = AddModeAdd
	}

	tree := NewTreeIndexer(d.Graph, d.Dispatcher, d.Types)
	clearAll := &Clear{Index: d.Index}
	deleteTree := &DeleteTree{Records: d.Records, Index: d.Index, Types: d.Types, Clear: clearAll}
	recursiveAdd := &UpdateTree{Tree: tree, Action: ActionAdd}

	return NewRegistry(map[ActionType]Action{
		ActionAdd:    &AddOrUpdate{Builder: d.Builder, Index: d.Index, Mode: d.AddMode},
		ActionUpdate: &AddOrUpdate{Builder: d.Builder, Index: d.Index, Mode: AddModeUpdate},
		ActionUpdatePath: &AddOrUpdate{
			Builder: d.Builder,
			Index:   d.Index,
			Mode:    AddModeUpdate,
			Fields:  []string{FieldAncestorPath, FieldParentID},
		},
		ActionDelete:              &Delete{Index: d.Index},
		ActionDeleteTree:          deleteTree,
		ActionDeleteStaleChildren: &DeleteStaleChildren{Records: d.Records, Index: d.Index, Types: d.Types},
		ActionClearIndex:          clearAll,
		ActionCommit:              &Commit{Index: d.Index},
		ActionRecursiveAdd:        recursiveAdd,
		ActionRecursiveDescendants: &UpdateTree{
			Tree:      tree,
			Action:    ActionAdd,
			SkipStart: true,
		},
		ActionRecursiveReindex: &UpdateTreeInplace{
			Update:     recursiveAdd,
			Dispatcher: d.Dispatcher,
			Clock:      d.Clock,
			Scopes:     d.Scopes,
			Paths:      d.Paths,
			Graph:      d.Graph,
			Types:      d.Types,
		},
		ActionCleanReindex: &UpdateTreeClean{
			DeleteTree: deleteTree,
			Index:      d.Index,
			Update:     recursiveAdd,
			Scopes:     d.Scopes,
			Paths:      d.Paths,
		},
		ActionRecursiveAddSet: &UpdateTreeSet{Tree: tree, Action: ActionAdd},
		ActionMove: &SeparateRootAndDescendants{
			Tree:             tree,
			Dispatcher:       d.Dispatcher,
			RootAction:       ActionAdd,
			DescendantAction: ActionUpdatePath,
		},
	})
}
