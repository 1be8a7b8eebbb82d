package indexing

import (
	"context"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// fakeGraph is an in-memory content graph.
type fakeGraph struct {
	mu        sync.Mutex
	types     map[string][]string
	members   map[string][]string
	queried   []string
	queryErrs map[string]error
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		types:     make(map[string][]string),
		members:   make(map[string][]string),
		queryErrs: make(map[string]error),
	}
}

// add registers id under parent ("" for a root) with the given types.
func (g *fakeGraph) add(parent, id string, types ...string) *fakeGraph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.types[id] = types
	if parent != "" {
		g.members[parent] = append(g.members[parent], id)
	}
	return g
}

// detach removes id from its parent's member list.
func (g *fakeGraph) detach(parent, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := g.members[parent][:0]
	for _, m := range g.members[parent] {
		if m != id {
			kept = append(kept, m)
		}
	}
	g.members[parent] = kept
}

func (g *fakeGraph) Types(_ context.Context, id string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.types[id]
	if !ok {
		return nil, apperrors.ArgumentError(apperrors.ErrCodeNodeNotFound, id, "node not found")
	}
	return t, nil
}

func (g *fakeGraph) QueryMembers(_ context.Context, id string) ([]Member, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queried = append(g.queried, id)
	if err := g.queryErrs[id]; err != nil {
		return nil, err
	}
	var out []Member
	for _, child := range g.members[id] {
		out = append(out, Member{ID: child, Types: g.types[child]})
	}
	return out, nil
}

func (g *fakeGraph) queriedIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.queried...)
}

func (g *fakeGraph) parentOf(id string) string {
	for parent, children := range g.members {
		for _, c := range children {
			if c == id {
				return parent
			}
		}
	}
	return ""
}

func (g *fakeGraph) AncestorPath(_ context.Context, id string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.types[id]; !ok {
		return "", apperrors.ArgumentError(apperrors.ErrCodeNodeNotFound, id, "node not found")
	}
	var chain []string
	for cur := id; cur != ""; cur = g.parentOf(cur) {
		chain = append([]string{cur}, chain...)
	}
	segs := make([]string, len(chain))
	for i, n := range chain {
		segs[i] = PathSegment(i+1, n)
	}
	return strings.Join(segs, PathSeparator), nil
}

// graphBuilder builds documents from a fakeGraph.
type graphBuilder struct {
	graph  *fakeGraph
	types  Classification
	mu     sync.Mutex
	builds int
}

func (b *graphBuilder) Build(ctx context.Context, id string) (*Document, error) {
	b.mu.Lock()
	b.builds++
	b.mu.Unlock()

	types, err := b.graph.Types(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.types.IsTombstone(types) {
		return nil, apperrors.ArgumentError(apperrors.ErrCodeNodeTombstoned, id, "node is tombstoned")
	}
	path, err := b.graph.AncestorPath(ctx, id)
	if err != nil {
		return nil, err
	}
	b.graph.mu.Lock()
	parent := b.graph.parentOf(id)
	b.graph.mu.Unlock()
	return &Document{
		ID:           id,
		Title:        "title " + id,
		ResourceType: b.types.ResourceType(types),
		AncestorPath: path,
		ParentID:     parent,
	}, nil
}

func (b *graphBuilder) buildCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.builds
}

// memIndex is an in-memory IndexClient and RecordReader that logs calls.
type memIndex struct {
	mu       sync.Mutex
	now      func() time.Time
	docs     map[string]Document
	records  map[string]IndexedRecord
	calls    []string
	queries  []Query
	writeErr error
}

func newMemIndex(now func() time.Time) *memIndex {
	if now == nil {
		now = time.Now
	}
	return &memIndex{
		now:     now,
		docs:    make(map[string]Document),
		records: make(map[string]IndexedRecord),
	}
}

// seed stores a record as if written at ts.
func (m *memIndex) seed(id, path, resourceType string, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = Document{ID: id, AncestorPath: path, ResourceType: resourceType}
	m.records[id] = IndexedRecord{ID: id, AncestorPath: path, ResourceType: resourceType, LastUpdated: ts}
}

func (m *memIndex) put(doc Document) {
	m.docs[doc.ID] = doc
	m.records[doc.ID] = IndexedRecord{
		ID:           doc.ID,
		AncestorPath: doc.AncestorPath,
		ResourceType: doc.ResourceType,
		LastUpdated:  m.now(),
	}
}

func (m *memIndex) Add(_ context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "add:"+doc.ID)
	if m.writeErr != nil {
		return m.writeErr
	}
	m.put(*doc)
	return nil
}

func (m *memIndex) Update(_ context.Context, doc *Document, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "update:"+doc.ID)
	if m.writeErr != nil {
		return m.writeErr
	}
	merged := m.docs[doc.ID]
	merged.ID = doc.ID
	set := func(name string, dst *string, src string) {
		if len(fields) == 0 {
			if src != "" {
				*dst = src
			}
			return
		}
		for _, f := range fields {
			if f == name {
				*dst = src
			}
		}
	}
	set(FieldTitle, &merged.Title, doc.Title)
	set(FieldContent, &merged.Content, doc.Content)
	set(FieldResourceType, &merged.ResourceType, doc.ResourceType)
	set(FieldAncestorPath, &merged.AncestorPath, doc.AncestorPath)
	set(FieldParentID, &merged.ParentID, doc.ParentID)
	m.put(merged)
	return nil
}

func (m *memIndex) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "delete:"+id)
	if m.writeErr != nil {
		return m.writeErr
	}
	delete(m.docs, id)
	delete(m.records, id)
	return nil
}

func (m *memIndex) DeleteByQuery(_ context.Context, q Query) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "deleteByQuery:"+q.String())
	m.queries = append(m.queries, q)
	if m.writeErr != nil {
		return m.writeErr
	}
	for id, rec := range m.records {
		if q.Matches(rec) {
			delete(m.docs, id)
			delete(m.records, id)
		}
	}
	return nil
}

func (m *memIndex) Commit(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "commit")
	return nil
}

func (m *memIndex) Record(_ context.Context, id string) (*IndexedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memIndex) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.records))
	for id := range m.records {
		out = append(out, id)
	}
	return out
}

func (m *memIndex) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// recordingDispatcher collects dispatched requests without performing them.
type recordingDispatcher struct {
	mu   sync.Mutex
	reqs []*Request
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req *Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.reqs = append(d.reqs, req)
	return nil
}

func (d *recordingDispatcher) targets() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.reqs))
	for i, r := range d.reqs {
		out[i] = r.TargetID
	}
	return out
}

func (d *recordingDispatcher) requests() []*Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Request(nil), d.reqs...)
}

// drain performs dispatched requests in FIFO order until none remain,
// including requests dispatched while draining.
func (d *recordingDispatcher) drain(ctx context.Context, reg *Registry) error {
	for {
		d.mu.Lock()
		if len(d.reqs) == 0 {
			d.mu.Unlock()
			return nil
		}
		next := d.reqs[0]
		d.reqs = d.reqs[1:]
		d.mu.Unlock()

		if err := reg.Perform(ctx, next); err != nil {
			return err
		}
	}
}

// tickClock advances one millisecond per reading.
type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTickClock(start time.Time) *tickClock {
	return &tickClock{t: start}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}
