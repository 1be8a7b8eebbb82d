package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/indexing"
)

// DefaultAutoCommitDocs is the pending-write count that forces a commit.
const DefaultAutoCommitDocs = 1000

// searchPageSize bounds one page of a delete-by-query scan.
const searchPageSize = 1000

// SearchIndexConfig configures a SearchIndex.
type SearchIndexConfig struct {
	// Path is the index directory. Empty creates an in-memory index.
	Path string

	// AutoCommitDocs commits once this many writes are pending.
	// Zero uses DefaultAutoCommitDocs; negative disables auto-commit.
	AutoCommitDocs int
}

// SearchIndex is the bleve-backed index client. Writes are buffered and
// become visible to searches at Commit.
type SearchIndex struct {
	mu         sync.Mutex
	index      bleve.Index
	path       string
	autoCommit int
	now        func() time.Time
	closed     bool

	// pending holds uncommitted writes in order of arrival; a nil value is
	// a delete.
	pending map[string]*indexDoc
	order   []string
}

var (
	_ indexing.IndexClient  = (*SearchIndex)(nil)
	_ indexing.RecordReader = (*SearchIndex)(nil)
)

// indexDoc is the stored form of a document.
type indexDoc struct {
	ID           string
	Title        string
	Content      string
	ResourceType string
	AncestorPath string
	ParentID     string
	DateAdded    time.Time
	DateUpdated  time.Time
	Timestamp    time.Time
}

// NewSearchIndex opens or creates the index. A corrupt on-disk index is
// removed and recreated empty; the caller is expected to reindex.
func NewSearchIndex(cfg SearchIndexConfig) (*SearchIndex, error) {
	m := newIndexMapping()

	var idx bleve.Index
	var err error
	if cfg.Path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", cfg.Path, err)
		}
		if validErr := validateIndexIntegrity(cfg.Path); validErr != nil {
			slog.Warn("search_index_corrupted",
				slog.String("path", cfg.Path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(cfg.Path); removeErr != nil {
				return nil, apperrors.New(apperrors.ErrCodeCorruptIndex, "index corrupted and cannot be removed", removeErr).
					WithDetail("path", cfg.Path)
			}
		}

		idx, err = bleve.Open(cfg.Path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(cfg.Path, m)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("search_index_open_failed",
				slog.String("path", cfg.Path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(cfg.Path); removeErr != nil {
				return nil, apperrors.New(apperrors.ErrCodeCorruptIndex, "index corrupted and cannot be removed", removeErr).
					WithDetail("path", cfg.Path)
			}
			slog.Info("search_index_cleared",
				slog.String("path", cfg.Path),
				slog.String("reason", "corruption detected, run 'repoindex reindex' on the content root"))
			idx, err = bleve.New(cfg.Path, m)
		}
	}
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStorageOpen, "failed to open search index", err).
			WithDetail("path", cfg.Path)
	}

	autoCommit := cfg.AutoCommitDocs
	if autoCommit == 0 {
		autoCommit = DefaultAutoCommitDocs
	}

	return &SearchIndex{
		index:      idx,
		path:       cfg.Path,
		autoCommit: autoCommit,
		now:        time.Now,
		pending:    make(map[string]*indexDoc),
	}, nil
}

// newIndexMapping builds a static mapping: identifiers and paths are single
// keyword terms, dates are datetime fields, title and content are analyzed.
func newIndexMapping() *mapping.IndexMappingImpl {
	keyword := bleve.NewKeywordFieldMapping()
	text := bleve.NewTextFieldMapping()
	datetime := bleve.NewDateTimeFieldMapping()

	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt(indexing.FieldID, keyword)
	doc.AddFieldMappingsAt(indexing.FieldResourceType, keyword)
	doc.AddFieldMappingsAt(indexing.FieldAncestorPath, keyword)
	doc.AddFieldMappingsAt(indexing.FieldParentID, keyword)
	doc.AddFieldMappingsAt(indexing.FieldTitle, text)
	doc.AddFieldMappingsAt(indexing.FieldContent, text)
	doc.AddFieldMappingsAt(indexing.FieldDateAdded, datetime)
	doc.AddFieldMappingsAt(indexing.FieldDateUpdated, datetime)
	doc.AddFieldMappingsAt(indexing.FieldTimestamp, datetime)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// validateIndexIntegrity checks index_meta.json before opening.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	metaPath := filepath.Join(path, "index_meta.json")
	data, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, bleve.ErrorIndexMetaCorrupt) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt")
}

func (s *SearchIndex) checkOpen() error {
	if s.closed {
		return apperrors.New(apperrors.ErrCodeIndexClosed, "search index is closed", nil)
	}
	return nil
}

// Add implements indexing.IndexClient.
func (s *SearchIndex) Add(ctx context.Context, doc *indexing.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	d := fromDocument(doc)
	d.Timestamp = s.now()
	return s.stage(ctx, doc.ID, d)
}

// Update implements indexing.IndexClient. Only the named fields, or every
// non-empty field when none are named, replace the stored values. A missing
// record is written in full.
func (s *SearchIndex) Update(ctx context.Context, doc *indexing.Document, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	base, err := s.current(ctx, doc.ID)
	if err != nil {
		return err
	}
	update := fromDocument(doc)
	missing := base == nil
	if missing {
		base = &indexDoc{ID: doc.ID}
	}
	if err := mergeFields(base, update, fields); err != nil {
		return apperrors.Indexing(apperrors.ErrCodeInvalidParam, doc.ID, "invalid update field", err)
	}
	if missing {
		// Nothing to merge into: a partial record would lose its type.
		base = update
	}
	base.Timestamp = s.now()
	return s.stage(ctx, doc.ID, base)
}

// DeleteByID implements indexing.IndexClient.
func (s *SearchIndex) DeleteByID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.stage(ctx, id, nil)
}

// DeleteByQuery implements indexing.IndexClient. Pending writes are
// committed first so the query also sees them.
func (s *SearchIndex) DeleteByQuery(ctx context.Context, q indexing.Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.flush(); err != nil {
		return err
	}

	bq, err := toBleveQuery(q)
	if err != nil {
		return err
	}
	ids, err := s.matchingIDs(ctx, bq)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.stage(ctx, id, nil); err != nil {
			return err
		}
	}
	slog.Debug("delete by query staged",
		slog.String("query", q.String()),
		slog.Int("matched", len(ids)))
	return nil
}

// Commit implements indexing.IndexClient.
func (s *SearchIndex) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.flush()
}

// Record implements indexing.RecordReader. Pending writes are visible.
func (s *SearchIndex) Record(ctx context.Context, id string) (*indexing.IndexedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	d, err := s.current(ctx, id)
	if err != nil || d == nil {
		return nil, err
	}
	return d.record(), nil
}

// Document returns the stored document for id, or nil when absent.
func (s *SearchIndex) Document(ctx context.Context, id string) (*indexing.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	d, err := s.current(ctx, id)
	if err != nil || d == nil {
		return nil, err
	}
	return d.document(), nil
}

// Find returns committed records matching q, ordered by ancestor path.
func (s *SearchIndex) Find(ctx context.Context, q indexing.Query) ([]indexing.IndexedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	bq, err := toBleveQuery(q)
	if err != nil {
		return nil, err
	}

	var out []indexing.IndexedRecord
	err = s.scan(ctx, bq, []string{"*"}, func(hit map[string]any, id string) {
		out = append(out, *fromFields(id, hit).record())
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AncestorPath < out[j].AncestorPath })
	return out, nil
}

// Count returns the number of committed documents.
func (s *SearchIndex) Count() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	n, err := s.index.DocCount()
	if err != nil {
		return 0, apperrors.New(apperrors.ErrCodeIndexQueryFailed, "document count failed", err)
	}
	return n, nil
}

// Pending returns the number of uncommitted writes.
func (s *SearchIndex) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Close commits pending writes and closes the index.
func (s *SearchIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	flushErr := s.flush()
	s.closed = true
	if err := s.index.Close(); err != nil {
		return apperrors.New(apperrors.ErrCodeIndexWriteFailed, "failed to close search index", err)
	}
	return flushErr
}

// stage records a pending write and auto-commits at the threshold.
// Must be called with mu held.
func (s *SearchIndex) stage(_ context.Context, id string, d *indexDoc) error {
	if _, ok := s.pending[id]; !ok {
		s.order = append(s.order, id)
	}
	s.pending[id] = d
	if s.autoCommit > 0 && len(s.order) >= s.autoCommit {
		return s.flush()
	}
	return nil
}

// flush writes the pending batch. Must be called with mu held.
func (s *SearchIndex) flush() error {
	if len(s.order) == 0 {
		return nil
	}
	batch := s.index.NewBatch()
	for _, id := range s.order {
		d := s.pending[id]
		if d == nil {
			batch.Delete(id)
			continue
		}
		if err := batch.Index(id, d.fields()); err != nil {
			return apperrors.Indexing(apperrors.ErrCodeIndexWriteFailed, id, "failed to stage document", err)
		}
	}
	if err := s.index.Batch(batch); err != nil {
		return apperrors.New(apperrors.ErrCodeIndexWriteFailed, "commit failed", err).
			WithDetail("pending", fmt.Sprint(len(s.order)))
	}
	s.pending = make(map[string]*indexDoc)
	s.order = s.order[:0]
	return nil
}

// current returns the newest version of id, pending or committed.
// Must be called with mu held.
func (s *SearchIndex) current(ctx context.Context, id string) (*indexDoc, error) {
	if d, ok := s.pending[id]; ok {
		if d == nil {
			return nil, nil
		}
		cp := *d
		return &cp, nil
	}

	var found *indexDoc
	err := s.scan(ctx, bleve.NewDocIDQuery([]string{id}), []string{"*"}, func(hit map[string]any, hitID string) {
		found = fromFields(hitID, hit)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// matchingIDs collects the ids of every committed document matching q.
func (s *SearchIndex) matchingIDs(ctx context.Context, q query.Query) ([]string, error) {
	var ids []string
	err := s.scan(ctx, q, nil, func(_ map[string]any, id string) {
		ids = append(ids, id)
	})
	return ids, err
}

// scan pages through every hit of q in id order.
func (s *SearchIndex) scan(ctx context.Context, q query.Query, fields []string, fn func(map[string]any, string)) error {
	for from := 0; ; from += searchPageSize {
		req := bleve.NewSearchRequestOptions(q, searchPageSize, from, false)
		req.Fields = fields
		req.SortBy([]string{"_id"})

		res, err := s.index.SearchInContext(ctx, req)
		if err != nil {
			return apperrors.New(apperrors.ErrCodeIndexQueryFailed, "index search failed", err)
		}
		for _, hit := range res.Hits {
			fn(hit.Fields, hit.ID)
		}
		if len(res.Hits) < searchPageSize {
			return nil
		}
	}
}

// toBleveQuery translates an indexing query.
func toBleveQuery(q indexing.Query) (query.Query, error) {
	var parts []query.Query
	if q.MatchAll {
		parts = append(parts, bleve.NewMatchAllQuery())
	}
	if q.AncestorPath != "" {
		pq := bleve.NewPrefixQuery(q.AncestorPath + indexing.PathSeparator)
		pq.SetField(indexing.FieldAncestorPath)
		parts = append(parts, pq)
	}
	if !q.UpdatedBefore.IsZero() {
		exclusive := false
		dq := bleve.NewDateRangeInclusiveQuery(time.Time{}, q.UpdatedBefore, nil, &exclusive)
		dq.SetField(indexing.FieldTimestamp)
		parts = append(parts, dq)
	}

	switch len(parts) {
	case 0:
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "empty delete query", nil)
	case 1:
		return parts[0], nil
	default:
		return bleve.NewConjunctionQuery(parts...), nil
	}
}

func fromDocument(doc *indexing.Document) *indexDoc {
	return &indexDoc{
		ID:           doc.ID,
		Title:        doc.Title,
		Content:      doc.Content,
		ResourceType: doc.ResourceType,
		AncestorPath: doc.AncestorPath,
		ParentID:     doc.ParentID,
		DateAdded:    doc.DateAdded,
		DateUpdated:  doc.DateUpdated,
	}
}

// mergeFields copies the named fields of src into dst. With no names,
// every non-empty field is copied.
func mergeFields(dst, src *indexDoc, fields []string) error {
	all := len(fields) == 0
	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		switch f {
		case indexing.FieldTitle, indexing.FieldContent, indexing.FieldResourceType,
			indexing.FieldAncestorPath, indexing.FieldParentID,
			indexing.FieldDateAdded, indexing.FieldDateUpdated:
			want[f] = true
		default:
			return fmt.Errorf("field %q cannot be updated", f)
		}
	}
	copyString := func(name string, d *string, v string) {
		if want[name] || (all && v != "") {
			*d = v
		}
	}
	copyTime := func(name string, d *time.Time, v time.Time) {
		if want[name] || (all && !v.IsZero()) {
			*d = v
		}
	}

	copyString(indexing.FieldTitle, &dst.Title, src.Title)
	copyString(indexing.FieldContent, &dst.Content, src.Content)
	copyString(indexing.FieldResourceType, &dst.ResourceType, src.ResourceType)
	copyString(indexing.FieldAncestorPath, &dst.AncestorPath, src.AncestorPath)
	copyString(indexing.FieldParentID, &dst.ParentID, src.ParentID)
	copyTime(indexing.FieldDateAdded, &dst.DateAdded, src.DateAdded)
	copyTime(indexing.FieldDateUpdated, &dst.DateUpdated, src.DateUpdated)

	return nil
}

// fields renders the document for bleve. Zero times are omitted because
// datetime fields cannot hold them.
func (d *indexDoc) fields() map[string]any {
	m := map[string]any{
		indexing.FieldID:           d.ID,
		indexing.FieldTitle:        d.Title,
		indexing.FieldContent:      d.Content,
		indexing.FieldResourceType: d.ResourceType,
		indexing.FieldAncestorPath: d.AncestorPath,
		indexing.FieldParentID:     d.ParentID,
	}
	for name, t := range map[string]time.Time{
		indexing.FieldDateAdded:   d.DateAdded,
		indexing.FieldDateUpdated: d.DateUpdated,
		indexing.FieldTimestamp:   d.Timestamp,
	} {
		if !t.IsZero() {
			m[name] = t
		}
	}
	return m
}

func fromFields(id string, f map[string]any) *indexDoc {
	str := func(name string) string {
		s, _ := f[name].(string)
		return s
	}
	return &indexDoc{
		ID:           id,
		Title:        str(indexing.FieldTitle),
		Content:      str(indexing.FieldContent),
		ResourceType: str(indexing.FieldResourceType),
		AncestorPath: str(indexing.FieldAncestorPath),
		ParentID:     str(indexing.FieldParentID),
		DateAdded:    parseStoredTime(f[indexing.FieldDateAdded]),
		DateUpdated:  parseStoredTime(f[indexing.FieldDateUpdated]),
		Timestamp:    parseStoredTime(f[indexing.FieldTimestamp]),
	}
}

// parseStoredTime decodes a stored datetime field, which bleve returns as
// an RFC 3339 string. Sub-second precision may be lost on the way back;
// range queries compare the exact indexed value.
func parseStoredTime(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (d *indexDoc) record() *indexing.IndexedRecord {
	return &indexing.IndexedRecord{
		ID:           d.ID,
		AncestorPath: d.AncestorPath,
		ResourceType: d.ResourceType,
		LastUpdated:  d.Timestamp,
	}
}

func (d *indexDoc) document() *indexing.Document {
	return &indexing.Document{
		ID:           d.ID,
		Title:        d.Title,
		Content:      d.Content,
		ResourceType: d.ResourceType,
		AncestorPath: d.AncestorPath,
		ParentID:     d.ParentID,
		DateAdded:    d.DateAdded,
		DateUpdated:  d.DateUpdated,
	}
}
