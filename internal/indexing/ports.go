package indexing

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Indexed field names shared by the document builder and the index client.
const (
	FieldID           = "id"
	FieldTitle        = "title"
	FieldContent      = "content"
	FieldResourceType = "resource_type"
	FieldAncestorPath = "ancestor_path"
	FieldParentID     = "parent_id"
	FieldDateAdded    = "date_added"
	FieldDateUpdated  = "date_updated"
	FieldTimestamp    = "timestamp"
)

// PathSeparator joins ancestor path segments.
const PathSeparator = "/"

// Member is one child returned by a membership query.
type Member struct {
	ID    string
	Types []string
}

// Graph is the source content graph.
type Graph interface {
	// Types returns the type set of a node.
	Types(ctx context.Context, id string) ([]string, error)

	// QueryMembers returns the direct members of a node with their type sets.
	QueryMembers(ctx context.Context, id string) ([]Member, error)
}

// Document is the searchable representation of one node.
type Document struct {
	ID           string
	Title        string
	Content      string
	ResourceType string
	AncestorPath string
	ParentID     string
	DateAdded    time.Time
	DateUpdated  time.Time
}

// IndexedRecord is what the index last stored for a node.
type IndexedRecord struct {
	ID           string
	AncestorPath string
	ResourceType string
	LastUpdated  time.Time
}

// DocumentBuilder turns a node into a Document.
type DocumentBuilder interface {
	Build(ctx context.Context, id string) (*Document, error)
}

// RecordReader reads indexed records. Record returns nil, nil when the
// index holds nothing for id.
type RecordReader interface {
	Record(ctx context.Context, id string) (*IndexedRecord, error)
}

// PathResolver computes a node's ancestor path from the live graph.
type PathResolver interface {
	AncestorPath(ctx context.Context, id string) (string, error)
}

// Query selects records for a bulk delete. Set conditions are ANDed.
type Query struct {
	// MatchAll selects every record.
	MatchAll bool

	// AncestorPath selects records whose ancestor path lies strictly
	// beneath this path.
	AncestorPath string

	// UpdatedBefore, when non-zero, selects records last written strictly
	// before this instant.
	UpdatedBefore time.Time
}

// Matches evaluates the query against a record.
func (q Query) Matches(rec IndexedRecord) bool {
	if q.AncestorPath != "" && !IsBeneath(rec.AncestorPath, q.AncestorPath) {
		return false
	}
	if !q.UpdatedBefore.IsZero() && !rec.LastUpdated.Before(q.UpdatedBefore) {
		return false
	}
	return q.MatchAll || q.AncestorPath != "" || !q.UpdatedBefore.IsZero()
}

func (q Query) String() string {
	var parts []string
	if q.MatchAll {
		parts = append(parts, "*:*")
	}
	if q.AncestorPath != "" {
		parts = append(parts, fmt.Sprintf("%s:%s%s*", FieldAncestorPath, q.AncestorPath, PathSeparator))
	}
	if !q.UpdatedBefore.IsZero() {
		parts = append(parts, fmt.Sprintf("%s:[* TO %s}", FieldTimestamp, FormatTimestamp(q.UpdatedBefore)))
	}
	return strings.Join(parts, " AND ")
}

// IsBeneath reports whether path lies strictly beneath ancestor.
func IsBeneath(path, ancestor string) bool {
	return strings.HasPrefix(path, ancestor+PathSeparator)
}

// PathSegment renders one ancestor path segment.
func PathSegment(depth int, id string) string {
	return fmt.Sprintf("%d,%s", depth, id)
}

// IndexClient mutates the search index. Writes become visible to queries
// after Commit.
type IndexClient interface {
	// Add writes doc, replacing any existing record with the same id.
	Add(ctx context.Context, doc *Document) error

	// Update overwrites only the named fields, or every non-empty field when
	// none are named. A missing record is created.
	Update(ctx context.Context, doc *Document, fields ...string) error

	// DeleteByID removes one record. Deleting a missing record succeeds.
	DeleteByID(ctx context.Context, id string) error

	// DeleteByQuery removes every record matching q.
	DeleteByQuery(ctx context.Context, q Query) error

	// Commit makes pending writes visible.
	Commit(ctx context.Context) error
}

// Dispatcher sends a request for later execution. Dispatch must not wait
// for the request to be performed.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *Request) error
}
