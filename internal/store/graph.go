package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/indexing"
)

// MaxGraphDepth bounds ancestor walks so a membership cycle cannot loop.
const MaxGraphDepth = indexing.MaxTreeDepth

// Node is one object in the content graph.
type Node struct {
	ID        string
	Title     string
	Content   string
	Types     []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GraphStore is the SQLite-backed content graph. Every membership change
// bumps a generation counter so cached ancestry can be invalidated.
type GraphStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var _ indexing.Graph = (*GraphStore)(nil)

// NewGraphStore opens or creates the graph database. An empty path opens an
// in-memory database.
func NewGraphStore(path string) (*GraphStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStorageOpen, "failed to open graph database", err).
			WithDetail("path", path)
	}

	// Single connection: required for :memory: and avoids writer contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, apperrors.New(apperrors.ErrCodeStorageOpen, "failed to set pragma", err).
				WithDetail("pragma", pragma)
		}
	}

	g := &GraphStore{db: db, path: path, now: time.Now}
	if err := g.initSchema(); err != nil {
		_ = db.Close()
		return nil, apperrors.New(apperrors.ErrCodeStorageOpen, "failed to initialize graph schema", err)
	}
	return g, nil
}

func (g *GraphStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL DEFAULT '',
		content    TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS node_types (
		node_id TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
		type    TEXT NOT NULL,
		PRIMARY KEY (node_id, type)
	);

	-- A node has at most one parent.
	CREATE TABLE IF NOT EXISTS members (
		child_id  TEXT PRIMARY KEY REFERENCES nodes(id) ON DELETE CASCADE,
		parent_id TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
		position  INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_members_parent ON members(parent_id, position);

	CREATE TABLE IF NOT EXISTS graph_meta (
		key   TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO graph_meta (key, value) VALUES ('generation', 0);

	CREATE TRIGGER IF NOT EXISTS members_generation_insert AFTER INSERT ON members
	BEGIN
		UPDATE graph_meta SET value = value + 1 WHERE key = 'generation';
	END;
	CREATE TRIGGER IF NOT EXISTS members_generation_update AFTER UPDATE ON members
	BEGIN
		UPDATE graph_meta SET value = value + 1 WHERE key = 'generation';
	END;
	CREATE TRIGGER IF NOT EXISTS members_generation_delete AFTER DELETE ON members
	BEGIN
		UPDATE graph_meta SET value = value + 1 WHERE key = 'generation';
	END;
	`
	_, err := g.db.Exec(schema)
	return err
}

func graphErr(id, msg string, err error) error {
	return apperrors.Indexing(apperrors.ErrCodeGraphQueryFailed, id, msg, err)
}

func notFound(id string) error {
	return apperrors.ArgumentError(apperrors.ErrCodeNodeNotFound, id, "node not found in graph")
}

// exists must not be called inside a transaction on the same connection.
func (g *GraphStore) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := g.db.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, graphErr(id, "node lookup failed", err)
	}
	return true, nil
}

// Types implements indexing.Graph.
func (g *GraphStore) Types(ctx context.Context, id string) ([]string, error) {
	ok, err := g.exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(id)
	}

	rows, err := g.db.QueryContext(ctx, `SELECT type FROM node_types WHERE node_id = ? ORDER BY type`, id)
	if err != nil {
		return nil, graphErr(id, "type query failed", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, graphErr(id, "type scan failed", err)
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, graphErr(id, "type query failed", err)
	}
	return types, nil
}

// QueryMembers implements indexing.Graph. Members come back in insertion
// order with their type sets; a member without types has a nil set.
func (g *GraphStore) QueryMembers(ctx context.Context, id string) ([]indexing.Member, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT m.child_id, t.type
		FROM members m
		LEFT JOIN node_types t ON t.node_id = m.child_id
		WHERE m.parent_id = ?
		ORDER BY m.position, m.child_id, t.type`, id)
	if err != nil {
		return nil, graphErr(id, "member query failed", err)
	}
	defer rows.Close()

	var members []indexing.Member
	for rows.Next() {
		var child string
		var typ sql.NullString
		if err := rows.Scan(&child, &typ); err != nil {
			return nil, graphErr(id, "member scan failed", err)
		}
		if n := len(members); n == 0 || members[n-1].ID != child {
			members = append(members, indexing.Member{ID: child})
		}
		if typ.Valid {
			last := &members[len(members)-1]
			last.Types = append(last.Types, typ.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, graphErr(id, "member query failed", err)
	}
	return members, nil
}

// Node returns a node with its types.
func (g *GraphStore) Node(ctx context.Context, id string) (*Node, error) {
	var n Node
	var created, updated int64
	err := g.db.QueryRowContext(ctx,
		`SELECT id, title, content, created_at, updated_at FROM nodes WHERE id = ?`, id).
		Scan(&n.ID, &n.Title, &n.Content, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, graphErr(id, "node query failed", err)
	}
	n.CreatedAt = time.Unix(0, created).UTC()
	n.UpdatedAt = time.Unix(0, updated).UTC()

	types, err := g.Types(ctx, id)
	if err != nil {
		return nil, err
	}
	n.Types = types
	return &n, nil
}

// Parent returns the parent of id, or "" for a top-level node.
func (g *GraphStore) Parent(ctx context.Context, id string) (string, error) {
	var parent string
	err := g.db.QueryRowContext(ctx, `SELECT parent_id FROM members WHERE child_id = ?`, id).Scan(&parent)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", graphErr(id, "parent query failed", err)
	}
	return parent, nil
}

// Ancestors returns the chain from the top-level ancestor down to and
// including id.
func (g *GraphStore) Ancestors(ctx context.Context, id string) ([]string, error) {
	ok, err := g.exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(id)
	}

	rows, err := g.db.QueryContext(ctx, `
		WITH RECURSIVE chain(id, depth) AS (
			SELECT ?, 0
			UNION ALL
			SELECT m.parent_id, chain.depth + 1
			FROM members m JOIN chain ON m.child_id = chain.id
			WHERE chain.depth < ?
		)
		SELECT id, depth FROM chain ORDER BY depth DESC`, id, MaxGraphDepth)
	if err != nil {
		return nil, graphErr(id, "ancestor query failed", err)
	}
	defer rows.Close()

	var chain []string
	maxDepth := 0
	for rows.Next() {
		var a string
		var depth int
		if err := rows.Scan(&a, &depth); err != nil {
			return nil, graphErr(id, "ancestor scan failed", err)
		}
		if depth > maxDepth {
			maxDepth = depth
		}
		chain = append(chain, a)
	}
	if err := rows.Err(); err != nil {
		return nil, graphErr(id, "ancestor query failed", err)
	}
	if maxDepth >= MaxGraphDepth {
		return nil, apperrors.Indexing(apperrors.ErrCodeInvalidInput, id, "ancestry too deep or cyclic", nil)
	}
	return chain, nil
}

// PutNode creates or replaces a node and its types. A non-empty parent
// attaches it (or moves it) under that parent.
func (g *GraphStore) PutNode(ctx context.Context, n Node, parent string) error {
	if n.ID == "" {
		return apperrors.ArgumentError(apperrors.ErrCodeInvalidInput, "", "node id is required")
	}
	if parent == n.ID {
		return apperrors.ArgumentError(apperrors.ErrCodeInvalidInput, n.ID, "node cannot be its own parent")
	}

	now := g.now().UnixNano()
	created := now
	if !n.CreatedAt.IsZero() {
		created = n.CreatedAt.UnixNano()
	}
	updated := now
	if !n.UpdatedAt.IsZero() {
		updated = n.UpdatedAt.UnixNano()
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return graphErr(n.ID, "begin failed", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (id, title, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, content = excluded.content,
			updated_at = excluded.updated_at`,
		n.ID, n.Title, n.Content, created, updated); err != nil {
		return graphErr(n.ID, "node upsert failed", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM node_types WHERE node_id = ?`, n.ID); err != nil {
		return graphErr(n.ID, "type reset failed", err)
	}
	types := append([]string(nil), n.Types...)
	sort.Strings(types)
	for _, t := range types {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO node_types (node_id, type) VALUES (?, ?)`, n.ID, t); err != nil {
			return graphErr(n.ID, "type insert failed", err)
		}
	}
	if parent != "" {
		if err := attach(ctx, tx, n.ID, parent); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return graphErr(n.ID, "commit failed", err)
	}
	return nil
}

// attach sets the parent of child unless it already is parent. Attaching
// beneath child itself or one of its descendants is rejected.
func attach(ctx context.Context, tx *sql.Tx, child, parent string) error {
	var current string
	err := tx.QueryRowContext(ctx, `SELECT parent_id FROM members WHERE child_id = ?`, child).Scan(&current)
	if err == nil && current == parent {
		return nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return graphErr(child, "membership lookup failed", err)
	}
	if err := checkAcyclic(ctx, tx, child, parent); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO members (child_id, parent_id, position)
		VALUES (?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM members WHERE parent_id = ?))
		ON CONFLICT(child_id) DO UPDATE SET parent_id = excluded.parent_id, position = excluded.position`,
		child, parent, parent); err != nil {
		return graphErr(child, "membership update failed", err)
	}
	return nil
}

// checkAcyclic fails when child is among the ancestors of parent, or when
// the ancestry of parent is already too deep to tell.
func checkAcyclic(ctx context.Context, tx *sql.Tx, child, parent string) error {
	var found, depth int
	err := tx.QueryRowContext(ctx, `
		WITH RECURSIVE chain(id, depth) AS (
			SELECT ?, 0
			UNION ALL
			SELECT m.parent_id, chain.depth + 1
			FROM members m JOIN chain ON m.child_id = chain.id
			WHERE chain.depth < ? AND chain.id != ?
		)
		SELECT COALESCE(SUM(id = ?), 0), COALESCE(MAX(depth), 0) FROM chain`,
		parent, MaxGraphDepth, child, child).Scan(&found, &depth)
	if err != nil {
		return graphErr(child, "ancestry check failed", err)
	}
	if found > 0 {
		return apperrors.ArgumentError(apperrors.ErrCodeInvalidInput, child,
			"cannot attach a node beneath itself or its descendants").WithDetail("parent", parent)
	}
	if depth >= MaxGraphDepth {
		return apperrors.ArgumentError(apperrors.ErrCodeInvalidInput, child, "ancestry too deep or cyclic").
			WithDetail("parent", parent)
	}
	return nil
}

// Move reattaches id under newParent. Moving a node beneath itself or one
// of its descendants is rejected.
func (g *GraphStore) Move(ctx context.Context, id, newParent string) error {
	for _, n := range []string{id, newParent} {
		ok, err := g.exists(ctx, n)
		if err != nil {
			return err
		}
		if !ok {
			return notFound(n)
		}
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return graphErr(id, "begin failed", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := attach(ctx, tx, id, newParent); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return graphErr(id, "commit failed", err)
	}
	return nil
}

// Delete removes a node. Its members become top-level nodes.
func (g *GraphStore) Delete(ctx context.Context, id string) error {
	if _, err := g.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
		return graphErr(id, "delete failed", err)
	}
	return nil
}

// Count returns the number of nodes.
func (g *GraphStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&n); err != nil {
		return 0, graphErr("", "count failed", err)
	}
	return n, nil
}

// Generation returns the membership change counter.
func (g *GraphStore) Generation(ctx context.Context) (int64, error) {
	var gen int64
	err := g.db.QueryRowContext(ctx, `SELECT value FROM graph_meta WHERE key = 'generation'`).Scan(&gen)
	if err != nil {
		return 0, graphErr("", "generation query failed", err)
	}
	return gen, nil
}

// Close closes the database.
func (g *GraphStore) Close() error {
	return g.db.Close()
}
