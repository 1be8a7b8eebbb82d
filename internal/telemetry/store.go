package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// DBFileName is the metrics database name inside the data directory.
const DBFileName = "metrics.db"

// MaxStoredFailures bounds the failures table.
const MaxStoredFailures = 100

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens or creates the metrics database at path. An empty
// path opens an in-memory database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create metrics directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metrics database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	if err := InitSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// InitSchema creates the telemetry tables if they don't exist.
func InitSchema(db *sql.DB) error {
	schema := `
	-- Operation outcomes per action (aggregated daily)
	CREATE TABLE IF NOT EXISTS action_stats (
		date      TEXT NOT NULL,
		action    TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		failed    INTEGER NOT NULL DEFAULT 0,
		retried   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, action)
	);

	-- Latency histogram (aggregated daily)
	CREATE TABLE IF NOT EXISTS latency_stats (
		date   TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count  INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);

	-- Most recent failures
	CREATE TABLE IF NOT EXISTS failures (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		action    TEXT NOT NULL,
		target_id TEXT NOT NULL,
		error     TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// AddActionCounts adds counts to the totals stored for date.
func (s *SQLiteStore) AddActionCounts(date string, counts []ActionCounts) error {
	if len(counts) == 0 {
		return nil
	}
	return s.inTx(`
		INSERT INTO action_stats (date, action, completed, failed, retried)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date, action) DO UPDATE SET
			completed = completed + excluded.completed,
			failed = failed + excluded.failed,
			retried = retried + excluded.retried
	`, func(stmt *sql.Stmt) error {
		for _, c := range counts {
			if _, err := stmt.Exec(date, c.Action, c.Completed, c.Failed, c.Retried); err != nil {
				return fmt.Errorf("upsert action counts: %w", err)
			}
		}
		return nil
	})
}

// AddLatencyCounts adds counts to the histogram stored for date.
func (s *SQLiteStore) AddLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	if len(counts) == 0 {
		return nil
	}
	return s.inTx(`
		INSERT INTO latency_stats (date, bucket, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
	`, func(stmt *sql.Stmt) error {
		for b, n := range counts {
			if _, err := stmt.Exec(date, string(b), n); err != nil {
				return fmt.Errorf("upsert latency count: %w", err)
			}
		}
		return nil
	})
}

// AddFailures appends failures, keeping only the newest MaxStoredFailures.
func (s *SQLiteStore) AddFailures(failures []FailureRecord) error {
	if len(failures) == 0 {
		return nil
	}
	err := s.inTx(`
		INSERT INTO failures (action, target_id, error, timestamp) VALUES (?, ?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, f := range failures {
			if _, err := stmt.Exec(f.Action, f.TargetID, f.Error, f.Time.UnixNano()); err != nil {
				return fmt.Errorf("insert failure: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		DELETE FROM failures
		WHERE id NOT IN (SELECT id FROM failures ORDER BY id DESC LIMIT ?)
	`, MaxStoredFailures)
	if err != nil {
		return fmt.Errorf("trim failures: %w", err)
	}
	return nil
}

// ActionCounts returns per-action totals for dates in [from, to], sorted
// by action.
func (s *SQLiteStore) ActionCounts(from, to string) ([]ActionCounts, error) {
	rows, err := s.db.Query(`
		SELECT action, SUM(completed), SUM(failed), SUM(retried)
		FROM action_stats
		WHERE date >= ? AND date <= ?
		GROUP BY action
		ORDER BY action
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query action counts: %w", err)
	}
	defer rows.Close()

	var out []ActionCounts
	for rows.Next() {
		var c ActionCounts
		if err := rows.Scan(&c.Action, &c.Completed, &c.Failed, &c.Retried); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LatencyCounts returns the histogram for dates in [from, to].
func (s *SQLiteStore) LatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	rows, err := s.db.Query(`
		SELECT bucket, SUM(count)
		FROM latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[LatencyBucket]int64)
	for rows.Next() {
		var b string
		var n int64
		if err := rows.Scan(&b, &n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[LatencyBucket(b)] = n
	}
	return counts, rows.Err()
}

// RecentFailures returns up to limit failures, newest first.
func (s *SQLiteStore) RecentFailures(limit int) ([]FailureRecord, error) {
	rows, err := s.db.Query(`
		SELECT action, target_id, error, timestamp
		FROM failures
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []FailureRecord
	for rows.Next() {
		var f FailureRecord
		var ts int64
		if err := rows.Scan(&f.Action, &f.TargetID, &f.Error, &ts); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		f.Time = time.Unix(0, ts).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) inTx(query string, fn func(*sql.Stmt) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
