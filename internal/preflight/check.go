package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/repoindex/internal/store"
	"github.com/Aman-CERP/repoindex/internal/watcher"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status by name in JSON output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Paths locates what the checks inspect.
type Paths struct {
	DataDir   string
	GraphPath string
	SpoolDir  string
}

// Checker performs preflight validation checks.
type Checker struct {
	verbose bool
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose prints check details.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// New creates a new Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check. The data directory is created if missing.
func (c *Checker) RunAll(ctx context.Context, p Paths) []CheckResult {
	write := c.CheckWritePermissions(p.DataDir)
	results := []CheckResult{write}
	if write.Status == StatusPass {
		results = append(results, c.CheckDiskSpace(p.DataDir))
	}
	results = append(results,
		c.CheckFileDescriptors(),
		c.CheckIndexLock(p.DataDir),
		c.CheckGraph(ctx, p.GraphPath),
		c.CheckSpool(p.SpoolDir),
	)
	return results
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns a summary status string for the results.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "repoindex preflight")
	_, _ = fmt.Fprintln(c.output, "===================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "       %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	var problems []string
	for _, r := range results {
		if r.Status != StatusPass {
			problems = append(problems, r.Name+": "+r.Message)
		}
	}
	if len(problems) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d issue(s):\n", len(problems))
		for _, p := range problems {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", p)
		}
	}
}

// CheckWritePermissions checks that the data directory exists or can be
// created, and accepts new files.
func (c *Checker) CheckWritePermissions(dir string) CheckResult {
	result := CheckResult{
		Name:     "write_permissions",
		Required: true,
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		return result
	}
	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	result.Status = StatusPass
	result.Message = dir
	return result
}

// CheckIndexLock warns when another process holds the index lock; the
// daemon and in-process runs would then wait on it.
func (c *Checker) CheckIndexLock(dataDir string) CheckResult {
	result := CheckResult{Name: "index_lock"}

	locked, err := store.IsLocked(dataDir)
	switch {
	case err != nil:
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to probe lock: %v", err)
	case locked:
		result.Status = StatusWarn
		result.Message = "held by another process"
		result.Details = "Use --spool to hand requests to the running daemon"
	default:
		result.Status = StatusPass
		result.Message = "free"
	}
	return result
}

// CheckGraph opens the graph database and counts its nodes. A missing
// database is a warning: nothing can be indexed until a graph is imported.
func (c *Checker) CheckGraph(ctx context.Context, path string) CheckResult {
	result := CheckResult{Name: "graph", Required: true}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		result.Status = StatusWarn
		result.Message = "no graph database"
		result.Details = "Import one with 'repoindex graph import <file.yaml>'"
		return result
	}

	g, err := store.NewGraphStore(path)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	defer func() { _ = g.Close() }()

	n, err := g.Count(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d nodes in %s", n, filepath.Base(path))
	return result
}

// CheckSpool warns about request files the spool has rejected.
func (c *Checker) CheckSpool(dir string) CheckResult {
	result := CheckResult{Name: "spool"}

	queued, rejected, err := watcher.Backlog(dir)
	switch {
	case err != nil:
		result.Status = StatusFail
		result.Message = err.Error()
	case rejected > 0:
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%d queued, %d rejected", queued, rejected)
		result.Details = fmt.Sprintf("Inspect %s", filepath.Join(dir, watcher.FailedDir))
	default:
		result.Status = StatusPass
		result.Message = fmt.Sprintf("%d queued", queued)
	}
	return result
}
