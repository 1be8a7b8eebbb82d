package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Failure is one request that did not complete.
type Failure struct {
	RequestID string
	Action    string
	TargetID  string
	Err       error
}

// RunSummary describes a finished batch of queued work.
type RunSummary struct {
	Title      string
	Duration   time.Duration
	Dispatched uint64
	Completed  uint64
	Failed     uint64
	Retried    uint64
	Documents  uint64
}

// Reporter prints failures as they happen and a summary at the end.
// It is safe for concurrent use.
type Reporter struct {
	mu       sync.Mutex
	out      io.Writer
	styles   Styles
	failures []Failure
}

// NewReporter creates a reporter writing to out.
func NewReporter(out io.Writer, noColor bool) *Reporter {
	return &Reporter{
		out:    out,
		styles: GetStyles(PlainOutput(out, noColor)),
	}
}

// Fail records and prints a failure.
func (r *Reporter) Fail(f Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures = append(r.failures, f)

	target := f.TargetID
	if target == "" {
		target = "-"
	}
	prefix := r.styles.Error.Render("FAIL")
	_, _ = fmt.Fprintf(r.out, "%s %s %s: %s\n", prefix, f.Action, target, oneLine(f.Err))
}

// Failures returns the failures recorded so far.
func (r *Reporter) Failures() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Failure(nil), r.failures...)
}

// Summary prints the closing panel.
func (r *Reporter) Summary(s RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", r.styles.Header.Render(s.Title))
	fmt.Fprintf(&b, "%s %d dispatched, %d completed, %d failed, %d retried\n",
		r.styles.Label.Render("Operations:"), s.Dispatched, s.Completed, s.Failed, s.Retried)
	fmt.Fprintf(&b, "%s %d\n", r.styles.Label.Render("Documents: "), s.Documents)
	fmt.Fprintf(&b, "%s %s", r.styles.Label.Render("Duration:  "), s.Duration.Round(time.Millisecond))

	status := r.styles.Success.Render("ok")
	if s.Failed > 0 {
		status = r.styles.Error.Render(fmt.Sprintf("%d failed", s.Failed))
	}
	fmt.Fprintf(&b, "\n%s %s", r.styles.Label.Render("Status:    "), status)

	_, _ = fmt.Fprintln(r.out, r.styles.Panel.Render(b.String()))
}

// oneLine renders err for a single-line listing.
func oneLine(err error) string {
	if err == nil {
		return ""
	}
	return strings.ReplaceAll(err.Error(), "\n", " ")
}
