package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// StatusInfo describes the on-disk state of an index and its graph.
type StatusInfo struct {
	DataDir string `json:"data_dir"`

	IndexPath      string    `json:"index_path"`
	Documents      uint64    `json:"documents"`
	IndexSize      int64     `json:"index_size"`
	LastModified   time.Time `json:"last_modified,omitzero"`
	Locked         bool      `json:"locked"`
	GraphPath      string    `json:"graph_path"`
	Nodes          int       `json:"nodes"`
	GraphVersion   int64     `json:"graph_generation"`
	SpoolDir       string    `json:"spool_dir"`
	SpoolQueued    int       `json:"spool_queued"`
	SpoolRejected  int       `json:"spool_rejected"`
	IndexAvailable bool      `json:"index_available"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(PlainOutput(out, noColor)),
	}
}

// Render displays status info to the terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n\n", r.styles.Header.Render("Index Status: "+info.DataDir))

	r.row(&b, "Index", info.IndexPath)
	if info.IndexAvailable {
		r.row(&b, "Documents", fmt.Sprintf("%d", info.Documents))
		r.row(&b, "Size", FormatBytes(info.IndexSize))
		if !info.LastModified.IsZero() {
			r.row(&b, "Modified", formatTime(info.LastModified))
		}
	} else {
		r.row(&b, "Documents", r.styles.Warning.Render("not built"))
	}
	lock := r.styles.Success.Render("free")
	if info.Locked {
		lock = r.styles.Warning.Render("held by a running process")
	}
	r.row(&b, "Lock", lock)
	b.WriteString("\n")

	r.row(&b, "Graph", info.GraphPath)
	r.row(&b, "Nodes", fmt.Sprintf("%d", info.Nodes))
	r.row(&b, "Generation", fmt.Sprintf("%d", info.GraphVersion))
	b.WriteString("\n")

	r.row(&b, "Spool", info.SpoolDir)
	r.row(&b, "Queued", fmt.Sprintf("%d", info.SpoolQueued))
	rejected := fmt.Sprintf("%d", info.SpoolRejected)
	if info.SpoolRejected > 0 {
		rejected = r.styles.Error.Render(rejected)
	}
	r.row(&b, "Rejected", rejected)

	_, err := io.WriteString(r.out, b.String())
	return err
}

func (r *StatusRenderer) row(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "  %s %s\n", r.styles.Label.Render(fmt.Sprintf("%-11s", label+":")), value)
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
