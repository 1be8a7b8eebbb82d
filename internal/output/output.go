// Package output provides consistent one-line CLI status messages.
package output

import (
	"fmt"
	"io"
)

// Writer provides formatted output for CLI commands.
type Writer struct {
	out   io.Writer
	plain bool
}

// New creates a Writer. Plain writers use ASCII labels instead of icons.
func New(out io.Writer, plain bool) *Writer {
	return &Writer{out: out, plain: plain}
}

// Status prints a status message with an icon. An empty icon indents the
// message under the previous line.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Status(w.icon("✓", "OK"), fmt.Sprintf(format, args...))
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Status(w.icon("!", "WARN"), fmt.Sprintf(format, args...))
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Status(w.icon("✗", "ERROR"), fmt.Sprintf(format, args...))
}

// KeyValue prints an indented "key: value" line.
func (w *Writer) KeyValue(key string, value any) {
	_, _ = fmt.Fprintf(w.out, "   %-10s %v\n", key+":", value)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

func (w *Writer) icon(fancy, plain string) string {
	if w.plain {
		return plain
	}
	return fancy
}
