// Package ui renders command output for terminals and pipes.
//
// Styled output is used only when the writer is a terminal and neither
// --no-color nor NO_COLOR is set.
package ui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

// PlainOutput reports whether out should receive unstyled text.
func PlainOutput(out io.Writer, noColor bool) bool {
	return noColor || DetectNoColor() || DetectCI() || !IsTTY(out)
}
