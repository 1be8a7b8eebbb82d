package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// asIndexing returns the IndexingError in err's chain, wrapping plain errors
// as internal errors.
func asIndexing(err error) *IndexingError {
	var ie *IndexingError
	if errors.As(err, &ie) {
		return ie
	}
	return Wrap(ErrCodeInternal, err)
}

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	ie := asIndexing(err)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", ie.Message))
	if ie.TargetID != "" {
		sb.WriteString(fmt.Sprintf("  Target: %s\n", ie.TargetID))
	}
	if ie.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", ie.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", ie.Code))
	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	TargetID   string            `json:"target_id,omitempty"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error, used for the
// failed/ sidecar files written by the spool watcher.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	ie := asIndexing(err)

	je := jsonError{
		Code:       ie.Code,
		Message:    ie.Message,
		TargetID:   ie.TargetID,
		Category:   string(ie.Category),
		Severity:   string(ie.Severity),
		Details:    ie.Details,
		Suggestion: ie.Suggestion,
		Retryable:  ie.Retryable,
	}
	if ie.Cause != nil {
		je.Cause = ie.Cause.Error()
	}
	return json.Marshal(je)
}

// LogAttrs returns slog attributes describing err.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}
	var ie *IndexingError
	if !errors.As(err, &ie) {
		return []any{slog.String("error", err.Error())}
	}

	attrs := []any{
		slog.String("error_code", ie.Code),
		slog.String("error", ie.Error()),
		slog.String("severity", string(ie.Severity)),
		slog.Bool("retryable", ie.Retryable),
	}
	if ie.TargetID != "" {
		attrs = append(attrs, slog.String("target_id", ie.TargetID))
	}
	for k, v := range ie.Details {
		attrs = append(attrs, slog.String("detail_"+k, v))
	}
	return attrs
}
