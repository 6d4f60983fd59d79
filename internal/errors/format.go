package errors

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FormatForUser returns a user-friendly error message.
// If debug is true, details and the underlying cause are appended.
func FormatForUser(err error, debug bool) string {
	if err == nil {
		return ""
	}

	e, ok := As(err)
	if !ok {
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString("Error: ")
	sb.WriteString(e.Message)
	sb.WriteString("\n")

	if e.Suggestion != "" {
		sb.WriteString("\nSuggestion: ")
		sb.WriteString(e.Suggestion)
		sb.WriteString("\n")
	}

	if debug {
		for _, k := range sortedKeys(e.Details) {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", k, e.Details[k]))
		}
		if e.Cause != nil {
			sb.WriteString(fmt.Sprintf("  cause: %v\n", e.Cause))
		}
	}

	sb.WriteString(fmt.Sprintf("\n[%s]", e.Code))
	return sb.String()
}

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	e, ok := As(err)
	if !ok {
		e = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", e.Message))
	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", e.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", e.Code))
	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
// The HTTP surface uses it for error bodies.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	e, ok := As(err)
	if !ok {
		e = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       e.Code,
		Message:    e.Message,
		Category:   string(e.Category),
		Severity:   string(e.Severity),
		Details:    e.Details,
		Suggestion: e.Suggestion,
		Retryable:  e.Retryable,
	}
	if e.Cause != nil {
		je.Cause = e.Cause.Error()
	}

	return json.Marshal(je)
}

// LogAttrs formats an error as alternating slog key/value arguments.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	e, ok := As(err)
	if !ok {
		return []any{"error", err.Error()}
	}

	attrs := []any{
		"error_code", e.Code,
		"error", e.Message,
		"category", string(e.Category),
		"retryable", e.Retryable,
	}
	if e.Cause != nil {
		attrs = append(attrs, "cause", e.Cause.Error())
	}
	for _, k := range sortedKeys(e.Details) {
		attrs = append(attrs, "detail_"+k, e.Details[k])
	}
	return attrs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
