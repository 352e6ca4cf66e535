package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var fe *FindError
	if !errors.As(err, &fe) {
		fe = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", fe.Message))
	if fe.Cause != nil && fe.Cause.Error() != fe.Message {
		sb.WriteString(fmt.Sprintf("  Cause: %v\n", fe.Cause))
	}
	if fe.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", fe.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", fe.Code))

	return sb.String()
}

type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
}

// FormatJSON returns a JSON representation of the error for --format json output.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	var fe *FindError
	if !errors.As(err, &fe) {
		fe = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       fe.Code,
		Message:    fe.Message,
		Category:   string(fe.Category),
		Severity:   string(fe.Severity),
		Details:    fe.Details,
		Suggestion: fe.Suggestion,
	}
	if fe.Cause != nil {
		je.Cause = fe.Cause.Error()
	}

	return json.Marshal(je)
}

// LogAttrs returns slog-style key-value pairs for err.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	var fe *FindError
	if !errors.As(err, &fe) {
		return []any{"error", err.Error()}
	}

	attrs := []any{
		"error_code", fe.Code,
		"error", fe.Message,
		"severity", string(fe.Severity),
	}
	if fe.Cause != nil {
		attrs = append(attrs, "cause", fe.Cause.Error())
	}
	for k, v := range fe.Details {
		attrs = append(attrs, "detail_"+k, v)
	}
	return attrs
}
