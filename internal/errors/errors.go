package errors

import (
	"errors"
	"fmt"
)

// FindError is the structured error type for amanfind.
// It carries enough context for logging and for telling the user what to do next.
type FindError struct {
	// Code is the unique error code (e.g., "ERR_205_CORRUPT_INDEX").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *FindError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *FindError) Unwrap() error {
	return e.Cause
}

// Is matches another FindError by code, so sentinel values work with errors.Is.
func (e *FindError) Is(target error) bool {
	if t, ok := target.(*FindError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *FindError) WithDetail(key, value string) *FindError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *FindError) WithSuggestion(suggestion string) *FindError {
	e.Suggestion = suggestion
	return e
}

// New creates a new FindError with the given code and message.
// Category and severity are derived from the code.
func New(code string, message string, cause error) *FindError {
	return &FindError{
		Code:     code,
		Message:  message,
		Category: categoryFromCode(code),
		Severity: severityFromCode(code),
		Cause:    cause,
	}
}

// Wrap creates a FindError from an existing error.
func Wrap(code string, err error) *FindError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// CorruptIndex reports an index directory that cannot be opened.
func CorruptIndex(dir string, cause error) *FindError {
	return New(ErrCodeCorruptIndex, "index is unreadable or corrupt", cause).
		WithDetail("dir", dir).
		WithSuggestion("rebuild the index with 'amanfind index'")
}

// WriterBusy reports a second writer on an index that already has one.
func WriterBusy(dir string) *FindError {
	return New(ErrCodeWriterBusy, "another writer holds the index", nil).
		WithDetail("dir", dir).
		WithSuggestion("wait for the running indexer to finish")
}

// FolderNotFound reports a configured root folder that does not exist.
func FolderNotFound(path string, cause error) *FindError {
	return New(ErrCodeFolderNotFound, "folder not found: "+path, cause).
		WithDetail("path", path)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *FindError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IsFatal checks if an error has fatal severity anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FindError
	if errors.As(err, &fe) {
		return fe.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first FindError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var fe *FindError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// ExitCode maps err to a process exit status: 0 for nil, the category's
// code for a FindError and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if code := GetCode(err); code != "" {
		return lookupCategory(code).exit
	}
	return 1
}
