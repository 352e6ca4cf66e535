// Package errors provides structured error handling for amanfind.
//
// Codes read ERR_<number>_<NAME>. The hundreds digit gives the category:
// 1 configuration, 2 storage and IO, 4 user input, 5 internal.
package errors

// Category groups codes by what went wrong.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryIO         Category = "IO"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
)

// Severity says whether the operation could carry on.
type Severity string

const (
	SeverityFatal   Severity = "FATAL"
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING" // recovered locally
)

const (
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	ErrCodeFolderNotFound = "ERR_201_FOLDER_NOT_FOUND"
	ErrCodeFileRead       = "ERR_202_FILE_READ"
	ErrCodeWriterBusy     = "ERR_204_WRITER_BUSY"
	ErrCodeCorruptIndex   = "ERR_205_CORRUPT_INDEX"

	ErrCodeInvalidQuery = "ERR_403_INVALID_QUERY"

	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeSearchFailed = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexFailed  = "ERR_505_INDEX_FAILED"
)

// Process exit codes, one per category. 1 is left for errors without a code.
const (
	ExitConfig     = 3
	ExitIO         = 4
	ExitValidation = 2
	ExitInternal   = 5
)

type categoryInfo struct {
	category Category
	exit     int
}

var categories = map[byte]categoryInfo{
	'1': {CategoryConfig, ExitConfig},
	'2': {CategoryIO, ExitIO},
	'4': {CategoryValidation, ExitValidation},
	'5': {CategoryInternal, ExitInternal},
}

// severities lists the codes that are not plain errors.
var severities = map[string]Severity{
	ErrCodeCorruptIndex:   SeverityFatal,
	ErrCodeWriterBusy:     SeverityFatal,
	ErrCodeFolderNotFound: SeverityWarning,
	ErrCodeFileRead:       SeverityWarning,
	ErrCodeInvalidQuery:   SeverityWarning,
}

func lookupCategory(code string) categoryInfo {
	if len(code) > 4 && code[:4] == "ERR_" {
		if info, ok := categories[code[4]]; ok {
			return info
		}
	}
	return categoryInfo{CategoryInternal, ExitInternal}
}

func categoryFromCode(code string) Category {
	return lookupCategory(code).category
}

func severityFromCode(code string) Severity {
	if s, ok := severities[code]; ok {
		return s
	}
	return SeverityError
}
