package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

// CheckStatus is the outcome of one check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

var statusNames = [...]string{StatusPass: "PASS", StatusWarn: "WARN", StatusFail: "FAIL"}

func (s CheckStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "UNKNOWN"
	}
	return statusNames[s]
}

// MarshalText encodes the status as its name in JSON output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckResult is one line of the doctor report. Only Required checks can
// block indexing.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Target is what the checks run against.
type Target struct {
	IndexDir    string
	RootFolders []string
}

// Checker runs the environment checks for an index directory.
type Checker struct {
	verbose bool
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose prints check details under each result.
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

// New returns a Checker printing to stdout unless WithOutput says otherwise.
func New(opts ...Option) *Checker {
	c := &Checker{output: os.Stdout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check against target. The write check runs first because
// it creates the index directory the disk check measures.
func (c *Checker) RunAll(_ context.Context, target Target) []CheckResult {
	results := []CheckResult{
		c.CheckWritePermissions(target.IndexDir),
		c.CheckDiskSpace(target.IndexDir),
		c.CheckFileDescriptors(),
	}
	return append(results, c.CheckRootFolders(target.RootFolders)...)
}

// HasCriticalFailures reports whether any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	return slices.ContainsFunc(results, CheckResult.IsCritical)
}

// partition splits results into critical failures and everything else that
// did not pass.
func partition(results []CheckResult) (critical, warnings []CheckResult) {
	for _, r := range results {
		switch {
		case r.IsCritical():
			critical = append(critical, r)
		case r.Status != StatusPass:
			warnings = append(warnings, r)
		}
	}
	return critical, warnings
}

// SummaryStatus returns "ready", "ready_with_warnings" or "failed".
func (c *Checker) SummaryStatus(results []CheckResult) string {
	critical, warnings := partition(results)
	switch {
	case len(critical) > 0:
		return "failed"
	case len(warnings) > 0:
		return "ready_with_warnings"
	default:
		return "ready"
	}
}

// PrintResults writes the report: one line per check, the overall status,
// then the failures and warnings again as lists.
func (c *Checker) PrintResults(results []CheckResult) {
	w := c.output
	title := "amanfind system check"
	_, _ = fmt.Fprintf(w, "%s\n%s\n\n", title, strings.Repeat("=", len(title)))

	for _, r := range results {
		_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(w, "       %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintf(w, "\nStatus: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	critical, warnings := partition(results)
	printList(w, "error(s)", critical)
	printList(w, "warning(s)", warnings)
}

func printList(w io.Writer, label string, results []CheckResult) {
	if len(results) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "\n%d %s:\n", len(results), label)
	for _, r := range results {
		_, _ = fmt.Fprintf(w, "  - %s: %s\n", r.Name, r.Message)
	}
}

// CheckWritePermissions creates dir if needed and probes it with a temp file.
func (c *Checker) CheckWritePermissions(dir string) CheckResult {
	result := CheckResult{
		Name:     "index_dir_writable",
		Required: true,
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		return result
	}

	f, err := os.CreateTemp(dir, ".amanfind-preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		result.Details = "Choose another directory with --index-dir or index.directory"
		return result
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	result.Status = StatusPass
	result.Message = dir
	return result
}

// CheckRootFolders warns about configured folders that do not exist. Indexing
// skips them, so they are never critical.
func (c *Checker) CheckRootFolders(folders []string) []CheckResult {
	results := make([]CheckResult, 0, len(folders))
	for _, folder := range folders {
		result := CheckResult{Name: "root_folder", Message: folder}
		info, err := os.Stat(folder)
		switch {
		case err != nil:
			result.Status = StatusWarn
			result.Message = folder + " not found"
			result.Details = "It is skipped when indexing"
		case !info.IsDir():
			result.Status = StatusWarn
			result.Message = folder + " is not a directory"
		default:
			result.Status = StatusPass
		}
		results = append(results, result)
	}
	return results
}
