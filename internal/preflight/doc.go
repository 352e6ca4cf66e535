// Package preflight checks that the machine can hold and build an index
// before any indexing work starts.
//
// The checks cover:
//   - Write access to the index directory
//   - Free disk space at the index directory (minimum 100 MB)
//   - The open file descriptor limit (minimum 1024)
//   - Existence of the configured root folders
//
// Passing runs leave a marker file in the index directory so later runs can
// skip the checks:
//
//	if preflight.NeedsCheck(indexDir) {
//	    checker := preflight.New()
//	    results := checker.RunAll(ctx, preflight.Target{IndexDir: indexDir})
//	    if checker.HasCriticalFailures(results) {
//	        // Handle failures
//	    }
//	}
package preflight
