package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
)

// MarkerFile is the file in the index directory recording a passed check.
const MarkerFile = ".preflight-passed"

// NeedsCheck reports whether indexDir has no marker from a passed check.
func NeedsCheck(indexDir string) bool {
	_, err := os.Stat(filepath.Join(indexDir, MarkerFile))
	return os.IsNotExist(err)
}

// MarkPassed records a passed check in indexDir.
func MarkPassed(indexDir string) error {
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}
	content := []byte(time.Now().Format(time.RFC3339))
	if err := renameio.WriteFile(filepath.Join(indexDir, MarkerFile), content, 0o644); err != nil {
		return fmt.Errorf("failed to write marker file: %w", err)
	}
	return nil
}

// ClearMarker removes the marker, forcing a check on the next run.
func ClearMarker(indexDir string) error {
	err := os.Remove(filepath.Join(indexDir, MarkerFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove marker file: %w", err)
	}
	return nil
}
