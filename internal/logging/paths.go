package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.amanfind/logs, or a temp dir when there is no home.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanfind", "logs")
	}
	return filepath.Join(home, ".amanfind", "logs")
}

// DefaultLogPath returns the debug log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "amanfind.log")
}

// FindLogFile returns explicit if it exists, otherwise the default log path
// if that exists.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return explicit, nil
	}

	path := DefaultLogPath()
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("no log file found, run a command with --debug first\nExpected at: %s", path)
	}
	return path, nil
}
