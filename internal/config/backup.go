package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio"
	"gopkg.in/yaml.v3"
)

// MaxBackups is how many config backups are kept. Older ones are pruned
// after each new backup.
const MaxBackups = 3

const (
	backupDirName    = "backups"
	backupPrefix     = "config-"
	backupExt        = ".yaml"
	backupTimeFormat = "20060102-150405.000000000"
)

// Backup is a saved copy of the user config.
type Backup struct {
	Path  string
	Taken time.Time
}

// GetBackupDir returns the directory holding config backups.
func GetBackupDir() string {
	return filepath.Join(GetUserConfigDir(), backupDirName)
}

// BackupUserConfig copies the user config into the backup directory and
// returns the new backup's path. It returns "" when there is no user config.
func BackupUserConfig() (string, error) {
	data, err := os.ReadFile(GetUserConfigPath())
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	dir := GetBackupDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	path := filepath.Join(dir, backupPrefix+time.Now().UTC().Format(backupTimeFormat)+backupExt)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	if err := pruneBackups(); err != nil {
		return path, fmt.Errorf("backup written but pruning failed: %w", err)
	}
	return path, nil
}

// ListUserConfigBackups returns the config backups, newest first. Files in
// the backup directory that were not written by BackupUserConfig are ignored.
func ListUserConfigBackups() ([]Backup, error) {
	dir := GetBackupDir()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var backups []Backup
	for _, e := range entries {
		stamp, ok := strings.CutPrefix(e.Name(), backupPrefix)
		if !ok || e.IsDir() {
			continue
		}
		stamp, ok = strings.CutSuffix(stamp, backupExt)
		if !ok {
			continue
		}
		taken, err := time.Parse(backupTimeFormat, stamp)
		if err != nil {
			continue
		}
		backups = append(backups, Backup{Path: filepath.Join(dir, e.Name()), Taken: taken})
	}

	slices.SortFunc(backups, func(a, b Backup) int { return b.Taken.Compare(a.Taken) })
	return backups, nil
}

func pruneBackups() error {
	backups, err := ListUserConfigBackups()
	if err != nil || len(backups) <= MaxBackups {
		return err
	}
	var errs []error
	for _, b := range backups[MaxBackups:] {
		if err := os.Remove(b.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResolveBackup turns ref into a backup path. A number selects from
// ListUserConfigBackups, 1 being the newest; anything else is a file path.
func ResolveBackup(ref string) (string, error) {
	n, err := strconv.Atoi(ref)
	if err != nil {
		return ref, nil
	}
	backups, err := ListUserConfigBackups()
	if err != nil {
		return "", err
	}
	if n < 1 || n > len(backups) {
		return "", fmt.Errorf("no backup #%d (%d available)", n, len(backups))
	}
	return backups[n-1].Path, nil
}

// RestoreUserConfig replaces the user config with the backup at path. The
// backup must parse as a config, and the current config is backed up first.
func RestoreUserConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}
	var probe Config
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("backup %s is not a valid config: %w", path, err)
	}

	if _, err := BackupUserConfig(); err != nil {
		return fmt.Errorf("failed to backup current config before restore: %w", err)
	}

	if err := os.MkdirAll(GetUserConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := renameio.WriteFile(GetUserConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write restored config: %w", err)
	}
	return nil
}
