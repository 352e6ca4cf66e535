// Package scanner walks folder trees and yields the regular files to index.
// Directories whose base name is in the skip set are pruned with their whole
// subtree; symbolic links are never followed. Ignore files found along the way
// exclude entries below their directory, with deeper files taking precedence.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	amerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/ignore"
)

// ErrRootNotFound is returned when a root folder does not exist. It matches
// any error with the folder-not-found code.
var ErrRootNotFound = amerrors.New(amerrors.ErrCodeFolderNotFound, "root folder not found", nil)

// DefaultSkipNames are folder names pruned when no skip set is configured.
var DefaultSkipNames = []string{
	".git", ".hg", ".svn",
	"node_modules", "__pycache__", ".venv",
	".Trash", "$RECYCLE.BIN", "System Volume Information",
}

// Options configures a Walker.
type Options struct {
	// SkipNames are directory base names to prune, compared case-insensitively.
	SkipNames []string

	// IncludeHidden also walks dot-directories that are not in SkipNames.
	IncludeHidden bool

	// ExcludeDirs are directories pruned by full path, such as the index itself.
	ExcludeDirs []string

	// IgnoreFiles are file names read in every visited directory, such as
	// ".amanfindignore". Their patterns apply to the directory's subtree.
	IgnoreFiles []string
}

// Walker enumerates files under root folders. It is stateless after New and
// safe for concurrent use.
type Walker struct {
	skip          map[string]struct{}
	exclude       map[string]struct{}
	ignoreFiles   []string
	includeHidden bool
}

// New creates a Walker.
func New(opts Options) *Walker {
	skip := make(map[string]struct{}, len(opts.SkipNames))
	for _, name := range opts.SkipNames {
		if name = strings.TrimSpace(name); name != "" {
			skip[strings.ToLower(name)] = struct{}{}
		}
	}
	exclude := make(map[string]struct{}, len(opts.ExcludeDirs))
	for _, dir := range opts.ExcludeDirs {
		if abs, err := filepath.Abs(dir); err == nil {
			exclude[abs] = struct{}{}
		}
	}
	var ignoreFiles []string
	for _, name := range opts.IgnoreFiles {
		if name = strings.TrimSpace(name); name != "" {
			ignoreFiles = append(ignoreFiles, name)
		}
	}
	return &Walker{
		skip:          skip,
		exclude:       exclude,
		ignoreFiles:   ignoreFiles,
		includeHidden: opts.IncludeHidden,
	}
}

// Skipped reports whether a directory with this base name is pruned.
func (w *Walker) Skipped(name string) bool {
	if _, ok := w.skip[strings.ToLower(name)]; ok {
		return true
	}
	return !w.includeHidden && len(name) > 1 && name[0] == '.'
}

// Walk calls fn with the absolute path of every regular file under root.
// The context is checked at every directory and file. An error from fn stops
// the walk and is returned.
func (w *Walker) Walk(ctx context.Context, root string, fn func(path string) error) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return amerrors.FolderNotFound(absRoot, err)
		}
		return fmt.Errorf("failed to stat root folder: %w", err)
	}
	if !info.IsDir() {
		return amerrors.FolderNotFound(absRoot, fmt.Errorf("not a directory"))
	}

	rules := make(ignoreRules)
	return filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			if path == absRoot {
				return fmt.Errorf("failed to read root folder: %w", err)
			}
			slog.Debug("walk_entry_unreadable",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != absRoot {
				if _, ok := w.exclude[path]; ok || w.Skipped(d.Name()) {
					return filepath.SkipDir
				}
				if rules.ignored(absRoot, path, true) {
					return filepath.SkipDir
				}
			}
			w.loadIgnoreFiles(rules, path)
			return nil
		}

		if !d.Type().IsRegular() || w.isIgnoreFile(d.Name()) || rules.ignored(absRoot, path, false) {
			return nil
		}
		return fn(path)
	})
}

// ignoreRules maps a directory to the rules of its ignore files.
type ignoreRules map[string][]*ignore.Matcher

// ignored consults the rules of every directory between path and root,
// deepest first. The first directory with a matching rule decides.
func (r ignoreRules) ignored(root, path string, isDir bool) bool {
	if len(r) == 0 {
		return false
	}
	dir := path
	for dir != root {
		dir = filepath.Dir(dir)
		matchers := r[dir]
		if len(matchers) == 0 {
			continue
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return false
		}
		// Later ignore files in the list override earlier ones.
		for i := len(matchers) - 1; i >= 0; i-- {
			if ignored, matched := matchers[i].Match(rel, isDir); matched {
				return ignored
			}
		}
	}
	return false
}

// isIgnoreFile reports whether name is one of the configured ignore files,
// which are never yielded themselves.
func (w *Walker) isIgnoreFile(name string) bool {
	return slices.Contains(w.ignoreFiles, name)
}

func (w *Walker) loadIgnoreFiles(rules ignoreRules, dir string) {
	for _, name := range w.ignoreFiles {
		m, err := ignore.Load(filepath.Join(dir, name))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.Debug("ignore_file_unreadable",
					slog.String("path", filepath.Join(dir, name)),
					slog.String("error", err.Error()))
			}
			continue
		}
		if m.Len() > 0 {
			rules[dir] = append(rules[dir], m)
		}
	}
}

// Count returns the number of files Walk would yield over roots. Missing roots
// count as zero.
func (w *Walker) Count(ctx context.Context, roots []string) (uint64, error) {
	var total uint64
	for _, root := range roots {
		err := w.Walk(ctx, root, func(string) error {
			total++
			return nil
		})
		if errors.Is(err, ErrRootNotFound) {
			continue
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
