package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/index"
	"github.com/Aman-CERP/amanfind/internal/ui"
)

type indexOptions struct {
	plain     bool
	skipCheck bool
}

func newIndexCmd(g *globals) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [folders...]",
		Short: "Rebuild the index from scratch",
		Long: heredoc.Doc(`
			Rebuild the index from the given folders, or from index.root_folders
			in the config when none are given.

			The previous index stays searchable until the rebuild commits.
			Press q or Ctrl+C to cancel: files already processed are kept.
		`),
		Example: heredoc.Doc(`
			  # Index two folders
			  amanfind index ~/Documents ~/Notes

			  # Index the configured root folders with plain output
			  amanfind index --plain
		`),
		RunE: func(cmd *cobra.Command, args []string) error {
			folders, err := resolveFolders(g, args)
			if err != nil {
				return err
			}
			if !opts.skipCheck {
				if err := ensurePreflight(cmd.Context(), g); err != nil {
					return err
				}
			}
			return runOperation(cmd, g, opts, strings.Join(folders, ", "),
				func(ctx context.Context, r *index.Runner) (index.Summary, error) {
					return r.Rebuild(ctx, folders)
				})
		},
	}

	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain text progress (no TUI)")
	cmd.Flags().BoolVar(&opts.skipCheck, "skip-check", false, "Skip the first-run system check")

	return cmd
}

func newUpdateCmd(g *globals) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "update [folders...]",
		Short: "Re-index folders into the existing index",
		Long: heredoc.Doc(`
			Re-index the given folders (or the configured root folders) without
			discarding the rest of the index. Each file replaces the document
			with the same path, so unchanged files are never duplicated.
		`),
		RunE: func(cmd *cobra.Command, args []string) error {
			folders, err := resolveFolders(g, args)
			if err != nil {
				return err
			}
			if !opts.skipCheck {
				if err := ensurePreflight(cmd.Context(), g); err != nil {
					return err
				}
			}
			return runOperation(cmd, g, opts, strings.Join(folders, ", "),
				func(ctx context.Context, r *index.Runner) (index.Summary, error) {
					return r.Update(ctx, folders)
				})
		},
	}

	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain text progress (no TUI)")
	cmd.Flags().BoolVar(&opts.skipCheck, "skip-check", false, "Skip the first-run system check")

	return cmd
}

func newRemoveCmd(g *globals) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "remove <folder>",
		Short: "Remove every document under a folder",
		Long: heredoc.Doc(`
			Delete every indexed document whose path lies under the folder.
			The folder itself does not need to exist any more.
		`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := args[0]
			return runOperation(cmd, g, opts, folder,
				func(ctx context.Context, r *index.Runner) (index.Summary, error) {
					return r.RemoveFolder(ctx, folder)
				})
		},
	}

	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain text progress (no TUI)")

	return cmd
}

func newCompactCmd(g *globals) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Merge index segments and purge deleted documents",
		Long: heredoc.Doc(`
			Merge all segments of the index into one and drop the documents
			that were deleted or replaced since the last rebuild.
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOperation(cmd, g, opts, "compact",
				func(ctx context.Context, r *index.Runner) (index.Summary, error) {
					return r.Compact(ctx)
				})
		},
	}

	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain text progress (no TUI)")

	return cmd
}

// resolveFolders returns args, or the configured root folders when args is empty.
func resolveFolders(g *globals, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(g.cfg.Index.RootFolders) == 0 {
		return nil, amerrors.New(amerrors.ErrCodeConfigNotFound, "no folders to index", nil).
			WithSuggestion("pass folders as arguments or set index.root_folders in the config")
	}
	return g.cfg.Index.RootFolders, nil
}

// runOperation opens the index, shows progress while op runs and prints the
// summary. Cancelled runs are not errors: their completed work is committed.
func runOperation(cmd *cobra.Command, g *globals, opts indexOptions, title string,
	op func(context.Context, *index.Runner) (index.Summary, error)) error {
	ctx := cmd.Context()

	s, err := openSession(g.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Warn("session_close_failed", slog.String("error", err.Error()))
		}
	}()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.plain),
		ui.WithNoColor(g.noColor),
		ui.WithTitle(title)))

	// The sink reads the phase of the runner it reports for.
	var runner *index.Runner
	sink := ui.NewSink(renderer, func() index.Phase { return runner.Phase() })

	runner, err = s.newRunner(sink)
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}
	if tui, ok := renderer.(*ui.TUIRenderer); ok {
		tui.OnQuit = runner.Cancel
	}

	if err := renderer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start progress display: %w", err)
	}
	sum, runErr := op(ctx, runner)
	renderer.Complete(sum)
	if err := renderer.Stop(); err != nil {
		slog.Debug("renderer_stop_failed", slog.String("error", err.Error()))
	}
	return runErr
}
