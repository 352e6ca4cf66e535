package cmd

import (
	"context"
	"fmt"
	"regexp"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanfind/internal/logging"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	logFile string
}

func newLogsCmd(g *globals) *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View the debug log",
		Long: heredoc.Doc(`
			Show the debug log written by commands run with --debug
			(~/.amanfind/logs/amanfind.log).

			By default the last 50 lines are shown. Use -f to follow new
			entries as they are written.
		`),
		Example: heredoc.Doc(`
			amanfind logs -n 100
			amanfind logs -f --level warn
			amanfind logs --filter index_complete
		`),
		Args:        cobra.NoArgs,
		Annotations: configOptional,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd, g, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level to show (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Only show lines matching this regex")
	cmd.Flags().StringVar(&opts.logFile, "file", "", "Path to log file")

	return cmd
}

func runLogs(cmd *cobra.Command, g *globals, opts logsOptions) error {
	path, err := logging.FindLogFile(opts.logFile)
	if err != nil {
		return err
	}

	var pattern *regexp.Regexp
	if opts.filter != "" {
		pattern, err = regexp.Compile(opts.filter)
		if err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:   opts.level,
		Pattern: pattern,
		NoColor: g.noColor,
	}, cmd.OutOrStdout())

	errOut := cmd.ErrOrStderr()
	_, _ = fmt.Fprintf(errOut, "Log file: %s\n", path)
	if opts.follow {
		_, _ = fmt.Fprintln(errOut, "Following... (Ctrl+C to stop)")
	}
	_, _ = fmt.Fprintln(errOut, "---")

	if opts.follow {
		return followLog(cmd.Context(), cmd, viewer, path)
	}

	entries, err := viewer.Tail(path, opts.lines)
	if err != nil {
		return err
	}
	viewer.Print(entries)
	return nil
}

// followLog prints new entries until ctx is cancelled.
func followLog(ctx context.Context, cmd *cobra.Command, viewer *logging.Viewer, path string) error {
	entries := make(chan logging.LogEntry, 100)
	errCh := make(chan error, 1)

	go func() {
		errCh <- viewer.Follow(ctx, path, entries)
	}()

	for {
		select {
		case entry := <-entries:
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), viewer.FormatEntry(entry))
		case err := <-errCh:
			return err
		case <-ctx.Done():
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "\n---\nStopped.")
			return nil
		}
	}
}
