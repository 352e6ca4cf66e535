package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/output"
	"github.com/Aman-CERP/amanfind/internal/preflight"
)

func newDoctorCmd(g *globals) *cobra.Command {
	var (
		jsonOutput bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the index can be built and opened",
		Long: heredoc.Doc(`
			Run the system checks that indexing runs once per index directory:
			write access and free space at the index directory, the open file
			limit and the configured root folders. Then open the index to
			verify it is readable.
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, g, jsonOutput, verbose)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for each check")

	return cmd
}

func runDoctor(cmd *cobra.Command, g *globals, jsonOutput, verbose bool) error {
	dir := g.cfg.Index.Directory
	checker := preflight.New(preflight.WithOutput(cmd.OutOrStdout()), preflight.WithVerbose(verbose))
	results := checker.RunAll(cmd.Context(), preflight.Target{
		IndexDir:    dir,
		RootFolders: g.cfg.Index.RootFolders,
	})
	if !checker.HasCriticalFailures(results) {
		results = append(results, checkIndexHealth(g))
	}

	if jsonOutput {
		if err := output.New(cmd.OutOrStdout()).JSON(results); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	if checker.HasCriticalFailures(results) {
		if err := preflight.ClearMarker(dir); err != nil {
			slog.Debug("preflight_marker_clear_failed", slog.String("error", err.Error()))
		}
		return amerrors.New(amerrors.ErrCodeIndexFailed, "system check failed", nil)
	}
	if err := preflight.MarkPassed(dir); err != nil {
		slog.Debug("preflight_marker_write_failed", slog.String("error", err.Error()))
	}
	return nil
}

// checkIndexHealth opens the index the way every command does.
func checkIndexHealth(g *globals) preflight.CheckResult {
	result := preflight.CheckResult{Name: "index", Required: true}

	s, err := openSession(g.cfg)
	if err != nil {
		result.Status = preflight.StatusFail
		result.Message = err.Error()
		result.Details = "Rebuild the index with 'amanfind index'"
		return result
	}
	st := s.index.Stats()
	_ = s.Close()

	result.Status = preflight.StatusPass
	result.Message = fmt.Sprintf("%s documents in %d segment(s), %s",
		humanize.Comma(int64(st.Documents)), st.Segments, humanize.Bytes(uint64(st.SizeOnDisk)))
	return result
}

// ensurePreflight runs the system checks once per index directory. Failures
// are logged and returned; details are left to "amanfind doctor".
func ensurePreflight(ctx context.Context, g *globals) error {
	dir := g.cfg.Index.Directory
	if !preflight.NeedsCheck(dir) {
		return nil
	}

	checker := preflight.New(preflight.WithOutput(io.Discard))
	results := checker.RunAll(ctx, preflight.Target{IndexDir: dir, RootFolders: g.cfg.Index.RootFolders})
	if checker.HasCriticalFailures(results) {
		for _, r := range results {
			if r.IsCritical() {
				slog.Error("preflight_failed", slog.String("check", r.Name), slog.String("message", r.Message))
			}
		}
		return amerrors.New(amerrors.ErrCodeIndexFailed, "system check failed", nil).
			WithSuggestion("run 'amanfind doctor' for details, or pass --skip-check")
	}

	if err := preflight.MarkPassed(dir); err != nil {
		slog.Debug("preflight_marker_write_failed", slog.String("error", err.Error()))
	}
	return nil
}
