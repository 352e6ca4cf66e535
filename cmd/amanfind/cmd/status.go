package cmd

import (
	"log/slog"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanfind/internal/ui"
)

const (
	recentRunsShown = 5  // runs listed by "status"
	historyShown    = 10 // top terms and failing queries listed by "status"
)

func newStatusCmd(g *globals) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index statistics, recent runs and search history",
		Long: heredoc.Doc(`
			Show the document count, segments and size of the index, the most
			recent indexing runs, and what has been searched for: the most used
			terms and the queries that found nothing.
		`),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, g, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, g *globals, jsonOutput bool) error {
	s, err := openSession(g.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Warn("session_close_failed", slog.String("error", err.Error()))
		}
	}()

	st := s.index.Stats()
	info := ui.StatusInfo{
		IndexDir:   s.index.Dir(),
		Generation: st.Generation,
		Documents:  st.Documents,
		Deleted:    st.Deleted,
		Segments:   st.Segments,
		SizeOnDisk: st.SizeOnDisk,
		LastCommit: st.LastCommit,
		Folders:    g.cfg.Index.RootFolders,
	}
	if s.runs != nil {
		runs, err := s.runs.RecentRuns(cmd.Context(), recentRunsShown)
		if err != nil {
			slog.Warn("run_history_read_failed", slog.String("error", err.Error()))
		}
		info.Runs = runs

		history, err := s.runs.Summary(cmd.Context(), historyShown)
		if err != nil {
			slog.Warn("search_history_read_failed", slog.String("error", err.Error()))
		} else {
			info.Searches = &history
		}
	}

	r := ui.NewStatusRenderer(cmd.OutOrStdout(), g.noColor || ui.DetectNoColor())
	if jsonOutput {
		return r.RenderJSON(info)
	}
	return r.Render(info)
}
