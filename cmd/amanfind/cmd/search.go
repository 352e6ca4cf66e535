package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/output"
	"github.com/Aman-CERP/amanfind/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	mode   string // "all", "filename", "content"
	limit  int    // 0 uses search.max_results
	format string // "text", "json", "paths"
}

// searchResponse is the JSON form of a search.
type searchResponse struct {
	Query     string          `json:"query"`
	Mode      string          `json:"mode"`
	Total     int             `json:"total"`
	Results   []search.Result `json:"results"`
	ElapsedMs int64           `json:"elapsed_ms"`
}

func newSearchCmd(g *globals) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed files by name and content",
		Long: heredoc.Doc(`
			Search the index with BM25 ranking.

			Query syntax:
			  report draft        all of the words
			  report OR draft     either word
			  report -draft       exclude a word
			  "annual report"     exact phrase
			  filename:invoice    restrict a term to one field
			  repo*  colour~1     wildcard and fuzzy terms

			Malformed queries are searched as literal text.
		`),
		Example: heredoc.Doc(`
			amanfind search "quarterly report"
			amanfind search invoice --mode filename --limit 5
			amanfind search "error handling" --format json
			amanfind search budget --format paths | xargs open
		`),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd, g, query, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "all", "Fields to search: all, filename, content")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default: search.max_results)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json, paths")

	return cmd
}

func runSearch(cmd *cobra.Command, g *globals, query string, opts searchOptions) error {
	mode, err := search.ParseMode(opts.mode)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeInvalidQuery, err.Error(), nil)
	}
	switch opts.format {
	case "text", "json", "paths":
	default:
		return amerrors.New(amerrors.ErrCodeInvalidQuery,
			fmt.Sprintf("unknown output format %q (expected text, json or paths)", opts.format), nil)
	}
	if opts.limit < 0 {
		return amerrors.New(amerrors.ErrCodeInvalidQuery, "--limit must be non-negative", nil)
	}

	s, err := openSession(g.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Warn("session_close_failed", slog.String("error", err.Error()))
		}
	}()

	slog.Debug("search_started",
		slog.String("query", query),
		slog.String("mode", mode.String()),
		slog.Int("limit", opts.limit))

	start := time.Now()
	results, err := s.engine.Search(cmd.Context(), query, mode)
	if err != nil {
		return amerrors.Wrap(amerrors.ErrCodeSearchFailed, err)
	}
	elapsed := time.Since(start)

	total := len(results)
	if opts.limit > 0 && len(results) > opts.limit {
		results = results[:opts.limit]
	}

	out := output.New(cmd.OutOrStdout())
	switch opts.format {
	case "json":
		if results == nil {
			results = []search.Result{}
		}
		return out.JSON(searchResponse{
			Query:     query,
			Mode:      mode.String(),
			Total:     total,
			Results:   results,
			ElapsedMs: elapsed.Milliseconds(),
		})
	case "paths":
		out.Paths(results)
	default:
		out.Results(results, total)
	}
	return nil
}
