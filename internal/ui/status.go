package ui

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"

	"github.com/Aman-CERP/amanfind/internal/telemetry"
)

// StatusInfo describes an index for "amanfind status".
type StatusInfo struct {
	IndexDir   string          `json:"index_dir"`
	Generation uint64          `json:"generation"`
	Documents  uint64          `json:"documents"`
	Deleted    uint64          `json:"deleted"`
	Segments   int             `json:"segments"`
	SizeOnDisk int64           `json:"size_on_disk"`
	LastCommit time.Time       `json:"last_commit"`
	Folders    []string        `json:"folders,omitempty"`
	Runs       []telemetry.Run `json:"recent_runs,omitempty"`

	Searches *telemetry.SearchSummary `json:"searches,omitempty"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
	now    func() time.Time
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
		now:    time.Now,
	}
}

// Render writes the status as text.
func (r *StatusRenderer) Render(info StatusInfo) error {
	p := func(format string, args ...any) { _, _ = fmt.Fprintf(r.out, format, args...) }

	p("%s\n\n", r.styles.Header.Render("Index: "+info.IndexDir))

	p("  Documents:   %s\n", humanize.Comma(int64(info.Documents)))
	if info.Deleted > 0 {
		p("  Deleted:     %s %s\n", humanize.Comma(int64(info.Deleted)),
			r.styles.Dim.Render("(reclaimed by 'amanfind compact')"))
	}
	p("  Segments:    %d\n", info.Segments)
	p("  Generation:  %d\n", info.Generation)
	p("  Size:        %s\n", humanize.Bytes(uint64(max(info.SizeOnDisk, 0))))
	if info.LastCommit.IsZero() {
		p("  Last commit: %s\n", r.styles.Warning.Render("never"))
	} else {
		p("  Last commit: %s\n", humanize.RelTime(info.LastCommit, r.now(), "ago", "from now"))
	}

	if len(info.Folders) > 0 {
		p("\n  Folders:\n")
		for _, f := range info.Folders {
			p("    %s\n", f)
		}
	}

	if len(info.Runs) > 0 {
		p("\n  Recent runs:\n")
		for _, run := range info.Runs {
			p("    %s  %-8s %s\n",
				run.StartedAt.Local().Format("2006-01-02 15:04"),
				run.Kind,
				r.renderRun(run))
		}
	}

	if h := info.Searches; h != nil && h.Searches > 0 {
		p("\n  Searches:    %s %s\n", humanize.Comma(h.Searches), r.styles.Dim.Render(formatCounts(h.Modes)))
		if len(h.TopTerms) > 0 {
			terms := make([]string, len(h.TopTerms))
			for i, t := range h.TopTerms {
				terms[i] = fmt.Sprintf("%s (%d)", t.Term, t.Uses)
			}
			p("  Top terms:   %s\n", strings.Join(terms, ", "))
		}
		if len(h.Failing) > 0 {
			p("  No results:\n")
			for _, f := range h.Failing {
				p("    %-30s %s\n", f.Query, r.styles.Dim.Render(fmt.Sprintf("%s, %dx", f.Mode, f.Times)))
			}
		}
	}
	return nil
}

// formatCounts renders map counts as "(all 3, content 1)" in key order.
func formatCounts(counts map[string]int64) string {
	keys := slices.Sorted(maps.Keys(counts))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s %d", k, counts[k])
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// RenderJSON writes the status as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (r *StatusRenderer) renderRun(run telemetry.Run) string {
	var b strings.Builder
	switch run.Kind {
	case telemetry.RunKindRemove:
		fmt.Fprintf(&b, "%s removed", humanize.Comma(int64(run.Removed)))
	case telemetry.RunKindCompact:
		b.WriteString("compacted")
	default:
		fmt.Fprintf(&b, "%s/%s indexed", humanize.Comma(int64(run.Indexed)), humanize.Comma(int64(run.Total)))
		if run.Errored > 0 {
			fmt.Fprintf(&b, ", %s errored", humanize.Comma(int64(run.Errored)))
		}
	}
	fmt.Fprintf(&b, " in %s", formatDuration(run.Duration))

	switch {
	case run.Error != "":
		return r.styles.Error.Render(b.String() + " (failed: " + run.Error + ")")
	case run.Cancelled:
		return r.styles.Warning.Render(b.String() + " (cancelled)")
	default:
		return b.String()
	}
}
