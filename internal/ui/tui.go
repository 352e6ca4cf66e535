package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/Aman-CERP/amanfind/internal/index"
)

// quitTimeout bounds how long Stop waits for the program to exit.
const quitTimeout = 2 * time.Second

// TUIRenderer draws indexing progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *indexingModel
	tracker *ProgressTracker
	done    chan struct{}

	// OnQuit is called when the user presses q or ctrl+c, typically to
	// cancel the run.
	OnQuit func()
}

// NewTUIRenderer creates a TUI renderer. It fails for non-terminal output.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newIndexingModel(tracker, cfg.Title)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	r := &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}
	model.onQuit = func() {
		if r.OnQuit != nil {
			r.OnQuit()
		}
	}
	return r, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	if event.Stage != r.tracker.Stage() {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.Total)
}

// Message implements Renderer.
func (r *TUIRenderer) Message(stage Stage, msg string) {
	if stage != r.tracker.Stage() {
		r.tracker.SetStage(stage, 0)
	}
	r.tracker.SetStatus(msg)
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(sum index.Summary) {
	r.mu.Lock()
	program := r.program
	r.mu.Unlock()

	r.tracker.SetStage(StageComplete, 0)
	if program != nil {
		program.Send(completeMsg(sum))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	program := r.program
	r.mu.Unlock()

	if program == nil {
		return nil
	}
	program.Quit()
	select {
	case <-r.done:
	case <-time.After(quitTimeout):
	}
	return nil
}

type completeMsg index.Summary
type tickMsg time.Time

// indexingModel is the bubbletea model for indexing progress. It polls the
// tracker on every tick rather than receiving each update as a message.
type indexingModel struct {
	tracker     *ProgressTracker
	width       int
	quitting    bool
	complete    bool
	summary     index.Summary
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	title       string
	onQuit      func()
}

func newIndexingModel(tracker *ProgressTracker, title string) *indexingModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	p := progress.New(
		progress.WithSolidFill(ColorLime),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &indexingModel{
		tracker:     tracker,
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		width:       80,
		title:       title,
		onQuit:      func() {},
	}
}

// Init implements tea.Model.
func (m *indexingModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *indexingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// The run winds down and calls Complete, which quits.
			if !m.quitting {
				m.quitting = true
				m.onQuit()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = max(msg.Width-20, 20)

	case completeMsg:
		m.complete = true
		m.summary = index.Summary(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *indexingModel) View() string {
	if m.complete {
		return m.renderComplete()
	}

	contentWidth := max(m.width-4, 40)
	sections := []string{
		m.renderStages(),
		m.renderDivider(contentWidth),
		m.renderProgress(),
		m.renderSpeedMetrics(),
		m.renderDivider(contentWidth),
		m.renderSparkline(contentWidth),
	}
	if status := m.tracker.Stats().Status; status != "" {
		sections = append(sections, m.renderDivider(contentWidth), m.styles.Label.Render(truncateFilePath(status, contentWidth-2)))
	}

	title := "amanfind"
	if m.title != "" {
		title += " • " + m.title
	}
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(contentWidth).
		Render(strings.Join(sections, "\n"))

	hint := "q to cancel"
	if m.quitting {
		hint = "Cancelling, keeping completed work..."
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.styles.Header.Render(title), panel) + "\n" + m.styles.Dim.Render(hint)
}

func (m *indexingModel) renderStages() string {
	current := m.tracker.Stage()
	stages := []struct {
		stage Stage
		name  string
	}{
		{StageCounting, "Count"},
		{StageIndexing, "Index"},
		{StageOptimizing, "Optimize"},
	}

	parts := make([]string, 0, len(stages))
	for _, s := range stages {
		switch {
		case s.stage < current:
			parts = append(parts, m.styles.Success.Render("● "+s.name))
		case s.stage == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.name))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.name))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *indexingModel) renderProgress() string {
	stats := m.tracker.Stats()
	if stats.Total == 0 {
		return fmt.Sprintf("%s %s...", m.spinner.View(), stats.Stage)
	}

	bar := m.progressBar.ViewAs(stats.Progress)
	pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))
	count := m.styles.Label.Render(fmt.Sprintf("%s / %s files",
		humanize.Comma(int64(stats.Current)), humanize.Comma(int64(stats.Total))))
	return fmt.Sprintf("%s  %s\n%s", bar, pct, count)
}

func (m *indexingModel) renderSpeedMetrics() string {
	stats := m.tracker.Stats()

	speed := fmt.Sprintf("Speed: %.0f files/s", stats.Speed.Current)
	if stats.Speed.Avg > 0 {
		speed += fmt.Sprintf(" (avg: %.0f, peak: %.0f)", stats.Speed.Avg, stats.Speed.Peak)
	}
	parts := []string{m.styles.Speed.Render(speed)}
	if stats.ETA > 0 {
		parts = append(parts, m.styles.Label.Render("ETA: "+formatDuration(stats.ETA)))
	}
	return strings.Join(parts, m.styles.Dim.Render("  •  "))
}

func (m *indexingModel) renderSparkline(width int) string {
	spark := m.tracker.RenderSparkline(max(width-14, 10))
	return m.styles.Success.Render(spark) + " " + m.styles.Dim.Render("throughput")
}

func (m *indexingModel) renderDivider(width int) string {
	return m.styles.Border.Render(strings.Repeat("─", width))
}

func (m *indexingModel) renderComplete() string {
	sum := m.summary
	header := m.styles.Success.Render("✓ Indexing complete")
	if sum.Cancelled {
		header = m.styles.Warning.Render("⚠ Indexing cancelled")
	}

	label := func(s string) string { return m.styles.Label.Render(fmt.Sprintf("%-14s", s)) }
	value := func(n uint64) string { return m.styles.Active.Render(humanize.Comma(int64(n))) }

	lines := []string{
		header,
		"",
		label("Indexed:") + value(sum.Indexed),
		label("Filename only:") + value(sum.FilenameOnly),
		label("Errored:") + value(sum.Errored),
		label("Duration:") + m.styles.Active.Render(formatDuration(sum.Duration)),
	}
	if avg := m.tracker.SpeedStats().Avg; avg > 0 {
		lines = append(lines, label("Avg speed:")+m.styles.Speed.Render(fmt.Sprintf("%.0f files/s", avg)))
	}
	for _, folder := range sum.Missing {
		lines = append(lines, m.styles.Warning.Render("⚠ folder not found: "+folder))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorLime)).
		Padding(1, 2).
		Width(max(m.width-4, 40)).
		Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration formats a duration as "42s", "3m 5s" or "1h 2m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		m, s := int(d.Minutes()), int(d.Seconds())%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncateFilePath shortens a path or status line to maxLen, keeping the
// final path element.
func truncateFilePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen < 4 {
		return "..."
	}

	sep := strings.LastIndexAny(path, `/\`)
	if sep < 0 {
		return "..." + path[len(path)-maxLen+3:]
	}
	filename := path[sep+1:]
	if len(filename)+4 > maxLen {
		return "..." + filename[len(filename)-maxLen+3:]
	}
	remaining := maxLen - len(filename) - 4
	prefix := path[:sep]
	return "..." + prefix[len(prefix)-remaining:] + string(path[sep]) + filename
}

var _ Renderer = (*TUIRenderer)(nil)
