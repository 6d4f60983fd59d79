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

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/output"
	"github.com/Aman-CERP/searchidx/internal/pipeline"
)

// maxRows caps the URL rows drawn in the panel.
const maxRows = 12

// TUIRenderer provides rich terminal UI using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *runModel
	tracker *ProgressTracker
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer.
// Returns an error if the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !output.IsTTY(cfg.Output) {
		return nil, serrors.ValidationError("progress output is not a terminal", nil).
			WithSuggestion("Use --progress plain when writing to a pipe or file")
	}

	tracker := NewProgressTracker()
	model := newRunModel(tracker, cfg.Interrupt)
	if cfg.NoColor || output.DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	// The panel is drawn inline so the final view stays on screen.
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// RunStarted implements pipeline.Observer.
func (r *TUIRenderer) RunStarted(runID string, urls []string) {
	r.tracker.Start(runID, urls)
	r.send(refreshMsg{})
}

// StageChanged implements pipeline.Observer.
func (r *TUIRenderer) StageChanged(_ string, index int, res pipeline.Result) {
	r.tracker.Update(index, res)
	r.send(refreshMsg{})
}

// RunFinished implements pipeline.Observer.
func (r *TUIRenderer) RunFinished(agg *pipeline.Aggregated) {
	r.tracker.Finish(agg.Duration)
	r.send(finishedMsg{chunks: agg.Stats.IndexedChunks})
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	program := r.program
	r.mu.Unlock()
	if program != nil {
		program.Send(msg)
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

	// Wait with timeout to avoid hanging on an unresponsive terminal.
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

// Message types for bubbletea
type refreshMsg struct{}
type finishedMsg struct{ chunks int64 }
type tickMsg time.Time

// runModel is the bubbletea model for one pipeline run.
type runModel struct {
	tracker     *ProgressTracker
	interrupt   func()
	width       int
	quitting    bool
	finished    bool
	chunks      int64
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
}

func newRunModel(tracker *ProgressTracker, interrupt func()) *runModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	p := progress.New(
		progress.WithSolidFill(ColorLime),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	return &runModel{
		tracker:     tracker,
		interrupt:   interrupt,
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		width:       80,
	}
}

// tickCmd redraws the elapsed time every 100ms.
func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init implements tea.Model.
func (m *runModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

// Update implements tea.Model.
func (m *runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			if m.interrupt != nil {
				m.interrupt()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = max(20, min(60, msg.Width-30))

	case refreshMsg:
		return m, nil

	case finishedMsg:
		m.finished = true
		m.chunks = msg.chunks
		return m, tea.Quit

	case tickMsg:
		if m.finished {
			return m, nil
		}
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *runModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}

	snap := m.tracker.Snapshot()
	contentWidth := max(40, m.width-4)

	var sections []string
	sections = append(sections, m.renderProgress(snap))
	sections = append(sections, m.styles.Dim.Render(strings.Repeat("─", contentWidth)))
	sections = append(sections, m.renderRows(snap, contentWidth)...)

	title := "searchidx"
	if snap.RunID != "" {
		title = fmt.Sprintf("searchidx • run %s", shortID(snap.RunID))
	}
	body := m.styles.Header.Render(title) + "\n" + strings.Join(sections, "\n")
	return m.styles.Panel.Width(contentWidth).Render(body) + "\n" + m.renderStatus(snap) + "\n"
}

func (m *runModel) renderProgress(snap Snapshot) string {
	icon := m.spinner.View()
	if m.finished {
		icon = m.styles.Success.Render("✓")
	}
	counts := fmt.Sprintf("%d/%d", snap.Settled(), snap.Total)
	return fmt.Sprintf("%s %s %s", icon, m.progressBar.ViewAs(snap.Percent()), m.styles.Label.Render(counts))
}

// renderRows draws one line per URL. In-flight and failed URLs win the
// available rows over finished and pending ones.
func (m *runModel) renderRows(snap Snapshot, width int) []string {
	rows := make([]URLState, 0, len(snap.URLs))
	for _, rank := range []func(URLState) bool{
		func(u URLState) bool { return u.Stage != pipeline.StagePending && !u.Stage.Terminal() },
		func(u URLState) bool { return u.Stage == pipeline.StageFailed },
		func(u URLState) bool { return u.Stage == pipeline.StageDone },
		func(u URLState) bool { return u.Stage == pipeline.StagePending },
	} {
		for _, u := range snap.URLs {
			if rank(u) {
				rows = append(rows, u)
			}
		}
	}

	var lines []string
	for i, u := range rows {
		if i == maxRows {
			lines = append(lines, m.styles.Dim.Render(fmt.Sprintf("  … %d more", len(rows)-maxRows)))
			break
		}
		label := fmt.Sprintf("%-7s", StageLabel(u.Stage))
		line := truncate(u.URL, width-10)
		if u.Stage == pipeline.StageFailed && u.Error != "" {
			line = truncate(fmt.Sprintf("%s  %s", u.URL, u.Error), width-10)
		}
		lines = append(lines, fmt.Sprintf("%s %s", m.styles.stageStyle(u).Render(label), line))
	}
	if len(lines) == 0 {
		lines = append(lines, m.styles.Dim.Render("waiting for search results"))
	}
	return lines
}

func (m *runModel) renderStatus(snap Snapshot) string {
	elapsed := snap.Elapsed.Round(100 * time.Millisecond)
	if m.finished {
		return m.styles.Label.Render(fmt.Sprintf("%d indexed, %d failed, %d chunks in %s",
			snap.Done, snap.Failed, m.chunks, elapsed))
	}
	return m.styles.Label.Render(fmt.Sprintf("%d in flight • %s • ctrl+c to cancel", snap.Active(), elapsed))
}

// truncate cuts s to width runes, ending in an ellipsis. URLs are cut at
// the end so the host stays visible.
func truncate(s string, width int) string {
	if width <= 1 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-1]) + "…"
}
