package ui

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchidx/internal/pipeline"
)

func TestNewTUIRenderer_ReturnsErrorForNonTTY(t *testing.T) {
	// Given: a non-TTY buffer
	cfg := NewConfig(&bytes.Buffer{})

	// When: creating TUI renderer
	r, err := NewTUIRenderer(cfg)

	// Then: returns error (can't create TUI for non-TTY)
	assert.Error(t, err)
	assert.Nil(t, r)
}

func newTestModel() (*runModel, *ProgressTracker) {
	tracker := NewProgressTracker()
	m := newRunModel(tracker, nil)
	m.styles = NoColorStyles()
	return m, tracker
}

func TestRunModel_InitialView(t *testing.T) {
	// Given: a model before any run started
	m, _ := newTestModel()

	// When: getting initial view
	view := m.View()

	// Then: the panel waits for results
	assert.Contains(t, view, "searchidx")
	assert.Contains(t, view, "waiting for search results")
	assert.Contains(t, view, "0/0")
}

func TestRunModel_ShowsURLStages(t *testing.T) {
	// Given: a run with one URL per state
	m, tracker := newTestModel()
	tracker.Start("0f8fad5b-d9cb-469f-a165-70867728950e", testURLs)
	tracker.Update(0, pipeline.Result{Stage: pipeline.StageEmbedding})
	tracker.Update(1, pipeline.Result{Stage: pipeline.StageFailed, FailedAt: pipeline.StageFetching, Error: "status 404"})

	// When: rendering view
	view := m.View()

	// Then: the run id, counts and every URL with its stage are shown
	assert.Contains(t, view, "run 0f8fad5b")
	assert.Contains(t, view, "1/3")
	assert.Contains(t, view, "EMBED")
	assert.Contains(t, view, "FAIL")
	assert.Contains(t, view, "status 404")
	assert.Contains(t, view, "WAIT")
	assert.Contains(t, view, "1 in flight")
	for _, u := range testURLs {
		assert.Contains(t, view, u)
	}

	// And: the in-flight URL is listed before the failed and pending ones
	assert.Less(t, strings.Index(view, "EMBED"), strings.Index(view, "FAIL"))
	assert.Less(t, strings.Index(view, "FAIL"), strings.Index(view, "WAIT"))
}

func TestRunModel_CapsRows(t *testing.T) {
	// Given: more URLs than rows
	m, tracker := newTestModel()
	urls := make([]string, maxRows+3)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://host%d.example/", i)
	}
	tracker.Start("run", urls)

	// When: rendering view
	view := m.View()

	// Then: the remainder is summarised
	assert.Contains(t, view, "3 more")
	assert.NotContains(t, view, urls[maxRows+2])
}

func TestRunModel_FinishedQuits(t *testing.T) {
	// Given: a settled run
	m, tracker := newTestModel()
	tracker.Start("run", testURLs[:1])
	tracker.Update(0, pipeline.Result{Stage: pipeline.StageDone, IDs: []uint64{1, 2}})
	tracker.Finish(2 * time.Second)

	// When: the finished message arrives
	_, cmd := m.Update(finishedMsg{chunks: 2})

	// Then: the program quits and the summary is shown
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	view := m.View()
	assert.Contains(t, view, "1 indexed, 0 failed, 2 chunks in 2s")
}

func TestRunModel_CtrlCInterrupts(t *testing.T) {
	// Given: a model with an interrupt hook
	interrupted := false
	m := newRunModel(NewProgressTracker(), func() { interrupted = true })

	// When: ctrl+c is pressed
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})

	// Then: the hook runs and the program quits
	assert.True(t, interrupted)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, "Cancelled.\n", m.View())
}

func TestRunModel_WindowResize(t *testing.T) {
	m, _ := newTestModel()

	m.Update(tea.WindowSizeMsg{Width: 200, Height: 40})
	assert.Equal(t, 200, m.width)
	assert.Equal(t, 60, m.progressBar.Width)

	m.Update(tea.WindowSizeMsg{Width: 30, Height: 40})
	assert.Equal(t, 20, m.progressBar.Width)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "https://a.example/", truncate("https://a.example/", 40))
	assert.Equal(t, "https://a…", truncate("https://a.example/", 10))
	assert.Equal(t, "", truncate("", 10))
	assert.Equal(t, "unchanged", truncate("unchanged", 0))
}
