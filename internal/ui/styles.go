package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/searchidx/internal/pipeline"
)

// Color palette: one lime accent on grays.
const (
	ColorLime     = "154" // Primary accent (#AFFF00)
	ColorLimeDim  = "106" // Dimmed lime for in-flight stages
	ColorWhite    = "255" // Headers
	ColorGray     = "245" // Secondary text, labels
	ColorDarkGray = "238" // Box borders, pending rows
	ColorRed      = "196" // Failures
	ColorYellow   = "220" // Cached results
)

// Styles holds all UI styles for TUI rendering.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Stage   lipgloss.Style
	Label   lipgloss.Style
	Panel   lipgloss.Style
}

// DefaultStyles returns styled components for TUI mode.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Stage:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLimeDim)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorDarkGray)).
			Padding(0, 1),
	}
}

// NoColorStyles returns unstyled components. The panel keeps its border.
func NoColorStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
		Stage:   lipgloss.NewStyle(),
		Label:   lipgloss.NewStyle(),
		Panel:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}

// stageStyle picks the style for a URL row.
func (s Styles) stageStyle(u URLState) lipgloss.Style {
	switch {
	case u.Stage == pipeline.StageDone && u.Cached:
		return s.Warning
	case u.Stage == pipeline.StageDone:
		return s.Success
	case u.Stage == pipeline.StageFailed:
		return s.Error
	case u.Stage == pipeline.StagePending:
		return s.Dim
	default:
		return s.Stage
	}
}
