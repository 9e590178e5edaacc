package tui

import (
	"github.com/charmbracelet/lipgloss"

	"copydesk/internal/types"
)

var (
	colorAccent  = lipgloss.Color("#8BC34A")
	colorInfo    = lipgloss.Color("#2196F3")
	colorWarning = lipgloss.Color("#FFC107")
	colorError   = lipgloss.Color("#e53935")
	colorMuted   = lipgloss.Color("243")
	colorBorder  = lipgloss.Color("240")
)

// Styles holds the styled components of the watch board.
type Styles struct {
	Header  lipgloss.Style
	Title   lipgloss.Style
	Body    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Footer  lipgloss.Style
	Badge   lipgloss.Style
}

// DefaultStyles builds the board palette on the terminal's own colors.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffffff")).
			Background(colorInfo).
			Padding(0, 1).
			Bold(true),
		Title:   lipgloss.NewStyle().Bold(true),
		Body:    lipgloss.NewStyle(),
		Muted:   lipgloss.NewStyle().Foreground(colorMuted),
		Success: lipgloss.NewStyle().Foreground(colorAccent).Bold(true),
		Error:   lipgloss.NewStyle().Foreground(colorError).Bold(true),
		Warning: lipgloss.NewStyle().Foreground(colorWarning).Bold(true),
		Info:    lipgloss.NewStyle().Foreground(colorInfo),
		Footer:  lipgloss.NewStyle().Foreground(colorMuted).Padding(0, 1),
		Badge: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffffff")).
			Background(colorError).
			Padding(0, 1).
			Bold(true),
	}
}

// laneStyle colors a lane by what it means for an operator: review
// lanes want attention, working lanes are in flight, terminal lanes
// read as outcome.
func (s Styles) laneStyle(status types.ItemStatus) lipgloss.Style {
	switch status {
	case types.StatusParsingReview, types.StatusProofreadingReview, types.StatusReadyToPublish:
		return s.Warning
	case types.StatusParsing, types.StatusProofreading, types.StatusPublishing:
		return s.Info
	case types.StatusPublished:
		return s.Success
	case types.StatusFailed:
		return s.Error
	default:
		return s.Muted
	}
}

// laneIcon is the single-character state marker used in item rows.
func laneIcon(status types.ItemStatus) string {
	switch status {
	case types.StatusParsing, types.StatusProofreading, types.StatusPublishing:
		return "▶"
	case types.StatusParsingReview, types.StatusProofreadingReview, types.StatusReadyToPublish:
		return "◉"
	case types.StatusPublished:
		return "✓"
	case types.StatusFailed:
		return "✗"
	default:
		return "○"
	}
}

// laneLabel shortens lane names so the whole bar fits a narrow
// terminal.
func laneLabel(status types.ItemStatus) string {
	switch status {
	case types.StatusParsingReview:
		return "parse review"
	case types.StatusProofreadingReview:
		return "proof review"
	case types.StatusReadyToPublish:
		return "ready"
	default:
		return string(status)
	}
}
