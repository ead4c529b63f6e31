package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"planview/pkg/model"
)

// ══════════════════════════════════════════════════════════════════════════════
// DESIGN TOKENS - Consistent spacing, colors, and visual language
// ══════════════════════════════════════════════════════════════════════════════

// Spacing constants for consistent layout (in characters)
const (
	SpaceXS = 1
	SpaceSM = 2
	SpaceMD = 3
)

// ══════════════════════════════════════════════════════════════════════════════
// COLOR PALETTE - Dracula-inspired with semantic status colors
// ══════════════════════════════════════════════════════════════════════════════

var (
	// Base colors
	ColorBg          = lipgloss.Color("#282A36")
	ColorBgHighlight = lipgloss.Color("#44475A")
	ColorText        = lipgloss.Color("#F8F8F2")
	ColorSubtext     = lipgloss.Color("#BFBFBF")
	ColorMuted       = lipgloss.Color("#6272A4")

	// Accent colors
	ColorPrimary = lipgloss.Color("#BD93F9")
	ColorInfo    = lipgloss.Color("#8BE9FD")
	ColorSuccess = lipgloss.Color("#50FA7B")
	ColorWarning = lipgloss.Color("#FFB86C")
	ColorDanger  = lipgloss.Color("#FF5555")

	// Status colors
	ColorStatusPending   = lipgloss.Color("#6272A4")
	ColorStatusLoading   = lipgloss.Color("#8BE9FD")
	ColorStatusCompleted = lipgloss.Color("#50FA7B")
	ColorStatusModified  = lipgloss.Color("#F1FA8C")
	ColorStatusPartial   = lipgloss.Color("#FFB86C")
	ColorStatusFailed    = lipgloss.Color("#FF5555")

	// Status background colors (for badges)
	ColorStatusPendingBg   = lipgloss.Color("#2A2A3D")
	ColorStatusLoadingBg   = lipgloss.Color("#1A3344")
	ColorStatusCompletedBg = lipgloss.Color("#1A3D2A")
	ColorStatusModifiedBg  = lipgloss.Color("#3D3D1A")
	ColorStatusPartialBg   = lipgloss.Color("#3D2A1A")
	ColorStatusFailedBg    = lipgloss.Color("#3D1A1A")
)

var (
	// CursorStyle highlights the selected row.
	CursorStyle = lipgloss.NewStyle().
			Foreground(ColorText).
			Background(ColorBgHighlight).
			Bold(true)

	// TitleStyle renders the header bar.
	TitleStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	// StatusLineStyle renders the bottom status line.
	StatusLineStyle = lipgloss.NewStyle().
			Foreground(ColorSubtext)

	// FilterStyle renders the active filter prompt.
	FilterStyle = lipgloss.NewStyle().
			Foreground(ColorInfo)

	// StepCurrentStyle highlights the in-progress pipeline step.
	StepCurrentStyle = lipgloss.NewStyle().
				Foreground(ColorInfo).
				Bold(true)

	// StepDoneStyle renders completed pipeline steps.
	StepDoneStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	// StepPendingStyle renders not-yet-reached pipeline steps.
	StepPendingStyle = lipgloss.NewStyle().
				Foreground(ColorMuted)

	// StepFailedStyle renders failed pipeline steps.
	StepFailedStyle = lipgloss.NewStyle().
			Foreground(ColorDanger).
			Bold(true)
)

// StatusColor returns the foreground color for a node status.
func StatusColor(s model.Status) lipgloss.Color {
	switch s {
	case model.StatusCompleted:
		return ColorStatusCompleted
	case model.StatusLoading:
		return ColorStatusLoading
	case model.StatusModified:
		return ColorStatusModified
	case model.StatusPartialFailure:
		return ColorStatusPartial
	case model.StatusFailed:
		return ColorStatusFailed
	default:
		return ColorStatusPending
	}
}

// RenderStatusBadge returns a styled status badge
func RenderStatusBadge(status model.Status) string {
	var fg, bg lipgloss.Color
	var label string

	switch status {
	case model.StatusCompleted:
		fg, bg, label = ColorStatusCompleted, ColorStatusCompletedBg, "DONE"
	case model.StatusLoading:
		fg, bg, label = ColorStatusLoading, ColorStatusLoadingBg, "LOAD"
	case model.StatusModified:
		fg, bg, label = ColorStatusModified, ColorStatusModifiedBg, "EDIT"
	case model.StatusPartialFailure:
		fg, bg, label = ColorStatusPartial, ColorStatusPartialBg, "PART"
	case model.StatusFailed:
		fg, bg, label = ColorStatusFailed, ColorStatusFailedBg, "FAIL"
	case model.StatusPending:
		fg, bg, label = ColorStatusPending, ColorStatusPendingBg, "PEND"
	default:
		fg, bg, label = ColorMuted, ColorStatusPendingBg, "????"
	}

	return lipgloss.NewStyle().
		Foreground(fg).
		Background(bg).
		Padding(0, 0).
		Render(label)
}

// RenderDivider renders a horizontal divider line
func RenderDivider(width int) string {
	if width <= 0 {
		return ""
	}
	return lipgloss.NewStyle().
		Foreground(ColorBgHighlight).
		Render(strings.Repeat("─", width))
}
