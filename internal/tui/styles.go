// Package tui provides the terminal chat interface: session tabs, a
// scrolling transcript, a prompt input, and inline tool-approval
// prompts.
package tui

import "github.com/charmbracelet/lipgloss"

// Tokyo Night inspired color palette
var (
	colorBg      = lipgloss.Color("#1a1b26")
	colorBgAlt   = lipgloss.Color("#24283b")
	colorFg      = lipgloss.Color("#c0caf5")
	colorFgMuted = lipgloss.Color("#565f89")
	colorBusy    = lipgloss.Color("#9ece6a")
	colorWaiting = lipgloss.Color("#e0af68")
	colorError   = lipgloss.Color("#f7768e")
	colorAccent  = lipgloss.Color("#d4a373")
)

// statusColor maps a session status name to its indicator color.
func statusColor(status string) lipgloss.Color {
	switch status {
	case "busy":
		return colorBusy
	case "needs_input":
		return colorWaiting
	default:
		return colorFgMuted
	}
}

var (
	styleTabActive = lipgloss.NewStyle().
			Background(colorBgAlt).
			Foreground(colorFg).
			Bold(true).
			Padding(0, 1)

	styleTab = lipgloss.NewStyle().
			Foreground(colorFgMuted).
			Padding(0, 1)

	styleUser = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	styleTool = lipgloss.NewStyle().
			Foreground(colorFgMuted)

	styleError = lipgloss.NewStyle().
			Foreground(colorError)

	styleStatus = lipgloss.NewStyle().
			Foreground(colorFgMuted)

	styleApproval = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorWaiting).
			Padding(0, 1)

	styleHelp = lipgloss.NewStyle().
			Foreground(colorFgMuted)

	stylePickerTitle = lipgloss.NewStyle().
				Foreground(colorFg).
				Bold(true).
				MarginBottom(1)

	stylePickerSelected = lipgloss.NewStyle().
				Background(colorBgAlt).
				Foreground(colorFg)

	stylePickerNormal = lipgloss.NewStyle().
				Foreground(colorFgMuted)
)
