// Package tui implements the Bubble Tea chat TUI for pgchat.
package tui

import (
	"hash/fnv"

	"github.com/charmbracelet/lipgloss"

	"github.com/hay-kot/pgchat/internal/styles"
)

var (
	colorCyan   = lipgloss.Color("#7dcfff")
	colorOrange = lipgloss.Color("#ff9e64")
	colorMuted  = lipgloss.Color("#3b4261")
)

// Styles used for rendering the TUI.
var (
	// Pane titles.
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.ColorBlue).
			PaddingLeft(1)

	// Selected item style (matches border color).
	selectedStyle = lipgloss.NewStyle().
			Foreground(styles.ColorBlue).
			Bold(true)

	// Normal item style (no color, uses terminal default).
	normalStyle = lipgloss.NewStyle()

	// Subtle secondary text.
	subtleStyle = lipgloss.NewStyle().
			Foreground(styles.ColorGray)

	// Unread badge.
	unreadStyle = lipgloss.NewStyle().
			Foreground(styles.ColorYellow).
			Bold(true)

	// Selected border style for left accent bar.
	selectedBorderStyle = lipgloss.NewStyle().
				Foreground(styles.ColorBlue)

	// Message body text.
	bodyStyle = lipgloss.NewStyle().
			Foreground(styles.ColorWhite)

	pendingStyle = lipgloss.NewStyle().
			Foreground(styles.ColorGray).
			Italic(true)

	failedStyle = lipgloss.NewStyle().
			Foreground(styles.ColorRed)

	readStyle = lipgloss.NewStyle().
			Foreground(styles.ColorGreen)

	typingStyle = lipgloss.NewStyle().
			Foreground(styles.ColorGray).
			Italic(true).
			PaddingLeft(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(styles.ColorRed).
			PaddingLeft(1)

	// Pane borders.
	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted)

	paneFocusedStyle = paneStyle.
				BorderForeground(styles.ColorBlue)

	// Spinner style.
	spinnerStyle = lipgloss.NewStyle().
			Foreground(styles.ColorBlue)

	helpStyle = lipgloss.NewStyle().
			Foreground(styles.ColorGray)
)

// Modal styles.
var (
	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(styles.ColorBlue).
			Padding(1, 2)

	modalTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.ColorWhite)

	modalHelpStyle = lipgloss.NewStyle().
			Foreground(styles.ColorGray).
			MarginTop(1)

	modalButtonStyle = lipgloss.NewStyle().
				Padding(0, 1).
				Background(colorMuted).
				Foreground(lipgloss.Color("#a9b1d6"))

	modalButtonSelectedStyle = lipgloss.NewStyle().
					Padding(0, 1).
					Background(styles.ColorBlue).
					Foreground(lipgloss.Color("#1a1b26")).
					Bold(true)
)

// Icons and symbols.
const (
	iconDot     = "•"
	iconPin     = "★"
	iconFailed  = "✘"
	iconSent    = "✓"
	iconRead    = "✓✓"
	iconPending = "⋯"
)

// senderPalette is cycled through by colorForString.
var senderPalette = []lipgloss.Color{
	styles.ColorBlue,
	styles.ColorGreen,
	styles.ColorYellow,
	styles.ColorPurple,
	colorCyan,
	colorOrange,
}

// colorForString returns a stable palette color for s.
func colorForString(s string) lipgloss.Color {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return senderPalette[h.Sum32()%uint32(len(senderPalette))]
}
