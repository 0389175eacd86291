package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Modal represents a confirmation dialog.
type Modal struct {
	title           string
	message         string
	visible         bool
	confirmSelected bool // true = confirm button selected, false = cancel button selected
}

// NewModal creates a new modal with the given title and message.
func NewModal(title, message string) Modal {
	return Modal{
		title:           title,
		message:         message,
		visible:         true,
		confirmSelected: true, // default to confirm button
	}
}

// ToggleSelection switches the selected button.
func (m *Modal) ToggleSelection() {
	m.confirmSelected = !m.confirmSelected
}

// ConfirmSelected returns true if the confirm button is selected.
func (m Modal) ConfirmSelected() bool {
	return m.confirmSelected
}

// Visible returns whether the modal should be displayed.
func (m Modal) Visible() bool {
	return m.visible
}

// View renders the modal centered in a width by height area.
func (m Modal) View(width, height int) string {
	var confirmBtn, cancelBtn string
	if m.confirmSelected {
		confirmBtn = modalButtonSelectedStyle.Render("Confirm")
		cancelBtn = modalButtonStyle.Render("Cancel")
	} else {
		confirmBtn = modalButtonStyle.Render("Confirm")
		cancelBtn = modalButtonSelectedStyle.Render("Cancel")
	}

	buttons := lipgloss.JoinHorizontal(lipgloss.Center, confirmBtn, "  ", cancelBtn)
	buttonRow := lipgloss.NewStyle().MarginTop(1).Render(buttons)

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		modalTitleStyle.Render(m.title),
		"",
		m.message,
		buttonRow,
		modalHelpStyle.Render("←/→ select  enter confirm  esc cancel"),
	)

	return placeModal(modalStyle.Render(content), width, height)
}

// reactionPicker renders the emoji choices for a message.
func reactionPicker(emojis []string, width, height int) string {
	choices := make([]string, len(emojis))
	for i, e := range emojis {
		choices[i] = fmt.Sprintf("%s %s", modalButtonStyle.Render(fmt.Sprintf("%d", i+1)), e)
	}

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		modalTitleStyle.Render("React"),
		"",
		strings.Join(choices, "   "),
		modalHelpStyle.Render(fmt.Sprintf("1-%d choose  esc cancel", len(emojis))),
	)

	return placeModal(modalStyle.Render(content), width, height)
}

// placeModal centers a rendered dialog on an otherwise blank screen.
func placeModal(modal string, width, height int) string {
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, modal)
}
