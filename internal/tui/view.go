package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/realtime/transport"
	"github.com/hay-kot/pgchat/internal/styles"
)

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	w, h := m.screenWidth(), m.screenHeight()

	switch m.state {
	case stateConfirming:
		return m.modal.View(w, h)
	case statePreviewing:
		return m.preview.View(w, h)
	case stateReacting:
		return reactionPicker(m.reactions, w, h)
	}

	bodyHeight := max(h-4, 3)
	body := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderRoomsPane(bodyHeight),
		m.renderMessagesPane(w-roomsPaneWidth, bodyHeight),
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderHeader(),
		body,
		m.renderStatus(),
		" "+m.input.View(),
		" "+m.help.ShortHelpView(m.keys.shortHelp(m.focus)),
	)
}

// renderHeader shows the banner and the connection state.
func (m Model) renderHeader() string {
	state := string(m.conn.State)
	label := styles.StateStyle(state).Render(state)

	switch m.conn.State {
	case transport.StateConnecting, transport.StateAuthenticated:
		label = m.spinner.View() + " " + label
	case transport.StateReconnecting:
		label = m.spinner.View() + " " + label
		if m.conn.Attempt > 0 {
			label += subtleStyle.Render(fmt.Sprintf(" attempt %d, retry in %s", m.conn.Attempt, m.conn.Delay.Round(100*time.Millisecond)))
		}
	}

	return styles.BannerStyle.PaddingLeft(1).Render(styles.Banner) + " " + subtleStyle.Render(iconDot) + " " + label
}

func (m Model) renderRoomsPane(height int) string {
	style := paneStyle
	if m.focus == paneRooms {
		style = paneFocusedStyle
	}

	content := lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render("Rooms"), m.rooms.View())
	if len(m.rooms.Items()) == 0 {
		content = lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render("Rooms"), subtleStyle.Render("  No rooms joined"))
	}

	return style.
		Width(roomsPaneWidth - 2).
		Height(height - 2).
		Render(content)
}

func (m Model) renderMessagesPane(width, height int) string {
	style := paneStyle
	if m.focus != paneRooms {
		style = paneFocusedStyle
	}

	title := "No room open"
	if m.current != 0 {
		title = m.currentTitle()
	}

	content := lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), m.msgView.View())

	return style.
		Width(max(width-2, 10)).
		Height(height - 2).
		Render(content)
}

// currentTitle names the open room from the room list.
func (m Model) currentTitle() string {
	for _, it := range m.rooms.Items() {
		if item, ok := it.(RoomItem); ok && item.Room.ID == m.current {
			return item.Title()
		}
	}
	return RoomItem{Room: chat.ChatRoom{ID: m.current}}.Title()
}

// renderStatus shows the last error, or who is typing in the open room.
func (m Model) renderStatus() string {
	if m.err != nil {
		return errorStyle.Render(iconFailed + " " + m.err.Error())
	}
	return typingStyle.Render(typingLine(m.typing))
}

// typingLine summarizes who is typing.
func typingLine(typists []chat.Typist) string {
	name := func(t chat.Typist) string {
		if t.Name != "" {
			return t.Name
		}
		return t.User.String()
	}

	switch len(typists) {
	case 0:
		return ""
	case 1:
		return name(typists[0]) + " is typing…"
	case 2:
		return name(typists[0]) + " and " + name(typists[1]) + " are typing…"
	default:
		return fmt.Sprintf("%d people are typing…", len(typists))
	}
}
