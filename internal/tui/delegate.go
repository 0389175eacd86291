package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hay-kot/pgchat/internal/core/chat"
)

// RoomItem wraps a room for the list component.
type RoomItem struct {
	Room chat.ChatRoom
}

// FilterValue returns the value used for filtering.
func (i RoomItem) FilterValue() string {
	return i.Room.Name
}

// Title returns the display name, falling back to the room id.
func (i RoomItem) Title() string {
	if i.Room.Name != "" {
		return i.Room.Name
	}
	return fmt.Sprintf("room %d", i.Room.ID)
}

// roomItems converts a room list into list items.
func roomItems(rooms []chat.ChatRoom) []list.Item {
	items := make([]list.Item, len(rooms))
	for i, r := range rooms {
		items[i] = RoomItem{Room: r}
	}
	return items
}

// RoomDelegate renders room items in the list. Current marks the room shown
// in the message pane.
type RoomDelegate struct {
	Current chat.RoomID
}

// Height returns the height of each item.
func (d RoomDelegate) Height() int {
	return 2
}

// Spacing returns the spacing between items.
func (d RoomDelegate) Spacing() int {
	return 1
}

// Update handles item-level messages.
func (d RoomDelegate) Update(tea.Msg, *list.Model) tea.Cmd {
	return nil
}

// Render draws a room as a name line and a preview line.
func (d RoomDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	room, ok := item.(RoomItem)
	if !ok {
		return
	}

	selected := index == m.Index()
	width := m.Width()
	if width <= 0 {
		width = 30
	}

	_, _ = io.WriteString(w, renderRoom(room, selected, room.Room.ID == d.Current, width))
}

func renderRoom(item RoomItem, selected, current bool, width int) string {
	prefix := "  "
	if selected {
		prefix = selectedBorderStyle.Render("┃") + " "
	}

	nameStyle := normalStyle
	if selected || current {
		nameStyle = selectedStyle
	}

	var badges []string
	if item.Room.Pinned {
		badges = append(badges, subtleStyle.Render(iconPin))
	}
	if item.Room.UnreadCount > 0 {
		badges = append(badges, unreadStyle.Render(fmt.Sprintf("(%d)", item.Room.UnreadCount)))
	}

	tail := strings.Join(badges, " ")
	nameWidth := width - 2 - lipgloss.Width(tail) - 1
	name := truncate(item.Title(), nameWidth)
	first := prefix + nameStyle.Render(name)
	if tail != "" {
		first += " " + tail
	}

	preview := item.Room.LastMessage
	if preview == "" {
		preview = strings.ToLower(string(item.Room.Type))
	}
	second := "  " + subtleStyle.Render(truncate(oneLine(preview), width-2))
	if selected {
		second = selectedBorderStyle.Render("┃") + " " + subtleStyle.Render(truncate(oneLine(preview), width-2))
	}

	return first + "\n" + second
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\t", " ")
}
