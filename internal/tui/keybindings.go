package tui

import (
	"github.com/charmbracelet/bubbles/key"
)

// defaultReactions are offered by the reaction picker, selected by number.
var defaultReactions = []string{"👍", "❤️", "😂", "🎉", "👀", "🙏"}

// keyMap holds every binding the chat TUI understands. Bindings are grouped
// by the pane they apply to.
type keyMap struct {
	Quit      key.Binding
	NextPane  key.Binding
	Back      key.Binding
	OpenRoom  key.Binding
	Send      key.Binding
	Up        key.Binding
	Down      key.Binding
	Top       key.Binding
	Bottom    key.Binding
	Preview   key.Binding
	Resend    key.Binding
	Discard   key.Binding
	React     key.Binding
	MarkRead  key.Binding
	Filter    key.Binding
	Compose   key.Binding
	QuitPlain key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit:      key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
		QuitPlain: key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "quit")),
		NextPane:  key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch pane")),
		Back:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		OpenRoom:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open room")),
		Send:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Top:       key.NewBinding(key.WithKeys("g", "home"), key.WithHelp("g", "oldest")),
		Bottom:    key.NewBinding(key.WithKeys("G", "end"), key.WithHelp("G", "latest")),
		Preview:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "preview")),
		Resend:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "resend")),
		Discard:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "discard")),
		React:     key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "react")),
		MarkRead:  key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "mark read")),
		Filter:    key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "filter")),
		Compose:   key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "compose")),
	}
}

// shortHelp returns the bindings shown in the footer for the focused pane.
func (k keyMap) shortHelp(p pane) []key.Binding {
	switch p {
	case paneRooms:
		return []key.Binding{k.Up, k.Down, k.OpenRoom, k.Filter, k.NextPane, k.QuitPlain}
	case paneMessages:
		return []key.Binding{k.Up, k.Down, k.Preview, k.Resend, k.Discard, k.React, k.MarkRead, k.Filter, k.Compose, k.Back}
	default:
		return []key.Binding{k.Send, k.NextPane, k.Back, k.Quit}
	}
}
