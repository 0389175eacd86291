package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/styles"
)

// MessagesView is a compact renderer for one room's timeline, oldest at the
// top. Each message takes one line:
// time sender: body  state reactions
//
// The cursor sticks to the newest message until the user moves it.
type MessagesView struct {
	messages   []chat.Message
	self       chat.Participant
	cursor     int
	width      int
	height     int
	offset     int // scroll offset for viewport
	filtering  bool
	filter     string
	filterBuf  strings.Builder
	filteredAt []int // indices of messages matching filter
}

// NewMessagesView creates a new messages view.
func NewMessagesView(self chat.Participant) *MessagesView {
	return &MessagesView{
		self:       self,
		filteredAt: make([]int, 0),
	}
}

// SetMessages replaces the timeline. A cursor on the newest message follows
// new arrivals; otherwise it stays on the same message.
func (v *MessagesView) SetMessages(msgs []chat.Message) {
	follow := len(v.filteredAt) == 0 || v.cursor >= len(v.filteredAt)-1
	var key string
	if sel := v.SelectedMessage(); sel != nil {
		key = sel.Key()
	}

	v.messages = msgs
	v.applyFilter()

	switch {
	case len(v.filteredAt) == 0:
		v.cursor = 0
	case follow:
		v.cursor = len(v.filteredAt) - 1
	default:
		v.cursor = min(v.cursor, len(v.filteredAt)-1)
		for i, idx := range v.filteredAt {
			if v.messages[idx].Key() == key || (key != "" && v.messages[idx].CorrelationID == key) {
				v.cursor = i
				break
			}
		}
	}
	v.clampOffset()
}

// Reset clears the timeline and filter, used when switching rooms.
func (v *MessagesView) Reset() {
	v.messages = nil
	v.cursor = 0
	v.offset = 0
	v.filtering = false
	v.filter = ""
	v.filterBuf.Reset()
	v.filteredAt = v.filteredAt[:0]
}

// SetSize sets the viewport dimensions.
func (v *MessagesView) SetSize(width, height int) {
	v.width = width
	v.height = height
	v.clampOffset()
}

// visibleLines returns the number of visible message lines.
func (v *MessagesView) visibleLines() int {
	reserved := 0
	if v.filtering || v.filter != "" {
		reserved++
	}
	return max(v.height-reserved, 1)
}

// clampOffset ensures the offset keeps the cursor visible.
func (v *MessagesView) clampOffset() {
	visible := v.visibleLines()
	total := len(v.filteredAt)

	if v.cursor < v.offset {
		v.offset = v.cursor
	} else if v.cursor >= v.offset+visible {
		v.offset = v.cursor - visible + 1
	}

	maxOffset := max(total-visible, 0)
	v.offset = min(max(v.offset, 0), maxOffset)
}

// MoveUp moves cursor up.
func (v *MessagesView) MoveUp() {
	if v.cursor > 0 {
		v.cursor--
		v.clampOffset()
	}
}

// MoveDown moves cursor down.
func (v *MessagesView) MoveDown() {
	if v.cursor < len(v.filteredAt)-1 {
		v.cursor++
		v.clampOffset()
	}
}

// MoveTop moves the cursor to the oldest message.
func (v *MessagesView) MoveTop() {
	v.cursor = 0
	v.clampOffset()
}

// MoveBottom moves the cursor to the newest message.
func (v *MessagesView) MoveBottom() {
	v.cursor = max(len(v.filteredAt)-1, 0)
	v.clampOffset()
}

// SelectedMessage returns the currently selected message, or nil if none.
func (v *MessagesView) SelectedMessage() *chat.Message {
	if len(v.filteredAt) == 0 || v.cursor >= len(v.filteredAt) {
		return nil
	}
	idx := v.filteredAt[v.cursor]
	if idx >= len(v.messages) {
		return nil
	}
	return &v.messages[idx]
}

// StartFilter begins filter input mode.
func (v *MessagesView) StartFilter() {
	v.filtering = true
	v.filterBuf.Reset()
}

// CancelFilter cancels filtering and clears the filter.
func (v *MessagesView) CancelFilter() {
	v.filtering = false
	v.filter = ""
	v.filterBuf.Reset()
	v.applyFilter()
	v.MoveBottom()
}

// IsFiltering returns true if filter input is active.
func (v *MessagesView) IsFiltering() bool {
	return v.filtering
}

// AddFilterRune adds a rune to the filter.
func (v *MessagesView) AddFilterRune(r rune) {
	v.filterBuf.WriteRune(r)
	v.filter = v.filterBuf.String()
	v.applyFilter()
}

// DeleteFilterRune removes the last rune from the filter.
func (v *MessagesView) DeleteFilterRune() {
	r := []rune(v.filterBuf.String())
	if len(r) == 0 {
		return
	}
	v.filterBuf.Reset()
	v.filterBuf.WriteString(string(r[:len(r)-1]))
	v.filter = v.filterBuf.String()
	v.applyFilter()
}

// ConfirmFilter confirms the filter and exits filter mode.
func (v *MessagesView) ConfirmFilter() {
	v.filtering = false
	v.applyFilter()
}

// applyFilter updates filteredAt based on current filter.
func (v *MessagesView) applyFilter() {
	v.filteredAt = v.filteredAt[:0]
	filter := strings.ToLower(v.filter)

	for i := range v.messages {
		if filter == "" || v.matchesFilter(&v.messages[i], filter) {
			v.filteredAt = append(v.filteredAt, i)
		}
	}

	if v.cursor >= len(v.filteredAt) {
		v.cursor = max(len(v.filteredAt)-1, 0)
	}
	v.clampOffset()
}

// matchesFilter checks if a message matches the filter.
func (v *MessagesView) matchesFilter(msg *chat.Message, filter string) bool {
	return strings.Contains(strings.ToLower(msg.Content), filter) ||
		strings.Contains(strings.ToLower(v.senderLabel(msg)), filter)
}

// View renders the messages view.
func (v *MessagesView) View() string {
	var b strings.Builder

	if v.filtering {
		b.WriteString(" ")
		b.WriteString(lipgloss.NewStyle().Foreground(styles.ColorBlue).Bold(true).Render("Filter: "))
		b.WriteString(v.filter)
		b.WriteString("▎")
		b.WriteString("\n")
	} else if v.filter != "" {
		b.WriteString(" ")
		b.WriteString(subtleStyle.Render(fmt.Sprintf("Filter: %s", v.filter)))
		b.WriteString("\n")
	}

	if len(v.filteredAt) == 0 {
		if len(v.messages) == 0 {
			b.WriteString(subtleStyle.Render("  No messages yet"))
		} else {
			b.WriteString(subtleStyle.Render("  No matching messages"))
		}
		return b.String()
	}

	end := min(v.offset+v.visibleLines(), len(v.filteredAt))
	for i := v.offset; i < end; i++ {
		msg := &v.messages[v.filteredAt[i]]
		b.WriteString(v.renderMessageLine(msg, i == v.cursor))
		if i < end-1 {
			b.WriteString("\n")
		}
	}

	return b.String()
}

// senderLabel names the author of msg from the local user's point of view.
func (v *MessagesView) senderLabel(msg *chat.Message) string {
	switch {
	case msg.Sender == v.self:
		return "you"
	case msg.SenderName != "":
		return msg.SenderName
	default:
		return msg.Sender.String()
	}
}

// renderMessageLine renders a single message line in compact format.
func (v *MessagesView) renderMessageLine(msg *chat.Message, selected bool) string {
	var b strings.Builder

	if selected {
		b.WriteString(selectedBorderStyle.Render("┃"))
		b.WriteString(" ")
	} else {
		b.WriteString("  ")
	}

	b.WriteString(subtleStyle.Render(msg.CreatedAt.Local().Format("15:04")))
	b.WriteString(" ")

	sender := truncate(v.senderLabel(msg), 16)
	b.WriteString(lipgloss.NewStyle().Foreground(colorForString(msg.Sender.String())).Bold(true).Render(sender + ":"))
	b.WriteString(" ")

	tail := v.renderTail(msg)
	used := lipgloss.Width(b.String()) + lipgloss.Width(tail) + 1
	width := v.width
	if width <= 0 {
		width = 80
	}

	body := messageBody(msg)
	style := bodyStyle
	if selected {
		style = style.Bold(true)
	}
	if msg.State == chat.StatePending {
		style = pendingStyle
	}
	b.WriteString(style.Render(truncate(body, max(width-used, 8))))

	if tail != "" {
		b.WriteString(" ")
		b.WriteString(tail)
	}

	return b.String()
}

// renderTail renders the delivery state and reactions that follow the body.
func (v *MessagesView) renderTail(msg *chat.Message) string {
	var parts []string

	switch msg.State {
	case chat.StatePending, chat.StateComposed:
		parts = append(parts, pendingStyle.Render(iconPending))
	case chat.StateFailed:
		reason := msg.Error
		if reason == "" {
			reason = "failed"
		}
		parts = append(parts, failedStyle.Render(iconFailed+" "+reason))
	default:
		if msg.Sender == v.self {
			if msg.ReadCount > 0 {
				parts = append(parts, readStyle.Render(iconRead))
			} else {
				parts = append(parts, subtleStyle.Render(iconSent))
			}
		}
	}

	for _, r := range msg.Reactions {
		if r.Count <= 0 {
			continue
		}
		label := fmt.Sprintf("%s%d", r.Emoji, r.Count)
		if r.UserReacted {
			parts = append(parts, selectedStyle.Render(label))
		} else {
			parts = append(parts, subtleStyle.Render(label))
		}
	}

	return strings.Join(parts, " ")
}

// messageBody is the single-line body of a message. Media messages show
// their kind and reference.
func messageBody(msg *chat.Message) string {
	if !msg.Type.HasMedia() {
		return oneLine(msg.Content)
	}
	body := msg.Preview()
	if msg.Type == chat.TypeVoice && msg.Duration > 0 {
		body += fmt.Sprintf(" %ds", msg.Duration)
	}
	if msg.MediaURL != "" {
		body += " " + msg.MediaURL
	}
	if msg.Content != "" {
		body += " " + oneLine(msg.Content)
	}
	return body
}
