package tui

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/styles"
)

// Message preview modal layout constants.
const (
	previewModalMaxWidth  = 100 // maximum modal width in columns
	previewModalMaxHeight = 30  // maximum modal height in rows
	previewModalMargin    = 4   // margin from screen edges
	previewModalChrome    = 8   // rows for title, metadata, help, and spacing
	previewModalPadding   = 4   // padding inside content area
	glamourGutter         = 2   // glamour adds gutter space
)

// MessagePreviewModal displays a full message with markdown rendering.
type MessagePreviewModal struct {
	message  chat.Message
	sender   string
	viewport viewport.Model
}

// NewMessagePreviewModal creates a new preview modal for the given message.
func NewMessagePreviewModal(msg chat.Message, sender string, width, height int) MessagePreviewModal {
	modalWidth := max(min(width-previewModalMargin, previewModalMaxWidth), 20)
	modalHeight := max(min(height-previewModalMargin, previewModalMaxHeight), previewModalChrome+1)
	contentHeight := modalHeight - previewModalChrome

	vp := viewport.New(modalWidth-previewModalPadding, contentHeight)
	vp.Style = lipgloss.NewStyle()

	m := MessagePreviewModal{
		message:  msg,
		sender:   sender,
		viewport: vp,
	}
	m.renderContent(modalWidth - previewModalPadding - glamourGutter)

	return m
}

// previewSource is the markdown shown for a message.
func previewSource(msg chat.Message) string {
	if !msg.Type.HasMedia() {
		return msg.Content
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**", strings.ToLower(string(msg.Type)))
	if msg.Duration > 0 {
		fmt.Fprintf(&b, " (%ds)", msg.Duration)
	}
	if msg.MediaURL != "" {
		fmt.Fprintf(&b, "\n\n<%s>", msg.MediaURL)
	}
	if msg.Content != "" {
		b.WriteString("\n\n")
		b.WriteString(msg.Content)
	}
	return b.String()
}

// renderContent renders the message body as markdown.
func (m *MessagePreviewModal) renderContent(width int) {
	source := previewSource(m.message)

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("tokyo-night"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		m.viewport.SetContent(source)
		return
	}

	rendered, err := renderer.Render(source)
	if err != nil {
		m.viewport.SetContent(source)
		return
	}

	content := strings.TrimSpace(rendered)
	content = stripLeadingDecorative(content)
	content = stripTrailingDecorative(content)
	m.viewport.SetContent(content)
}

// ScrollUp scrolls the viewport up.
func (m *MessagePreviewModal) ScrollUp() {
	m.viewport.ScrollUp(1)
}

// ScrollDown scrolls the viewport down.
func (m *MessagePreviewModal) ScrollDown() {
	m.viewport.ScrollDown(1)
}

// View renders the preview modal centered in a width by height area.
func (m MessagePreviewModal) View(width, height int) string {
	modalWidth := max(min(width-previewModalMargin, previewModalMaxWidth), 20)
	modalHeight := max(min(height-previewModalMargin, previewModalMaxHeight), previewModalChrome+1)

	senderStr := previewSenderStyle.Render(m.sender)
	timeStr := previewTimeStyle.Render(m.message.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	metadata := fmt.Sprintf("%s %s %s", senderStr, iconDot, timeStr)

	var details []string
	if m.message.ReadCount > 0 {
		details = append(details, fmt.Sprintf("read by %d", m.message.ReadCount))
	}
	if m.message.State == chat.StateFailed {
		details = append(details, failedStyle.Render(iconFailed+" "+m.message.Error))
	}
	for _, r := range m.message.Reactions {
		details = append(details, fmt.Sprintf("%s %d", r.Emoji, r.Count))
	}
	if len(details) > 0 {
		metadata += "\n" + previewDetailStyle.Render(strings.Join(details, "  "))
	}

	scrollInfo := ""
	if m.viewport.TotalLineCount() > m.viewport.VisibleLineCount() {
		scrollInfo = previewScrollStyle.Render(fmt.Sprintf(" (%.0f%%)", m.viewport.ScrollPercent()*100))
	}

	dividerWidth := modalWidth - previewModalPadding
	content := lipgloss.JoinVertical(
		lipgloss.Left,
		modalTitleStyle.Render("Message"+scrollInfo),
		"",
		metadata,
		previewDividerStyle.Width(dividerWidth).Render(strings.Repeat("─", dividerWidth)),
		m.viewport.View(),
		modalHelpStyle.Render("[↑/↓/j/k] scroll  [enter/esc] close"),
	)

	modal := modalStyle.
		Width(modalWidth).
		Height(modalHeight).
		Render(content)

	return placeModal(modal, width, height)
}

// Preview modal specific styles.
var (
	previewSenderStyle = lipgloss.NewStyle().
				Foreground(styles.ColorGreen)

	previewTimeStyle = lipgloss.NewStyle().
				Foreground(styles.ColorGray)

	previewDetailStyle = lipgloss.NewStyle().
				Foreground(styles.ColorGray).
				Italic(true)

	previewDividerStyle = lipgloss.NewStyle().
				Foreground(colorMuted)

	previewScrollStyle = lipgloss.NewStyle().
				Foreground(styles.ColorGray)
)

// ansiPattern matches ANSI escape sequences.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// isDecorativeLine checks if a line contains only decorative characters
// (horizontal rules, spaces) after stripping ANSI codes.
func isDecorativeLine(line string) bool {
	stripped := strings.TrimSpace(ansiPattern.ReplaceAllString(line, ""))
	if stripped == "" {
		return true
	}
	for _, r := range stripped {
		if r != '─' && r != '━' && r != '-' && r != '=' {
			return false
		}
	}
	return true
}

// stripLeadingDecorative removes leading decorative lines from content.
func stripLeadingDecorative(content string) string {
	lines := strings.Split(content, "\n")
	start := 0
	for start < len(lines) && isDecorativeLine(lines[start]) {
		start++
	}
	if start > 0 {
		return strings.Join(lines[start:], "\n")
	}
	return content
}

// stripTrailingDecorative removes trailing decorative lines from content.
func stripTrailingDecorative(content string) string {
	lines := strings.Split(content, "\n")
	end := len(lines)
	for end > 0 && isDecorativeLine(lines[end-1]) {
		end--
	}
	if end < len(lines) {
		return strings.Join(lines[:end], "\n")
	}
	return content
}
