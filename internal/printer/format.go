package printer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hay-kot/pgchat/internal/core/chat"
)

// TimeFormat is the timestamp layout used for message lines.
const TimeFormat = "15:04:05"

// FormatMessage renders a message as a single line. Messages sent by self are
// labelled "you"; pending and failed messages carry their send state.
func FormatMessage(m chat.Message, self chat.Participant) string {
	var b strings.Builder

	ts := m.CreatedAt
	if ts.IsZero() {
		b.WriteString(ColorGray + "--:--:--" + ColorReset)
	} else {
		b.WriteString(ColorGray + ts.Local().Format(TimeFormat) + ColorReset)
	}
	fmt.Fprintf(&b, " %s#%d%s ", ColorGray, m.RoomID, ColorReset)

	b.WriteString(ColorBold + senderLabel(m, self) + ColorReset + ": ")
	b.WriteString(messageBody(m))

	switch m.State {
	case chat.StatePending, chat.StateComposed:
		b.WriteString(" " + ColorYellow + "(sending)" + ColorReset)
	case chat.StateFailed:
		reason := "failed"
		if m.Error != "" {
			reason = "failed: " + m.Error
		}
		b.WriteString(" " + ColorRed + Cross + " " + reason + ColorReset)
	}

	if r := FormatReactions(m.Reactions); r != "" {
		b.WriteString(" " + r)
	}

	return b.String()
}

func senderLabel(m chat.Message, self chat.Participant) string {
	if !self.IsZero() && m.Sender == self {
		return "you"
	}
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.Sender.String()
}

func messageBody(m chat.Message) string {
	if !m.Type.HasMedia() {
		return m.Content
	}
	body := m.Preview()
	if m.MediaURL != "" {
		body += " " + m.MediaURL
	}
	if m.Type == chat.TypeVoice && m.Duration > 0 {
		body += fmt.Sprintf(" (%ds)", m.Duration)
	}
	if m.Content != "" {
		body += " " + m.Content
	}
	return body
}

// FormatReactions renders reaction aggregates as "👍2 🎉1". Reactions with a
// zero count are omitted.
func FormatReactions(reactions []chat.Reaction) string {
	parts := make([]string, 0, len(reactions))
	for _, r := range reactions {
		if r.Count <= 0 {
			continue
		}
		part := fmt.Sprintf("%s%d", r.Emoji, r.Count)
		if r.UserReacted {
			part = ColorBold + part + ColorReset
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " ")
}

// FormatEvent renders a domain event with its compacted JSON payload.
func FormatEvent(name string, payload json.RawMessage) string {
	line := ColorYellow + Dot + " " + name + ColorReset
	if len(payload) == 0 {
		return line
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err != nil {
		return line + " " + string(payload)
	}
	return line + " " + compact.String()
}

// FormatState renders a connection state transition.
func FormatState(state string, attempt int, delay time.Duration, err error) string {
	color := ColorGray
	switch state {
	case "connected":
		color = ColorGreen
	case "reconnecting":
		color = ColorYellow
	case "disconnected":
		if err != nil {
			color = ColorRed
		}
	}

	line := color + Dot + " " + state + ColorReset
	if attempt > 0 {
		line += fmt.Sprintf(" (attempt %d", attempt)
		if delay > 0 {
			line += ", retry in " + delay.Round(time.Millisecond).String()
		}
		line += ")"
	}
	if err != nil {
		line += ": " + ColorGray + err.Error() + ColorReset
	}
	return line
}

// FormatError renders a non-fatal client error.
func FormatError(err error) string {
	return ColorRed + Cross + " " + err.Error() + ColorReset
}
