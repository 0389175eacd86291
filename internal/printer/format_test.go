package printer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"

	"github.com/hay-kot/pgchat/internal/core/chat"
)

var ansi = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func plain(s string) string {
	return ansi.ReplaceAllString(s, "")
}

func TestFormatMessage(t *testing.T) {
	self := chat.Participant{ID: 1, Type: chat.SenderTenant}
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.Local)

	tests := []struct {
		name string
		msg  chat.Message
		want string
	}{
		{
			name: "other sender",
			msg: chat.Message{
				RoomID: 4, Content: "hello", Type: chat.TypeText, CreatedAt: at,
				Sender: chat.Participant{ID: 2, Type: chat.SenderManager}, SenderName: "Front Desk",
				State: chat.StateAcknowledged,
			},
			want: "09:30:00 #4 Front Desk: hello",
		},
		{
			name: "own pending",
			msg:  chat.Message{RoomID: 4, Content: "hi", Type: chat.TypeText, Sender: self, State: chat.StatePending},
			want: "--:--:-- #4 you: hi (sending)",
		},
		{
			name: "failed with reason",
			msg:  chat.Message{RoomID: 4, Content: "hi", Type: chat.TypeText, Sender: self, State: chat.StateFailed, Error: "room closed"},
			want: "--:--:-- #4 you: hi ✘ failed: room closed",
		},
		{
			name: "unnamed sender",
			msg:  chat.Message{RoomID: 9, Content: "x", Type: chat.TypeText, Sender: chat.Participant{ID: 3, Type: chat.SenderTenant}, CreatedAt: at},
			want: "09:30:00 #9 TENANT:3: x",
		},
		{
			name: "voice note",
			msg: chat.Message{
				RoomID: 4, Type: chat.TypeVoice, MediaURL: "https://cdn/v.ogg", Duration: 12, CreatedAt: at,
				Sender: chat.Participant{ID: 2, Type: chat.SenderManager}, SenderName: "Mo",
			},
			want: "09:30:00 #4 Mo: [voice] https://cdn/v.ogg (12s)",
		},
		{
			name: "reactions",
			msg: chat.Message{
				RoomID: 4, Content: "party", Type: chat.TypeText, CreatedAt: at, SenderName: "Mo",
				Sender:    chat.Participant{ID: 2, Type: chat.SenderManager},
				Reactions: []chat.Reaction{{Emoji: "🎉", Count: 2}, {Emoji: "👍", Count: 0}},
			},
			want: "09:30:00 #4 Mo: party 🎉2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, plain(FormatMessage(tt.msg, self)))
		})
	}
}

func TestFormatEvent(t *testing.T) {
	got := plain(FormatEvent("task_created", json.RawMessage(`{ "id": 7,  "title": "Fix sink" }`)))
	assert.Equal(t, `• task_created {"id":7,"title":"Fix sink"}`, got)

	assert.Equal(t, "• ping", plain(FormatEvent("ping", nil)))
	assert.Equal(t, "• bad {oops", plain(FormatEvent("bad", json.RawMessage(`{oops`))))
}

func TestFormatState(t *testing.T) {
	assert.Equal(t, "• connected", plain(FormatState("connected", 0, 0, nil)))
	assert.Equal(t,
		"• reconnecting (attempt 2, retry in 1.5s): dial: refused",
		plain(FormatState("reconnecting", 2, 1500*time.Millisecond, errors.New("dial: refused"))),
	)
}

func TestFatalError(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)
	p.FatalError(errors.New("boom"))
	assert.Contains(t, plain(buf.String()), "│ boom")
}

func TestFatalError_AuthHint(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)

	p.FatalError(fmt.Errorf("connect: %w", &chat.AuthError{Reason: "token expired"}))
	out := plain(buf.String())
	assert.Contains(t, out, "╭ Authentication Error")
	assert.Contains(t, out, "│ connect: auth: token expired")
	assert.Contains(t, out, "│ "+loginHint)

	buf.Reset()
	p.FatalError(errors.New("boom"))
	assert.NotContains(t, plain(buf.String()), "pgchat login")
}

func TestFatalError_FieldErrors(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)

	err := fmt.Errorf("load config: %w", criterio.NewFieldErrors("server.url", errors.New("missing host")))
	p.FatalError(err)

	out := plain(buf.String())
	assert.Contains(t, out, "Validation Error")
	assert.Contains(t, out, "│ load config")
	assert.Contains(t, out, "✘ server.url: missing host")
}
