package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/core/config"
	"github.com/hay-kot/pgchat/pkg/executil"
)

func testMessage() chat.Message {
	return chat.Message{
		ID:         10,
		RoomID:     3,
		Content:    "it's fixed",
		Type:       chat.TypeText,
		Sender:     chat.Participant{ID: 9, Type: chat.SenderManager},
		SenderName: "Ravi",
		CreatedAt:  time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		State:      chat.StateAcknowledged,
	}
}

func TestRunner_RunMessage(t *testing.T) {
	exec := &executil.RecordingExecutor{}
	r := NewRunner(zerolog.Nop(), exec, config.HooksConfig{
		OnMessage: []string{
			"notify-send {{ .SenderName | shq }} {{ .Content | shq }}",
			"echo {{ .RoomID }}/{{ .MessageID }} {{ .SenderType }}",
		},
	}, nil, nil)

	require.True(t, r.HasMessageHooks())
	require.False(t, r.HasEventHooks())
	require.NoError(t, r.RunMessage(context.Background(), testMessage()))

	require.Len(t, exec.Commands, 2)
	assert.Equal(t, "sh", exec.Commands[0].Cmd)
	assert.Equal(t, []string{"-c", `notify-send 'Ravi' 'it'\''s fixed'`}, exec.Commands[0].Args)
	assert.Equal(t, []string{"-c", "echo 3/10 MANAGER"}, exec.Commands[1].Args)
}

func TestRunner_ContinuesAfterFailure(t *testing.T) {
	exec := &executil.RecordingExecutor{Errors: map[string]error{"sh": errors.New("exit status 1")}}
	r := NewRunner(zerolog.Nop(), exec, config.HooksConfig{
		OnMessage: []string{"{{ .Missing }}", "false", "true"},
	}, nil, nil)

	err := r.RunMessage(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "render on_message hook 0")
	assert.Len(t, exec.Commands, 2, "bad template is skipped, the rest still run")
}

func TestRunner_RunEvent(t *testing.T) {
	exec := &executil.RecordingExecutor{}
	r := NewRunner(zerolog.Nop(), exec, config.HooksConfig{
		OnEvent: []string{"echo {{ .Name }} {{ .Payload | shq }}"},
	}, nil, nil)

	ev := chat.DomainEvent{Name: "task_created", Payload: json.RawMessage(`{"id":5}`)}
	require.NoError(t, r.RunEvent(context.Background(), ev))

	require.Len(t, exec.Commands, 1)
	assert.Equal(t, []string{"-c", `echo task_created '{"id":5}'`}, exec.Commands[0].Args)
}

func TestMessageData(t *testing.T) {
	d := MessageData(testMessage())
	assert.Equal(t, int64(3), d.RoomID)
	assert.Equal(t, int64(10), d.MessageID)
	assert.Equal(t, int64(9), d.SenderID)
	assert.Equal(t, "MANAGER", d.SenderType)
	assert.Equal(t, "TEXT", d.Type)
}
