package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_ChatEvents(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, ev Event)
	}{
		{
			name:  "new message",
			frame: `{"event":"new_message","data":{"id":10,"roomId":3,"content":"hi","type":"TEXT","sender":{"id":7,"type":"TENANT"},"senderName":"Asha","createdAt":"2026-03-01T10:00:00Z","readCount":0}}`,
			check: func(t *testing.T, ev Event) {
				nm, ok := ev.(NewMessage)
				require.True(t, ok, "got %T", ev)
				assert.Equal(t, MessageID(10), nm.Message.ID)
				assert.Equal(t, RoomID(3), nm.Message.RoomID)
				assert.Equal(t, Participant{ID: 7, Type: SenderTenant}, nm.Message.Sender)
				assert.True(t, created.Equal(nm.Message.CreatedAt))
			},
		},
		{
			name:  "message sent",
			frame: `{"event":"message_sent","data":{"correlationId":"c1","message":{"id":42,"roomId":3,"content":"a","sender":{"id":1,"type":"TENANT"},"createdAt":"2026-03-01T10:00:00Z"}}}`,
			check: func(t *testing.T, ev Event) {
				ms, ok := ev.(MessageSent)
				require.True(t, ok, "got %T", ev)
				assert.Equal(t, "c1", ms.CorrelationID)
				assert.Equal(t, MessageID(42), ms.Message.ID)
			},
		},
		{
			name:  "message error",
			frame: `{"event":"message_error","data":{"correlationId":"c2","error":"room closed"}}`,
			check: func(t *testing.T, ev Event) {
				me, ok := ev.(MessageError)
				require.True(t, ok, "got %T", ev)
				assert.Equal(t, "room closed", me.Error)
			},
		},
		{
			name:  "messages read",
			frame: `{"event":"messages_read","data":{"roomId":3,"messageIds":[1,2],"reader":{"id":9,"type":"MANAGER"},"readCounts":{"1":4}}}`,
			check: func(t *testing.T, ev Event) {
				mr, ok := ev.(MessagesRead)
				require.True(t, ok, "got %T", ev)
				assert.Equal(t, []MessageID{1, 2}, mr.Receipt.MessageIDs)
				assert.Equal(t, SenderManager, mr.Receipt.Reader.Type)
				assert.Equal(t, 4, mr.Receipt.ReadCounts[1])
			},
		},
		{
			name:  "reaction update",
			frame: `{"event":"reaction_update","data":{"messageId":5,"reactions":[{"emoji":"👍","count":3,"userReacted":true}]}}`,
			check: func(t *testing.T, ev Event) {
				ru, ok := ev.(ReactionUpdate)
				require.True(t, ok, "got %T", ev)
				assert.Equal(t, []Reaction{{Emoji: "👍", Count: 3, UserReacted: true}}, ru.Reactions)
			},
		},
		{
			name:  "server error",
			frame: `{"event":"error","data":{"message":"boom"}}`,
			check: func(t *testing.T, ev Event) {
				assert.Equal(t, ServerError{Message: "boom"}, ev)
			},
		},
		{
			name:  "bare auth error",
			frame: `{"event":"auth_error"}`,
			check: func(t *testing.T, ev Event) {
				assert.IsType(t, AuthFailure{}, ev)
			},
		},
		{
			name:  "typing",
			frame: `{"event":"user_typing","data":{"roomId":3,"user":{"id":4,"type":"TENANT"},"name":"Ravi"}}`,
			check: func(t *testing.T, ev Event) {
				ut, ok := ev.(UserTyping)
				require.True(t, ok, "got %T", ev)
				assert.Equal(t, "Ravi", ut.Name)
			},
		},
		{
			name:  "domain event",
			frame: `{"event":"task_updated","data":{"taskId":12,"status":"done"}}`,
			check: func(t *testing.T, ev Event) {
				de, ok := ev.(DomainEvent)
				require.True(t, ok, "got %T", ev)
				assert.Equal(t, "task_updated", de.EventName())

				var payload struct {
					TaskID int    `json:"taskId"`
					Status string `json:"status"`
				}
				require.NoError(t, de.Decode(&payload))
				assert.Equal(t, 12, payload.TaskID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Decode([]byte(tt.frame)))
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	frames := map[string]string{
		"not json":             `{{{`,
		"missing event":        `{"data":{}}`,
		"new message no id":    `{"event":"new_message","data":{"roomId":3}}`,
		"new message bad type": `{"event":"new_message","data":{"id":1,"roomId":3,"type":"GIF"}}`,
		"sent no correlation":  `{"event":"message_sent","data":{"message":{"id":1,"roomId":3}}}`,
		"read no room":         `{"event":"messages_read","data":{"messageIds":[1]}}`,
		"reaction no message":  `{"event":"reaction_update","data":{"reactions":[]}}`,
		"null payload":         `{"event":"message_error","data":null}`,
		"wrong shape":          `{"event":"reaction_update","data":{"messageId":"five"}}`,
	}

	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			ev := Decode([]byte(frame))
			m, ok := ev.(Malformed)
			require.True(t, ok, "got %T", ev)
			assert.Error(t, m.Err)
		})
	}
}

func TestEncode_SendMessage(t *testing.T) {
	data, err := Encode(SendMessage{RoomID: 3, Content: "hello", Type: TypeText, CorrelationID: "c1"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, IntentSendMessage, env.Event)
	assert.JSONEq(t, `{"roomId":3,"content":"hello","type":"TEXT","correlationId":"c1"}`, string(env.Data))
}

func TestParseMessageType(t *testing.T) {
	got, err := ParseMessageType("")
	require.NoError(t, err)
	assert.Equal(t, TypeText, got)

	got, err = ParseMessageType("voice")
	require.NoError(t, err)
	assert.Equal(t, TypeVoice, got)

	_, err = ParseMessageType("gif")
	assert.Error(t, err)
}
