package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/hay-kot/pgchat/internal/core/chat"
)

// chatServer is a minimal in-process server: it checks the token, echoes a
// new_message for every join_room it receives, and can be told to close the
// session with a given status.
func chatServer(t *testing.T, token string, closeWith websocket.StatusCode) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != token || r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()

		ctx := r.Context()
		if closeWith != 0 {
			_ = ws.Close(closeWith, "token expired")
			return
		}

		for {
			var env chat.Envelope
			if err := wsjson.Read(ctx, ws, &env); err != nil {
				return
			}
			if env.Event != chat.IntentJoinRoom {
				continue
			}
			var join chat.JoinRoom
			if err := json.Unmarshal(env.Data, &join); err != nil {
				continue
			}
			reply := map[string]any{
				"event": chat.EventNewMessage,
				"data": map[string]any{
					"id":        100,
					"roomId":    join.RoomID,
					"content":   "welcome",
					"type":      "TEXT",
					"sender":    map[string]any{"id": 9, "type": "MANAGER"},
					"createdAt": time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
				},
			}
			if err := wsjson.Write(ctx, ws, reply); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocket_RoundTrip(t *testing.T) {
	srv := chatServer(t, "tok", 0)
	defer srv.Close()

	rec := newRecorder()
	opts := testOptions()
	opts.HeartbeatInterval = 50 * time.Millisecond
	c := New(WebSocketDialer{URL: wsURL(srv)}, StaticToken("tok"), rec, opts, zerolog.Nop())

	require.NoError(t, c.Connect(context.Background()))
	rec.expect(t, StateConnecting, StateAuthenticated, StateConnected)

	require.NoError(t, c.Send(0, chat.JoinRoom{RoomID: 3}))

	select {
	case ev := <-rec.events:
		nm, ok := ev.(chat.NewMessage)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, chat.RoomID(3), nm.Message.RoomID)
		assert.Equal(t, chat.MessageID(100), nm.Message.ID)
	case <-time.After(waitFor):
		t.Fatal("no reply from server")
	}

	c.Disconnect()
	rec.expect(t, StateDisconnected)
}

func TestWebSocket_HandshakeUnauthorized(t *testing.T) {
	srv := chatServer(t, "tok", 0)
	defer srv.Close()

	_, err := WebSocketDialer{URL: wsURL(srv)}.Dial(context.Background(), chat.Credential{Token: "wrong"})
	require.Error(t, err)
	assert.True(t, chat.IsAuth(err))
}

func TestWebSocket_AuthCloseStatus(t *testing.T) {
	srv := chatServer(t, "tok", StatusUnauthorized)
	defer srv.Close()

	rec := newRecorder()
	c := New(WebSocketDialer{URL: wsURL(srv)}, StaticToken("tok"), rec, testOptions(), zerolog.Nop())

	require.NoError(t, c.Connect(context.Background()))
	rec.expect(t, StateConnecting, StateAuthenticated, StateConnected)

	sc := rec.expect(t, StateDisconnected)
	assert.True(t, chat.IsAuth(sc.Err), "got %v", sc.Err)
}

func TestWebSocket_ServerDown(t *testing.T) {
	srv := chatServer(t, "tok", 0)
	url := wsURL(srv)
	srv.Close()

	_, err := WebSocketDialer{URL: url}.Dial(context.Background(), chat.Credential{Token: "tok"})
	var netErr *chat.NetworkError
	assert.ErrorAs(t, err, &netErr)
}
