package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/realtime/roomstate"
	"github.com/hay-kot/pgchat/internal/realtime/sendpipe"
	"github.com/hay-kot/pgchat/internal/realtime/transport"
)

const (
	waitFor = 2 * time.Second
	poll    = 5 * time.Millisecond
)

var (
	self  = chat.Participant{ID: 1, Type: chat.SenderTenant}
	other = chat.Participant{ID: 2, Type: chat.SenderTenant}
	t0    = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
)

type serverConn struct {
	inbound chan []byte
	fault   chan error
	written chan []byte
}

func newServerConn() *serverConn {
	return &serverConn{
		inbound: make(chan []byte, 16),
		fault:   make(chan error, 1),
		written: make(chan []byte, 64),
	}
}

func (s *serverConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-s.inbound:
		return data, nil
	case err := <-s.fault:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *serverConn) Write(_ context.Context, data []byte) error {
	s.written <- data
	return nil
}

func (s *serverConn) Ping(context.Context) error { return nil }
func (s *serverConn) Close() error                { return nil }

func (s *serverConn) push(t *testing.T, name string, payload any) {
	t.Helper()
	data, err := chat.Frame(name, payload)
	require.NoError(t, err)
	s.inbound <- data
}

func (s *serverConn) next(t *testing.T) chat.Envelope {
	t.Helper()
	select {
	case data := <-s.written:
		var env chat.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for outbound frame")
		return chat.Envelope{}
	}
}

func (s *serverConn) quiet(t *testing.T) {
	t.Helper()
	select {
	case data := <-s.written:
		t.Fatalf("unexpected frame %s", data)
	case <-time.After(30 * time.Millisecond):
	}
}

type serverDialer struct {
	mu    sync.Mutex
	conns []*serverConn
}

func (d *serverDialer) add(c *serverConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, c)
}

func (d *serverDialer) Dial(context.Context, chat.Credential) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestClient(t *testing.T, d transport.Dialer, token string) (*Client, *testClock) {
	t.Helper()
	clock := &testClock{now: t0}
	var n atomic.Int64

	c := New(d, transport.StaticToken(token), Options{
		Self:     self,
		SelfName: "Me",
		Transport: transport.Options{
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			MaxAttempts:  5,
		},
		TypingExpiry:  5 * time.Second,
		SweepInterval: 10 * time.Millisecond,
		Now:           clock.Now,
		NewID:         func() string { return fmt.Sprintf("c%d", n.Add(1)) },
	}, zerolog.Nop())
	t.Cleanup(c.Close)
	return c, clock
}

func waitState(t *testing.T, c *Client, want transport.State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State().State == want }, waitFor, poll)
}

func roomMessages(c *Client, id chat.RoomID) []chat.Message {
	snap, _ := c.Snapshot(id)
	return snap.Messages
}

func wireMessage(id chat.MessageID, from chat.Participant, at time.Time) map[string]any {
	return map[string]any{
		"id":        id,
		"roomId":    3,
		"content":   "hello",
		"type":      "TEXT",
		"sender":    from,
		"createdAt": at,
	}
}

func TestClient_ConnectWithoutCredential(t *testing.T) {
	c, _ := newTestClient(t, &serverDialer{}, "")
	err := c.Connect(context.Background())
	assert.True(t, chat.IsAuth(err))
	assert.Equal(t, transport.StateDisconnected, c.State().State)
}

// A message sent while offline is emitted once after connecting and
// reconciles to exactly one authoritative message.
func TestClient_OfflineSendThenReconnect(t *testing.T) {
	conn := newServerConn()
	d := &serverDialer{}
	d.add(conn)
	c, _ := newTestClient(t, d, "tok")

	require.NoError(t, c.Join(3))
	corr, err := c.Send(sendpipe.Request{RoomID: 3, Content: "A"})
	require.NoError(t, err)
	assert.Equal(t, "c1", corr)

	require.Eventually(t, func() bool { return len(roomMessages(c, 3)) == 1 }, waitFor, poll)
	assert.Equal(t, chat.StatePending, roomMessages(c, 3)[0].State)

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, c, transport.StateConnected)

	assert.Equal(t, chat.IntentJoinRoom, conn.next(t).Event)
	env := conn.next(t)
	require.Equal(t, chat.IntentSendMessage, env.Event)
	var sent chat.SendMessage
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.Equal(t, "c1", sent.CorrelationID)
	conn.quiet(t)

	ack := map[string]any{"correlationId": "c1", "message": wireMessage(42, self, t0)}
	conn.push(t, chat.EventMessageSent, ack)
	conn.push(t, chat.EventMessageSent, ack)
	conn.push(t, chat.EventNewMessage, wireMessage(42, self, t0))

	require.Eventually(t, func() bool {
		msgs := roomMessages(c, 3)
		return len(msgs) == 1 && msgs[0].ID == 42
	}, waitFor, poll)

	time.Sleep(20 * time.Millisecond)
	msgs := roomMessages(c, 3)
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.StateAcknowledged, msgs[0].State)
}

func TestClient_ReconnectReplaysJoinsAndPending(t *testing.T) {
	first, second := newServerConn(), newServerConn()
	d := &serverDialer{}
	d.add(first)
	d.add(second)
	c, _ := newTestClient(t, d, "tok")

	var (
		mu     sync.Mutex
		cycles []uint64
	)
	c.OnState(func(sc transport.StateChange) {
		if sc.State == transport.StateConnected {
			mu.Lock()
			cycles = append(cycles, sc.Cycle)
			mu.Unlock()
		}
	})

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, c, transport.StateConnected)

	require.NoError(t, c.Join(3))
	require.NoError(t, c.Join(4))
	require.NoError(t, c.Join(3))
	assert.Equal(t, chat.IntentJoinRoom, first.next(t).Event)
	assert.Equal(t, chat.IntentJoinRoom, first.next(t).Event)

	_, err := c.Send(sendpipe.Request{RoomID: 3, Content: "unacked"})
	require.NoError(t, err)
	assert.Equal(t, chat.IntentSendMessage, first.next(t).Event)
	first.quiet(t)

	first.fault <- errors.New("EOF")

	var got []string
	for range 3 {
		env := second.next(t)
		got = append(got, env.Event+":"+string(env.Data))
	}
	assert.Equal(t, `join_room:{"roomId":3}`, got[0])
	assert.Equal(t, `join_room:{"roomId":4}`, got[1])
	assert.Contains(t, got[2], `"correlationId":"c1"`)
	second.quiet(t)

	assert.Equal(t, []chat.RoomID{3, 4}, c.Joined())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(cycles) == 2
	}, waitFor, poll)
	mu.Lock()
	assert.Equal(t, []uint64{1, 2}, cycles)
	mu.Unlock()
}

func TestClient_DuplicateNewMessage(t *testing.T) {
	conn := newServerConn()
	d := &serverDialer{}
	d.add(conn)
	c, _ := newTestClient(t, d, "tok")

	var delivered atomic.Int32
	c.OnMessage(func(chat.Message) { delivered.Add(1) })

	var (
		mu   sync.Mutex
		errs []error
	)
	c.OnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, c, transport.StateConnected)

	conn.push(t, chat.EventNewMessage, wireMessage(10, other, t0))
	conn.push(t, chat.EventNewMessage, wireMessage(10, other, t0))
	conn.push(t, chat.EventError, map[string]any{"message": "sync point"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) == 1
	}, waitFor, poll)

	msgs := roomMessages(c, 3)
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.MessageID(10), msgs[0].ID)
	assert.Equal(t, int32(1), delivered.Load())

	snap, _ := c.Snapshot(3)
	assert.Equal(t, 1, snap.Room.UnreadCount)
}

func TestClient_ReactionUpdateIdempotent(t *testing.T) {
	conn := newServerConn()
	d := &serverDialer{}
	d.add(conn)
	c, _ := newTestClient(t, d, "tok")

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, c, transport.StateConnected)

	conn.push(t, chat.EventNewMessage, wireMessage(5, other, t0))
	update := map[string]any{
		"messageId": 5,
		"reactions": []map[string]any{{"emoji": "👍", "count": 3, "userReacted": true}},
	}
	conn.push(t, chat.EventReactionUpdate, update)
	conn.push(t, chat.EventReactionUpdate, update)

	require.Eventually(t, func() bool {
		msgs := roomMessages(c, 3)
		return len(msgs) == 1 && len(msgs[0].Reactions) == 1
	}, waitFor, poll)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, roomMessages(c, 3)[0].Reactions[0].Count)

	require.NoError(t, c.React(5, "👍"))
	env := conn.next(t)
	assert.Equal(t, chat.IntentToggleReaction, env.Event)
}

func TestClient_ReactKeepsIntentOrder(t *testing.T) {
	conn := newServerConn()
	d := &serverDialer{}
	d.add(conn)
	c, _ := newTestClient(t, d, "tok")

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, c, transport.StateConnected)

	require.NoError(t, c.Join(4))
	require.NoError(t, c.React(5, "👍"))

	assert.Equal(t, chat.IntentJoinRoom, conn.next(t).Event)
	assert.Equal(t, chat.IntentToggleReaction, conn.next(t).Event)
}

func TestClient_DisconnectThenReconnectReplaysJoins(t *testing.T) {
	first, second := newServerConn(), newServerConn()
	d := &serverDialer{}
	d.add(first)
	d.add(second)
	c, _ := newTestClient(t, d, "tok")

	require.NoError(t, c.Join(4))
	require.NoError(t, c.Connect(context.Background()))
	waitState(t, c, transport.StateConnected)
	assert.Equal(t, chat.IntentJoinRoom, first.next(t).Event)

	c.Disconnect()
	require.NoError(t, c.Connect(context.Background()))

	env := second.next(t)
	assert.Equal(t, chat.IntentJoinRoom, env.Event)
	assert.JSONEq(t, `{"roomId":4}`, string(env.Data))
	first.quiet(t)
	assert.Equal(t, uint64(2), c.State().Cycle)
}

func TestClient_ReactOfflineReportsError(t *testing.T) {
	c, _ := newTestClient(t, &serverDialer{}, "tok")

	errs := make(chan error, 1)
	c.OnError(func(err error) { errs <- err })

	require.NoError(t, c.React(5, "👍"), "intents never fail synchronously")
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, chat.ErrNotConnected)
	case <-time.After(waitFor):
		t.Fatal("no error reported")
	}
}

func TestClient_TypingExpires(t *testing.T) {
	conn := newServerConn()
	d := &serverDialer{}
	d.add(conn)
	c, clock := newTestClient(t, d, "tok")

	var updates atomic.Int32
	c.OnRoom(3, func(roomstate.Snapshot) { updates.Add(1) })

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, c, transport.StateConnected)

	conn.push(t, chat.EventUserTyping, map[string]any{"roomId": 3, "user": other, "name": "X"})
	require.Eventually(t, func() bool {
		snap, _ := c.Snapshot(3)
		return len(snap.Typing) == 1
	}, waitFor, poll)

	clock.Advance(6 * time.Second)
	require.Eventually(t, func() bool {
		snap, ok := c.Snapshot(3)
		return ok && len(snap.Typing) == 0
	}, waitFor, poll, "typing cleared without a stop event")
	assert.GreaterOrEqual(t, updates.Load(), int32(2))
}

func TestClient_FocusMarksRead(t *testing.T) {
	conn := newServerConn()
	d := &serverDialer{}
	d.add(conn)
	c, _ := newTestClient(t, d, "tok")

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, c, transport.StateConnected)

	conn.push(t, chat.EventNewMessage, wireMessage(1, other, t0))
	conn.push(t, chat.EventNewMessage, wireMessage(2, other, t0.Add(time.Second)))
	require.Eventually(t, func() bool {
		snap, _ := c.Snapshot(3)
		return snap.Room.UnreadCount == 2
	}, waitFor, poll)

	require.NoError(t, c.Focus(3))
	env := conn.next(t)
	require.Equal(t, chat.IntentMarkRead, env.Event)
	assert.JSONEq(t, `{"roomId":3,"messageIds":[1,2]}`, string(env.Data))

	require.Eventually(t, func() bool {
		snap, _ := c.Snapshot(3)
		return snap.Room.UnreadCount == 0 && snap.Focused
	}, waitFor, poll)

	conn.push(t, chat.EventNewMessage, wireMessage(3, other, t0.Add(2*time.Second)))
	require.Eventually(t, func() bool { return len(roomMessages(c, 3)) == 3 }, waitFor, poll)
	snap, _ := c.Snapshot(3)
	assert.Equal(t, 0, snap.Room.UnreadCount, "focused room does not accumulate")
}

func TestClient_DomainEvents(t *testing.T) {
	conn := newServerConn()
	d := &serverDialer{}
	d.add(conn)
	c, _ := newTestClient(t, d, "tok")

	got := make(chan string, 4)
	c.Subscribe("task_updated", func(ev chat.DomainEvent) { got <- "first:" + ev.Name })
	c.Subscribe("task_updated", func(ev chat.DomainEvent) { got <- "second:" + ev.Name })

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, c, transport.StateConnected)

	conn.push(t, "task_updated", map[string]any{"taskId": 1})
	assert.Equal(t, "first:task_updated", <-got)
	assert.Equal(t, "second:task_updated", <-got)

	c.Unsubscribe("task_updated")
	conn.push(t, "task_updated", map[string]any{"taskId": 2})
	conn.push(t, chat.EventError, map[string]any{"message": "sync"})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, got)
}

func TestClient_RejectedThenResend(t *testing.T) {
	conn := newServerConn()
	d := &serverDialer{}
	d.add(conn)
	c, _ := newTestClient(t, d, "tok")

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, c, transport.StateConnected)

	corr, err := c.Send(sendpipe.Request{RoomID: 3, Content: "hi"})
	require.NoError(t, err)
	conn.next(t)

	conn.push(t, chat.EventMessageError, map[string]any{"correlationId": corr, "error": "muted"})
	require.Eventually(t, func() bool {
		msgs := roomMessages(c, 3)
		return len(msgs) == 1 && msgs[0].State == chat.StateFailed
	}, waitFor, poll)

	require.NoError(t, c.Resend(3, corr))
	env := conn.next(t)
	var sent chat.SendMessage
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.NotEqual(t, corr, sent.CorrelationID)

	require.Eventually(t, func() bool {
		msgs := roomMessages(c, 3)
		return len(msgs) == 1 && msgs[0].State == chat.StatePending
	}, waitFor, poll)
}

func TestClient_SendValidation(t *testing.T) {
	c, _ := newTestClient(t, &serverDialer{}, "tok")
	_, err := c.Send(sendpipe.Request{RoomID: 3})
	assert.Error(t, err)
}

func TestClient_ClosedRejectsWork(t *testing.T) {
	c, _ := newTestClient(t, &serverDialer{}, "tok")
	c.Close()
	c.Close()

	assert.ErrorIs(t, c.Join(3), chat.ErrClosed)
	assert.ErrorIs(t, c.Connect(context.Background()), chat.ErrClosed)
}
