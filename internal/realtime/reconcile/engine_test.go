package reconcile

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/realtime/broadcast"
	"github.com/hay-kot/pgchat/internal/realtime/presence"
	"github.com/hay-kot/pgchat/internal/realtime/roomstate"
	"github.com/hay-kot/pgchat/internal/realtime/sendpipe"
)

var (
	self  = chat.Participant{ID: 1, Type: chat.SenderTenant}
	other = chat.Participant{ID: 2, Type: chat.SenderTenant}
	t0    = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
)

type fixture struct {
	engine   *Engine
	store    *roomstate.Store
	pipeline *sendpipe.Pipeline
	presence *presence.Tracker
	bus      *broadcast.Bus
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: t0}
	clock := func() time.Time { return f.now }

	f.store = roomstate.New(self)
	f.pipeline = sendpipe.New(f.store, sendpipe.Options{
		Self:           self,
		PendingTimeout: 10 * time.Second,
		Now:            clock,
		NewID:          func() string { return "c1" },
	}, zerolog.Nop())
	f.presence = presence.New(self, 0, 5*time.Second)
	f.bus = broadcast.New()
	f.engine = New(f.store, f.pipeline, f.presence, f.bus, clock, zerolog.Nop())
	return f
}

func msg(id chat.MessageID, from chat.Participant) chat.Message {
	return chat.Message{ID: id, RoomID: 3, Content: "hi", Type: chat.TypeText, Sender: from, CreatedAt: t0.Add(time.Duration(id) * time.Second)}
}

func (f *fixture) messages(t *testing.T) []chat.Message {
	t.Helper()
	snap, ok := f.store.Snapshot(3)
	require.True(t, ok)
	return snap.Messages
}

func TestEngine_DuplicateNewMessage(t *testing.T) {
	f := newFixture(t)

	res := f.engine.Apply(chat.NewMessage{Message: msg(10, other)})
	assert.Equal(t, []chat.RoomID{3}, res.Rooms)

	res = f.engine.Apply(chat.NewMessage{Message: msg(10, other)})
	assert.Empty(t, res.Rooms)

	msgs := f.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.MessageID(10), msgs[0].ID)
}

func TestEngine_OutOfOrderArrivalSorted(t *testing.T) {
	f := newFixture(t)
	f.engine.Apply(chat.NewMessage{Message: msg(12, other)})
	f.engine.Apply(chat.NewMessage{Message: msg(10, other)})
	f.engine.Apply(chat.NewMessage{Message: msg(11, other)})

	var ids []chat.MessageID
	for _, m := range f.messages(t) {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []chat.MessageID{10, 11, 12}, ids)
}

func TestEngine_ReactionUpdateIdempotent(t *testing.T) {
	f := newFixture(t)
	f.engine.Apply(chat.NewMessage{Message: msg(5, other)})

	ev := chat.ReactionUpdate{MessageID: 5, Reactions: []chat.Reaction{{Emoji: "👍", Count: 3, UserReacted: true}}}
	for range 2 {
		f.engine.Apply(ev)
		msgs := f.messages(t)
		require.Len(t, msgs[0].Reactions, 1)
		assert.Equal(t, 3, msgs[0].Reactions[0].Count)
		assert.True(t, msgs[0].Reactions[0].UserReacted)
	}

	res := f.engine.Apply(chat.ReactionUpdate{MessageID: 99})
	assert.Empty(t, res.Rooms, "unknown message dropped")
}

func TestEngine_BroadcastBeforeAck(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.pipeline.Send(sendpipe.Request{RoomID: 3, Content: "hi"}, sendpipe.Link{Connected: true, Cycle: 1})
	require.NoError(t, err)

	own := msg(42, self)
	own.CorrelationID = "c1"
	f.engine.Apply(chat.NewMessage{Message: own})
	f.engine.Apply(chat.MessageSent{CorrelationID: "c1", Message: own})
	f.engine.Apply(chat.MessageSent{CorrelationID: "c1", Message: own})

	msgs := f.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.MessageID(42), msgs[0].ID)
	assert.Equal(t, chat.StateAcknowledged, msgs[0].State)
}

func TestEngine_AckThenBroadcastWithoutCorrelation(t *testing.T) {
	f := newFixture(t)
	_, _, _ = f.pipeline.Send(sendpipe.Request{RoomID: 3, Content: "hi"}, sendpipe.Link{Connected: true, Cycle: 1})

	f.engine.Apply(chat.MessageSent{CorrelationID: "c1", Message: msg(42, self)})
	f.engine.Apply(chat.NewMessage{Message: msg(42, self)})

	assert.Len(t, f.messages(t), 1)
}

func TestEngine_BroadcastAfterTimeoutSettlesFailed(t *testing.T) {
	f := newFixture(t)
	_, _, _ = f.pipeline.Send(sendpipe.Request{RoomID: 3, Content: "hi"}, sendpipe.Link{Connected: true, Cycle: 1})

	f.now = f.now.Add(11 * time.Second)
	require.Equal(t, []chat.RoomID{3}, f.pipeline.Expire(f.now))
	require.Equal(t, chat.StateFailed, f.messages(t)[0].State)

	own := msg(42, self)
	own.CorrelationID = "c1"
	res := f.engine.Apply(chat.NewMessage{Message: own})
	assert.Equal(t, []chat.RoomID{3}, res.Rooms)

	f.engine.Apply(chat.MessageSent{CorrelationID: "c1", Message: own})

	msgs := f.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.MessageID(42), msgs[0].ID)
	assert.Equal(t, chat.StateAcknowledged, msgs[0].State)
	assert.Empty(t, msgs[0].Error)
}

func TestEngine_MessageError(t *testing.T) {
	f := newFixture(t)
	_, _, _ = f.pipeline.Send(sendpipe.Request{RoomID: 3, Content: "hi"}, sendpipe.Link{Connected: true, Cycle: 1})

	res := f.engine.Apply(chat.MessageError{CorrelationID: "c1", Error: "blocked"})
	assert.Equal(t, []chat.RoomID{3}, res.Rooms)
	assert.NoError(t, res.Err, "message faults are per-message state")

	msgs := f.messages(t)
	assert.Equal(t, chat.StateFailed, msgs[0].State)
	assert.Equal(t, "blocked", msgs[0].Error)
}

func TestEngine_ReadReceiptsNeverRaiseUnread(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 4; i++ {
		f.engine.Apply(chat.NewMessage{Message: msg(chat.MessageID(i), other)})
	}

	unread := func() int {
		snap, _ := f.store.Snapshot(3)
		return snap.Room.UnreadCount
	}
	require.Equal(t, 4, unread())

	f.engine.Apply(chat.MessagesRead{Receipt: chat.ReadReceipt{RoomID: 3, MessageIDs: []chat.MessageID{2}, Reader: self}})
	assert.Equal(t, 2, unread())
	f.engine.Apply(chat.MessagesRead{Receipt: chat.ReadReceipt{RoomID: 3, MessageIDs: []chat.MessageID{1}, Reader: self}})
	assert.Equal(t, 2, unread())
	f.engine.Apply(chat.MessagesRead{Receipt: chat.ReadReceipt{RoomID: 3, MessageIDs: []chat.MessageID{4}, Reader: self}})
	assert.Equal(t, 0, unread())
}

func TestEngine_TypingClearedByMessage(t *testing.T) {
	f := newFixture(t)

	res := f.engine.Apply(chat.UserTyping{RoomID: 3, User: other, Name: "Ravi"})
	assert.Equal(t, []chat.RoomID{3}, res.Rooms)
	assert.Len(t, f.presence.Active(3, f.now), 1)

	f.engine.Apply(chat.NewMessage{Message: msg(1, other)})
	assert.Empty(t, f.presence.Active(3, f.now))
}

func TestEngine_DomainEventsPublished(t *testing.T) {
	f := newFixture(t)
	var got []string
	f.bus.Subscribe("task_updated", func(ev chat.DomainEvent) { got = append(got, ev.Name) })

	res := f.engine.Apply(chat.DomainEvent{Name: "task_updated", Payload: json.RawMessage(`{}`)})
	assert.Empty(t, res.Rooms)
	f.engine.Apply(chat.DomainEvent{Name: "nobody_listens", Payload: json.RawMessage(`{}`)})

	assert.Equal(t, []string{"task_updated"}, got)
}

func TestEngine_FaultsDoNotMutate(t *testing.T) {
	f := newFixture(t)

	res := f.engine.Apply(chat.Decode([]byte(`not json`)))
	assert.Empty(t, res.Rooms)
	assert.NoError(t, res.Err, "malformed events are dropped")

	res = f.engine.Apply(chat.ServerError{Message: "overloaded"})
	assert.ErrorContains(t, res.Err, "overloaded")

	res = f.engine.Apply(chat.AuthFailure{Message: "expired"})
	assert.True(t, chat.IsAuth(res.Err))

	assert.Empty(t, f.store.RoomIDs())
}
