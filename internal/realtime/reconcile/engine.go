// Package reconcile applies inbound server events to room-local state.
package reconcile

import (
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/realtime/broadcast"
	"github.com/hay-kot/pgchat/internal/realtime/presence"
	"github.com/hay-kot/pgchat/internal/realtime/roomstate"
	"github.com/hay-kot/pgchat/internal/realtime/sendpipe"
)

// Result describes the effect of one event.
type Result struct {
	// Rooms whose observable state changed, sorted.
	Rooms []chat.RoomID
	// Err is a channel-level fault to surface to observers, if any.
	Err error
}

func (r *Result) touch(id chat.RoomID) {
	if !slices.Contains(r.Rooms, id) {
		r.Rooms = append(r.Rooms, id)
	}
}

// Engine is not safe for concurrent use. Apply must be called from a single
// goroutine, in arrival order.
type Engine struct {
	store    *roomstate.Store
	pipeline *sendpipe.Pipeline
	presence *presence.Tracker
	bus      *broadcast.Bus
	now      func() time.Time
	log      zerolog.Logger
}

func New(
	store *roomstate.Store,
	pipeline *sendpipe.Pipeline,
	tracker *presence.Tracker,
	bus *broadcast.Bus,
	now func() time.Time,
	log zerolog.Logger,
) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:    store,
		pipeline: pipeline,
		presence: tracker,
		bus:      bus,
		now:      now,
		log:      log,
	}
}

// Apply merges one event into room state.
func (e *Engine) Apply(ev chat.Event) Result {
	var res Result

	switch ev := ev.(type) {
	case chat.NewMessage:
		e.applyNewMessage(ev.Message, &res)

	case chat.MessageSent:
		if room, ok := e.pipeline.Acknowledge(ev.CorrelationID, ev.Message); ok {
			res.touch(room)
		}

	case chat.MessageError:
		if room, ok := e.pipeline.Reject(ev.CorrelationID, ev.Error); ok {
			res.touch(room)
		}

	case chat.ReactionUpdate:
		room, ok := e.store.SetReactions(ev.MessageID, ev.Reactions)
		if !ok {
			e.log.Debug().Int64("message_id", int64(ev.MessageID)).Msg("reaction update for unknown message dropped")
			break
		}
		res.touch(room)

	case chat.MessagesRead:
		if e.store.ApplyReceipt(ev.Receipt) {
			res.touch(ev.Receipt.RoomID)
		}

	case chat.UserTyping:
		if e.presence.Observe(ev.RoomID, ev.User, ev.Name, e.now()) {
			res.touch(ev.RoomID)
		}

	case chat.ServerError:
		e.log.Warn().Str("message", ev.Message).Msg("server reported error")
		res.Err = fmt.Errorf("server: %s", ev.Message)

	case chat.AuthFailure:
		res.Err = &chat.AuthError{Reason: ev.Message}

	case chat.DomainEvent:
		if n := e.bus.Publish(ev); n == 0 {
			e.log.Debug().Str("event", ev.Name).Msg("no subscribers for event")
		}

	case chat.Malformed:
		err := &chat.MalformedEventError{Event: ev.Name, Err: ev.Err}
		e.log.Warn().Err(err).Int("bytes", len(ev.Raw)).Msg("dropping malformed event")

	default:
		e.log.Warn().Str("event", ev.EventName()).Str("type", fmt.Sprintf("%T", ev)).Msg("unhandled event type")
	}

	slices.Sort(res.Rooms)
	return res
}

func (e *Engine) applyNewMessage(msg chat.Message, res *Result) {
	if msg.CorrelationID != "" && e.pipeline.Tracks(msg.RoomID, msg.CorrelationID) {
		// The broadcast of our own message beat its acknowledgment, or
		// arrived after the send timed out.
		if room, ok := e.pipeline.Acknowledge(msg.CorrelationID, msg); ok {
			res.touch(room)
		}
		return
	}

	if !e.store.InsertAcked(msg) {
		e.log.Debug().Int64("message_id", int64(msg.ID)).Msg("duplicate message ignored")
		return
	}
	res.touch(msg.RoomID)
	e.presence.Clear(msg.RoomID, msg.Sender)
}

