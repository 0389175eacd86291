// Package sendpipe implements optimistic message sending: local echo, emission
// bookkeeping across reconnects, and reconciliation with server
// acknowledgments and rejections.
package sendpipe

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/realtime/roomstate"
)

// TimeoutReason is the failure text for messages that were never acknowledged.
const TimeoutReason = "acknowledgment timeout"

// Link is the connection status the pipeline needs to decide whether an
// intent can go out now.
type Link struct {
	Connected bool
	Cycle     uint64
}

// Request describes a message the user wants to send. CorrelationID may be
// preassigned by the caller; it is generated when empty.
type Request struct {
	RoomID        chat.RoomID
	Content       string
	Type          chat.MessageType
	MediaURL      string
	Duration      int
	CorrelationID string
}

// Validate checks the request fields.
func (r Request) Validate() error {
	var errs criterio.FieldErrorsBuilder

	if r.RoomID == 0 {
		errs = errs.Append("roomId", errors.New("is required"))
	}
	if !r.Type.Valid() {
		errs = errs.Append("type", fmt.Errorf("unknown message type %q", r.Type))
	}
	if r.Type == chat.TypeText && strings.TrimSpace(r.Content) == "" {
		errs = errs.Append("content", errors.New("cannot be empty"))
	}
	if r.Type.HasMedia() && r.MediaURL == "" {
		errs = errs.Append("mediaUrl", fmt.Errorf("is required for %s messages", r.Type))
	}
	if r.Duration < 0 {
		errs = errs.Append("duration", errors.New("cannot be negative"))
	}

	return errs.ToError()
}

// Options configures a Pipeline.
type Options struct {
	Self           chat.Participant
	SelfName       string
	PendingTimeout time.Duration
	Now            func() time.Time
	NewID          func() string
}

type entry struct {
	roomID    chat.RoomID
	seq       uint64
	cycle     uint64
	emittedAt time.Time
	intent    chat.SendMessage
}

// Pipeline owns the send side of room state. It is not safe for concurrent
// use; the client drives it from its dispatcher goroutine.
type Pipeline struct {
	store   *roomstate.Store
	opts    Options
	log     zerolog.Logger
	pending map[string]*entry
}

// New creates a pipeline writing into store.
func New(store *roomstate.Store, opts Options, log zerolog.Logger) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Pipeline{
		store:   store,
		opts:    opts,
		log:     log,
		pending: make(map[string]*entry),
	}
}

// SetSelf updates the local identity used for new messages.
func (p *Pipeline) SetSelf(self chat.Participant, name string) {
	p.opts.Self = self
	p.opts.SelfName = name
}

// Send composes a message, echoes it into room state as pending, and returns
// the intent to emit if the link is up. A nil intent means the message waits
// for the next connected cycle.
func (p *Pipeline) Send(req Request, link Link) (chat.Message, *chat.SendMessage, error) {
	if req.Type == "" {
		req.Type = chat.TypeText
	}
	if err := req.Validate(); err != nil {
		return chat.Message{}, nil, err
	}

	corr := req.CorrelationID
	if corr == "" {
		corr = p.opts.NewID()
	}
	if _, taken := p.pending[corr]; taken {
		return chat.Message{}, nil, fmt.Errorf("correlation id %s already pending", corr)
	}

	msg := chat.Message{
		CorrelationID: corr,
		RoomID:        req.RoomID,
		Content:       req.Content,
		Type:          req.Type,
		MediaURL:      req.MediaURL,
		Duration:      req.Duration,
		Sender:        p.opts.Self,
		SenderName:    p.opts.SelfName,
		CreatedAt:     p.opts.Now(),
		State:         chat.StateComposed,
	}

	msg.Seq = p.store.NextSeq()
	msg.State = chat.StatePending
	p.store.AppendLocal(msg)

	e := &entry{
		roomID: msg.RoomID,
		seq:    msg.Seq,
		intent: chat.SendMessage{
			RoomID:        msg.RoomID,
			Content:       msg.Content,
			Type:          msg.Type,
			MediaURL:      msg.MediaURL,
			Duration:      msg.Duration,
			CorrelationID: msg.CorrelationID,
		},
	}
	p.pending[msg.CorrelationID] = e

	p.log.Debug().
		Str("correlation_id", msg.CorrelationID).
		Int64("room_id", int64(msg.RoomID)).
		Bool("connected", link.Connected).
		Msg("message composed")

	if !link.Connected {
		return msg, nil, nil
	}
	in := p.markEmitted(e, link.Cycle)
	return msg, &in, nil
}

func (p *Pipeline) markEmitted(e *entry, cycle uint64) chat.SendMessage {
	e.cycle = cycle
	e.emittedAt = p.opts.Now()
	return e.intent
}

// Reemit returns the send intents for pending messages not yet emitted in the
// given cycle, in submission order. Each pending message is re-emitted at most
// once per cycle.
func (p *Pipeline) Reemit(link Link) []chat.SendMessage {
	if !link.Connected {
		return nil
	}

	due := make([]*entry, 0, len(p.pending))
	for _, e := range p.pending {
		if e.cycle != link.Cycle {
			due = append(due, e)
		}
	}
	slices.SortFunc(due, func(a, b *entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})

	out := make([]chat.SendMessage, 0, len(due))
	for _, e := range due {
		out = append(out, p.markEmitted(e, link.Cycle))
	}
	if len(out) > 0 {
		p.log.Info().Int("count", len(out)).Uint64("cycle", link.Cycle).Msg("re-emitting pending messages")
	}
	return out
}

// Acknowledge applies a message_sent event. It returns the affected room and
// whether room state changed. Redelivered acknowledgments are absorbed.
func (p *Pipeline) Acknowledge(correlationID string, msg chat.Message) (chat.RoomID, bool) {
	e, ok := p.pending[correlationID]
	if !ok {
		// A late ack for a message that already timed out settles the
		// failed entry so only one copy remains.
		if correlationID != "" {
			if out := p.store.Acknowledge(msg.RoomID, correlationID, msg); out != roomstate.AckUnknown {
				p.log.Info().
					Str("correlation_id", correlationID).
					Int64("message_id", int64(msg.ID)).
					Msg("late acknowledgment settled failed message")
				return msg.RoomID, true
			}
		}

		// Unknown correlation: a redelivery, or an ack for a send made by
		// another client of the same user. Treat it like a broadcast.
		if p.store.InsertAcked(msg) {
			return msg.RoomID, true
		}
		p.log.Debug().Str("correlation_id", correlationID).Int64("message_id", int64(msg.ID)).Msg("duplicate acknowledgment ignored")
		return msg.RoomID, false
	}

	delete(p.pending, correlationID)
	out := p.store.Acknowledge(e.roomID, correlationID, msg)
	p.log.Debug().
		Str("correlation_id", correlationID).
		Int64("message_id", int64(msg.ID)).
		Int("outcome", int(out)).
		Msg("message acknowledged")
	return e.roomID, out != roomstate.AckUnknown
}

// Owns reports whether correlationID belongs to a message still awaiting
// acknowledgment.
func (p *Pipeline) Owns(correlationID string) bool {
	_, ok := p.pending[correlationID]
	return ok
}

// Tracks reports whether correlationID matches a local entry in roomID,
// pending or failed, that an authoritative message should replace.
func (p *Pipeline) Tracks(roomID chat.RoomID, correlationID string) bool {
	if p.Owns(correlationID) {
		return true
	}
	_, ok := p.store.Local(roomID, correlationID)
	return ok
}

// Reject applies a message_error event.
func (p *Pipeline) Reject(correlationID, reason string) (chat.RoomID, bool) {
	e, ok := p.pending[correlationID]
	if !ok {
		p.log.Debug().Str("correlation_id", correlationID).Msg("rejection for unknown message ignored")
		return 0, false
	}
	delete(p.pending, correlationID)

	rejected := &chat.SendRejectedError{CorrelationID: correlationID, Reason: reason}
	p.log.Warn().Err(rejected).Int64("room_id", int64(e.roomID)).Msg("message rejected")
	return e.roomID, p.store.Fail(e.roomID, correlationID, reason)
}

// Resend re-enters a failed message into the pipeline with a fresh
// correlation id. The failed entry is replaced by the new pending one.
func (p *Pipeline) Resend(roomID chat.RoomID, correlationID string, link Link) (chat.Message, *chat.SendMessage, error) {
	old, ok := p.store.Local(roomID, correlationID)
	if !ok {
		return chat.Message{}, nil, fmt.Errorf("resend %s: %w", correlationID, chat.ErrUnknownMessage)
	}
	if old.State != chat.StateFailed {
		return chat.Message{}, nil, fmt.Errorf("resend %s: %w", correlationID, chat.ErrNotFailed)
	}

	p.store.RemoveLocal(roomID, correlationID)
	return p.Send(Request{
		RoomID:   old.RoomID,
		Content:  old.Content,
		Type:     old.Type,
		MediaURL: old.MediaURL,
		Duration: old.Duration,
	}, link)
}

// Discard removes a failed message locally. There is no server interaction.
func (p *Pipeline) Discard(roomID chat.RoomID, correlationID string) error {
	m, ok := p.store.Local(roomID, correlationID)
	if !ok {
		return fmt.Errorf("discard %s: %w", correlationID, chat.ErrUnknownMessage)
	}
	if m.State != chat.StateFailed {
		return fmt.Errorf("discard %s: %w", correlationID, chat.ErrNotFailed)
	}
	p.store.RemoveLocal(roomID, correlationID)
	return nil
}

// Expire fails pending messages whose last emission is older than the
// configured timeout. Messages never emitted (composed while offline) do not
// expire. Disabled when the timeout is zero.
func (p *Pipeline) Expire(now time.Time) []chat.RoomID {
	if p.opts.PendingTimeout <= 0 {
		return nil
	}

	var rooms []chat.RoomID
	for corr, e := range p.pending {
		if e.emittedAt.IsZero() || now.Sub(e.emittedAt) < p.opts.PendingTimeout {
			continue
		}
		delete(p.pending, corr)
		if p.store.Fail(e.roomID, corr, TimeoutReason) {
			p.log.Warn().Str("correlation_id", corr).Dur("timeout", p.opts.PendingTimeout).Msg("message timed out")
			if !slices.Contains(rooms, e.roomID) {
				rooms = append(rooms, e.roomID)
			}
		}
	}
	slices.Sort(rooms)
	return rooms
}

// Adopt registers pending messages restored from a snapshot so they are
// re-emitted on the next connected cycle.
func (p *Pipeline) Adopt(snap roomstate.Snapshot) int {
	n := 0
	for _, m := range snap.Pending() {
		if _, ok := p.pending[m.CorrelationID]; ok {
			continue
		}
		local, ok := p.store.Local(m.RoomID, m.CorrelationID)
		if !ok {
			continue
		}
		p.pending[m.CorrelationID] = &entry{
			roomID: m.RoomID,
			seq:    local.Seq,
			intent: chat.SendMessage{
				RoomID:        m.RoomID,
				Content:       m.Content,
				Type:          m.Type,
				MediaURL:      m.MediaURL,
				Duration:      m.Duration,
				CorrelationID: m.CorrelationID,
			},
		}
		n++
	}
	return n
}

// Len returns the number of messages awaiting acknowledgment.
func (p *Pipeline) Len() int {
	return len(p.pending)
}

// Reset drops all pending bookkeeping.
func (p *Pipeline) Reset() {
	p.pending = make(map[string]*entry)
}
