// Package realtime wires the transport, room registry, send pipeline,
// reconciliation engine, presence tracker, and domain broadcast channel into a
// single Client with a non-blocking API for UI layers.
//
// All room-local state is mutated on one dispatcher goroutine. Public methods
// enqueue work for it and return immediately; results surface through
// observers and snapshots.
package realtime

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/realtime/broadcast"
	"github.com/hay-kot/pgchat/internal/realtime/presence"
	"github.com/hay-kot/pgchat/internal/realtime/reconcile"
	"github.com/hay-kot/pgchat/internal/realtime/rooms"
	"github.com/hay-kot/pgchat/internal/realtime/roomstate"
	"github.com/hay-kot/pgchat/internal/realtime/sendpipe"
	"github.com/hay-kot/pgchat/internal/realtime/transport"
	"github.com/hay-kot/pgchat/pkg/mailbox"
)

// Options configures a Client.
type Options struct {
	Self           chat.Participant
	SelfName       string
	Transport      transport.Options
	TypingDebounce time.Duration
	TypingExpiry   time.Duration
	PendingTimeout time.Duration
	// SweepInterval drives typing expiry and pending timeouts. Defaults to
	// half the typing expiry.
	SweepInterval time.Duration
	Now           func() time.Time
	NewID         func() string
}

type (
	RoomObserver    func(roomstate.Snapshot)
	StateObserver   func(transport.StateChange)
	ErrorObserver   func(error)
	MessageObserver func(chat.Message)
)

type roomObserver struct {
	id   uint64
	room chat.RoomID
	fn   RoomObserver
}

type observers struct {
	nextID   uint64
	room     []roomObserver
	state    map[uint64]StateObserver
	errs     map[uint64]ErrorObserver
	messages map[uint64]MessageObserver
}

// Client is one chat session. Independent clients share nothing.
type Client struct {
	conn     *transport.Connection
	store    *roomstate.Store
	pipeline *sendpipe.Pipeline
	registry *rooms.Registry
	presence *presence.Tracker
	bus      *broadcast.Bus
	engine   *reconcile.Engine
	opts     Options
	log      zerolog.Logger

	inbox *mailbox.Mailbox[func()]
	link  sendpipe.Link // dispatcher only

	mu        sync.RWMutex
	snapshots map[chat.RoomID]roomstate.Snapshot
	roomList  []chat.ChatRoom
	state     transport.StateChange
	obs       observers

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a client and starts its dispatcher. Call Connect to go online
// and Close to release it.
func New(dialer transport.Dialer, auth transport.AuthProvider, opts Options, log zerolog.Logger) *Client {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	c := &Client{
		opts:      opts,
		log:       log,
		registry:  rooms.NewRegistry(),
		bus:       broadcast.New(),
		inbox:     mailbox.New[func()](),
		snapshots: make(map[chat.RoomID]roomstate.Snapshot),
		state:     transport.StateChange{State: transport.StateDisconnected},
		obs: observers{
			state:    make(map[uint64]StateObserver),
			errs:     make(map[uint64]ErrorObserver),
			messages: make(map[uint64]MessageObserver),
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	c.store = roomstate.New(opts.Self)
	c.pipeline = sendpipe.New(c.store, sendpipe.Options{
		Self:           opts.Self,
		SelfName:       opts.SelfName,
		PendingTimeout: opts.PendingTimeout,
		Now:            opts.Now,
		NewID:          opts.NewID,
	}, log.With().Str("component", "sendpipe").Logger())
	c.presence = presence.New(opts.Self, opts.TypingDebounce, opts.TypingExpiry)
	c.engine = reconcile.New(c.store, c.pipeline, c.presence, c.bus, opts.Now,
		log.With().Str("component", "reconcile").Logger())
	c.conn = transport.New(dialer, auth, c, opts.Transport,
		log.With().Str("component", "transport").Logger())

	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = c.presence.Expiry() / 2
	}

	go c.dispatch()
	go c.tick(sweep)
	return c
}

// Connect starts the connection. It fails synchronously only when no
// credential is available.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed() {
		return chat.ErrClosed
	}
	return c.conn.Connect(ctx)
}

// Disconnect tears down the connection without waiting for the socket to
// close. Joined rooms and pending messages are kept and replayed on the next
// Connect.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}

// Logout disconnects and forgets every room, message, and subscription.
func (c *Client) Logout() {
	c.conn.Disconnect()
	c.enqueue(func() {
		c.registry.Reset()
		c.store.Reset()
		c.pipeline.Reset()
		c.presence.Reset()

		c.mu.Lock()
		c.snapshots = make(map[chat.RoomID]roomstate.Snapshot)
		c.roomList = nil
		c.mu.Unlock()
	})
}

// Close disconnects, stops the dispatcher, and waits for the connection and
// the dispatcher to finish.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.conn.Disconnect()
		c.conn.Wait()
		close(c.stop)
		c.inbox.Close()
		<-c.done
	})
}

// Join registers a room. The join is emitted now if connected and replayed
// after every reconnect.
func (c *Client) Join(roomID chat.RoomID) error {
	return c.enqueue(func() {
		if c.registry.Join(roomID) {
			c.emit(chat.JoinRoom{RoomID: roomID})
		}
	})
}

// Leave unregisters a room.
func (c *Client) Leave(roomID chat.RoomID) error {
	return c.enqueue(func() {
		if c.registry.Leave(roomID) {
			c.emit(chat.LeaveRoom{RoomID: roomID})
		}
	})
}

// Send composes a message and returns its correlation id. The message shows up
// as pending in the room immediately and is emitted when connected.
func (c *Client) Send(req sendpipe.Request) (string, error) {
	if req.Type == "" {
		req.Type = chat.TypeText
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	if req.CorrelationID == "" {
		req.CorrelationID = c.opts.NewID()
	}

	err := c.enqueue(func() {
		msg, in, err := c.pipeline.Send(req, c.link)
		if err != nil {
			c.notifyError(err)
			return
		}
		if in != nil {
			c.emit(*in)
		}
		c.publish(msg.RoomID)
	})
	return req.CorrelationID, err
}

// Resend retries a failed message under a fresh correlation id. Failures are
// reported to error observers.
func (c *Client) Resend(roomID chat.RoomID, correlationID string) error {
	return c.enqueue(func() {
		_, in, err := c.pipeline.Resend(roomID, correlationID, c.link)
		if err != nil {
			c.notifyError(err)
			return
		}
		if in != nil {
			c.emit(*in)
		}
		c.publish(roomID)
	})
}

// Discard drops a failed message locally.
func (c *Client) Discard(roomID chat.RoomID, correlationID string) error {
	return c.enqueue(func() {
		if err := c.pipeline.Discard(roomID, correlationID); err != nil {
			c.notifyError(err)
			return
		}
		c.publish(roomID)
	})
}

// React toggles the local user's reaction. The visible aggregate changes only
// when the server answers with reaction_update.
func (c *Client) React(messageID chat.MessageID, emoji string) error {
	if emoji == "" {
		return fmt.Errorf("react: empty emoji")
	}
	return c.enqueue(func() {
		if !c.link.Connected {
			c.notifyError(fmt.Errorf("react to message %d: %w", messageID, chat.ErrNotConnected))
			return
		}
		c.emit(chat.ToggleReaction{MessageID: messageID, Emoji: emoji})
	})
}

// MarkRead clears the unread counter of a room and emits a read receipt for
// the messages from others.
func (c *Client) MarkRead(roomID chat.RoomID) error {
	return c.enqueue(func() {
		c.markRead(roomID)
		c.publish(roomID)
	})
}

// Focus marks the room the user is looking at and reads it.
func (c *Client) Focus(roomID chat.RoomID) error {
	return c.enqueue(func() {
		prev := c.store.Focused()
		c.store.Focus(roomID)
		c.markRead(roomID)
		c.publish(prev, roomID)
	})
}

// Blur clears the focused room.
func (c *Client) Blur() error {
	return c.enqueue(func() {
		prev := c.store.Focused()
		c.store.Focus(0)
		c.publish(prev)
	})
}

// NotifyTyping emits a typing signal, at most once per debounce window.
func (c *Client) NotifyTyping(roomID chat.RoomID) error {
	return c.enqueue(func() {
		if !c.link.Connected {
			return
		}
		if c.presence.NotifyTyping(roomID, c.opts.Now()) {
			c.emit(chat.Typing{RoomID: roomID})
		}
	})
}

// SetRooms seeds room metadata, for example from a REST listing.
func (c *Client) SetRooms(list []chat.ChatRoom) error {
	return c.enqueue(func() {
		c.publish(c.store.SetRooms(list)...)
	})
}

// Restore loads cached snapshots into empty rooms. Pending messages in them
// are re-emitted on the next connected cycle.
func (c *Client) Restore(snaps ...roomstate.Snapshot) error {
	return c.enqueue(func() {
		var ids []chat.RoomID
		for _, snap := range snaps {
			if c.store.Restore(snap) {
				c.pipeline.Adopt(snap)
				ids = append(ids, snap.Room.ID)
			}
		}
		c.publish(ids...)
	})
}

// Subscribe registers a handler for a domain event name. Handlers run on the
// dispatcher goroutine in registration order.
func (c *Client) Subscribe(name string, fn broadcast.Handler) (unsubscribe func()) {
	return c.bus.Subscribe(name, fn)
}

// SubscribePattern registers a handler for every domain event matching a glob.
func (c *Client) SubscribePattern(pattern string, fn broadcast.Handler) (func(), error) {
	return c.bus.SubscribePattern(pattern, fn)
}

// Unsubscribe removes every handler for a domain event name.
func (c *Client) Unsubscribe(name string) {
	c.bus.Unsubscribe(name)
}

// OnRoom observes one room, or every room when roomID is zero. Observers run
// on the dispatcher goroutine and must not block.
func (c *Client) OnRoom(roomID chat.RoomID, fn RoomObserver) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.obs.nextID++
	id := c.obs.nextID
	c.obs.room = append(c.obs.room, roomObserver{id: id, room: roomID, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.obs.room = slices.DeleteFunc(c.obs.room, func(o roomObserver) bool { return o.id == id })
	}
}

// OnState observes connection state changes.
func (c *Client) OnState(fn StateObserver) (unsubscribe func()) {
	return register(c, c.obs.state, fn)
}

// OnError observes connection-level faults and failed client operations.
func (c *Client) OnError(fn ErrorObserver) (unsubscribe func()) {
	return register(c, c.obs.errs, fn)
}

// OnMessage observes every newly inserted authoritative message.
func (c *Client) OnMessage(fn MessageObserver) (unsubscribe func()) {
	return register(c, c.obs.messages, fn)
}

func register[F any](c *Client, m map[uint64]F, fn F) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.obs.nextID++
	id := c.obs.nextID
	m[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(m, id)
	}
}

// Snapshot returns the last published state of a room.
func (c *Client) Snapshot(roomID chat.RoomID) (roomstate.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[roomID]
	return snap, ok
}

// Rooms returns the last published room list, pinned rooms first.
func (c *Client) Rooms() []chat.ChatRoom {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.roomList)
}

// Joined returns the registered rooms.
func (c *Client) Joined() []chat.RoomID {
	return c.registry.Rooms()
}

// State returns the last connection state change.
func (c *Client) State() transport.StateChange {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// HandleState implements transport.Handler.
func (c *Client) HandleState(sc transport.StateChange) {
	c.enqueue(func() { c.applyState(sc) })
}

// HandleEvent implements transport.Handler.
func (c *Client) HandleEvent(ev chat.Event) {
	c.enqueue(func() { c.applyEvent(ev) })
}

func (c *Client) closed() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Client) enqueue(fn func()) error {
	if !c.inbox.Push(fn) {
		return chat.ErrClosed
	}
	return nil
}

func (c *Client) dispatch() {
	defer close(c.done)
	for {
		fn, ok := c.inbox.Pop(context.Background())
		if !ok {
			return
		}
		c.run(fn)
	}
}

func (c *Client) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("dispatcher recovered from panic")
		}
	}()
	fn()
}

func (c *Client) tick(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.enqueue(c.sweep)
		}
	}
}

func (c *Client) sweep() {
	now := c.opts.Now()
	ids := c.presence.Sweep(now)
	ids = append(ids, c.pipeline.Expire(now)...)
	c.publish(ids...)
}

func (c *Client) applyState(sc transport.StateChange) {
	c.link = sendpipe.Link{Connected: sc.State == transport.StateConnected, Cycle: sc.Cycle}

	if c.link.Connected {
		for _, id := range c.registry.Replay(sc.Cycle) {
			c.emit(chat.JoinRoom{RoomID: id})
		}
		for _, in := range c.pipeline.Reemit(c.link) {
			c.emit(in)
		}
	} else {
		c.registry.Disconnected()
	}

	c.mu.Lock()
	c.state = sc
	stateObs := mapValues(c.obs.state)
	c.mu.Unlock()

	for _, fn := range stateObs {
		fn(sc)
	}
	if sc.State == transport.StateDisconnected && sc.Err != nil {
		c.notifyError(sc.Err)
	}
}

func (c *Client) applyEvent(ev chat.Event) {
	res := c.engine.Apply(ev)
	if res.Err != nil {
		c.notifyError(res.Err)
	}
	c.publish(res.Rooms...)

	if nm, ok := ev.(chat.NewMessage); ok && len(res.Rooms) > 0 {
		c.mu.RLock()
		msgObs := mapValues(c.obs.messages)
		c.mu.RUnlock()
		for _, fn := range msgObs {
			fn(nm.Message)
		}
	}
}

func (c *Client) markRead(roomID chat.RoomID) {
	ids := c.store.MarkRead(roomID)
	if len(ids) == 0 || !c.link.Connected {
		return
	}
	c.emit(chat.MarkRead{RoomID: roomID, MessageIDs: ids})
}

// emit sends an intent on the current cycle. Failures are not fatal: joins
// and pending sends are replayed on the next cycle.
func (c *Client) emit(in chat.Intent) {
	if !c.link.Connected {
		return
	}
	if err := c.conn.Send(c.link.Cycle, in); err != nil {
		c.log.Debug().Err(err).Str("intent", in.IntentName()).Msg("intent not sent")
	}
}

func (c *Client) notifyError(err error) {
	c.mu.RLock()
	errObs := mapValues(c.obs.errs)
	c.mu.RUnlock()
	for _, fn := range errObs {
		fn(err)
	}
}

// publish refreshes snapshots for the given rooms and notifies observers.
func (c *Client) publish(ids ...chat.RoomID) {
	ids = slices.DeleteFunc(slices.Clone(ids), func(id chat.RoomID) bool { return id == 0 })
	slices.Sort(ids)
	ids = slices.Compact(ids)
	if len(ids) == 0 {
		return
	}

	now := c.opts.Now()
	snaps := make([]roomstate.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, ok := c.store.Snapshot(id)
		if !ok {
			continue
		}
		snap.Typing = c.presence.Active(id, now)
		snaps = append(snaps, snap)
	}

	c.mu.Lock()
	for _, snap := range snaps {
		c.snapshots[snap.Room.ID] = snap
	}
	c.roomList = c.store.Rooms()
	roomObs := slices.Clone(c.obs.room)
	c.mu.Unlock()

	for _, snap := range snaps {
		for _, o := range roomObs {
			if o.room == 0 || o.room == snap.Room.ID {
				o.fn(snap)
			}
		}
	}
}

// mapValues returns observers in registration order.
func mapValues[F any](m map[uint64]F) []F {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]F, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}
