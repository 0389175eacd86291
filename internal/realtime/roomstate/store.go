// Package roomstate holds room-local chat state: the ordered message list,
// reaction aggregates, read counts, and unread counters for each room.
//
// A Store is not safe for concurrent use. The realtime client mutates it only
// from its dispatcher goroutine; everything else observes Snapshots.
package roomstate

import (
	"cmp"
	"slices"

	"github.com/hay-kot/pgchat/internal/core/chat"
)

// Snapshot is an immutable copy of one room's state.
type Snapshot struct {
	Room     chat.ChatRoom  `json:"room"`
	Messages []chat.Message `json:"messages"`
	Typing   []chat.Typist  `json:"typing,omitempty"`
	Focused  bool           `json:"focused"`
}

// Pending returns the messages that are still awaiting acknowledgment.
func (s Snapshot) Pending() []chat.Message {
	var out []chat.Message
	for _, m := range s.Messages {
		if m.State == chat.StatePending {
			out = append(out, m)
		}
	}
	return out
}

// AckOutcome describes what Acknowledge did with a server acknowledgment.
type AckOutcome int

const (
	AckUnknown  AckOutcome = iota // no local entry for the correlation id
	AckReplaced                   // pending entry replaced by the authoritative message
	AckMerged                     // message already present; pending entry dropped
)

type room struct {
	info     chat.ChatRoom
	messages []*chat.Message
	byID     map[chat.MessageID]*chat.Message
	byCorr   map[string]*chat.Message
	readers  map[chat.MessageID]map[chat.Participant]struct{}
}

func newRoom(id chat.RoomID) *room {
	return &room{
		info:    chat.ChatRoom{ID: id, Active: true},
		byID:    make(map[chat.MessageID]*chat.Message),
		byCorr:  make(map[string]*chat.Message),
		readers: make(map[chat.MessageID]map[chat.Participant]struct{}),
	}
}

// Store tracks every room the client knows about.
type Store struct {
	self    chat.Participant
	rooms   map[chat.RoomID]*room
	msgRoom map[chat.MessageID]chat.RoomID
	focus   chat.RoomID
	seq     uint64
}

// New creates a store for the given local user.
func New(self chat.Participant) *Store {
	return &Store{
		self:    self,
		rooms:   make(map[chat.RoomID]*room),
		msgRoom: make(map[chat.MessageID]chat.RoomID),
	}
}

// Self returns the local user.
func (s *Store) Self() chat.Participant { return s.self }

// SetSelf updates the local user, e.g. after a new login.
func (s *Store) SetSelf(p chat.Participant) { s.self = p }

// NextSeq returns the next local submission sequence number.
func (s *Store) NextSeq() uint64 {
	s.seq++
	return s.seq
}

func (s *Store) room(id chat.RoomID) *room {
	r, ok := s.rooms[id]
	if !ok {
		r = newRoom(id)
		s.rooms[id] = r
	}
	return r
}

// Has reports whether the room is known.
func (s *Store) Has(id chat.RoomID) bool {
	_, ok := s.rooms[id]
	return ok
}

// RoomIDs returns all known rooms in ascending order.
func (s *Store) RoomIDs() []chat.RoomID {
	ids := make([]chat.RoomID, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Rooms returns list-level info for every room, pinned rooms first.
func (s *Store) Rooms() []chat.ChatRoom {
	out := make([]chat.ChatRoom, 0, len(s.rooms))
	for _, id := range s.RoomIDs() {
		out = append(out, s.rooms[id].info)
	}
	slices.SortStableFunc(out, func(a, b chat.ChatRoom) int {
		switch {
		case a.Pinned == b.Pinned:
			return 0
		case a.Pinned:
			return -1
		default:
			return 1
		}
	})
	return out
}

// SetRooms seeds room metadata, typically from a REST listing. Message state
// is preserved for rooms that already exist.
func (s *Store) SetRooms(rooms []chat.ChatRoom) []chat.RoomID {
	changed := make([]chat.RoomID, 0, len(rooms))
	for _, info := range rooms {
		r := s.room(info.ID)
		preview := r.info.LastMessage
		r.info = info
		if preview != "" {
			r.info.LastMessage = preview
		}
		if info.ID == s.focus {
			r.info.UnreadCount = 0
		}
		changed = append(changed, info.ID)
	}
	return changed
}

// Focus marks a room as the one the user is looking at. Messages arriving in a
// focused room do not count as unread.
func (s *Store) Focus(id chat.RoomID) {
	s.focus = id
	if id != 0 {
		s.room(id)
	}
}

// Focused returns the focused room, or zero.
func (s *Store) Focused() chat.RoomID { return s.focus }

// AppendLocal appends a locally composed message (pending or failed).
func (s *Store) AppendLocal(msg chat.Message) {
	r := s.room(msg.RoomID)
	m := msg.Clone()
	r.messages = append(r.messages, &m)
	r.byCorr[m.CorrelationID] = &m
	r.sort()
	r.refreshPreview()
}

// Local returns a copy of the locally composed message with the given
// correlation id.
func (s *Store) Local(roomID chat.RoomID, correlationID string) (chat.Message, bool) {
	r, ok := s.rooms[roomID]
	if !ok {
		return chat.Message{}, false
	}
	m, ok := r.byCorr[correlationID]
	if !ok {
		return chat.Message{}, false
	}
	return m.Clone(), true
}

// Contains reports whether a message with the authoritative id is present.
func (s *Store) Contains(id chat.MessageID) bool {
	_, ok := s.msgRoom[id]
	return ok
}

// InsertAcked inserts an authoritative message. It returns false when a
// message with the same id already exists.
func (s *Store) InsertAcked(msg chat.Message) bool {
	if s.Contains(msg.ID) {
		return false
	}

	r := s.room(msg.RoomID)
	m := msg.Clone()
	m.State = chat.StateAcknowledged
	m.Error = ""
	r.messages = append(r.messages, &m)
	r.byID[m.ID] = &m
	s.msgRoom[m.ID] = m.RoomID
	r.sort()
	r.refreshPreview()

	if m.Sender != s.self && s.focus != m.RoomID {
		r.info.UnreadCount++
	}
	return true
}

// Acknowledge reconciles the local entry for correlationID with the
// authoritative message.
func (s *Store) Acknowledge(roomID chat.RoomID, correlationID string, msg chat.Message) AckOutcome {
	r, ok := s.rooms[roomID]
	if !ok {
		return AckUnknown
	}
	local, ok := r.byCorr[correlationID]
	if !ok {
		return AckUnknown
	}

	if s.Contains(msg.ID) {
		r.remove(local)
		delete(r.byCorr, correlationID)
		existing := r.byID[msg.ID]
		if existing != nil && existing.CorrelationID == "" {
			existing.CorrelationID = correlationID
		}
		r.refreshPreview()
		return AckMerged
	}

	seq := local.Seq
	*local = msg.Clone()
	local.RoomID = roomID
	local.CorrelationID = correlationID
	local.Seq = seq
	local.State = chat.StateAcknowledged
	local.Error = ""

	delete(r.byCorr, correlationID)
	r.byID[local.ID] = local
	s.msgRoom[local.ID] = roomID
	r.sort()
	r.refreshPreview()
	return AckReplaced
}

// Fail moves a pending local message to the failed state.
func (s *Store) Fail(roomID chat.RoomID, correlationID, reason string) bool {
	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	m, ok := r.byCorr[correlationID]
	if !ok || m.State != chat.StatePending {
		return false
	}
	m.State = chat.StateFailed
	m.Error = reason
	return true
}

// RemoveLocal deletes a locally composed message.
func (s *Store) RemoveLocal(roomID chat.RoomID, correlationID string) (chat.Message, bool) {
	r, ok := s.rooms[roomID]
	if !ok {
		return chat.Message{}, false
	}
	m, ok := r.byCorr[correlationID]
	if !ok {
		return chat.Message{}, false
	}
	r.remove(m)
	delete(r.byCorr, correlationID)
	r.refreshPreview()
	return m.Clone(), true
}

// SetReactions replaces the reaction aggregate of a message wholesale.
func (s *Store) SetReactions(id chat.MessageID, reactions []chat.Reaction) (chat.RoomID, bool) {
	roomID, ok := s.msgRoom[id]
	if !ok {
		return 0, false
	}
	m := s.rooms[roomID].byID[id]
	m.Reactions = append([]chat.Reaction(nil), reactions...)
	return roomID, true
}

// ApplyReceipt applies a read-receipt batch. Read counts only grow, so a
// redelivered batch is absorbed. When the reader is the local user the unread
// counter drops to the number of messages from others after the latest
// referenced message.
func (s *Store) ApplyReceipt(rc chat.ReadReceipt) bool {
	r, ok := s.rooms[rc.RoomID]
	if !ok {
		return false
	}

	changed := false
	latest := -1
	for _, id := range rc.MessageIDs {
		m, ok := r.byID[id]
		if !ok {
			continue
		}

		incoming := m.ReadCount
		if n, ok := rc.ReadCounts[id]; ok {
			incoming = n
			r.markReader(id, rc.Reader)
		} else if rc.Reader != m.Sender && r.markReader(id, rc.Reader) {
			incoming = m.ReadCount + 1
		}

		if incoming > m.ReadCount {
			m.ReadCount = incoming
			changed = true
		}

		if pos := r.index(m); pos > latest {
			latest = pos
		}
	}

	if rc.Reader == s.self && latest >= 0 {
		if s.lowerUnread(r, latest) {
			changed = true
		}
	}
	return changed
}

// MarkRead clears the unread counter of a room and returns the acknowledged
// messages from other users the local user has now read, newest last.
func (s *Store) MarkRead(roomID chat.RoomID) []chat.MessageID {
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	r.info.UnreadCount = 0

	var ids []chat.MessageID
	for _, m := range r.messages {
		if m.State == chat.StateAcknowledged && m.Sender != s.self {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// LatestAcked returns the newest acknowledged message id in a room.
func (s *Store) LatestAcked(roomID chat.RoomID) (chat.MessageID, bool) {
	r, ok := s.rooms[roomID]
	if !ok {
		return 0, false
	}
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].State == chat.StateAcknowledged {
			return r.messages[i].ID, true
		}
	}
	return 0, false
}

// Snapshot returns a copy of one room's state.
func (s *Store) Snapshot(id chat.RoomID) (Snapshot, bool) {
	r, ok := s.rooms[id]
	if !ok {
		return Snapshot{}, false
	}
	msgs := make([]chat.Message, len(r.messages))
	for i, m := range r.messages {
		msgs[i] = m.Clone()
	}
	return Snapshot{
		Room:     r.info,
		Messages: msgs,
		Focused:  s.focus == id,
	}, true
}

// Restore loads a previously saved snapshot into an empty room. Rooms that
// already hold messages are left alone.
func (s *Store) Restore(snap Snapshot) bool {
	r := s.room(snap.Room.ID)
	if len(r.messages) > 0 {
		return false
	}
	r.info = snap.Room
	for _, msg := range snap.Messages {
		switch msg.State {
		case chat.StateAcknowledged:
			m := msg.Clone()
			r.messages = append(r.messages, &m)
			r.byID[m.ID] = &m
			s.msgRoom[m.ID] = m.RoomID
		case chat.StatePending, chat.StateFailed:
			m := msg.Clone()
			m.Seq = s.NextSeq()
			r.messages = append(r.messages, &m)
			r.byCorr[m.CorrelationID] = &m
		}
	}
	r.sort()
	return true
}

// Reset forgets all rooms.
func (s *Store) Reset() {
	s.rooms = make(map[chat.RoomID]*room)
	s.msgRoom = make(map[chat.MessageID]chat.RoomID)
	s.focus = 0
}

func (s *Store) lowerUnread(r *room, pos int) bool {
	after := 0
	for _, m := range r.messages[pos+1:] {
		if m.State == chat.StateAcknowledged && m.Sender != s.self {
			after++
		}
	}
	if after < r.info.UnreadCount {
		r.info.UnreadCount = after
		return true
	}
	return false
}

func (r *room) markReader(id chat.MessageID, reader chat.Participant) bool {
	set, ok := r.readers[id]
	if !ok {
		set = make(map[chat.Participant]struct{})
		r.readers[id] = set
	}
	if _, seen := set[reader]; seen {
		return false
	}
	set[reader] = struct{}{}
	return true
}

func (r *room) index(m *chat.Message) int {
	return slices.Index(r.messages, m)
}

func (r *room) remove(m *chat.Message) {
	if i := r.index(m); i >= 0 {
		r.messages = slices.Delete(r.messages, i, i+1)
	}
}

// sort orders acknowledged messages by server time, then all local entries in
// submission order.
func (r *room) sort() {
	slices.SortStableFunc(r.messages, compareMessages)
}

func compareMessages(a, b *chat.Message) int {
	aAck, bAck := a.State == chat.StateAcknowledged, b.State == chat.StateAcknowledged
	switch {
	case aAck && !bAck:
		return -1
	case !aAck && bAck:
		return 1
	case aAck:
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	default:
		return cmp.Compare(a.Seq, b.Seq)
	}
}

func (r *room) refreshPreview() {
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].State == chat.StateAcknowledged {
			r.info.LastMessage = r.messages[i].Preview()
			return
		}
	}
	if n := len(r.messages); n > 0 {
		r.info.LastMessage = r.messages[n-1].Preview()
	}
}
