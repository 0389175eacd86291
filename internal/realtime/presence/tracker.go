// Package presence keeps ephemeral typing indicators and debounces the local
// user's typing signal.
package presence

import (
	"cmp"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"github.com/hay-kot/pgchat/internal/core/chat"
)

const (
	DefaultDebounce = 2 * time.Second
	DefaultExpiry   = 5 * time.Second
)

// Tracker is not safe for concurrent use; the realtime client drives it from
// its dispatcher goroutine.
type Tracker struct {
	self     chat.Participant
	debounce time.Duration
	expiry   time.Duration
	limiters map[chat.RoomID]*rate.Limiter
	typing   map[chat.RoomID]map[chat.Participant]chat.Typist
}

// New creates a tracker. Zero durations fall back to the defaults.
func New(self chat.Participant, debounce, expiry time.Duration) *Tracker {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Tracker{
		self:     self,
		debounce: debounce,
		expiry:   expiry,
		limiters: make(map[chat.RoomID]*rate.Limiter),
		typing:   make(map[chat.RoomID]map[chat.Participant]chat.Typist),
	}
}

// SetSelf updates the local user whose own typing echoes are ignored.
func (t *Tracker) SetSelf(self chat.Participant) { t.self = self }

// Expiry returns the inactivity window after which a typist is dropped.
func (t *Tracker) Expiry() time.Duration { return t.expiry }

// NotifyTyping reports whether a typing intent for the room may be emitted
// now. At most one is allowed per debounce window.
func (t *Tracker) NotifyTyping(roomID chat.RoomID, now time.Time) bool {
	lim, ok := t.limiters[roomID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.debounce), 1)
		t.limiters[roomID] = lim
	}
	return lim.AllowN(now, 1)
}

// Observe records an inbound typing signal. It returns true when the visible
// typing set of the room changed.
func (t *Tracker) Observe(roomID chat.RoomID, user chat.Participant, name string, now time.Time) bool {
	if user == t.self {
		return false
	}
	room, ok := t.typing[roomID]
	if !ok {
		room = make(map[chat.Participant]chat.Typist)
		t.typing[roomID] = room
	}
	prev, existed := room[user]
	room[user] = chat.Typist{User: user, Name: name, LastSeen: now}
	return !existed || t.expired(prev, now) || prev.Name != name
}

// Active returns the typists in a room seen within the expiry window, ordered
// by user. Expired entries are skipped even if Sweep has not run yet.
func (t *Tracker) Active(roomID chat.RoomID, now time.Time) []chat.Typist {
	var out []chat.Typist
	for _, ty := range t.typing[roomID] {
		if !t.expired(ty, now) {
			out = append(out, ty)
		}
	}
	slices.SortFunc(out, func(a, b chat.Typist) int {
		if c := cmp.Compare(a.User.Type, b.User.Type); c != 0 {
			return c
		}
		return cmp.Compare(a.User.ID, b.User.ID)
	})
	return out
}

// Sweep drops expired typists and returns the rooms whose set changed, sorted.
func (t *Tracker) Sweep(now time.Time) []chat.RoomID {
	var changed []chat.RoomID
	for roomID, room := range t.typing {
		n := len(room)
		for user, ty := range room {
			if t.expired(ty, now) {
				delete(room, user)
			}
		}
		if len(room) != n {
			changed = append(changed, roomID)
		}
		if len(room) == 0 {
			delete(t.typing, roomID)
		}
	}
	slices.Sort(changed)
	return changed
}

// Clear removes a single typist, typically because their message arrived.
func (t *Tracker) Clear(roomID chat.RoomID, user chat.Participant) bool {
	room, ok := t.typing[roomID]
	if !ok {
		return false
	}
	if _, ok := room[user]; !ok {
		return false
	}
	delete(room, user)
	return true
}

// Reset drops all typing state and debounce windows.
func (t *Tracker) Reset() {
	t.limiters = make(map[chat.RoomID]*rate.Limiter)
	t.typing = make(map[chat.RoomID]map[chat.Participant]chat.Typist)
}

func (t *Tracker) expired(ty chat.Typist, now time.Time) bool {
	return now.Sub(ty.LastSeen) >= t.expiry
}
