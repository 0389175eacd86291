package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/pgchat/internal/core/chat"
)

var (
	self = chat.Participant{ID: 1, Type: chat.SenderTenant}
	x    = chat.Participant{ID: 5, Type: chat.SenderTenant}
	y    = chat.Participant{ID: 2, Type: chat.SenderManager}
	t0   = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
)

func TestTracker_NotifyTypingDebounced(t *testing.T) {
	tr := New(self, 2*time.Second, 0)

	assert.True(t, tr.NotifyTyping(3, t0))
	assert.False(t, tr.NotifyTyping(3, t0.Add(500*time.Millisecond)))
	assert.False(t, tr.NotifyTyping(3, t0.Add(1900*time.Millisecond)))
	assert.True(t, tr.NotifyTyping(4, t0.Add(time.Second)), "windows are per room")
	assert.True(t, tr.NotifyTyping(3, t0.Add(2*time.Second)))
}

func TestTracker_ObserveIgnoresSelf(t *testing.T) {
	tr := New(self, 0, 0)
	assert.False(t, tr.Observe(3, self, "me", t0))
	assert.Empty(t, tr.Active(3, t0))
}

func TestTracker_ExpiresWithoutRefresh(t *testing.T) {
	tr := New(self, 0, 5*time.Second)

	require.True(t, tr.Observe(3, x, "X", t0))
	assert.Len(t, tr.Active(3, t0.Add(4*time.Second)), 1)

	assert.Empty(t, tr.Active(3, t0.Add(5*time.Second)), "lazy expiry")
	assert.Equal(t, []chat.RoomID{3}, tr.Sweep(t0.Add(5*time.Second)))
	assert.Empty(t, tr.Sweep(t0.Add(6*time.Second)))
}

func TestTracker_RefreshExtends(t *testing.T) {
	tr := New(self, 0, 5*time.Second)

	tr.Observe(3, x, "X", t0)
	assert.False(t, tr.Observe(3, x, "X", t0.Add(3*time.Second)), "refresh is not a visible change")
	assert.Empty(t, tr.Sweep(t0.Add(6*time.Second)))
	assert.Len(t, tr.Active(3, t0.Add(7*time.Second)), 1)
}

func TestTracker_ActiveOrdered(t *testing.T) {
	tr := New(self, 0, 0)
	tr.Observe(3, x, "X", t0)
	tr.Observe(3, y, "Y", t0)

	got := tr.Active(3, t0)
	require.Len(t, got, 2)
	assert.Equal(t, y, got[0].User)
	assert.Equal(t, x, got[1].User)
}

func TestTracker_Clear(t *testing.T) {
	tr := New(self, 0, 0)
	tr.Observe(3, x, "X", t0)

	assert.True(t, tr.Clear(3, x))
	assert.False(t, tr.Clear(3, x))
	assert.Empty(t, tr.Active(3, t0))
}
