package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/realtime"
	"github.com/hay-kot/pgchat/internal/realtime/roomstate"
	"github.com/hay-kot/pgchat/internal/realtime/sendpipe"
	"github.com/hay-kot/pgchat/internal/realtime/transport"
	"github.com/hay-kot/pgchat/pkg/mailbox"
)

// Client is the part of the realtime client the TUI drives.
type Client interface {
	Send(req sendpipe.Request) (string, error)
	Resend(roomID chat.RoomID, correlationID string) error
	Discard(roomID chat.RoomID, correlationID string) error
	React(messageID chat.MessageID, emoji string) error
	MarkRead(roomID chat.RoomID) error
	Focus(roomID chat.RoomID) error
	Blur() error
	NotifyTyping(roomID chat.RoomID) error

	Snapshot(roomID chat.RoomID) (roomstate.Snapshot, bool)
	Rooms() []chat.ChatRoom
	State() transport.StateChange

	OnRoom(roomID chat.RoomID, fn realtime.RoomObserver) (unsubscribe func())
	OnState(fn realtime.StateObserver) (unsubscribe func())
	OnError(fn realtime.ErrorObserver) (unsubscribe func())
}

var _ Client = (*realtime.Client)(nil)

// roomUpdatedMsg carries a fresh snapshot of one room.
type roomUpdatedMsg struct {
	snap roomstate.Snapshot
}

// connStateMsg is sent on every connection state change.
type connStateMsg struct {
	change transport.StateChange
}

// clientErrMsg reports a connection fault or failed client operation.
type clientErrMsg struct {
	err error
}

// updates forwards client observer callbacks to the Bubble Tea loop.
// Observers run on the client's dispatcher, so they only enqueue.
type updates struct {
	box   *mailbox.Mailbox[tea.Msg]
	unsub []func()
}

func subscribe(c Client) *updates {
	u := &updates{box: mailbox.New[tea.Msg]()}
	u.unsub = []func(){
		c.OnRoom(0, func(snap roomstate.Snapshot) { u.box.Push(roomUpdatedMsg{snap: snap}) }),
		c.OnState(func(sc transport.StateChange) { u.box.Push(connStateMsg{change: sc}) }),
		c.OnError(func(err error) { u.box.Push(clientErrMsg{err: err}) }),
	}
	return u
}

// wait returns a command that delivers the next client update. The model
// issues it again after handling each update.
func (u *updates) wait() tea.Cmd {
	return func() tea.Msg {
		msg, ok := u.box.Pop(context.Background())
		if !ok {
			return nil
		}
		return msg
	}
}

func (u *updates) close() {
	for _, fn := range u.unsub {
		fn()
	}
	u.box.Close()
}
