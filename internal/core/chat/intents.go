package chat

// Outbound intent names.
const (
	IntentJoinRoom       = "join_room"
	IntentLeaveRoom      = "leave_room"
	IntentSendMessage    = "send_message"
	IntentTyping         = "typing"
	IntentMarkRead       = "mark_read"
	IntentToggleReaction = "toggle_reaction"
)

// Intent is a client-to-server command.
type Intent interface {
	IntentName() string
	intent()
}

type JoinRoom struct {
	RoomID RoomID `json:"roomId"`
}

type LeaveRoom struct {
	RoomID RoomID `json:"roomId"`
}

// SendMessage asks the server to persist and broadcast a message. The
// correlation id doubles as the server's dedup key for re-emitted sends.
type SendMessage struct {
	RoomID        RoomID      `json:"roomId"`
	Content       string      `json:"content"`
	Type          MessageType `json:"type,omitempty"`
	MediaURL      string      `json:"mediaUrl,omitempty"`
	Duration      int         `json:"duration,omitempty"`
	CorrelationID string      `json:"correlationId"`
}

type Typing struct {
	RoomID RoomID `json:"roomId"`
}

type MarkRead struct {
	RoomID     RoomID      `json:"roomId"`
	MessageIDs []MessageID `json:"messageIds"`
}

type ToggleReaction struct {
	MessageID MessageID `json:"messageId"`
	Emoji     string    `json:"emoji"`
}

func (JoinRoom) IntentName() string       { return IntentJoinRoom }
func (LeaveRoom) IntentName() string      { return IntentLeaveRoom }
func (SendMessage) IntentName() string    { return IntentSendMessage }
func (Typing) IntentName() string         { return IntentTyping }
func (MarkRead) IntentName() string       { return IntentMarkRead }
func (ToggleReaction) IntentName() string { return IntentToggleReaction }

func (JoinRoom) intent()       {}
func (LeaveRoom) intent()      {}
func (SendMessage) intent()    {}
func (Typing) intent()         {}
func (MarkRead) intent()       {}
func (ToggleReaction) intent() {}
