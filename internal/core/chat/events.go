package chat

import "encoding/json"

// Inbound event names.
const (
	EventNewMessage     = "new_message"
	EventMessageSent    = "message_sent"
	EventMessageError   = "message_error"
	EventMessagesRead   = "messages_read"
	EventReactionUpdate = "reaction_update"
	EventError          = "error"
	EventUserTyping     = "user_typing"
	EventAuthError      = "auth_error"
)

// Event is a decoded server-to-client event. The set of implementations is
// closed; consumers switch on the concrete type.
type Event interface {
	EventName() string
	event()
}

// NewMessage is a message broadcast to a joined room.
type NewMessage struct {
	Message Message
}

// MessageSent acknowledges a send_message intent.
type MessageSent struct {
	CorrelationID string  `json:"correlationId"`
	Message       Message `json:"message"`
}

// MessageError rejects a send_message intent.
type MessageError struct {
	CorrelationID string `json:"correlationId"`
	Error         string `json:"error"`
}

// MessagesRead is a batch of read receipts.
type MessagesRead struct {
	Receipt ReadReceipt
}

// ReactionUpdate carries the full current reaction aggregate for a message.
type ReactionUpdate struct {
	MessageID MessageID  `json:"messageId"`
	Reactions []Reaction `json:"reactions"`
}

// ServerError is a channel-level fault reported by the server.
type ServerError struct {
	Message string `json:"message"`
}

// AuthFailure is sent by the server when it rejects the session credential
// after the socket was opened.
type AuthFailure struct {
	Message string `json:"message"`
}

// UserTyping signals that a user is composing in a room.
type UserTyping struct {
	RoomID RoomID      `json:"roomId"`
	User   Participant `json:"user"`
	Name   string      `json:"name,omitempty"`
}

// DomainEvent is any non-chat event multiplexed on the connection, such as
// task lifecycle updates.
type DomainEvent struct {
	Name    string
	Payload json.RawMessage
}

// Decode unmarshals the payload into v.
func (e DomainEvent) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Malformed wraps a frame that failed to decode.
type Malformed struct {
	Name string
	Raw  []byte
	Err  error
}

func (NewMessage) EventName() string     { return EventNewMessage }
func (MessageSent) EventName() string    { return EventMessageSent }
func (MessageError) EventName() string   { return EventMessageError }
func (MessagesRead) EventName() string   { return EventMessagesRead }
func (ReactionUpdate) EventName() string { return EventReactionUpdate }
func (ServerError) EventName() string    { return EventError }
func (AuthFailure) EventName() string    { return EventAuthError }
func (UserTyping) EventName() string     { return EventUserTyping }
func (e DomainEvent) EventName() string  { return e.Name }
func (e Malformed) EventName() string    { return e.Name }

func (NewMessage) event()     {}
func (MessageSent) event()    {}
func (MessageError) event()   {}
func (MessagesRead) event()   {}
func (ReactionUpdate) event() {}
func (ServerError) event()    {}
func (AuthFailure) event()    {}
func (UserTyping) event()     {}
func (DomainEvent) event()    {}
func (Malformed) event()      {}
