// Package chat defines the realtime messaging domain types, wire events, and
// the errors shared by the realtime client.
package chat

import (
	"fmt"
	"strings"
	"time"
)

type (
	RoomID    int64
	MessageID int64
	UserID    int64
)

// MessageType is the content kind of a message.
type MessageType string

const (
	TypeText  MessageType = "TEXT"
	TypeImage MessageType = "IMAGE"
	TypeVoice MessageType = "VOICE"
	TypeFile  MessageType = "FILE"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeVoice, TypeFile:
		return true
	default:
		return false
	}
}

// HasMedia reports whether messages of this type carry a media reference.
func (t MessageType) HasMedia() bool {
	return t == TypeImage || t == TypeVoice || t == TypeFile
}

// ParseMessageType parses a case-insensitive message type. An empty string is TEXT.
func ParseMessageType(s string) (MessageType, error) {
	if s == "" {
		return TypeText, nil
	}
	t := MessageType(strings.ToUpper(s))
	if !t.Valid() {
		return "", fmt.Errorf("unknown message type %q", s)
	}
	return t, nil
}

// SenderType distinguishes tenants from managers.
type SenderType string

const (
	SenderTenant  SenderType = "TENANT"
	SenderManager SenderType = "MANAGER"
)

// Participant identifies a user. Ids are only unique per type.
type Participant struct {
	ID   UserID     `json:"id"`
	Type SenderType `json:"type"`
}

func (p Participant) String() string {
	return fmt.Sprintf("%s:%d", p.Type, p.ID)
}

// IsZero reports whether p is unset.
func (p Participant) IsZero() bool {
	return p.ID == 0 && p.Type == ""
}

// SendState is the lifecycle of a locally composed message.
type SendState string

const (
	StateComposed     SendState = "composed"
	StatePending      SendState = "pending"
	StateAcknowledged SendState = "acknowledged"
	StateFailed       SendState = "failed"
)

// Reaction is the per-message aggregate for one emoji.
type Reaction struct {
	Emoji       string `json:"emoji"`
	Count       int    `json:"count"`
	UserReacted bool   `json:"userReacted"`
}

// Message is a chat message. ID is zero until the server acknowledges it;
// before that the CorrelationID is the only identity.
type Message struct {
	ID            MessageID   `json:"id,omitempty"`
	CorrelationID string      `json:"correlationId,omitempty"`
	RoomID        RoomID      `json:"roomId"`
	Content       string      `json:"content"`
	Type          MessageType `json:"type"`
	MediaURL      string      `json:"mediaUrl,omitempty"`
	Duration      int         `json:"duration,omitempty"`
	Sender        Participant `json:"sender"`
	SenderName    string      `json:"senderName,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	ReadCount     int         `json:"readCount"`
	Reactions     []Reaction  `json:"reactions,omitempty"`

	// Local bookkeeping, never sent by the server.
	State SendState `json:"state,omitempty"`
	Error string    `json:"error,omitempty"`
	Seq   uint64    `json:"seq,omitempty"`
}

// Acknowledged reports whether the message carries a server identity.
func (m *Message) Acknowledged() bool {
	return m.State == StateAcknowledged
}

// Key returns a stable identity for display lists: the server id when known,
// otherwise the correlation id.
func (m *Message) Key() string {
	if m.ID != 0 {
		return fmt.Sprintf("%d", m.ID)
	}
	return m.CorrelationID
}

// Preview returns a one-line summary suitable for a room list.
func (m *Message) Preview() string {
	switch m.Type {
	case TypeImage:
		return "[image]"
	case TypeVoice:
		return "[voice]"
	case TypeFile:
		return "[file]"
	}
	line, _, _ := strings.Cut(m.Content, "\n")
	return line
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	if m.Reactions != nil {
		m.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	return m
}

// Typist is an ephemeral typing signal for one user in one room.
type Typist struct {
	User     Participant `json:"user"`
	Name     string      `json:"name,omitempty"`
	LastSeen time.Time   `json:"lastSeen"`
}
