package chat

// RoomType is the kind of chat room.
type RoomType string

const (
	RoomDirect    RoomType = "ROOM"
	RoomCommunity RoomType = "COMMUNITY"
	RoomManager   RoomType = "MANAGER"
)

// ChatRoom is the list-level view of a room.
type ChatRoom struct {
	ID          RoomID   `json:"id"`
	Name        string   `json:"name"`
	Type        RoomType `json:"type"`
	LastMessage string   `json:"lastMessage,omitempty"`
	UnreadCount int      `json:"unreadCount"`
	Active      bool     `json:"active"`
	Pinned      bool     `json:"pinned"`
}

// ReadReceipt reports that Reader has read MessageIDs in RoomID. ReadCounts,
// when the server provides it, carries the authoritative per-message totals.
type ReadReceipt struct {
	RoomID     RoomID            `json:"roomId"`
	MessageIDs []MessageID       `json:"messageIds"`
	Reader     Participant       `json:"reader"`
	ReadCounts map[MessageID]int `json:"readCounts,omitempty"`
}

// Credential is the session credential supplied by an auth provider.
type Credential struct {
	Token string `json:"token"`
}
