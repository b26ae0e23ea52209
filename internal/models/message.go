package models

import (
	"time"
)

type ChatType string

const (
	ChatWorld   ChatType = "world"
	ChatGroup   ChatType = "group"
	ChatPrivate ChatType = "private"
)

// Message is immutable once created. The server assigns the final ID;
// IsOwn is derived locally by identity comparison and never read off the wire.
type Message struct {
	ID            string     `json:"id"`
	Content       string     `json:"content"`
	SenderID      string     `json:"senderId"`
	SenderName    string     `json:"senderName"`
	SenderCountry string     `json:"senderCountry"`
	Timestamp     time.Time  `json:"timestamp"`
	ChatType      ChatType   `json:"chatType"`
	ChatID        string     `json:"chatId,omitempty"`
	EditedAt      *time.Time `json:"editedAt,omitempty"`
	IsEdited      bool       `json:"isEdited"`

	IsOwn bool `json:"-"`
}

// Scope resolves the room a message belongs to. World messages carry no
// chatId and target the implicit world room.
func (m *Message) Scope() Scope {
	if m.ChatType == ChatWorld {
		return WorldScope()
	}
	return Scope{Type: m.ChatType, ID: m.ChatID}
}

// Before orders messages by (timestamp, id) ascending. The id tiebreak keeps
// the ordering total when two messages share a timestamp.
func (m *Message) Before(other *Message) bool {
	if !m.Timestamp.Equal(other.Timestamp) {
		return m.Timestamp.Before(other.Timestamp)
	}
	return m.ID < other.ID
}
