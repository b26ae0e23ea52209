package models

import "time"

type Participant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Country  string `json:"country"`
	IsOnline bool   `json:"isOnline"`
}

// LastMessage is the denormalized preview shown in the room list. It is
// refreshed on every append for the room.
type LastMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	SenderID  string    `json:"senderId"`
}

type Room struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Type         ChatType      `json:"type"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	LastMessage  *LastMessage  `json:"lastMessage,omitempty"`
	UnreadCount  int           `json:"unreadCount"`
}

func (r *Room) Scope() Scope {
	return Scope{Type: r.Type, ID: r.ID}
}

// OtherParticipant returns the peer of a private room, skipping selfID.
// Private rooms have exactly two participants.
func (r *Room) OtherParticipant(selfID string) *Participant {
	for i := range r.Participants {
		if r.Participants[i].ID != selfID {
			return &r.Participants[i]
		}
	}
	return nil
}
