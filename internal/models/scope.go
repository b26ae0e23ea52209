package models

import "fmt"

// WorldRoomID is the id of the single implicit world room.
const WorldRoomID = "world"

// Scope names one conversation: the world room, a group by id, or a private
// chat by id.
type Scope struct {
	Type ChatType
	ID   string
}

func WorldScope() Scope {
	return Scope{Type: ChatWorld, ID: WorldRoomID}
}

func GroupScope(id string) Scope {
	return Scope{Type: ChatGroup, ID: id}
}

func PrivateScope(id string) Scope {
	return Scope{Type: ChatPrivate, ID: id}
}

// Key is the map key used by the stores. Group and private ids come from
// different server collections, so the kind is part of the key.
func (s Scope) Key() string {
	if s.Type == ChatWorld {
		return WorldRoomID
	}
	return string(s.Type) + ":" + s.ID
}

func (s Scope) IsWorld() bool {
	return s.Type == ChatWorld
}

func (s Scope) String() string {
	if s.Type == ChatWorld {
		return "world"
	}
	return fmt.Sprintf("%s/%s", s.Type, s.ID)
}
