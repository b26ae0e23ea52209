package chat

import (
	"sort"
	"sync"

	"github.com/Patsimim/GlobalChat/internal/models"
)

// RoomDirectory tracks the rooms the client belongs to and their derived
// fields: last-message preview and unread counters. It makes no network
// calls; all mutation arrives through the coordinator.
type RoomDirectory struct {
	mu      sync.RWMutex
	rooms   map[string]*models.Room
	focused string
}

func NewRoomDirectory() *RoomDirectory {
	d := &RoomDirectory{rooms: make(map[string]*models.Room)}

	// The world room always exists; the server never reports it.
	world := &models.Room{
		ID:   models.WorldRoomID,
		Name: "World Chat",
		Type: models.ChatWorld,
	}
	d.rooms[world.Scope().Key()] = world
	return d
}

// List returns the current snapshot of rooms of one kind, newest activity
// first. Callers must not mutate the returned records.
func (d *RoomDirectory) List(kind models.ChatType) []*models.Room {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*models.Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		if r.Type == kind {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].UpdatedAt, out[j].UpdatedAt
		if lm := out[i].LastMessage; lm != nil {
			ti = lm.Timestamp
		}
		if lm := out[j].LastMessage; lm != nil {
			tj = lm.Timestamp
		}
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *RoomDirectory) Get(scope models.Scope) (*models.Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[scope.Key()]
	return r, ok
}

// Upsert inserts or replaces a room by id. The unread counter survives a
// replace when the incoming record omits it, so list refreshes do not wipe
// unread state.
func (d *RoomDirectory) Upsert(room models.Room) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := room.Scope().Key()
	if existing, ok := d.rooms[key]; ok && room.UnreadCount == 0 {
		room.UnreadCount = existing.UnreadCount
	}
	d.rooms[key] = &room
}

func (d *RoomDirectory) Remove(scope models.Scope) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := scope.Key()
	delete(d.rooms, key)
	if d.focused == key {
		d.focused = ""
	}
}

// MarkFocused records the active selection and zeroes its unread counter.
func (d *RoomDirectory) MarkFocused(scope models.Scope) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := scope.Key()
	d.focused = key
	if r, ok := d.rooms[key]; ok {
		r.UnreadCount = 0
	}
}

func (d *RoomDirectory) ClearFocus() {
	d.mu.Lock()
	d.focused = ""
	d.mu.Unlock()
}

func (d *RoomDirectory) Focused() (models.Scope, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.focused == "" {
		return models.Scope{}, false
	}
	if r, ok := d.rooms[d.focused]; ok {
		return r.Scope(), true
	}
	return models.Scope{}, false
}

// RecordIncoming refreshes the last-message preview and bumps the unread
// counter unless the room is the active selection.
func (d *RoomDirectory) RecordIncoming(scope models.Scope, msg models.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := scope.Key()
	r, ok := d.rooms[key]
	if !ok {
		return
	}

	r.LastMessage = &models.LastMessage{
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
		SenderID:  msg.SenderID,
	}
	if d.focused != key {
		r.UnreadCount++
	}
}

// Clear drops every room and re-seeds the world room, used on session end.
func (d *RoomDirectory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rooms = make(map[string]*models.Room)
	d.focused = ""
	world := &models.Room{
		ID:   models.WorldRoomID,
		Name: "World Chat",
		Type: models.ChatWorld,
	}
	d.rooms[world.Scope().Key()] = world
}
