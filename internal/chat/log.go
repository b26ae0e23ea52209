package chat

import (
	"sort"
	"sync"

	"github.com/Patsimim/GlobalChat/internal/models"
)

// MessageLog holds the per-room ordered message buffers. Buffers are
// append-only between page loads and unbounded: history is paged from the
// server on demand, so there is no eviction.
type MessageLog struct {
	mu    sync.RWMutex
	rooms map[string][]models.Message
}

func NewMessageLog() *MessageLog {
	return &MessageLog{rooms: make(map[string][]models.Message)}
}

// Replace swaps the entire buffer for a room with a freshly fetched page,
// sorted by (timestamp, id) with duplicates collapsed.
func (l *MessageLog) Replace(scope models.Scope, messages []models.Message) {
	sorted := make([]models.Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Before(&sorted[j])
	})

	deduped := sorted[:0]
	seen := make(map[string]bool, len(sorted))
	for _, m := range sorted {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		deduped = append(deduped, m)
	}

	l.mu.Lock()
	l.rooms[scope.Key()] = deduped
	l.mu.Unlock()
}

// Append inserts a message keeping the (timestamp, id) order. A message whose
// id is already present replaces the existing entry in place instead of
// duplicating it, which makes duplicate delivery and placeholder
// reconciliation idempotent.
func (l *MessageLog) Append(scope models.Scope, msg models.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := scope.Key()
	buf := l.rooms[key]

	for i := range buf {
		if buf[i].ID == msg.ID {
			buf[i] = msg
			return
		}
	}

	// Messages almost always arrive in order, so walk from the end.
	pos := len(buf)
	for pos > 0 && msg.Before(&buf[pos-1]) {
		pos--
	}

	buf = append(buf, models.Message{})
	copy(buf[pos+1:], buf[pos:])
	buf[pos] = msg
	l.rooms[key] = buf
}

// Get returns a snapshot of the room's buffer at call time. Live updates are
// observed through the coordinator's update stream, not by polling this.
func (l *MessageLog) Get(scope models.Scope) []models.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	buf := l.rooms[scope.Key()]
	out := make([]models.Message, len(buf))
	copy(out, buf)
	return out
}

func (l *MessageLog) Len(scope models.Scope) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rooms[scope.Key()])
}

// Drop discards a room's buffer, used when the server deletes the room or the
// session ends.
func (l *MessageLog) Drop(scope models.Scope) {
	l.mu.Lock()
	delete(l.rooms, scope.Key())
	l.mu.Unlock()
}

// Clear discards every buffer.
func (l *MessageLog) Clear() {
	l.mu.Lock()
	l.rooms = make(map[string][]models.Message)
	l.mu.Unlock()
}
