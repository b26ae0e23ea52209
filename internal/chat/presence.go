package chat

import (
	"sort"
	"sync"

	"github.com/Patsimim/GlobalChat/internal/models"
)

// PresenceTracker maintains the online-user set. The set is driven purely by
// server push: full snapshots replace it, explicit add/remove events patch
// it. It is never inferred from message activity.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[string]models.User
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]models.User)}
}

// ReplaceAll swaps the whole set for a server snapshot.
func (p *PresenceTracker) ReplaceAll(users []models.User) {
	next := make(map[string]models.User, len(users))
	for _, u := range users {
		u.IsOnline = true
		next[u.ID] = u
	}

	p.mu.Lock()
	p.online = next
	p.mu.Unlock()
}

func (p *PresenceTracker) SetOnline(user models.User) {
	user.IsOnline = true
	p.mu.Lock()
	p.online[user.ID] = user
	p.mu.Unlock()
}

func (p *PresenceTracker) SetOffline(userID string) {
	p.mu.Lock()
	delete(p.online, userID)
	p.mu.Unlock()
}

func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Snapshot returns the current online set sorted by display name.
func (p *PresenceTracker) Snapshot() []models.User {
	p.mu.RLock()
	out := make([]models.User, 0, len(p.online))
	for _, u := range p.online {
		out = append(out, u)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ni, nj := out[i].DisplayName(), out[j].DisplayName()
		if ni != nj {
			return ni < nj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (p *PresenceTracker) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.online)
}

func (p *PresenceTracker) Clear() {
	p.mu.Lock()
	p.online = make(map[string]models.User)
	p.mu.Unlock()
}
