package chat

import (
	"sync"
	"time"

	"github.com/Patsimim/GlobalChat/internal/models"
	"github.com/google/uuid"
)

// PendingSend correlates an optimistic send with its eventual socket echo or
// request failure. It lives from the moment the user submits until one of the
// two outcomes arrives.
type PendingSend struct {
	LocalID     uuid.UUID
	Scope       models.Scope
	Body        string
	SubmittedAt time.Time
}

// PendingSends is the outstanding-send table. Each record is removed exactly
// once, either by MatchEcho or by Fail, so a failed send restores the
// composer once and never twice.
type PendingSends struct {
	mu   sync.Mutex
	list []*PendingSend
}

func NewPendingSends() *PendingSends {
	return &PendingSends{}
}

func (p *PendingSends) Add(scope models.Scope, body string) *PendingSend {
	ps := &PendingSend{
		LocalID:     uuid.New(),
		Scope:       scope,
		Body:        body,
		SubmittedAt: time.Now(),
	}

	p.mu.Lock()
	p.list = append(p.list, ps)
	p.mu.Unlock()
	return ps
}

// MatchEcho removes and returns the oldest outstanding send for the given
// room and body. The echo itself is appended by the caller; identity
// reconciliation is implicit because isMine is derived from sender identity.
func (p *PendingSends) MatchEcho(scope models.Scope, body string) (*PendingSend, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, ps := range p.list {
		if ps.Scope == scope && ps.Body == body {
			p.list = append(p.list[:i], p.list[i+1:]...)
			return ps, true
		}
	}
	return nil, false
}

// Fail removes the record by local id. The second call for the same id
// reports false, which is what keeps the composer restore from running twice
// when a request failure races the expiry janitor.
func (p *PendingSends) Fail(localID uuid.UUID) (*PendingSend, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, ps := range p.list {
		if ps.LocalID == localID {
			p.list = append(p.list[:i], p.list[i+1:]...)
			return ps, true
		}
	}
	return nil, false
}

// Expire removes and returns every record submitted before the cutoff.
func (p *PendingSends) Expire(cutoff time.Time) []*PendingSend {
	p.mu.Lock()
	defer p.mu.Unlock()

	var expired []*PendingSend
	kept := p.list[:0]
	for _, ps := range p.list {
		if ps.SubmittedAt.Before(cutoff) {
			expired = append(expired, ps)
		} else {
			kept = append(kept, ps)
		}
	}
	p.list = kept
	return expired
}

func (p *PendingSends) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.list)
}

func (p *PendingSends) Clear() {
	p.mu.Lock()
	p.list = nil
	p.mu.Unlock()
}
