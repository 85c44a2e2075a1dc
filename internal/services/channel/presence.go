package channel

import (
	"time"

	"mleschat/internal/domain"
)

const (
	// ActiveWindow is how recently a participant must have been seen to
	// count as active.
	ActiveWindow = 2 * time.Minute
	// IdleWindow is the limit past which a participant is unavailable.
	IdleWindow = 10 * time.Minute
)

// Presence tracks when each participant was last heard from.
type Presence struct {
	seen map[string]time.Time
}

func NewPresence() *Presence { return &Presence{seen: make(map[string]time.Time)} }

// Seen records traffic from id at t. Older observations never move the
// last-seen time backwards.
func (p *Presence) Seen(id string, t time.Time) {
	if last, ok := p.seen[id]; !ok || t.After(last) {
		p.seen[id] = t
	}
}

// Status classifies id as of now.
func (p *Presence) Status(id string, now time.Time) domain.PresenceStatus {
	last, ok := p.seen[id]
	if !ok {
		return domain.PresenceUnavailable
	}
	switch age := now.Sub(last); {
	case age < ActiveWindow:
		return domain.PresenceActive
	case age < IdleWindow:
		return domain.PresenceIdle
	default:
		return domain.PresenceUnavailable
	}
}

// Snapshot classifies every known participant.
func (p *Presence) Snapshot(now time.Time) map[string]domain.PresenceStatus {
	out := make(map[string]domain.PresenceStatus, len(p.seen))
	for id := range p.seen {
		out[id] = p.Status(id, now)
	}
	return out
}

func (p *Presence) Clear() { p.seen = make(map[string]time.Time) }
