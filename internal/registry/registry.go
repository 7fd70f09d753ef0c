// Package registry tracks which participants are connected to each live
// session.
package registry

import (
	"sort"
	"sync"
	"time"

	"focusboard/pkg/interfaces"
	"focusboard/pkg/types"
)

// Participant is one live connection's identity within a session group.
type Participant struct {
	UserID      int64
	Name        string
	Role        types.Role
	SessionID   int64
	Conn        interfaces.Connection
	ConnectedAt time.Time
}

// Info returns the externally visible view of the participant.
func (p *Participant) Info() types.ParticipantInfo {
	return types.ParticipantInfo{
		UserID:      p.UserID,
		UserName:    p.Name,
		Role:        p.Role,
		ConnectedAt: p.ConnectedAt,
	}
}

// group is one session's membership. A group marked dead has been removed
// from the registry and must not receive new members.
type group struct {
	mu      sync.RWMutex
	members map[int64]*Participant
	dead    bool
}

// Registry maps sessions to their connected participants.
// ARCHITECTURAL DISCOVERY: The outer lock only guards the session map;
// membership changes lock a single session's group, so sessions never
// contend with each other
type Registry struct {
	mu     sync.RWMutex
	groups map[int64]*group
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{groups: make(map[int64]*group)}
}

// Register adds p to its session, replacing any participant with the same
// user id. The replaced participant is returned so the caller can close its
// connection; nil means there was none.
func (r *Registry) Register(p *Participant) *Participant {
	for {
		g := r.groupFor(p.SessionID, true)

		g.mu.Lock()
		if g.dead {
			// lost a race with the last deregister; retry on a fresh group
			g.mu.Unlock()
			continue
		}
		old := g.members[p.UserID]
		g.members[p.UserID] = p
		g.mu.Unlock()

		if old != nil && old.Conn != nil && p.Conn != nil && old.Conn.ID() == p.Conn.ID() {
			return nil
		}
		return old
	}
}

// Deregister removes the user's entry whatever connection it holds.
// It reports whether an entry was removed.
func (r *Registry) Deregister(sessionID, userID int64) bool {
	return r.remove(sessionID, userID, func(*Participant) bool { return true })
}

// DeregisterIfCurrent removes the user's entry only while it still holds
// the connection connID. A connection that has been replaced by a newer
// one therefore cannot remove its successor.
func (r *Registry) DeregisterIfCurrent(sessionID, userID int64, connID string) bool {
	return r.remove(sessionID, userID, func(p *Participant) bool {
		return p.Conn != nil && p.Conn.ID() == connID
	})
}

func (r *Registry) remove(sessionID, userID int64, match func(*Participant) bool) bool {
	g := r.groupFor(sessionID, false)
	if g == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.members[userID]
	if !ok || !match(p) {
		return false
	}
	delete(g.members, userID)

	if len(g.members) == 0 && !g.dead {
		g.dead = true
		r.mu.Lock()
		if r.groups[sessionID] == g {
			delete(r.groups, sessionID)
		}
		r.mu.Unlock()
	}
	return true
}

func (r *Registry) groupFor(sessionID int64, create bool) *group {
	r.mu.RLock()
	g := r.groups[sessionID]
	r.mu.RUnlock()
	if g != nil || !create {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g = r.groups[sessionID]; g == nil {
		g = &group{members: make(map[int64]*Participant)}
		r.groups[sessionID] = g
	}
	return g
}

// Participants returns a snapshot of the session's participants ordered by
// connection time.
func (r *Registry) Participants(sessionID int64) []*Participant {
	g := r.groupFor(sessionID, false)
	if g == nil {
		return nil
	}

	g.mu.RLock()
	out := make([]*Participant, 0, len(g.members))
	for _, p := range g.members {
		out = append(out, p)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// All returns a snapshot of every participant across all sessions.
func (r *Registry) All() []*Participant {
	r.mu.RLock()
	groups := make([]*group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	r.mu.RUnlock()

	var out []*Participant
	for _, g := range groups {
		g.mu.RLock()
		for _, p := range g.members {
			out = append(out, p)
		}
		g.mu.RUnlock()
	}
	return out
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	groups := make([]*group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	r.mu.RUnlock()

	stats := map[string]int{"sessions": len(groups)}
	for _, g := range groups {
		g.mu.RLock()
		for _, p := range g.members {
			stats["participants"]++
			stats[string(p.Role)+"s"]++
		}
		g.mu.RUnlock()
	}
	return stats
}
