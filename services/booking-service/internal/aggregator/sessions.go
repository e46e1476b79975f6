package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
)

type sessionEntry struct {
	agg      *Aggregator
	lastSeen time.Time
}

// Sessions hands out one Aggregator per actor, built on first use. Aggregators
// share nothing with each other.
type Sessions struct {
	build func(lifecycle.Actor) *Aggregator
	now   func() time.Time

	mu       sync.Mutex
	sessions map[lifecycle.Actor]*sessionEntry
}

func NewSessions(build func(lifecycle.Actor) *Aggregator) *Sessions {
	return &Sessions{build: build, now: time.Now, sessions: map[lifecycle.Actor]*sessionEntry{}}
}

func (s *Sessions) Get(actor lifecycle.Actor) *Aggregator {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[actor]
	if !ok {
		e = &sessionEntry{agg: s.build(actor)}
		s.sessions[actor] = e
	}
	e.lastSeen = s.now()
	return e.agg
}

// Drop closes and forgets the actor's session.
func (s *Sessions) Drop(actor lifecycle.Actor) {
	s.mu.Lock()
	e, ok := s.sessions[actor]
	delete(s.sessions, actor)
	s.mu.Unlock()
	if ok {
		e.agg.Close()
	}
}

// Evict drops sessions not used for longer than idle and returns how many went.
func (s *Sessions) Evict(idle time.Duration) int {
	cutoff := s.now().Add(-idle)
	var stale []*Aggregator
	s.mu.Lock()
	for actor, e := range s.sessions {
		if e.lastSeen.Before(cutoff) {
			stale = append(stale, e.agg)
			delete(s.sessions, actor)
		}
	}
	s.mu.Unlock()
	for _, a := range stale {
		a.Close()
	}
	return len(stale)
}

// Observe hands b to the open sessions of its client and provider. It does not
// open sessions or count as use. It returns how many sessions took the update.
func (s *Sessions) Observe(ctx context.Context, b lifecycle.Booking) int {
	parties := []lifecycle.Actor{
		{ID: b.ClientID, Role: lifecycle.RoleClient},
		{ID: b.ProviderID, Role: lifecycle.RoleProvider},
	}
	var open []*Aggregator
	s.mu.Lock()
	for _, actor := range parties {
		if e, ok := s.sessions[actor]; ok {
			open = append(open, e.agg)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, a := range open {
		if a.Observe(ctx, b) {
			n++
		}
	}
	return n
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
