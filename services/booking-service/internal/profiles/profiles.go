// Package profiles resolves display data for the other party of a booking.
// Profiles are decoration only; nothing here is used to authorize a call.
package profiles

import (
	"context"
	"sync"

	"github.com/md-rashed-zaman/servicebook/libs/apperr"
)

type Profile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Picture  string `json:"picture,omitempty"`
	Verified bool   `json:"verified"`
}

type Directory interface {
	GetProfile(ctx context.Context, id string) (Profile, error)
}

// Static serves profiles from memory. Unknown ids get a placeholder profile so
// enrichment never blocks on a missing entry.
type Static struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewStatic(ps ...Profile) *Static {
	s := &Static{profiles: map[string]Profile{}}
	for _, p := range ps {
		s.profiles[p.ID] = p
	}
	return s
}

func (s *Static) Put(p Profile) {
	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()
}

func (s *Static) GetProfile(_ context.Context, id string) (Profile, error) {
	const op = "profiles.Static.GetProfile"

	if id == "" {
		return Profile{}, apperr.Validation(op, "profile id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[id]; ok {
		return p, nil
	}
	return Profile{ID: id, Name: id}, nil
}
