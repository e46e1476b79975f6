package storage

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
	"github.com/md-rashed-zaman/servicebook/libs/schedule"
	"github.com/md-rashed-zaman/servicebook/services/store-service/internal/outbox"
	"github.com/md-rashed-zaman/servicebook/services/store-service/internal/service"
)

// Memory is a process-local store. Transactions are serialized and work on a copy
// that replaces the state only when fn succeeds.
type Memory struct {
	mu    sync.Mutex
	state memState
}

func NewMemory() *Memory {
	return &Memory{state: memState{
		bookings: map[string]lifecycle.Booking{},
		avail:    map[string]schedule.ProviderAvailability{},
		services: map[string]schedule.Service{},
	}}
}

func (m *Memory) InTx(ctx context.Context, fn func(service.Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return apperr.Transient("storage.Memory.InTx", err)
	}
	work := m.state.clone()
	if err := fn(&memQueries{s: &work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// Events returns the outbox events written so far. Memory has no publisher.
func (m *Memory) Events() []outbox.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.state.events)
}

type memState struct {
	bookings map[string]lifecycle.Booking
	avail    map[string]schedule.ProviderAvailability
	services map[string]schedule.Service
	events   []outbox.Event
}

func (s memState) clone() memState {
	out := memState{
		bookings: make(map[string]lifecycle.Booking, len(s.bookings)),
		avail:    make(map[string]schedule.ProviderAvailability, len(s.avail)),
		services: make(map[string]schedule.Service, len(s.services)),
		events:   slices.Clone(s.events),
	}
	for k, v := range s.bookings {
		out.bookings[k] = v.Clone()
	}
	for k, v := range s.avail {
		out.avail[k] = copyAvailability(v)
	}
	for k, v := range s.services {
		out.services[k] = v
	}
	return out
}

func copyAvailability(a schedule.ProviderAvailability) schedule.ProviderAvailability {
	a.Weekly = a.Weekly.Clone()
	a.Vacations = slices.Clone(a.Vacations)
	return a
}

type memQueries struct{ s *memState }

func (q *memQueries) GetBooking(_ context.Context, id string, _ bool) (lifecycle.Booking, error) {
	b, ok := q.s.bookings[id]
	if !ok {
		return lifecycle.Booking{}, apperr.NotFound("storage.GetBooking", "booking "+id)
	}
	return b.Clone(), nil
}

func (q *memQueries) InsertBooking(_ context.Context, b lifecycle.Booking) error {
	if _, ok := q.s.bookings[b.ID]; ok {
		return apperr.Conflict("storage.InsertBooking", "record already exists")
	}
	q.s.bookings[b.ID] = b.Clone()
	return nil
}

func (q *memQueries) UpdateBooking(_ context.Context, b lifecycle.Booking) error {
	if _, ok := q.s.bookings[b.ID]; !ok {
		return apperr.NotFound("storage.UpdateBooking", "booking "+b.ID)
	}
	q.s.bookings[b.ID] = b.Clone()
	return nil
}

func (q *memQueries) ListBookings(_ context.Context, f service.BookingFilter) ([]lifecycle.Booking, error) {
	var out []lifecycle.Booking
	for _, b := range q.s.bookings {
		if f.Match(b) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].SlotTime(), out[j].SlotTime()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SaveEvidence is a no-op: evidence lives on the booking saved by UpdateBooking.
func (q *memQueries) SaveEvidence(context.Context, lifecycle.Evidence) error { return nil }

func (q *memQueries) GetAvailability(_ context.Context, providerID string) (schedule.ProviderAvailability, error) {
	a, ok := q.s.avail[providerID]
	if !ok {
		return schedule.ProviderAvailability{}, apperr.NotFound("storage.GetAvailability", "availability of provider "+providerID)
	}
	return copyAvailability(a), nil
}

func (q *memQueries) SaveAvailability(_ context.Context, a schedule.ProviderAvailability) error {
	stored := copyAvailability(a)
	stored.Vacations = slices.Clone(q.s.avail[a.ProviderID].Vacations)
	q.s.avail[a.ProviderID] = stored
	return nil
}

func (q *memQueries) InsertVacation(_ context.Context, providerID string, v schedule.VacationPeriod) error {
	a, ok := q.s.avail[providerID]
	if !ok {
		return apperr.Validation("storage.InsertVacation", "provider %s has no availability", providerID)
	}
	a.Vacations = append(slices.Clone(a.Vacations), v)
	q.s.avail[providerID] = a
	return nil
}

func (q *memQueries) DeleteVacation(_ context.Context, providerID, id string) error {
	a := q.s.avail[providerID]
	n := len(a.Vacations)
	a.Vacations = slices.DeleteFunc(slices.Clone(a.Vacations), func(v schedule.VacationPeriod) bool { return v.ID == id })
	if len(a.Vacations) == n {
		return apperr.NotFound("storage.DeleteVacation", "vacation "+id)
	}
	q.s.avail[providerID] = a
	return nil
}

func (q *memQueries) GetService(_ context.Context, id string) (schedule.Service, error) {
	svc, ok := q.s.services[id]
	if !ok {
		return schedule.Service{}, apperr.NotFound("storage.GetService", "service "+id)
	}
	return svc, nil
}

func (q *memQueries) UpsertService(_ context.Context, svc schedule.Service) error {
	q.s.services[svc.ID] = svc
	return nil
}

func (q *memQueries) AppendOutbox(_ context.Context, evt outbox.Event) error {
	q.s.events = append(q.s.events, evt)
	return nil
}
