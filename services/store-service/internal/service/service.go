// Package service is the booking and availability store. Every operation runs in a
// single transaction: the state machine decides, the slot generator re-checks, and
// the resulting outbox event is written before commit.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
	"github.com/md-rashed-zaman/servicebook/libs/schedule"
	"github.com/md-rashed-zaman/servicebook/libs/wire"
	"github.com/md-rashed-zaman/servicebook/services/store-service/internal/outbox"
)

// BookingFilter narrows a booking listing. Zero fields do not filter.
type BookingFilter struct {
	ClientID   string
	ProviderID string
	Status     lifecycle.Status
	// From and To bound the booking's slot time, half-open.
	From       time.Time
	To         time.Time
	ActiveOnly bool
}

func (f BookingFilter) Match(b lifecycle.Booking) bool {
	if f.ClientID != "" && b.ClientID != f.ClientID {
		return false
	}
	if f.ProviderID != "" && b.ProviderID != f.ProviderID {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.ActiveOnly && !b.Status.Active() {
		return false
	}
	at := b.SlotTime()
	if !f.From.IsZero() && at.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !at.Before(f.To) {
		return false
	}
	return true
}

// Queries is the transactional view of storage. Lookups of missing rows return an
// apperr.KindNotFound error.
type Queries interface {
	GetBooking(ctx context.Context, id string, forUpdate bool) (lifecycle.Booking, error)
	InsertBooking(ctx context.Context, b lifecycle.Booking) error
	UpdateBooking(ctx context.Context, b lifecycle.Booking) error
	ListBookings(ctx context.Context, f BookingFilter) ([]lifecycle.Booking, error)
	SaveEvidence(ctx context.Context, ev lifecycle.Evidence) error

	GetAvailability(ctx context.Context, providerID string) (schedule.ProviderAvailability, error)
	SaveAvailability(ctx context.Context, a schedule.ProviderAvailability) error
	InsertVacation(ctx context.Context, providerID string, v schedule.VacationPeriod) error
	DeleteVacation(ctx context.Context, providerID, id string) error

	GetService(ctx context.Context, id string) (schedule.Service, error)
	UpsertService(ctx context.Context, s schedule.Service) error

	AppendOutbox(ctx context.Context, evt outbox.Event) error
}

type Store interface {
	InTx(ctx context.Context, fn func(Queries) error) error
}

type Service struct {
	store  Store
	logger *slog.Logger
	gen    schedule.Generator
	now    func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.gen.Now = now
	}
}

func New(store Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) machine(q Queries) *lifecycle.Machine {
	return &lifecycle.Machine{
		Now:     s.now,
		Checker: s.slotChecker(q),
		Hook:    outboxHook(q),
	}
}

// slotChecker re-runs slot generation against the bookings currently stored for the
// provider, excluding the booking being checked.
func (s *Service) slotChecker(q Queries) lifecycle.SlotChecker {
	return lifecycle.SlotCheckerFunc(func(ctx context.Context, b lifecycle.Booking, at time.Time) error {
		const op = "service.CheckSlot"

		base, err := q.GetAvailability(ctx, b.ProviderID)
		if apperr.Is(err, apperr.KindNotFound) {
			return apperr.Conflict(op, "provider %s has not published availability", b.ProviderID)
		}
		if err != nil {
			return err
		}
		avail, err := s.effective(ctx, q, base, b.ServiceID)
		if err != nil {
			return err
		}
		existing, err := q.ListBookings(ctx, BookingFilter{
			ProviderID: b.ProviderID,
			From:       at.Add(-36 * time.Hour),
			To:         at.Add(36 * time.Hour),
			ActiveOnly: true,
		})
		if err != nil {
			return err
		}
		return s.gen.Check(avail, at, schedule.Occupancies(existing, b.ID))
	})
}

// effective applies the service-level override when serviceID is set.
func (s *Service) effective(ctx context.Context, q Queries, avail schedule.ProviderAvailability, serviceID string) (schedule.ProviderAvailability, error) {
	const op = "service.effective"

	if serviceID == "" {
		return schedule.Effective(avail, nil), nil
	}
	svc, err := q.GetService(ctx, serviceID)
	if err != nil {
		return schedule.ProviderAvailability{}, err
	}
	if svc.ProviderID != avail.ProviderID {
		return schedule.ProviderAvailability{}, apperr.Validation(op, "service %s is not offered by provider %s", serviceID, avail.ProviderID)
	}
	return schedule.Effective(avail, &svc), nil
}

func outboxHook(q Queries) lifecycle.Hook {
	return func(ctx context.Context, t lifecycle.Transition, b lifecycle.Booking) error {
		tr := wire.EncodeTransition(t)
		payload, err := wire.Marshal(wire.BookingEvent{Transition: &tr, Booking: wire.EncodeBooking(b)})
		if err != nil {
			return err
		}
		topic := outbox.TopicBookingStatusChanged
		if t.Action == lifecycle.ActionCreate {
			topic = outbox.TopicBookingCreated
		}
		return q.AppendOutbox(ctx, outbox.Event{
			AggregateType: "booking",
			AggregateID:   b.ID,
			EventType:     topic,
			Payload:       payload,
		})
	}
}

func requireParty(op string, actor lifecycle.Actor, b lifecycle.Booking) error {
	switch {
	case actor.Role == lifecycle.RoleClient && actor.ID == b.ClientID:
		return nil
	case actor.Role == lifecycle.RoleProvider && actor.ID == b.ProviderID:
		return nil
	}
	return apperr.Unauthorized(op, "actor %s is not a party to booking %s", actor.ID, b.ID)
}

func requireProvider(op string, actor lifecycle.Actor, providerID string) error {
	if actor.Role != lifecycle.RoleProvider || actor.ID == "" || actor.ID != providerID {
		return apperr.Unauthorized(op, "only provider %s may change this availability", providerID)
	}
	return nil
}
