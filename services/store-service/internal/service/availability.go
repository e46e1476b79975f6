package service

import (
	"context"
	"strings"
	"time"

	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
	"github.com/md-rashed-zaman/servicebook/libs/schedule"
	"github.com/md-rashed-zaman/servicebook/libs/wire"
	"github.com/md-rashed-zaman/servicebook/services/store-service/internal/outbox"
)

// AvailabilityInput replaces a provider's weekly schedule and booking policy.
type AvailabilityInput struct {
	Weekly                schedule.WeeklySchedule
	InstantBookingEnabled bool
	BookingNoticeHours    int
	MaxBookingsPerDay     int
	// Timezone keeps the stored zone when empty.
	Timezone string
}

// SetAvailability creates the provider's availability on first use.
func (s *Service) SetAvailability(ctx context.Context, actor lifecycle.Actor, providerID string, in AvailabilityInput) (schedule.ProviderAvailability, error) {
	const op = "service.SetAvailability"

	if err := requireProvider(op, actor, providerID); err != nil {
		return schedule.ProviderAvailability{}, err
	}
	if tz := strings.TrimSpace(in.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return schedule.ProviderAvailability{}, apperr.Validation(op, "unknown timezone %q", tz)
		}
	}

	var out schedule.ProviderAvailability
	err := s.store.InTx(ctx, func(q Queries) error {
		a, err := q.GetAvailability(ctx, providerID)
		switch {
		case apperr.Is(err, apperr.KindNotFound):
			a = schedule.NewProviderAvailability(providerID)
		case err != nil:
			return err
		}
		if tz := strings.TrimSpace(in.Timezone); tz != "" {
			a.Timezone = tz
		}
		if err := a.SetAvailability(in.Weekly, in.InstantBookingEnabled, in.BookingNoticeHours, in.MaxBookingsPerDay); err != nil {
			return err
		}
		a.UpdatedAt = s.now().UTC()
		if err := q.SaveAvailability(ctx, a); err != nil {
			return err
		}
		if err := appendAvailabilityEvent(ctx, q, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func (s *Service) GetAvailability(ctx context.Context, providerID string) (schedule.ProviderAvailability, error) {
	var out schedule.ProviderAvailability
	err := s.store.InTx(ctx, func(q Queries) error {
		a, err := q.GetAvailability(ctx, providerID)
		out = a
		return err
	})
	return out, err
}

func (s *Service) AddVacation(ctx context.Context, actor lifecycle.Actor, providerID string, start, end time.Time, reason string) (schedule.VacationPeriod, error) {
	const op = "service.AddVacation"

	if err := requireProvider(op, actor, providerID); err != nil {
		return schedule.VacationPeriod{}, err
	}
	var out schedule.VacationPeriod
	err := s.store.InTx(ctx, func(q Queries) error {
		a, err := q.GetAvailability(ctx, providerID)
		if err != nil {
			return err
		}
		v, err := a.AddVacation(start, end, reason)
		if err != nil {
			return err
		}
		if err := q.InsertVacation(ctx, providerID, v); err != nil {
			return err
		}
		a.UpdatedAt = s.now().UTC()
		if err := q.SaveAvailability(ctx, a); err != nil {
			return err
		}
		if err := appendAvailabilityEvent(ctx, q, a); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (s *Service) RemoveVacation(ctx context.Context, actor lifecycle.Actor, providerID, vacationID string) error {
	const op = "service.RemoveVacation"

	if err := requireProvider(op, actor, providerID); err != nil {
		return err
	}
	return s.store.InTx(ctx, func(q Queries) error {
		a, err := q.GetAvailability(ctx, providerID)
		if err != nil {
			return err
		}
		if err := a.RemoveVacation(vacationID); err != nil {
			return err
		}
		if err := q.DeleteVacation(ctx, providerID, vacationID); err != nil {
			return err
		}
		a.UpdatedAt = s.now().UTC()
		if err := q.SaveAvailability(ctx, a); err != nil {
			return err
		}
		return appendAvailabilityEvent(ctx, q, a)
	})
}

// AvailableSlots lists the slots of date. A provider that never published
// availability has no slots. serviceID may be empty.
func (s *Service) AvailableSlots(ctx context.Context, providerID, serviceID string, date time.Time) ([]schedule.AvailableSlot, error) {
	out := []schedule.AvailableSlot{}
	err := s.store.InTx(ctx, func(q Queries) error {
		base, err := q.GetAvailability(ctx, providerID)
		if apperr.Is(err, apperr.KindNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		a, err := s.effective(ctx, q, base, serviceID)
		if err != nil {
			return err
		}
		existing, err := s.bookingsAround(ctx, q, providerID, date)
		if err != nil {
			return err
		}
		out = s.gen.Slots(a, date, existing)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IsProviderAvailable reports whether a booking could be placed at the instant.
func (s *Service) IsProviderAvailable(ctx context.Context, providerID, serviceID string, at time.Time) (bool, error) {
	var ok bool
	err := s.store.InTx(ctx, func(q Queries) error {
		base, err := q.GetAvailability(ctx, providerID)
		if apperr.Is(err, apperr.KindNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		a, err := s.effective(ctx, q, base, serviceID)
		if err != nil {
			return err
		}
		existing, err := s.bookingsAround(ctx, q, providerID, at)
		if err != nil {
			return err
		}
		ok = s.gen.IsAvailable(a, at, existing)
		return nil
	})
	return ok, err
}

// bookingsAround loads active bookings within a window wide enough to cover the
// calendar day of t in any timezone.
func (s *Service) bookingsAround(ctx context.Context, q Queries, providerID string, t time.Time) ([]schedule.Occupancy, error) {
	bs, err := q.ListBookings(ctx, BookingFilter{
		ProviderID: providerID,
		From:       t.Add(-36 * time.Hour),
		To:         t.Add(36 * time.Hour),
		ActiveOnly: true,
	})
	if err != nil {
		return nil, err
	}
	return schedule.Occupancies(bs, ""), nil
}

func (s *Service) UpsertService(ctx context.Context, actor lifecycle.Actor, svc schedule.Service) (schedule.Service, error) {
	const op = "service.UpsertService"

	if strings.TrimSpace(svc.ID) == "" {
		return schedule.Service{}, apperr.Validation(op, "service id is required")
	}
	if err := requireProvider(op, actor, svc.ProviderID); err != nil {
		return schedule.Service{}, err
	}
	if svc.Price < 0 {
		return schedule.Service{}, apperr.Validation(op, "price must not be negative")
	}
	if svc.Status == "" {
		svc.Status = schedule.ServiceAvailable
	}
	if svc.Override != nil && svc.Override.Weekly != nil {
		if err := svc.Override.Weekly.Validate(); err != nil {
			return schedule.Service{}, err
		}
	}
	if svc.Override != nil && svc.Override.Policy != nil {
		if p := svc.Override.Policy; p.BookingNoticeHours < 0 || p.MaxBookingsPerDay < 0 {
			return schedule.Service{}, apperr.Validation(op, "policy values must not be negative")
		}
	}
	err := s.store.InTx(ctx, func(q Queries) error {
		existing, err := q.GetService(ctx, svc.ID)
		switch {
		case err == nil && existing.ProviderID != svc.ProviderID:
			return apperr.Unauthorized(op, "service %s belongs to another provider", svc.ID)
		case err != nil && !apperr.Is(err, apperr.KindNotFound):
			return err
		}
		return q.UpsertService(ctx, svc)
	})
	if err != nil {
		return schedule.Service{}, err
	}
	return svc, nil
}

func (s *Service) GetService(ctx context.Context, id string) (schedule.Service, error) {
	var out schedule.Service
	err := s.store.InTx(ctx, func(q Queries) error {
		svc, err := q.GetService(ctx, id)
		out = svc
		return err
	})
	return out, err
}

func appendAvailabilityEvent(ctx context.Context, q Queries, a schedule.ProviderAvailability) error {
	payload, err := wire.Marshal(wire.EncodeAvailability(a))
	if err != nil {
		return err
	}
	return q.AppendOutbox(ctx, outbox.Event{
		AggregateType: "availability",
		AggregateID:   a.ProviderID,
		EventType:     outbox.TopicAvailabilityUpdated,
		Payload:       payload,
	})
}
