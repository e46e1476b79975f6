package service

import (
	"context"

	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
	"github.com/md-rashed-zaman/servicebook/libs/wire"
	"github.com/md-rashed-zaman/servicebook/services/store-service/internal/outbox"
)

// CreateBooking stores a new Requested booking. A draft carrying an id that already
// exists for the same client returns the stored booking, so a retried create is safe.
func (s *Service) CreateBooking(ctx context.Context, actor lifecycle.Actor, d lifecycle.Draft) (lifecycle.Booking, error) {
	const op = "service.CreateBooking"

	var out lifecycle.Booking
	err := s.store.InTx(ctx, func(q Queries) error {
		if d.ID != "" {
			existing, err := q.GetBooking(ctx, d.ID, false)
			switch {
			case err == nil && existing.ClientID == actor.ID && actor.Role == lifecycle.RoleClient:
				out = existing
				return nil
			case err == nil:
				return apperr.Conflict(op, "booking id %s is already taken", d.ID)
			case !apperr.Is(err, apperr.KindNotFound):
				return err
			}
		}
		b, err := s.machine(q).Create(ctx, actor, d)
		if err != nil {
			return err
		}
		if err := q.InsertBooking(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return lifecycle.Booking{}, err
	}
	s.logger.Info("booking created", "booking_id", out.ID, "provider_id", out.ProviderID, "client_id", out.ClientID)
	return out, nil
}

func (s *Service) GetBooking(ctx context.Context, actor lifecycle.Actor, id string) (lifecycle.Booking, error) {
	const op = "service.GetBooking"

	var out lifecycle.Booking
	err := s.store.InTx(ctx, func(q Queries) error {
		b, err := q.GetBooking(ctx, id, false)
		if err != nil {
			return err
		}
		if err := requireParty(op, actor, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

func (s *Service) ClientBookings(ctx context.Context, actor lifecycle.Actor, clientID string) ([]lifecycle.Booking, error) {
	const op = "service.ClientBookings"

	if actor.Role != lifecycle.RoleClient || actor.ID != clientID {
		return nil, apperr.Unauthorized(op, "bookings of client %s are not visible to %s", clientID, actor.ID)
	}
	return s.list(ctx, BookingFilter{ClientID: clientID})
}

func (s *Service) ProviderBookings(ctx context.Context, actor lifecycle.Actor, providerID string) ([]lifecycle.Booking, error) {
	const op = "service.ProviderBookings"

	if actor.Role != lifecycle.RoleProvider || actor.ID != providerID {
		return nil, apperr.Unauthorized(op, "bookings of provider %s are not visible to %s", providerID, actor.ID)
	}
	return s.list(ctx, BookingFilter{ProviderID: providerID})
}

// BookingsByStatus lists the actor's own bookings in one status.
func (s *Service) BookingsByStatus(ctx context.Context, actor lifecycle.Actor, status lifecycle.Status) ([]lifecycle.Booking, error) {
	const op = "service.BookingsByStatus"

	if !status.Valid() {
		return nil, apperr.Validation(op, "unknown status %q", status)
	}
	f := BookingFilter{Status: status}
	switch actor.Role {
	case lifecycle.RoleClient:
		f.ClientID = actor.ID
	case lifecycle.RoleProvider:
		f.ProviderID = actor.ID
	default:
		return nil, apperr.Unauthorized(op, "an actor role is required")
	}
	if actor.ID == "" {
		return nil, apperr.Unauthorized(op, "an actor id is required")
	}
	return s.list(ctx, f)
}

func (s *Service) list(ctx context.Context, f BookingFilter) ([]lifecycle.Booking, error) {
	var out []lifecycle.Booking
	err := s.store.InTx(ctx, func(q Queries) error {
		bs, err := q.ListBookings(ctx, f)
		out = bs
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []lifecycle.Booking{}
	}
	return out, nil
}

// Transition applies one lifecycle action under a row lock. Accept re-checks the
// scheduled slot against the bookings stored at that moment.
func (s *Service) Transition(ctx context.Context, actor lifecycle.Actor, id string, req lifecycle.Request) (lifecycle.Booking, error) {
	var out lifecycle.Booking
	err := s.store.InTx(ctx, func(q Queries) error {
		b, err := q.GetBooking(ctx, id, true)
		if err != nil {
			return err
		}
		if _, err := s.machine(q).Apply(ctx, &b, actor, req); err != nil {
			return err
		}
		if req.Evidence != nil && b.Evidence != nil {
			if err := q.SaveEvidence(ctx, *b.Evidence); err != nil {
				return err
			}
		}
		if err := q.UpdateBooking(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return lifecycle.Booking{}, err
	}
	s.logger.Info("booking transitioned", "booking_id", out.ID, "action", string(req.Action), "status", out.Status.String())
	return out, nil
}

// SubmitEvidence attaches evidence to a Disputed booking, replacing any earlier one.
func (s *Service) SubmitEvidence(ctx context.Context, actor lifecycle.Actor, id string, in lifecycle.EvidenceInput) (lifecycle.Booking, error) {
	var out lifecycle.Booking
	err := s.store.InTx(ctx, func(q Queries) error {
		b, err := q.GetBooking(ctx, id, true)
		if err != nil {
			return err
		}
		if err := s.machine(q).AttachEvidence(&b, actor, in); err != nil {
			return err
		}
		if err := q.SaveEvidence(ctx, *b.Evidence); err != nil {
			return err
		}
		if err := q.UpdateBooking(ctx, b); err != nil {
			return err
		}
		payload, err := wire.Marshal(wire.BookingEvent{Booking: wire.EncodeBooking(b)})
		if err != nil {
			return err
		}
		if err := q.AppendOutbox(ctx, outbox.Event{
			AggregateType: "booking",
			AggregateID:   b.ID,
			EventType:     outbox.TopicEvidenceSubmitted,
			Payload:       payload,
		}); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}
