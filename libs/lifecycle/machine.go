// Package lifecycle is the booking status state machine.
//
// The graph is fixed:
//
//	Requested -> Accepted | Declined | Cancelled
//	Accepted  -> InProgress | Cancelled | Disputed
//	InProgress -> Completed | Disputed
//	Completed -> Disputed
//
// Each edge is gated on the actor's role and on the actor being the booking's own
// client or provider.
package lifecycle

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/servicebook/libs/apperr"
)

type Action string

const (
	ActionCreate   Action = "create"
	ActionAccept   Action = "accept"
	ActionDecline  Action = "decline"
	ActionCancel   Action = "cancel"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionDispute  Action = "dispute"
)

type rule struct {
	from  []Status
	to    Status
	roles []Role
}

var rules = map[Action]rule{
	ActionAccept:   {from: []Status{StatusRequested}, to: StatusAccepted, roles: []Role{RoleProvider}},
	ActionDecline:  {from: []Status{StatusRequested}, to: StatusDeclined, roles: []Role{RoleProvider}},
	ActionCancel:   {from: []Status{StatusRequested, StatusAccepted}, to: StatusCancelled, roles: []Role{RoleClient}},
	ActionStart:    {from: []Status{StatusAccepted}, to: StatusInProgress, roles: []Role{RoleProvider}},
	ActionComplete: {from: []Status{StatusInProgress}, to: StatusCompleted, roles: []Role{RoleProvider}},
	ActionDispute:  {from: []Status{StatusAccepted, StatusInProgress, StatusCompleted}, to: StatusDisputed, roles: []Role{RoleClient, RoleProvider}},
}

// Target is the status a successful action leaves the booking in. Create is not
// a transition and has none.
func Target(a Action) (Status, bool) {
	r, ok := rules[a]
	return r.to, ok
}

// CanTransition reports whether from -> to is an edge of the graph.
func CanTransition(from, to Status) bool {
	for _, r := range rules {
		if r.to == to && slices.Contains(r.from, from) {
			return true
		}
	}
	return false
}

// ValidPath reports whether seq is a realizable status history.
func ValidPath(seq []Status) bool {
	if len(seq) == 0 || seq[0] != StatusRequested {
		return false
	}
	for i := 1; i < len(seq); i++ {
		if !CanTransition(seq[i-1], seq[i]) {
			return false
		}
	}
	return true
}

// SlotChecker re-validates an instant against the provider's current availability.
// Implementations must ignore b itself when counting existing bookings.
type SlotChecker interface {
	CheckSlot(ctx context.Context, b Booking, at time.Time) error
}

type SlotCheckerFunc func(ctx context.Context, b Booking, at time.Time) error

func (f SlotCheckerFunc) CheckSlot(ctx context.Context, b Booking, at time.Time) error {
	return f(ctx, b, at)
}

type Transition struct {
	BookingID string
	Action    Action
	From      Status
	To        Status
	Actor     Actor
	At        time.Time
}

// Hook runs after a transition is decided and before it is committed to the booking.
// A hook error aborts the transition.
type Hook func(ctx context.Context, t Transition, b Booking) error

type Request struct {
	Action        Action
	ScheduledDate *time.Time
	Evidence      *EvidenceInput
}

type EvidenceInput struct {
	Description string
	FileURLs    []string
}

type Machine struct {
	Now     func() time.Time
	Checker SlotChecker
	Hook    Hook
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

// Create builds a Requested booking after re-running the slot check on the
// requested date.
func (m *Machine) Create(ctx context.Context, actor Actor, d Draft) (Booking, error) {
	const op = "lifecycle.Create"

	if actor.Role != RoleClient {
		return Booking{}, apperr.Unauthorized(op, "only clients may request bookings")
	}
	if d.ClientID == "" {
		d.ClientID = actor.ID
	}
	if d.ClientID != actor.ID {
		return Booking{}, apperr.Unauthorized(op, "client %s cannot book on behalf of %s", actor.ID, d.ClientID)
	}
	if strings.TrimSpace(d.ProviderID) == "" || strings.TrimSpace(d.ServiceID) == "" {
		return Booking{}, apperr.Validation(op, "provider and service are required")
	}
	if d.RequestedDate.IsZero() {
		return Booking{}, apperr.Validation(op, "requested date is required")
	}
	if d.Price < 0 {
		return Booking{}, apperr.Validation(op, "price must not be negative")
	}

	now := m.now()
	b := Booking{
		ID:            d.ID,
		ClientID:      d.ClientID,
		ProviderID:    d.ProviderID,
		ServiceID:     d.ServiceID,
		Status:        StatusRequested,
		RequestedDate: d.RequestedDate.UTC(),
		Price:         d.Price,
		Location:      d.Location,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if m.Checker != nil {
		if err := m.Checker.CheckSlot(ctx, b, b.RequestedDate); err != nil {
			return Booking{}, err
		}
	}
	if m.Hook != nil {
		t := Transition{BookingID: b.ID, Action: ActionCreate, To: StatusRequested, Actor: actor, At: now}
		if err := m.Hook(ctx, t, b); err != nil {
			return Booking{}, err
		}
	}
	return b, nil
}

// Apply performs req on b. On any failure b is left untouched.
func (m *Machine) Apply(ctx context.Context, b *Booking, actor Actor, req Request) (Transition, error) {
	const op = "lifecycle.Apply"

	r, ok := rules[req.Action]
	if !ok {
		return Transition{}, apperr.Validation(op, "unknown action %q", req.Action)
	}
	if !slices.Contains(r.roles, actor.Role) {
		return Transition{}, apperr.Unauthorized(op, "%s may not %s a booking", roleName(actor.Role), req.Action)
	}
	if !owns(actor, *b) {
		return Transition{}, apperr.Unauthorized(op, "actor %s is not a party to booking %s", actor.ID, b.ID)
	}
	if !slices.Contains(r.from, b.Status) {
		return Transition{}, apperr.InvalidTransition(op, b.Status, r.to)
	}

	now := m.now()
	next := b.Clone()

	switch req.Action {
	case ActionAccept:
		if req.ScheduledDate == nil || req.ScheduledDate.IsZero() {
			return Transition{}, apperr.Validation(op, "scheduled date is required to accept")
		}
		at := req.ScheduledDate.UTC()
		if m.Checker != nil {
			if err := m.Checker.CheckSlot(ctx, next, at); err != nil {
				return Transition{}, err
			}
		}
		next.ScheduledDate = &at
	case ActionComplete:
		completed := now
		next.CompletedDate = &completed
	case ActionDispute:
		if req.Evidence != nil {
			ev, err := newEvidence(op, next.ID, actor, *req.Evidence, now)
			if err != nil {
				return Transition{}, err
			}
			next.Evidence = &ev
		}
	}

	next.Status = r.to
	next.UpdatedAt = now
	t := Transition{
		BookingID: b.ID,
		Action:    req.Action,
		From:      b.Status,
		To:        r.to,
		Actor:     actor,
		At:        now,
	}
	if m.Hook != nil {
		if err := m.Hook(ctx, t, next); err != nil {
			return Transition{}, err
		}
	}
	*b = next
	return t, nil
}

// AttachEvidence records dispute evidence on a Disputed booking.
func (m *Machine) AttachEvidence(b *Booking, actor Actor, in EvidenceInput) error {
	const op = "lifecycle.AttachEvidence"

	if !actor.Role.Valid() || !owns(actor, *b) {
		return apperr.Unauthorized(op, "actor %s is not a party to booking %s", actor.ID, b.ID)
	}
	if b.Status != StatusDisputed {
		return apperr.New(apperr.KindInvalidTransition, op, "evidence can only be submitted for a disputed booking (current "+b.Status.String()+")")
	}
	now := m.now()
	ev, err := newEvidence(op, b.ID, actor, in, now)
	if err != nil {
		return err
	}
	b.Evidence = &ev
	b.UpdatedAt = now
	return nil
}

func newEvidence(op, bookingID string, actor Actor, in EvidenceInput, now time.Time) (Evidence, error) {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return Evidence{}, apperr.Validation(op, "evidence description is required")
	}
	return Evidence{
		ID:          uuid.NewString(),
		BookingID:   bookingID,
		SubmittedBy: actor.ID,
		Description: desc,
		FileURLs:    slices.Clone(in.FileURLs),
		SubmittedAt: now,
	}, nil
}

func owns(actor Actor, b Booking) bool {
	switch actor.Role {
	case RoleClient:
		return actor.ID != "" && actor.ID == b.ClientID
	case RoleProvider:
		return actor.ID != "" && actor.ID == b.ProviderID
	default:
		return false
	}
}

func roleName(r Role) string {
	if r == "" {
		return "anonymous actor"
	}
	return string(r)
}
