package wire

import (
	"slices"

	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
)

type Location struct {
	Street     string  `json:"street,omitempty"`
	City       string  `json:"city,omitempty"`
	Region     string  `json:"region,omitempty"`
	PostalCode string  `json:"postal_code,omitempty"`
	Country    string  `json:"country,omitempty"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

func EncodeLocation(l lifecycle.Location) Location {
	return Location(l)
}

func (l Location) Decode() lifecycle.Location {
	return lifecycle.Location(l)
}

type Evidence struct {
	ID          string   `json:"id"`
	BookingID   string   `json:"booking_id"`
	SubmittedBy string   `json:"submitted_by"`
	Description string   `json:"description"`
	FileURLs    []string `json:"file_urls"`
	SubmittedAt Nanos    `json:"submitted_at"`
}

func EncodeEvidence(e *lifecycle.Evidence) *Evidence {
	if e == nil {
		return nil
	}
	return &Evidence{
		ID:          e.ID,
		BookingID:   e.BookingID,
		SubmittedBy: e.SubmittedBy,
		Description: e.Description,
		FileURLs:    slices.Clone(e.FileURLs),
		SubmittedAt: FromTime(e.SubmittedAt),
	}
}

func (e *Evidence) Decode() *lifecycle.Evidence {
	if e == nil {
		return nil
	}
	return &lifecycle.Evidence{
		ID:          e.ID,
		BookingID:   e.BookingID,
		SubmittedBy: e.SubmittedBy,
		Description: e.Description,
		FileURLs:    slices.Clone(e.FileURLs),
		SubmittedAt: e.SubmittedAt.Time(),
	}
}

type Booking struct {
	ID            string       `json:"id"`
	ClientID      string       `json:"client_id"`
	ProviderID    string       `json:"provider_id"`
	ServiceID     string       `json:"service_id"`
	Status        TaggedStatus `json:"status"`
	RequestedDate Nanos        `json:"requested_date"`
	ScheduledDate *Nanos       `json:"scheduled_date,omitempty"`
	CompletedDate *Nanos       `json:"completed_date,omitempty"`
	Price         int64        `json:"price"`
	Location      Location     `json:"location"`
	Evidence      *Evidence    `json:"evidence,omitempty"`
	CreatedAt     Nanos        `json:"created_at"`
	UpdatedAt     Nanos        `json:"updated_at"`
}

func EncodeBooking(b lifecycle.Booking) Booking {
	return Booking{
		ID:            b.ID,
		ClientID:      b.ClientID,
		ProviderID:    b.ProviderID,
		ServiceID:     b.ServiceID,
		Status:        TaggedStatus(b.Status),
		RequestedDate: FromTime(b.RequestedDate),
		ScheduledDate: FromTimePtr(b.ScheduledDate),
		CompletedDate: FromTimePtr(b.CompletedDate),
		Price:         b.Price,
		Location:      EncodeLocation(b.Location),
		Evidence:      EncodeEvidence(b.Evidence),
		CreatedAt:     FromTime(b.CreatedAt),
		UpdatedAt:     FromTime(b.UpdatedAt),
	}
}

func EncodeBookings(in []lifecycle.Booking) []Booking {
	out := make([]Booking, 0, len(in))
	for _, b := range in {
		out = append(out, EncodeBooking(b))
	}
	return out
}

func (d Booking) Decode() (lifecycle.Booking, error) {
	const op = "wire.Booking.Decode"

	if !d.Status.Status().Valid() {
		return lifecycle.Booking{}, apperr.Validation(op, "booking %s has unknown status %q", d.ID, string(d.Status))
	}
	return lifecycle.Booking{
		ID:            d.ID,
		ClientID:      d.ClientID,
		ProviderID:    d.ProviderID,
		ServiceID:     d.ServiceID,
		Status:        d.Status.Status(),
		RequestedDate: d.RequestedDate.Time(),
		ScheduledDate: d.ScheduledDate.TimePtr(),
		CompletedDate: d.CompletedDate.TimePtr(),
		Price:         d.Price,
		Location:      d.Location.Decode(),
		Evidence:      d.Evidence.Decode(),
		CreatedAt:     d.CreatedAt.Time(),
		UpdatedAt:     d.UpdatedAt.Time(),
	}, nil
}

func DecodeBookings(in []Booking) ([]lifecycle.Booking, error) {
	out := make([]lifecycle.Booking, 0, len(in))
	for _, d := range in {
		b, err := d.Decode()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

type CreateBookingRequest struct {
	ID            string   `json:"id,omitempty"`
	ClientID      string   `json:"client_id"`
	ProviderID    string   `json:"provider_id" validate:"required"`
	ServiceID     string   `json:"service_id" validate:"required"`
	RequestedDate Nanos    `json:"requested_date" validate:"required"`
	Price         int64    `json:"price" validate:"gte=0"`
	Location      Location `json:"location"`
}

func EncodeDraft(d lifecycle.Draft) CreateBookingRequest {
	return CreateBookingRequest{
		ID:            d.ID,
		ClientID:      d.ClientID,
		ProviderID:    d.ProviderID,
		ServiceID:     d.ServiceID,
		RequestedDate: FromTime(d.RequestedDate),
		Price:         d.Price,
		Location:      EncodeLocation(d.Location),
	}
}

func (r CreateBookingRequest) Draft() lifecycle.Draft {
	return lifecycle.Draft{
		ID:            r.ID,
		ClientID:      r.ClientID,
		ProviderID:    r.ProviderID,
		ServiceID:     r.ServiceID,
		RequestedDate: r.RequestedDate.Time(),
		Price:         r.Price,
		Location:      r.Location.Decode(),
	}
}

type EvidenceInput struct {
	Description string   `json:"description" validate:"required"`
	FileURLs    []string `json:"file_urls,omitempty" validate:"omitempty,dive,url"`
}

// TransitionRequest is the body of every accept/decline/cancel/start/complete/dispute call.
type TransitionRequest struct {
	ScheduledDate *Nanos         `json:"scheduled_date,omitempty"`
	Evidence      *EvidenceInput `json:"evidence,omitempty"`
}

func EncodeTransitionRequest(req lifecycle.Request) TransitionRequest {
	out := TransitionRequest{ScheduledDate: FromTimePtr(req.ScheduledDate)}
	if req.Evidence != nil {
		out.Evidence = &EvidenceInput{Description: req.Evidence.Description, FileURLs: slices.Clone(req.Evidence.FileURLs)}
	}
	return out
}

func (r TransitionRequest) Request(action lifecycle.Action) lifecycle.Request {
	out := lifecycle.Request{Action: action, ScheduledDate: r.ScheduledDate.TimePtr()}
	if r.Evidence != nil {
		in := r.Evidence.Decode()
		out.Evidence = &in
	}
	return out
}

func (e EvidenceInput) Decode() lifecycle.EvidenceInput {
	return lifecycle.EvidenceInput{Description: e.Description, FileURLs: slices.Clone(e.FileURLs)}
}

type Transition struct {
	BookingID string        `json:"booking_id"`
	Action    string        `json:"action"`
	From      *TaggedStatus `json:"from,omitempty"`
	To        TaggedStatus  `json:"to"`
	ActorID   string        `json:"actor_id"`
	ActorRole string        `json:"actor_role"`
	At        Nanos         `json:"at"`
}

func EncodeTransition(t lifecycle.Transition) Transition {
	out := Transition{
		BookingID: t.BookingID,
		Action:    string(t.Action),
		To:        TaggedStatus(t.To),
		ActorID:   t.Actor.ID,
		ActorRole: string(t.Actor.Role),
		At:        FromTime(t.At),
	}
	if t.From != "" {
		from := TaggedStatus(t.From)
		out.From = &from
	}
	return out
}

func (t Transition) Decode() lifecycle.Transition {
	out := lifecycle.Transition{
		BookingID: t.BookingID,
		Action:    lifecycle.Action(t.Action),
		To:        t.To.Status(),
		Actor:     lifecycle.Actor{ID: t.ActorID, Role: lifecycle.Role(t.ActorRole)},
		At:        t.At.Time(),
	}
	if t.From != nil {
		out.From = t.From.Status()
	}
	return out
}

// BookingEvent is the payload of every booking.* topic. Transition is absent for
// evidence submissions, which do not change status.
type BookingEvent struct {
	Transition *Transition `json:"transition,omitempty"`
	Booking    Booking     `json:"booking"`
}
