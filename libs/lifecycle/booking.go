package lifecycle

import (
	"slices"
	"time"
)

type Status string

const (
	StatusRequested  Status = "Requested"
	StatusAccepted   Status = "Accepted"
	StatusDeclined   Status = "Declined"
	StatusCancelled  Status = "Cancelled"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusDisputed   Status = "Disputed"
)

// Statuses lists every state in declaration order.
var Statuses = []Status{
	StatusRequested,
	StatusAccepted,
	StatusDeclined,
	StatusCancelled,
	StatusInProgress,
	StatusCompleted,
	StatusDisputed,
}

func (s Status) String() string { return string(s) }

func (s Status) Valid() bool { return slices.Contains(Statuses, s) }

// Active reports whether a booking in this state still occupies its slot.
func (s Status) Active() bool {
	return s == StatusRequested || s == StatusAccepted || s == StatusInProgress
}

func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	return s, s.Valid()
}

type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
)

func (r Role) Valid() bool { return r == RoleClient || r == RoleProvider }

type Actor struct {
	ID   string
	Role Role
}

type Location struct {
	Street     string
	City       string
	Region     string
	PostalCode string
	Country    string
	Lat        float64
	Lng        float64
}

func (l Location) HasAddress() bool {
	return l.Street != "" || l.City != "" || l.Region != "" || l.Country != ""
}

type Evidence struct {
	ID          string
	BookingID   string
	SubmittedBy string
	Description string
	FileURLs    []string
	SubmittedAt time.Time
}

type Booking struct {
	ID            string
	ClientID      string
	ProviderID    string
	ServiceID     string
	Status        Status
	RequestedDate time.Time
	ScheduledDate *time.Time
	CompletedDate *time.Time
	Price         int64
	Location      Location
	Evidence      *Evidence
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SlotTime is the instant the booking occupies: the scheduled date once accepted,
// the requested date before that.
func (b Booking) SlotTime() time.Time {
	if b.ScheduledDate != nil && !b.ScheduledDate.IsZero() {
		return *b.ScheduledDate
	}
	return b.RequestedDate
}

func (b Booking) Clone() Booking {
	out := b
	if b.ScheduledDate != nil {
		t := *b.ScheduledDate
		out.ScheduledDate = &t
	}
	if b.CompletedDate != nil {
		t := *b.CompletedDate
		out.CompletedDate = &t
	}
	if b.Evidence != nil {
		ev := *b.Evidence
		ev.FileURLs = slices.Clone(b.Evidence.FileURLs)
		out.Evidence = &ev
	}
	return out
}

// Draft is the client-supplied part of a new booking.
type Draft struct {
	ID            string
	ClientID      string
	ProviderID    string
	ServiceID     string
	RequestedDate time.Time
	Price         int64
	Location      Location
}
