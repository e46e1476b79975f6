// Package schedule holds a provider's recurring weekly availability and turns it
// into bookable slots for a given date.
package schedule

import (
	"sort"
	"strings"
	"time"

	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
)

const (
	ReasonNotice     = "notice"
	ReasonBooked     = "booked"
	ReasonDailyLimit = "daily_limit"
	ReasonSameDay    = "same_day"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps uses half-open intervals: [a.Start,a.End) overlaps [b.Start,b.End) iff
// a.Start < b.End && b.Start < a.End.
func (a Interval) Overlaps(b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

func (a Interval) Contains(t time.Time) bool {
	return !t.Before(a.Start) && t.Before(a.End)
}

// Occupancy is the slot-relevant view of an existing booking.
type Occupancy struct {
	BookingID string
	Status    lifecycle.Status
	At        time.Time
}

// Occupancies projects bookings, skipping the booking with id exclude.
func Occupancies(bookings []lifecycle.Booking, exclude string) []Occupancy {
	out := make([]Occupancy, 0, len(bookings))
	for _, b := range bookings {
		if b.ID == exclude {
			continue
		}
		out = append(out, Occupancy{BookingID: b.ID, Status: b.Status, At: b.SlotTime()})
	}
	return out
}

type AvailableSlot struct {
	Date                time.Time
	Slot                TimeSlot
	Start               time.Time
	End                 time.Time
	IsAvailable         bool
	ConflictingBookings []string
	Reasons             []string
}

type Generator struct {
	Now func() time.Time
}

func (g Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Slots lists the configured slots of date with an availability verdict each.
//
// The result is empty (never nil) when the provider is inactive, the weekday is
// switched off, or the date touches a vacation. Slots are ordered by start time;
// equal starts keep declaration order.
func (g Generator) Slots(a ProviderAvailability, date time.Time, existing []Occupancy) []AvailableSlot {
	out := []AvailableSlot{}
	if !a.IsActive {
		return out
	}

	loc := a.Location()
	day := startOfDay(date.In(loc))
	dayWindow := Interval{Start: day, End: day.AddDate(0, 0, 1)}

	da := a.Weekly[day.Weekday()]
	if !da.IsAvailable {
		return out
	}
	if a.onVacation(dayWindow) {
		return out
	}

	now := g.now().In(loc)
	noticeCutoff := now.Add(time.Duration(a.Policy.BookingNoticeHours) * time.Hour)
	sameDay := !a.Policy.InstantBookingEnabled && sameDate(now, day)

	var active []Occupancy
	for _, o := range existing {
		if o.Status.Active() && dayWindow.Contains(o.At) {
			active = append(active, o)
		}
	}
	capped := a.Policy.MaxBookingsPerDay > 0 && len(active) >= a.Policy.MaxBookingsPerDay

	slots := make([]TimeSlot, len(da.Slots))
	copy(slots, da.Slots)
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Start < slots[j].Start })

	for _, ts := range slots {
		window := Interval{Start: ts.Start.on(day), End: ts.End.on(day)}
		if ts.End == endOfDay {
			window.End = dayWindow.End
		}
		s := AvailableSlot{Date: day, Slot: ts, Start: window.Start, End: window.End}

		if sameDay {
			s.Reasons = append(s.Reasons, ReasonSameDay)
		}
		if window.Start.Before(noticeCutoff) {
			s.Reasons = append(s.Reasons, ReasonNotice)
		}
		for _, o := range active {
			if window.Contains(o.At) {
				s.ConflictingBookings = appendUnique(s.ConflictingBookings, o.BookingID)
			}
		}
		if len(s.ConflictingBookings) > 0 {
			s.Reasons = append(s.Reasons, ReasonBooked)
		}
		if capped {
			for _, o := range active {
				s.ConflictingBookings = appendUnique(s.ConflictingBookings, o.BookingID)
			}
			s.Reasons = append(s.Reasons, ReasonDailyLimit)
		}
		s.IsAvailable = len(s.Reasons) == 0
		out = append(out, s)
	}
	return out
}

// Check returns nil when at falls inside an available slot, a Conflict error otherwise.
func (g Generator) Check(a ProviderAvailability, at time.Time, existing []Occupancy) error {
	const op = "schedule.Check"

	for _, s := range g.Slots(a, at, existing) {
		if !(Interval{Start: s.Start, End: s.End}).Contains(at) {
			continue
		}
		if s.IsAvailable {
			return nil
		}
		return apperr.Conflict(op, "slot %s on %s is not available (%s)",
			s.Slot, s.Date.Format("2006-01-02"), strings.Join(s.Reasons, ", "))
	}
	return apperr.Conflict(op, "provider %s has no bookable slot at %s",
		a.ProviderID, at.In(a.Location()).Format(time.RFC3339))
}

func (g Generator) IsAvailable(a ProviderAvailability, at time.Time, existing []Occupancy) bool {
	return g.Check(a, at, existing) == nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
