package schedule

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
)

// Clock is a time of day in minutes since midnight. 24:00 is a valid slot end.
type Clock int

const endOfDay Clock = 24 * 60

func ParseClock(raw string) (Clock, error) {
	raw = strings.TrimSpace(raw)
	if raw == "24:00" {
		return endOfDay, nil
	}
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q (want HH:MM)", raw)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

func MustClock(raw string) Clock {
	c, err := ParseClock(raw)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Clock) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c Clock) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), int(c)/60, int(c)%60, 0, 0, day.Location())
}

type TimeSlot struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

func (s TimeSlot) String() string { return s.Start.String() + "-" + s.End.String() }

type DayAvailability struct {
	IsAvailable bool       `json:"is_available"`
	Slots       []TimeSlot `json:"slots"`
}

// WeeklySchedule is indexed by time.Weekday (Sunday = 0).
type WeeklySchedule [7]DayAvailability

func (w WeeklySchedule) Clone() WeeklySchedule {
	var out WeeklySchedule
	for i, d := range w {
		out[i] = DayAvailability{IsAvailable: d.IsAvailable, Slots: slices.Clone(d.Slots)}
	}
	return out
}

// Validate checks that every slot has start < end within the day and that slots of
// the same day do not overlap. Touching slots (09:00-10:00, 10:00-11:00) are allowed.
func (w WeeklySchedule) Validate() error {
	const op = "schedule.Validate"
	for day, d := range w {
		sorted := slices.Clone(d.Slots)
		for _, s := range sorted {
			if s.Start < 0 || s.End > endOfDay || s.Start >= s.End {
				return apperr.Validation(op, "%s: slot %s must start before it ends", time.Weekday(day), s)
			}
		}
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
		for i := 1; i < len(sorted); i++ {
			if sorted[i].Start < sorted[i-1].End {
				return apperr.Validation(op, "%s: slot %s overlaps %s", time.Weekday(day), sorted[i], sorted[i-1])
			}
		}
	}
	return nil
}

type Policy struct {
	InstantBookingEnabled bool `json:"instant_booking_enabled"`
	BookingNoticeHours    int  `json:"booking_notice_hours"`
	// MaxBookingsPerDay of zero means no cap.
	MaxBookingsPerDay int `json:"max_bookings_per_day"`
}

func (p Policy) validate(op string) error {
	if p.BookingNoticeHours < 0 {
		return apperr.Validation(op, "booking notice hours must not be negative")
	}
	if p.MaxBookingsPerDay < 0 {
		return apperr.Validation(op, "max bookings per day must not be negative")
	}
	return nil
}

type VacationPeriod struct {
	ID     string
	Start  time.Time
	End    time.Time
	Reason string
}

func (v VacationPeriod) interval() Interval { return Interval{Start: v.Start, End: v.End} }

type ProviderAvailability struct {
	ProviderID string
	IsActive   bool
	// Timezone is an IANA name used to resolve calendar dates; empty means UTC.
	Timezone  string
	Policy    Policy
	Weekly    WeeklySchedule
	Vacations []VacationPeriod
	UpdatedAt time.Time
}

func NewProviderAvailability(providerID string) ProviderAvailability {
	return ProviderAvailability{ProviderID: providerID, IsActive: true, Timezone: "UTC"}
}

func (a ProviderAvailability) Location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SetAvailability replaces the whole weekly schedule and booking policy. Nothing
// changes when validation fails.
func (a *ProviderAvailability) SetAvailability(weekly WeeklySchedule, instant bool, noticeHours, maxPerDay int) error {
	const op = "schedule.SetAvailability"

	if err := weekly.Validate(); err != nil {
		return err
	}
	policy := Policy{InstantBookingEnabled: instant, BookingNoticeHours: noticeHours, MaxBookingsPerDay: maxPerDay}
	if err := policy.validate(op); err != nil {
		return err
	}
	a.Weekly = weekly.Clone()
	a.Policy = policy
	return nil
}

// AddVacation appends a period. Overlapping periods are allowed and act as a union.
func (a *ProviderAvailability) AddVacation(start, end time.Time, reason string) (VacationPeriod, error) {
	const op = "schedule.AddVacation"

	if start.IsZero() || end.IsZero() {
		return VacationPeriod{}, apperr.Validation(op, "vacation start and end are required")
	}
	if !end.After(start) {
		return VacationPeriod{}, apperr.Validation(op, "vacation must end after it starts")
	}
	v := VacationPeriod{
		ID:     uuid.NewString(),
		Start:  start.UTC(),
		End:    end.UTC(),
		Reason: strings.TrimSpace(reason),
	}
	a.Vacations = append(a.Vacations, v)
	return v, nil
}

func (a *ProviderAvailability) RemoveVacation(id string) error {
	const op = "schedule.RemoveVacation"

	idx := slices.IndexFunc(a.Vacations, func(v VacationPeriod) bool { return v.ID == id })
	if idx < 0 {
		return apperr.NotFound(op, "vacation "+id)
	}
	a.Vacations = slices.Delete(a.Vacations, idx, idx+1)
	return nil
}

// OnVacation reports whether any period touches the calendar date of t in the
// provider's timezone.
func (a ProviderAvailability) OnVacation(t time.Time) bool {
	day := startOfDay(t.In(a.Location()))
	return a.onVacation(Interval{Start: day, End: day.AddDate(0, 0, 1)})
}

func (a ProviderAvailability) onVacation(day Interval) bool {
	for _, v := range a.Vacations {
		if day.Overlaps(v.interval()) {
			return true
		}
	}
	return false
}

type ServiceStatus string

const (
	ServiceAvailable   ServiceStatus = "Available"
	ServiceSuspended   ServiceStatus = "Suspended"
	ServiceUnavailable ServiceStatus = "Unavailable"
)

type Rating struct {
	Sum   int
	Count int
}

func (r Rating) Average() float64 {
	if r.Count == 0 {
		return 0
	}
	return float64(r.Sum) / float64(r.Count)
}

// Override replaces the provider-level weekly schedule and/or policy for a single
// service. Nil fields fall back to the provider.
type Override struct {
	Weekly *WeeklySchedule
	Policy *Policy
}

type Service struct {
	ID         string
	ProviderID string
	Category   string
	Price      int64
	Location   lifecycle.Location
	Status     ServiceStatus
	Rating     Rating
	Override   *Override
}

// Effective merges a service override into the provider's availability. A service
// that is not Available yields an inactive result.
func Effective(a ProviderAvailability, svc *Service) ProviderAvailability {
	out := a
	out.Weekly = a.Weekly.Clone()
	out.Vacations = slices.Clone(a.Vacations)
	if svc == nil {
		return out
	}
	if svc.Status != "" && svc.Status != ServiceAvailable {
		out.IsActive = false
	}
	if svc.Override != nil {
		if svc.Override.Weekly != nil {
			out.Weekly = svc.Override.Weekly.Clone()
		}
		if svc.Override.Policy != nil {
			out.Policy = *svc.Override.Policy
		}
	}
	return out
}
