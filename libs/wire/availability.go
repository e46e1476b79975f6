package wire

import (
	"slices"

	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/schedule"
)

type VacationPeriod struct {
	ID     string `json:"id"`
	Start  Nanos  `json:"start"`
	End    Nanos  `json:"end"`
	Reason string `json:"reason,omitempty"`
}

func EncodeVacation(v schedule.VacationPeriod) VacationPeriod {
	return VacationPeriod{ID: v.ID, Start: FromTime(v.Start), End: FromTime(v.End), Reason: v.Reason}
}

func (v VacationPeriod) Decode() schedule.VacationPeriod {
	return schedule.VacationPeriod{ID: v.ID, Start: v.Start.Time(), End: v.End.Time(), Reason: v.Reason}
}

type ProviderAvailability struct {
	ProviderID            string                  `json:"provider_id"`
	IsActive              bool                    `json:"is_active"`
	Timezone              string                  `json:"timezone,omitempty"`
	InstantBookingEnabled bool                    `json:"instant_booking_enabled"`
	BookingNoticeHours    int                     `json:"booking_notice_hours"`
	MaxBookingsPerDay     int                     `json:"max_bookings_per_day"`
	WeeklySchedule        schedule.WeeklySchedule `json:"weekly_schedule"`
	VacationDates         []VacationPeriod        `json:"vacation_dates"`
	UpdatedAt             Nanos                   `json:"updated_at"`
}

func EncodeAvailability(a schedule.ProviderAvailability) ProviderAvailability {
	out := ProviderAvailability{
		ProviderID:            a.ProviderID,
		IsActive:              a.IsActive,
		Timezone:              a.Timezone,
		InstantBookingEnabled: a.Policy.InstantBookingEnabled,
		BookingNoticeHours:    a.Policy.BookingNoticeHours,
		MaxBookingsPerDay:     a.Policy.MaxBookingsPerDay,
		WeeklySchedule:        a.Weekly.Clone(),
		VacationDates:         make([]VacationPeriod, 0, len(a.Vacations)),
		UpdatedAt:             FromTime(a.UpdatedAt),
	}
	for _, v := range a.Vacations {
		out.VacationDates = append(out.VacationDates, EncodeVacation(v))
	}
	return out
}

func (d ProviderAvailability) Decode() schedule.ProviderAvailability {
	out := schedule.ProviderAvailability{
		ProviderID: d.ProviderID,
		IsActive:   d.IsActive,
		Timezone:   d.Timezone,
		Policy: schedule.Policy{
			InstantBookingEnabled: d.InstantBookingEnabled,
			BookingNoticeHours:    d.BookingNoticeHours,
			MaxBookingsPerDay:     d.MaxBookingsPerDay,
		},
		Weekly:    d.WeeklySchedule.Clone(),
		UpdatedAt: d.UpdatedAt.Time(),
	}
	for _, v := range d.VacationDates {
		out.Vacations = append(out.Vacations, v.Decode())
	}
	return out
}

type SetAvailabilityRequest struct {
	WeeklySchedule        schedule.WeeklySchedule `json:"weekly_schedule"`
	InstantBookingEnabled bool                    `json:"instant_booking_enabled"`
	BookingNoticeHours    int                     `json:"booking_notice_hours" validate:"gte=0"`
	MaxBookingsPerDay     int                     `json:"max_bookings_per_day" validate:"gte=0"`
	Timezone              string                  `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

type AddVacationRequest struct {
	Start  Nanos  `json:"start" validate:"required"`
	End    Nanos  `json:"end" validate:"required,gtfield=Start"`
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type AvailableSlot struct {
	Date                Nanos    `json:"date"`
	Start               string   `json:"start"`
	End                 string   `json:"end"`
	StartAt             Nanos    `json:"start_at"`
	EndAt               Nanos    `json:"end_at"`
	IsAvailable         bool     `json:"is_available"`
	ConflictingBookings []string `json:"conflicting_bookings,omitempty"`
	Reasons             []string `json:"reasons,omitempty"`
}

func EncodeSlots(in []schedule.AvailableSlot) []AvailableSlot {
	out := make([]AvailableSlot, 0, len(in))
	for _, s := range in {
		out = append(out, AvailableSlot{
			Date:                FromTime(s.Date),
			Start:               s.Slot.Start.String(),
			End:                 s.Slot.End.String(),
			StartAt:             FromTime(s.Start),
			EndAt:               FromTime(s.End),
			IsAvailable:         s.IsAvailable,
			ConflictingBookings: slices.Clone(s.ConflictingBookings),
			Reasons:             slices.Clone(s.Reasons),
		})
	}
	return out
}

func DecodeSlots(in []AvailableSlot) ([]schedule.AvailableSlot, error) {
	const op = "wire.DecodeSlots"

	out := make([]schedule.AvailableSlot, 0, len(in))
	for _, s := range in {
		start, err := schedule.ParseClock(s.Start)
		if err != nil {
			return nil, apperr.Validation(op, "%v", err)
		}
		end, err := schedule.ParseClock(s.End)
		if err != nil {
			return nil, apperr.Validation(op, "%v", err)
		}
		out = append(out, schedule.AvailableSlot{
			Date:                s.Date.Time(),
			Slot:                schedule.TimeSlot{Start: start, End: end},
			Start:               s.StartAt.Time(),
			End:                 s.EndAt.Time(),
			IsAvailable:         s.IsAvailable,
			ConflictingBookings: slices.Clone(s.ConflictingBookings),
			Reasons:             slices.Clone(s.Reasons),
		})
	}
	return out, nil
}

type Availability struct {
	ProviderID string `json:"provider_id"`
	At         Nanos  `json:"at"`
	Available  bool   `json:"available"`
}

type Service struct {
	ID          string                   `json:"id"`
	ProviderID  string                   `json:"provider_id"`
	Category    string                   `json:"category,omitempty"`
	Price       int64                    `json:"price"`
	Location    Location                 `json:"location"`
	Status      string                   `json:"status"`
	RatingSum   int                      `json:"rating_sum"`
	RatingCount int                      `json:"rating_count"`
	Weekly      *schedule.WeeklySchedule `json:"weekly_schedule,omitempty"`
	Policy      *schedule.Policy         `json:"policy,omitempty"`
}

func EncodeService(s schedule.Service) Service {
	out := Service{
		ID:          s.ID,
		ProviderID:  s.ProviderID,
		Category:    s.Category,
		Price:       s.Price,
		Location:    EncodeLocation(s.Location),
		Status:      string(s.Status),
		RatingSum:   s.Rating.Sum,
		RatingCount: s.Rating.Count,
	}
	if s.Override != nil {
		out.Weekly = s.Override.Weekly
		out.Policy = s.Override.Policy
	}
	return out
}

func (d Service) Decode() (schedule.Service, error) {
	const op = "wire.Service.Decode"

	status := schedule.ServiceStatus(d.Status)
	switch status {
	case "":
		status = schedule.ServiceAvailable
	case schedule.ServiceAvailable, schedule.ServiceSuspended, schedule.ServiceUnavailable:
	default:
		return schedule.Service{}, apperr.Validation(op, "unknown service status %q", d.Status)
	}
	out := schedule.Service{
		ID:         d.ID,
		ProviderID: d.ProviderID,
		Category:   d.Category,
		Price:      d.Price,
		Location:   d.Location.Decode(),
		Status:     status,
		Rating:     schedule.Rating{Sum: d.RatingSum, Count: d.RatingCount},
	}
	if d.Weekly != nil || d.Policy != nil {
		out.Override = &schedule.Override{Weekly: d.Weekly, Policy: d.Policy}
	}
	return out, nil
}
