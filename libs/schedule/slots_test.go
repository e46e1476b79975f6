package schedule

import (
	"testing"
	"time"

	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
)

// 2026-03-02 is a Monday.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func slot(start, end string) TimeSlot {
	return TimeSlot{Start: MustClock(start), End: MustClock(end)}
}

func mondayProvider(t *testing.T, slots ...TimeSlot) ProviderAvailability {
	t.Helper()
	a := NewProviderAvailability("provider-1")
	var w WeeklySchedule
	w[time.Monday] = DayAvailability{IsAvailable: true, Slots: slots}
	if err := a.SetAvailability(w, true, 0, 0); err != nil {
		t.Fatalf("set availability: %v", err)
	}
	return a
}

func generatorAt(now time.Time) Generator {
	return Generator{Now: func() time.Time { return now }}
}

func TestSlots_OrderedByStartStable(t *testing.T) {
	a := mondayProvider(t, slot("13:00", "14:00"), slot("09:00", "10:00"), slot("10:00", "11:00"))
	got := generatorAt(monday.AddDate(0, 0, -7)).Slots(a, monday, nil)
	if len(got) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(got))
	}
	want := []string{"09:00", "10:00", "13:00"}
	for i, s := range got {
		if s.Slot.Start.String() != want[i] {
			t.Fatalf("slot %d: expected %s, got %s", i, want[i], s.Slot.Start)
		}
		if !s.IsAvailable {
			t.Fatalf("slot %s should be available, reasons %v", s.Slot, s.Reasons)
		}
	}
	if !got[0].Start.Equal(monday.Add(9 * time.Hour)) {
		t.Fatalf("unexpected start %s", got[0].Start.Format(time.RFC3339))
	}
}

func TestSetAvailability_OverlapRejectedWithoutPartialState(t *testing.T) {
	a := mondayProvider(t, slot("09:00", "10:00"))
	before := a.Weekly.Clone()

	var w WeeklySchedule
	w[time.Tuesday] = DayAvailability{IsAvailable: true, Slots: []TimeSlot{slot("08:00", "09:00")}}
	w[time.Wednesday] = DayAvailability{IsAvailable: true, Slots: []TimeSlot{slot("09:00", "12:00"), slot("11:00", "13:00")}}

	err := a.SetAvailability(w, false, 48, 3)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if a.Weekly[time.Tuesday].IsAvailable || len(a.Weekly[time.Monday].Slots) != len(before[time.Monday].Slots) {
		t.Fatal("schedule partially replaced")
	}
	if a.Policy.BookingNoticeHours != 0 || a.Policy.MaxBookingsPerDay != 0 {
		t.Fatal("policy changed on failed set")
	}
}

func TestSetAvailability_RejectsInvertedSlot(t *testing.T) {
	var w WeeklySchedule
	w[time.Friday] = DayAvailability{IsAvailable: true, Slots: []TimeSlot{slot("17:00", "09:00")}}
	a := NewProviderAvailability("p")
	if err := a.SetAvailability(w, true, 0, 0); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSetAvailability_TouchingSlotsAllowed(t *testing.T) {
	var w WeeklySchedule
	w[time.Friday] = DayAvailability{IsAvailable: true, Slots: []TimeSlot{slot("09:00", "10:00"), slot("10:00", "11:00")}}
	a := NewProviderAvailability("p")
	if err := a.SetAvailability(w, true, 0, 0); err != nil {
		t.Fatalf("touching slots should be valid: %v", err)
	}
}

func TestSlots_VacationEmptiesDay(t *testing.T) {
	a := mondayProvider(t, slot("09:00", "17:00"))
	if _, err := a.AddVacation(monday.Add(-48*time.Hour), monday.Add(12*time.Hour), "conference"); err != nil {
		t.Fatalf("add vacation: %v", err)
	}
	got := generatorAt(monday.AddDate(0, 0, -14)).Slots(a, monday, nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected explicit empty result, got %v", got)
	}
	nextMonday := monday.AddDate(0, 0, 7)
	if len(generatorAt(monday.AddDate(0, 0, -14)).Slots(a, nextMonday, nil)) != 1 {
		t.Fatal("vacation must not leak into the following week")
	}
}

func TestVacation_EndBeforeStartAndRemove(t *testing.T) {
	a := NewProviderAvailability("p")
	if _, err := a.AddVacation(monday, monday, ""); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	v1, _ := a.AddVacation(monday, monday.Add(24*time.Hour), "a")
	v2, _ := a.AddVacation(monday.Add(12*time.Hour), monday.Add(36*time.Hour), "b")
	if len(a.Vacations) != 2 {
		t.Fatal("overlapping vacations should both be kept")
	}
	if err := a.RemoveVacation(v1.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !a.OnVacation(monday.Add(20 * time.Hour)) {
		t.Fatal("remaining period still covers the date")
	}
	if err := a.RemoveVacation(v1.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_ = a.RemoveVacation(v2.ID)
	if len(a.Vacations) != 0 {
		t.Fatal("expected no vacations left")
	}
}

func TestSlots_DailyCap(t *testing.T) {
	a := mondayProvider(t, slot("09:00", "10:00"), slot("10:00", "11:00"), slot("11:00", "12:00"))
	a.Policy.MaxBookingsPerDay = 2
	existing := []Occupancy{
		{BookingID: "b1", Status: lifecycle.StatusRequested, At: monday.Add(9 * time.Hour)},
		{BookingID: "b2", Status: lifecycle.StatusAccepted, At: monday.Add(10*time.Hour + 30*time.Minute)},
		{BookingID: "b3", Status: lifecycle.StatusCancelled, At: monday.Add(11 * time.Hour)},
	}
	got := generatorAt(monday.AddDate(0, 0, -7)).Slots(a, monday, existing)
	for _, s := range got {
		if s.IsAvailable {
			t.Fatalf("slot %s should be unavailable once the cap is reached", s.Slot)
		}
		if len(s.ConflictingBookings) == 0 {
			t.Fatalf("slot %s should list conflicting bookings", s.Slot)
		}
		for _, id := range s.ConflictingBookings {
			if id == "b3" {
				t.Fatal("cancelled bookings never conflict")
			}
		}
	}
}

func TestSlots_OverlapMarksOnlyThatSlot(t *testing.T) {
	a := mondayProvider(t, slot("09:00", "10:00"), slot("10:00", "11:00"))
	existing := []Occupancy{{BookingID: "b1", Status: lifecycle.StatusInProgress, At: monday.Add(9*time.Hour + 15*time.Minute)}}
	got := generatorAt(monday.AddDate(0, 0, -7)).Slots(a, monday, existing)
	if got[0].IsAvailable || got[0].ConflictingBookings[0] != "b1" || got[0].Reasons[0] != ReasonBooked {
		t.Fatalf("first slot should be booked: %+v", got[0])
	}
	if !got[1].IsAvailable {
		t.Fatalf("second slot should be free: %+v", got[1])
	}
}

func TestSlots_NoticeAndSameDay(t *testing.T) {
	a := mondayProvider(t, slot("09:00", "17:00"))
	a.Policy = Policy{InstantBookingEnabled: false, BookingNoticeHours: 24}

	got := generatorAt(monday.Add(7 * time.Hour)).Slots(a, monday, nil)
	if len(got) != 1 {
		t.Fatalf("day is available, expected its slot, got %d", len(got))
	}
	available := 0
	for _, s := range got {
		if s.IsAvailable {
			available++
		}
	}
	if available != 0 {
		t.Fatalf("expected zero available slots today, got %d", available)
	}
	if got[0].Reasons[0] != ReasonSameDay || got[0].Reasons[1] != ReasonNotice {
		t.Fatalf("unexpected reasons %v", got[0].Reasons)
	}
}

func TestSlots_NoticeOnly(t *testing.T) {
	a := mondayProvider(t, slot("09:00", "10:00"), slot("15:00", "16:00"))
	a.Policy.BookingNoticeHours = 5
	got := generatorAt(monday.Add(8 * time.Hour)).Slots(a, monday, nil)
	if got[0].IsAvailable || got[0].Reasons[0] != ReasonNotice {
		t.Fatalf("09:00 is inside the notice window: %+v", got[0])
	}
	if !got[1].IsAvailable {
		t.Fatalf("15:00 is past the notice window: %+v", got[1])
	}
}

func TestSlots_InactiveAndEmptyDay(t *testing.T) {
	a := mondayProvider(t)
	got := generatorAt(monday.AddDate(0, 0, -7)).Slots(a, monday, nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("available day without slots yields explicit empty, got %v", got)
	}

	a = mondayProvider(t, slot("09:00", "10:00"))
	a.IsActive = false
	if len(generatorAt(monday.AddDate(0, 0, -7)).Slots(a, monday, nil)) != 0 {
		t.Fatal("inactive provider yields no slots")
	}
	if len(generatorAt(monday.AddDate(0, 0, -7)).Slots(mondayProvider(t, slot("09:00", "10:00")), monday.AddDate(0, 0, 1), nil)) != 0 {
		t.Fatal("unavailable weekday yields no slots")
	}
}

func TestCheck(t *testing.T) {
	a := mondayProvider(t, slot("09:00", "10:00"))
	g := generatorAt(monday.AddDate(0, 0, -7))
	if err := g.Check(a, monday.Add(9*time.Hour+30*time.Minute), nil); err != nil {
		t.Fatalf("expected available, got %v", err)
	}
	if err := g.Check(a, monday.Add(12*time.Hour), nil); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("outside schedule should conflict, got %v", err)
	}
	taken := []Occupancy{{BookingID: "b1", Status: lifecycle.StatusAccepted, At: monday.Add(9 * time.Hour)}}
	if g.IsAvailable(a, monday.Add(9*time.Hour+30*time.Minute), taken) {
		t.Fatal("taken slot should not be available")
	}
}

func TestSlots_ProviderTimezone(t *testing.T) {
	a := mondayProvider(t, slot("09:00", "10:00"))
	a.Timezone = "Asia/Dhaka"
	got := generatorAt(monday.AddDate(0, 0, -7)).Slots(a, monday.Add(12*time.Hour), nil)
	if len(got) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(got))
	}
	if got[0].Start.UTC().Hour() != 3 {
		t.Fatalf("09:00 Dhaka is 03:00 UTC, got %s", got[0].Start.UTC().Format(time.RFC3339))
	}
}

func TestEffective_ServiceOverride(t *testing.T) {
	a := mondayProvider(t, slot("09:00", "10:00"))
	var w WeeklySchedule
	w[time.Monday] = DayAvailability{IsAvailable: true, Slots: []TimeSlot{slot("14:00", "15:00"), slot("15:00", "16:00")}}
	svc := &Service{ID: "svc", Status: ServiceAvailable, Override: &Override{Weekly: &w}}

	eff := Effective(a, svc)
	got := generatorAt(monday.AddDate(0, 0, -7)).Slots(eff, monday, nil)
	if len(got) != 2 || got[0].Slot.Start.String() != "14:00" {
		t.Fatalf("override schedule not applied: %+v", got)
	}
	if eff.Policy != a.Policy {
		t.Fatal("policy should fall back to the provider")
	}

	svc.Status = ServiceSuspended
	if len(generatorAt(monday.AddDate(0, 0, -7)).Slots(Effective(a, svc), monday, nil)) != 0 {
		t.Fatal("suspended service has no slots")
	}
}

func TestClockText(t *testing.T) {
	var c Clock
	if err := c.UnmarshalText([]byte("07:45")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c != 7*60+45 || c.String() != "07:45" {
		t.Fatalf("unexpected clock %d (%s)", c, c)
	}
	if _, err := ParseClock("25:00"); err == nil {
		t.Fatal("expected error for 25:00")
	}
	if MustClock("24:00") != endOfDay {
		t.Fatal("24:00 is the end of day")
	}
}
