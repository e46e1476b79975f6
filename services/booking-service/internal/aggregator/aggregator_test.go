package aggregator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
	"github.com/md-rashed-zaman/servicebook/libs/schedule"
	"github.com/md-rashed-zaman/servicebook/libs/wire"
	"github.com/md-rashed-zaman/servicebook/services/booking-service/internal/access"
	"github.com/md-rashed-zaman/servicebook/services/booking-service/internal/profiles"
)

var (
	testNow  = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	slot     = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	client   = lifecycle.Actor{ID: "client-1", Role: lifecycle.RoleClient}
	provider = lifecycle.Actor{ID: "provider-1", Role: lifecycle.RoleProvider}
)

// fakeStore runs the real state machine over a map and can be told to fail.
type fakeStore struct {
	machine lifecycle.Machine

	mu       sync.Mutex
	bookings map[string]lifecycle.Booking
	order    []string
	calls    map[string]int
	fail     map[string][]error
	lost     map[string]int
	removed  map[string]bool
	onCall   func(method string)
	// afterList runs once a listing has been read, outside the store lock.
	afterList func(method string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		machine:  lifecycle.Machine{Now: func() time.Time { return testNow }},
		bookings: map[string]lifecycle.Booking{},
		calls:    map[string]int{},
		fail:     map[string][]error{},
		lost:     map[string]int{},
		removed:  map[string]bool{},
	}
}

// loseReplies makes the next n successful calls of method commit and then report a
// dropped connection.
func (f *fakeStore) loseReplies(method string, n int) {
	f.mu.Lock()
	f.lost[method] += n
	f.mu.Unlock()
}

// dropReply is called with f.mu held after a committed call.
func (f *fakeStore) dropReply(method string) error {
	if f.lost[method] == 0 {
		return nil
	}
	f.lost[method]--
	return apperr.Transient("fake", errors.New("connection reset by peer"))
}

func (f *fakeStore) failWith(method string, errs ...error) {
	f.mu.Lock()
	f.fail[method] = append(f.fail[method], errs...)
	f.mu.Unlock()
}

func (f *fakeStore) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// enter records the call and pops a queued failure. f.mu is held on return.
func (f *fakeStore) enter(method string) error {
	f.mu.Lock()
	f.calls[method]++
	hook := f.onCall
	if q := f.fail[method]; len(q) > 0 {
		f.fail[method] = q[1:]
		f.mu.Unlock()
		if hook != nil {
			hook(method)
		}
		f.mu.Lock()
		return q[0]
	}
	f.mu.Unlock()
	if hook != nil {
		hook(method)
	}
	f.mu.Lock()
	return nil
}

func (f *fakeStore) CreateBooking(ctx context.Context, actor lifecycle.Actor, d lifecycle.Draft) (lifecycle.Booking, error) {
	err := f.enter("CreateBooking")
	defer f.mu.Unlock()
	if err != nil {
		return lifecycle.Booking{}, err
	}
	if b, ok := f.bookings[d.ID]; ok && d.ID != "" {
		return b.Clone(), nil
	}
	b, err := f.machine.Create(ctx, actor, d)
	if err != nil {
		return lifecycle.Booking{}, err
	}
	f.bookings[b.ID] = b
	f.order = append(f.order, b.ID)
	return b.Clone(), nil
}

func (f *fakeStore) GetBooking(_ context.Context, _ lifecycle.Actor, id string) (lifecycle.Booking, error) {
	err := f.enter("GetBooking")
	defer f.mu.Unlock()
	if err != nil {
		return lifecycle.Booking{}, err
	}
	b, ok := f.bookings[id]
	if !ok {
		return lifecycle.Booking{}, apperr.NotFound("fake", "booking "+id)
	}
	return b.Clone(), nil
}

func (f *fakeStore) list(method string, keep func(lifecycle.Booking) bool) ([]lifecycle.Booking, error) {
	err := f.enter(method)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	out := []lifecycle.Booking{}
	for _, id := range f.order {
		if b := f.bookings[id]; keep(b) {
			out = append(out, b.Clone())
		}
	}
	after := f.afterList
	f.mu.Unlock()
	if after != nil {
		after(method)
	}
	return out, nil
}

func (f *fakeStore) ClientBookings(_ context.Context, _ lifecycle.Actor, clientID string) ([]lifecycle.Booking, error) {
	return f.list("ClientBookings", func(b lifecycle.Booking) bool { return b.ClientID == clientID })
}

func (f *fakeStore) ProviderBookings(_ context.Context, _ lifecycle.Actor, providerID string) ([]lifecycle.Booking, error) {
	return f.list("ProviderBookings", func(b lifecycle.Booking) bool { return b.ProviderID == providerID })
}

func (f *fakeStore) BookingsByStatus(_ context.Context, actor lifecycle.Actor, status lifecycle.Status) ([]lifecycle.Booking, error) {
	return f.list("BookingsByStatus", func(b lifecycle.Booking) bool {
		return b.Status == status && (b.ClientID == actor.ID || b.ProviderID == actor.ID)
	})
}

func (f *fakeStore) Transition(ctx context.Context, actor lifecycle.Actor, id string, req lifecycle.Request) (lifecycle.Booking, error) {
	err := f.enter("Transition")
	defer f.mu.Unlock()
	if err != nil {
		return lifecycle.Booking{}, err
	}
	b, ok := f.bookings[id]
	if !ok {
		return lifecycle.Booking{}, apperr.NotFound("fake", "booking "+id)
	}
	if _, err := f.machine.Apply(ctx, &b, actor, req); err != nil {
		return lifecycle.Booking{}, err
	}
	f.bookings[id] = b
	if err := f.dropReply("Transition"); err != nil {
		return lifecycle.Booking{}, err
	}
	return b.Clone(), nil
}

func (f *fakeStore) SubmitEvidence(_ context.Context, actor lifecycle.Actor, id string, in lifecycle.EvidenceInput) (lifecycle.Booking, error) {
	err := f.enter("SubmitEvidence")
	defer f.mu.Unlock()
	if err != nil {
		return lifecycle.Booking{}, err
	}
	b, ok := f.bookings[id]
	if !ok {
		return lifecycle.Booking{}, apperr.NotFound("fake", "booking "+id)
	}
	if err := f.machine.AttachEvidence(&b, actor, in); err != nil {
		return lifecycle.Booking{}, err
	}
	f.bookings[id] = b
	return b.Clone(), nil
}

func (f *fakeStore) GetAvailability(_ context.Context, providerID string) (schedule.ProviderAvailability, error) {
	err := f.enter("GetAvailability")
	defer f.mu.Unlock()
	if err != nil {
		return schedule.ProviderAvailability{}, err
	}
	return schedule.NewProviderAvailability(providerID), nil
}

func (f *fakeStore) SetAvailability(_ context.Context, actor lifecycle.Actor, providerID string, req wire.SetAvailabilityRequest) (schedule.ProviderAvailability, error) {
	err := f.enter("SetAvailability")
	defer f.mu.Unlock()
	if err != nil {
		return schedule.ProviderAvailability{}, err
	}
	if actor.ID != providerID {
		return schedule.ProviderAvailability{}, apperr.Unauthorized("fake", "not your schedule")
	}
	a := schedule.NewProviderAvailability(providerID)
	if err := a.SetAvailability(req.WeeklySchedule, req.InstantBookingEnabled, req.BookingNoticeHours, req.MaxBookingsPerDay); err != nil {
		return schedule.ProviderAvailability{}, err
	}
	return a, nil
}

func (f *fakeStore) AddVacation(_ context.Context, _ lifecycle.Actor, _ string, start, end time.Time, reason string) (schedule.VacationPeriod, error) {
	err := f.enter("AddVacation")
	defer f.mu.Unlock()
	if err != nil {
		return schedule.VacationPeriod{}, err
	}
	return schedule.VacationPeriod{ID: "v-1", Start: start, End: end, Reason: reason}, nil
}

func (f *fakeStore) RemoveVacation(_ context.Context, _ lifecycle.Actor, _, vacationID string) error {
	err := f.enter("RemoveVacation")
	defer f.mu.Unlock()
	if err != nil {
		return err
	}
	if vacationID != "v-1" || f.removed[vacationID] {
		return apperr.NotFound("fake", "vacation "+vacationID)
	}
	f.removed[vacationID] = true
	return f.dropReply("RemoveVacation")
}

func (f *fakeStore) AvailableSlots(_ context.Context, _, _ string, date time.Time) ([]schedule.AvailableSlot, error) {
	err := f.enter("AvailableSlots")
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return []schedule.AvailableSlot{{Date: date, IsAvailable: true}}, nil
}

func (f *fakeStore) IsProviderAvailable(_ context.Context, _, _ string, _ time.Time) (bool, error) {
	err := f.enter("IsProviderAvailable")
	defer f.mu.Unlock()
	return err == nil, err
}

func (f *fakeStore) GetService(_ context.Context, id string) (schedule.Service, error) {
	err := f.enter("GetService")
	defer f.mu.Unlock()
	if err != nil {
		return schedule.Service{}, err
	}
	return schedule.Service{ID: id, ProviderID: "provider-1", Price: 4000, Status: schedule.ServiceAvailable}, nil
}

type countingDirectory struct {
	profiles.Directory
	fetches atomic.Int32
}

func (d *countingDirectory) GetProfile(ctx context.Context, id string) (profiles.Profile, error) {
	d.fetches.Add(1)
	return d.Directory.GetProfile(ctx, id)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newAggregator(actor lifecycle.Actor, store Stores, opts ...Option) *Aggregator {
	layer := access.New(discard(), access.Options{MaxAttempts: 3, BaseDelay: time.Millisecond})
	return New(actor, store, layer, discard(), opts...)
}

func draft() lifecycle.Draft {
	return lifecycle.Draft{
		ProviderID:    "provider-1",
		ServiceID:     "svc-1",
		RequestedDate: slot,
		Price:         4000,
		Location:      lifecycle.Location{Street: "12 Main St", City: "Springfield", Region: "IL", PostalCode: "62701", Country: "US"},
	}
}

func TestCreateAppendsAndEnriches(t *testing.T) {
	store := newFakeStore()
	dir := profiles.NewStatic(profiles.Profile{ID: "provider-1", Name: "Ada Provider", Verified: true})
	agg := newAggregator(client, store, WithProfiles(dir))
	ctx := context.Background()

	e, err := agg.Create(ctx, draft())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if e.Booking.ID == "" || e.Booking.ClientID != "client-1" || e.Booking.Status != lifecycle.StatusRequested {
		t.Fatalf("unexpected booking %+v", e.Booking)
	}
	if e.Counterpart.Name != "Ada Provider" || !e.Counterpart.Verified {
		t.Fatalf("counterpart not merged: %+v", e.Counterpart)
	}
	if e.Date != "Mon, Mar 2, 2026" || e.Time != "9:30 AM" {
		t.Fatalf("unexpected display date %q time %q", e.Date, e.Time)
	}
	if e.LocationDisplay != "12 Main St, Springfield, IL 62701, US" {
		t.Fatalf("unexpected location %q", e.LocationDisplay)
	}
	if got := agg.Enriched(); len(got) != 1 || got[0].Booking.ID != e.Booking.ID {
		t.Fatalf("created booking not cached: %+v", got)
	}
}

func TestTransitionReplacesByIDWithoutReload(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	c := newAggregator(client, store)
	created, err := c.Create(ctx, draft())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	p := newAggregator(provider, store)
	if _, err := p.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	loads := store.count("ProviderBookings")

	e, err := p.Accept(ctx, created.Booking.ID, nil)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if e.Booking.Status != lifecycle.StatusAccepted || e.Booking.ScheduledDate == nil || !e.Booking.ScheduledDate.Equal(slot) {
		t.Fatalf("unexpected accepted booking %+v", e.Booking)
	}
	got := p.Bookings()
	if len(got) != 1 || got[0].Status != lifecycle.StatusAccepted {
		t.Fatalf("expected in-place replacement, got %+v", got)
	}
	if store.count("ProviderBookings") != loads {
		t.Fatal("a mutation must not trigger a reload")
	}

	// The client's view only changes after its own reload.
	if c.Bookings()[0].Status != lifecycle.StatusRequested {
		t.Fatal("other sessions must not be touched")
	}
	if _, err := c.Load(ctx); err != nil {
		t.Fatalf("client load: %v", err)
	}
	if c.Bookings()[0].Status != lifecycle.StatusAccepted {
		t.Fatal("reload should pick up the accepted booking")
	}
}

func TestTransitionOfUnknownBookingIsNotAppended(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	created, err := newAggregator(client, store).Create(ctx, draft())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	p := newAggregator(provider, store)
	at := slot
	if _, err := p.Accept(ctx, created.Booking.ID, &at); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(p.Bookings()) != 0 {
		t.Fatal("mutations other than create must never append")
	}
}

func TestFailedTransitionKeepsCacheAndRecordsError(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	c := newAggregator(client, store)
	created, err := c.Create(ctx, draft())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := created.Booking.ID

	if _, err := c.Cancel(ctx, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	p := newAggregator(provider, store)
	if _, err := p.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	_, err = p.Accept(ctx, id, nil)
	if !apperr.Is(err, apperr.KindInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if store.count("Transition") != 2 {
		t.Fatalf("invalid transitions must not be retried, store saw %d transition calls", store.count("Transition"))
	}
	if got := p.BookingsByStatus(lifecycle.StatusCancelled); len(got) != 1 {
		t.Fatalf("booking should remain cancelled, got %+v", p.Bookings())
	}
	msg, kind, ok := p.LastError()
	if !ok || kind != apperr.KindInvalidTransition || msg == "" {
		t.Fatalf("error slot not populated: %q %q %v", msg, kind, ok)
	}

	// Later successes leave the slot alone.
	if _, err := p.Slots(ctx, "provider-1", "", slot); err != nil {
		t.Fatalf("slots: %v", err)
	}
	if _, _, ok := p.LastError(); !ok {
		t.Fatal("errors must not clear on success")
	}
	p.DismissError()
	if _, _, ok := p.LastError(); ok {
		t.Fatal("dismiss should clear the error")
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	c := newAggregator(client, store)
	created, err := c.Create(ctx, draft())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	busy := apperr.Transient("fake", errors.New("consistency proof failed"))
	store.failWith("Transition", busy, busy)
	if _, err := c.Cancel(ctx, created.Booking.ID); err != nil {
		t.Fatalf("cancel should succeed on the third attempt: %v", err)
	}
	if store.count("Transition") != 3 {
		t.Fatalf("expected 3 attempts, got %d", store.count("Transition"))
	}
	if _, _, ok := c.LastError(); ok {
		t.Fatal("a recovered call must not record an error")
	}

	store.failWith("ClientBookings", busy, busy, busy)
	if _, err := c.Load(ctx); !apperr.IsTransient(err) {
		t.Fatalf("expected the transient error after exhausting attempts, got %v", err)
	}
	if _, kind, ok := c.LastError(); !ok || kind != apperr.KindTransient {
		t.Fatal("exhausted retries surface like any other error")
	}
}

func TestClosedSessionDiscardsResult(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	c := newAggregator(client, store)
	created, err := c.Create(ctx, draft())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	store.onCall = func(method string) {
		if method == "Transition" {
			c.Close()
		}
	}
	_, err = c.Cancel(ctx, created.Booking.ID)
	if !errors.Is(err, access.ErrDiscarded) {
		t.Fatalf("expected ErrDiscarded, got %v", err)
	}
	if c.Bookings()[0].Status != lifecycle.StatusRequested {
		t.Fatal("a discarded result must not be applied")
	}
	if _, _, ok := c.LastError(); ok {
		t.Fatal("a discarded result must not populate the error slot")
	}
}

func TestBookingsByStatusIsLocal(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	c := newAggregator(client, store)
	for i := 0; i < 3; i++ {
		if _, err := c.Create(ctx, draft()); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	first := c.Bookings()[0].ID
	if _, err := c.Cancel(ctx, first); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	calls := store.count("ClientBookings")

	if got := c.BookingsByStatus(lifecycle.StatusRequested); len(got) != 2 {
		t.Fatalf("expected 2 requested, got %d", len(got))
	}
	if got := c.EnrichedByStatus(lifecycle.StatusCancelled); len(got) != 1 || got[0].Booking.ID != first {
		t.Fatalf("unexpected cancelled list %+v", got)
	}
	if got := c.BookingsByStatus(lifecycle.StatusDisputed); got == nil || len(got) != 0 {
		t.Fatalf("expected an empty non-nil list, got %#v", got)
	}
	if store.count("ClientBookings") != calls {
		t.Fatal("filtering must not call the store")
	}
}

func TestProfilesAreCachedUntilRefresh(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	dir := &countingDirectory{Directory: profiles.NewStatic(profiles.Profile{ID: "client-1", Name: "Cleo"})}
	if _, err := newAggregator(client, store).Create(ctx, draft()); err != nil {
		t.Fatalf("create: %v", err)
	}
	d2 := draft()
	d2.RequestedDate = slot.Add(time.Hour)
	if _, err := newAggregator(client, store).Create(ctx, d2); err != nil {
		t.Fatalf("create: %v", err)
	}

	p := newAggregator(provider, store, WithProfiles(dir))
	list, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(list) != 2 || list[0].Counterpart.Name != "Cleo" {
		t.Fatalf("unexpected enriched list %+v", list)
	}
	if _, err := p.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if dir.fetches.Load() != 1 {
		t.Fatalf("expected one profile fetch, got %d", dir.fetches.Load())
	}
	if _, err := p.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if dir.fetches.Load() != 2 {
		t.Fatalf("refresh must clear the profile cache, got %d fetches", dir.fetches.Load())
	}
}

func TestDisplayLocationZone(t *testing.T) {
	store := newFakeStore()
	agg := newAggregator(client, store, WithLocation(time.FixedZone("UTC-5", -5*3600)))
	d := draft()
	d.Location = lifecycle.Location{Lat: 40.7128, Lng: -74.006}
	e, err := agg.Create(context.Background(), d)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if e.Date != "Mon, Mar 2, 2026" || e.Time != "4:30 AM" {
		t.Fatalf("unexpected display %q %q", e.Date, e.Time)
	}
	if e.LocationDisplay != "40.7128, -74.006" {
		t.Fatalf("unexpected coordinates %q", e.LocationDisplay)
	}
}

func TestDisputeAndEvidence(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	c := newAggregator(client, store)
	p := newAggregator(provider, store)
	created, err := c.Create(ctx, draft())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := created.Booking.ID
	if _, err := p.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, step := range []func() (Enriched, error){
		func() (Enriched, error) { return p.Accept(ctx, id, nil) },
		func() (Enriched, error) { return p.Start(ctx, id) },
		func() (Enriched, error) { return p.Complete(ctx, id) },
	} {
		if _, err := step(); err != nil {
			t.Fatalf("provider step: %v", err)
		}
	}
	if _, err := c.Dispute(ctx, id, &lifecycle.EvidenceInput{Description: "work left unfinished"}); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	e, err := c.SubmitEvidence(ctx, id, lifecycle.EvidenceInput{Description: "photos", FileURLs: []string{"https://files.example.com/1.jpg"}})
	if err != nil {
		t.Fatalf("evidence: %v", err)
	}
	if e.Booking.Status != lifecycle.StatusDisputed || e.Booking.Evidence == nil || e.Booking.Evidence.Description != "photos" {
		t.Fatalf("unexpected disputed booking %+v", e.Booking)
	}
	if c.Bookings()[0].Status != lifecycle.StatusDisputed {
		t.Fatal("client cache should hold the disputed booking")
	}
}

func TestAvailabilityPassthroughs(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	p := newAggregator(provider, store)

	var week schedule.WeeklySchedule
	week[time.Monday] = schedule.DayAvailability{IsAvailable: true, Slots: []schedule.TimeSlot{
		{Start: schedule.MustClock("09:00"), End: schedule.MustClock("12:00")},
		{Start: schedule.MustClock("11:00"), End: schedule.MustClock("13:00")},
	}}
	if _, err := p.SetAvailability(ctx, wire.SetAvailabilityRequest{WeeklySchedule: week}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("overlapping slots must be rejected, got %v", err)
	}
	if store.count("SetAvailability") != 1 {
		t.Fatal("validation errors are not retried")
	}

	v, err := p.AddVacation(ctx, slot, slot.Add(24*time.Hour), "conference")
	if err != nil || v.ID != "v-1" {
		t.Fatalf("add vacation: %+v %v", v, err)
	}
	if err := p.RemoveVacation(ctx, "v-1"); err != nil {
		t.Fatalf("remove vacation: %v", err)
	}
	if err := p.RemoveVacation(ctx, "v-2"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if ok, err := p.IsProviderAvailable(ctx, "provider-1", "", slot); err != nil || !ok {
		t.Fatalf("available: %v %v", ok, err)
	}
	if a, err := p.Availability(ctx, "provider-1"); err != nil || a.ProviderID != "provider-1" {
		t.Fatalf("availability: %+v %v", a, err)
	}
	if len(p.Active()) != 0 {
		t.Fatalf("nothing should be in flight, got %v", p.Active())
	}
}

func TestFormatLocation(t *testing.T) {
	cases := []struct {
		in   lifecycle.Location
		want string
	}{
		{lifecycle.Location{City: "Lagos", Country: "NG", Lat: 6.5, Lng: 3.4}, "Lagos, NG"},
		{lifecycle.Location{Street: "1 Quay Rd", Region: "Dublin"}, "1 Quay Rd, Dublin"},
		{lifecycle.Location{Lat: -33.8688, Lng: 151.2093}, "-33.8688, 151.2093"},
		{lifecycle.Location{}, ""},
	}
	for _, c := range cases {
		if got := FormatLocation(c.in); got != c.want {
			t.Fatalf("FormatLocation(%+v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRetryAfterLostReplySettlesOnCommittedTransition(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	created, err := newAggregator(client, store).Create(ctx, draft())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p := newAggregator(provider, store)
	if _, err := p.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	store.loseReplies("Transition", 1)
	e, err := p.Accept(ctx, created.Booking.ID, nil)
	if err != nil {
		t.Fatalf("accept committed on the first attempt, got %v", err)
	}
	if store.count("Transition") != 2 || store.count("GetBooking") != 1 {
		t.Fatalf("expected a retry and a read back, got %d transitions %d reads", store.count("Transition"), store.count("GetBooking"))
	}
	if e.Booking.Status != lifecycle.StatusAccepted || p.Bookings()[0].Status != lifecycle.StatusAccepted {
		t.Fatalf("cache should follow the store, got %+v", p.Bookings())
	}
	if _, _, ok := p.LastError(); ok {
		t.Fatal("a committed transition must not record an error")
	}

	// A rejection on the first attempt is still an error.
	if _, err := p.Decline(ctx, created.Booking.ID); !apperr.Is(err, apperr.KindInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if store.count("GetBooking") != 1 {
		t.Fatal("first-attempt rejections are not read back")
	}
}

func TestRetriedRemoveVacationAfterLostReply(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	p := newAggregator(provider, store)

	store.loseReplies("RemoveVacation", 1)
	if err := p.RemoveVacation(ctx, "v-1"); err != nil {
		t.Fatalf("vacation was removed on the first attempt, got %v", err)
	}
	if store.count("RemoveVacation") != 2 {
		t.Fatalf("expected one retry, got %d calls", store.count("RemoveVacation"))
	}
	if err := p.RemoveVacation(ctx, "v-1"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("a fresh removal of a missing vacation is not found, got %v", err)
	}
}

func TestLoadKeepsResultsConfirmedWhileFetching(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	c := newAggregator(client, store)
	created, err := c.Create(ctx, draft())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := created.Booking.ID

	p := newAggregator(provider, store)
	if _, err := p.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	// The listing is read, then a decline is confirmed, then the listing lands.
	store.afterList = func(method string) {
		if method != "ProviderBookings" {
			return
		}
		store.afterList = nil
		if _, err := p.Decline(ctx, id); err != nil {
			t.Errorf("decline: %v", err)
		}
	}
	list, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(list) != 1 || list[0].Booking.Status != lifecycle.StatusDeclined {
		t.Fatalf("the confirmed decline must survive the overlapping load, got %+v", list)
	}
	if p.Bookings()[0].Status != lifecycle.StatusDeclined {
		t.Fatal("cache reverted to the listing taken before the decline")
	}

	// A later load sees the store's state as usual.
	if _, err := p.Load(ctx); err != nil || p.Bookings()[0].Status != lifecycle.StatusDeclined {
		t.Fatalf("reload: %v %+v", err, p.Bookings())
	}

	// A booking created while the client's listing is in flight is kept too.
	store.afterList = func(method string) {
		if method != "ClientBookings" {
			return
		}
		store.afterList = nil
		d := draft()
		d.RequestedDate = slot.Add(2 * time.Hour)
		if _, err := c.Create(ctx, d); err != nil {
			t.Errorf("create: %v", err)
		}
	}
	list, err = c.Load(ctx)
	if err != nil {
		t.Fatalf("client load: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected the listed booking and the new one, got %d", len(list))
	}
}

func TestFetchByStatusLeavesListAlone(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	c := newAggregator(client, store)
	if _, err := c.Create(ctx, draft()); err != nil {
		t.Fatalf("create: %v", err)
	}

	fresh := newAggregator(client, store)
	got, err := fresh.FetchByStatus(ctx, lifecycle.StatusRequested)
	if err != nil || len(got) != 1 || got[0].Booking.Status != lifecycle.StatusRequested {
		t.Fatalf("fetch by status: %v %+v", err, got)
	}
	if fresh.Loaded() || len(fresh.Bookings()) != 0 {
		t.Fatal("a status fetch must not populate the session list")
	}
	if none, err := fresh.FetchByStatus(ctx, lifecycle.StatusCompleted); err != nil || len(none) != 0 {
		t.Fatalf("expected no completed bookings, got %v %+v", err, none)
	}
}
