// Package aggregator keeps one consumer's view of their bookings. The remote
// store stays the source of truth: the local list only changes after the store
// confirms a mutation.
package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
	"github.com/md-rashed-zaman/servicebook/libs/schedule"
	"github.com/md-rashed-zaman/servicebook/libs/wire"
	"github.com/md-rashed-zaman/servicebook/services/booking-service/internal/access"
	"github.com/md-rashed-zaman/servicebook/services/booking-service/internal/profiles"
)

// Stores is the remote booking and availability store.
type Stores interface {
	CreateBooking(ctx context.Context, actor lifecycle.Actor, d lifecycle.Draft) (lifecycle.Booking, error)
	GetBooking(ctx context.Context, actor lifecycle.Actor, id string) (lifecycle.Booking, error)
	ClientBookings(ctx context.Context, actor lifecycle.Actor, clientID string) ([]lifecycle.Booking, error)
	ProviderBookings(ctx context.Context, actor lifecycle.Actor, providerID string) ([]lifecycle.Booking, error)
	BookingsByStatus(ctx context.Context, actor lifecycle.Actor, status lifecycle.Status) ([]lifecycle.Booking, error)
	Transition(ctx context.Context, actor lifecycle.Actor, id string, req lifecycle.Request) (lifecycle.Booking, error)
	SubmitEvidence(ctx context.Context, actor lifecycle.Actor, id string, in lifecycle.EvidenceInput) (lifecycle.Booking, error)

	GetAvailability(ctx context.Context, providerID string) (schedule.ProviderAvailability, error)
	SetAvailability(ctx context.Context, actor lifecycle.Actor, providerID string, req wire.SetAvailabilityRequest) (schedule.ProviderAvailability, error)
	AddVacation(ctx context.Context, actor lifecycle.Actor, providerID string, start, end time.Time, reason string) (schedule.VacationPeriod, error)
	RemoveVacation(ctx context.Context, actor lifecycle.Actor, providerID, vacationID string) error
	AvailableSlots(ctx context.Context, providerID, serviceID string, date time.Time) ([]schedule.AvailableSlot, error)
	IsProviderAvailable(ctx context.Context, providerID, serviceID string, at time.Time) (bool, error)
	GetService(ctx context.Context, id string) (schedule.Service, error)
}

type Aggregator struct {
	actor    lifecycle.Actor
	store    Stores
	layer    *access.Layer
	profiles *access.Cache[profiles.Profile]
	logger   *slog.Logger
	loc      *time.Location
	closed   atomic.Bool

	mu       sync.Mutex
	loaded   bool
	bookings []lifecycle.Booking
	enriched map[string]Enriched
	lastErr  error

	// gen counts confirmed results folded into the list; touched holds the gen at
	// which each booking was last folded in.
	gen     uint64
	touched map[string]uint64
}

type Option func(*Aggregator)

// WithLocation sets the zone used for display dates and times. Default UTC.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// WithProfiles sets where counterpart display data comes from.
func WithProfiles(dir profiles.Directory) Option {
	return func(a *Aggregator) {
		a.profiles = access.NewCache(a.layer, "profile", dir.GetProfile)
	}
}

func New(actor lifecycle.Actor, store Stores, layer *access.Layer, logger *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		actor:    actor,
		store:    store,
		layer:    layer,
		logger:   logger.With("actor_id", actor.ID, "actor_role", string(actor.Role)),
		loc:      time.UTC,
		enriched: map[string]Enriched{},
		touched:  map[string]uint64{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.profiles == nil {
		a.profiles = access.NewCache(layer, "profile", profiles.NewStatic().GetProfile)
	}
	return a
}

func (a *Aggregator) Actor() lifecycle.Actor { return a.actor }

// Close marks the session as gone; results of calls still in flight are discarded.
func (a *Aggregator) Close() { a.closed.Store(true) }

func (a *Aggregator) alive() bool { return !a.closed.Load() }

// call runs op through the access layer and records any failure in the error slot.
func call[T any](ctx context.Context, a *Aggregator, label string, op func(context.Context) (T, error)) (T, error) {
	v, err := access.Do(ctx, a.layer, label, op, access.WithLiveness(a.alive))
	if err != nil {
		a.record(label, err)
	}
	return v, err
}

func (a *Aggregator) record(label string, err error) {
	if errors.Is(err, access.ErrDiscarded) {
		return
	}
	if apperr.KindOf(err) == apperr.KindInternal {
		a.logger.Error("store call failed", "label", label, "err", err)
	}
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()
}

// LastError returns the latest failure. It survives later successes until dismissed.
func (a *Aggregator) LastError() (message string, kind apperr.Kind, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastErr == nil {
		return "", "", false
	}
	return apperr.Message(a.lastErr), apperr.KindOf(a.lastErr), true
}

func (a *Aggregator) DismissError() {
	a.mu.Lock()
	a.lastErr = nil
	a.mu.Unlock()
}

// InProgress reports whether an operation under label is running for this session.
func (a *Aggregator) InProgress(label string) bool { return a.layer.InProgress(label) }

func (a *Aggregator) Active() []string { return a.layer.Active() }

// Load replaces the local list with the actor's bookings from the store.
// Results confirmed while the fetch was running are kept over the fetched copy.
func (a *Aggregator) Load(ctx context.Context) ([]Enriched, error) {
	a.mu.Lock()
	started := a.gen
	a.mu.Unlock()

	bs, err := call(ctx, a, "load:"+a.actor.ID, func(ctx context.Context) ([]lifecycle.Booking, error) {
		if a.actor.Role == lifecycle.RoleProvider {
			return a.store.ProviderBookings(ctx, a.actor, a.actor.ID)
		}
		return a.store.ClientBookings(ctx, a.actor, a.actor.ID)
	})
	if err != nil {
		return nil, err
	}

	fresh := make(map[string]Enriched, len(bs))
	for _, b := range bs {
		fresh[b.ID] = a.enrich(ctx, b)
	}

	a.mu.Lock()
	a.loaded = true
	a.bookings, a.enriched = a.mergeLocked(bs, fresh, started)
	out := a.enrichedLocked(nil)
	a.mu.Unlock()

	a.logger.Debug("bookings loaded", "fetched", len(bs), "count", len(out))
	return out, nil
}

// mergeLocked builds the list a load settles on. The cached copy of a booking wins
// when it is newer than the fetched one, or when it was folded in after the fetch
// started and is not older. Bookings folded in after that point survive even if the
// fetch missed them.
func (a *Aggregator) mergeLocked(fetched []lifecycle.Booking, fresh map[string]Enriched, started uint64) ([]lifecycle.Booking, map[string]Enriched) {
	current := make(map[string]int, len(a.bookings))
	for i, b := range a.bookings {
		current[b.ID] = i
	}
	list := make([]lifecycle.Booking, 0, len(fetched))
	enriched := make(map[string]Enriched, len(fetched))
	keep := func(b lifecycle.Booking) {
		list = append(list, b)
		if e, ok := a.enriched[b.ID]; ok {
			enriched[b.ID] = e
		}
	}

	seen := make(map[string]bool, len(fetched))
	for _, b := range fetched {
		seen[b.ID] = true
		if i, ok := current[b.ID]; ok {
			cached := a.bookings[i]
			if cached.UpdatedAt.After(b.UpdatedAt) || (a.touched[b.ID] > started && !b.UpdatedAt.After(cached.UpdatedAt)) {
				keep(cached)
				continue
			}
		}
		list = append(list, b)
		enriched[b.ID] = fresh[b.ID]
	}
	for _, b := range a.bookings {
		if !seen[b.ID] && a.touched[b.ID] > started {
			keep(b)
		}
	}
	return list, enriched
}

// touchLocked records that id was just folded in from a confirmed result.
func (a *Aggregator) touchLocked(id string) {
	a.gen++
	a.touched[id] = a.gen
}

// Loaded reports whether Load has succeeded at least once.
func (a *Aggregator) Loaded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loaded
}

// Refresh drops cached profiles and reloads every booking.
func (a *Aggregator) Refresh(ctx context.Context) ([]Enriched, error) {
	a.profiles.Refresh()
	return a.Load(ctx)
}

// FetchByStatus asks the store for the actor's bookings in one status. The local
// list is left alone.
func (a *Aggregator) FetchByStatus(ctx context.Context, status lifecycle.Status) ([]Enriched, error) {
	bs, err := call(ctx, a, "list:"+string(status), func(ctx context.Context) ([]lifecycle.Booking, error) {
		return a.store.BookingsByStatus(ctx, a.actor, status)
	})
	if err != nil {
		return nil, err
	}
	out := make([]Enriched, 0, len(bs))
	for _, b := range bs {
		out = append(out, a.enrich(ctx, b))
	}
	return out, nil
}

// BookingsByStatus filters the local list; it never calls the store.
func (a *Aggregator) BookingsByStatus(status lifecycle.Status) []lifecycle.Booking {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []lifecycle.Booking{}
	for _, b := range a.bookings {
		if b.Status == status {
			out = append(out, b.Clone())
		}
	}
	return out
}

func (a *Aggregator) Bookings() []lifecycle.Booking {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]lifecycle.Booking, 0, len(a.bookings))
	for _, b := range a.bookings {
		out = append(out, b.Clone())
	}
	return out
}

func (a *Aggregator) Enriched() []Enriched {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enrichedLocked(nil)
}

func (a *Aggregator) EnrichedByStatus(status lifecycle.Status) []Enriched {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enrichedLocked(&status)
}

func (a *Aggregator) enrichedLocked(status *lifecycle.Status) []Enriched {
	out := []Enriched{}
	for _, b := range a.bookings {
		if status != nil && b.Status != *status {
			continue
		}
		e, ok := a.enriched[b.ID]
		if !ok {
			e = enrich(b, profiles.Profile{ID: counterpartID(a.actor, b)}, a.loc)
		}
		out = append(out, e)
	}
	return out
}

// enrich never fails: without a profile the counterpart is shown by id.
func (a *Aggregator) enrich(ctx context.Context, b lifecycle.Booking) Enriched {
	id := counterpartID(a.actor, b)
	p, err := a.profiles.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, access.ErrDiscarded) {
			a.logger.Debug("profile lookup failed", "profile_id", id, "err", err)
		}
		p = profiles.Profile{ID: id}
	}
	return enrich(b, p, a.loc)
}

// apply stores a booking the store just confirmed. Only Create may add a new
// entry; everything else replaces by id.
func (a *Aggregator) apply(ctx context.Context, b lifecycle.Booking, appendNew bool) Enriched {
	e := a.enrich(ctx, b)

	a.mu.Lock()
	defer a.mu.Unlock()
	i := slices.IndexFunc(a.bookings, func(x lifecycle.Booking) bool { return x.ID == b.ID })
	switch {
	case i >= 0:
		a.bookings[i] = b
	case appendNew:
		a.bookings = append(a.bookings, b)
	default:
		// Not part of the loaded list; hand it back without caching.
		return e
	}
	a.enriched[b.ID] = e
	a.touchLocked(b.ID)
	return e
}

// Observe folds in a booking the store published. It is ignored until the list has
// been loaded, and an update older than the cached copy never overwrites it.
func (a *Aggregator) Observe(ctx context.Context, b lifecycle.Booking) bool {
	if !a.alive() || (b.ClientID != a.actor.ID && b.ProviderID != a.actor.ID) {
		return false
	}
	a.mu.Lock()
	if !a.loaded {
		a.mu.Unlock()
		return false
	}
	if i := slices.IndexFunc(a.bookings, func(x lifecycle.Booking) bool { return x.ID == b.ID }); i >= 0 && b.UpdatedAt.Before(a.bookings[i].UpdatedAt) {
		a.mu.Unlock()
		return false
	}
	a.mu.Unlock()

	e := a.enrich(ctx, b)

	a.mu.Lock()
	defer a.mu.Unlock()
	i := slices.IndexFunc(a.bookings, func(x lifecycle.Booking) bool { return x.ID == b.ID })
	switch {
	case i < 0:
		a.bookings = append(a.bookings, b)
	case b.UpdatedAt.Before(a.bookings[i].UpdatedAt):
		return false
	default:
		a.bookings[i] = b
	}
	a.enriched[b.ID] = e
	a.touchLocked(b.ID)
	return true
}

// Create requests a booking as the acting client. An empty draft id is filled in
// so retries of the same request stay idempotent.
func (a *Aggregator) Create(ctx context.Context, d lifecycle.Draft) (Enriched, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.ClientID = a.actor.ID
	b, err := call(ctx, a, "create:"+d.ID, func(ctx context.Context) (lifecycle.Booking, error) {
		return a.store.CreateBooking(ctx, a.actor, d)
	})
	if err != nil {
		return Enriched{}, err
	}
	a.logger.Info("booking requested", "booking_id", b.ID, "provider_id", b.ProviderID)
	return a.apply(ctx, b, true), nil
}

// transition applies req through the store. A retry only happens after a transient
// failure, and that attempt may have committed with its reply lost; a retry the
// state machine then rejects is settled by reading the booking back.
func (a *Aggregator) transition(ctx context.Context, id string, req lifecycle.Request) (Enriched, error) {
	target, _ := lifecycle.Target(req.Action)
	attempt := 0
	b, err := call(ctx, a, string(req.Action)+":"+id, func(ctx context.Context) (lifecycle.Booking, error) {
		attempt++
		b, err := a.store.Transition(ctx, a.actor, id, req)
		if err == nil || attempt == 1 || apperr.IsTransient(err) {
			return b, err
		}
		cur, gerr := a.store.GetBooking(ctx, a.actor, id)
		if gerr != nil || cur.Status != target {
			return b, err
		}
		a.logger.Info("earlier attempt had committed", "booking_id", id, "action", string(req.Action))
		return cur, nil
	})
	if err != nil {
		return Enriched{}, err
	}
	a.logger.Info("booking transitioned", "booking_id", b.ID, "action", string(req.Action), "status", string(b.Status))
	return a.apply(ctx, b, false), nil
}

// Booking fetches one booking from the store and refreshes it locally if it is
// already in the list.
func (a *Aggregator) Booking(ctx context.Context, id string) (Enriched, error) {
	b, err := call(ctx, a, "get:"+id, func(ctx context.Context) (lifecycle.Booking, error) {
		return a.store.GetBooking(ctx, a.actor, id)
	})
	if err != nil {
		return Enriched{}, err
	}
	return a.apply(ctx, b, false), nil
}

// Accept confirms a requested booking. A nil scheduled date means the requested
// date of the locally known booking.
func (a *Aggregator) Accept(ctx context.Context, id string, scheduled *time.Time) (Enriched, error) {
	if scheduled == nil {
		a.mu.Lock()
		if i := slices.IndexFunc(a.bookings, func(x lifecycle.Booking) bool { return x.ID == id }); i >= 0 {
			at := a.bookings[i].RequestedDate
			scheduled = &at
		}
		a.mu.Unlock()
	}
	return a.transition(ctx, id, lifecycle.Request{Action: lifecycle.ActionAccept, ScheduledDate: scheduled})
}

func (a *Aggregator) Decline(ctx context.Context, id string) (Enriched, error) {
	return a.transition(ctx, id, lifecycle.Request{Action: lifecycle.ActionDecline})
}

func (a *Aggregator) Cancel(ctx context.Context, id string) (Enriched, error) {
	return a.transition(ctx, id, lifecycle.Request{Action: lifecycle.ActionCancel})
}

func (a *Aggregator) Start(ctx context.Context, id string) (Enriched, error) {
	return a.transition(ctx, id, lifecycle.Request{Action: lifecycle.ActionStart})
}

func (a *Aggregator) Complete(ctx context.Context, id string) (Enriched, error) {
	return a.transition(ctx, id, lifecycle.Request{Action: lifecycle.ActionComplete})
}

func (a *Aggregator) Dispute(ctx context.Context, id string, evidence *lifecycle.EvidenceInput) (Enriched, error) {
	return a.transition(ctx, id, lifecycle.Request{Action: lifecycle.ActionDispute, Evidence: evidence})
}

func (a *Aggregator) SubmitEvidence(ctx context.Context, id string, in lifecycle.EvidenceInput) (Enriched, error) {
	b, err := call(ctx, a, "evidence:"+id, func(ctx context.Context) (lifecycle.Booking, error) {
		return a.store.SubmitEvidence(ctx, a.actor, id, in)
	})
	if err != nil {
		return Enriched{}, err
	}
	return a.apply(ctx, b, false), nil
}

func (a *Aggregator) Slots(ctx context.Context, providerID, serviceID string, date time.Time) ([]schedule.AvailableSlot, error) {
	return call(ctx, a, "slots:"+providerID, func(ctx context.Context) ([]schedule.AvailableSlot, error) {
		return a.store.AvailableSlots(ctx, providerID, serviceID, date)
	})
}

func (a *Aggregator) Service(ctx context.Context, id string) (schedule.Service, error) {
	return call(ctx, a, "service:"+id, func(ctx context.Context) (schedule.Service, error) {
		return a.store.GetService(ctx, id)
	})
}

func (a *Aggregator) Availability(ctx context.Context, providerID string) (schedule.ProviderAvailability, error) {
	return call(ctx, a, "availability:"+providerID, func(ctx context.Context) (schedule.ProviderAvailability, error) {
		return a.store.GetAvailability(ctx, providerID)
	})
}

func (a *Aggregator) IsProviderAvailable(ctx context.Context, providerID, serviceID string, at time.Time) (bool, error) {
	return call(ctx, a, "available:"+providerID, func(ctx context.Context) (bool, error) {
		return a.store.IsProviderAvailable(ctx, providerID, serviceID, at)
	})
}

// SetAvailability replaces the acting provider's weekly schedule and policy.
func (a *Aggregator) SetAvailability(ctx context.Context, req wire.SetAvailabilityRequest) (schedule.ProviderAvailability, error) {
	return call(ctx, a, "set-availability:"+a.actor.ID, func(ctx context.Context) (schedule.ProviderAvailability, error) {
		return a.store.SetAvailability(ctx, a.actor, a.actor.ID, req)
	})
}

func (a *Aggregator) AddVacation(ctx context.Context, start, end time.Time, reason string) (schedule.VacationPeriod, error) {
	return call(ctx, a, "add-vacation:"+a.actor.ID, func(ctx context.Context) (schedule.VacationPeriod, error) {
		return a.store.AddVacation(ctx, a.actor, a.actor.ID, start, end, reason)
	})
}

// RemoveVacation deletes one vacation. NotFound on a retry means an earlier
// attempt already removed it.
func (a *Aggregator) RemoveVacation(ctx context.Context, vacationID string) error {
	attempt := 0
	_, err := call(ctx, a, "remove-vacation:"+vacationID, func(ctx context.Context) (struct{}, error) {
		attempt++
		err := a.store.RemoveVacation(ctx, a.actor, a.actor.ID, vacationID)
		if attempt > 1 && apperr.Is(err, apperr.KindNotFound) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return err
}
