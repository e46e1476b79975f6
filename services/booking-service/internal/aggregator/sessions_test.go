package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
)

func TestSessionsAreIsolatedPerActor(t *testing.T) {
	store := newFakeStore()
	built := 0
	s := NewSessions(func(actor lifecycle.Actor) *Aggregator {
		built++
		return newAggregator(actor, store)
	})

	a := s.Get(client)
	if s.Get(client) != a || built != 1 {
		t.Fatal("the same actor must get the same aggregator")
	}
	b := s.Get(provider)
	if b == a || built != 2 || s.Len() != 2 {
		t.Fatal("each actor gets its own aggregator")
	}

	s.Drop(client)
	if a.alive() {
		t.Fatal("dropped sessions are closed")
	}
	if s.Get(client) == a {
		t.Fatal("a dropped session is rebuilt on next use")
	}
}

func TestSessionsEvictIdle(t *testing.T) {
	store := newFakeStore()
	s := NewSessions(func(actor lifecycle.Actor) *Aggregator { return newAggregator(actor, store) })
	now := testNow
	s.now = func() time.Time { return now }

	old := s.Get(client)
	now = now.Add(20 * time.Minute)
	s.Get(provider)

	if n := s.Evict(15 * time.Minute); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if old.alive() || s.Len() != 1 {
		t.Fatal("the idle client session should be gone")
	}
}

func TestSessionsObserveReachesBothParties(t *testing.T) {
	store := newFakeStore()
	s := NewSessions(func(actor lifecycle.Actor) *Aggregator { return newAggregator(actor, store) })
	ctx := context.Background()

	byClient := s.Get(client)
	byProvider := s.Get(provider)
	if _, err := byClient.Load(ctx); err != nil {
		t.Fatalf("client load: %v", err)
	}
	if _, err := byProvider.Load(ctx); err != nil {
		t.Fatalf("provider load: %v", err)
	}

	e, err := byClient.Create(ctx, draft())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(byProvider.Bookings()) != 0 {
		t.Fatal("the provider's list only changes through an event or a reload")
	}
	if n := s.Observe(ctx, e.Booking); n != 2 {
		t.Fatalf("expected both sessions to take the event, got %d", n)
	}
	got := byProvider.Bookings()
	if len(got) != 1 || got[0].ID != e.Booking.ID {
		t.Fatalf("provider should now hold the request: %+v", got)
	}
	if s.Len() != 2 {
		t.Fatal("observing must not open sessions")
	}
}

func TestObserveIgnoresStaleAndUnloaded(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	agg := newAggregator(client, store)

	b, err := store.CreateBooking(ctx, client, draft())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if agg.Observe(ctx, b) {
		t.Fatal("a session that never loaded ignores events")
	}
	if _, err := agg.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	newer := b.Clone()
	newer.Status = lifecycle.StatusCancelled
	newer.UpdatedAt = b.UpdatedAt.Add(time.Minute)
	if !agg.Observe(ctx, newer) {
		t.Fatal("a newer copy should replace the cached one")
	}
	if agg.Observe(ctx, b) {
		t.Fatal("an older copy must not overwrite a newer one")
	}
	if got := agg.BookingsByStatus(lifecycle.StatusCancelled); len(got) != 1 {
		t.Fatalf("expected the cancelled copy to remain, got %+v", agg.Bookings())
	}

	other := b.Clone()
	other.ID = "someone-else"
	other.ClientID = "client-2"
	if agg.Observe(ctx, other) {
		t.Fatal("bookings of other actors are not taken")
	}
	agg.Close()
	if agg.Observe(ctx, newer) {
		t.Fatal("closed sessions ignore events")
	}
}
