package storeclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/httpx"
	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
	"github.com/md-rashed-zaman/servicebook/libs/wire"
)

var provider = lifecycle.Actor{ID: "provider-1", Role: lifecycle.RoleProvider}

func newClient(t *testing.T, r http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", Timeout: 2 * time.Second}, nil)
}

func TestTransitionSendsActorAndDecodesBooking(t *testing.T) {
	slot := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var gotActor, gotRole, gotRequestID string
	var gotBody wire.TransitionRequest

	r := chi.NewRouter()
	r.Post("/v1/bookings/{id}/{action}", func(w http.ResponseWriter, r *http.Request) {
		gotActor = r.Header.Get(wire.HeaderActorID)
		gotRole = r.Header.Get(wire.HeaderActorRole)
		gotRequestID = r.Header.Get(httpx.RequestIDHeader)
		raw, _ := io.ReadAll(r.Body)
		if err := wire.Unmarshal(raw, &gotBody); err != nil {
			t.Errorf("body: %v", err)
		}
		if chi.URLParam(r, "action") != "accept" {
			t.Errorf("unexpected action %s", chi.URLParam(r, "action"))
		}
		sched := wire.FromTime(slot)
		httpx.WriteJSON(w, http.StatusOK, wire.Booking{
			ID:            chi.URLParam(r, "id"),
			ClientID:      "client-1",
			ProviderID:    "provider-1",
			Status:        wire.TaggedStatus(lifecycle.StatusAccepted),
			RequestedDate: sched,
			ScheduledDate: &sched,
		})
	})
	c := newClient(t, r)

	ctx := httpx.ContextWithRequestID(context.Background(), "req-42")
	b, err := c.Transition(ctx, provider, "b-1", lifecycle.Request{Action: lifecycle.ActionAccept, ScheduledDate: &slot})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if gotActor != "provider-1" || gotRole != "provider" || gotRequestID != "req-42" {
		t.Fatalf("headers not forwarded: %q %q %q", gotActor, gotRole, gotRequestID)
	}
	if gotBody.ScheduledDate == nil || !gotBody.ScheduledDate.Time().Equal(slot) {
		t.Fatalf("scheduled date not sent: %+v", gotBody)
	}
	if b.ID != "b-1" || b.Status != lifecycle.StatusAccepted || b.ScheduledDate == nil || !b.ScheduledDate.Equal(slot) {
		t.Fatalf("unexpected booking %+v", b)
	}
}

func TestErrorBodiesKeepTheirKind(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/v1/bookings/{id}/{action}", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, apperr.New(apperr.KindInvalidTransition, "store", "cannot decline an Accepted booking"))
	})
	r.Post("/v1/bookings", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, apperr.New(apperr.KindConflict, "store", "slot is taken"))
	})
	r.Get("/v1/providers/{id}/availability", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream busy", http.StatusServiceUnavailable)
	})
	c := newClient(t, r)
	ctx := context.Background()

	_, err := c.Transition(ctx, provider, "b-1", lifecycle.Request{Action: lifecycle.ActionDecline})
	if !apperr.Is(err, apperr.KindInvalidTransition) || apperr.Message(err) != "cannot decline an Accepted booking" {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	_, err = c.CreateBooking(ctx, lifecycle.Actor{ID: "client-1", Role: lifecycle.RoleClient}, lifecycle.Draft{ProviderID: "provider-1"})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	_, err = c.GetAvailability(ctx, "provider-1")
	if !apperr.IsTransient(err) {
		t.Fatalf("a bare 503 must be transient, got %v", err)
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := New(Config{BaseURL: base, Timeout: time.Second}, nil)
	_, err := c.GetBooking(context.Background(), provider, "b-1")
	if !apperr.IsTransient(err) {
		t.Fatalf("expected transient, got %v", err)
	}
}

func TestListsAndQueries(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	r := chi.NewRouter()
	r.Get("/v1/bookings", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "Completed" {
			t.Errorf("unexpected status query %q", r.URL.RawQuery)
		}
		httpx.WriteJSON(w, http.StatusOK, wire.Envelope[wire.Booking]{Items: []wire.Booking{{ID: "b-9", Status: wire.TaggedStatus(lifecycle.StatusCompleted)}}})
	})
	r.Get("/v1/providers/{id}/slots", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("date") != nanos(day) || r.URL.Query().Get("service_id") != "svc-1" {
			t.Errorf("unexpected slot query %q", r.URL.RawQuery)
		}
		httpx.WriteJSON(w, http.StatusOK, wire.Envelope[wire.AvailableSlot]{Items: []wire.AvailableSlot{
			{Date: wire.FromTime(day), Start: "09:00", End: "10:00", IsAvailable: true},
		}})
	})
	r.Delete("/v1/providers/{id}/vacations/{vid}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := newClient(t, r)
	ctx := context.Background()

	bs, err := c.BookingsByStatus(ctx, provider, lifecycle.StatusCompleted)
	if err != nil || len(bs) != 1 || bs[0].Status != lifecycle.StatusCompleted {
		t.Fatalf("unexpected list %+v %v", bs, err)
	}
	slots, err := c.AvailableSlots(ctx, "provider-1", "svc-1", day)
	if err != nil || len(slots) != 1 || slots[0].Slot.Start.String() != "09:00" {
		t.Fatalf("unexpected slots %+v %v", slots, err)
	}
	if err := c.RemoveVacation(ctx, provider, "provider-1", "v-1"); err != nil {
		t.Fatalf("remove vacation: %v", err)
	}
}

func TestCreateIsNotATransition(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	_, err := c.Transition(context.Background(), provider, "b-1", lifecycle.Request{Action: lifecycle.ActionCreate})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
