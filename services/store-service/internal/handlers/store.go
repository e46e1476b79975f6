package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/httpx"
	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
	"github.com/md-rashed-zaman/servicebook/libs/wire"
	"github.com/md-rashed-zaman/servicebook/services/store-service/internal/service"
)

type StoreHandler struct {
	svc      *service.Service
	logger   *slog.Logger
	validate *validator.Validate
}

func NewStoreHandler(svc *service.Service, logger *slog.Logger) *StoreHandler {
	return &StoreHandler{svc: svc, logger: logger, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Register mounts the store API under /v1.
func (h *StoreHandler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/bookings", h.CreateBooking)
		r.Get("/bookings", h.BookingsByStatus)
		r.Get("/bookings/{id}", h.GetBooking)
		r.Post("/bookings/{id}/evidence", h.SubmitEvidence)
		r.Post("/bookings/{id}/{action}", h.Transition)
		r.Get("/clients/{id}/bookings", h.ClientBookings)
		r.Get("/providers/{id}/bookings", h.ProviderBookings)

		r.Get("/providers/{id}/availability", h.GetAvailability)
		r.Put("/providers/{id}/availability", h.SetAvailability)
		r.Post("/providers/{id}/vacations", h.AddVacation)
		r.Delete("/providers/{id}/vacations/{vacationID}", h.RemoveVacation)
		r.Get("/providers/{id}/slots", h.AvailableSlots)
		r.Get("/providers/{id}/available", h.IsProviderAvailable)

		r.Get("/services/{id}", h.GetService)
		r.Put("/services/{id}", h.UpsertService)
	})
}

func actorFrom(r *http.Request) (lifecycle.Actor, error) {
	const op = "handlers.actorFrom"

	actor := lifecycle.Actor{
		ID:   strings.TrimSpace(r.Header.Get(wire.HeaderActorID)),
		Role: lifecycle.Role(strings.TrimSpace(r.Header.Get(wire.HeaderActorRole))),
	}
	if actor.ID == "" || !actor.Role.Valid() {
		return lifecycle.Actor{}, apperr.Unauthorized(op, "actor headers are missing or invalid")
	}
	return actor, nil
}

func (h *StoreHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.logger.Error("store request failed", "err", err, "path", r.URL.Path)
	}
	httpx.WriteError(w, err)
}

func (h *StoreHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req wire.CreateBookingRequest
	if err := httpx.DecodeJSON(r, &req, h.validate, false); err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.svc.CreateBooking(r.Context(), actor, req.Draft())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, wire.EncodeBooking(b))
}

func (h *StoreHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.svc.GetBooking(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wire.EncodeBooking(b))
}

func (h *StoreHandler) ClientBookings(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	bs, err := h.svc.ClientBookings(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wire.Envelope[wire.Booking]{Items: wire.EncodeBookings(bs)})
}

func (h *StoreHandler) ProviderBookings(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	bs, err := h.svc.ProviderBookings(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wire.Envelope[wire.Booking]{Items: wire.EncodeBookings(bs)})
}

func (h *StoreHandler) BookingsByStatus(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.BookingsByStatus"

	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status, ok := lifecycle.ParseStatus(r.URL.Query().Get("status"))
	if !ok {
		h.fail(w, r, apperr.Validation(op, "status must be one of the booking states"))
		return
	}
	bs, err := h.svc.BookingsByStatus(r.Context(), actor, status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wire.Envelope[wire.Booking]{Items: wire.EncodeBookings(bs)})
}

var transitionActions = map[string]lifecycle.Action{
	"accept":   lifecycle.ActionAccept,
	"decline":  lifecycle.ActionDecline,
	"cancel":   lifecycle.ActionCancel,
	"start":    lifecycle.ActionStart,
	"complete": lifecycle.ActionComplete,
	"dispute":  lifecycle.ActionDispute,
}

func (h *StoreHandler) Transition(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.Transition"

	action, ok := transitionActions[chi.URLParam(r, "action")]
	if !ok {
		httpx.WriteErrorStatus(w, http.StatusNotFound, apperr.NotFound(op, "action "+chi.URLParam(r, "action")))
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req wire.TransitionRequest
	if err := httpx.DecodeJSON(r, &req, h.validate, true); err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.svc.Transition(r.Context(), actor, chi.URLParam(r, "id"), req.Request(action))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wire.EncodeBooking(b))
}

func (h *StoreHandler) SubmitEvidence(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req wire.EvidenceInput
	if err := httpx.DecodeJSON(r, &req, h.validate, false); err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.svc.SubmitEvidence(r.Context(), actor, chi.URLParam(r, "id"), req.Decode())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wire.EncodeBooking(b))
}

func (h *StoreHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetAvailability(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wire.EncodeAvailability(a))
}

func (h *StoreHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req wire.SetAvailabilityRequest
	if err := httpx.DecodeJSON(r, &req, h.validate, false); err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.svc.SetAvailability(r.Context(), actor, chi.URLParam(r, "id"), service.AvailabilityInput{
		Weekly:                req.WeeklySchedule,
		InstantBookingEnabled: req.InstantBookingEnabled,
		BookingNoticeHours:    req.BookingNoticeHours,
		MaxBookingsPerDay:     req.MaxBookingsPerDay,
		Timezone:              req.Timezone,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wire.EncodeAvailability(a))
}

func (h *StoreHandler) AddVacation(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req wire.AddVacationRequest
	if err := httpx.DecodeJSON(r, &req, h.validate, false); err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.svc.AddVacation(r.Context(), actor, chi.URLParam(r, "id"), req.Start.Time(), req.End.Time(), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, wire.EncodeVacation(v))
}

func (h *StoreHandler) RemoveVacation(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.RemoveVacation(r.Context(), actor, chi.URLParam(r, "id"), chi.URLParam(r, "vacationID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StoreHandler) AvailableSlots(w http.ResponseWriter, r *http.Request) {
	date, err := nanosParam(r, "date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	slots, err := h.svc.AvailableSlots(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("service_id"), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wire.Envelope[wire.AvailableSlot]{Items: wire.EncodeSlots(slots)})
}

func (h *StoreHandler) IsProviderAvailable(w http.ResponseWriter, r *http.Request) {
	at, err := nanosParam(r, "at")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	providerID := chi.URLParam(r, "id")
	ok, err := h.svc.IsProviderAvailable(r.Context(), providerID, r.URL.Query().Get("service_id"), at)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wire.Availability{ProviderID: providerID, At: wire.FromTime(at), Available: ok})
}

func (h *StoreHandler) GetService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.svc.GetService(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wire.EncodeService(svc))
}

func (h *StoreHandler) UpsertService(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req wire.Service
	if err := httpx.DecodeJSON(r, &req, nil, false); err != nil {
		h.fail(w, r, err)
		return
	}
	req.ID = chi.URLParam(r, "id")
	in, err := req.Decode()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.svc.UpsertService(r.Context(), actor, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wire.EncodeService(out))
}

// nanosParam reads a required query parameter holding nanoseconds since the epoch.
func nanosParam(r *http.Request, name string) (time.Time, error) {
	const op = "handlers.nanosParam"

	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, apperr.Validation(op, "%s is required", name)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, apperr.Validation(op, "%s must be nanoseconds since the epoch", name)
	}
	return wire.Nanos(n).Time(), nil
}
