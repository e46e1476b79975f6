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
	"github.com/md-rashed-zaman/servicebook/libs/auth"
	"github.com/md-rashed-zaman/servicebook/libs/httpx"
	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
	"github.com/md-rashed-zaman/servicebook/libs/wire"
	"github.com/md-rashed-zaman/servicebook/services/booking-service/internal/aggregator"
	"github.com/md-rashed-zaman/servicebook/services/booking-service/internal/profiles"
)

type BookingHandler struct {
	sessions *aggregator.Sessions
	logger   *slog.Logger
	validate *validator.Validate
}

func NewBookingHandler(sessions *aggregator.Sessions, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		sessions: sessions,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register mounts the consumer API under /api/v1. Every route needs a bearer token.
func (h *BookingHandler) Register(r chi.Router, verifier auth.Verifier) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(verifier))

		r.Get("/bookings", h.List)
		r.Post("/bookings", h.Create)
		r.Post("/bookings/refresh", h.Refresh)
		r.Get("/bookings/{id}", h.Get)
		r.Post("/bookings/{id}/evidence", h.SubmitEvidence)
		r.Post("/bookings/{id}/{action}", h.Transition)

		r.Get("/providers/{id}/slots", h.Slots)
		r.Get("/providers/{id}/availability", h.Availability)
		r.Get("/providers/{id}/available", h.IsProviderAvailable)
		r.Get("/services/{id}", h.Service)
		r.Put("/availability", h.SetAvailability)
		r.Post("/availability/vacations", h.AddVacation)
		r.Delete("/availability/vacations/{id}", h.RemoveVacation)

		r.Get("/operations", h.Operations)
		r.Get("/operations/{label}", h.Operation)
		r.Get("/errors/latest", h.LatestError)
		r.Delete("/errors/latest", h.DismissError)
	})
}

type enrichedBooking struct {
	wire.Booking
	Counterpart     profiles.Profile `json:"counterpart"`
	Date            string           `json:"date"`
	Time            string           `json:"time"`
	LocationDisplay string           `json:"location_display"`
}

func encodeEnriched(e aggregator.Enriched) enrichedBooking {
	return enrichedBooking{
		Booking:         wire.EncodeBooking(e.Booking),
		Counterpart:     e.Counterpart,
		Date:            e.Date,
		Time:            e.Time,
		LocationDisplay: e.LocationDisplay,
	}
}

func encodeEnrichedList(in []aggregator.Enriched) wire.Envelope[enrichedBooking] {
	out := make([]enrichedBooking, 0, len(in))
	for _, e := range in {
		out = append(out, encodeEnriched(e))
	}
	return wire.Envelope[enrichedBooking]{Items: out}
}

type operationResponse struct {
	Label      string `json:"label"`
	InProgress bool   `json:"in_progress"`
}

type latestErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// session resolves the bearer's aggregator.
func (h *BookingHandler) session(r *http.Request) (*aggregator.Aggregator, error) {
	const op = "handlers.session"

	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || strings.TrimSpace(claims.Sub) == "" {
		return nil, apperr.Unauthorized(op, "missing actor")
	}
	role := lifecycle.Role(claims.Role)
	if !role.Valid() {
		return nil, apperr.Unauthorized(op, "role %q cannot use the booking API", claims.Role)
	}
	return h.sessions.Get(lifecycle.Actor{ID: claims.Sub, Role: role}), nil
}

func (h *BookingHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.logger.Error("request failed", "err", err, "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()))
	}
	httpx.WriteError(w, err)
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.List"

	agg, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	raw := r.URL.Query().Get("status")
	if raw == "" {
		list, err := agg.Load(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, encodeEnrichedList(list))
		return
	}

	status, ok := lifecycle.ParseStatus(raw)
	if !ok {
		h.fail(w, r, apperr.Validation(op, "status must be one of the booking states"))
		return
	}
	// A session without a loaded list asks the store for just this status.
	if !agg.Loaded() {
		list, err := agg.FetchByStatus(r.Context(), status)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, encodeEnrichedList(list))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, encodeEnrichedList(agg.EnrichedByStatus(status)))
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	agg, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req wire.CreateBookingRequest
	if err := httpx.DecodeJSON(r, &req, h.validate, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" && req.ID == "" {
		req.ID = key
	}
	e, err := agg.Create(r.Context(), req.Draft())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, encodeEnriched(e))
}

func (h *BookingHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	agg, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := agg.Refresh(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, encodeEnrichedList(list))
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	agg, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := agg.Booking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, encodeEnriched(e))
}

func (h *BookingHandler) Transition(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.Transition"

	agg, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req wire.TransitionRequest
	if err := httpx.DecodeJSON(r, &req, h.validate, true); err != nil {
		h.fail(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	ctx := r.Context()
	var e aggregator.Enriched
	switch action := chi.URLParam(r, "action"); lifecycle.Action(action) {
	case lifecycle.ActionAccept:
		e, err = agg.Accept(ctx, id, req.ScheduledDate.TimePtr())
	case lifecycle.ActionDecline:
		e, err = agg.Decline(ctx, id)
	case lifecycle.ActionCancel:
		e, err = agg.Cancel(ctx, id)
	case lifecycle.ActionStart:
		e, err = agg.Start(ctx, id)
	case lifecycle.ActionComplete:
		e, err = agg.Complete(ctx, id)
	case lifecycle.ActionDispute:
		e, err = agg.Dispute(ctx, id, req.Request(lifecycle.ActionDispute).Evidence)
	default:
		httpx.WriteErrorStatus(w, http.StatusNotFound, apperr.NotFound(op, "action "+action))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, encodeEnriched(e))
}

func (h *BookingHandler) SubmitEvidence(w http.ResponseWriter, r *http.Request) {
	agg, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req wire.EvidenceInput
	if err := httpx.DecodeJSON(r, &req, h.validate, false); err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := agg.SubmitEvidence(r.Context(), chi.URLParam(r, "id"), req.Decode())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, encodeEnriched(e))
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	agg, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := nanosParam(r, "date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	slots, err := agg.Slots(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("service_id"), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wire.Envelope[wire.AvailableSlot]{Items: wire.EncodeSlots(slots)})
}

func (h *BookingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	agg, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := agg.Availability(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wire.EncodeAvailability(a))
}

func (h *BookingHandler) IsProviderAvailable(w http.ResponseWriter, r *http.Request) {
	agg, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	at, err := nanosParam(r, "at")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	providerID := chi.URLParam(r, "id")
	ok, err := agg.IsProviderAvailable(r.Context(), providerID, r.URL.Query().Get("service_id"), at)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wire.Availability{ProviderID: providerID, At: wire.FromTime(at), Available: ok})
}

func (h *BookingHandler) Service(w http.ResponseWriter, r *http.Request) {
	agg, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	svc, err := agg.Service(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wire.EncodeService(svc))
}

func (h *BookingHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	agg, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req wire.SetAvailabilityRequest
	if err := httpx.DecodeJSON(r, &req, h.validate, false); err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := agg.SetAvailability(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wire.EncodeAvailability(a))
}

func (h *BookingHandler) AddVacation(w http.ResponseWriter, r *http.Request) {
	agg, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req wire.AddVacationRequest
	if err := httpx.DecodeJSON(r, &req, h.validate, false); err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := agg.AddVacation(r.Context(), req.Start.Time(), req.End.Time(), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, wire.EncodeVacation(v))
}

func (h *BookingHandler) RemoveVacation(w http.ResponseWriter, r *http.Request) {
	agg, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := agg.RemoveVacation(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BookingHandler) Operations(w http.ResponseWriter, r *http.Request) {
	agg, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wire.Envelope[string]{Items: agg.Active()})
}

func (h *BookingHandler) Operation(w http.ResponseWriter, r *http.Request) {
	agg, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	label := chi.URLParam(r, "label")
	httpx.WriteJSON(w, http.StatusOK, operationResponse{Label: label, InProgress: agg.InProgress(label)})
}

func (h *BookingHandler) LatestError(w http.ResponseWriter, r *http.Request) {
	agg, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	msg, kind, ok := agg.LastError()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, latestErrorResponse{Kind: string(kind), Message: msg})
}

func (h *BookingHandler) DismissError(w http.ResponseWriter, r *http.Request) {
	agg, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	agg.DismissError()
	w.WriteHeader(http.StatusNoContent)
}

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
