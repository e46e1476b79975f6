// Package storeclient talks to the store service over HTTP. Every call carries
// the acting client or provider and returns domain types.
package storeclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/httpx"
	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
	"github.com/md-rashed-zaman/servicebook/libs/schedule"
	"github.com/md-rashed-zaman/servicebook/libs/wire"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	BaseURL string        `env:"STORE_URL" env-default:"http://store-service:8090"`
	Timeout time.Duration `env:"STORE_TIMEOUT" env-default:"5s"`
}

type Client struct {
	base string
	http *http.Client
}

// New builds a traced client. A nil transport means http.DefaultTransport.
func New(cfg Config, transport http.RoundTripper) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
	}
}

// do sends body (if any) as JSON and decodes a 2xx response into out (if any).
func (c *Client) do(ctx context.Context, op, method, path string, actor *lifecycle.Actor, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := wire.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, op, err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != nil {
		req.Header.Set(wire.HeaderActorID, actor.ID)
		req.Header.Set(wire.HeaderActorRole, string(actor.Role))
	}
	if id := httpx.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(httpx.RequestIDHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Network failures are worth another attempt.
		return apperr.Transient(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Transient(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb wire.ErrorBody
		_ = wire.Unmarshal(raw, &eb)
		return eb.Decode(op, resp.StatusCode)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := wire.Unmarshal(raw, out); err != nil {
		return apperr.Wrap(apperr.KindInternal, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) booking(ctx context.Context, op, method, path string, actor lifecycle.Actor, body any) (lifecycle.Booking, error) {
	var out wire.Booking
	if err := c.do(ctx, op, method, path, &actor, body, &out); err != nil {
		return lifecycle.Booking{}, err
	}
	return out.Decode()
}

func (c *Client) bookings(ctx context.Context, op, path string, actor lifecycle.Actor) ([]lifecycle.Booking, error) {
	var out wire.Envelope[wire.Booking]
	if err := c.do(ctx, op, http.MethodGet, path, &actor, nil, &out); err != nil {
		return nil, err
	}
	return wire.DecodeBookings(out.Items)
}

func (c *Client) CreateBooking(ctx context.Context, actor lifecycle.Actor, d lifecycle.Draft) (lifecycle.Booking, error) {
	return c.booking(ctx, "storeclient.CreateBooking", http.MethodPost, "/v1/bookings", actor, wire.EncodeDraft(d))
}

func (c *Client) GetBooking(ctx context.Context, actor lifecycle.Actor, id string) (lifecycle.Booking, error) {
	return c.booking(ctx, "storeclient.GetBooking", http.MethodGet, "/v1/bookings/"+url.PathEscape(id), actor, nil)
}

func (c *Client) ClientBookings(ctx context.Context, actor lifecycle.Actor, clientID string) ([]lifecycle.Booking, error) {
	return c.bookings(ctx, "storeclient.ClientBookings", "/v1/clients/"+url.PathEscape(clientID)+"/bookings", actor)
}

func (c *Client) ProviderBookings(ctx context.Context, actor lifecycle.Actor, providerID string) ([]lifecycle.Booking, error) {
	return c.bookings(ctx, "storeclient.ProviderBookings", "/v1/providers/"+url.PathEscape(providerID)+"/bookings", actor)
}

func (c *Client) BookingsByStatus(ctx context.Context, actor lifecycle.Actor, status lifecycle.Status) ([]lifecycle.Booking, error) {
	q := url.Values{"status": {string(status)}}
	return c.bookings(ctx, "storeclient.BookingsByStatus", "/v1/bookings?"+q.Encode(), actor)
}

// Transition applies req.Action. Accept, decline, cancel, start, complete and
// dispute all go through here.
func (c *Client) Transition(ctx context.Context, actor lifecycle.Actor, id string, req lifecycle.Request) (lifecycle.Booking, error) {
	const op = "storeclient.Transition"

	if req.Action == lifecycle.ActionCreate || req.Action == "" {
		return lifecycle.Booking{}, apperr.Validation(op, "action %q cannot be applied to an existing booking", req.Action)
	}
	path := "/v1/bookings/" + url.PathEscape(id) + "/" + string(req.Action)
	return c.booking(ctx, op, http.MethodPost, path, actor, wire.EncodeTransitionRequest(req))
}

func (c *Client) SubmitEvidence(ctx context.Context, actor lifecycle.Actor, id string, in lifecycle.EvidenceInput) (lifecycle.Booking, error) {
	body := wire.EvidenceInput{Description: in.Description, FileURLs: in.FileURLs}
	return c.booking(ctx, "storeclient.SubmitEvidence", http.MethodPost, "/v1/bookings/"+url.PathEscape(id)+"/evidence", actor, body)
}

func (c *Client) GetAvailability(ctx context.Context, providerID string) (schedule.ProviderAvailability, error) {
	var out wire.ProviderAvailability
	if err := c.do(ctx, "storeclient.GetAvailability", http.MethodGet, "/v1/providers/"+url.PathEscape(providerID)+"/availability", nil, nil, &out); err != nil {
		return schedule.ProviderAvailability{}, err
	}
	return out.Decode(), nil
}

func (c *Client) SetAvailability(ctx context.Context, actor lifecycle.Actor, providerID string, req wire.SetAvailabilityRequest) (schedule.ProviderAvailability, error) {
	var out wire.ProviderAvailability
	if err := c.do(ctx, "storeclient.SetAvailability", http.MethodPut, "/v1/providers/"+url.PathEscape(providerID)+"/availability", &actor, req, &out); err != nil {
		return schedule.ProviderAvailability{}, err
	}
	return out.Decode(), nil
}

func (c *Client) AddVacation(ctx context.Context, actor lifecycle.Actor, providerID string, start, end time.Time, reason string) (schedule.VacationPeriod, error) {
	body := wire.AddVacationRequest{Start: wire.FromTime(start), End: wire.FromTime(end), Reason: reason}
	var out wire.VacationPeriod
	if err := c.do(ctx, "storeclient.AddVacation", http.MethodPost, "/v1/providers/"+url.PathEscape(providerID)+"/vacations", &actor, body, &out); err != nil {
		return schedule.VacationPeriod{}, err
	}
	return out.Decode(), nil
}

func (c *Client) RemoveVacation(ctx context.Context, actor lifecycle.Actor, providerID, vacationID string) error {
	path := "/v1/providers/" + url.PathEscape(providerID) + "/vacations/" + url.PathEscape(vacationID)
	return c.do(ctx, "storeclient.RemoveVacation", http.MethodDelete, path, &actor, nil, nil)
}

func (c *Client) AvailableSlots(ctx context.Context, providerID, serviceID string, date time.Time) ([]schedule.AvailableSlot, error) {
	const op = "storeclient.AvailableSlots"

	q := url.Values{"date": {nanos(date)}}
	if serviceID != "" {
		q.Set("service_id", serviceID)
	}
	var out wire.Envelope[wire.AvailableSlot]
	if err := c.do(ctx, op, http.MethodGet, "/v1/providers/"+url.PathEscape(providerID)+"/slots?"+q.Encode(), nil, nil, &out); err != nil {
		return nil, err
	}
	return wire.DecodeSlots(out.Items)
}

func (c *Client) IsProviderAvailable(ctx context.Context, providerID, serviceID string, at time.Time) (bool, error) {
	q := url.Values{"at": {nanos(at)}}
	if serviceID != "" {
		q.Set("service_id", serviceID)
	}
	var out wire.Availability
	if err := c.do(ctx, "storeclient.IsProviderAvailable", http.MethodGet, "/v1/providers/"+url.PathEscape(providerID)+"/available?"+q.Encode(), nil, nil, &out); err != nil {
		return false, err
	}
	return out.Available, nil
}

func (c *Client) GetService(ctx context.Context, id string) (schedule.Service, error) {
	var out wire.Service
	if err := c.do(ctx, "storeclient.GetService", http.MethodGet, "/v1/services/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return schedule.Service{}, err
	}
	return out.Decode()
}

func nanos(t time.Time) string { return strconv.FormatInt(int64(wire.FromTime(t)), 10) }
