package storage

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/db"
	"github.com/md-rashed-zaman/servicebook/libs/lifecycle"
	"github.com/md-rashed-zaman/servicebook/libs/wire"
	"github.com/md-rashed-zaman/servicebook/services/store-service/internal/service"
)

const bookingColumns = `
	b.id, b.client_id, b.provider_id, b.service_id, b.status,
	b.requested_date, b.scheduled_date, b.completed_date, b.price, b.location,
	b.created_at, b.updated_at,
	e.id, e.submitted_by, e.description, e.file_urls, e.submitted_at`

const bookingFrom = `
	FROM bookings b
	LEFT JOIN booking_evidence e ON e.booking_id = b.id`

func (q *queries) GetBooking(ctx context.Context, id string, forUpdate bool) (lifecycle.Booking, error) {
	const op = "storage.GetBooking"

	sql := `SELECT` + bookingColumns + bookingFrom + ` WHERE b.id = $1`
	if forUpdate {
		sql += ` FOR UPDATE OF b`
	}
	b, err := scanBooking(q.tx.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return lifecycle.Booking{}, apperr.NotFound(op, "booking "+id)
	}
	if err != nil {
		return lifecycle.Booking{}, db.Classify(op, err)
	}
	return b, nil
}

func (q *queries) InsertBooking(ctx context.Context, b lifecycle.Booking) error {
	const op = "storage.InsertBooking"

	loc, err := wire.Marshal(wire.EncodeLocation(b.Location))
	if err != nil {
		return err
	}
	_, err = q.tx.Exec(ctx, `
		INSERT INTO bookings
			(id, client_id, provider_id, service_id, status, requested_date, scheduled_date,
			 completed_date, price, location, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, b.ID, b.ClientID, b.ProviderID, b.ServiceID, string(b.Status), b.RequestedDate, b.ScheduledDate,
		b.CompletedDate, b.Price, loc, b.CreatedAt, b.UpdatedAt)
	return db.Classify(op, err)
}

func (q *queries) UpdateBooking(ctx context.Context, b lifecycle.Booking) error {
	const op = "storage.UpdateBooking"

	tag, err := q.tx.Exec(ctx, `
		UPDATE bookings
		SET status = $2,
			scheduled_date = $3,
			completed_date = $4,
			updated_at = $5
		WHERE id = $1
	`, b.ID, string(b.Status), b.ScheduledDate, b.CompletedDate, b.UpdatedAt)
	if err != nil {
		return db.Classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(op, "booking "+b.ID)
	}
	return nil
}

func (q *queries) ListBookings(ctx context.Context, f service.BookingFilter) ([]lifecycle.Booking, error) {
	const op = "storage.ListBookings"

	sql, args := listQuery(f)
	rows, err := q.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, db.Classify(op, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (lifecycle.Booking, error) {
		return scanBooking(row)
	})
	if err != nil {
		return nil, db.Classify(op, err)
	}
	return out, nil
}

// listQuery filters on the slot time, the scheduled date once set.
func listQuery(f service.BookingFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.ClientID != "" {
		add("b.client_id = ?", f.ClientID)
	}
	if f.ProviderID != "" {
		add("b.provider_id = ?", f.ProviderID)
	}
	if f.Status != "" {
		add("b.status = ?", string(f.Status))
	}
	if f.ActiveOnly {
		where = append(where, "b.status IN ('Requested', 'Accepted', 'InProgress')")
	}
	if !f.From.IsZero() {
		add("COALESCE(b.scheduled_date, b.requested_date) >= ?", f.From)
	}
	if !f.To.IsZero() {
		add("COALESCE(b.scheduled_date, b.requested_date) < ?", f.To)
	}

	sql := `SELECT` + bookingColumns + bookingFrom
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	return sql + " ORDER BY COALESCE(b.scheduled_date, b.requested_date), b.created_at", args
}

// SaveEvidence keeps one evidence record per booking; a later submission replaces it.
func (q *queries) SaveEvidence(ctx context.Context, ev lifecycle.Evidence) error {
	const op = "storage.SaveEvidence"

	urls := ev.FileURLs
	if urls == nil {
		urls = []string{}
	}
	_, err := q.tx.Exec(ctx, `
		INSERT INTO booking_evidence (booking_id, id, submitted_by, description, file_urls, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (booking_id) DO UPDATE
		SET id = EXCLUDED.id,
			submitted_by = EXCLUDED.submitted_by,
			description = EXCLUDED.description,
			file_urls = EXCLUDED.file_urls,
			submitted_at = EXCLUDED.submitted_at
	`, ev.BookingID, ev.ID, ev.SubmittedBy, ev.Description, urls, ev.SubmittedAt)
	return db.Classify(op, err)
}

func scanBooking(row pgx.Row) (lifecycle.Booking, error) {
	var (
		b                    lifecycle.Booking
		status               string
		scheduled, completed *time.Time
		loc                  []byte
		evID, evBy, evDesc   *string
		evURLs               []string
		evAt                 *time.Time
	)
	err := row.Scan(
		&b.ID,
		&b.ClientID,
		&b.ProviderID,
		&b.ServiceID,
		&status,
		&b.RequestedDate,
		&scheduled,
		&completed,
		&b.Price,
		&loc,
		&b.CreatedAt,
		&b.UpdatedAt,
		&evID,
		&evBy,
		&evDesc,
		&evURLs,
		&evAt,
	)
	if err != nil {
		return lifecycle.Booking{}, err
	}

	s, ok := lifecycle.ParseStatus(status)
	if !ok {
		return lifecycle.Booking{}, apperr.New(apperr.KindInternal, "storage.scanBooking", "unknown stored status "+status)
	}
	b.Status = s
	b.RequestedDate = b.RequestedDate.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	b.ScheduledDate = utcPtr(scheduled)
	b.CompletedDate = utcPtr(completed)

	var l wire.Location
	if len(loc) > 0 {
		if err := wire.Unmarshal(loc, &l); err != nil {
			return lifecycle.Booking{}, err
		}
	}
	b.Location = l.Decode()

	if evID != nil {
		b.Evidence = &lifecycle.Evidence{
			ID:          *evID,
			BookingID:   b.ID,
			SubmittedBy: deref(evBy),
			Description: deref(evDesc),
			FileURLs:    evURLs,
		}
		if evAt != nil {
			b.Evidence.SubmittedAt = evAt.UTC()
		}
	}
	return b, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
