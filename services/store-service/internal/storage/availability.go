package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/db"
	"github.com/md-rashed-zaman/servicebook/libs/schedule"
	"github.com/md-rashed-zaman/servicebook/libs/wire"
)

func (q *queries) GetAvailability(ctx context.Context, providerID string) (schedule.ProviderAvailability, error) {
	const op = "storage.GetAvailability"

	var (
		a      schedule.ProviderAvailability
		weekly []byte
	)
	err := q.tx.QueryRow(ctx, `
		SELECT provider_id, is_active, timezone, instant_booking_enabled, booking_notice_hours,
			max_bookings_per_day, weekly_schedule, updated_at
		FROM provider_availability
		WHERE provider_id = $1
	`, providerID).Scan(
		&a.ProviderID,
		&a.IsActive,
		&a.Timezone,
		&a.Policy.InstantBookingEnabled,
		&a.Policy.BookingNoticeHours,
		&a.Policy.MaxBookingsPerDay,
		&weekly,
		&a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return schedule.ProviderAvailability{}, apperr.NotFound(op, "availability of provider "+providerID)
	}
	if err != nil {
		return schedule.ProviderAvailability{}, db.Classify(op, err)
	}
	a.UpdatedAt = a.UpdatedAt.UTC()
	if err := wire.Unmarshal(weekly, &a.Weekly); err != nil {
		return schedule.ProviderAvailability{}, err
	}

	rows, err := q.tx.Query(ctx, `
		SELECT id, start_at, end_at, reason
		FROM vacation_periods
		WHERE provider_id = $1
		ORDER BY start_at, id
	`, providerID)
	if err != nil {
		return schedule.ProviderAvailability{}, db.Classify(op, err)
	}
	a.Vacations, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (schedule.VacationPeriod, error) {
		var v schedule.VacationPeriod
		err := row.Scan(&v.ID, &v.Start, &v.End, &v.Reason)
		v.Start, v.End = v.Start.UTC(), v.End.UTC()
		return v, err
	})
	if err != nil {
		return schedule.ProviderAvailability{}, db.Classify(op, err)
	}
	return a, nil
}

// SaveAvailability upserts the provider row. Vacations are stored separately.
func (q *queries) SaveAvailability(ctx context.Context, a schedule.ProviderAvailability) error {
	const op = "storage.SaveAvailability"

	weekly, err := wire.Marshal(a.Weekly)
	if err != nil {
		return err
	}
	tz := a.Timezone
	if tz == "" {
		tz = "UTC"
	}
	_, err = q.tx.Exec(ctx, `
		INSERT INTO provider_availability
			(provider_id, is_active, timezone, instant_booking_enabled, booking_notice_hours,
			 max_bookings_per_day, weekly_schedule, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (provider_id) DO UPDATE
		SET is_active = EXCLUDED.is_active,
			timezone = EXCLUDED.timezone,
			instant_booking_enabled = EXCLUDED.instant_booking_enabled,
			booking_notice_hours = EXCLUDED.booking_notice_hours,
			max_bookings_per_day = EXCLUDED.max_bookings_per_day,
			weekly_schedule = EXCLUDED.weekly_schedule,
			updated_at = EXCLUDED.updated_at
	`, a.ProviderID, a.IsActive, tz, a.Policy.InstantBookingEnabled, a.Policy.BookingNoticeHours,
		a.Policy.MaxBookingsPerDay, weekly, a.UpdatedAt)
	return db.Classify(op, err)
}

func (q *queries) InsertVacation(ctx context.Context, providerID string, v schedule.VacationPeriod) error {
	_, err := q.tx.Exec(ctx, `
		INSERT INTO vacation_periods (id, provider_id, start_at, end_at, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, v.ID, providerID, v.Start, v.End, v.Reason)
	return db.Classify("storage.InsertVacation", err)
}

func (q *queries) DeleteVacation(ctx context.Context, providerID, id string) error {
	const op = "storage.DeleteVacation"

	tag, err := q.tx.Exec(ctx, `
		DELETE FROM vacation_periods
		WHERE id = $1 AND provider_id = $2
	`, id, providerID)
	if err != nil {
		return db.Classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(op, "vacation "+id)
	}
	return nil
}

func (q *queries) GetService(ctx context.Context, id string) (schedule.Service, error) {
	const op = "storage.GetService"

	var (
		svc            schedule.Service
		status         string
		loc            []byte
		weekly, policy []byte
	)
	err := q.tx.QueryRow(ctx, `
		SELECT id, provider_id, category, price, location, status, rating_sum, rating_count,
			weekly_override, policy_override
		FROM services
		WHERE id = $1
	`, id).Scan(
		&svc.ID,
		&svc.ProviderID,
		&svc.Category,
		&svc.Price,
		&loc,
		&status,
		&svc.Rating.Sum,
		&svc.Rating.Count,
		&weekly,
		&policy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return schedule.Service{}, apperr.NotFound(op, "service "+id)
	}
	if err != nil {
		return schedule.Service{}, db.Classify(op, err)
	}
	svc.Status = schedule.ServiceStatus(status)

	var l wire.Location
	if len(loc) > 0 {
		if err := wire.Unmarshal(loc, &l); err != nil {
			return schedule.Service{}, err
		}
	}
	svc.Location = l.Decode()

	if weekly != nil || policy != nil {
		svc.Override = &schedule.Override{}
	}
	if weekly != nil {
		var w schedule.WeeklySchedule
		if err := wire.Unmarshal(weekly, &w); err != nil {
			return schedule.Service{}, err
		}
		svc.Override.Weekly = &w
	}
	if policy != nil {
		var p schedule.Policy
		if err := wire.Unmarshal(policy, &p); err != nil {
			return schedule.Service{}, err
		}
		svc.Override.Policy = &p
	}
	return svc, nil
}

func (q *queries) UpsertService(ctx context.Context, svc schedule.Service) error {
	const op = "storage.UpsertService"

	loc, err := wire.Marshal(wire.EncodeLocation(svc.Location))
	if err != nil {
		return err
	}
	var weekly, policy []byte
	if svc.Override != nil && svc.Override.Weekly != nil {
		if weekly, err = wire.Marshal(svc.Override.Weekly); err != nil {
			return err
		}
	}
	if svc.Override != nil && svc.Override.Policy != nil {
		if policy, err = wire.Marshal(svc.Override.Policy); err != nil {
			return err
		}
	}
	_, err = q.tx.Exec(ctx, `
		INSERT INTO services
			(id, provider_id, category, price, location, status, rating_sum, rating_count,
			 weekly_override, policy_override)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET category = EXCLUDED.category,
			price = EXCLUDED.price,
			location = EXCLUDED.location,
			status = EXCLUDED.status,
			rating_sum = EXCLUDED.rating_sum,
			rating_count = EXCLUDED.rating_count,
			weekly_override = EXCLUDED.weekly_override,
			policy_override = EXCLUDED.policy_override
	`, svc.ID, svc.ProviderID, svc.Category, svc.Price, loc, string(svc.Status), svc.Rating.Sum,
		svc.Rating.Count, weekly, policy)
	return db.Classify(op, err)
}
