package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-orders/internal/domain/restaurant"
)

const (
	getRestaurantSQL = `SELECT id, name, region, offers_delivery, offers_pickup, time_zone,
		free_delivery_threshold, delivery_fee
		FROM restaurants WHERE id = $1`

	getRestaurantHoursSQL = `SELECT day_of_week, is_closed, open_time, close_time
		FROM restaurant_hours WHERE restaurant_id = $1 ORDER BY day_of_week`

	upsertRestaurantSQL = `INSERT INTO restaurants (id, name, region, offers_delivery, offers_pickup,
		time_zone, free_delivery_threshold, delivery_fee)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, region = EXCLUDED.region,
		offers_delivery = EXCLUDED.offers_delivery, offers_pickup = EXCLUDED.offers_pickup,
		time_zone = EXCLUDED.time_zone, free_delivery_threshold = EXCLUDED.free_delivery_threshold,
		delivery_fee = EXCLUDED.delivery_fee`

	deleteRestaurantHoursSQL = `DELETE FROM restaurant_hours WHERE restaurant_id = $1`

	insertRestaurantHoursSQL = `INSERT INTO restaurant_hours (restaurant_id, day_of_week, is_closed, open_time, close_time)
		VALUES ($1, $2, $3, $4, $5)`
)

var _ restaurant.Repository = (*RestaurantRepository)(nil)

// RestaurantRepository implements restaurant.Repository backed by PostgreSQL.
type RestaurantRepository struct {
	pool *pgxpool.Pool
}

// NewRestaurantRepository returns a RestaurantRepository that uses the given pool.
func NewRestaurantRepository(pool *pgxpool.Pool) *RestaurantRepository {
	return &RestaurantRepository{pool: pool}
}

// GetByID returns a restaurant with its weekly hours.
func (r *RestaurantRepository) GetByID(ctx context.Context, id string) (*restaurant.Restaurant, error) {
	rows, err := r.pool.Query(ctx, getRestaurantSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting restaurant %q: %w", id, err)
	}
	rest, err := pgx.CollectExactlyOneRow(rows, scanRestaurant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, restaurant.ErrNotFound
		}
		return nil, fmt.Errorf("getting restaurant %q: %w", id, err)
	}

	rows, err = r.pool.Query(ctx, getRestaurantHoursSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting hours for restaurant %q: %w", id, err)
	}
	days, err := pgx.CollectRows(rows, scanDayHours)
	if err != nil {
		return nil, fmt.Errorf("getting hours for restaurant %q: %w", id, err)
	}
	for _, d := range days {
		if d.weekday >= 0 && d.weekday < len(rest.Hours) {
			rest.Hours[d.weekday] = d.hours
		}
	}

	return &rest, nil
}

// Save inserts or replaces a restaurant and its hours in one transaction.
func (r *RestaurantRepository) Save(ctx context.Context, rest *restaurant.Restaurant) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, upsertRestaurantSQL,
			rest.ID, rest.Name, rest.Region, rest.OffersDelivery, rest.OffersPickup,
			rest.TimeZone, rest.FreeDeliveryThreshold, rest.DeliveryFee,
		)
		if err != nil {
			return fmt.Errorf("saving restaurant %q: %w", rest.ID, err)
		}

		if _, err := tx.Exec(ctx, deleteRestaurantHoursSQL, rest.ID); err != nil {
			return fmt.Errorf("clearing hours for restaurant %q: %w", rest.ID, err)
		}
		for day, h := range rest.Hours {
			_, err := tx.Exec(ctx, insertRestaurantHoursSQL,
				rest.ID, int16(day), h.Closed, formatTimeOfDay(h.Open), formatTimeOfDay(h.Close),
			)
			if err != nil {
				return fmt.Errorf("saving hours for restaurant %q: %w", rest.ID, err)
			}
		}
		return nil
	})
}

func scanRestaurant(row pgx.CollectableRow) (restaurant.Restaurant, error) {
	var rest restaurant.Restaurant
	err := row.Scan(
		&rest.ID, &rest.Name, &rest.Region, &rest.OffersDelivery, &rest.OffersPickup, &rest.TimeZone,
		&rest.FreeDeliveryThreshold, &rest.DeliveryFee,
	)
	return rest, err
}

type dayRow struct {
	weekday int
	hours   restaurant.DayHours
}

func scanDayHours(row pgx.CollectableRow) (dayRow, error) {
	var (
		d         dayRow
		day       int16
		openTime  *string
		closeTime *string
	)
	if err := row.Scan(&day, &d.hours.Closed, &openTime, &closeTime); err != nil {
		return d, err
	}
	d.weekday = int(day)

	var err error
	if d.hours.Open, err = parseTimeOfDay(openTime); err != nil {
		return d, err
	}
	if d.hours.Close, err = parseTimeOfDay(closeTime); err != nil {
		return d, err
	}
	return d, nil
}

func parseTimeOfDay(s *string) (*restaurant.TimeOfDay, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := restaurant.ParseTimeOfDay(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatTimeOfDay(t *restaurant.TimeOfDay) *string {
	if t == nil {
		return nil
	}
	s := t.String()
	return &s
}
