// Package restaurant holds restaurant metadata consumed by quoting and order
// placement, and the fulfillment gates derived from it.
package restaurant

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orders/internal/domain/quote"
)

// ErrNotFound is returned when a requested restaurant does not exist.
var ErrNotFound = errors.New("restaurant not found")

// ErrInvalidTimeOfDay is returned when parsing a malformed HH:MM value.
var ErrInvalidTimeOfDay = errors.New("invalid time of day")

// TimeOfDay is a wall-clock time in minutes after midnight.
type TimeOfDay int

// EndOfDay is midnight at the end of the day, written "24:00". It is only
// meaningful as a closing time.
const EndOfDay TimeOfDay = 24 * 60

// ParseTimeOfDay parses "HH:MM" in 24-hour form. "24:00" parses as EndOfDay.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if s == "24:00" {
		return EndOfDay, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidTimeOfDay, "%q", s)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// MustTimeOfDay is like ParseTimeOfDay but panics on error.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// DayHours is the opening window for one weekday.
type DayHours struct {
	Closed bool
	Open   *TimeOfDay
	Close  *TimeOfDay
}

// Hours is the weekly operating schedule indexed by time.Weekday.
type Hours [7]DayHours

// Restaurant is the metadata the order engine needs about a restaurant.
type Restaurant struct {
	ID             string
	Name           string
	Region         string
	OffersDelivery bool
	OffersPickup   bool
	// TimeZone is an IANA zone name; empty means times are used as given.
	TimeZone string
	Hours    Hours
	// FreeDeliveryThreshold and DeliveryFee override the quote defaults
	// when non-zero.
	FreeDeliveryThreshold decimal.Decimal
	DeliveryFee           decimal.Decimal
}

// QuoteTerms returns the restaurant side of a quote input.
func (r *Restaurant) QuoteTerms() quote.Terms {
	return quote.Terms{
		RestaurantID: r.ID,
		Region:       r.Region,
		Fees: quote.FeePolicy{
			FreeDeliveryThreshold: r.FreeDeliveryThreshold,
			DeliveryFee:           r.DeliveryFee,
		},
	}
}

// Repository provides read access to restaurant metadata.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Restaurant, error)
}
