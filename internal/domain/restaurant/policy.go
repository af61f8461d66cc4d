package restaurant

import (
	"time"

	"github.com/xenking/oolio-orders/internal/domain/cart"
)

// IsOpenNow reports whether at falls inside the restaurant's opening window
// for that weekday. The window is half-open: at == close is closed. Windows
// crossing midnight are not supported; close <= open means closed all day.
func IsOpenNow(r *Restaurant, at time.Time) bool {
	at = r.localTime(at)

	day := r.Hours[at.Weekday()]
	if day.Closed || day.Open == nil || day.Close == nil {
		return false
	}
	if *day.Close <= *day.Open {
		return false
	}

	now := TimeOfDay(at.Hour()*60 + at.Minute())
	return now >= *day.Open && now < *day.Close
}

// IsAvailable reports whether the restaurant offers the fulfillment choice.
// It does not consider opening hours.
func IsAvailable(r *Restaurant, choice cart.Fulfillment) bool {
	switch choice {
	case cart.Delivery:
		return r.OffersDelivery
	case cart.Pickup:
		return r.OffersPickup
	default:
		return false
	}
}

// Status is the combined gate state shown to the UI.
type Status struct {
	Open     bool
	Delivery bool
	Pickup   bool
}

// Availability evaluates both gates at the given time.
func Availability(r *Restaurant, at time.Time) Status {
	return Status{
		Open:     IsOpenNow(r, at),
		Delivery: IsAvailable(r, cart.Delivery),
		Pickup:   IsAvailable(r, cart.Pickup),
	}
}

// localTime converts at into the restaurant's zone. Unknown zones leave the
// time unchanged.
func (r *Restaurant) localTime(at time.Time) time.Time {
	if r.TimeZone == "" {
		return at
	}
	loc, err := time.LoadLocation(r.TimeZone)
	if err != nil {
		return at
	}
	return at.In(loc)
}
