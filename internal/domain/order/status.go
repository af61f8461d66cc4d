package order

import (
	"github.com/go-faster/errors"

	"github.com/xenking/oolio-orders/internal/domain/cart"
)

// Status is a step in the order lifecycle.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusNew
	StatusReceived
	StatusPreparing
	StatusOnTheWay
	StatusDelivered
	StatusPickupReady
	StatusPickedUp
	StatusCancelled
)

var statusNames = [...]string{
	StatusUnknown:     "UNKNOWN",
	StatusNew:         "NEW",
	StatusReceived:    "RECEIVED",
	StatusPreparing:   "PREPARING",
	StatusOnTheWay:    "ON_THE_WAY",
	StatusDelivered:   "DELIVERED",
	StatusPickupReady: "PICKUP_READY",
	StatusPickedUp:    "PICKED_UP",
	StatusCancelled:   "CANCELLED",
}

// ErrUnknownStatus is returned when parsing an unrecognised status.
var ErrUnknownStatus = errors.New("unknown order status")

// ParseStatus parses the text form of a Status.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if i != int(StatusUnknown) && name == s {
			return Status(i), nil
		}
	}
	return StatusUnknown, errors.Wrapf(ErrUnknownStatus, "%q", s)
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return statusNames[StatusUnknown]
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s > StatusUnknown && int(s) < len(statusNames)
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusPickedUp || s == StatusCancelled
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, errors.Wrapf(ErrUnknownStatus, "%d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// forward maps each non-terminal status to its single forward successor
// along the fulfillment's path.
var forward = map[cart.Fulfillment]map[Status]Status{
	cart.Delivery: {
		StatusNew:       StatusReceived,
		StatusReceived:  StatusPreparing,
		StatusPreparing: StatusOnTheWay,
		StatusOnTheWay:  StatusDelivered,
	},
	cart.Pickup: {
		StatusNew:         StatusReceived,
		StatusReceived:    StatusPreparing,
		StatusPreparing:   StatusPickupReady,
		StatusPickupReady: StatusPickedUp,
	},
}

// NextStatuses lists the statuses reachable in one step from s for the
// given fulfillment. Terminal statuses have none.
func NextStatuses(f cart.Fulfillment, s Status) []Status {
	if s.Terminal() {
		return nil
	}
	next, ok := forward[f][s]
	if !ok {
		return nil
	}
	return []Status{next, StatusCancelled}
}

// CanTransition reports whether from -> to is legal for the fulfillment.
func CanTransition(f cart.Fulfillment, from, to Status) bool {
	for _, s := range NextStatuses(f, from) {
		if s == to {
			return true
		}
	}
	return false
}
