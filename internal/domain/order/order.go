package order

import (
	"context"
	"strings"
	"time"

	"github.com/xenking/oolio-orders/internal/domain/cart"
	"github.com/xenking/oolio-orders/internal/domain/quote"
)

// Address is the delivery address captured at placement.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// StatusChange is one entry of an order's status history. From is nil for
// the initial entry.
type StatusChange struct {
	From  *Status
	To    Status
	At    time.Time
	Actor string
	Note  string
}

// Lifecycle is the mutable part of an order. It changes only through
// Order.Transition.
type Lifecycle struct {
	Status         Status
	Version        int
	RestaurantNote string
	History        []StatusChange
}

// Order is a placed order. Everything except the lifecycle is frozen at
// placement.
type Order struct {
	ID             string
	CustomerID     string
	RestaurantID   string
	IdempotencyKey string
	Items          []cart.LineItem
	Fulfillment    cart.Fulfillment
	Address        *Address
	Quote          quote.Quote
	CustomerNote   string
	CreatedAt      time.Time

	lc Lifecycle
}

// Restore rebuilds an order loaded from storage with its lifecycle state.
func Restore(o Order, lc Lifecycle) *Order {
	o.lc = lc
	o.lc.History = append([]StatusChange(nil), lc.History...)
	return &o
}

func newOrder(o Order, actor string) *Order {
	o.lc = Lifecycle{
		Status:  StatusNew,
		Version: 1,
		History: []StatusChange{{To: StatusNew, At: o.CreatedAt, Actor: actor}},
	}
	return &o
}

// Status returns the current status.
func (o *Order) Status() Status { return o.lc.Status }

// Version increases by one with every transition.
func (o *Order) Version() int { return o.lc.Version }

// RestaurantNote is the cancellation reason, set only when cancelled.
func (o *Order) RestaurantNote() string { return o.lc.RestaurantNote }

// History returns a copy of the status history, oldest first.
func (o *Order) History() []StatusChange {
	return append([]StatusChange(nil), o.lc.History...)
}

// Lifecycle returns a copy of the lifecycle state for persistence.
func (o *Order) Lifecycle() Lifecycle {
	lc := o.lc
	lc.History = o.History()
	return lc
}

// UpdatedAt is the time of the latest status change.
func (o *Order) UpdatedAt() time.Time {
	if n := len(o.lc.History); n > 0 {
		return o.lc.History[n-1].At
	}
	return o.CreatedAt
}

// NextStatuses lists the statuses this order may move to.
func (o *Order) NextStatuses() []Status {
	return NextStatuses(o.Fulfillment, o.lc.Status)
}

// Transition moves the order to target. Cancelling requires a non-blank
// note, which becomes the restaurant note. On success exactly one history
// entry is appended and returned.
func (o *Order) Transition(target Status, note, actor string, at time.Time) (StatusChange, error) {
	from := o.lc.Status
	if !CanTransition(o.Fulfillment, from, target) {
		return StatusChange{}, &IllegalTransitionError{
			OrderID:     o.ID,
			Fulfillment: o.Fulfillment,
			From:        from,
			To:          target,
		}
	}

	note = strings.TrimSpace(note)
	if target == StatusCancelled && note == "" {
		return StatusChange{}, ErrMissingReason
	}

	change := StatusChange{
		From:  &from,
		To:    target,
		At:    at,
		Actor: actor,
		Note:  note,
	}
	o.lc.History = append(o.lc.History, change)
	o.lc.Status = target
	o.lc.Version++
	if target == StatusCancelled {
		o.lc.RestaurantNote = note
	}
	return change, nil
}

// Repository persists orders. Implementations must reject a second order
// with the same idempotency key (ErrDuplicateOrder) and serialize
// UpdateStatus on the expected version (ErrConcurrentUpdate).
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	UpdateStatus(ctx context.Context, o *Order, change StatusChange, expectedVersion int) error
}
