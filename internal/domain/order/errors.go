package order

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-orders/internal/domain/cart"
)

// Sentinel errors for order placement and lifecycle.
var (
	ErrNotFound               = errors.New("order not found")
	ErrRestaurantClosed       = errors.New("restaurant is closed")
	ErrUnsupportedFulfillment = errors.New("fulfillment not offered by restaurant")
	ErrMissingAddress         = errors.New("delivery address required")
	ErrMissingCustomer        = errors.New("customer required")
	ErrNoteTooLong            = errors.New("customer note too long")
	ErrIllegalTransition      = errors.New("illegal status transition")
	ErrMissingReason          = errors.New("cancellation reason required")
	// ErrDuplicateOrder is returned by a Repository when the idempotency key
	// is already taken.
	ErrDuplicateOrder = errors.New("duplicate order")
	// ErrIdempotencyConflict is returned when an idempotency key was used by
	// a different customer.
	ErrIdempotencyConflict = errors.New("idempotency key already used")
	// ErrConcurrentUpdate is returned when the order changed between read
	// and write.
	ErrConcurrentUpdate = errors.New("order was modified concurrently")
)

// UnsupportedFulfillmentError indicates the restaurant does not offer the
// requested fulfillment choice.
type UnsupportedFulfillmentError struct {
	RestaurantID string
	Fulfillment  cart.Fulfillment
}

func (e *UnsupportedFulfillmentError) Error() string {
	return fmt.Sprintf("restaurant %s does not offer %s", e.RestaurantID, e.Fulfillment)
}

func (e *UnsupportedFulfillmentError) Unwrap() error { return ErrUnsupportedFulfillment }

// NoteTooLongError indicates the customer note exceeds MaxCustomerNoteLength.
type NoteTooLongError struct {
	Length int
	Max    int
}

func (e *NoteTooLongError) Error() string {
	return fmt.Sprintf("customer note has %d characters, max %d", e.Length, e.Max)
}

func (e *NoteTooLongError) Unwrap() error { return ErrNoteTooLong }

// IllegalTransitionError indicates the target status is not reachable from
// the order's current status.
type IllegalTransitionError struct {
	OrderID     string
	Fulfillment cart.Fulfillment
	From        Status
	To          Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move %s order from %s to %s",
		e.OrderID, e.Fulfillment, e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }
