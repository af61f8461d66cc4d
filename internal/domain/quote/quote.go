// Package quote prices a cart for a fulfillment choice and region.
//
// Every amount is rounded half-up to two decimal places at each step
// (subtotal, tax, fee, total), so re-quoting the same cart always yields
// identical values.
package quote

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orders/internal/domain/cart"
)

var (
	// FreeDeliveryThreshold is the subtotal at or above which delivery is free.
	FreeDeliveryThreshold = decimal.RequireFromString("20.00")
	// DeliveryFee is charged on delivery orders below FreeDeliveryThreshold.
	DeliveryFee = decimal.RequireFromString("4.49")
)

var hundred = decimal.NewFromInt(100)

// ErrInvalidCart is the sentinel wrapped by InvalidCartError.
var ErrInvalidCart = errors.New("invalid cart")

// InvalidCartError reports a cart that cannot be priced.
type InvalidCartError struct {
	ItemID string
	Reason string
}

func (e *InvalidCartError) Error() string {
	if e.ItemID == "" {
		return fmt.Sprintf("invalid cart: %s", e.Reason)
	}
	return fmt.Sprintf("invalid cart: item %s: %s", e.ItemID, e.Reason)
}

func (e *InvalidCartError) Unwrap() error { return ErrInvalidCart }

// TaxTable resolves a region to a tax percentage.
type TaxTable interface {
	RateFor(region string) decimal.Decimal
}

// FeePolicy holds a restaurant's delivery fee rules. Zero fields fall back
// to FreeDeliveryThreshold and DeliveryFee.
type FeePolicy struct {
	FreeDeliveryThreshold decimal.Decimal
	DeliveryFee           decimal.Decimal
}

// DefaultFeePolicy returns the policy built from the package constants.
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		FreeDeliveryThreshold: FreeDeliveryThreshold,
		DeliveryFee:           DeliveryFee,
	}
}

func (p FeePolicy) withDefaults() FeePolicy {
	if p.FreeDeliveryThreshold.IsZero() {
		p.FreeDeliveryThreshold = FreeDeliveryThreshold
	}
	if p.DeliveryFee.IsZero() {
		p.DeliveryFee = DeliveryFee
	}
	return p
}

// Terms describes the restaurant side of a quote.
type Terms struct {
	RestaurantID string
	// Region is the restaurant's own tax region, used for pickup.
	Region string
	Fees   FeePolicy
}

// Input is everything a quote depends on.
type Input struct {
	Items       []cart.LineItem
	Fulfillment cart.Fulfillment
	// DeliveryRegion is the region of the customer's selected address.
	// It is ignored for pickup.
	DeliveryRegion string
	Restaurant     Terms
}

// Quote is a priced breakdown of a cart.
type Quote struct {
	Subtotal  decimal.Decimal
	TaxRate   decimal.Decimal
	TaxAmount decimal.Decimal
	// DeliveryFee is nil for pickup.
	DeliveryFee *decimal.Decimal
	Total       decimal.Decimal
	// Region is the tax region the quote was computed for.
	Region string
}

// Fee returns the delivery fee, treating pickup as zero.
func (q Quote) Fee() decimal.Decimal {
	if q.DeliveryFee == nil {
		return decimal.Zero
	}
	return *q.DeliveryFee
}

// Verify checks that Total reconciles with its components.
func (q Quote) Verify() error {
	want := round2(q.Subtotal.Add(q.TaxAmount).Add(q.Fee()))
	if !want.Equal(q.Total) {
		return errors.Errorf("quote total %s does not reconcile, want %s", q.Total, want)
	}
	return nil
}

// Equal reports whether two quotes carry the same amounts and region.
func (q Quote) Equal(o Quote) bool {
	if (q.DeliveryFee == nil) != (o.DeliveryFee == nil) {
		return false
	}
	if q.DeliveryFee != nil && !q.DeliveryFee.Equal(*o.DeliveryFee) {
		return false
	}
	return q.Subtotal.Equal(o.Subtotal) &&
		q.TaxRate.Equal(o.TaxRate) &&
		q.TaxAmount.Equal(o.TaxAmount) &&
		q.Total.Equal(o.Total) &&
		q.Region == o.Region
}

// Calculator computes quotes. It keeps no state between calls.
type Calculator struct {
	taxes TaxTable
}

// NewCalculator returns a Calculator using the given tax table.
func NewCalculator(taxes TaxTable) *Calculator {
	return &Calculator{taxes: taxes}
}

// Compute prices the input. It fails with *InvalidCartError when the cart is
// empty, mixes restaurants, or has a non-positive quantity or negative price.
func (c *Calculator) Compute(in Input) (Quote, error) {
	if !in.Fulfillment.Valid() {
		return Quote{}, errors.Wrapf(cart.ErrUnknownFulfillment, "%d", uint8(in.Fulfillment))
	}

	subtotal, err := Subtotal(in.Items, in.Restaurant.RestaurantID)
	if err != nil {
		return Quote{}, err
	}

	region := in.DeliveryRegion
	if in.Fulfillment == cart.Pickup {
		region = in.Restaurant.Region
	}
	rate := c.taxes.RateFor(region)
	taxAmount := round2(subtotal.Mul(rate).Div(hundred))

	var fee *decimal.Decimal
	if in.Fulfillment == cart.Delivery {
		f := deliveryFee(subtotal, in.Restaurant.Fees.withDefaults())
		fee = &f
	}

	q := Quote{
		Subtotal:    subtotal,
		TaxRate:     rate,
		TaxAmount:   taxAmount,
		DeliveryFee: fee,
		Region:      region,
	}
	q.Total = round2(subtotal.Add(taxAmount).Add(q.Fee()))
	return q, nil
}

// Subtotal validates items and returns their rounded sum. When restaurantID
// is non-empty every item that names a restaurant must match it.
func Subtotal(items []cart.LineItem, restaurantID string) (decimal.Decimal, error) {
	if len(items) == 0 {
		return decimal.Zero, &InvalidCartError{Reason: "cart is empty"}
	}

	sum := decimal.Zero
	for _, item := range items {
		switch {
		case item.Quantity <= 0:
			return decimal.Zero, &InvalidCartError{ItemID: item.ItemID, Reason: "quantity must be greater than 0"}
		case item.UnitPrice.IsNegative():
			return decimal.Zero, &InvalidCartError{ItemID: item.ItemID, Reason: "price must not be negative"}
		case restaurantID != "" && item.RestaurantID != "" && item.RestaurantID != restaurantID:
			return decimal.Zero, &InvalidCartError{ItemID: item.ItemID, Reason: "item belongs to another restaurant"}
		}
		sum = sum.Add(item.LineTotal())
	}
	return round2(sum), nil
}

func deliveryFee(subtotal decimal.Decimal, p FeePolicy) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(p.FreeDeliveryThreshold) {
		return decimal.Zero
	}
	return round2(p.DeliveryFee)
}

// round2 rounds half-up; callers only pass non-negative amounts, where
// decimal's half-away-from-zero rounding is the same thing.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
