package cart

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Fulfillment is how the customer receives the order.
type Fulfillment uint8

const (
	// Delivery brings the order to the customer's address.
	Delivery Fulfillment = iota + 1
	// Pickup has the customer collect the order at the restaurant.
	Pickup
)

// ErrUnknownFulfillment is returned when parsing an unrecognised choice.
var ErrUnknownFulfillment = errors.New("unknown fulfillment choice")

// ParseFulfillment parses the text form of a Fulfillment.
func ParseFulfillment(s string) (Fulfillment, error) {
	switch s {
	case "DELIVERY":
		return Delivery, nil
	case "PICKUP":
		return Pickup, nil
	default:
		return 0, errors.Wrapf(ErrUnknownFulfillment, "%q", s)
	}
}

func (f Fulfillment) String() string {
	switch f {
	case Delivery:
		return "DELIVERY"
	case Pickup:
		return "PICKUP"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether f is Delivery or Pickup.
func (f Fulfillment) Valid() bool {
	return f == Delivery || f == Pickup
}

// MarshalText implements encoding.TextMarshaler.
func (f Fulfillment) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, errors.Wrapf(ErrUnknownFulfillment, "%d", uint8(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fulfillment) UnmarshalText(b []byte) error {
	v, err := ParseFulfillment(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// LineItem is a single product line in a cart.
type LineItem struct {
	ItemID string `json:"item_id"`
	// RestaurantID optionally records which restaurant the item belongs to.
	RestaurantID string          `json:"restaurant_id,omitempty"`
	Name         string          `json:"name"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity"`
	SizeLabel    string          `json:"size_label,omitempty"`
}

// LineTotal returns UnitPrice * Quantity without rounding.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

func (li LineItem) sameLine(itemID, size string) bool {
	return li.ItemID == itemID && li.SizeLabel == size
}

// Cart is an ordered list of line items scoped to a single restaurant.
type Cart struct {
	RestaurantID string
	Items        []LineItem
}

// Add puts item into the cart. An item from a different restaurant replaces
// the cart contents. Adding an existing (item, size) line increases its
// quantity instead of creating a second line.
func (c *Cart) Add(restaurantID string, item LineItem) {
	if c.RestaurantID != restaurantID {
		c.RestaurantID = restaurantID
		c.Items = nil
	}
	item.RestaurantID = restaurantID

	for i := range c.Items {
		if c.Items[i].sameLine(item.ItemID, item.SizeLabel) {
			c.Items[i].Quantity += item.Quantity
			return
		}
	}
	c.Items = append(c.Items, item)
}

// SetQuantity changes the quantity of an existing line. A quantity of zero
// or less removes the line. It reports whether the line was found.
func (c *Cart) SetQuantity(itemID, size string, qty int) bool {
	for i := range c.Items {
		if !c.Items[i].sameLine(itemID, size) {
			continue
		}
		if qty <= 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
		} else {
			c.Items[i].Quantity = qty
		}
		return true
	}
	return false
}

// Remove deletes a line from the cart.
func (c *Cart) Remove(itemID, size string) bool {
	return c.SetQuantity(itemID, size, 0)
}

// Snapshot returns a copy of the items that shares no memory with the cart.
func (c *Cart) Snapshot() []LineItem {
	return Clone(c.Items)
}

// Clone copies a slice of line items.
func Clone(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}
