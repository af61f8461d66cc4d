package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orders/internal/domain/cart"
	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/quote"
	"github.com/xenking/oolio-orders/internal/domain/restaurant"
)

const maxBodySize = 1 << 20

// Request bodies.

type quoteBody struct {
	RestaurantID   string
	Fulfillment    cart.Fulfillment
	DeliveryRegion string
	Items          []cart.LineItem
}

type orderBody struct {
	RestaurantID string
	CustomerID   string
	Fulfillment  cart.Fulfillment
	Address      *order.Address
	CustomerNote string
	Items        []cart.LineItem
}

type transitionBody struct {
	Status order.Status
	Note   string
	Actor  string
}

func readBody(r *http.Request) (*jx.Decoder, error) {
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(errInvalidRequest, "read body")
	}
	return jx.DecodeBytes(data), nil
}

func invalid(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errInvalidRequest) ||
		errors.Is(err, cart.ErrUnknownFulfillment) ||
		errors.Is(err, order.ErrUnknownStatus) {
		return err
	}
	return errors.Wrapf(errInvalidRequest, "%s: %s", what, err)
}

func decodeQuote(d *jx.Decoder) (quoteBody, error) {
	var b quoteBody
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "restaurant_id":
			b.RestaurantID, err = d.Str()
		case "fulfillment":
			b.Fulfillment, err = decodeFulfillment(d)
		case "delivery_region":
			b.DeliveryRegion, err = d.Str()
		case "items":
			b.Items, err = decodeItems(d)
		default:
			err = d.Skip()
		}
		return invalid(err, key)
	})
	return b, invalid(err, "quote")
}

func decodeOrder(d *jx.Decoder) (orderBody, error) {
	var b orderBody
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "restaurant_id":
			b.RestaurantID, err = d.Str()
		case "customer_id":
			b.CustomerID, err = d.Str()
		case "fulfillment":
			b.Fulfillment, err = decodeFulfillment(d)
		case "address":
			b.Address, err = decodeAddress(d)
		case "customer_note":
			b.CustomerNote, err = d.Str()
		case "items":
			b.Items, err = decodeItems(d)
		default:
			err = d.Skip()
		}
		return invalid(err, key)
	})
	return b, invalid(err, "order")
}

func decodeTransition(d *jx.Decoder) (transitionBody, error) {
	var b transitionBody
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			var s string
			if s, err = d.Str(); err == nil {
				b.Status, err = order.ParseStatus(s)
			}
		case "note":
			b.Note, err = d.Str()
		case "actor":
			b.Actor, err = d.Str()
		default:
			err = d.Skip()
		}
		return invalid(err, key)
	})
	return b, invalid(err, "transition")
}

func decodeFulfillment(d *jx.Decoder) (cart.Fulfillment, error) {
	s, err := d.Str()
	if err != nil {
		return 0, err
	}
	return cart.ParseFulfillment(s)
}

func decodeAddress(d *jx.Decoder) (*order.Address, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var a order.Address
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "line1":
			a.Line1, err = d.Str()
		case "line2":
			a.Line2, err = d.Str()
		case "city":
			a.City, err = d.Str()
		case "region":
			a.Region, err = d.Str()
		case "postal_code":
			a.PostalCode, err = d.Str()
		case "country":
			a.Country, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return &a, err
}

func decodeItems(d *jx.Decoder) ([]cart.LineItem, error) {
	var items []cart.LineItem
	err := d.Arr(func(d *jx.Decoder) error {
		var li cart.LineItem
		err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "item_id":
				li.ItemID, err = d.Str()
			case "restaurant_id":
				li.RestaurantID, err = d.Str()
			case "name":
				li.Name, err = d.Str()
			case "unit_price":
				li.UnitPrice, err = decodeDecimal(d)
			case "quantity":
				li.Quantity, err = d.Int()
			case "size_label":
				li.SizeLabel, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		})
		items = append(items, li)
		return err
	})
	return items, err
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(string(n))
	}
}

// Responses.

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func encodeQuote(e *jx.Encoder, q quote.Quote) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("subtotal", func(e *jx.Encoder) { money(e, q.Subtotal) })
		e.Field("tax_rate", func(e *jx.Encoder) { e.Num(jx.Num(q.TaxRate.String())) })
		e.Field("tax_amount", func(e *jx.Encoder) { money(e, q.TaxAmount) })
		e.Field("delivery_fee", func(e *jx.Encoder) {
			if q.DeliveryFee == nil {
				e.Null()
				return
			}
			money(e, *q.DeliveryFee)
		})
		e.Field("total", func(e *jx.Encoder) { money(e, q.Total) })
		e.Field("region", func(e *jx.Encoder) { e.Str(q.Region) })
	})
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Str(o.CustomerID) })
		e.Field("restaurant_id", func(e *jx.Encoder) { e.Str(o.RestaurantID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(o.Status().String()) })
		e.Field("status_version", func(e *jx.Encoder) { e.Int(o.Version()) })
		e.Field("fulfillment", func(e *jx.Encoder) { e.Str(o.Fulfillment.String()) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, li := range o.Items {
					encodeItem(e, li)
				}
			})
		})
		if o.Address != nil {
			e.Field("address", func(e *jx.Encoder) { encodeAddress(e, o.Address) })
		}
		e.Field("quote", func(e *jx.Encoder) { encodeQuote(e, o.Quote) })
		if o.CustomerNote != "" {
			e.Field("customer_note", func(e *jx.Encoder) { e.Str(o.CustomerNote) })
		}
		if note := o.RestaurantNote(); note != "" {
			e.Field("restaurant_note", func(e *jx.Encoder) { e.Str(note) })
		}
		e.Field("history", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, ch := range o.History() {
					encodeChange(e, ch)
				}
			})
		})
		e.Field("next_statuses", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, s := range o.NextStatuses() {
					e.Str(s.String())
				}
			})
		})
		e.Field("created_at", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		e.Field("updated_at", func(e *jx.Encoder) { encodeTime(e, o.UpdatedAt()) })
	})
}

func encodeItem(e *jx.Encoder, li cart.LineItem) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("item_id", func(e *jx.Encoder) { e.Str(li.ItemID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(li.Name) })
		e.Field("unit_price", func(e *jx.Encoder) { money(e, li.UnitPrice) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(li.Quantity) })
		if li.SizeLabel != "" {
			e.Field("size_label", func(e *jx.Encoder) { e.Str(li.SizeLabel) })
		}
		e.Field("line_total", func(e *jx.Encoder) { money(e, li.LineTotal()) })
	})
}

func encodeAddress(e *jx.Encoder, a *order.Address) {
	e.Obj(func(e *jx.Encoder) {
		field := func(name, v string) {
			if v != "" {
				e.Field(name, func(e *jx.Encoder) { e.Str(v) })
			}
		}
		field("line1", a.Line1)
		field("line2", a.Line2)
		field("city", a.City)
		field("region", a.Region)
		field("postal_code", a.PostalCode)
		field("country", a.Country)
	})
}

func encodeChange(e *jx.Encoder, ch order.StatusChange) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("from", func(e *jx.Encoder) {
			if ch.From == nil {
				e.Null()
				return
			}
			e.Str(ch.From.String())
		})
		e.Field("to", func(e *jx.Encoder) { e.Str(ch.To.String()) })
		e.Field("at", func(e *jx.Encoder) { encodeTime(e, ch.At) })
		if ch.Actor != "" {
			e.Field("actor", func(e *jx.Encoder) { e.Str(ch.Actor) })
		}
		if ch.Note != "" {
			e.Field("note", func(e *jx.Encoder) { e.Str(ch.Note) })
		}
	})
}

func encodeAvailability(e *jx.Encoder, id string, s restaurant.Status) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("restaurant_id", func(e *jx.Encoder) { e.Str(id) })
		e.Field("open", func(e *jx.Encoder) { e.Bool(s.Open) })
		e.Field("delivery", func(e *jx.Encoder) { e.Bool(s.Delivery) })
		e.Field("pickup", func(e *jx.Encoder) { e.Bool(s.Pickup) })
	})
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
