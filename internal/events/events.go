// Package events delivers order status-changed events.
package events

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orders/internal/domain/order"
)

// RoutingKey returns the topic routing key for e, e.g.
// "order.status.on_the_way".
func RoutingKey(e order.StatusChanged) string {
	return "order.status." + strings.ToLower(e.To.String())
}

// Encode renders e as the JSON message body.
func Encode(e order.StatusChanged) []byte {
	var enc jx.Encoder
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("order_id", func(enc *jx.Encoder) { enc.Str(e.OrderID) })
		enc.Field("customer_id", func(enc *jx.Encoder) { enc.Str(e.CustomerID) })
		enc.Field("restaurant_id", func(enc *jx.Encoder) { enc.Str(e.RestaurantID) })
		enc.Field("from", func(enc *jx.Encoder) { enc.Str(e.From.String()) })
		enc.Field("to", func(enc *jx.Encoder) { enc.Str(e.To.String()) })
		enc.Field("at", func(enc *jx.Encoder) { enc.Str(e.At.UTC().Format(time.RFC3339Nano)) })
		if e.Note != "" {
			enc.Field("note", func(enc *jx.Encoder) { enc.Str(e.Note) })
		}
		enc.Field("terminal", func(enc *jx.Encoder) { enc.Bool(e.Terminal()) })
	})
	return enc.Bytes()
}

// Log is a Publisher that only logs events. It is used when no broker is
// configured.
type Log struct{}

// Publish logs e at Info.
func (Log) Publish(ctx context.Context, e order.StatusChanged) error {
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", e.OrderID),
		zap.Stringer("from", e.From),
		zap.Stringer("to", e.To),
		zap.Bool("terminal", e.Terminal()),
	)
	return nil
}
