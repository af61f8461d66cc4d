package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xenking/oolio-orders/internal/domain/order"
)

// DefaultExchange is the topic exchange events are published to.
const DefaultExchange = "orders.events"

// Confirmation is the broker's pending answer for one delivery.
type Confirmation interface {
	// WaitContext blocks until the broker acks or nacks the delivery.
	WaitContext(ctx context.Context) (bool, error)
}

// Channel publishes one message and returns its confirmation. The
// confirmation is nil when the channel is not in confirm mode.
type Channel interface {
	Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (Confirmation, error)
}

type amqpChannel struct {
	ch *amqp.Channel
}

func (c amqpChannel) Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (Confirmation, error) {
	dc, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, nil
	}
	return dc, nil
}

// AMQP publishes status-changed events to a RabbitMQ topic exchange and
// waits for the broker confirm of each message.
type AMQP struct {
	ch       Channel
	exchange string
	conn     *amqp.Connection
}

var _ order.Publisher = (*AMQP)(nil)

// NewAMQP returns a publisher over an already prepared channel.
func NewAMQP(ch Channel, exchange string) *AMQP {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQP{ch: ch, exchange: exchange}
}

// DialAMQP connects to url, declares the durable topic exchange and puts
// the channel in confirm mode.
func DialAMQP(url, exchange string) (*AMQP, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %q", exchange)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "enable confirms")
	}

	p := NewAMQP(amqpChannel{ch: ch}, exchange)
	p.conn = conn
	return p, nil
}

// Publish sends e as a persistent JSON message keyed by RoutingKey and
// waits for the confirm of that delivery. Giving up on one confirm leaves
// later publishes unaffected.
func (p *AMQP) Publish(ctx context.Context, e order.StatusChanged) error {
	key := RoutingKey(e)
	msg := amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   "application/json",
		MessageId:     uuid.NewString(),
		CorrelationId: e.OrderID,
		Timestamp:     time.Now().UTC(),
		Type:          "order.status_changed",
		Headers: amqp.Table{
			"x-terminal": e.Terminal(),
		},
		Body: Encode(e),
	}
	conf, err := p.ch.Publish(ctx, p.exchange, key, msg)
	if err != nil {
		return errors.Wrapf(err, "publish %s", key)
	}
	if conf == nil {
		return nil
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "confirm %s", key)
	}
	if !acked {
		return errors.Errorf("broker nacked %s for order %s", key, e.OrderID)
	}
	return nil
}

// Ping reports an error when the broker connection is gone.
func (p *AMQP) Ping(context.Context) error {
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("amqp connection is closed")
	}
	return nil
}

// Close closes the broker connection, if any.
func (p *AMQP) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
