package order

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orders/internal/clock"
	"github.com/xenking/oolio-orders/internal/domain/cart"
	"github.com/xenking/oolio-orders/internal/domain/quote"
	"github.com/xenking/oolio-orders/internal/domain/restaurant"
)

// MaxCustomerNoteLength is the maximum number of characters in a customer note.
const MaxCustomerNoteLength = 200

// Session identifies the customer checkout attempt placing an order.
type Session struct {
	CustomerID string
	// IdempotencyKey makes repeated placement of the same checkout return
	// the original order. Empty disables replay detection.
	IdempotencyKey string
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Session      Session
	RestaurantID string
	Items        []cart.LineItem
	Fulfillment  cart.Fulfillment
	Address      *Address
	CustomerNote string
}

// PlaceOrderResult holds the output of a placed order.
type PlaceOrderResult struct {
	Order *Order
	// Created is false when an earlier order with the same idempotency key
	// was returned.
	Created bool
}

// QuoteRequest holds the input for a live quote.
type QuoteRequest struct {
	RestaurantID   string
	Items          []cart.LineItem
	Fulfillment    cart.Fulfillment
	DeliveryRegion string
}

// TransitionRequest asks to move an order to Target.
type TransitionRequest struct {
	OrderID string
	Target  Status
	// Note is the cancellation reason; required when Target is cancelled.
	Note  string
	Actor string
}

// Service orchestrates quoting, placement and status transitions.
type Service struct {
	restaurants restaurant.Repository
	orders      Repository
	calc        *quote.Calculator
	publisher   Publisher
	clock       clock.Clock
	tracer      trace.Tracer

	placed      metric.Int64Counter
	transitions metric.Int64Counter
	rejected    metric.Int64Counter
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	publisher      Publisher
	clock          clock.Clock
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// WithPublisher sets where status-changed events are sent.
func WithPublisher(p Publisher) Option {
	return func(o *serviceOptions) { o.publisher = p }
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(o *serviceOptions) { o.clock = c }
}

// WithMeterProvider sets the meter provider for order counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *serviceOptions) { o.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider for service spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *serviceOptions) { o.tracerProvider = tp }
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	restaurants restaurant.Repository,
	orders Repository,
	calc *quote.Calculator,
	opts ...Option,
) (*Service, error) {
	o := serviceOptions{
		publisher:      discard,
		clock:          clock.System(),
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	const scope = "github.com/xenking/oolio-orders/internal/domain/order"
	meter := o.meterProvider.Meter(scope)

	s := &Service{
		restaurants: restaurants,
		orders:      orders,
		calc:        calc,
		publisher:   o.publisher,
		clock:       o.clock,
		tracer:      o.tracerProvider.Tracer(scope),
	}

	var err error
	if s.placed, err = meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders created")); err != nil {
		return nil, errors.Wrap(err, "orders.placed counter")
	}
	if s.transitions, err = meter.Int64Counter("orders.transitions",
		metric.WithDescription("Successful order status transitions")); err != nil {
		return nil, errors.Wrap(err, "orders.transitions counter")
	}
	if s.rejected, err = meter.Int64Counter("orders.rejected",
		metric.WithDescription("Placement and transition attempts rejected by validation")); err != nil {
		return nil, errors.Wrap(err, "orders.rejected counter")
	}
	return s, nil
}

// Quote loads the restaurant and prices the cart. It has no side effects.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (quote.Quote, error) {
	ctx, span := s.tracer.Start(ctx, "order.Quote")
	defer span.End()

	r, err := s.restaurants.GetByID(ctx, req.RestaurantID)
	if err != nil {
		return quote.Quote{}, endSpan(span, errors.Wrap(err, "get restaurant"))
	}

	q, err := s.calc.Compute(quote.Input{
		Items:          req.Items,
		Fulfillment:    req.Fulfillment,
		DeliveryRegion: req.DeliveryRegion,
		Restaurant:     r.QuoteTerms(),
	})
	if err != nil {
		return quote.Quote{}, endSpan(span, err)
	}
	return q, nil
}

// Availability evaluates the restaurant's open-now and fulfillment gates.
func (s *Service) Availability(ctx context.Context, restaurantID string) (restaurant.Status, error) {
	r, err := s.restaurants.GetByID(ctx, restaurantID)
	if err != nil {
		return restaurant.Status{}, errors.Wrap(err, "get restaurant")
	}
	return restaurant.Availability(r, s.clock.Now()), nil
}

// PlaceOrder validates the request against the restaurant's gates, freezes a
// quote, and persists a new order in the NEW status. A repeated request with
// the same idempotency key returns the original order.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(attribute.String("restaurant.id", req.RestaurantID)))
	defer span.End()

	if req.Session.CustomerID == "" {
		return nil, endSpan(span, ErrMissingCustomer)
	}

	if key := req.Session.IdempotencyKey; key != "" {
		res, err := s.replay(ctx, req.Session)
		if err != nil || res != nil {
			return res, endSpan(span, err)
		}
	}

	r, err := s.restaurants.GetByID(ctx, req.RestaurantID)
	if err != nil {
		return nil, endSpan(span, errors.Wrap(err, "get restaurant"))
	}

	now := s.clock.Now()
	if err := s.checkPlacement(r, req, now); err != nil {
		s.reject(ctx, "place", err)
		return nil, endSpan(span, err)
	}

	var region string
	if req.Fulfillment == cart.Delivery {
		region = req.Address.Region
	}
	q, err := s.calc.Compute(quote.Input{
		Items:          req.Items,
		Fulfillment:    req.Fulfillment,
		DeliveryRegion: region,
		Restaurant:     r.QuoteTerms(),
	})
	if err != nil {
		s.reject(ctx, "place", err)
		return nil, endSpan(span, err)
	}

	id := uuid.New().String()
	key := req.Session.IdempotencyKey
	if key == "" {
		key = id
	}

	var addr *Address
	if req.Fulfillment == cart.Delivery {
		a := *req.Address
		addr = &a
	}

	o := newOrder(Order{
		ID:             id,
		CustomerID:     req.Session.CustomerID,
		RestaurantID:   r.ID,
		IdempotencyKey: key,
		Items:          cart.Clone(req.Items),
		Fulfillment:    req.Fulfillment,
		Address:        addr,
		Quote:          q,
		CustomerNote:   req.CustomerNote,
		CreatedAt:      now,
	}, "customer")

	if err := s.orders.Create(ctx, o); err != nil {
		if errors.Is(err, ErrDuplicateOrder) && req.Session.IdempotencyKey != "" {
			// A concurrent placement with the same key won the race.
			res, rerr := s.replay(ctx, req.Session)
			if rerr != nil {
				return nil, endSpan(span, rerr)
			}
			if res != nil {
				return res, nil
			}
		}
		return nil, endSpan(span, errors.Wrap(err, "create order"))
	}

	s.placed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("fulfillment", req.Fulfillment.String()),
	))
	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("restaurant_id", o.RestaurantID),
		zap.Stringer("fulfillment", o.Fulfillment),
		zap.String("total", o.Quote.Total.StringFixed(2)),
	)

	return &PlaceOrderResult{Order: o, Created: true}, nil
}

// checkPlacement applies the restaurant gates and request validation in the
// order callers see them: closed, unsupported, address, note.
func (s *Service) checkPlacement(r *restaurant.Restaurant, req PlaceOrderRequest, now time.Time) error {
	if !restaurant.IsOpenNow(r, now) {
		return ErrRestaurantClosed
	}
	if !restaurant.IsAvailable(r, req.Fulfillment) {
		return &UnsupportedFulfillmentError{RestaurantID: r.ID, Fulfillment: req.Fulfillment}
	}
	if req.Fulfillment == cart.Delivery && (req.Address == nil || req.Address.Region == "") {
		return ErrMissingAddress
	}
	if n := utf8.RuneCountInString(req.CustomerNote); n > MaxCustomerNoteLength {
		return &NoteTooLongError{Length: n, Max: MaxCustomerNoteLength}
	}
	return nil
}

// replay returns the order already placed under the session's idempotency
// key, or nil when there is none.
func (s *Service) replay(ctx context.Context, sess Session) (*PlaceOrderResult, error) {
	existing, err := s.orders.GetByIdempotencyKey(ctx, sess.IdempotencyKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order by idempotency key")
	}
	if existing.CustomerID != sess.CustomerID {
		return nil, ErrIdempotencyConflict
	}
	return &PlaceOrderResult{Order: existing, Created: false}, nil
}

// Get returns an order by ID.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Get",
		trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, endSpan(span, err)
	}
	return o, nil
}

// Transition moves an order to the requested status and publishes a
// status-changed event. Illegal targets and missing cancellation reasons
// are logged and returned without retrying.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Transition",
		trace.WithAttributes(
			attribute.String("order.id", req.OrderID),
			attribute.String("order.target", req.Target.String()),
		))
	defer span.End()

	o, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, endSpan(span, errors.Wrap(err, "get order"))
	}

	expected := o.Version()
	change, err := o.Transition(req.Target, req.Note, req.Actor, s.clock.Now())
	if err != nil {
		s.reject(ctx, "transition", err)
		return nil, endSpan(span, err)
	}

	if err := s.orders.UpdateStatus(ctx, o, change, expected); err != nil {
		if errors.Is(err, ErrConcurrentUpdate) {
			zctx.From(ctx).Warn("Order changed concurrently",
				zap.String("order_id", o.ID),
				zap.Int("expected_version", expected),
			)
			return nil, endSpan(span, err)
		}
		return nil, endSpan(span, errors.Wrap(err, "update order status"))
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("to", change.To.String()),
	))

	event := StatusChanged{
		OrderID:      o.ID,
		CustomerID:   o.CustomerID,
		RestaurantID: o.RestaurantID,
		From:         *change.From,
		To:           change.To,
		At:           change.At,
		Note:         change.Note,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		zctx.From(ctx).Error("Publish status change",
			zap.String("order_id", o.ID),
			zap.Stringer("to", change.To),
			zap.Error(err),
		)
	}

	return o, nil
}

// reject logs and counts a validation failure.
func (s *Service) reject(ctx context.Context, op string, err error) {
	s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))

	lg := zctx.From(ctx)
	if errors.Is(err, ErrIllegalTransition) || errors.Is(err, ErrMissingReason) {
		lg.Warn("Transition rejected", zap.String("op", op), zap.Error(err))
		return
	}
	lg.Debug("Request rejected", zap.String("op", op), zap.Error(err))
}

func endSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
