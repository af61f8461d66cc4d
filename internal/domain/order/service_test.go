package order

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-orders/internal/clock"
	"github.com/xenking/oolio-orders/internal/domain/cart"
	"github.com/xenking/oolio-orders/internal/domain/quote"
	"github.com/xenking/oolio-orders/internal/domain/restaurant"
	"github.com/xenking/oolio-orders/internal/domain/tax"
)

// --- Mock implementations ---

type mockRestaurantRepo struct {
	byID map[string]*restaurant.Restaurant
	err  error
}

func (m *mockRestaurantRepo) GetByID(_ context.Context, id string) (*restaurant.Restaurant, error) {
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.byID[id]
	if !ok {
		return nil, restaurant.ErrNotFound
	}
	return r, nil
}

type mockOrderRepo struct {
	byID  map[string]*Order
	byKey map[string]string
	// beforeCreate runs ahead of each insert, e.g. to plant a competing order.
	beforeCreate func()
	createErr    error
	updateErr error
	creates   int
	updates   []StatusChange
}

func newOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{byID: map[string]*Order{}, byKey: map[string]string{}}
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if m.beforeCreate != nil {
		m.beforeCreate()
	}
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.byKey[o.IdempotencyKey]; ok {
		return ErrDuplicateOrder
	}
	m.creates++
	m.byID[o.ID] = Restore(*o, o.Lifecycle())
	m.byKey[o.IdempotencyKey] = o.ID
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return Restore(*o, o.Lifecycle()), nil
}

func (m *mockOrderRepo) GetByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	id, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, o *Order, change StatusChange, expectedVersion int) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	stored := m.byID[o.ID]
	if stored.Version() != expectedVersion {
		return ErrConcurrentUpdate
	}
	m.updates = append(m.updates, change)
	m.byID[o.ID] = Restore(*o, o.Lifecycle())
	return nil
}

type capturePublisher struct {
	events []StatusChanged
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, e StatusChanged) error {
	p.events = append(p.events, e)
	return p.err
}

// --- Helpers ---

// 2025-06-16 12:00 UTC is a Monday.
var now = time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)

func openAllWeek() restaurant.Hours {
	var h restaurant.Hours
	open, close := restaurant.MustTimeOfDay("08:00"), restaurant.MustTimeOfDay("22:00")
	for d := range h {
		h[d] = restaurant.DayHours{Open: &open, Close: &close}
	}
	return h
}

func newTestRestaurant() *restaurant.Restaurant {
	return &restaurant.Restaurant{
		ID:             "r1",
		Name:           "Slice",
		Region:         "Oregon",
		OffersDelivery: true,
		OffersPickup:   true,
		Hours:          openAllWeek(),
	}
}

type fixture struct {
	svc         *Service
	orders      *mockOrderRepo
	publisher   *capturePublisher
	restaurants *mockRestaurantRepo
}

func newFixture(t *testing.T, rs ...*restaurant.Restaurant) *fixture {
	t.Helper()
	if len(rs) == 0 {
		rs = []*restaurant.Restaurant{newTestRestaurant()}
	}
	byID := make(map[string]*restaurant.Restaurant, len(rs))
	for _, r := range rs {
		byID[r.ID] = r
	}

	f := &fixture{
		orders:      newOrderRepo(),
		publisher:   &capturePublisher{},
		restaurants: &mockRestaurantRepo{byID: byID},
	}
	svc, err := NewService(f.restaurants, f.orders, quote.NewCalculator(tax.Default()),
		WithPublisher(f.publisher),
		WithClock(clock.Fixed(now)),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func burgers() []cart.LineItem {
	return []cart.LineItem{{
		ItemID:    "burger",
		Name:      "Burger",
		UnitPrice: decimal.RequireFromString("9.00"),
		Quantity:  2,
	}}
}

func deliveryRequest() PlaceOrderRequest {
	return PlaceOrderRequest{
		Session:      Session{CustomerID: "c1", IdempotencyKey: "k1"},
		RestaurantID: "r1",
		Items:        burgers(),
		Fulfillment:  cart.Delivery,
		Address:      &Address{Line1: "1 Main St", City: "Los Angeles", Region: "California"},
		CustomerNote: "ring twice",
	}
}

// --- Tests ---

func TestPlaceOrder_Delivery(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.PlaceOrder(context.Background(), deliveryRequest())
	require.NoError(t, err)
	require.True(t, res.Created)

	o := res.Order
	assert.Equal(t, StatusNew, o.Status())
	assert.Equal(t, "c1", o.CustomerID)
	assert.Equal(t, "r1", o.RestaurantID)
	assert.Equal(t, "ring twice", o.CustomerNote)
	assert.Equal(t, now, o.CreatedAt)
	require.NotNil(t, o.Address)
	assert.Equal(t, "California", o.Address.Region)

	assert.Equal(t, "1.31", o.Quote.TaxAmount.StringFixed(2))
	assert.Equal(t, "4.49", o.Quote.DeliveryFee.StringFixed(2))
	assert.Equal(t, "23.80", o.Quote.Total.StringFixed(2))

	h := o.History()
	require.Len(t, h, 1)
	assert.Nil(t, h[0].From)
	assert.Equal(t, StatusNew, h[0].To)
	assert.Equal(t, 1, f.orders.creates)
}

func TestPlaceOrder_PickupIgnoresAddress(t *testing.T) {
	f := newFixture(t)

	req := deliveryRequest()
	req.Fulfillment = cart.Pickup

	res, err := f.svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	o := res.Order
	assert.Nil(t, o.Address)
	assert.Nil(t, o.Quote.DeliveryFee)
	assert.Equal(t, "0.00", o.Quote.TaxAmount.StringFixed(2))
	assert.Equal(t, "18.00", o.Quote.Total.StringFixed(2))
	assert.Equal(t, "Oregon", o.Quote.Region)
}

func TestPlaceOrder_FreezesCart(t *testing.T) {
	f := newFixture(t)

	req := deliveryRequest()
	res, err := f.svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	req.Items[0].Quantity = 10
	req.Address.Region = "Texas"

	assert.Equal(t, 2, res.Order.Items[0].Quantity)
	assert.Equal(t, "California", res.Order.Address.Region)
	assert.Equal(t, "23.80", res.Order.Quote.Total.StringFixed(2))
}

func TestPlaceOrder_Rejections(t *testing.T) {
	closed := newTestRestaurant()
	closed.ID = "closed"
	closed.Hours[time.Monday] = restaurant.DayHours{Closed: true}

	pickupOnly := newTestRestaurant()
	pickupOnly.ID = "pickup-only"
	pickupOnly.OffersDelivery = false

	tests := []struct {
		name    string
		mutate  func(*PlaceOrderRequest)
		wantErr error
	}{
		{
			name:    "restaurant closed",
			mutate:  func(r *PlaceOrderRequest) { r.RestaurantID = "closed" },
			wantErr: ErrRestaurantClosed,
		},
		{
			name:    "unsupported fulfillment",
			mutate:  func(r *PlaceOrderRequest) { r.RestaurantID = "pickup-only" },
			wantErr: ErrUnsupportedFulfillment,
		},
		{
			name:    "missing address",
			mutate:  func(r *PlaceOrderRequest) { r.Address = nil },
			wantErr: ErrMissingAddress,
		},
		{
			name:    "address without region",
			mutate:  func(r *PlaceOrderRequest) { r.Address.Region = "" },
			wantErr: ErrMissingAddress,
		},
		{
			name:    "note too long",
			mutate:  func(r *PlaceOrderRequest) { r.CustomerNote = strings.Repeat("é", MaxCustomerNoteLength+1) },
			wantErr: ErrNoteTooLong,
		},
		{
			name:    "empty cart",
			mutate:  func(r *PlaceOrderRequest) { r.Items = nil },
			wantErr: quote.ErrInvalidCart,
		},
		{
			name:    "missing customer",
			mutate:  func(r *PlaceOrderRequest) { r.Session.CustomerID = "" },
			wantErr: ErrMissingCustomer,
		},
		{
			name:    "unknown restaurant",
			mutate:  func(r *PlaceOrderRequest) { r.RestaurantID = "nope" },
			wantErr: restaurant.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, newTestRestaurant(), closed, pickupOnly)

			req := deliveryRequest()
			tt.mutate(&req)

			res, err := f.svc.PlaceOrder(context.Background(), req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
			assert.Zero(t, f.orders.creates)
		})
	}
}

func TestPlaceOrder_NoteAtLimit(t *testing.T) {
	f := newFixture(t)

	req := deliveryRequest()
	req.CustomerNote = strings.Repeat("a", MaxCustomerNoteLength)

	_, err := f.svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
}

func TestPlaceOrder_NoteTooLongDetails(t *testing.T) {
	f := newFixture(t)

	req := deliveryRequest()
	req.CustomerNote = strings.Repeat("a", 201)

	_, err := f.svc.PlaceOrder(context.Background(), req)

	var ntlErr *NoteTooLongError
	require.ErrorAs(t, err, &ntlErr)
	assert.Equal(t, 201, ntlErr.Length)
	assert.Equal(t, 200, ntlErr.Max)
}

func TestPlaceOrder_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.PlaceOrder(ctx, deliveryRequest())
	require.NoError(t, err)

	second, err := f.svc.PlaceOrder(ctx, deliveryRequest())
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 1, f.orders.creates)

	other := deliveryRequest()
	other.Session.CustomerID = "c2"
	_, err = f.svc.PlaceOrder(ctx, other)
	require.ErrorIs(t, err, ErrIdempotencyConflict)
}

func TestPlaceOrder_WithoutKeyCreatesEachTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := deliveryRequest()
	req.Session.IdempotencyKey = ""

	a, err := f.svc.PlaceOrder(ctx, req)
	require.NoError(t, err)
	b, err := f.svc.PlaceOrder(ctx, req)
	require.NoError(t, err)

	assert.NotEqual(t, a.Order.ID, b.Order.ID)
	assert.Equal(t, a.Order.ID, a.Order.IdempotencyKey)
	assert.Equal(t, 2, f.orders.creates)
}

func TestPlaceOrder_LostRaceToOtherCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Another customer's order lands under the same key between the replay
	// lookup and the insert.
	f.orders.beforeCreate = func() {
		f.orders.beforeCreate = nil
		rival := deliveryRequest()
		rival.Session.CustomerID = "c2"
		_, err := f.svc.PlaceOrder(ctx, rival)
		require.NoError(t, err)
	}

	_, err := f.svc.PlaceOrder(ctx, deliveryRequest())
	require.ErrorIs(t, err, ErrIdempotencyConflict)
	assert.Equal(t, 1, f.orders.creates)
}

func TestPlaceOrder_LostRaceToSameCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var winner *PlaceOrderResult
	f.orders.beforeCreate = func() {
		f.orders.beforeCreate = nil
		var err error
		winner, err = f.svc.PlaceOrder(ctx, deliveryRequest())
		require.NoError(t, err)
	}

	res, err := f.svc.PlaceOrder(ctx, deliveryRequest())
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, winner.Order.ID, res.Order.ID)
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	placed, err := f.svc.PlaceOrder(ctx, deliveryRequest())
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, placed.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, placed.Order.ID, got.ID)

	_, err = f.svc.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPlaceOrder_CreateError(t *testing.T) {
	f := newFixture(t)
	f.orders.createErr = errors.New("db write failed")

	_, err := f.svc.PlaceOrder(context.Background(), deliveryRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")
}

func TestTransition_PublishesEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.PlaceOrder(ctx, deliveryRequest())
	require.NoError(t, err)
	id := res.Order.ID

	for _, s := range []Status{StatusReceived, StatusPreparing, StatusOnTheWay, StatusDelivered} {
		_, err := f.svc.Transition(ctx, TransitionRequest{OrderID: id, Target: s, Actor: "restaurant"})
		require.NoError(t, err, "-> %s", s)
	}

	o, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, o.Status())
	assert.Len(t, o.History(), 5)

	require.Len(t, f.publisher.events, 4)
	last := f.publisher.events[3]
	assert.Equal(t, id, last.OrderID)
	assert.Equal(t, StatusOnTheWay, last.From)
	assert.Equal(t, StatusDelivered, last.To)
	assert.True(t, last.Terminal())
	assert.False(t, f.publisher.events[0].Terminal())
}

func TestTransition_CancelWithReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.PlaceOrder(ctx, deliveryRequest())
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, TransitionRequest{OrderID: res.Order.ID, Target: StatusCancelled})
	require.ErrorIs(t, err, ErrMissingReason)
	assert.Empty(t, f.publisher.events)

	o, err := f.svc.Transition(ctx, TransitionRequest{
		OrderID: res.Order.ID,
		Target:  StatusCancelled,
		Note:    "kitchen closed",
		Actor:   "restaurant",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status())
	assert.Equal(t, "kitchen closed", o.RestaurantNote())
	assert.Equal(t, "ring twice", o.CustomerNote)
	assert.Len(t, o.History(), 2)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, StatusNew, f.publisher.events[0].From)
	assert.Equal(t, StatusCancelled, f.publisher.events[0].To)
}

func TestTransition_Illegal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.PlaceOrder(ctx, deliveryRequest())
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, TransitionRequest{OrderID: res.Order.ID, Target: StatusDelivered})

	var itErr *IllegalTransitionError
	require.ErrorAs(t, err, &itErr)
	assert.Equal(t, StatusNew, itErr.From)
	assert.Empty(t, f.orders.updates)
}

func TestTransition_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Transition(context.Background(), TransitionRequest{OrderID: "missing", Target: StatusReceived})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransition_ConcurrentUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.PlaceOrder(ctx, deliveryRequest())
	require.NoError(t, err)

	f.orders.updateErr = ErrConcurrentUpdate
	_, err = f.svc.Transition(ctx, TransitionRequest{OrderID: res.Order.ID, Target: StatusReceived})
	require.ErrorIs(t, err, ErrConcurrentUpdate)
	assert.Empty(t, f.publisher.events)
}

func TestTransition_PublishFailureKeepsTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.PlaceOrder(ctx, deliveryRequest())
	require.NoError(t, err)

	f.publisher.err = errors.New("broker down")
	o, err := f.svc.Transition(ctx, TransitionRequest{OrderID: res.Order.ID, Target: StatusReceived})
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, o.Status())

	stored, err := f.svc.Get(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, stored.Status())
}

func TestQuote(t *testing.T) {
	f := newFixture(t)

	q, err := f.svc.Quote(context.Background(), QuoteRequest{
		RestaurantID:   "r1",
		Items:          burgers(),
		Fulfillment:    cart.Delivery,
		DeliveryRegion: "California",
	})
	require.NoError(t, err)
	assert.Equal(t, "23.80", q.Total.StringFixed(2))

	_, err = f.svc.Quote(context.Background(), QuoteRequest{RestaurantID: "missing"})
	require.ErrorIs(t, err, restaurant.ErrNotFound)
}

func TestAvailability(t *testing.T) {
	r := newTestRestaurant()
	r.OffersPickup = false
	f := newFixture(t, r)

	st, err := f.svc.Availability(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, restaurant.Status{Open: true, Delivery: true, Pickup: false}, st)
}
