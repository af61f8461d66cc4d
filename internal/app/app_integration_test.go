//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/oolio-orders/internal/clock"
	"github.com/xenking/oolio-orders/internal/domain/auth"
	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/quote"
	"github.com/xenking/oolio-orders/internal/domain/restaurant"
	"github.com/xenking/oolio-orders/internal/domain/tax"
	"github.com/xenking/oolio-orders/internal/handler"
	"github.com/xenking/oolio-orders/internal/repository"
	"github.com/xenking/oolio-orders/pkg/health"
	"github.com/xenking/oolio-orders/pkg/httpmiddleware"
)

const (
	testAPIKey = "apitest"
	testPepper = "pepper"
)

type orderResponse struct {
	ID            string   `json:"id"`
	Status        string   `json:"status"`
	StatusVersion int      `json:"status_version"`
	NextStatuses  []string `json:"next_statuses"`
	Quote         struct {
		Subtotal    float64  `json:"subtotal"`
		TaxAmount   float64  `json:"tax_amount"`
		DeliveryFee *float64 `json:"delivery_fee"`
		Total       float64  `json:"total"`
	} `json:"quote"`
	History []struct {
		From *string `json:"from"`
		To   string  `json:"to"`
	} `json:"history"`
	RestaurantNote string `json:"restaurant_note"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// startServer runs the full router against a throwaway Postgres seeded with
// one California restaurant and an API key holding every scope.
func startServer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("orders"),
		postgres.WithUsername("orders"),
		postgres.WithPassword("orders"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := repository.NewPool(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, repository.RunMigrations(ctx, pool))

	restaurants := repository.NewRestaurantRepository(pool)
	apikeys := repository.NewAPIKeyRepository(pool)

	open, closing := restaurant.MustTimeOfDay("08:00"), restaurant.MustTimeOfDay("22:00")
	r := &restaurant.Restaurant{
		ID: "r1", Name: "Slice", Region: "California",
		OffersDelivery: true, OffersPickup: true, TimeZone: "UTC",
	}
	for d := range r.Hours {
		r.Hours[d] = restaurant.DayHours{Open: &open, Close: &closing}
	}
	require.NoError(t, restaurants.Save(ctx, r))
	require.NoError(t, apikeys.Upsert(ctx, &auth.APIKeyInfo{
		ID:      "kitchen",
		KeyHash: auth.HashKey(testPepper, testAPIKey),
		Name:    "Kitchen display",
		Scopes: []string{
			auth.ScopeQuote, auth.ScopePlaceOrder, auth.ScopeReadOrder,
			auth.ScopeManageOrders, auth.ScopeAvailability,
		},
	}))

	// 2025-06-16 12:00 UTC is a Monday.
	svc, err := order.NewService(restaurants, repository.NewOrderRepository(pool), quote.NewCalculator(tax.Default()),
		order.WithClock(clock.Fixed(time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC))),
	)
	require.NoError(t, err)

	h := health.New()
	h.Register(health.Check{Name: "postgres", Kind: health.Readiness, Timeout: time.Second, Func: health.PingCheck(pool)})
	h.SetReady(true)

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Orders:         svc,
		Auth:           auth.NewAuthenticator(apikeys, testPepper),
		Health:         h,
		Limiter:        httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{}),
		CORS:           CORSConfig{Origins: []string{"*"}},
		Logger:         zaptest.NewLogger(t),
		MeterProvider:  metricnoop.NewMeterProvider(),
		TracerProvider: tracenoop.NewTracerProvider(),
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func post(t *testing.T, url, body string, header ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(handler.APIKeyHeader, testAPIKey)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

const deliveryOrder = `{
	"restaurant_id": "r1",
	"customer_id": "c1",
	"fulfillment": "DELIVERY",
	"address": {"line1": "1 Main St", "city": "Los Angeles", "region": "California"},
	"items": [
		{"item_id": "burger", "name": "Burger", "unit_price": 9.00, "quantity": 2}
	]
}`

func TestEndToEnd_OrderLifecycle(t *testing.T) {
	base := startServer(t)

	resp := post(t, base+"/api/orders", deliveryOrder, handler.IdempotencyKeyHeader, "checkout-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	placed := decode[orderResponse](t, resp)

	assert.Equal(t, "NEW", placed.Status)
	// 18.00 subtotal, 7.25% tax, 4.49 fee below the free delivery threshold.
	assert.Equal(t, 18.00, placed.Quote.Subtotal)
	assert.Equal(t, 1.31, placed.Quote.TaxAmount)
	require.NotNil(t, placed.Quote.DeliveryFee)
	assert.Equal(t, 4.49, *placed.Quote.DeliveryFee)
	assert.Equal(t, 23.80, placed.Quote.Total)
	assert.Equal(t, []string{"RECEIVED", "CANCELLED"}, placed.NextStatuses)

	// Retrying the same checkout returns the original order.
	resp = post(t, base+"/api/orders", deliveryOrder, handler.IdempotencyKeyHeader, "checkout-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, placed.ID, decode[orderResponse](t, resp).ID)

	transitions := base + "/api/orders/" + placed.ID + "/transitions"
	for _, status := range []string{"RECEIVED", "PREPARING"} {
		resp = post(t, transitions, `{"status":"`+status+`"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, status)
		assert.Equal(t, status, decode[orderResponse](t, resp).Status)
	}

	resp = post(t, transitions, `{"status":"PICKED_UP"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "illegal_transition", decode[errorResponse](t, resp).Code)

	resp = post(t, transitions, `{"status":"CANCELLED","note":"  "}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "missing_reason", decode[errorResponse](t, resp).Code)

	resp = post(t, transitions, `{"status":"CANCELLED","note":"oven broke"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decode[orderResponse](t, resp)
	assert.Equal(t, "CANCELLED", cancelled.Status)
	assert.Equal(t, "oven broke", cancelled.RestaurantNote)
	assert.Empty(t, cancelled.NextStatuses)
	require.Len(t, cancelled.History, 4)
	assert.Nil(t, cancelled.History[0].From)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, base+"/api/orders/"+placed.ID, nil)
	require.NoError(t, err)
	req.Header.Set(handler.APIKeyHeader, testAPIKey)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 4, decode[orderResponse](t, resp).StatusVersion)
}

func TestEndToEnd_Rejections(t *testing.T) {
	base := startServer(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{
			name:   "empty cart",
			body:   `{"restaurant_id":"r1","customer_id":"c1","fulfillment":"PICKUP","items":[]}`,
			status: http.StatusBadRequest,
			code:   "invalid_cart",
		},
		{
			name:   "delivery without address",
			body:   `{"restaurant_id":"r1","customer_id":"c1","fulfillment":"DELIVERY","items":[{"item_id":"a","unit_price":1,"quantity":1}]}`,
			status: http.StatusUnprocessableEntity,
			code:   "missing_address",
		},
		{
			name:   "unknown restaurant",
			body:   `{"restaurant_id":"nope","customer_id":"c1","fulfillment":"PICKUP","items":[{"item_id":"a","unit_price":1,"quantity":1}]}`,
			status: http.StatusNotFound,
			code:   "restaurant_not_found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, base+"/api/orders", tt.body)
			require.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decode[errorResponse](t, resp).Code)
		})
	}

	resp := post(t, base+"/api/orders", deliveryOrder, handler.APIKeyHeader, "wrong-key")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestEndToEnd_Quote(t *testing.T) {
	base := startServer(t)

	resp := post(t, base+"/api/quotes", `{
		"restaurant_id": "r1",
		"fulfillment": "PICKUP",
		"items": [{"item_id": "burger", "unit_price": "9.00", "quantity": 2}]
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	q := decode[struct {
		DeliveryFee *float64 `json:"delivery_fee"`
		Total       float64  `json:"total"`
	}](t, resp)
	assert.Nil(t, q.DeliveryFee)
	assert.Equal(t, 19.31, q.Total)
}
