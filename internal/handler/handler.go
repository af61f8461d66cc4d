// Package handler exposes the order service over JSON/HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/xenking/oolio-orders/internal/domain/auth"
	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/quote"
	"github.com/xenking/oolio-orders/internal/domain/restaurant"
)

// Orders is the service surface the handlers call. *order.Service
// implements it.
type Orders interface {
	Quote(ctx context.Context, req order.QuoteRequest) (quote.Quote, error)
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	Transition(ctx context.Context, req order.TransitionRequest) (*order.Order, error)
	Availability(ctx context.Context, restaurantID string) (restaurant.Status, error)
}

// Authenticator validates raw API keys. *auth.Authenticator implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

var _ Orders = (*order.Service)(nil)

// Handler serves the /api routes.
type Handler struct {
	orders Orders
	auth   Authenticator
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(orders Orders, authn Authenticator) *Handler {
	return &Handler{orders: orders, auth: authn}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/quotes", h.secure(auth.ScopeQuote, h.createQuote))
	mux.Handle("POST /api/orders", h.secure(auth.ScopePlaceOrder, h.placeOrder))
	mux.Handle("GET /api/orders/{id}", h.secure(auth.ScopeReadOrder, h.getOrder))
	mux.Handle("POST /api/orders/{id}/transitions", h.secure(auth.ScopeManageOrders, h.transitionOrder))
	mux.Handle("GET /api/restaurants/{id}/availability", h.secure(auth.ScopeAvailability, h.availability))
}
