package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/oolio-orders/internal/domain/order"
)

// IdempotencyKeyHeader lets clients retry order placement safely.
const IdempotencyKeyHeader = "Idempotency-Key"

func (h *Handler) createQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, err := readBody(r)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	body, err := decodeQuote(d)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	q, err := h.orders.Quote(ctx, order.QuoteRequest{
		RestaurantID:   body.RestaurantID,
		Items:          body.Items,
		Fulfillment:    body.Fulfillment,
		DeliveryRegion: body.DeliveryRegion,
	})
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, q) })
}

// placeOrder creates an order. Replays of an earlier Idempotency-Key answer
// 200 with the original order instead of 201.
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, err := readBody(r)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	body, err := decodeOrder(d)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	customer := body.CustomerID
	if customer == "" {
		if info, ok := KeyFromContext(ctx); ok {
			customer = info.ID
		}
	}

	res, err := h.orders.PlaceOrder(ctx, order.PlaceOrderRequest{
		Session: order.Session{
			CustomerID:     customer,
			IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)),
		},
		RestaurantID: body.RestaurantID,
		Items:        body.Items,
		Fulfillment:  body.Fulfillment,
		Address:      body.Address,
		CustomerNote: body.CustomerNote,
	})
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if !res.Created {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/api/orders/"+res.Order.ID)
	writeJSON(w, status, func(e *jx.Encoder) { encodeOrder(e, res.Order) })
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, err := readBody(r)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	body, err := decodeTransition(d)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	actor := body.Actor
	if actor == "" {
		if info, ok := KeyFromContext(ctx); ok {
			actor = info.Name
		}
	}

	o, err := h.orders.Transition(ctx, order.TransitionRequest{
		OrderID: r.PathValue("id"),
		Target:  body.Status,
		Note:    body.Note,
		Actor:   actor,
	})
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, err := h.orders.Availability(r.Context(), id)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeAvailability(e, id, s) })
}
