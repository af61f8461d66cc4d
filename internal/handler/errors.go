package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orders/internal/domain/auth"
	"github.com/xenking/oolio-orders/internal/domain/cart"
	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/quote"
	"github.com/xenking/oolio-orders/internal/domain/restaurant"
	"github.com/xenking/oolio-orders/pkg/httpmiddleware"
)

// errInvalidRequest marks malformed request bodies and parameters.
var errInvalidRequest = errors.New("invalid request")

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: the first matching sentinel wins.
var errorMappings = []errorMapping{
	{errInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{cart.ErrUnknownFulfillment, http.StatusBadRequest, "invalid_request"},
	{order.ErrUnknownStatus, http.StatusBadRequest, "invalid_request"},
	{quote.ErrInvalidCart, http.StatusBadRequest, "invalid_cart"},
	{auth.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{auth.ErrForbidden, http.StatusForbidden, "forbidden"},
	{order.ErrNotFound, http.StatusNotFound, "order_not_found"},
	{restaurant.ErrNotFound, http.StatusNotFound, "restaurant_not_found"},
	{order.ErrRestaurantClosed, http.StatusConflict, "restaurant_closed"},
	{order.ErrIllegalTransition, http.StatusConflict, "illegal_transition"},
	{order.ErrConcurrentUpdate, http.StatusConflict, "concurrent_update"},
	{order.ErrIdempotencyConflict, http.StatusConflict, "idempotency_conflict"},
	{order.ErrUnsupportedFulfillment, http.StatusUnprocessableEntity, "unsupported_fulfillment"},
	{order.ErrMissingAddress, http.StatusUnprocessableEntity, "missing_address"},
	{order.ErrMissingCustomer, http.StatusUnprocessableEntity, "missing_customer"},
	{order.ErrNoteTooLong, http.StatusUnprocessableEntity, "note_too_long"},
	{order.ErrMissingReason, http.StatusUnprocessableEntity, "missing_reason"},
}

// writeDomainError maps err onto a status and JSON error body. Unknown
// errors are logged and reported as 500 without details.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			httpmiddleware.WriteError(w, m.status, m.code, message(err, m.target))
			return
		}
	}

	zctx.From(ctx).Error("Request failed", zap.Error(err))
	httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal", "internal server error")
}

// message prefers the typed error text, which carries details such as the
// offending item, over wrapping context added by the service.
func message(err, target error) string {
	var (
		cartErr *quote.InvalidCartError
		fulErr  *order.UnsupportedFulfillmentError
		noteErr *order.NoteTooLongError
		itErr   *order.IllegalTransitionError
	)
	switch {
	case errors.As(err, &cartErr):
		return cartErr.Error()
	case errors.As(err, &fulErr):
		return fulErr.Error()
	case errors.As(err, &noteErr):
		return noteErr.Error()
	case errors.As(err, &itErr):
		return itErr.Error()
	case target == errInvalidRequest:
		return err.Error()
	}
	return target.Error()
}
